package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     any
		expected string
	}{
		{"plain", "hello", nil, "hello"},
		{"field", "{{.left}}-{{.right}}", map[string]string{"left": "a", "right": "b"}, "a-b"},
		{"functions", "{{upper .v}} {{lower .v}} [{{trim .s}}]", map[string]string{"v": "Ab", "s": "  x "}, "AB ab [x]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Render(tt.template, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestRender_Errors(t *testing.T) {
	_, err := Render("{{.missing", nil)
	require.ErrorContains(t, err, "failed to parse template")

	_, err = Render("{{.missing}}", map[string]string{})
	require.ErrorContains(t, err, "failed to execute template")
}

func TestNeedsTemplating(t *testing.T) {
	assert.True(t, NeedsTemplating("{{.text}}"))
	assert.False(t, NeedsTemplating("plain"))
	assert.False(t, NeedsTemplating("{{ open"))
}
