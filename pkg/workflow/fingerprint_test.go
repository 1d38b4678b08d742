package workflow

import (
	"testing"

	"github.com/dukex/labflow/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	newProcess := func() *models.ProcessModel {
		return models.NewTaskModel("p", "text.upper",
			[]models.PortSpec{{Name: "text"}}, nil,
			map[string]any{"b": 2, "a": "x"})
	}

	base := Fingerprint(newProcess())
	assert.Len(t, base, 64)
	assert.Equal(t, base, Fingerprint(newProcess()))

	changedConfig := newProcess()
	changedConfig.Config["a"] = "y"
	assert.NotEqual(t, base, Fingerprint(changedConfig))

	bound := newProcess()
	bound.Input("text").ResourceID = "res-1"
	assert.NotEqual(t, base, Fingerprint(bound))

	retyped := newProcess()
	retyped.Typing = "text.create"
	assert.NotEqual(t, base, Fingerprint(retyped))
}
