package resources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText_Binary(t *testing.T) {
	data, err := NewText("hello").MarshalBinary()
	require.NoError(t, err)

	var decoded Text
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Equal(t, "hello", decoded.Value)
	assert.Empty(t, decoded.ResourceID())
}

func TestJSON_Binary(t *testing.T) {
	data, err := NewJSON(map[string]any{"count": 2.0}).MarshalBinary()
	require.NoError(t, err)

	var decoded JSON
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Equal(t, 2.0, decoded.Data["count"])

	assert.Error(t, decoded.UnmarshalBinary([]byte("{")))
}

func TestFactories(t *testing.T) {
	factories := Factories()
	require.Len(t, factories, 2)

	for _, f := range factories {
		assert.Equal(t, f.Type(), f.New().ResourceType())
	}
}
