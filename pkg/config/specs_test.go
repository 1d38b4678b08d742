package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitSpecs() Specs {
	return Specs{
		"waiting_time": FloatParam{ParamMeta: ParamMeta{Default: 3.0}, Min: Ptr(0.0)},
		"index":        IntParam{ParamMeta: ParamMeta{Default: 1}, Min: Ptr(1), Max: Ptr(2)},
		"label":        StringParam{ParamMeta: ParamMeta{Optional: true}, AllowedValues: []string{"a", "b"}},
		"flag":         BoolParam{ParamMeta: ParamMeta{Default: true}},
		"tags":         SetParam{ParamMeta: ParamMeta{Optional: true}},
		"resource_id":  ModelRefParam{ModelType: "resource"},
	}
}

func TestSpecs_Build_FillsDefaultsAndCoerces(t *testing.T) {
	params, err := waitSpecs().Build(map[string]any{
		"resource_id": "r1",
		"index":       float64(2),
		"tags":        []any{"b", "a", "b"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3.0, params.Float("waiting_time"))
	assert.Equal(t, 2, params.Int("index"))
	assert.True(t, params.Bool("flag"))
	assert.Equal(t, []string{"a", "b"}, params.Strings("tags"))
	assert.Equal(t, "r1", params.String("resource_id"))
	assert.False(t, params.Has("label"))
}

func TestSpecs_Build_MissingMandatory(t *testing.T) {
	_, err := waitSpecs().Build(map[string]any{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "resource_id")
}

func TestSpecs_Build_RejectsOutOfRangeAndUnknown(t *testing.T) {
	_, err := waitSpecs().Build(map[string]any{"resource_id": "r1", "index": 3})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = waitSpecs().Build(map[string]any{"resource_id": "r1", "label": "c"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = waitSpecs().Build(map[string]any{"resource_id": "r1", "unknown": 1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = waitSpecs().Build(map[string]any{"resource_id": "r1", "index": 1.5})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParams_Decode(t *testing.T) {
	params, err := waitSpecs().Build(map[string]any{"resource_id": "r1"})
	require.NoError(t, err)

	var decoded struct {
		WaitingTime float64 `mapstructure:"waiting_time"`
		Index       int     `mapstructure:"index"`
		ResourceID  string  `mapstructure:"resource_id"`
	}

	require.NoError(t, params.Decode(&decoded))
	assert.Equal(t, 3.0, decoded.WaitingTime)
	assert.Equal(t, 1, decoded.Index)
	assert.Equal(t, "r1", decoded.ResourceID)
}

func TestSpecs_Schema(t *testing.T) {
	schema := waitSpecs().Schema()

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"resource_id"}, schema["required"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, props, 6)
}

func TestIntParam_Coerce(t *testing.T) {
	v, err := IntParam{}.Coerce(float64(4))
	require.NoError(t, err)
	assert.Equal(t, 4, v)

	_, err = IntParam{}.Coerce("4")
	assert.ErrorIs(t, err, ErrInvalidValue)
}
