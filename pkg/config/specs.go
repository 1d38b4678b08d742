package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/xeipuuv/gojsonschema"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError lists every problem found in a configuration map.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidConfig, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Specs declares the parameters of a task.
type Specs map[string]ParamSpec

// Names returns the parameter names sorted.
func (s Specs) Names() []string {
	return slices.Sorted(maps.Keys(s))
}

// Schema returns the JSON schema of a configuration object.
func (s Specs) Schema() map[string]any {
	properties := make(map[string]any, len(s))
	required := []string{}

	for _, name := range s.Names() {
		spec := s[name]
		properties[name] = spec.Schema()

		if !spec.Meta().Optional && spec.Meta().Default == nil {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

// WithDefaults returns a copy of values completed with declared defaults.
func (s Specs) WithDefaults(values map[string]any) map[string]any {
	out := make(map[string]any, len(s))

	for name, value := range values {
		if value != nil {
			out[name] = value
		}
	}

	for name, spec := range s {
		if _, ok := out[name]; !ok && spec.Meta().Default != nil {
			out[name] = spec.Meta().Default
		}
	}

	return out
}

// Build validates raw values against the specs and returns typed params.
func (s Specs) Build(values map[string]any) (Params, error) {
	filled := s.WithDefaults(values)

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(s.Schema()), gojsonschema.NewGoLoader(filled))
	if err != nil {
		return nil, fmt.Errorf("failed to validate configuration: %w", err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return nil, &ValidationError{Problems: problems}
	}

	params := make(Params, len(filled))

	for name, value := range filled {
		typed, err := s[name].Coerce(value)
		if err != nil {
			return nil, &ValidationError{Problems: []string{fmt.Sprintf("%s: %v", name, err)}}
		}

		params[name] = typed
	}

	return params, nil
}

// Params is a validated configuration.
type Params map[string]any

func (p Params) Has(name string) bool {
	_, ok := p[name]

	return ok
}

func (p Params) Int(name string) int {
	v, _ := p[name].(int)

	return v
}

func (p Params) Float(name string) float64 {
	v, _ := p[name].(float64)

	return v
}

func (p Params) String(name string) string {
	v, _ := p[name].(string)

	return v
}

func (p Params) Bool(name string) bool {
	v, _ := p[name].(bool)

	return v
}

func (p Params) Strings(name string) []string {
	v, _ := p[name].([]string)

	return v
}

// Decode copies the params into a struct using mapstructure tags.
func (p Params) Decode(out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create params decoder: %w", err)
	}

	if err := decoder.Decode(map[string]any(p)); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}

	return nil
}
