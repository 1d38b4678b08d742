// Package config declares task parameters as a tagged union of parameter specs
// and builds validated parameter sets from raw configuration maps.
package config

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// ParamKind tags the variant of a parameter spec.
type ParamKind string

const (
	KindInt      ParamKind = "int"
	KindFloat    ParamKind = "float"
	KindString   ParamKind = "string"
	KindBool     ParamKind = "bool"
	KindSet      ParamKind = "set"
	KindModelRef ParamKind = "model_ref"
)

var ErrInvalidValue = errors.New("invalid parameter value")

// ParamSpec is implemented by every parameter variant.
type ParamSpec interface {
	Kind() ParamKind
	Meta() ParamMeta
	// Schema returns the JSON schema fragment of the parameter.
	Schema() map[string]any
	// Coerce converts a decoded JSON value into the Go type of the parameter.
	Coerce(value any) (any, error)
}

// ParamMeta carries the attributes shared by all variants.
type ParamMeta struct {
	HumanName        string `json:"human_name,omitempty"`
	ShortDescription string `json:"short_description,omitempty"`
	Optional         bool   `json:"optional,omitempty"`
	Default          any    `json:"default,omitempty"`
}

func (m ParamMeta) Meta() ParamMeta { return m }

func (m ParamMeta) decorate(schema map[string]any) map[string]any {
	if m.HumanName != "" {
		schema["title"] = m.HumanName
	}

	if m.ShortDescription != "" {
		schema["description"] = m.ShortDescription
	}

	if m.Default != nil {
		schema["default"] = m.Default
	}

	return schema
}

type IntParam struct {
	ParamMeta

	Min           *int
	Max           *int
	AllowedValues []int
}

func (p IntParam) Kind() ParamKind { return KindInt }

func (p IntParam) Schema() map[string]any {
	schema := map[string]any{"type": "integer"}
	if p.Min != nil {
		schema["minimum"] = *p.Min
	}

	if p.Max != nil {
		schema["maximum"] = *p.Max
	}

	if len(p.AllowedValues) > 0 {
		schema["enum"] = p.AllowedValues
	}

	return p.decorate(schema)
}

func (p IntParam) Coerce(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("%w: %v is not an integer", ErrInvalidValue, v)
		}

		return int(v), nil
	default:
		return nil, fmt.Errorf("%w: %T is not an integer", ErrInvalidValue, value)
	}
}

type FloatParam struct {
	ParamMeta

	Min *float64
	Max *float64
}

func (p FloatParam) Kind() ParamKind { return KindFloat }

func (p FloatParam) Schema() map[string]any {
	schema := map[string]any{"type": "number"}
	if p.Min != nil {
		schema["minimum"] = *p.Min
	}

	if p.Max != nil {
		schema["maximum"] = *p.Max
	}

	return p.decorate(schema)
}

func (p FloatParam) Coerce(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return nil, fmt.Errorf("%w: %T is not a number", ErrInvalidValue, value)
	}
}

type StringParam struct {
	ParamMeta

	AllowedValues []string
	MinLength     int
}

func (p StringParam) Kind() ParamKind { return KindString }

func (p StringParam) Schema() map[string]any {
	schema := map[string]any{"type": "string"}
	if len(p.AllowedValues) > 0 {
		schema["enum"] = p.AllowedValues
	}

	if p.MinLength > 0 {
		schema["minLength"] = p.MinLength
	}

	return p.decorate(schema)
}

func (p StringParam) Coerce(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a string", ErrInvalidValue, value)
	}

	return s, nil
}

type BoolParam struct {
	ParamMeta
}

func (p BoolParam) Kind() ParamKind { return KindBool }

func (p BoolParam) Schema() map[string]any {
	return p.decorate(map[string]any{"type": "boolean"})
}

func (p BoolParam) Coerce(value any) (any, error) {
	b, ok := value.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a boolean", ErrInvalidValue, value)
	}

	return b, nil
}

// SetParam holds a set of distinct strings, optionally restricted to allowed values.
type SetParam struct {
	ParamMeta

	AllowedValues []string
}

func (p SetParam) Kind() ParamKind { return KindSet }

func (p SetParam) Schema() map[string]any {
	items := map[string]any{"type": "string"}
	if len(p.AllowedValues) > 0 {
		items["enum"] = p.AllowedValues
	}

	return p.decorate(map[string]any{"type": "array", "items": items, "uniqueItems": true})
}

func (p SetParam) Coerce(value any) (any, error) {
	var out []string

	switch v := value.(type) {
	case []string:
		out = slices.Clone(v)
	case []any:
		out = make([]string, 0, len(v))

		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: set item %T is not a string", ErrInvalidValue, item)
			}

			out = append(out, s)
		}
	default:
		return nil, fmt.Errorf("%w: %T is not a set", ErrInvalidValue, value)
	}

	slices.Sort(out)

	return slices.Compact(out), nil
}

// ModelRefParam references a persisted model (a resource) by id.
type ModelRefParam struct {
	ParamMeta

	ModelType string
}

func (p ModelRefParam) Kind() ParamKind { return KindModelRef }

func (p ModelRefParam) Schema() map[string]any {
	schema := map[string]any{"type": "string", "minLength": 1}
	if p.ModelType != "" {
		schema["x-model-type"] = p.ModelType
	}

	return p.decorate(schema)
}

func (p ModelRefParam) Coerce(value any) (any, error) {
	s, ok := value.(string)
	if !ok || s == "" {
		return nil, fmt.Errorf("%w: model reference must be a non-empty id", ErrInvalidValue)
	}

	return s, nil
}

// Ptr is a helper for optional numeric bounds.
func Ptr[T any](v T) *T {
	return &v
}
