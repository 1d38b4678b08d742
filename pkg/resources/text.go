// Package resources provides the built-in resource types.
package resources

import (
	"encoding/json"
	"fmt"

	"github.com/dukex/labflow/pkg/protocol"
)

const (
	TextType = "text"
	JSONType = "json"
)

// Text is a plain UTF-8 text resource.
type Text struct {
	protocol.BaseResource

	Value string
}

func NewText(value string) *Text {
	return &Text{Value: value}
}

func (t *Text) ResourceType() string {
	return TextType
}

func (t *Text) MarshalBinary() ([]byte, error) {
	return []byte(t.Value), nil
}

func (t *Text) UnmarshalBinary(data []byte) error {
	t.Value = string(data)

	return nil
}

// JSON is a structured document resource.
type JSON struct {
	protocol.BaseResource

	Data map[string]any
}

func NewJSON(data map[string]any) *JSON {
	return &JSON{Data: data}
}

func (j *JSON) ResourceType() string {
	return JSONType
}

func (j *JSON) MarshalBinary() ([]byte, error) {
	data, err := json.Marshal(j.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json resource: %w", err)
	}

	return data, nil
}

func (j *JSON) UnmarshalBinary(data []byte) error {
	if err := json.Unmarshal(data, &j.Data); err != nil {
		return fmt.Errorf("failed to unmarshal json resource: %w", err)
	}

	return nil
}

// Factories returns the factories of the built-in resource types.
func Factories() []protocol.ResourceFactory {
	return []protocol.ResourceFactory{
		protocol.ResourceFactoryFunc{TypeName: TextType, NewFunc: func() protocol.Resource { return &Text{} }},
		protocol.ResourceFactoryFunc{TypeName: JSONType, NewFunc: func() protocol.Resource { return &JSON{} }},
	}
}
