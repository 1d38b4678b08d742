// Package definition reads scenarios described in YAML or JSON files and
// builds them through the task registry.
package definition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/labflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidDefinition = errors.New("invalid definition")
	ErrUnknownFormat     = errors.New("unknown definition format")
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Definition describes a scenario and its root protocol.
type Definition struct {
	Title    string   `json:"title"               validate:"required" yaml:"title"`
	FolderID string   `json:"folder_id,omitempty"                     yaml:"folder_id,omitempty"`
	Protocol Protocol `json:"protocol"            validate:"required" yaml:"protocol"`
}

type Protocol struct {
	Processes  []Process   `json:"processes"            validate:"required,min=1,unique=Name,dive" yaml:"processes"`
	Connectors []Connector `json:"connectors,omitempty" validate:"dive"                            yaml:"connectors,omitempty"`
	Interfaces []IOFace    `json:"interfaces,omitempty" validate:"dive"                            yaml:"interfaces,omitempty"`
	Outerfaces []IOFace    `json:"outerfaces,omitempty" validate:"dive"                            yaml:"outerfaces,omitempty"`
}

// Process is either a task, named by Task, or a nested Protocol. Inputs binds
// unconnected input ports to existing resource ids.
type Process struct {
	Name     string            `json:"name"               validate:"required,instance_name"                          yaml:"name"`
	Task     string            `json:"task,omitempty"     validate:"required_without=Protocol,excluded_with=Protocol" yaml:"task,omitempty"`
	Config   map[string]any    `json:"config,omitempty"                                                               yaml:"config,omitempty"`
	Inputs   map[string]string `json:"inputs,omitempty"                                                               yaml:"inputs,omitempty"`
	Protocol *Protocol         `json:"protocol,omitempty"                                                             yaml:"protocol,omitempty"`
}

// Connector links two ports given as "<process>:<port>".
type Connector struct {
	From string `json:"from" validate:"required,port_ref" yaml:"from"`
	To   string `json:"to"   validate:"required,port_ref" yaml:"to"`
}

type IOFace struct {
	Name    string `json:"name"    validate:"required" yaml:"name"`
	Process string `json:"process" validate:"required" yaml:"process"`
	Port    string `json:"port"    validate:"required" yaml:"port"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("port_ref", func(fl validator.FieldLevel) bool {
		process, port, ok := models.ParsePortID(fl.Field().String())

		return ok && process != "" && port != ""
	})

	_ = v.RegisterValidation("instance_name", func(fl validator.FieldLevel) bool {
		return models.ValidateInstanceName(fl.Field().String()) == nil
	})

	return v
}

// FormatOf guesses the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// Load reads and validates a definition file.
func Load(path string) (*Definition, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}

	return Parse(data, format)
}

// Parse decodes and validates a definition. Unknown fields are rejected.
func Parse(data []byte, format Format) (*Definition, error) {
	var def Definition

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)

		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()

		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

// Validate checks the structure of the definition. Task types and
// configurations are checked when the scenario is built.
func (d *Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return fmt.Errorf("%w: %s", ErrInvalidDefinition, describe(validationErrors))
		}

		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	return nil
}

func describe(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, fmt.Sprintf("%s fails %q", e.Namespace(), e.Tag()))
	}

	return strings.Join(parts, "; ")
}
