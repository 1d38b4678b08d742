// Package text provides small tasks working on text resources. They are handy
// to build demo protocols and to exercise the engine in tests.
package text

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/labflow/pkg/config"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/protocol"
	"github.com/dukex/labflow/pkg/resources"
	"github.com/dukex/labflow/pkg/template"
)

const (
	CreateID = "text.create"
	ConcatID = "text.concat"
	UpperID  = "text.upper"
	FailID   = "text.fail"
	FormatID = "text.format"

	PortText  = "text"
	PortLeft  = "left"
	PortRight = "right"
)

var (
	ErrFailRequested = errors.New("failure requested")
	ErrNotText       = errors.New("input is not a text resource")
)

func textPort(name string) models.PortSpec {
	return models.PortSpec{Name: name, ResourceTypes: []string{resources.TextType}}
}

// factory is the common shape of the text task factories.
type factory struct {
	id          string
	name        string
	description string
	inputs      []models.PortSpec
	outputs     []models.PortSpec
	specs       config.Specs
	run         protocol.TaskFunc
}

func (f *factory) ID() string                     { return f.id }
func (f *factory) Name() string                   { return f.name }
func (f *factory) Description() string            { return f.description }
func (f *factory) InputSpecs() []models.PortSpec  { return f.inputs }
func (f *factory) OutputSpecs() []models.PortSpec { return f.outputs }
func (f *factory) ConfigSpecs() config.Specs      { return f.specs }

func (f *factory) Create(_ context.Context, _ protocol.Dependencies) (protocol.Task, error) {
	return f.run, nil
}

func NewCreateFactory() protocol.TaskFactory {
	return &factory{
		id:          CreateID,
		name:        "Create text",
		description: "Creates a text resource from the configuration",
		outputs:     []models.PortSpec{textPort(PortText)},
		specs: config.Specs{
			"value": config.StringParam{ParamMeta: config.ParamMeta{HumanName: "Value"}},
		},
		run: func(_ context.Context, params config.Params, _ protocol.Inputs) (protocol.Outputs, error) {
			return protocol.Outputs{PortText: resources.NewText(params.String("value"))}, nil
		},
	}
}

func NewConcatFactory() protocol.TaskFactory {
	return &factory{
		id:          ConcatID,
		name:        "Concatenate",
		description: "Joins two texts with a separator",
		inputs:      []models.PortSpec{textPort(PortLeft), textPort(PortRight)},
		outputs:     []models.PortSpec{textPort(PortText)},
		specs: config.Specs{
			"separator": config.StringParam{ParamMeta: config.ParamMeta{HumanName: "Separator", Default: ""}},
		},
		run: func(_ context.Context, params config.Params, inputs protocol.Inputs) (protocol.Outputs, error) {
			left, err := valueOf(inputs, PortLeft)
			if err != nil {
				return nil, err
			}

			right, err := valueOf(inputs, PortRight)
			if err != nil {
				return nil, err
			}

			joined := left + params.String("separator") + right

			return protocol.Outputs{PortText: resources.NewText(joined)}, nil
		},
	}
}

func NewUpperFactory() protocol.TaskFactory {
	return &factory{
		id:          UpperID,
		name:        "Upper case",
		description: "Upper-cases a text",
		inputs:      []models.PortSpec{textPort(PortText)},
		outputs:     []models.PortSpec{textPort(PortText)},
		specs:       config.Specs{},
		run: func(_ context.Context, _ config.Params, inputs protocol.Inputs) (protocol.Outputs, error) {
			value, err := valueOf(inputs, PortText)
			if err != nil {
				return nil, err
			}

			return protocol.Outputs{PortText: resources.NewText(strings.ToUpper(value))}, nil
		},
	}
}

// NewFormatFactory renders the template parameter with the left and right
// texts available as .left and .right.
func NewFormatFactory() protocol.TaskFactory {
	return &factory{
		id:          FormatID,
		name:        "Format",
		description: "Renders a template over two texts",
		inputs: []models.PortSpec{
			textPort(PortLeft),
			{Name: PortRight, ResourceTypes: []string{resources.TextType}, Optional: true},
		},
		outputs: []models.PortSpec{textPort(PortText)},
		specs: config.Specs{
			"template": config.StringParam{ParamMeta: config.ParamMeta{HumanName: "Template", Default: "{{.left}}"}},
		},
		run: func(_ context.Context, params config.Params, inputs protocol.Inputs) (protocol.Outputs, error) {
			left, err := valueOf(inputs, PortLeft)
			if err != nil {
				return nil, err
			}

			right, err := valueOf(inputs, PortRight)
			if err != nil {
				return nil, err
			}

			out, err := template.Render(params.String("template"), map[string]string{
				PortLeft:  left,
				PortRight: right,
			})
			if err != nil {
				return nil, err
			}

			return protocol.Outputs{PortText: resources.NewText(out)}, nil
		},
	}
}

// NewFailFactory returns a task that always fails with the configured message.
func NewFailFactory() protocol.TaskFactory {
	return &factory{
		id:          FailID,
		name:        "Fail",
		description: "Always fails; used to test error handling",
		inputs:      []models.PortSpec{{Name: PortText, ResourceTypes: []string{resources.TextType}, Optional: true}},
		outputs:     []models.PortSpec{textPort(PortText)},
		specs: config.Specs{
			"message": config.StringParam{ParamMeta: config.ParamMeta{HumanName: "Message", Default: "failed"}},
		},
		run: func(_ context.Context, params config.Params, _ protocol.Inputs) (protocol.Outputs, error) {
			return nil, errors.Join(ErrFailRequested, errors.New(params.String("message")))
		},
	}
}

// valueOf returns the text bound to port. An absent optional input reads as
// the empty string.
func valueOf(inputs protocol.Inputs, port string) (string, error) {
	r, ok := inputs[port]
	if !ok || r == nil {
		return "", nil
	}

	t, ok := r.(*resources.Text)
	if !ok {
		return "", fmt.Errorf("%w: %s holds %s", ErrNotText, port, r.ResourceType())
	}

	return t.Value, nil
}

// Factories returns every text task factory.
func Factories() []protocol.TaskFactory {
	return []protocol.TaskFactory{NewCreateFactory(), NewConcatFactory(), NewUpperFactory(), NewFormatFactory(), NewFailFactory()}
}
