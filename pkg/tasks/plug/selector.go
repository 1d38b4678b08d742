package plug

import (
	"context"
	"fmt"

	"github.com/dukex/labflow/pkg/config"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/protocol"
)

const (
	SelectorID = "plug.selector"

	selectorInputs = 2
)

// SelectorInputPort returns the name of the n-th selector input (1-based).
func SelectorInputPort(n int) string {
	return fmt.Sprintf("resource_%d", n)
}

// SelectorFactory creates tasks that forward the input chosen by the
// configured index. The task is ready as soon as that input is bound, whatever
// happens to the others.
type SelectorFactory struct{}

func NewSelectorFactory() protocol.TaskFactory {
	return &SelectorFactory{}
}

func (f *SelectorFactory) ID() string {
	return SelectorID
}

func (f *SelectorFactory) Name() string {
	return "Selector"
}

func (f *SelectorFactory) Description() string {
	return "Forwards the resource received on the input selected by index"
}

func (f *SelectorFactory) InputSpecs() []models.PortSpec {
	specs := make([]models.PortSpec, 0, selectorInputs)
	for i := 1; i <= selectorInputs; i++ {
		specs = append(specs, models.PortSpec{
			Name:          SelectorInputPort(i),
			ResourceTypes: []string{models.AnyResourceType},
			Optional:      true,
		})
	}

	return specs
}

func (f *SelectorFactory) OutputSpecs() []models.PortSpec {
	return []models.PortSpec{{Name: PortResource, ResourceTypes: []string{models.AnyResourceType}}}
}

func (f *SelectorFactory) ConfigSpecs() config.Specs {
	return config.Specs{
		"index": config.IntParam{
			ParamMeta: config.ParamMeta{HumanName: "Index", ShortDescription: "Input to forward", Default: 1},
			Min:       config.Ptr(1),
			Max:       config.Ptr(selectorInputs),
		},
	}
}

// CheckBeforeRun is true once the selected input is bound.
func (f *SelectorFactory) CheckBeforeRun(params config.Params, bound map[string]string) bool {
	return bound[SelectorInputPort(params.Int("index"))] != ""
}

func (f *SelectorFactory) AutoRun() bool {
	return true
}

func (f *SelectorFactory) Create(_ context.Context, _ protocol.Dependencies) (protocol.Task, error) {
	return protocol.TaskFunc(runSelector), nil
}

func runSelector(_ context.Context, params config.Params, inputs protocol.Inputs) (protocol.Outputs, error) {
	port := SelectorInputPort(params.Int("index"))

	resource, ok := inputs[port]
	if !ok {
		return nil, fmt.Errorf("selected input %s is not bound", port)
	}

	return protocol.Outputs{PortResource: resource}, nil
}
