// Package plug provides the administrative tasks that feed, collect, gate and
// pace resources inside a protocol.
package plug

import (
	"context"
	"fmt"

	"github.com/dukex/labflow/pkg/config"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/protocol"
)

const (
	PortResource = "resource"

	SourceID = "plug.source"
	SinkID   = "plug.sink"
)

// SourceFactory creates tasks that inject an existing resource into a protocol.
type SourceFactory struct{}

func NewSourceFactory() protocol.TaskFactory {
	return &SourceFactory{}
}

func (f *SourceFactory) ID() string {
	return SourceID
}

func (f *SourceFactory) Name() string {
	return "Source"
}

func (f *SourceFactory) Description() string {
	return "Outputs an existing resource selected in the configuration"
}

func (f *SourceFactory) InputSpecs() []models.PortSpec {
	return nil
}

func (f *SourceFactory) OutputSpecs() []models.PortSpec {
	return []models.PortSpec{
		{Name: PortResource, ResourceTypes: []string{models.AnyResourceType}, Constant: true, Description: "The selected resource"},
	}
}

func (f *SourceFactory) ConfigSpecs() config.Specs {
	return config.Specs{
		"resource_id": config.ModelRefParam{
			ParamMeta: config.ParamMeta{HumanName: "Resource", ShortDescription: "Id of the resource to output"},
			ModelType: "resource",
		},
	}
}

func (f *SourceFactory) AutoRun() bool {
	return true
}

func (f *SourceFactory) Create(_ context.Context, deps protocol.Dependencies) (protocol.Task, error) {
	if deps.Resources == nil {
		return nil, fmt.Errorf("%s requires a resource loader", SourceID)
	}

	return &sourceTask{resources: deps.Resources}, nil
}

type sourceTask struct {
	resources protocol.ResourceLoader
}

func (t *sourceTask) Run(ctx context.Context, params config.Params, _ protocol.Inputs) (protocol.Outputs, error) {
	resource, err := t.resources.Load(ctx, params.String("resource_id"))
	if err != nil {
		return nil, fmt.Errorf("failed to load source resource: %w", err)
	}

	return protocol.Outputs{PortResource: resource}, nil
}

// SinkFactory creates tasks that collect a resource at the end of a protocol
// and optionally flag it.
type SinkFactory struct{}

func NewSinkFactory() protocol.TaskFactory {
	return &SinkFactory{}
}

func (f *SinkFactory) ID() string {
	return SinkID
}

func (f *SinkFactory) Name() string {
	return "Sink"
}

func (f *SinkFactory) Description() string {
	return "Receives a resource and flags it for later use"
}

func (f *SinkFactory) InputSpecs() []models.PortSpec {
	return []models.PortSpec{
		{Name: PortResource, ResourceTypes: []string{models.AnyResourceType}, Description: "The resource to collect"},
	}
}

func (f *SinkFactory) OutputSpecs() []models.PortSpec {
	return nil
}

func (f *SinkFactory) ConfigSpecs() config.Specs {
	return config.Specs{
		"flag_resource": config.BoolParam{
			ParamMeta: config.ParamMeta{HumanName: "Flag resource", Default: true},
		},
	}
}

func (f *SinkFactory) AutoRun() bool {
	return true
}

func (f *SinkFactory) Create(_ context.Context, deps protocol.Dependencies) (protocol.Task, error) {
	if deps.Resources == nil {
		return nil, fmt.Errorf("%s requires a resource loader", SinkID)
	}

	return &sinkTask{resources: deps.Resources}, nil
}

type sinkTask struct {
	resources protocol.ResourceLoader
}

func (t *sinkTask) Run(ctx context.Context, params config.Params, inputs protocol.Inputs) (protocol.Outputs, error) {
	if !params.Bool("flag_resource") {
		return protocol.Outputs{}, nil
	}

	resource, ok := inputs[PortResource]
	if !ok {
		return nil, fmt.Errorf("missing input %s", PortResource)
	}

	if err := t.resources.Flag(ctx, resource.ResourceID(), true); err != nil {
		return nil, fmt.Errorf("failed to flag resource: %w", err)
	}

	return protocol.Outputs{}, nil
}
