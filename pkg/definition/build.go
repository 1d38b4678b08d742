package definition

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/registry"
)

// ResourceGetter looks up the resources bound by a definition.
type ResourceGetter interface {
	Get(ctx context.Context, resourceID string) (*models.ResourceModel, error)
}

// Build creates a DRAFT scenario owned by userID. Every task is created
// through the registry, so unknown task types and invalid configurations are
// rejected here. resources may be nil when no input is bound.
func Build(ctx context.Context, reg *registry.Registry, def *Definition, resources ResourceGetter, userID string) (*models.Scenario, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	scenario := models.NewScenario(def.Title, def.FolderID, userID)

	b := &builder{registry: reg, resources: resources}
	if err := b.protocol(ctx, scenario.Protocol, &def.Protocol); err != nil {
		return nil, err
	}

	if err := scenario.Protocol.Validate(); err != nil {
		return nil, err
	}

	return scenario, nil
}

type builder struct {
	registry  *registry.Registry
	resources ResourceGetter
}

func (b *builder) protocol(ctx context.Context, parent *models.ProcessModel, def *Protocol) error {
	for _, p := range def.Processes {
		process, err := b.process(ctx, p)
		if err != nil {
			return err
		}

		if err := parent.Protocol.AddProcess(process); err != nil {
			return err
		}
	}

	for _, face := range def.Interfaces {
		if err := parent.AddInterface(face.Name, face.Process, face.Port); err != nil {
			return fmt.Errorf("interface %s: %w", face.Name, err)
		}
	}

	for _, face := range def.Outerfaces {
		if err := parent.AddOuterface(face.Name, face.Process, face.Port); err != nil {
			return fmt.Errorf("outerface %s: %w", face.Name, err)
		}
	}

	for _, c := range def.Connectors {
		fromProcess, fromPort, _ := models.ParsePortID(c.From)
		toProcess, toPort, _ := models.ParsePortID(c.To)

		err := parent.Protocol.AddConnector(&models.Connector{
			FromProcess: fromProcess,
			FromPort:    fromPort,
			ToProcess:   toProcess,
			ToPort:      toPort,
		})
		if err != nil {
			return err
		}
	}

	for _, p := range def.Processes {
		if err := b.bind(ctx, parent.Protocol, p); err != nil {
			return err
		}
	}

	return nil
}

func (b *builder) process(ctx context.Context, def Process) (*models.ProcessModel, error) {
	if def.Protocol == nil {
		return b.registry.NewTaskModel(def.Name, def.Task, def.Config)
	}

	process := models.NewProtocolModel(def.Name)
	if err := b.protocol(ctx, process, def.Protocol); err != nil {
		return nil, fmt.Errorf("protocol %s: %w", def.Name, err)
	}

	return process, nil
}

// bind attaches existing resources to the unconnected inputs of a process.
func (b *builder) bind(ctx context.Context, protocol *models.ProtocolModel, def Process) error {
	if len(def.Inputs) == 0 {
		return nil
	}

	if b.resources == nil {
		return fmt.Errorf("%w: %s binds inputs but no resource store is available", ErrInvalidDefinition, def.Name)
	}

	process := protocol.Process(def.Name)

	for _, name := range slices.Sorted(maps.Keys(def.Inputs)) {
		portID := models.MakePortID(def.Name, name)

		in := process.Input(name)
		if in == nil {
			return fmt.Errorf("%w: input %s", models.ErrPortNotFound, portID)
		}

		if protocol.InputConnector(def.Name, name) != nil {
			return fmt.Errorf("%w: %s", models.ErrInputAlreadyConnected, portID)
		}

		resource, err := b.resources.Get(ctx, def.Inputs[name])
		if err != nil {
			return fmt.Errorf("failed to bind %s: %w", portID, err)
		}

		if err := in.Bind(resource.ID, resource.Type); err != nil {
			return err
		}
	}

	return nil
}
