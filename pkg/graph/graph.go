// Package graph provides read-only analysis of a serialized protocol.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/tasks/plug"
)

var ErrInvalidMode = errors.New("invalid resource mode")

// ResourceMode selects which resources travel with an exported scenario.
type ResourceMode string

const (
	ResourceModeAll              ResourceMode = "all"
	ResourceModeInputs           ResourceMode = "inputs"
	ResourceModeOutputs          ResourceMode = "outputs"
	ResourceModeInputsAndOutputs ResourceMode = "inputs_and_outputs"
	ResourceModeNone             ResourceMode = "none"
)

// ParseResourceMode validates a mode name.
func ParseResourceMode(s string) (ResourceMode, error) {
	switch mode := ResourceMode(s); mode {
	case ResourceModeAll, ResourceModeInputs, ResourceModeOutputs, ResourceModeInputsAndOutputs, ResourceModeNone:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Graph is an immutable view of a protocol tree. It owns a private copy of
// the protocol so analysis never touches the caller's model.
type Graph struct {
	root *models.ProcessModel
}

// New builds a graph from the JSON form of a protocol process.
func New(data []byte) (*Graph, error) {
	var root models.ProcessModel
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to decode protocol: %w", err)
	}

	if !root.IsProtocol() {
		return nil, fmt.Errorf("%w: %s", models.ErrNotAProtocol, root.InstanceName)
	}

	return &Graph{root: &root}, nil
}

// FromProcess snapshots a live protocol process.
func FromProcess(process *models.ProcessModel) (*Graph, error) {
	data, err := json.Marshal(process)
	if err != nil {
		return nil, fmt.Errorf("failed to encode protocol: %w", err)
	}

	return New(data)
}

// ProcessByPath returns a copy-free pointer into the graph's private tree.
// Callers must treat it as read-only.
func (g *Graph) ProcessByPath(path string) (*models.ProcessModel, error) {
	return g.root.ProcessByPath(path)
}

// ConfigByPath returns a copy of the configuration of the process at path.
func (g *Graph) ConfigByPath(path string) (map[string]any, error) {
	p, err := g.root.ProcessByPath(path)
	if err != nil {
		return nil, err
	}

	return maps.Clone(p.Config), nil
}

// Walk visits every process at any depth with its dotted path.
func (g *Graph) Walk(fn func(path string, process *models.ProcessModel) error) error {
	return g.root.Walk(fn)
}

// InputResourceIDs returns the resources entering the protocol: source task
// configurations and bound inputs fed neither by a connector nor an interface.
func (g *Graph) InputResourceIDs() []string {
	ids := map[string]bool{}

	for _, port := range g.root.Inputs {
		add(ids, port.ResourceID)
	}

	g.eachProtocol(func(parent *models.ProcessModel) {
		m := parent.Protocol

		for _, child := range m.Processes {
			if child.Typing == plug.SourceID {
				add(ids, sourceResourceID(child))
			}

			for _, port := range child.Inputs {
				if m.InputConnector(child.InstanceName, port.Name) != nil || fedByInterface(m, child.InstanceName, port.Name) {
					continue
				}

				add(ids, port.ResourceID)
			}
		}
	})

	return sorted(ids)
}

// OutputResourceIDs returns the resources produced inside the protocol:
// non-constant bound outputs and every output exposed through an outerface.
func (g *Graph) OutputResourceIDs() []string {
	ids := map[string]bool{}

	for _, port := range g.root.Outputs {
		add(ids, port.ResourceID)
	}

	_ = g.root.Walk(func(_ string, p *models.ProcessModel) error {
		for _, port := range p.Outputs {
			if !port.Constant || (p.IsProtocol() && p.Protocol.Outerface(port.Name) != nil) {
				add(ids, port.ResourceID)
			}
		}

		return nil
	})

	return sorted(ids)
}

// InputAndOutputResourceIDs is the union of inputs and outputs.
func (g *Graph) InputAndOutputResourceIDs() []string {
	ids := map[string]bool{}

	for _, id := range g.InputResourceIDs() {
		ids[id] = true
	}

	for _, id := range g.OutputResourceIDs() {
		ids[id] = true
	}

	return sorted(ids)
}

// AllResourceIDs returns every resource id bound on any port at any depth.
func (g *Graph) AllResourceIDs() []string {
	ids := map[string]bool{}

	collect := func(p *models.ProcessModel) {
		for _, port := range p.Inputs {
			add(ids, port.ResourceID)
		}

		for _, port := range p.Outputs {
			add(ids, port.ResourceID)
		}

		if p.Typing == plug.SourceID {
			add(ids, sourceResourceID(p))
		}
	}

	collect(g.root)

	_ = g.root.Walk(func(_ string, p *models.ProcessModel) error {
		collect(p)

		return nil
	})

	return sorted(ids)
}

// ResourceIDs dispatches on the export resource mode.
func (g *Graph) ResourceIDs(mode ResourceMode) ([]string, error) {
	switch mode {
	case ResourceModeAll:
		return g.AllResourceIDs(), nil
	case ResourceModeInputs:
		return g.InputResourceIDs(), nil
	case ResourceModeOutputs:
		return g.OutputResourceIDs(), nil
	case ResourceModeInputsAndOutputs:
		return g.InputAndOutputResourceIDs(), nil
	case ResourceModeNone:
		return []string{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
}

// PendingInputResourceIDs returns the resources still needed by processes that
// have not succeeded yet.
func (g *Graph) PendingInputResourceIDs() []string {
	ids := map[string]bool{}

	_ = g.root.Walk(func(_ string, p *models.ProcessModel) error {
		if p.Status == models.ProcessStatusSuccess {
			return nil
		}

		for _, port := range p.Inputs {
			add(ids, port.ResourceID)
		}

		if p.Typing == plug.SourceID {
			add(ids, sourceResourceID(p))
		}

		return nil
	})

	return sorted(ids)
}

func (g *Graph) eachProtocol(fn func(*models.ProcessModel)) {
	fn(g.root)

	_ = g.root.Walk(func(_ string, p *models.ProcessModel) error {
		if p.IsProtocol() {
			fn(p)
		}

		return nil
	})
}

func fedByInterface(m *models.ProtocolModel, instanceName, portName string) bool {
	return slices.ContainsFunc(m.Interfaces, func(face *models.IOFace) bool {
		return face.Process == instanceName && face.Port == portName
	})
}

func sourceResourceID(p *models.ProcessModel) string {
	id, _ := p.Config["resource_id"].(string)

	return id
}

func add(ids map[string]bool, id string) {
	if id != "" {
		ids[id] = true
	}
}

func sorted(ids map[string]bool) []string {
	return slices.Sorted(maps.Keys(ids))
}
