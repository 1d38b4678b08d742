// Package models defines the protocol graph, scenario and resource models.
package models

import (
	"fmt"
	"slices"
)

// PortDirection represents the direction of data flow for a port.
type PortDirection string

const (
	PortDirectionInput  PortDirection = "input"
	PortDirectionOutput PortDirection = "output"
)

// AnyResourceType in a capability set accepts every resource type.
const AnyResourceType = "*"

// PortSpec is the static declaration of a port made by a task implementation.
type PortSpec struct {
	Name          string   `json:"name"                     validate:"required"`
	Description   string   `json:"description,omitempty"`
	ResourceTypes []string `json:"resource_types,omitempty"`
	Optional      bool     `json:"optional,omitempty"`
	Skippable     bool     `json:"skippable,omitempty"`
	Constant      bool     `json:"constant,omitempty"`
}

// Port is a named slot on a process holding at most one resource reference.
type Port struct {
	Name          string        `json:"name"`
	Direction     PortDirection `json:"direction"`
	ResourceID    string        `json:"resource_id,omitempty"`
	ResourceTypes []string      `json:"resource_types,omitempty"`
	Optional      bool          `json:"optional,omitempty"`
	Skippable     bool          `json:"skippable,omitempty"`
	Constant      bool          `json:"constant,omitempty"`

	boundInRun bool
}

// NewPort builds a port from its declaration.
func NewPort(spec PortSpec, direction PortDirection) *Port {
	return &Port{
		Name:          spec.Name,
		Direction:     direction,
		ResourceTypes: slices.Clone(spec.ResourceTypes),
		Optional:      spec.Optional,
		Skippable:     spec.Skippable,
		Constant:      spec.Constant,
	}
}

func (p *Port) IsBound() bool {
	return p.ResourceID != ""
}

// IsReady is true if the port is bound or optional.
func (p *Port) IsReady() bool {
	return p.IsBound() || p.Optional
}

// Accepts reports whether a resource of the given type satisfies the capability set.
func (p *Port) Accepts(resourceType string) bool {
	if len(p.ResourceTypes) == 0 {
		return true
	}

	return slices.Contains(p.ResourceTypes, AnyResourceType) || slices.Contains(p.ResourceTypes, resourceType)
}

// CompatibleWith reports whether an output port can feed the given input port.
func (p *Port) CompatibleWith(input *Port) bool {
	if len(p.ResourceTypes) == 0 || len(input.ResourceTypes) == 0 {
		return true
	}

	for _, t := range p.ResourceTypes {
		if input.Accepts(t) {
			return true
		}
	}

	return slices.Contains(p.ResourceTypes, AnyResourceType)
}

// Bind stores a resource reference on the port.
func (p *Port) Bind(resourceID, resourceType string) error {
	if !p.Accepts(resourceType) {
		return fmt.Errorf("%w: port %s accepts %v, got %s", ErrIncompatibleResource, p.Name, p.ResourceTypes, resourceType)
	}

	if p.Direction == PortDirectionOutput && p.boundInRun {
		return fmt.Errorf("%w: %s", ErrPortAlreadyBound, p.Name)
	}

	p.ResourceID = resourceID
	p.boundInRun = true

	return nil
}

// Unbind clears the resource reference. Constant ports keep their value.
func (p *Port) Unbind() {
	p.boundInRun = false

	if p.Constant {
		return
	}

	p.ResourceID = ""
}

// ResetRun allows the port to be bound again in a new run without clearing its value.
func (p *Port) ResetRun() {
	p.boundInRun = false
}

// Ports is an ordered list of ports.
type Ports []*Port

// Get returns the port with the given name or nil.
func (ps Ports) Get(name string) *Port {
	for _, p := range ps {
		if p.Name == name {
			return p
		}
	}

	return nil
}

// ResourceIDs returns port name -> bound resource id for bound ports.
func (ps Ports) ResourceIDs() map[string]string {
	ids := make(map[string]string, len(ps))

	for _, p := range ps {
		if p.IsBound() {
			ids[p.Name] = p.ResourceID
		}
	}

	return ids
}

// MakePortID creates a port ID from process instance name and port name.
func MakePortID(instanceName, portName string) string {
	return instanceName + ":" + portName
}

// ParsePortID parses a port ID in format "{instance}:{port}" into components.
func ParsePortID(portID string) (string, string, bool) {
	for i := range len(portID) {
		if portID[i] == ':' {
			return portID[:i], portID[i+1:], true
		}
	}

	return "", "", false
}
