package models

import (
	"fmt"
	"slices"
)

// ProtocolModel is the sub-graph owned by a composite process.
type ProtocolModel struct {
	Processes  []*ProcessModel `json:"processes"`
	Connectors []*Connector    `json:"connectors"`
	Interfaces []*IOFace       `json:"interfaces"`
	Outerfaces []*IOFace       `json:"outerfaces"`
}

// Process returns the direct child with the given instance name or nil.
func (m *ProtocolModel) Process(instanceName string) *ProcessModel {
	for _, p := range m.Processes {
		if p.InstanceName == instanceName {
			return p
		}
	}

	return nil
}

// AddProcess adds a child process; instance names must be valid and unique.
func (m *ProtocolModel) AddProcess(process *ProcessModel) error {
	if err := ValidateInstanceName(process.InstanceName); err != nil {
		return err
	}

	if m.Process(process.InstanceName) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateInstanceName, process.InstanceName)
	}

	m.Processes = append(m.Processes, process)

	return nil
}

func (m *ProtocolModel) removeProcess(instanceName string) error {
	idx := slices.IndexFunc(m.Processes, func(p *ProcessModel) bool { return p.InstanceName == instanceName })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrProcessNotFound, instanceName)
	}

	m.Processes = slices.Delete(m.Processes, idx, idx+1)
	m.Connectors = slices.DeleteFunc(m.Connectors, func(c *Connector) bool {
		return c.FromProcess == instanceName || c.ToProcess == instanceName
	})

	return nil
}

func (m *ProtocolModel) port(instanceName, portName string, direction PortDirection) (*Port, error) {
	process := m.Process(instanceName)
	if process == nil {
		return nil, fmt.Errorf("%w: %s", ErrProcessNotFound, instanceName)
	}

	var port *Port

	switch direction {
	case PortDirectionInput:
		port = process.Input(portName)
	case PortDirectionOutput:
		port = process.Output(portName)
	default:
		return nil, ErrInvalidDirection
	}

	if port == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrPortNotFound, direction, MakePortID(instanceName, portName))
	}

	return port, nil
}

// AddConnector links an output to an input. The input must not already be fed
// and the edge must keep the protocol acyclic.
func (m *ProtocolModel) AddConnector(connector *Connector) error {
	out, err := m.port(connector.FromProcess, connector.FromPort, PortDirectionOutput)
	if err != nil {
		return err
	}

	in, err := m.port(connector.ToProcess, connector.ToPort, PortDirectionInput)
	if err != nil {
		return err
	}

	if !out.CompatibleWith(in) {
		return fmt.Errorf("%w: %s", ErrIncompatiblePorts, connector.ID())
	}

	if m.InputConnector(connector.ToProcess, connector.ToPort) != nil || m.interfaceFor(connector.ToProcess, connector.ToPort) != nil {
		return fmt.Errorf("%w: %s", ErrInputAlreadyConnected, MakePortID(connector.ToProcess, connector.ToPort))
	}

	if connector.FromProcess == connector.ToProcess || m.reaches(connector.ToProcess, connector.FromProcess) {
		return fmt.Errorf("%w: %s", ErrCycle, connector.ID())
	}

	m.Connectors = append(m.Connectors, connector)

	return nil
}

// RemoveConnector removes the connector feeding the given input.
func (m *ProtocolModel) RemoveConnector(toProcess, toPort string) error {
	idx := slices.IndexFunc(m.Connectors, func(c *Connector) bool {
		return c.ToProcess == toProcess && c.ToPort == toPort
	})
	if idx < 0 {
		return fmt.Errorf("%w: no connector into %s", ErrPortNotFound, MakePortID(toProcess, toPort))
	}

	m.Connectors = slices.Delete(m.Connectors, idx, idx+1)

	return nil
}

// InputConnector returns the connector feeding an input or nil.
func (m *ProtocolModel) InputConnector(instanceName, portName string) *Connector {
	for _, c := range m.Connectors {
		if c.ToProcess == instanceName && c.ToPort == portName {
			return c
		}
	}

	return nil
}

// OutputConnectors returns every connector leaving a process.
func (m *ProtocolModel) OutputConnectors(instanceName string) []*Connector {
	var out []*Connector

	for _, c := range m.Connectors {
		if c.FromProcess == instanceName {
			out = append(out, c)
		}
	}

	return out
}

func (m *ProtocolModel) interfaceFor(instanceName, portName string) *IOFace {
	for _, face := range m.Interfaces {
		if face.Process == instanceName && face.Port == portName {
			return face
		}
	}

	return nil
}

// Interface returns the interface with the outer name or nil.
func (m *ProtocolModel) Interface(name string) *IOFace {
	if idx := findIOFace(m.Interfaces, name); idx >= 0 {
		return m.Interfaces[idx]
	}

	return nil
}

// Outerface returns the outerface with the outer name or nil.
func (m *ProtocolModel) Outerface(name string) *IOFace {
	if idx := findIOFace(m.Outerfaces, name); idx >= 0 {
		return m.Outerfaces[idx]
	}

	return nil
}

// Predecessors returns the distinct direct producers of a process.
func (m *ProtocolModel) Predecessors(instanceName string) []*ProcessModel {
	var preds []*ProcessModel

	for _, c := range m.Connectors {
		if c.ToProcess != instanceName {
			continue
		}

		p := m.Process(c.FromProcess)
		if p != nil && !slices.Contains(preds, p) {
			preds = append(preds, p)
		}
	}

	return preds
}

// Successors returns the distinct direct consumers of a process.
func (m *ProtocolModel) Successors(instanceName string) []*ProcessModel {
	var succs []*ProcessModel

	for _, c := range m.Connectors {
		if c.FromProcess != instanceName {
			continue
		}

		p := m.Process(c.ToProcess)
		if p != nil && !slices.Contains(succs, p) {
			succs = append(succs, p)
		}
	}

	return succs
}

func (m *ProtocolModel) reaches(from, to string) bool {
	seen := map[string]bool{}
	stack := []string{from}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current == to {
			return true
		}

		if seen[current] {
			continue
		}

		seen[current] = true

		for _, c := range m.Connectors {
			if c.FromProcess == current {
				stack = append(stack, c.ToProcess)
			}
		}
	}

	return false
}

// TopologicalOrder returns the children sorted so that every producer comes
// before its consumers. Ties keep insertion order.
func (m *ProtocolModel) TopologicalOrder() ([]*ProcessModel, error) {
	indegree := make(map[string]int, len(m.Processes))
	for _, p := range m.Processes {
		indegree[p.InstanceName] = 0
	}

	for _, c := range m.Connectors {
		indegree[c.ToProcess]++
	}

	order := make([]*ProcessModel, 0, len(m.Processes))
	done := make(map[string]bool, len(m.Processes))

	for len(order) < len(m.Processes) {
		progressed := false

		for _, p := range m.Processes {
			if done[p.InstanceName] || indegree[p.InstanceName] > 0 {
				continue
			}

			done[p.InstanceName] = true
			order = append(order, p)
			progressed = true

			for _, c := range m.Connectors {
				if c.FromProcess == p.InstanceName {
					indegree[c.ToProcess]--
				}
			}
		}

		if !progressed {
			return nil, ErrCycle
		}
	}

	return order, nil
}

// Propagate copies the outputs of a process to every connected input.
// It returns the processes whose inputs changed.
func (m *ProtocolModel) Propagate(instanceName string) ([]*ProcessModel, error) {
	from := m.Process(instanceName)
	if from == nil {
		return nil, fmt.Errorf("%w: %s", ErrProcessNotFound, instanceName)
	}

	var touched []*ProcessModel

	for _, c := range m.OutputConnectors(instanceName) {
		out := from.Output(c.FromPort)
		to := m.Process(c.ToProcess)

		if out == nil || to == nil || !out.IsBound() {
			continue
		}

		in := to.Input(c.ToPort)
		if in == nil {
			return nil, fmt.Errorf("%w: %s", ErrPortNotFound, MakePortID(c.ToProcess, c.ToPort))
		}

		in.ResourceID = out.ResourceID

		if !slices.Contains(touched, to) {
			touched = append(touched, to)
		}
	}

	return touched, nil
}

// ClearDownstreamInputs unbinds the inputs fed by a process's outputs. A READY
// consumer goes back to CREATED.
func (m *ProtocolModel) ClearDownstreamInputs(instanceName string) {
	for _, c := range m.OutputConnectors(instanceName) {
		to := m.Process(c.ToProcess)
		if to == nil {
			continue
		}

		if in := to.Input(c.ToPort); in != nil {
			in.ResourceID = ""
		}

		if to.Status == ProcessStatusReady {
			to.Status = ProcessStatusCreated
		}
	}
}

func (m *ProtocolModel) validate() error {
	names := map[string]bool{}

	for _, p := range m.Processes {
		if err := ValidateInstanceName(p.InstanceName); err != nil {
			return err
		}

		if names[p.InstanceName] {
			return fmt.Errorf("%w: %s", ErrDuplicateInstanceName, p.InstanceName)
		}

		names[p.InstanceName] = true
	}

	fed := map[string]bool{}

	for _, c := range m.Connectors {
		if _, err := m.port(c.FromProcess, c.FromPort, PortDirectionOutput); err != nil {
			return err
		}

		if _, err := m.port(c.ToProcess, c.ToPort, PortDirectionInput); err != nil {
			return err
		}

		id := MakePortID(c.ToProcess, c.ToPort)
		if fed[id] {
			return fmt.Errorf("%w: %s", ErrInputAlreadyConnected, id)
		}

		fed[id] = true
	}

	for _, face := range m.Interfaces {
		if _, err := m.port(face.Process, face.Port, PortDirectionInput); err != nil {
			return err
		}
	}

	for _, face := range m.Outerfaces {
		if _, err := m.port(face.Process, face.Port, PortDirectionOutput); err != nil {
			return err
		}
	}

	if _, err := m.TopologicalOrder(); err != nil {
		return err
	}

	return nil
}
