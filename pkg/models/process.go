package models

import (
	"fmt"
	"maps"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProcessKind distinguishes leaf tasks from composite protocols.
type ProcessKind string

const (
	ProcessKindTask     ProcessKind = "task"
	ProcessKindProtocol ProcessKind = "protocol"
)

// ProtocolTyping is the typing name of composite processes.
const ProtocolTyping = "protocol"

var instanceNameRegexp = regexp.MustCompile(`^\w+$`)

// ValidateInstanceName checks that a name can be used as a process instance name.
func ValidateInstanceName(name string) error {
	if !instanceNameRegexp.MatchString(name) {
		return fmt.Errorf("%w: %q must contain only letters, digits and underscores", ErrInvalidInstanceName, name)
	}

	return nil
}

// ErrorKind classifies the reason a process ended in ERROR.
type ErrorKind string

const (
	ErrorKindConfig        ErrorKind = "config"
	ErrorKindMissingInput  ErrorKind = "missing_input"
	ErrorKindInvalidOutput ErrorKind = "invalid_output"
	ErrorKindRuntime       ErrorKind = "runtime"
	ErrorKindStopped       ErrorKind = "stopped"
)

// ProcessError is the structured detail stored on a failed process or scenario.
type ProcessError struct {
	Kind         ErrorKind `json:"kind"`
	Message      string    `json:"message"`
	InstancePath string    `json:"instance_path,omitempty"`
	Context      string    `json:"context,omitempty"`
}

func (e *ProcessError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Context, e.Message, e.Kind)
	}

	return fmt.Sprintf("%s: %s (%s)", e.InstancePath, e.Message, e.Kind)
}

// WithParent prefixes the error context with a parent instance name.
func (e *ProcessError) WithParent(parent string) *ProcessError {
	c := *e
	if c.Context == "" {
		c.Context = parent
	} else {
		c.Context = parent + " > " + c.Context
	}

	return &c
}

// ProcessModel is a schedulable unit: either a task (leaf) or a protocol (composite).
type ProcessModel struct {
	ID           string         `json:"id"`
	InstanceName string         `json:"instance_name"`
	Typing       string         `json:"typing"`
	Kind         ProcessKind    `json:"kind"`
	Config       map[string]any `json:"config,omitempty"`
	Inputs       Ports          `json:"inputs"`
	Outputs      Ports          `json:"outputs"`
	Status       ProcessStatus  `json:"status"`
	Error        *ProcessError  `json:"error,omitempty"`
	Fingerprint  string         `json:"fingerprint,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	Progress     *Progress      `json:"progress,omitempty"`

	// Protocol is set for composite processes.
	Protocol *ProtocolModel `json:"protocol,omitempty"`
}

// NewID returns a fresh time-ordered identifier.
func NewID() string {
	return newID()
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}

	return id.String()
}

// NewTaskModel creates a leaf process from the declared port specs of a task type.
func NewTaskModel(instanceName, typing string, inputs, outputs []PortSpec, config map[string]any) *ProcessModel {
	p := &ProcessModel{
		ID:           newID(),
		InstanceName: instanceName,
		Typing:       typing,
		Kind:         ProcessKindTask,
		Config:       maps.Clone(config),
		Inputs:       make(Ports, 0, len(inputs)),
		Outputs:      make(Ports, 0, len(outputs)),
		Status:       ProcessStatusCreated,
	}

	if p.Config == nil {
		p.Config = map[string]any{}
	}

	for _, spec := range inputs {
		p.Inputs = append(p.Inputs, NewPort(spec, PortDirectionInput))
	}

	for _, spec := range outputs {
		p.Outputs = append(p.Outputs, NewPort(spec, PortDirectionOutput))
	}

	return p
}

// NewProtocolModel creates an empty composite process.
func NewProtocolModel(instanceName string) *ProcessModel {
	return &ProcessModel{
		ID:           newID(),
		InstanceName: instanceName,
		Typing:       ProtocolTyping,
		Kind:         ProcessKindProtocol,
		Config:       map[string]any{},
		Inputs:       Ports{},
		Outputs:      Ports{},
		Status:       ProcessStatusCreated,
		Protocol:     &ProtocolModel{},
	}
}

func (p *ProcessModel) IsProtocol() bool {
	return p.Kind == ProcessKindProtocol && p.Protocol != nil
}

// Input returns the named input port or nil.
func (p *ProcessModel) Input(name string) *Port {
	return p.Inputs.Get(name)
}

// Output returns the named output port or nil.
func (p *ProcessModel) Output(name string) *Port {
	return p.Outputs.Get(name)
}

// InputsReady reports whether every input port is ready.
func (p *ProcessModel) InputsReady() bool {
	for _, port := range p.Inputs {
		if !port.IsReady() {
			return false
		}
	}

	return true
}

// MissingInputs lists the non-optional inputs that are not bound.
func (p *ProcessModel) MissingInputs() []string {
	var missing []string

	for _, port := range p.Inputs {
		if !port.IsReady() {
			missing = append(missing, port.Name)
		}
	}

	return missing
}

// MarkReady records that the process waits only for a worker.
func (p *ProcessModel) MarkReady() bool {
	if p.Status == ProcessStatusReady {
		return false
	}

	p.Status = ProcessStatusReady

	return true
}

func (p *ProcessModel) MarkRunning(now time.Time) {
	p.Status = ProcessStatusRunning
	p.Error = nil
	p.StartedAt = &now
	p.EndedAt = nil
	p.Progress = NewProgress()
}

func (p *ProcessModel) MarkSuccess(now time.Time) {
	p.Status = ProcessStatusSuccess
	p.Error = nil
	p.EndedAt = &now

	if p.Progress != nil {
		p.Progress.Value = ProgressMax
	}
}

func (p *ProcessModel) MarkError(err *ProcessError, now time.Time) {
	p.Status = ProcessStatusError
	p.Error = err
	p.EndedAt = &now

	if p.Progress != nil && err != nil {
		p.Progress.Add(MessageLevelError, err.Message, now)
	}
}

func (p *ProcessModel) MarkSkipped() {
	p.Status = ProcessStatusSkipped
}

// Reset puts the process back to CREATED and clears its non-constant outputs.
// Children of a protocol are reset too.
func (p *ProcessModel) Reset() {
	p.Status = ProcessStatusCreated
	p.Error = nil
	p.Fingerprint = ""
	p.StartedAt = nil
	p.EndedAt = nil
	p.Progress = nil

	for _, out := range p.Outputs {
		out.Unbind()
	}

	if p.IsProtocol() {
		for _, child := range p.Protocol.Processes {
			child.Reset()
		}
	}
}

// ResetRunFlags allows ports to be bound again during a new run.
func (p *ProcessModel) ResetRunFlags() {
	for _, port := range p.Inputs {
		port.ResetRun()
	}

	for _, port := range p.Outputs {
		port.ResetRun()
	}

	if p.IsProtocol() {
		for _, child := range p.Protocol.Processes {
			child.ResetRunFlags()
		}
	}
}

// ProcessByPath resolves a dotted instance path relative to this protocol.
func (p *ProcessModel) ProcessByPath(path string) (*ProcessModel, error) {
	current := p

	for _, name := range strings.Split(path, ".") {
		if !current.IsProtocol() {
			return nil, fmt.Errorf("%w: %s in path %s", ErrNotAProtocol, current.InstanceName, path)
		}

		child := current.Protocol.Process(name)
		if child == nil {
			return nil, fmt.Errorf("%w: %s in path %s", ErrProcessNotFound, name, path)
		}

		current = child
	}

	return current, nil
}

// Walk visits every descendant depth-first with its dotted path.
func (p *ProcessModel) Walk(fn func(path string, process *ProcessModel) error) error {
	return p.walk("", fn)
}

func (p *ProcessModel) walk(prefix string, fn func(string, *ProcessModel) error) error {
	if !p.IsProtocol() {
		return nil
	}

	for _, child := range p.Protocol.Processes {
		path := child.InstanceName
		if prefix != "" {
			path = prefix + "." + child.InstanceName
		}

		if err := fn(path, child); err != nil {
			return err
		}

		if err := child.walk(path, fn); err != nil {
			return err
		}
	}

	return nil
}

// AddInterface exposes an inner input as the outer input name.
func (p *ProcessModel) AddInterface(name, process, port string) error {
	if !p.IsProtocol() {
		return ErrNotAProtocol
	}

	if p.Input(name) != nil {
		return fmt.Errorf("%w: %s", ErrIOFaceAlreadyExists, name)
	}

	inner, err := p.Protocol.port(process, port, PortDirectionInput)
	if err != nil {
		return err
	}

	if p.Protocol.InputConnector(process, port) != nil {
		return fmt.Errorf("%w: %s", ErrInputAlreadyConnected, MakePortID(process, port))
	}

	p.Protocol.Interfaces = append(p.Protocol.Interfaces, &IOFace{Name: name, Process: process, Port: port})
	p.Inputs = append(p.Inputs, &Port{
		Name:          name,
		Direction:     PortDirectionInput,
		ResourceTypes: inner.ResourceTypes,
		Optional:      inner.Optional,
		Skippable:     inner.Skippable,
	})

	return nil
}

// AddOuterface exposes an inner output as the outer output name.
func (p *ProcessModel) AddOuterface(name, process, port string) error {
	if !p.IsProtocol() {
		return ErrNotAProtocol
	}

	if p.Output(name) != nil {
		return fmt.Errorf("%w: %s", ErrIOFaceAlreadyExists, name)
	}

	inner, err := p.Protocol.port(process, port, PortDirectionOutput)
	if err != nil {
		return err
	}

	p.Protocol.Outerfaces = append(p.Protocol.Outerfaces, &IOFace{Name: name, Process: process, Port: port})
	p.Outputs = append(p.Outputs, &Port{
		Name:          name,
		Direction:     PortDirectionOutput,
		ResourceTypes: inner.ResourceTypes,
		Optional:      inner.Optional,
		Constant:      inner.Constant,
	})

	return nil
}

// RemoveIOFace removes an interface or outerface and its outer port.
func (p *ProcessModel) RemoveIOFace(name string, direction PortDirection) error {
	if !p.IsProtocol() {
		return ErrNotAProtocol
	}

	switch direction {
	case PortDirectionInput:
		idx := findIOFace(p.Protocol.Interfaces, name)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrIOFaceNotFound, name)
		}

		p.Protocol.Interfaces = append(p.Protocol.Interfaces[:idx], p.Protocol.Interfaces[idx+1:]...)
		p.Inputs = removePort(p.Inputs, name)
	case PortDirectionOutput:
		idx := findIOFace(p.Protocol.Outerfaces, name)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrIOFaceNotFound, name)
		}

		p.Protocol.Outerfaces = append(p.Protocol.Outerfaces[:idx], p.Protocol.Outerfaces[idx+1:]...)
		p.Outputs = removePort(p.Outputs, name)
	default:
		return ErrInvalidDirection
	}

	return nil
}

// RemoveProcess removes a child and everything attached to it, including
// the outer ports of interfaces and outerfaces pointing at it.
func (p *ProcessModel) RemoveProcess(instanceName string) error {
	if !p.IsProtocol() {
		return ErrNotAProtocol
	}

	if err := p.Protocol.removeProcess(instanceName); err != nil {
		return err
	}

	for _, face := range p.Protocol.Interfaces {
		if face.Process == instanceName {
			p.Inputs = removePort(p.Inputs, face.Name)
		}
	}

	for _, face := range p.Protocol.Outerfaces {
		if face.Process == instanceName {
			p.Outputs = removePort(p.Outputs, face.Name)
		}
	}

	p.Protocol.Interfaces = filterIOFaces(p.Protocol.Interfaces, instanceName)
	p.Protocol.Outerfaces = filterIOFaces(p.Protocol.Outerfaces, instanceName)

	return nil
}

// Validate checks the structural invariants of the protocol and its descendants.
func (p *ProcessModel) Validate() error {
	if err := ValidateInstanceName(p.InstanceName); err != nil {
		return err
	}

	if !p.IsProtocol() {
		return nil
	}

	if err := p.Protocol.validate(); err != nil {
		return fmt.Errorf("protocol %s: %w", p.InstanceName, err)
	}

	for _, face := range p.Protocol.Interfaces {
		if p.Input(face.Name) == nil {
			return fmt.Errorf("protocol %s: %w: missing outer input %s", p.InstanceName, ErrPortNotFound, face.Name)
		}
	}

	for _, face := range p.Protocol.Outerfaces {
		if p.Output(face.Name) == nil {
			return fmt.Errorf("protocol %s: %w: missing outer output %s", p.InstanceName, ErrPortNotFound, face.Name)
		}
	}

	for _, child := range p.Protocol.Processes {
		if err := child.Validate(); err != nil {
			return err
		}
	}

	return nil
}

func findIOFace(faces []*IOFace, name string) int {
	for i, face := range faces {
		if face.Name == name {
			return i
		}
	}

	return -1
}

func filterIOFaces(faces []*IOFace, instanceName string) []*IOFace {
	kept := faces[:0]

	for _, face := range faces {
		if face.Process != instanceName {
			kept = append(kept, face)
		}
	}

	return kept
}

func removePort(ports Ports, name string) Ports {
	kept := ports[:0]

	for _, port := range ports {
		if port.Name != name {
			kept = append(kept, port)
		}
	}

	return kept
}
