// Package protocol defines the contracts between the engine and pluggable
// task and resource implementations.
package protocol

import (
	"context"

	"github.com/dukex/labflow/pkg/config"
	"github.com/dukex/labflow/pkg/models"
)

// Inputs maps input port names to loaded resources. Unbound optional ports are absent.
type Inputs map[string]Resource

// Outputs maps output port names to produced resources.
type Outputs map[string]Resource

// Task is one execution of a task implementation.
type Task interface {
	Run(ctx context.Context, params config.Params, inputs Inputs) (Outputs, error)
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context, params config.Params, inputs Inputs) (Outputs, error)

func (f TaskFunc) Run(ctx context.Context, params config.Params, inputs Inputs) (Outputs, error) {
	return f(ctx, params, inputs)
}

// TaskFactory creates task instances and declares the static specs of a task type.
type TaskFactory interface {
	// ID returns the typing name used as registry key
	ID() string

	// Name returns the human-readable name for this task type
	Name() string

	// Description returns a description of what this task does
	Description() string

	InputSpecs() []models.PortSpec
	OutputSpecs() []models.PortSpec
	ConfigSpecs() config.Specs

	// Create creates a task instance for one run
	Create(ctx context.Context, deps Dependencies) (Task, error)
}

// ReadyGate lets a task type decide when it may be dispatched, overriding the
// default "every required input bound" rule. bound maps port name to resource id.
type ReadyGate interface {
	CheckBeforeRun(params config.Params, bound map[string]string) bool
}

// AsyncTask marks task types that run on their own worker with their own
// persistence session.
type AsyncTask interface {
	Async() bool
}

// AutoRunTask marks administrative task types that are dispatched as soon as
// they are ready, without a queued scenario run.
type AutoRunTask interface {
	AutoRun() bool
}

// IsAsync reports whether a factory carries the async marker.
func IsAsync(factory TaskFactory) bool {
	a, ok := factory.(AsyncTask)

	return ok && a.Async()
}

// IsAutoRun reports whether a factory carries the auto-run marker.
func IsAutoRun(factory TaskFactory) bool {
	a, ok := factory.(AutoRunTask)

	return ok && a.AutoRun()
}
