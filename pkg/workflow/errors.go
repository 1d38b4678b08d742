package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/labflow/pkg/models"
)

var (
	// ErrStopped is reported on processes interrupted by a cancelled run.
	ErrStopped = errors.New("stopped manually")

	ErrNotRunning = errors.New("process is not running")
)

// ConfigError reports an unknown task type or invalid configuration.
type ConfigError struct {
	Typing string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %v", e.Typing, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Kind() models.ErrorKind {
	return models.ErrorKindConfig
}

// MissingInputError reports a required input that is unbound or cannot be loaded.
type MissingInputError struct {
	Port       string
	ResourceID string
	Err        error
}

func (e *MissingInputError) Error() string {
	if e.ResourceID == "" {
		return fmt.Sprintf("required input %s is not bound", e.Port)
	}

	return fmt.Sprintf("failed to load input %s (resource %s): %v", e.Port, e.ResourceID, e.Err)
}

func (e *MissingInputError) Unwrap() error {
	return e.Err
}

func (e *MissingInputError) Kind() models.ErrorKind {
	return models.ErrorKindMissingInput
}

// InvalidOutputError reports outputs that break the declared port contract.
type InvalidOutputError struct {
	Missing    []string
	Undeclared []string
	WrongType  []string
}

func (e *InvalidOutputError) Error() string {
	var parts []string

	if len(e.Missing) > 0 {
		parts = append(parts, "missing outputs "+strings.Join(e.Missing, ", "))
	}

	if len(e.Undeclared) > 0 {
		parts = append(parts, "undeclared outputs "+strings.Join(e.Undeclared, ", "))
	}

	if len(e.WrongType) > 0 {
		parts = append(parts, "outputs with incompatible type "+strings.Join(e.WrongType, ", "))
	}

	return "invalid outputs: " + strings.Join(parts, "; ")
}

func (e *InvalidOutputError) Kind() models.ErrorKind {
	return models.ErrorKindInvalidOutput
}

func (e *InvalidOutputError) empty() bool {
	return len(e.Missing) == 0 && len(e.Undeclared) == 0 && len(e.WrongType) == 0
}

// TaskRuntimeError wraps an error returned, or a panic raised, by a task.
type TaskRuntimeError struct {
	Err      error
	Panicked bool
}

func (e *TaskRuntimeError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("task panicked: %v", e.Err)
	}

	return fmt.Sprintf("task failed: %v", e.Err)
}

func (e *TaskRuntimeError) Unwrap() error {
	return e.Err
}

func (e *TaskRuntimeError) Kind() models.ErrorKind {
	if errors.Is(e.Err, ErrStopped) {
		return models.ErrorKindStopped
	}

	return models.ErrorKindRuntime
}

type kinded interface {
	error
	Kind() models.ErrorKind
}

func toProcessError(err error, instancePath string) *models.ProcessError {
	kind := models.ErrorKindRuntime

	var k kinded
	if errors.As(err, &k) {
		kind = k.Kind()
	}

	return &models.ProcessError{
		Kind:         kind,
		Message:      err.Error(),
		InstancePath: instancePath,
	}
}

func stoppedError(instancePath string) *models.ProcessError {
	return &models.ProcessError{
		Kind:         models.ErrorKindStopped,
		Message:      ErrStopped.Error(),
		InstancePath: instancePath,
	}
}

// IsConfigError checks if a process failed because of its configuration.
func IsConfigError(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

func IsMissingInputError(err error) bool {
	var target *MissingInputError
	return errors.As(err, &target)
}

func IsInvalidOutputError(err error) bool {
	var target *InvalidOutputError
	return errors.As(err, &target)
}

func IsTaskRuntimeError(err error) bool {
	var target *TaskRuntimeError
	return errors.As(err, &target)
}
