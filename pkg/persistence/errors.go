package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	ErrScenarioNotFound     = errors.New("scenario not found")
	ErrJobNotFound          = errors.New("job not found")
	ErrJobAlreadyExists     = errors.New("scenario already has a queued job")
	ErrResourceNotFound     = errors.New("resource not found")
	ErrTriggeredJobNotFound = errors.New("triggered job not found")

	// ErrVersionConflict indicates the scenario was modified since it was loaded.
	ErrVersionConflict = errors.New("scenario version conflict")

	// ErrSessionReleased indicates a session was used after Release.
	ErrSessionReleased = errors.New("persistence session released")

	// ErrInvalidID indicates an identifier that cannot be stored safely.
	ErrInvalidID = errors.New("invalid identifier")
)

// ScenarioError wraps scenario-related errors with additional context.
type ScenarioError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	ScenarioID string
	Err        error
}

func (e *ScenarioError) Error() string {
	return fmt.Sprintf("%s operation failed for scenario %s: %v", e.Op, e.ScenarioID, e.Err)
}

func (e *ScenarioError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for scenario errors.
func (e *ScenarioError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewScenarioError creates a new scenario error with context.
func NewScenarioError(op, scenarioID string, err error) *ScenarioError {
	return &ScenarioError{
		Op:         op,
		ScenarioID: scenarioID,
		Err:        err,
	}
}

// ResourceError wraps resource-related errors with additional context.
type ResourceError struct {
	Op         string
	ResourceID string
	Err        error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s operation failed for resource %s: %v", e.Op, e.ResourceID, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

func (e *ResourceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsScenarioNotFound checks if an error indicates a scenario was not found.
func IsScenarioNotFound(err error) bool {
	return errors.Is(err, ErrScenarioNotFound)
}

// IsJobNotFound checks if an error indicates a job was not found.
func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

// IsResourceNotFound checks if an error indicates a resource was not found.
func IsResourceNotFound(err error) bool {
	return errors.Is(err, ErrResourceNotFound)
}

// IsVersionConflict checks if an error indicates a concurrent modification.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
