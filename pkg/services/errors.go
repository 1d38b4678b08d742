// Package services provides the operations exposed to the API and the CLI on
// top of persistence, the executor and the queue.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/labflow/pkg/blobstore"
	"github.com/dukex/labflow/pkg/config"
	"github.com/dukex/labflow/pkg/definition"
	"github.com/dukex/labflow/pkg/graph"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
	"github.com/dukex/labflow/pkg/queue"
	"github.com/dukex/labflow/pkg/registry"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrTitleRequired  = errors.New("scenario title is required")
	ErrEmptyUserID    = errors.New("user ID cannot be empty")

	// Business Logic Conflicts (409 Conflict).
	ErrResourceInUse = errors.New("resource is used by a pending process")
	ErrScenarioBusy  = errors.New("scenario is queued or running")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrTitleRequired) ||
		errors.Is(err, ErrEmptyUserID) ||
		errors.Is(err, config.ErrInvalidConfig) ||
		errors.Is(err, registry.ErrUnknownTaskType) ||
		errors.Is(err, registry.ErrUnknownResourceType) ||
		errors.Is(err, models.ErrInvalidInstanceName) ||
		errors.Is(err, models.ErrDuplicateInstanceName) ||
		errors.Is(err, models.ErrProcessNotFound) ||
		errors.Is(err, models.ErrPortNotFound) ||
		errors.Is(err, models.ErrNotAProtocol) ||
		errors.Is(err, models.ErrCycle) ||
		errors.Is(err, models.ErrInputAlreadyConnected) ||
		errors.Is(err, models.ErrIncompatiblePorts) ||
		errors.Is(err, models.ErrIncompatibleResource) ||
		errors.Is(err, models.ErrInvalidDirection) ||
		errors.Is(err, models.ErrIOFaceAlreadyExists) ||
		errors.Is(err, models.ErrIOFaceNotFound) ||
		errors.Is(err, models.ErrMissingProtocol) ||
		errors.Is(err, graph.ErrInvalidMode) ||
		errors.Is(err, definition.ErrInvalidDefinition) ||
		errors.Is(err, definition.ErrUnknownFormat) ||
		errors.Is(err, queue.ErrInvalidCronExpression) ||
		errors.Is(err, persistence.ErrInvalidID) ||
		errors.Is(err, blobstore.ErrInvalidID)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrResourceInUse) ||
		errors.Is(err, ErrScenarioBusy) ||
		errors.Is(err, models.ErrScenarioValidated) ||
		errors.Is(err, models.ErrScenarioRunning) ||
		errors.Is(err, models.ErrScenarioAlreadyQueued) ||
		errors.Is(err, models.ErrScenarioNotSuccessful) ||
		errors.Is(err, persistence.ErrVersionConflict) ||
		errors.Is(err, persistence.ErrJobAlreadyExists) ||
		errors.Is(err, queue.ErrQueueFull)
}

// IsNotFound checks if an error should return HTTP 404.
func IsNotFound(err error) bool {
	return persistence.IsScenarioNotFound(err) ||
		persistence.IsJobNotFound(err) ||
		persistence.IsResourceNotFound(err) ||
		errors.Is(err, persistence.ErrTriggeredJobNotFound) ||
		errors.Is(err, blobstore.ErrBlobNotFound)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
