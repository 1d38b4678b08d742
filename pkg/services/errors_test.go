package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
	"github.com/dukex/labflow/pkg/queue"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		validation bool
		conflict   bool
		notFound   bool
	}{
		{name: "title", err: ErrTitleRequired, validation: true},
		{name: "cycle", err: fmt.Errorf("wrap: %w", models.ErrCycle), validation: true},
		{name: "queue full", err: fmt.Errorf("%w: 10 jobs waiting", queue.ErrQueueFull), conflict: true},
		{name: "version", err: persistence.NewScenarioError("Save", "s1", persistence.ErrVersionConflict), conflict: true},
		{name: "validated", err: models.ErrScenarioValidated, conflict: true},
		{name: "scenario", err: persistence.NewScenarioError("GetByID", "s1", persistence.ErrScenarioNotFound), notFound: true},
		{name: "other", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.validation, IsValidationError(tt.err))
			assert.Equal(t, tt.conflict, IsConflictError(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
		})
	}
}

func TestServiceError(t *testing.T) {
	err := NewValidationError("CreateScenario", "TITLE_REQUIRED", "title is required", ErrTitleRequired)

	assert.Equal(t, "CreateScenario: title is required", err.Error())
	assert.ErrorIs(t, err, ErrTitleRequired)
	assert.True(t, IsValidationError(err))
}
