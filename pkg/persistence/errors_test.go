package persistence_test

import (
	"errors"
	"testing"

	"github.com/dukex/labflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		scenarioErr := persistence.NewScenarioError("GetByID", "scenario-123", persistence.ErrScenarioNotFound)

		assert.True(t, persistence.IsScenarioNotFound(scenarioErr))
		assert.False(t, persistence.IsVersionConflict(scenarioErr))
		assert.True(t, errors.Is(scenarioErr, persistence.ErrScenarioNotFound))
	})

	t.Run("scenario error contains context", func(t *testing.T) {
		err := persistence.NewScenarioError("Save", "scenario-123", persistence.ErrVersionConflict)

		assert.Contains(t, err.Error(), "Save")
		assert.Contains(t, err.Error(), "scenario-123")
		assert.Contains(t, err.Error(), "version conflict")
		assert.True(t, persistence.IsVersionConflict(err))
	})

	t.Run("resource error unwraps", func(t *testing.T) {
		err := &persistence.ResourceError{Op: "Delete", ResourceID: "r1", Err: persistence.ErrResourceNotFound}

		assert.True(t, persistence.IsResourceNotFound(err))
		assert.Contains(t, err.Error(), "r1")
	})
}

func TestGuard(t *testing.T) {
	t.Parallel()

	var nilGuard *persistence.Guard
	assert.NoError(t, nilGuard.Check())

	g := &persistence.Guard{}
	assert.NoError(t, g.Check())
	assert.True(t, g.Release())
	assert.False(t, g.Release())
	assert.ErrorIs(t, g.Check(), persistence.ErrSessionReleased)
}
