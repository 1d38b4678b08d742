package services_test

import (
	"testing"

	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/services"
	"github.com/dukex/labflow/pkg/tasks/plug"
	"github.com/dukex/labflow/pkg/tasks/text"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResources_UploadLoad(t *testing.T) {
	e := newEnv(t)

	model, err := e.resources.Upload(t.Context(), "text", "greeting", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, models.ResourceOriginUploaded, model.Origin)
	assert.Equal(t, e.resources.Blobs().URL(model.ID), model.BlobPath)

	res, err := e.resources.Load(t.Context(), model.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ID, res.ResourceID())
	assert.Equal(t, "text", res.ResourceType())

	_, err = e.resources.Upload(t.Context(), "nope", "x", []byte("x"))
	assert.True(t, services.IsValidationError(err))

	_, err = e.resources.Upload(t.Context(), "json", "x", []byte("{not json"))
	assert.ErrorIs(t, err, services.ErrInvalidRequest)
}

func TestResources_Flag(t *testing.T) {
	e := newEnv(t)

	model, err := e.resources.Upload(t.Context(), "text", "greeting", []byte("hello"))
	require.NoError(t, err)

	require.NoError(t, e.resources.Flag(t.Context(), model.ID, true))

	stored, err := e.resources.Get(t.Context(), model.ID)
	require.NoError(t, err)
	assert.True(t, stored.Flagged)
}

func TestResources_DeleteGuard(t *testing.T) {
	e := newEnv(t)

	used, err := e.resources.Upload(t.Context(), "text", "used", []byte("hello"))
	require.NoError(t, err)

	unused, err := e.resources.Upload(t.Context(), "text", "unused", []byte("bye"))
	require.NoError(t, err)

	s := e.scenario(t)
	e.addTask(t, s.ID, "", "source", plug.SourceID, map[string]any{"resource_id": used.ID})
	e.addTask(t, s.ID, "", "upper", text.UpperID, nil)
	e.connect(t, s.ID, "", "source", plug.PortResource, "upper", text.PortText)

	err = e.resources.Delete(t.Context(), used.ID)
	require.ErrorIs(t, err, services.ErrResourceInUse)
	assert.True(t, services.IsConflictError(err))

	require.NoError(t, e.resources.Delete(t.Context(), unused.ID))

	_, err = e.resources.Get(t.Context(), unused.ID)
	assert.True(t, services.IsNotFound(err))

	exists, err := e.resources.Blobs().Exists(t.Context(), unused.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	// Once every consumer succeeded the resource may go.
	s = e.runQueued(t, s.ID)
	require.Equal(t, models.ScenarioStatusSuccess, s.Status)
	require.NoError(t, e.resources.Delete(t.Context(), used.ID))
}
