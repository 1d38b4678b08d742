package queue_test

import (
	"testing"
	"time"

	"github.com/dukex/labflow/pkg/log"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
	"github.com/dukex/labflow/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggers_Create(t *testing.T) {
	h := newHarness(t)
	triggers := queue.NewTriggers(log.NewNop(), h.persistence, h.queue)
	s := h.scenario(t, "nightly")

	_, err := triggers.Create(t.Context(), s.ID, "not a cron", "alice")
	require.ErrorIs(t, err, queue.ErrInvalidCronExpression)

	_, err = triggers.Create(t.Context(), "missing", "0 2 * * *", "alice")
	require.True(t, persistence.IsScenarioNotFound(err))

	job, err := triggers.Create(t.Context(), s.ID, "0 2 * * *", "alice")
	require.NoError(t, err)
	assert.True(t, job.IsActive)
	assert.True(t, triggers.Scheduled(job.ID))

	jobs, err := triggers.List(t.Context())
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestTriggers_Fire(t *testing.T) {
	h := newHarness(t)
	triggers := queue.NewTriggers(log.NewNop(), h.persistence, h.queue)
	s := h.scenario(t, "nightly")

	job, err := triggers.Create(t.Context(), s.ID, "@hourly", "alice")
	require.NoError(t, err)

	require.NoError(t, triggers.Fire(t.Context(), job.ID))
	assert.Equal(t, models.ScenarioStatusInQueue, h.status(t, s.ID))

	stored, err := h.persistence.TriggeredJobRepository().GetByID(t.Context(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastRunAt)
	assert.True(t, stored.LastRunAt.Equal(h.clock.Now()))

	h.clock.Advance(time.Hour)

	// Still queued: the second firing is skipped.
	require.NoError(t, triggers.Fire(t.Context(), job.ID))

	n, err := h.queue.Len(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTriggers_SetActiveAndDelete(t *testing.T) {
	h := newHarness(t)
	triggers := queue.NewTriggers(log.NewNop(), h.persistence, h.queue)
	s := h.scenario(t, "nightly")

	job, err := triggers.Create(t.Context(), s.ID, "*/5 * * * *", "alice")
	require.NoError(t, err)

	job, err = triggers.SetActive(t.Context(), job.ID, false)
	require.NoError(t, err)
	assert.False(t, job.IsActive)
	assert.False(t, triggers.Scheduled(job.ID))

	_, err = triggers.SetActive(t.Context(), job.ID, true)
	require.NoError(t, err)
	assert.True(t, triggers.Scheduled(job.ID))

	require.NoError(t, triggers.Delete(t.Context(), job.ID))
	assert.False(t, triggers.Scheduled(job.ID))

	_, err = h.persistence.TriggeredJobRepository().GetByID(t.Context(), job.ID)
	assert.ErrorIs(t, err, persistence.ErrTriggeredJobNotFound)
}

func TestTriggers_StartLoadsActiveJobs(t *testing.T) {
	h := newHarness(t)
	s := h.scenario(t, "nightly")

	active := models.NewTriggeredJob(s.ID, "0 * * * *", "alice")
	inactive := models.NewTriggeredJob(s.ID, "0 * * * *", "alice")
	inactive.IsActive = false

	require.NoError(t, h.persistence.TriggeredJobRepository().Save(t.Context(), active))
	require.NoError(t, h.persistence.TriggeredJobRepository().Save(t.Context(), inactive))

	triggers := queue.NewTriggers(log.NewNop(), h.persistence, h.queue)
	require.NoError(t, triggers.Start(t.Context()))
	t.Cleanup(func() { _ = triggers.Stop(t.Context()) })

	assert.True(t, triggers.Scheduled(active.ID))
	assert.False(t, triggers.Scheduled(inactive.ID))
}
