// Package persistencetest holds the behavior every persistence backend must share.
package persistencetest

import (
	"sync"
	"testing"
	"time"

	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run executes the shared suite against backends built by newPersistence.
// Each call must return an empty store.
func Run(t *testing.T, newPersistence func(t *testing.T) persistence.Persistence) {
	t.Helper()

	t.Run("ScenarioRoundTrip", func(t *testing.T) { testScenarioRoundTrip(t, newPersistence(t)) })
	t.Run("ScenarioOptimisticVersion", func(t *testing.T) { testScenarioVersion(t, newPersistence(t)) })
	t.Run("ScenarioStatusQueries", func(t *testing.T) { testScenarioStatus(t, newPersistence(t)) })
	t.Run("ScenarioDelete", func(t *testing.T) { testScenarioDelete(t, newPersistence(t)) })
	t.Run("JobQueueOrder", func(t *testing.T) { testJobQueue(t, newPersistence(t)) })
	t.Run("JobConcurrentPop", func(t *testing.T) { testJobConcurrentPop(t, newPersistence(t)) })
	t.Run("Resources", func(t *testing.T) { testResources(t, newPersistence(t)) })
	t.Run("TriggeredJobs", func(t *testing.T) { testTriggeredJobs(t, newPersistence(t)) })
	t.Run("SessionRelease", func(t *testing.T) { testSessionRelease(t, newPersistence(t)) })
}

// NewScenario returns a scenario with a small root protocol.
func NewScenario(t *testing.T, title string) *models.Scenario {
	t.Helper()

	s := models.NewScenario(title, "folder-1", "user-1")
	task := models.NewTaskModel("a", "text.create", nil,
		[]models.PortSpec{{Name: "text", ResourceTypes: []string{"text"}}},
		map[string]any{"value": "x"})
	require.NoError(t, s.Protocol.Protocol.AddProcess(task))

	return s
}

func testScenarioRoundTrip(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()
	repo := p.ScenarioRepository()

	s := NewScenario(t, "round trip")
	require.NoError(t, repo.Save(ctx, s))
	assert.Equal(t, 1, s.Version)

	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Title, got.Title)
	assert.Equal(t, 1, got.Version)
	require.NotNil(t, got.Protocol.Process("a"))
	assert.Equal(t, "x", got.Protocol.Process("a").Config["value"])

	_, err = repo.GetByID(ctx, "00000000-0000-0000-0000-000000000000")
	assert.True(t, persistence.IsScenarioNotFound(err))
}

func testScenarioVersion(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()
	repo := p.ScenarioRepository()

	s := NewScenario(t, "versioned")
	require.NoError(t, repo.Save(ctx, s))

	first, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)

	second, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)

	first.Title = "first writer"
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, 2, first.Version)

	second.Title = "second writer"
	err = repo.Save(ctx, second)
	require.ErrorIs(t, err, persistence.ErrVersionConflict)

	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "first writer", got.Title)

	duplicate := *s
	duplicate.Version = 0
	require.ErrorIs(t, repo.Save(ctx, &duplicate), persistence.ErrVersionConflict)
}

func testScenarioStatus(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()
	repo := p.ScenarioRepository()

	for i, status := range []models.ScenarioStatus{models.ScenarioStatusRunning, models.ScenarioStatusRunning, models.ScenarioStatusDraft} {
		s := NewScenario(t, "status")
		s.Status = status
		s.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Save(ctx, s))
	}

	count, err := repo.CountByStatus(ctx, models.ScenarioStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	running, err := repo.ListByStatus(ctx, models.ScenarioStatusRunning)
	require.NoError(t, err)
	assert.Len(t, running, 2)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testScenarioDelete(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()

	s := NewScenario(t, "delete me")
	require.NoError(t, p.ScenarioRepository().Save(ctx, s))
	require.NoError(t, p.JobRepository().Add(ctx, models.NewJob(s.ID, "user-1", time.Now().UTC())))

	require.NoError(t, p.ScenarioRepository().Delete(ctx, s.ID))

	_, err := p.ScenarioRepository().GetByID(ctx, s.ID)
	assert.True(t, persistence.IsScenarioNotFound(err))

	_, err = p.JobRepository().GetByScenario(ctx, s.ID)
	assert.True(t, persistence.IsJobNotFound(err))

	assert.True(t, persistence.IsScenarioNotFound(p.ScenarioRepository().Delete(ctx, s.ID)))
}

func testJobQueue(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()
	jobs := p.JobRepository()
	base := time.Now().UTC().Truncate(time.Millisecond)

	var ids []string

	for i := range 3 {
		s := NewScenario(t, "queued")
		require.NoError(t, p.ScenarioRepository().Save(ctx, s))

		job := models.NewJob(s.ID, "user-1", base.Add(time.Duration(i)*time.Second))
		require.NoError(t, jobs.Add(ctx, job))
		ids = append(ids, s.ID)
	}

	err := jobs.Add(ctx, models.NewJob(ids[1], "user-2", base))
	require.ErrorIs(t, err, persistence.ErrJobAlreadyExists)

	count, err := jobs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, jobs.DeleteByScenario(ctx, ids[1]))
	require.ErrorIs(t, jobs.DeleteByScenario(ctx, ids[1]), persistence.ErrJobNotFound)

	first, err := jobs.PopOldest(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[0], first.ScenarioID)

	second, err := jobs.PopOldest(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[2], second.ScenarioID)

	_, err = jobs.PopOldest(ctx)
	require.ErrorIs(t, err, persistence.ErrJobNotFound)
}

func testJobConcurrentPop(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()

	for range 5 {
		s := NewScenario(t, "concurrent")
		require.NoError(t, p.ScenarioRepository().Save(ctx, s))
		require.NoError(t, p.JobRepository().Add(ctx, models.NewJob(s.ID, "", time.Now().UTC())))
	}

	var (
		mu     sync.Mutex
		popped = map[string]int{}
		wg     sync.WaitGroup
	)

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			session, err := p.Acquire(ctx)
			if err != nil {
				return
			}

			defer func() { _ = session.Release(ctx) }()

			job, err := session.JobRepository().PopOldest(ctx)
			if err != nil {
				return
			}

			mu.Lock()
			popped[job.ScenarioID]++
			mu.Unlock()
		}()
	}

	wg.Wait()

	assert.Len(t, popped, 5)

	for id, n := range popped {
		assert.Equal(t, 1, n, id)
	}
}

func testResources(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()
	repo := p.ResourceRepository()

	r1 := models.NewResourceModel("text", models.ResourceOriginGenerated)
	r1.ScenarioID = "scenario-a"
	r1.BlobPath = "mem://blobs/" + r1.ID
	r2 := models.NewResourceModel("json", models.ResourceOriginUploaded)

	require.NoError(t, repo.Save(ctx, r1))
	require.NoError(t, repo.Save(ctx, r2))

	got, err := repo.GetByID(ctx, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, r1.BlobPath, got.BlobPath)
	assert.False(t, got.Flagged)

	got.Flagged = true
	require.NoError(t, repo.Save(ctx, got))

	got, err = repo.GetByID(ctx, r1.ID)
	require.NoError(t, err)
	assert.True(t, got.Flagged)

	byScenario, err := repo.ListByScenario(ctx, "scenario-a")
	require.NoError(t, err)
	require.Len(t, byScenario, 1)
	assert.Equal(t, r1.ID, byScenario[0].ID)

	require.NoError(t, repo.Delete(ctx, r2.ID))
	assert.True(t, persistence.IsResourceNotFound(repo.Delete(ctx, r2.ID)))

	_, err = repo.GetByID(ctx, r2.ID)
	assert.True(t, persistence.IsResourceNotFound(err))
}

func testTriggeredJobs(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()

	s := NewScenario(t, "cron")
	require.NoError(t, p.ScenarioRepository().Save(ctx, s))

	repo := p.TriggeredJobRepository()

	active := models.NewTriggeredJob(s.ID, "*/5 * * * *", "user-1")
	inactive := models.NewTriggeredJob(s.ID, "0 * * * *", "user-1")
	inactive.IsActive = false

	require.NoError(t, repo.Save(ctx, active))
	require.NoError(t, repo.Save(ctx, inactive))

	list, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, active.ID, list[0].ID)

	now := time.Now().UTC().Truncate(time.Second)
	active.LastRunAt = &now
	require.NoError(t, repo.Save(ctx, active))

	got, err := repo.GetByID(ctx, active.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, now.Equal(*got.LastRunAt))

	require.NoError(t, repo.Delete(ctx, inactive.ID))
	require.ErrorIs(t, repo.Delete(ctx, inactive.ID), persistence.ErrTriggeredJobNotFound)
}

func testSessionRelease(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()

	session, err := p.Acquire(ctx)
	require.NoError(t, err)

	s := NewScenario(t, "session")
	require.NoError(t, session.ScenarioRepository().Save(ctx, s))

	got, err := p.ScenarioRepository().GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	require.NoError(t, session.Release(ctx))

	_, err = session.ScenarioRepository().GetByID(ctx, s.ID)
	require.ErrorIs(t, err, persistence.ErrSessionReleased)

	_, err = session.JobRepository().List(ctx)
	require.ErrorIs(t, err, persistence.ErrSessionReleased)

	_, err = session.ResourceRepository().List(ctx)
	require.ErrorIs(t, err, persistence.ErrSessionReleased)

	// the parent persistence keeps working
	_, err = p.ScenarioRepository().GetByID(ctx, s.ID)
	require.NoError(t, err)
}
