package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

var ErrInvalidCronExpression = errors.New("invalid cron expression")

// Triggers submits scenarios to the queue on cron schedules.
type Triggers struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	queue       *Queue
	cron        *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
}

func NewTriggers(logger *slog.Logger, p persistence.Persistence, q *Queue) *Triggers {
	logger = logger.With("module", "triggers")
	cronLogger := &cronLogger{logger: logger}

	return &Triggers{
		logger:      logger,
		persistence: p,
		queue:       q,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		)),
		ctx:     context.Background(),
		entries: map[string]cron.EntryID{},
	}
}

// Start schedules every active trigger and starts the scheduler.
func (t *Triggers) Start(ctx context.Context) error {
	t.mu.Lock()
	t.ctx = context.WithoutCancel(ctx)
	t.mu.Unlock()

	jobs, err := t.persistence.TriggeredJobRepository().ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list triggered jobs: %w", err)
	}

	for _, job := range jobs {
		if err := t.schedule(job); err != nil {
			t.logger.ErrorContext(ctx, "Failed to schedule triggered job", "triggered_job_id", job.ID, "error", err)
		}
	}

	t.cron.Start()
	t.logger.InfoContext(ctx, "Triggers started", "count", len(jobs))

	return nil
}

func (t *Triggers) Stop(ctx context.Context) error {
	done := t.cron.Stop()

	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	t.logger.InfoContext(ctx, "Triggers stopped")

	return nil
}

// Create stores an active trigger for an existing scenario and schedules it.
func (t *Triggers) Create(ctx context.Context, scenarioID, expression, userID string) (*models.TriggeredJob, error) {
	if _, err := cron.ParseStandard(expression); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidCronExpression, expression, err)
	}

	if _, err := t.persistence.ScenarioRepository().GetByID(ctx, scenarioID); err != nil {
		return nil, fmt.Errorf("failed to get scenario: %w", err)
	}

	job := models.NewTriggeredJob(scenarioID, expression, userID)

	if err := t.persistence.TriggeredJobRepository().Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save triggered job: %w", err)
	}

	if err := t.schedule(job); err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "Triggered job created", "triggered_job_id", job.ID, "scenario_id", scenarioID, "cron", expression)

	return job, nil
}

// SetActive enables or disables a trigger without deleting it.
func (t *Triggers) SetActive(ctx context.Context, id string, active bool) (*models.TriggeredJob, error) {
	repo := t.persistence.TriggeredJobRepository()

	job, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get triggered job: %w", err)
	}

	job.IsActive = active

	if err := repo.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save triggered job: %w", err)
	}

	t.unschedule(id)

	if active {
		if err := t.schedule(job); err != nil {
			return nil, err
		}
	}

	return job, nil
}

func (t *Triggers) Delete(ctx context.Context, id string) error {
	t.unschedule(id)

	if err := t.persistence.TriggeredJobRepository().Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete triggered job: %w", err)
	}

	return nil
}

func (t *Triggers) List(ctx context.Context) ([]*models.TriggeredJob, error) {
	return t.persistence.TriggeredJobRepository().List(ctx)
}

// Scheduled reports whether a trigger has a live cron entry.
func (t *Triggers) Scheduled(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.entries[id]

	return ok
}

// Fire submits the trigger's scenario and records the run time. A scenario
// that is already queued or running is left alone.
func (t *Triggers) Fire(ctx context.Context, id string) error {
	repo := t.persistence.TriggeredJobRepository()
	logger := t.logger.With("triggered_job_id", id)

	job, err := repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get triggered job: %w", err)
	}

	if _, err := t.queue.Add(ctx, job.ScenarioID, job.CreatedBy); err != nil {
		if errors.Is(err, models.ErrScenarioAlreadyQueued) || errors.Is(err, models.ErrScenarioRunning) || errors.Is(err, persistence.ErrJobAlreadyExists) {
			logger.InfoContext(ctx, "Scenario still pending, trigger skipped", "scenario_id", job.ScenarioID)
			return nil
		}

		return fmt.Errorf("failed to submit scenario %s: %w", job.ScenarioID, err)
	}

	now := t.queue.clock.Now().UTC()
	job.LastRunAt = &now

	if err := repo.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to save triggered job: %w", err)
	}

	logger.InfoContext(ctx, "Scenario submitted by trigger", "scenario_id", job.ScenarioID)

	return nil
}

func (t *Triggers) schedule(job *models.TriggeredJob) error {
	id := job.ID

	entryID, err := t.cron.AddFunc(job.CronExpression, func() {
		t.mu.Lock()
		ctx := t.ctx
		t.mu.Unlock()

		if err := t.Fire(ctx, id); err != nil {
			t.logger.ErrorContext(ctx, "Triggered job failed", "triggered_job_id", id, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job for trigger %s: %w", id, err)
	}

	t.mu.Lock()
	t.entries[id] = entryID
	t.mu.Unlock()

	return nil
}

func (t *Triggers) unschedule(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entryID, ok := t.entries[id]; ok {
		t.cron.Remove(entryID)
		delete(t.entries, id)
	}
}

// cronLogger routes the scheduler's own messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
