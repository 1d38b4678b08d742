// Package queue admits submitted scenarios to execution: a FIFO backlog of
// jobs on persistence and a service that drains it under a concurrency cap.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/labflow/pkg/eventbus"
	"github.com/dukex/labflow/pkg/events"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
	"github.com/jonboulle/clockwork"
)

const DefaultMaxLength = 10

var (
	// ErrQueueFull is returned when the backlog reached its maximum length.
	ErrQueueFull = errors.New("queue is full")
	// ErrEngineFault reports an inconsistent state that stops the tick loop.
	ErrEngineFault = errors.New("engine fault")
)

type Queue struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	clock       clockwork.Clock
	maxLength   int
}

type QueueOption func(*Queue)

func WithMaxLength(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.maxLength = n
		}
	}
}

func WithQueueClock(clock clockwork.Clock) QueueOption {
	return func(q *Queue) {
		q.clock = clock
	}
}

// WithQueuePublisher announces queued and dequeued scenarios on the bus.
func WithQueuePublisher(publisher eventbus.EventPublisher) QueueOption {
	return func(q *Queue) {
		q.publisher = publisher
	}
}

func NewQueue(logger *slog.Logger, p persistence.Persistence, opts ...QueueOption) *Queue {
	q := &Queue{
		logger:      logger.With("module", "queue"),
		persistence: p,
		clock:       clockwork.NewRealClock(),
		maxLength:   DefaultMaxLength,
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

func (q *Queue) MaxLength() int {
	return q.maxLength
}

// Add submits a scenario: failed processes are reset, the scenario moves to
// IN_QUEUE and then a job is appended to the backlog. If the job cannot be
// written the scenario returns to its idle status.
func (q *Queue) Add(ctx context.Context, scenarioID, userID string) (*models.Job, error) {
	scenarios := q.persistence.ScenarioRepository()
	jobs := q.persistence.JobRepository()

	scenario, err := scenarios.GetByID(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	if err := scenario.CheckRunnable(); err != nil {
		return nil, err
	}

	count, err := jobs.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count queued jobs: %w", err)
	}

	if count >= q.maxLength {
		return nil, fmt.Errorf("%w: %d jobs waiting", ErrQueueFull, count)
	}

	scenario.ResetFailedProcesses()
	scenario.MarkInQueue()
	scenario.LastModifiedBy = userID

	// The scenario is IN_QUEUE before its job exists, so a tick never pops a
	// job whose scenario is still idle.
	if err := scenarios.Save(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to mark scenario %s as queued: %w", scenario.ID, err)
	}

	job := models.NewJob(scenario.ID, userID, q.clock.Now().UTC())

	if err := jobs.Add(ctx, job); err != nil {
		scenario.RefreshStatus()

		if saveErr := scenarios.Save(context.WithoutCancel(ctx), scenario); saveErr != nil {
			q.logger.ErrorContext(ctx, "Failed to restore scenario after job write", "scenario_id", scenario.ID, "error", saveErr)
		}

		return nil, err
	}

	q.logger.InfoContext(ctx, "Scenario queued", "scenario_id", scenario.ID, "job_id", job.ID)
	q.publish(ctx, scenario.ID, events.ScenarioQueued{
		BaseEvent: events.NewBaseEvent(events.ScenarioQueuedEvent, scenario.ID),
		JobID:     job.ID,
		UserID:    userID,
	})

	return job, nil
}

// Remove cancels the queued job of a scenario and returns the scenario to
// its idle status.
func (q *Queue) Remove(ctx context.Context, scenarioID string) error {
	jobs := q.persistence.JobRepository()

	job, err := jobs.GetByScenario(ctx, scenarioID)
	if err != nil {
		return err
	}

	if err := jobs.DeleteByScenario(ctx, scenarioID); err != nil {
		return err
	}

	scenario, err := q.persistence.ScenarioRepository().GetByID(ctx, scenarioID)
	if err != nil {
		return err
	}

	if scenario.Status == models.ScenarioStatusInQueue {
		scenario.RefreshStatus()

		if err := q.persistence.ScenarioRepository().Save(ctx, scenario); err != nil {
			return fmt.Errorf("failed to restore scenario %s: %w", scenarioID, err)
		}
	}

	q.logger.InfoContext(ctx, "Scenario removed from queue", "scenario_id", scenarioID, "job_id", job.ID)
	q.publish(ctx, scenarioID, events.ScenarioDequeued{
		BaseEvent: events.NewBaseEvent(events.ScenarioDequeuedEvent, scenarioID),
		JobID:     job.ID,
	})

	return nil
}

func (q *Queue) List(ctx context.Context) ([]*models.Job, error) {
	return q.persistence.JobRepository().List(ctx)
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.persistence.JobRepository().Count(ctx)
}

func (q *Queue) publish(ctx context.Context, key string, event eventbus.Event) {
	if q.publisher == nil {
		return
	}

	if err := q.publisher.Publish(ctx, key, event); err != nil {
		q.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
