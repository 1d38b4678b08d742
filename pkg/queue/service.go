package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/labflow/pkg/eventbus"
	"github.com/dukex/labflow/pkg/events"
	"github.com/dukex/labflow/pkg/metrics"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultMaxConcurrent = 2
	DefaultTickInterval  = 5 * time.Second
	DefaultLockTTL       = 30 * time.Second

	lockKey = "labflow:queue"
)

// Runner executes one admitted scenario on the given session.
type Runner interface {
	Run(ctx context.Context, session persistence.Session, scenario *models.Scenario) error
}

type Options struct {
	// MaxConcurrent caps the number of RUNNING scenarios across coordinators.
	MaxConcurrent int
	TickInterval  time.Duration
	// Budget caps admissions per tick; zero means MaxConcurrent.
	Budget  int
	LockTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}

	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}

	if o.Budget <= 0 {
		o.Budget = o.MaxConcurrent
	}

	if o.LockTTL <= 0 {
		o.LockTTL = DefaultLockTTL
	}

	return o
}

// Service drains the queue. One instance lives per host process and is bound
// to its lifetime with Start and Stop.
type Service struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	runner      Runner
	locker      Locker
	clock       clockwork.Clock
	publisher   eventbus.EventPublisher
	metrics     *metrics.Metrics
	opts        Options

	ticking atomic.Bool
	force   chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc
	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	errMu sync.Mutex
	err   error
}

type ServiceOption func(*Service)

func WithLocker(locker Locker) ServiceOption {
	return func(s *Service) {
		s.locker = locker
	}
}

func WithClock(clock clockwork.Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

func WithPublisher(publisher eventbus.EventPublisher) ServiceOption {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(logger *slog.Logger, p persistence.Persistence, runner Runner, opts Options, svcOpts ...ServiceOption) *Service {
	s := &Service{
		logger:      logger.With("module", "queue_service"),
		persistence: p,
		runner:      runner,
		locker:      NewLocalLocker(),
		clock:       clockwork.NewRealClock(),
		opts:        opts.withDefaults(),
		force:       make(chan struct{}, 1),
		running:     map[string]context.CancelFunc{},
	}

	for _, opt := range svcOpts {
		opt(s)
	}

	return s
}

// Start launches the tick loop. Runs started by the service outlive ctx and
// are cancelled by Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.runCtx = context.WithoutCancel(ctx)
	s.done = make(chan struct{})

	s.logger.InfoContext(ctx, "Starting queue service",
		"max_concurrent", s.opts.MaxConcurrent,
		"tick_interval", s.opts.TickInterval,
	)

	go s.loop(loopCtx, s.done)

	return nil
}

// Stop ends the tick loop, cancels the local runs and waits for them to settle.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()

	if s.cancel == nil {
		s.mu.Unlock()
		return nil
	}

	s.cancel()
	s.cancel = nil

	for _, cancel := range s.running {
		cancel()
	}

	done := s.done
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Stopping queue service")

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.waitRuns(ctx)
}

// Err returns the engine fault that stopped the tick loop, if any.
func (s *Service) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	return s.err
}

// Force requests an immediate tick.
func (s *Service) Force() {
	select {
	case s.force <- struct{}{}:
	default:
	}
}

// Wait blocks until every local run finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) waitRuns(ctx context.Context) error {
	finished := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := s.clock.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		case <-s.force:
		}

		if _, err := s.Tick(ctx); err != nil {
			if errors.Is(err, ErrEngineFault) {
				s.logger.ErrorContext(ctx, "Queue service stopped by engine fault", "error", err)
				s.setErr(err)

				return
			}

			s.logger.ErrorContext(ctx, "Queue tick failed", "error", err)
		}
	}
}

func (s *Service) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	s.err = err
}

// Tick admits queued scenarios while capacity and the per-tick budget allow.
// A tick is skipped when another one is in progress or when another
// coordinator holds the queue lock. It returns the number of admitted runs.
func (s *Service) Tick(ctx context.Context) (int, error) {
	if !s.ticking.CompareAndSwap(false, true) {
		s.metrics.Tick("skipped")
		return 0, nil
	}
	defer s.ticking.Store(false)

	unlock, err := s.locker.TryLock(ctx, lockKey, s.opts.LockTTL)
	if errors.Is(err, ErrLockHeld) {
		s.metrics.Tick("locked")
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to acquire queue lock: %w", err)
	}

	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.ErrorContext(ctx, "Failed to release queue lock", "error", err)
		}
	}()

	admitted, err := s.admit(ctx)

	switch {
	case err != nil && errors.Is(err, ErrEngineFault):
		s.metrics.Tick("fault")
	case admitted > 0:
		s.metrics.Tick("admitted")
	default:
		s.metrics.Tick("idle")
	}

	if count, countErr := s.persistence.JobRepository().Count(ctx); countErr == nil {
		s.metrics.QueueLength(count)
	}

	return admitted, err
}

func (s *Service) admit(ctx context.Context) (int, error) {
	scenarios := s.persistence.ScenarioRepository()
	jobs := s.persistence.JobRepository()

	running, err := scenarios.CountByStatus(ctx, models.ScenarioStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to count running scenarios: %w", err)
	}

	admitted := 0

	for running < s.opts.MaxConcurrent && admitted < s.opts.Budget {
		job, err := jobs.PopOldest(ctx)
		if persistence.IsJobNotFound(err) {
			break
		}

		if err != nil {
			return admitted, fmt.Errorf("failed to pop job: %w", err)
		}

		scenario, err := scenarios.GetByID(ctx, job.ScenarioID)
		if persistence.IsScenarioNotFound(err) {
			return admitted, fmt.Errorf("%w: job %s points to missing scenario %s", ErrEngineFault, job.ID, job.ScenarioID)
		}

		if err != nil {
			s.requeue(ctx, job)
			return admitted, fmt.Errorf("failed to load scenario %s: %w", job.ScenarioID, err)
		}

		if scenario.Status != models.ScenarioStatusInQueue {
			s.logger.WarnContext(ctx, "Dropping job of a scenario that is not queued",
				"job_id", job.ID,
				"scenario_id", scenario.ID,
				"status", scenario.Status,
			)

			continue
		}

		if scenario.Protocol == nil || !scenario.Protocol.IsProtocol() {
			scenario.MarkError(&models.ProcessError{Kind: models.ErrorKindConfig, Message: models.ErrMissingProtocol.Error()}, s.clock.Now().UTC())
			if err := scenarios.Save(ctx, scenario); err != nil {
				s.logger.ErrorContext(ctx, "Failed to mark scenario without protocol", "scenario_id", scenario.ID, "error", err)
			}

			return admitted, fmt.Errorf("%w: scenario %s has no root protocol", ErrEngineFault, scenario.ID)
		}

		scenario.MarkRunning(s.clock.Now().UTC())

		if err := scenarios.Save(ctx, scenario); err != nil {
			s.requeue(ctx, job)
			return admitted, fmt.Errorf("failed to mark scenario %s as running: %w", scenario.ID, err)
		}

		s.launch(scenario, job)

		admitted++
		running++
	}

	return admitted, nil
}

func (s *Service) requeue(ctx context.Context, job *models.Job) {
	if err := s.persistence.JobRepository().Add(context.WithoutCancel(ctx), job); err != nil {
		s.logger.ErrorContext(ctx, "Failed to put job back in the queue", "job_id", job.ID, "error", err)
	}
}

func (s *Service) launch(scenario *models.Scenario, job *models.Job) {
	s.mu.Lock()
	parent := s.runCtx
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithCancel(parent)
	s.running[scenario.ID] = cancel
	s.mu.Unlock()

	logger := s.logger.With("scenario_id", scenario.ID, "job_id", job.ID)
	logger.InfoContext(ctx, "Scenario admitted")

	s.metrics.RunningAdd(1)
	s.publish(ctx, scenario.ID, events.ScenarioStarted{
		BaseEvent: events.NewBaseEvent(events.ScenarioStartedEvent, scenario.ID),
		JobID:     job.ID,
	})

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer cancel()

		start := s.clock.Now()

		err := s.execute(ctx, scenario)

		s.mu.Lock()
		delete(s.running, scenario.ID)
		s.mu.Unlock()

		s.metrics.RunningAdd(-1)

		finished := events.ScenarioFinished{
			BaseEvent: events.NewBaseEvent(events.ScenarioFinishedEvent, scenario.ID),
			JobID:     job.ID,
			Status:    scenario.Status,
			Duration:  s.clock.Since(start),
		}

		if err != nil {
			logger.ErrorContext(ctx, "Scenario run aborted", "error", err)
			s.markAborted(ctx, scenario.ID, err)

			finished.Status = models.ScenarioStatusError
			finished.Error = err.Error()
		} else if scenario.Error != nil {
			finished.Error = scenario.Error.Error()
		}

		logger.InfoContext(ctx, "Scenario run finished", "status", finished.Status)
		s.publish(ctx, scenario.ID, finished)
		s.Force()
	}()
}

func (s *Service) execute(ctx context.Context, scenario *models.Scenario) error {
	session, err := s.persistence.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire run session: %w", err)
	}

	defer func() {
		if err := session.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.ErrorContext(ctx, "Failed to release run session", "scenario_id", scenario.ID, "error", err)
		}
	}()

	return s.runner.Run(ctx, session, scenario)
}

// markAborted records a run that ended on an engine fault so that the
// scenario does not stay RUNNING.
func (s *Service) markAborted(ctx context.Context, scenarioID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	scenarios := s.persistence.ScenarioRepository()

	scenario, err := scenarios.GetByID(ctx, scenarioID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to reload aborted scenario", "scenario_id", scenarioID, "error", err)
		return
	}

	scenario.MarkError(&models.ProcessError{Kind: models.ErrorKindRuntime, Message: "run aborted: " + cause.Error()}, s.clock.Now().UTC())

	if err := scenarios.Save(ctx, scenario); err != nil {
		s.logger.ErrorContext(ctx, "Failed to save aborted scenario", "scenario_id", scenarioID, "error", err)
	}
}

// CancelLocal cancels the run of a scenario on this host. It reports whether
// such a run existed.
func (s *Service) CancelLocal(scenarioID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancel, ok := s.running[scenarioID]
	if ok {
		cancel()
	}

	return ok
}

// IsRunningLocally reports whether this host runs the scenario.
func (s *Service) IsRunningLocally(scenarioID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.running[scenarioID]

	return ok
}

// StopScenario cancels a run cooperatively, locally and on the other
// coordinators through the event bus. Stopping a scenario that already
// finished is a no-op.
func (s *Service) StopScenario(ctx context.Context, scenarioID, userID string) error {
	local := s.CancelLocal(scenarioID)

	s.logger.InfoContext(ctx, "Stop requested", "scenario_id", scenarioID, "local", local)

	s.publish(ctx, scenarioID, events.ScenarioStopRequested{
		BaseEvent:   events.NewBaseEvent(events.ScenarioStopRequestedEvent, scenarioID),
		RequestedBy: userID,
	})

	return nil
}

// HandleStopRequests cancels local runs when another coordinator asks for it.
func (s *Service) HandleStopRequests(subscriber eventbus.EventSubscriber) error {
	return subscriber.Handle(events.ScenarioStopRequestedEvent, func(ctx context.Context, event any) error {
		request, ok := event.(*events.ScenarioStopRequested)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}

		if s.CancelLocal(request.ScenarioID) {
			s.logger.InfoContext(ctx, "Cancelled run on remote request", "scenario_id", request.ScenarioID)
		}

		return nil
	})
}

func (s *Service) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(context.WithoutCancel(ctx), key, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
