package queue_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/labflow/pkg/eventbus"
	"github.com/dukex/labflow/pkg/events"
	"github.com/dukex/labflow/pkg/log"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
	"github.com/dukex/labflow/pkg/persistence/file"
	"github.com/dukex/labflow/pkg/queue"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// blockingRunner holds every run until release is closed or the run is
// cancelled, then settles the scenario like the executor would.
type blockingRunner struct {
	release chan struct{}
	started chan string

	current atomic.Int32
	peak    atomic.Int32

	mu  sync.Mutex
	ran []string
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		release: make(chan struct{}),
		started: make(chan string, 16),
	}
}

func (r *blockingRunner) Run(ctx context.Context, session persistence.Session, scenario *models.Scenario) error {
	n := r.current.Add(1)
	defer r.current.Add(-1)

	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	r.started <- scenario.ID

	select {
	case <-r.release:
		scenario.MarkSuccess(time.Now().UTC())
	case <-ctx.Done():
		scenario.MarkError(&models.ProcessError{Kind: models.ErrorKindStopped, Message: "stopped manually"}, time.Now().UTC())
	}

	r.mu.Lock()
	r.ran = append(r.ran, scenario.ID)
	r.mu.Unlock()

	return session.ScenarioRepository().Save(context.WithoutCancel(ctx), scenario)
}

func (r *blockingRunner) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.ran...)
}

type harness struct {
	persistence persistence.Persistence
	clock       *clockwork.FakeClock
	queue       *queue.Queue
}

func newHarness(t *testing.T, opts ...queue.QueueOption) *harness {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))

	return &harness{
		persistence: p,
		clock:       clock,
		queue:       queue.NewQueue(log.NewNop(), p, append([]queue.QueueOption{queue.WithQueueClock(clock)}, opts...)...),
	}
}

func (h *harness) scenario(t *testing.T, title string) *models.Scenario {
	t.Helper()

	s := models.NewScenario(title, "", "alice")
	require.NoError(t, h.persistence.ScenarioRepository().Save(t.Context(), s))

	return s
}

func (h *harness) submit(t *testing.T, title string) *models.Scenario {
	t.Helper()

	s := h.scenario(t, title)
	_, err := h.queue.Add(t.Context(), s.ID, "alice")
	require.NoError(t, err)

	// Jobs are ordered by creation time.
	h.clock.Advance(time.Second)

	return s
}

func (h *harness) status(t *testing.T, id string) models.ScenarioStatus {
	t.Helper()

	s, err := h.persistence.ScenarioRepository().GetByID(t.Context(), id)
	require.NoError(t, err)

	return s.Status
}

func (h *harness) service(runner queue.Runner, opts queue.Options, svcOpts ...queue.ServiceOption) *queue.Service {
	return queue.NewService(log.NewNop(), h.persistence, runner, opts, append([]queue.ServiceOption{queue.WithClock(h.clock)}, svcOpts...)...)
}

func waitStarted(t *testing.T, runner *blockingRunner, n int) []string {
	t.Helper()

	var ids []string

	for range n {
		select {
		case id := <-runner.started:
			ids = append(ids, id)
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d runs started", len(ids), n)
		}
	}

	return ids
}

// admissions records the scenarios announced as started, in admission order.
type admissions struct {
	mu  sync.Mutex
	ids []string
}

func (a *admissions) Publish(_ context.Context, _ string, event eventbus.Event) error {
	if started, ok := event.(events.ScenarioStarted); ok {
		a.mu.Lock()
		a.ids = append(a.ids, started.ScenarioID)
		a.mu.Unlock()
	}

	return nil
}

func (a *admissions) started() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.ids...)
}

// hookedPersistence calls afterAdd once a job write returned.
type hookedPersistence struct {
	persistence.Persistence

	afterAdd func(ctx context.Context, job *models.Job, err error) error
}

func (p *hookedPersistence) JobRepository() persistence.JobRepository {
	return &hookedJobs{JobRepository: p.Persistence.JobRepository(), afterAdd: p.afterAdd}
}

type hookedJobs struct {
	persistence.JobRepository

	afterAdd func(ctx context.Context, job *models.Job, err error) error
}

func (j *hookedJobs) Add(ctx context.Context, job *models.Job) error {
	return j.afterAdd(ctx, job, j.JobRepository.Add(ctx, job))
}
