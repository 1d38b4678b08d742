package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dukex/labflow/pkg/config"
	"github.com/dukex/labflow/pkg/log"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
	"github.com/dukex/labflow/pkg/persistence/file"
	"github.com/dukex/labflow/pkg/protocol"
	"github.com/dukex/labflow/pkg/registry"
	"github.com/dukex/labflow/pkg/resources"
	"github.com/stretchr/testify/require"
)

// memResources keeps resource contents in memory.
type memResources struct {
	mu       sync.Mutex
	registry *registry.Registry
	blobs    map[string][]byte
	types    map[string]string
	flagged  map[string]bool
	next     int
}

func newMemResources(reg *registry.Registry) *memResources {
	return &memResources{
		registry: reg,
		blobs:    map[string][]byte{},
		types:    map[string]string{},
		flagged:  map[string]bool{},
	}
}

func (m *memResources) Load(_ context.Context, id string) (protocol.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", persistence.ErrResourceNotFound, id)
	}

	res, err := m.registry.NewResource(m.types[id])
	if err != nil {
		return nil, err
	}

	if err := res.UnmarshalBinary(data); err != nil {
		return nil, err
	}

	res.SetResourceID(id)

	return res, nil
}

func (m *memResources) Flag(_ context.Context, id string, flagged bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flagged[id] = flagged

	return nil
}

func (m *memResources) Store(_ context.Context, res protocol.Resource, scenarioID, instancePath string) (*models.ResourceModel, error) {
	data, err := res.MarshalBinary()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	model := models.NewResourceModel(res.ResourceType(), models.ResourceOriginGenerated)
	model.ID = fmt.Sprintf("res-%03d", m.next)
	model.ScenarioID = scenarioID
	model.ProcessInstance = instancePath

	m.blobs[model.ID] = data
	m.types[model.ID] = res.ResourceType()
	res.SetResourceID(model.ID)

	return model, nil
}

func (m *memResources) Bind(_ persistence.Repositories) ResourceStore {
	return m
}

func (m *memResources) text(t *testing.T, id string) string {
	t.Helper()

	res, err := m.Load(t.Context(), id)
	require.NoError(t, err)

	txt, ok := res.(*resources.Text)
	require.True(t, ok, "resource %s is not text", id)

	return txt.Value
}

// stubFactory is a configurable task type for executor tests.
type stubFactory struct {
	id      string
	inputs  []models.PortSpec
	outputs []models.PortSpec
	async   bool
	calls   atomic.Int32
	run     protocol.TaskFunc

	// withDeps builds the task from its dependencies when set, replacing run.
	withDeps func(deps protocol.Dependencies) protocol.TaskFunc
}

func (f *stubFactory) ID() string                     { return f.id }
func (f *stubFactory) Name() string                   { return f.id }
func (f *stubFactory) Description() string            { return "test task" }
func (f *stubFactory) InputSpecs() []models.PortSpec  { return f.inputs }
func (f *stubFactory) OutputSpecs() []models.PortSpec { return f.outputs }
func (f *stubFactory) ConfigSpecs() config.Specs      { return config.Specs{} }
func (f *stubFactory) Async() bool                    { return f.async }

func (f *stubFactory) Create(_ context.Context, deps protocol.Dependencies) (protocol.Task, error) {
	run := f.run
	if f.withDeps != nil {
		run = f.withDeps(deps)
	}

	return protocol.TaskFunc(func(ctx context.Context, params config.Params, inputs protocol.Inputs) (protocol.Outputs, error) {
		f.calls.Add(1)
		return run(ctx, params, inputs)
	}), nil
}

func textOutput(name string) []models.PortSpec {
	return []models.PortSpec{{Name: name, ResourceTypes: []string{resources.TextType}}}
}

type harness struct {
	t           *testing.T
	logger      *slog.Logger
	registry    *registry.Registry
	resources   *memResources
	persistence persistence.Persistence
	executor    *Executor
}

func newHarness(t *testing.T, factories ...protocol.TaskFactory) *harness {
	t.Helper()

	logger := log.NewNop()

	reg, err := registry.NewDefault(logger)
	require.NoError(t, err)

	for _, f := range factories {
		require.NoError(t, reg.RegisterTask(f))
	}

	res := newMemResources(reg)
	p := file.NewPersistence(t.TempDir())

	return &harness{
		t:           t,
		logger:      logger,
		registry:    reg,
		resources:   res,
		persistence: p,
		executor:    NewExecutor(logger, reg, res, p),
	}
}

func (h *harness) scenario() *models.Scenario {
	h.t.Helper()

	s := models.NewScenario("test", "", "tester")
	require.NoError(h.t, h.persistence.ScenarioRepository().Save(h.t.Context(), s))

	return s
}

func (h *harness) task(parent *models.ProcessModel, name, typing string, values map[string]any) *models.ProcessModel {
	h.t.Helper()

	p, err := h.registry.NewTaskModel(name, typing, values)
	require.NoError(h.t, err)
	require.NoError(h.t, parent.Protocol.AddProcess(p))

	return p
}

func (h *harness) connect(parent *models.ProcessModel, from, fromPort, to, toPort string) {
	h.t.Helper()

	require.NoError(h.t, parent.Protocol.AddConnector(&models.Connector{
		FromProcess: from,
		FromPort:    fromPort,
		ToProcess:   to,
		ToPort:      toPort,
	}))
}

func (h *harness) run(ctx context.Context, s *models.Scenario) runStats {
	h.t.Helper()

	session, err := h.persistence.Acquire(ctx)
	require.NoError(h.t, err)

	defer func() { _ = session.Release(context.Background()) }()

	stats, err := h.executor.run(ctx, session, s)
	require.NoError(h.t, err)

	return stats
}

func (h *harness) output(p *models.ProcessModel, port string) string {
	h.t.Helper()

	out := p.Output(port)
	require.NotNil(h.t, out)
	require.True(h.t, out.IsBound(), "output %s of %s is not bound", port, p.InstanceName)

	return h.resources.text(h.t, out.ResourceID)
}
