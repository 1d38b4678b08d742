package plug

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/labflow/pkg/config"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/protocol"
	"github.com/dukex/labflow/pkg/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	resources map[string]protocol.Resource
	flagged   map[string]bool
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{resources: map[string]protocol.Resource{}, flagged: map[string]bool{}}
}

func (l *fakeLoader) Load(_ context.Context, id string) (protocol.Resource, error) {
	r, ok := l.resources[id]
	if !ok {
		return nil, errors.New("not found")
	}

	return r, nil
}

func (l *fakeLoader) Flag(_ context.Context, id string, flagged bool) error {
	l.flagged[id] = flagged

	return nil
}

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) SetProgress(ctx context.Context, value float64, message string) error {
	args := m.Called(ctx, value, message)
	return args.Error(0)
}

func (m *mockReporter) Message(ctx context.Context, level models.MessageLevel, text string) error {
	args := m.Called(ctx, level, text)
	return args.Error(0)
}

func build(t *testing.T, factory protocol.TaskFactory, values map[string]any) config.Params {
	t.Helper()

	params, err := factory.ConfigSpecs().Build(values)
	require.NoError(t, err)

	return params
}

func TestSource_OutputsConfiguredResource(t *testing.T) {
	loader := newFakeLoader()
	text := resources.NewText("hello")
	text.SetResourceID("r1")
	loader.resources["r1"] = text

	factory := NewSourceFactory()
	assert.True(t, protocol.IsAutoRun(factory))
	assert.True(t, factory.OutputSpecs()[0].Constant)

	task, err := factory.Create(t.Context(), protocol.Dependencies{Resources: loader})
	require.NoError(t, err)

	out, err := task.Run(t.Context(), build(t, factory, map[string]any{"resource_id": "r1"}), nil)
	require.NoError(t, err)
	assert.Equal(t, "r1", out[PortResource].ResourceID())
}

func TestSource_RequiresResourceID(t *testing.T) {
	_, err := NewSourceFactory().ConfigSpecs().Build(map[string]any{})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestSink_FlagsByDefault(t *testing.T) {
	loader := newFakeLoader()
	factory := NewSinkFactory()

	task, err := factory.Create(t.Context(), protocol.Dependencies{Resources: loader})
	require.NoError(t, err)

	text := resources.NewText("x")
	text.SetResourceID("r2")

	_, err = task.Run(t.Context(), build(t, factory, nil), protocol.Inputs{PortResource: text})
	require.NoError(t, err)
	assert.True(t, loader.flagged["r2"])

	_, err = task.Run(t.Context(), build(t, factory, map[string]any{"flag_resource": false}), protocol.Inputs{PortResource: resources.NewText("y")})
	require.NoError(t, err)
	assert.Len(t, loader.flagged, 1)
}

func TestSelector_GateFollowsIndex(t *testing.T) {
	factory := NewSelectorFactory()
	gate, ok := factory.(protocol.ReadyGate)
	require.True(t, ok)

	first := build(t, factory, nil)
	second := build(t, factory, map[string]any{"index": 2})

	bound := map[string]string{"resource_1": "a"}
	assert.True(t, gate.CheckBeforeRun(first, bound))
	assert.False(t, gate.CheckBeforeRun(second, bound))

	bound["resource_2"] = "b"
	assert.True(t, gate.CheckBeforeRun(second, bound))
}

func TestSelector_ForwardsSelectedInput(t *testing.T) {
	factory := NewSelectorFactory()
	task, err := factory.Create(t.Context(), protocol.Dependencies{})
	require.NoError(t, err)

	a := resources.NewText("a")
	a.SetResourceID("ra")
	b := resources.NewText("b")
	b.SetResourceID("rb")

	out, err := task.Run(t.Context(), build(t, factory, map[string]any{"index": 2}), protocol.Inputs{"resource_1": a, "resource_2": b})
	require.NoError(t, err)
	assert.Equal(t, "rb", out[PortResource].ResourceID())

	_, err = task.Run(t.Context(), build(t, factory, map[string]any{"index": 2}), protocol.Inputs{"resource_1": a})
	assert.Error(t, err)
}

func TestSelector_RejectsOutOfRangeIndex(t *testing.T) {
	_, err := NewSelectorFactory().ConfigSpecs().Build(map[string]any{"index": 3})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestWait_ForwardsAfterDelay(t *testing.T) {
	factory := NewWaitFactory()
	task, err := factory.Create(t.Context(), protocol.Dependencies{})
	require.NoError(t, err)

	in := resources.NewText("v")
	start := time.Now()

	out, err := task.Run(t.Context(), build(t, factory, map[string]any{"waiting_time": 0.01}), protocol.Inputs{PortResource: in})
	require.NoError(t, err)
	assert.Same(t, in, out[PortResource])
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestWait_StopsOnCancel(t *testing.T) {
	factory := NewWaitFactory()
	task, err := factory.Create(t.Context(), protocol.Dependencies{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err = task.Run(ctx, build(t, factory, nil), protocol.Inputs{PortResource: resources.NewText("v")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShell_CapturesStdout(t *testing.T) {
	factory := NewShellFactory()
	assert.True(t, protocol.IsAsync(factory))

	task, err := factory.Create(t.Context(), protocol.Dependencies{})
	require.NoError(t, err)

	out, err := task.Run(t.Context(), build(t, factory, map[string]any{"command": "tr a-z A-Z"}), protocol.Inputs{PortResource: resources.NewText("lab")})
	require.NoError(t, err)

	text, ok := out[PortStdout].(*resources.Text)
	require.True(t, ok)
	assert.Equal(t, "LAB", text.Value)
}

func TestShell_FailingCommand(t *testing.T) {
	factory := NewShellFactory()
	task, err := factory.Create(t.Context(), protocol.Dependencies{})
	require.NoError(t, err)

	_, err = task.Run(t.Context(), build(t, factory, map[string]any{"command": "echo boom >&2; exit 3"}), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestWait_ReportsProgress(t *testing.T) {
	reporter := &mockReporter{}
	reporter.On("SetProgress", mock.Anything, models.ProgressMin, "Waiting 0.01s").Return(nil).Once()
	reporter.On("Message", mock.Anything, models.MessageLevelSuccess, "Wait finished").Return(nil).Once()

	factory := NewWaitFactory()
	task, err := factory.Create(t.Context(), protocol.Dependencies{Progress: reporter})
	require.NoError(t, err)

	_, err = task.Run(t.Context(), build(t, factory, map[string]any{"waiting_time": 0.01}), protocol.Inputs{PortResource: resources.NewText("v")})
	require.NoError(t, err)

	reporter.AssertExpectations(t)
}

func TestWait_FailsWhenProgressCannotBeSaved(t *testing.T) {
	reporter := &mockReporter{}
	reporter.On("SetProgress", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))

	factory := NewWaitFactory()
	task, err := factory.Create(t.Context(), protocol.Dependencies{Progress: reporter})
	require.NoError(t, err)

	_, err = task.Run(t.Context(), build(t, factory, nil), protocol.Inputs{PortResource: resources.NewText("v")})
	assert.EqualError(t, err, "disk full")
	reporter.AssertNotCalled(t, "Message", mock.Anything, mock.Anything, mock.Anything)
}

func TestShell_StderrBecomesWarning(t *testing.T) {
	reporter := &mockReporter{}
	reporter.On("Message", mock.Anything, models.MessageLevelWarning, "careful").Return(nil).Once()

	factory := NewShellFactory()
	task, err := factory.Create(t.Context(), protocol.Dependencies{Progress: reporter})
	require.NoError(t, err)

	out, err := task.Run(t.Context(), build(t, factory, map[string]any{"command": "echo careful >&2; echo ok"}), nil)
	require.NoError(t, err)

	text, ok := out[PortStdout].(*resources.Text)
	require.True(t, ok)
	assert.Equal(t, "ok\n", text.Value)
	reporter.AssertExpectations(t)
}
