// Package workflow runs scenarios: it invalidates what changed since the last
// run, dispatches ready processes pass after pass and settles the scenario.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukex/labflow/pkg/config"
	"github.com/dukex/labflow/pkg/metrics"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/otelhelper"
	"github.com/dukex/labflow/pkg/persistence"
	"github.com/dukex/labflow/pkg/protocol"
	"github.com/dukex/labflow/pkg/registry"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type Executor struct {
	logger      *slog.Logger
	registry    *registry.Registry
	resources   ResourceStore
	persistence persistence.Persistence
	clock       clockwork.Clock
	tracer      trace.Tracer
	metrics     *metrics.Metrics
}

type Option func(*Executor)

func WithClock(clock clockwork.Clock) Option {
	return func(e *Executor) {
		e.clock = clock
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// NewExecutor creates an executor. The persistence is used to open one
// session per async task.
func NewExecutor(
	logger *slog.Logger,
	reg *registry.Registry,
	resources ResourceStore,
	p persistence.Persistence,
	opts ...Option,
) *Executor {
	e := &Executor{
		logger:      logger.With("module", "workflow_executor"),
		registry:    reg,
		resources:   resources,
		persistence: p,
		clock:       clockwork.NewRealClock(),
		tracer:      otelhelper.NoopTracer(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run executes a scenario to completion using the caller's session. Process
// failures and cancellation end up in the scenario state; only engine faults
// such as persistence failures are returned.
func (e *Executor) Run(ctx context.Context, session persistence.Session, scenario *models.Scenario) error {
	_, err := e.run(ctx, session, scenario)

	return err
}

type runStats struct {
	passes   int
	executed int
}

func (e *Executor) run(ctx context.Context, session persistence.Session, scenario *models.Scenario) (runStats, error) {
	if scenario.Protocol == nil || !scenario.Protocol.IsProtocol() {
		return runStats{}, fmt.Errorf("%w: %s", models.ErrMissingProtocol, scenario.ID)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "scenario.run",
		attribute.String(otelhelper.ScenarioIDKey, scenario.ID),
		attribute.String(otelhelper.ScenarioTitleKey, scenario.Title),
	)
	defer span.End()

	r := e.newRun(session, scenario)
	r.logger.InfoContext(ctx, "Starting scenario run")

	root := scenario.Protocol
	root.ResetRunFlags()

	if err := r.prepare(root, ""); err != nil {
		r.logger.ErrorContext(ctx, "Failed to prepare scenario", "error", err)
		scenario.MarkError(toProcessError(&ConfigError{Typing: root.Typing, Err: err}, ""), e.now())

		return r.stats, r.save(ctx, session)
	}

	if scenario.Status != models.ScenarioStatusRunning {
		scenario.MarkRunning(e.now())
	}

	root.Status = models.ProcessStatusRunning

	if err := r.save(ctx, session); err != nil {
		return r.stats, err
	}

	if err := r.runProtocol(ctx, root, ""); err != nil {
		otelhelper.SetError(span, otelhelper.KindEngine, err)
		return r.stats, err
	}

	r.finishScenario(ctx)
	e.metrics.ScenarioFinished(string(scenario.Status))

	r.logger.InfoContext(ctx, "Scenario run finished",
		"status", scenario.Status,
		"passes", r.stats.passes,
		"executed", r.stats.executed,
	)

	return r.stats, r.save(ctx, session)
}

// RunAutoRun dispatches the ready auto-run tasks of the root protocol
// outside of a queued run, then refreshes the idle scenario status.
func (e *Executor) RunAutoRun(ctx context.Context, session persistence.Session, scenario *models.Scenario) error {
	if scenario.Protocol == nil || !scenario.Protocol.IsProtocol() {
		return fmt.Errorf("%w: %s", models.ErrMissingProtocol, scenario.ID)
	}

	r := e.newRun(session, scenario)
	root := scenario.Protocol
	root.ResetRunFlags()

	if err := r.prepare(root, ""); err != nil {
		return fmt.Errorf("failed to prepare scenario %s: %w", scenario.ID, err)
	}

	attempted := map[string]bool{}

	for ctx.Err() == nil {
		var ready []*models.ProcessModel

		for _, p := range r.collect(root, attempted) {
			if factory, err := e.registry.TaskFactory(p.Typing); err == nil && protocol.IsAutoRun(factory) {
				ready = append(ready, p)
			}
		}

		if len(ready) == 0 {
			break
		}

		for _, p := range ready {
			attempted[p.InstanceName] = true

			if err := r.executeTask(ctx, session, root, "", p); err != nil {
				return err
			}
		}
	}

	scenario.RefreshStatus()

	return r.save(ctx, session)
}

func (e *Executor) newRun(session persistence.Session, scenario *models.Scenario) *run {
	return &run{
		Executor: e,
		session:  session,
		scenario: scenario,
		logger:   e.logger.With("scenario_id", scenario.ID),
	}
}

func (e *Executor) now() time.Time {
	return e.clock.Now().UTC()
}

// run holds the state of one scenario execution. mu guards every mutation of
// the scenario model and every save, since async tasks settle concurrently.
type run struct {
	*Executor

	mu       sync.Mutex
	session  persistence.Session
	scenario *models.Scenario
	logger   *slog.Logger
	stats    runStats
}

func (r *run) save(ctx context.Context, repos persistence.Repositories) error {
	if err := repos.ScenarioRepository().Save(context.WithoutCancel(ctx), r.scenario); err != nil {
		return fmt.Errorf("failed to save scenario %s: %w", r.scenario.ID, err)
	}

	return nil
}

// prepare walks a protocol in topological order and invalidates what changed:
// ERROR, SKIPPED and interrupted processes are reset, a SUCCESS task whose
// fingerprint changed is reset and the inputs it fed are cleared. Unchanged
// SUCCESS processes propagate their outputs again.
func (r *run) prepare(proto *models.ProcessModel, prefix string) error {
	order, err := proto.Protocol.TopologicalOrder()
	if err != nil {
		return fmt.Errorf("protocol %s: %w", pathOf(prefix, proto.InstanceName), err)
	}

	for _, p := range order {
		path := pathOf(prefix, p.InstanceName)

		if p.IsProtocol() {
			copyInterfaces(p)

			if err := r.prepare(p, path); err != nil {
				return err
			}

			if p.Status == models.ProcessStatusSuccess && allSucceeded(p) {
				if _, err := proto.Protocol.Propagate(p.InstanceName); err != nil {
					return err
				}

				continue
			}

			resetShallow(p)
			proto.Protocol.ClearDownstreamInputs(p.InstanceName)

			continue
		}

		if p.Status == models.ProcessStatusSuccess && p.Fingerprint == Fingerprint(p) {
			if _, err := proto.Protocol.Propagate(p.InstanceName); err != nil {
				return err
			}

			continue
		}

		if p.Status != models.ProcessStatusCreated {
			r.logger.Debug("Invalidating process", "instance_path", path, "status", p.Status)
			p.Reset()
		}

		proto.Protocol.ClearDownstreamInputs(p.InstanceName)
	}

	return nil
}

// runProtocol dispatches the children of a protocol pass after pass until
// nothing is ready, then settles the unreached ones.
func (r *run) runProtocol(ctx context.Context, proto *models.ProcessModel, prefix string) error {
	attempted := map[string]bool{}

	for ctx.Err() == nil {
		ready := r.collect(proto, attempted)
		if len(ready) == 0 {
			break
		}

		r.stats.passes++

		if err := r.markReady(ctx, ready); err != nil {
			return err
		}

		if err := r.dispatch(ctx, proto, prefix, ready, attempted); err != nil {
			return err
		}
	}

	return r.settleUnreached(ctx, proto, prefix)
}

func (r *run) collect(proto *models.ProcessModel, attempted map[string]bool) []*models.ProcessModel {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, err := proto.Protocol.TopologicalOrder()
	if err != nil {
		return nil
	}

	var ready []*models.ProcessModel

	for _, p := range order {
		if attempted[p.InstanceName] || !p.Status.IsPending() {
			continue
		}

		if r.isReady(proto, p) {
			ready = append(ready, p)
		}
	}

	return ready
}

// markReady persists the READY state of a pass before any of it is dispatched,
// so that waiting processes are visible while their siblings run.
func (r *run) markReady(ctx context.Context, ready []*models.ProcessModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false

	for _, p := range ready {
		if p.MarkReady() {
			changed = true
		}
	}

	if !changed {
		return nil
	}

	return r.save(ctx, r.session)
}

func (r *run) isReady(proto *models.ProcessModel, p *models.ProcessModel) bool {
	if !p.IsProtocol() {
		factory, err := r.registry.TaskFactory(p.Typing)
		if err != nil {
			// dispatched so that the failure is recorded on the process
			return true
		}

		if gate, ok := factory.(protocol.ReadyGate); ok {
			params, err := r.registry.Params(p)
			if err != nil {
				return true
			}

			return gate.CheckBeforeRun(params, p.Inputs.ResourceIDs())
		}
	}

	return inputsReady(proto, p)
}

func inputsReady(proto *models.ProcessModel, p *models.ProcessModel) bool {
	for _, in := range p.Inputs {
		c := proto.Protocol.InputConnector(p.InstanceName, in.Name)
		if c == nil {
			if !in.IsReady() {
				return false
			}

			continue
		}

		producer := proto.Protocol.Process(c.FromProcess)
		if producer == nil {
			return false
		}

		if in.Skippable {
			if !producer.Status.IsSettled() {
				return false
			}

			continue
		}

		if producer.Status != models.ProcessStatusSuccess || !in.IsReady() {
			return false
		}
	}

	return true
}

// dispatch starts the async processes of a pass on their own workers and runs
// the others inline, then waits for the workers.
func (r *run) dispatch(ctx context.Context, proto *models.ProcessModel, prefix string, ready []*models.ProcessModel, attempted map[string]bool) error {
	var (
		g      errgroup.Group
		inline []*models.ProcessModel
	)

	for _, p := range ready {
		attempted[p.InstanceName] = true

		if !r.isAsync(p) {
			inline = append(inline, p)
			continue
		}

		g.Go(func() error {
			return WorkerScope(ctx, r.logger, r.persistence, func(session persistence.Session) error {
				return r.executeTask(ctx, session, proto, prefix, p)
			})
		})
	}

	for _, p := range inline {
		if ctx.Err() != nil {
			break
		}

		var err error
		if p.IsProtocol() {
			err = r.executeProtocol(ctx, proto, prefix, p)
		} else {
			err = r.executeTask(ctx, r.session, proto, prefix, p)
		}

		if err != nil {
			_ = g.Wait()
			return err
		}
	}

	return g.Wait()
}

func (r *run) isAsync(p *models.ProcessModel) bool {
	if p.IsProtocol() || r.persistence == nil {
		return false
	}

	factory, err := r.registry.TaskFactory(p.Typing)

	return err == nil && protocol.IsAsync(factory)
}

// settleUnreached closes a protocol level: after a cancellation or a failure
// every process still pending is SKIPPED, and interrupted ones are ERROR.
func (r *run) settleUnreached(ctx context.Context, proto *models.ProcessModel, prefix string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cancelled := ctx.Err() != nil
	if !cancelled && firstError(proto) == nil {
		return nil
	}

	changed := false

	for _, p := range proto.Protocol.Processes {
		switch {
		case p.Status == models.ProcessStatusRunning:
			p.MarkError(stoppedError(pathOf(prefix, p.InstanceName)), r.now())
			changed = true
		case p.Status.IsPending():
			p.MarkSkipped()
			r.metrics.ProcessSettled(p.Typing, string(models.ProcessStatusSkipped))
			changed = true
		}
	}

	if !changed {
		return nil
	}

	return r.save(ctx, r.session)
}

func (r *run) finishScenario(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	root := r.scenario.Protocol
	now := r.now()

	switch {
	case ctx.Err() != nil:
		root.MarkError(stoppedError(""), now)
		r.scenario.MarkError(stoppedError(""), now)
	case firstError(root) != nil:
		perr := firstError(root)
		root.MarkError(perr, now)
		r.scenario.MarkError(perr, now)
	case allSucceeded(root):
		root.MarkSuccess(now)
		r.scenario.MarkSuccess(now)
	default:
		root.Status = models.ProcessStatusCreated
		r.scenario.MarkPartiallyRun(now)
	}
}

// executeProtocol runs a sub-protocol as one unit: outer inputs are copied
// through its interfaces, its children run, and outerface outputs are copied out.
func (r *run) executeProtocol(ctx context.Context, parent *models.ProcessModel, prefix string, p *models.ProcessModel) error {
	path := pathOf(prefix, p.InstanceName)

	r.mu.Lock()
	p.MarkRunning(r.now())
	copyInterfaces(p)
	err := r.save(ctx, r.session)
	r.mu.Unlock()

	if err != nil {
		return err
	}

	r.logger.DebugContext(ctx, "Running sub-protocol", "instance_path", path)

	if err := r.runProtocol(ctx, p, path); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	switch {
	case ctx.Err() != nil:
		p.MarkError(stoppedError(path), now)
	case firstError(p) != nil:
		perr := firstError(p).WithParent(p.InstanceName)
		perr.InstancePath = path
		p.MarkError(perr, now)
	case allSucceeded(p):
		if invalid := copyOuterfaces(p); invalid != nil {
			p.MarkError(toProcessError(invalid, path), now)
			break
		}

		p.MarkSuccess(now)

		if _, err := parent.Protocol.Propagate(p.InstanceName); err != nil {
			return fmt.Errorf("failed to propagate outputs of %s: %w", path, err)
		}
	default:
		// some children could not be reached; the protocol waits for a next run
		p.Status = models.ProcessStatusCreated
	}

	if p.Status == models.ProcessStatusError {
		r.logger.ErrorContext(ctx, "Sub-protocol failed", "instance_path", path, "error", p.Error)
	}

	r.metrics.ProcessSettled(p.Typing, string(p.Status))

	return r.save(ctx, r.session)
}

// executeTask runs one task on the given session. Task failures are stored on
// the process; the returned error is always an engine fault.
func (r *run) executeTask(ctx context.Context, session persistence.Session, proto *models.ProcessModel, prefix string, p *models.ProcessModel) error {
	path := pathOf(prefix, p.InstanceName)
	logger := r.logger.With("instance_path", path, "typing", p.Typing)

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "task.run",
		attribute.String(otelhelper.ScenarioIDKey, r.scenario.ID),
		attribute.String(otelhelper.InstancePathKey, path),
		attribute.String(otelhelper.TypingKey, p.Typing),
	)
	defer span.End()

	factory, err := r.registry.TaskFactory(p.Typing)
	if err != nil {
		return r.fail(ctx, session, logger, span, p, path, &ConfigError{Typing: p.Typing, Err: err})
	}

	params, err := r.registry.Params(p)
	if err != nil {
		return r.fail(ctx, session, logger, span, p, path, &ConfigError{Typing: p.Typing, Err: err})
	}

	r.mu.Lock()
	p.MarkRunning(r.now())
	bound := p.Inputs.ResourceIDs()
	r.stats.executed++
	err = r.save(ctx, session)
	r.mu.Unlock()

	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Running task")

	resources := r.resources.Bind(session)

	_, gated := factory.(protocol.ReadyGate)

	inputs, err := loadInputs(ctx, resources, p.Inputs, bound, gated)
	if err != nil {
		return r.fail(ctx, session, logger, span, p, path, err)
	}

	task, err := factory.Create(ctx, protocol.Dependencies{
		Logger:    logger,
		Resources: resources,
		Progress:  &progressReporter{run: r, session: session, process: p},
	})
	if err != nil {
		return r.fail(ctx, session, logger, span, p, path, &ConfigError{Typing: p.Typing, Err: err})
	}

	start := r.clock.Now()
	outputs, err := runTask(ctx, task, params, inputs)
	r.metrics.TaskDuration(p.Typing, r.clock.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			err = &TaskRuntimeError{Err: errors.Join(ErrStopped, err)}
		}

		return r.fail(ctx, session, logger, span, p, path, err)
	}

	if invalid := validateOutputs(p.Outputs, outputs); invalid != nil {
		return r.fail(ctx, session, logger, span, p, path, invalid)
	}

	ids := make(map[string]string, len(outputs))

	for name, resource := range outputs {
		if resource.ResourceID() != "" {
			ids[name] = resource.ResourceID()
			continue
		}

		model, err := resources.Store(ctx, resource, r.scenario.ID, path)
		if err != nil {
			otelhelper.SetError(span, otelhelper.KindStorage, err)
			return fmt.Errorf("failed to store output %s of %s: %w", name, path, err)
		}

		ids[name] = model.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, id := range ids {
		if err := p.Output(name).Bind(id, outputs[name].ResourceType()); err != nil {
			p.MarkError(toProcessError(&InvalidOutputError{WrongType: []string{name}}, path), r.now())
			r.metrics.ProcessSettled(p.Typing, string(p.Status))

			return r.save(ctx, session)
		}
	}

	p.Fingerprint = fingerprint(p.Typing, p.Config, bound)
	p.MarkSuccess(r.now())

	if _, err := proto.Protocol.Propagate(p.InstanceName); err != nil {
		return fmt.Errorf("failed to propagate outputs of %s: %w", path, err)
	}

	r.metrics.ProcessSettled(p.Typing, string(p.Status))
	logger.InfoContext(ctx, "Task succeeded")

	return r.save(ctx, session)
}

func (r *run) fail(
	ctx context.Context,
	session persistence.Session,
	logger *slog.Logger,
	span trace.Span,
	p *models.ProcessModel,
	path string,
	cause error,
) error {
	perr := toProcessError(cause, path)

	logger.ErrorContext(ctx, "Task failed", "kind", perr.Kind, "error", cause)
	otelhelper.SetError(span, string(perr.Kind), cause, attribute.String(otelhelper.InstancePathKey, path))

	r.mu.Lock()
	defer r.mu.Unlock()

	p.MarkError(perr, r.now())
	r.metrics.ProcessSettled(p.Typing, string(p.Status))

	return r.save(ctx, session)
}

// progressReporter saves the progress of one task through the session the
// task runs on.
type progressReporter struct {
	run     *run
	session persistence.Session
	process *models.ProcessModel
}

func (pr *progressReporter) SetProgress(ctx context.Context, value float64, message string) error {
	return pr.update(ctx, func(progress *models.Progress, now time.Time) {
		progress.SetValue(value, message, now)
	})
}

func (pr *progressReporter) Message(ctx context.Context, level models.MessageLevel, text string) error {
	return pr.update(ctx, func(progress *models.Progress, now time.Time) {
		progress.Add(level, text, now)
	})
}

func (pr *progressReporter) update(ctx context.Context, fn func(*models.Progress, time.Time)) error {
	r := pr.run

	r.mu.Lock()
	defer r.mu.Unlock()

	if pr.process.Status != models.ProcessStatusRunning {
		return fmt.Errorf("%w: progress reported for %s", ErrNotRunning, pr.process.InstanceName)
	}

	if pr.process.Progress == nil {
		pr.process.Progress = models.NewProgress()
	}

	fn(pr.process.Progress, r.now())

	return r.save(ctx, pr.session)
}

func runTask(ctx context.Context, task protocol.Task, params config.Params, inputs protocol.Inputs) (outputs protocol.Outputs, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			outputs = nil
			err = &TaskRuntimeError{Err: fmt.Errorf("%v", recovered), Panicked: true}
		}
	}()

	outputs, err = task.Run(ctx, params, inputs)
	if err != nil {
		return nil, &TaskRuntimeError{Err: err}
	}

	return outputs, nil
}

func loadInputs(
	ctx context.Context,
	resources ResourceStore,
	ports models.Ports,
	bound map[string]string,
	gated bool,
) (protocol.Inputs, error) {
	inputs := make(protocol.Inputs, len(bound))

	for _, port := range ports {
		id, ok := bound[port.Name]
		if !ok {
			if !gated && !port.Optional && !port.Skippable {
				return nil, &MissingInputError{Port: port.Name}
			}

			continue
		}

		resource, err := resources.Load(ctx, id)
		if err != nil {
			return nil, &MissingInputError{Port: port.Name, ResourceID: id, Err: err}
		}

		if !port.Accepts(resource.ResourceType()) {
			return nil, &MissingInputError{
				Port:       port.Name,
				ResourceID: id,
				Err:        fmt.Errorf("%w: accepts %v, got %s", models.ErrIncompatibleResource, port.ResourceTypes, resource.ResourceType()),
			}
		}

		inputs[port.Name] = resource
	}

	return inputs, nil
}

func validateOutputs(ports models.Ports, outputs protocol.Outputs) *InvalidOutputError {
	invalid := &InvalidOutputError{}

	for _, port := range ports {
		resource, ok := outputs[port.Name]
		if !ok || resource == nil {
			if !port.Optional {
				invalid.Missing = append(invalid.Missing, port.Name)
			}

			continue
		}

		if !port.Accepts(resource.ResourceType()) {
			invalid.WrongType = append(invalid.WrongType, port.Name)
		}
	}

	for name, resource := range outputs {
		if ports.Get(name) == nil && resource != nil {
			invalid.Undeclared = append(invalid.Undeclared, name)
		}
	}

	if invalid.empty() {
		return nil
	}

	sort.Strings(invalid.Undeclared)

	return invalid
}

func copyInterfaces(p *models.ProcessModel) {
	for _, face := range p.Protocol.Interfaces {
		outer := p.Input(face.Name)
		inner := p.Protocol.Process(face.Process)

		if outer == nil || inner == nil || inner.Input(face.Port) == nil {
			continue
		}

		inner.Input(face.Port).ResourceID = outer.ResourceID
	}
}

func copyOuterfaces(p *models.ProcessModel) *InvalidOutputError {
	invalid := &InvalidOutputError{}

	for _, face := range p.Protocol.Outerfaces {
		outer := p.Output(face.Name)
		inner := p.Protocol.Process(face.Process)

		if outer == nil {
			continue
		}

		var port *models.Port
		if inner != nil {
			port = inner.Output(face.Port)
		}

		if port == nil || !port.IsBound() {
			if !outer.Optional {
				invalid.Missing = append(invalid.Missing, face.Name)
			}

			continue
		}

		outer.ResourceID = port.ResourceID
	}

	if invalid.empty() {
		return nil
	}

	return invalid
}

// resetShallow puts a protocol back to CREATED without touching its children.
func resetShallow(p *models.ProcessModel) {
	p.Status = models.ProcessStatusCreated
	p.Error = nil
	p.StartedAt = nil
	p.EndedAt = nil

	for _, out := range p.Outputs {
		out.Unbind()
	}
}

func allSucceeded(p *models.ProcessModel) bool {
	for _, child := range p.Protocol.Processes {
		if child.Status != models.ProcessStatusSuccess {
			return false
		}
	}

	return true
}

func firstError(p *models.ProcessModel) *models.ProcessError {
	for _, child := range p.Protocol.Processes {
		if child.Status == models.ProcessStatusError {
			if child.Error != nil {
				return child.Error
			}

			return &models.ProcessError{Kind: models.ErrorKindRuntime, Message: "process failed", InstancePath: child.InstanceName}
		}
	}

	return nil
}

func pathOf(prefix, name string) string {
	if prefix == "" {
		return name
	}

	return prefix + "." + name
}
