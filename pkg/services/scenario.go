package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/labflow/pkg/definition"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
	"github.com/dukex/labflow/pkg/queue"
	"github.com/dukex/labflow/pkg/registry"
	"github.com/dukex/labflow/pkg/workflow"
)

// Scenarios edits scenarios and drives their lifecycle.
type Scenarios struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	executor    *workflow.Executor
	queue       *queue.Queue
	service     *queue.Service
}

type ScenariosOption func(*Scenarios)

// WithQueueService lets Stop cancel runs of this host and of the others.
func WithQueueService(service *queue.Service) ScenariosOption {
	return func(s *Scenarios) {
		s.service = service
	}
}

func NewScenarios(
	logger *slog.Logger,
	p persistence.Persistence,
	reg *registry.Registry,
	executor *workflow.Executor,
	q *queue.Queue,
	opts ...ScenariosOption,
) *Scenarios {
	s := &Scenarios{
		logger:      logger.With("module", "scenarios"),
		persistence: p,
		registry:    reg,
		executor:    executor,
		queue:       q,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// HealthCheck checks the health of the persistence layer.
func (s *Scenarios) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create stores a new DRAFT scenario with an empty root protocol.
func (s *Scenarios) Create(ctx context.Context, title, folderID, userID string) (*models.Scenario, error) {
	if strings.TrimSpace(title) == "" {
		return nil, ErrTitleRequired
	}

	scenario := models.NewScenario(title, folderID, userID)

	if err := s.persistence.ScenarioRepository().Save(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to save scenario: %w", err)
	}

	s.logger.InfoContext(ctx, "Scenario created", "scenario_id", scenario.ID)

	return scenario, nil
}

// Save stores a scenario built elsewhere, such as from a definition file,
// after checking its protocol against the registry.
func (s *Scenarios) Save(ctx context.Context, scenario *models.Scenario) error {
	if strings.TrimSpace(scenario.Title) == "" {
		return ErrTitleRequired
	}

	if err := s.checkProtocol(scenario); err != nil {
		return err
	}

	return s.persistence.ScenarioRepository().Save(ctx, scenario)
}

// CreateFromDefinition builds and stores the scenario described by def.
func (s *Scenarios) CreateFromDefinition(ctx context.Context, def *definition.Definition, userID string) (*models.Scenario, error) {
	scenario, err := definition.Build(ctx, s.registry, def, resourceGetter{s.persistence.ResourceRepository()}, userID)
	if err != nil {
		return nil, err
	}

	if err := s.Save(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to save scenario: %w", err)
	}

	s.logger.InfoContext(ctx, "Scenario created from definition", "scenario_id", scenario.ID, "title", scenario.Title)

	return scenario, nil
}

type resourceGetter struct {
	repo persistence.ResourceRepository
}

func (g resourceGetter) Get(ctx context.Context, resourceID string) (*models.ResourceModel, error) {
	return g.repo.GetByID(ctx, resourceID)
}

// CreateFromScenario copies the protocol of another scenario into a new
// DRAFT scenario. Generated outputs are not carried over.
func (s *Scenarios) CreateFromScenario(ctx context.Context, sourceID, title, userID string) (*models.Scenario, error) {
	source, err := s.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	if title == "" {
		title = source.Title + " (copy)"
	}

	scenario := models.NewScenario(title, source.FolderID, userID)

	protocol, err := cloneProcess(source.Protocol)
	if err != nil {
		return nil, err
	}

	protocol.Reset()
	clearFedInputs(protocol)

	if err := protocol.Walk(func(_ string, p *models.ProcessModel) error {
		p.ID = models.NewID()
		clearFedInputs(p)

		return nil
	}); err != nil {
		return nil, err
	}

	scenario.Protocol = protocol
	scenario.CreationType = models.CreationTypeAuto

	if err := s.persistence.ScenarioRepository().Save(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to save scenario: %w", err)
	}

	s.logger.InfoContext(ctx, "Scenario copied", "scenario_id", scenario.ID, "source_id", sourceID)

	return scenario, nil
}

func (s *Scenarios) Get(ctx context.Context, id string) (*models.Scenario, error) {
	return s.persistence.ScenarioRepository().GetByID(ctx, id)
}

// List returns every scenario, or the scenarios with the given status.
func (s *Scenarios) List(ctx context.Context, status models.ScenarioStatus) ([]*models.Scenario, error) {
	if status == "" {
		return s.persistence.ScenarioRepository().List(ctx)
	}

	return s.persistence.ScenarioRepository().ListByStatus(ctx, status)
}

// AddTask adds a task of the given typing to the protocol at parentPath
// (empty for the root protocol).
func (s *Scenarios) AddTask(ctx context.Context, scenarioID, parentPath, instanceName, typing string, values map[string]any, userID string) (*models.Scenario, error) {
	return s.edit(ctx, scenarioID, userID, func(root *models.ProcessModel) error {
		parent, err := protocolAt(root, parentPath)
		if err != nil {
			return err
		}

		task, err := s.registry.NewTaskModel(instanceName, typing, values)
		if err != nil {
			return err
		}

		return parent.Protocol.AddProcess(task)
	})
}

// AddProtocol adds an empty sub-protocol to the protocol at parentPath.
func (s *Scenarios) AddProtocol(ctx context.Context, scenarioID, parentPath, instanceName, userID string) (*models.Scenario, error) {
	return s.edit(ctx, scenarioID, userID, func(root *models.ProcessModel) error {
		parent, err := protocolAt(root, parentPath)
		if err != nil {
			return err
		}

		return parent.Protocol.AddProcess(models.NewProtocolModel(instanceName))
	})
}

// Expose adds an interface (input direction) or an outerface (output
// direction) on the protocol at protocolPath.
func (s *Scenarios) Expose(ctx context.Context, scenarioID, protocolPath string, direction models.PortDirection, name, process, port, userID string) (*models.Scenario, error) {
	return s.edit(ctx, scenarioID, userID, func(root *models.ProcessModel) error {
		proto, err := protocolAt(root, protocolPath)
		if err != nil {
			return err
		}

		switch direction {
		case models.PortDirectionInput:
			return proto.AddInterface(name, process, port)
		case models.PortDirectionOutput:
			return proto.AddOuterface(name, process, port)
		default:
			return models.ErrInvalidDirection
		}
	})
}

// Connect links two children of the protocol at parentPath.
func (s *Scenarios) Connect(ctx context.Context, scenarioID, parentPath string, connector models.Connector, userID string) (*models.Scenario, error) {
	return s.edit(ctx, scenarioID, userID, func(root *models.ProcessModel) error {
		parent, err := protocolAt(root, parentPath)
		if err != nil {
			return err
		}

		if err := parent.Protocol.AddConnector(&connector); err != nil {
			return err
		}

		_, err = parent.Protocol.Propagate(connector.FromProcess)

		return err
	})
}

// Disconnect removes the connector feeding an input and unbinds it.
func (s *Scenarios) Disconnect(ctx context.Context, scenarioID, parentPath, toProcess, toPort, userID string) (*models.Scenario, error) {
	return s.edit(ctx, scenarioID, userID, func(root *models.ProcessModel) error {
		parent, err := protocolAt(root, parentPath)
		if err != nil {
			return err
		}

		if err := parent.Protocol.RemoveConnector(toProcess, toPort); err != nil {
			return err
		}

		if p := parent.Protocol.Process(toProcess); p != nil {
			if in := p.Input(toPort); in != nil {
				in.Unbind()
			}
		}

		return nil
	})
}

// SetConfig replaces the configuration of the task at processPath. A task
// that already succeeded is re-run by the next run because its fingerprint
// changes.
func (s *Scenarios) SetConfig(ctx context.Context, scenarioID, processPath string, values map[string]any, userID string) (*models.Scenario, error) {
	return s.edit(ctx, scenarioID, userID, func(root *models.ProcessModel) error {
		process, err := root.ProcessByPath(processPath)
		if err != nil {
			return err
		}

		if process.IsProtocol() {
			return fmt.Errorf("%w: %s has no configuration", ErrInvalidRequest, processPath)
		}

		factory, err := s.registry.TaskFactory(process.Typing)
		if err != nil {
			return err
		}

		specs := factory.ConfigSpecs()
		if _, err := specs.Build(values); err != nil {
			return err
		}

		process.Config = specs.WithDefaults(values)

		return nil
	})
}

// BindInput binds an existing resource to an unconnected input.
func (s *Scenarios) BindInput(ctx context.Context, scenarioID, processPath, port, resourceID, userID string) (*models.Scenario, error) {
	resource, err := s.persistence.ResourceRepository().GetByID(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	return s.edit(ctx, scenarioID, userID, func(root *models.ProcessModel) error {
		process, err := root.ProcessByPath(processPath)
		if err != nil {
			return err
		}

		in := process.Input(port)
		if in == nil {
			return fmt.Errorf("%w: input %s", models.ErrPortNotFound, models.MakePortID(processPath, port))
		}

		parent, name := parentOf(root, processPath)
		if parent != nil && parent.Protocol.InputConnector(name, port) != nil {
			return fmt.Errorf("%w: %s", models.ErrInputAlreadyConnected, models.MakePortID(processPath, port))
		}

		return in.Bind(resource.ID, resource.Type)
	})
}

// RemoveProcess removes the process at processPath with its connectors.
func (s *Scenarios) RemoveProcess(ctx context.Context, scenarioID, processPath, userID string) (*models.Scenario, error) {
	return s.edit(ctx, scenarioID, userID, func(root *models.ProcessModel) error {
		parent, name := parentOf(root, processPath)
		if parent == nil {
			return fmt.Errorf("%w: %s", models.ErrProcessNotFound, processPath)
		}

		parent.Protocol.ClearDownstreamInputs(name)

		return parent.RemoveProcess(name)
	})
}

// edit applies fn to the root protocol of an editable scenario, saves it and
// dispatches the auto-run tasks that became ready.
func (s *Scenarios) edit(ctx context.Context, scenarioID, userID string, fn func(root *models.ProcessModel) error) (*models.Scenario, error) {
	var scenario *models.Scenario

	err := workflow.WorkerScope(ctx, s.logger, s.persistence, func(session persistence.Session) error {
		var err error

		scenario, err = session.ScenarioRepository().GetByID(ctx, scenarioID)
		if err != nil {
			return err
		}

		if err := scenario.CheckEditable(); err != nil {
			return err
		}

		if scenario.Protocol == nil {
			return fmt.Errorf("%w: %s", models.ErrMissingProtocol, scenario.ID)
		}

		if err := fn(scenario.Protocol); err != nil {
			return err
		}

		if err := scenario.Protocol.Validate(); err != nil {
			return err
		}

		scenario.LastModifiedBy = userID
		scenario.UpdatedAt = time.Now().UTC()

		if err := session.ScenarioRepository().Save(ctx, scenario); err != nil {
			return fmt.Errorf("failed to save scenario: %w", err)
		}

		if s.executor == nil {
			return nil
		}

		return s.executor.RunAutoRun(ctx, session, scenario)
	})
	if err != nil {
		return nil, err
	}

	return scenario, nil
}

// Submit queues a scenario for a run.
func (s *Scenarios) Submit(ctx context.Context, scenarioID, userID string) (*models.Job, error) {
	scenario, err := s.Get(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	if err := s.checkProtocol(scenario); err != nil {
		return nil, err
	}

	job, err := s.queue.Add(ctx, scenarioID, userID)
	if err != nil {
		return nil, err
	}

	if s.service != nil {
		s.service.Force()
	}

	return job, nil
}

// Cancel removes a queued scenario from the queue.
func (s *Scenarios) Cancel(ctx context.Context, scenarioID string) error {
	return s.queue.Remove(ctx, scenarioID)
}

// Stop cancels a queued scenario or stops a running one. Stopping an idle
// scenario is a no-op.
func (s *Scenarios) Stop(ctx context.Context, scenarioID, userID string) (*models.Scenario, error) {
	scenario, err := s.Get(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	switch scenario.Status {
	case models.ScenarioStatusInQueue:
		if err := s.queue.Remove(ctx, scenarioID); err != nil && !persistence.IsJobNotFound(err) {
			return nil, err
		}
	case models.ScenarioStatusRunning:
		if s.service == nil {
			return nil, fmt.Errorf("%w: no queue service to stop %s", ErrInvalidRequest, scenarioID)
		}

		if err := s.service.StopScenario(ctx, scenarioID, userID); err != nil {
			return nil, err
		}
	}

	return s.Get(ctx, scenarioID)
}

// Validate freezes a successful scenario against further edits and runs.
func (s *Scenarios) Validate(ctx context.Context, scenarioID, userID string) (*models.Scenario, error) {
	scenario, err := s.Get(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	if err := scenario.Validate(userID); err != nil {
		return nil, err
	}

	scenario.UpdatedAt = time.Now().UTC()

	if err := s.persistence.ScenarioRepository().Save(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to save scenario: %w", err)
	}

	s.logger.InfoContext(ctx, "Scenario validated", "scenario_id", scenarioID, "user_id", userID)

	return scenario, nil
}

// Delete removes an idle scenario.
func (s *Scenarios) Delete(ctx context.Context, scenarioID string) error {
	scenario, err := s.Get(ctx, scenarioID)
	if err != nil {
		return err
	}

	if scenario.Status == models.ScenarioStatusInQueue || scenario.Status == models.ScenarioStatusRunning {
		return fmt.Errorf("%w: %s is %s", ErrScenarioBusy, scenarioID, scenario.Status)
	}

	if err := s.persistence.ScenarioRepository().Delete(ctx, scenarioID); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Scenario deleted", "scenario_id", scenarioID)

	return nil
}

// checkProtocol verifies the structure of the protocol and that every task
// typing is registered with a valid configuration.
func (s *Scenarios) checkProtocol(scenario *models.Scenario) error {
	if scenario.Protocol == nil || !scenario.Protocol.IsProtocol() {
		return fmt.Errorf("%w: %s", models.ErrMissingProtocol, scenario.ID)
	}

	if err := scenario.Protocol.Validate(); err != nil {
		return err
	}

	return scenario.Protocol.Walk(func(path string, p *models.ProcessModel) error {
		if p.IsProtocol() {
			return nil
		}

		if _, err := s.registry.Params(p); err != nil {
			return fmt.Errorf("process %s: %w", path, err)
		}

		return nil
	})
}

func protocolAt(root *models.ProcessModel, path string) (*models.ProcessModel, error) {
	if path == "" {
		return root, nil
	}

	p, err := root.ProcessByPath(path)
	if err != nil {
		return nil, err
	}

	if !p.IsProtocol() {
		return nil, fmt.Errorf("%w: %s", models.ErrNotAProtocol, path)
	}

	return p, nil
}

// parentOf returns the protocol holding the process at path and its instance name.
func parentOf(root *models.ProcessModel, path string) (*models.ProcessModel, string) {
	parentPath, name := "", path
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		parentPath, name = path[:idx], path[idx+1:]
	}

	parent, err := protocolAt(root, parentPath)
	if err != nil {
		return nil, name
	}

	return parent, name
}

// clearFedInputs unbinds the inputs fed by connectors inside a protocol.
func clearFedInputs(p *models.ProcessModel) {
	if !p.IsProtocol() {
		return
	}

	for _, child := range p.Protocol.Processes {
		p.Protocol.ClearDownstreamInputs(child.InstanceName)
	}
}

func cloneProcess(p *models.ProcessModel) (*models.ProcessModel, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to copy protocol: %w", err)
	}

	var clone models.ProcessModel
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("failed to copy protocol: %w", err)
	}

	return &clone, nil
}
