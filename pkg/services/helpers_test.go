package services_test

import (
	"testing"

	"github.com/dukex/labflow/pkg/blobstore"
	"github.com/dukex/labflow/pkg/log"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
	"github.com/dukex/labflow/pkg/persistence/file"
	"github.com/dukex/labflow/pkg/queue"
	"github.com/dukex/labflow/pkg/registry"
	"github.com/dukex/labflow/pkg/services"
	"github.com/dukex/labflow/pkg/workflow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type env struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	resources   *services.Resources
	executor    *workflow.Executor
	queue       *queue.Queue
	service     *queue.Service
	scenarios   *services.Scenarios
}

func newEnv(t *testing.T) *env {
	t.Helper()

	logger := log.NewNop()

	reg, err := registry.NewDefault(logger)
	require.NoError(t, err)

	p := file.NewPersistence(t.TempDir())
	blobs := blobstore.New("mem://localhost/services-" + uuid.NewString())
	res := services.NewResources(logger, reg, p, blobs)
	executor := workflow.NewExecutor(logger, reg, res, p)
	q := queue.NewQueue(logger, p)
	svc := queue.NewService(logger, p, executor, queue.Options{MaxConcurrent: 2})

	return &env{
		persistence: p,
		registry:    reg,
		resources:   res,
		executor:    executor,
		queue:       q,
		service:     svc,
		scenarios:   services.NewScenarios(logger, p, reg, executor, q, services.WithQueueService(svc)),
	}
}

func (e *env) scenario(t *testing.T) *models.Scenario {
	t.Helper()

	s, err := e.scenarios.Create(t.Context(), "experiment", "", "alice")
	require.NoError(t, err)

	return s
}

func (e *env) addTask(t *testing.T, scenarioID, parent, name, typing string, values map[string]any) *models.Scenario {
	t.Helper()

	s, err := e.scenarios.AddTask(t.Context(), scenarioID, parent, name, typing, values, "alice")
	require.NoError(t, err)

	return s
}

func (e *env) connect(t *testing.T, scenarioID, parent, from, fromPort, to, toPort string) *models.Scenario {
	t.Helper()

	s, err := e.scenarios.Connect(t.Context(), scenarioID, parent, models.Connector{
		FromProcess: from, FromPort: fromPort, ToProcess: to, ToPort: toPort,
	}, "alice")
	require.NoError(t, err)

	return s
}

// runQueued submits a scenario and drains the queue once.
func (e *env) runQueued(t *testing.T, scenarioID string) *models.Scenario {
	t.Helper()

	_, err := e.scenarios.Submit(t.Context(), scenarioID, "alice")
	require.NoError(t, err)

	admitted, err := e.service.Tick(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, admitted)

	e.service.Wait()

	s, err := e.scenarios.Get(t.Context(), scenarioID)
	require.NoError(t, err)

	return s
}

func (e *env) content(t *testing.T, resourceID string) string {
	t.Helper()

	data, err := e.resources.Content(t.Context(), resourceID)
	require.NoError(t, err)

	return string(data)
}
