package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukex/labflow/pkg/blobstore"
	"github.com/dukex/labflow/pkg/export"
	"github.com/dukex/labflow/pkg/log"
	"github.com/dukex/labflow/pkg/metrics"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence/file"
	"github.com/dukex/labflow/pkg/queue"
	"github.com/dukex/labflow/pkg/registry"
	"github.com/dukex/labflow/pkg/services"
	"github.com/dukex/labflow/pkg/tasks/text"
	"github.com/dukex/labflow/pkg/web"
	"github.com/dukex/labflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shoutYAML = `
title: shout
protocol:
  processes:
    - {name: create, task: text.create, config: {value: hi}}
    - {name: upper, task: text.upper}
  connectors:
    - {from: "create:text", to: "upper:text"}
`

type testAPI struct {
	app     *fiber.App
	service *queue.Service
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()

	logger := log.NewNop()

	reg, err := registry.NewDefault(logger)
	require.NoError(t, err)

	m := metrics.New()
	p := file.NewPersistence(t.TempDir())
	blobs := blobstore.New("mem://localhost/web-" + uuid.NewString())
	res := services.NewResources(logger, reg, p, blobs)
	executor := workflow.NewExecutor(logger, reg, res, p, workflow.WithMetrics(m))
	q := queue.NewQueue(logger, p)
	svc := queue.NewService(logger, p, executor, queue.Options{MaxConcurrent: 1}, queue.WithMetrics(m))
	scenarios := services.NewScenarios(logger, p, reg, executor, q, services.WithQueueService(svc))

	handlers := web.NewAPIHandlers(
		scenarios,
		q,
		queue.NewTriggers(logger, p, q),
		export.NewExporter(logger, p, blobs),
		export.NewImporter(logger, p, reg, res),
		reg,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	return &testAPI{
		app:     web.NewServer(logger, handlers, m).App(),
		service: svc,
	}
}

func (a *testAPI) do(t *testing.T, method, path, contentType string, body []byte) (int, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(web.UserHeader, "alice")

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func (a *testAPI) create(t *testing.T) *models.Scenario {
	t.Helper()

	status, body := a.do(t, http.MethodPost, "/scenarios", "application/yaml", []byte(shoutYAML))
	require.Equal(t, http.StatusCreated, status, string(body))

	var scenario models.Scenario
	require.NoError(t, json.Unmarshal(body, &scenario))

	return &scenario
}

func (a *testAPI) scenario(t *testing.T, id string) *models.Scenario {
	t.Helper()

	status, body := a.do(t, http.MethodGet, "/scenarios/"+id, "", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var scenario models.Scenario
	require.NoError(t, json.Unmarshal(body, &scenario))

	return &scenario
}

func TestAPI_CreateAndRun(t *testing.T) {
	api := setupTestAPI(t)
	scenario := api.create(t)

	assert.Equal(t, "shout", scenario.Title)
	assert.Equal(t, "alice", scenario.CreatedBy)

	status, body := api.do(t, http.MethodPost, "/scenarios/"+scenario.ID+"/submit", "", nil)
	require.Equal(t, http.StatusAccepted, status, string(body))

	status, body = api.do(t, http.MethodGet, "/queue", "", nil)
	require.Equal(t, http.StatusOK, status)

	var q web.QueueResponse
	require.NoError(t, json.Unmarshal(body, &q))
	assert.Equal(t, 1, q.Length)

	status, _ = api.do(t, http.MethodPost, "/scenarios/"+scenario.ID+"/submit", "", nil)
	assert.Equal(t, http.StatusConflict, status)

	_, err := api.service.Tick(t.Context())
	require.NoError(t, err)
	api.service.Wait()

	scenario = api.scenario(t, scenario.ID)
	assert.Equal(t, models.ScenarioStatusSuccess, scenario.Status)

	created := scenario.Protocol.Protocol.Process("create")
	require.NotNil(t, created)
	require.NotNil(t, created.Progress, "progress is part of the scenario document")
	assert.InDelta(t, models.ProgressMax, created.Progress.Value, 0.001)

	status, body = api.do(t, http.MethodPost, "/scenarios/"+scenario.ID+"/validate", "", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	status, _ = api.do(t, http.MethodPut, "/scenarios/"+scenario.ID+"/processes/create/config", "application/json", []byte(`{"config":{"value":"x"}}`))
	assert.Equal(t, http.StatusConflict, status)

	status, body = api.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "labflow_scenario_runs_total")
}

func TestAPI_SetConfig(t *testing.T) {
	api := setupTestAPI(t)
	scenario := api.create(t)

	status, body := api.do(t, http.MethodPut, "/scenarios/"+scenario.ID+"/processes/create/config", "application/json", []byte(`{"config":{"value":"bye"}}`))
	require.Equal(t, http.StatusOK, status, string(body))

	var updated models.Scenario
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, "bye", updated.Protocol.Protocol.Process("create").Config["value"])

	status, _ = api.do(t, http.MethodPut, "/scenarios/"+scenario.ID+"/processes/create/config", "application/json", []byte(`{"config":{"value":3}}`))
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = api.do(t, http.MethodPut, "/scenarios/"+scenario.ID+"/processes/create/config", "application/json", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_Errors(t *testing.T) {
	api := setupTestAPI(t)

	tests := []struct {
		name        string
		method      string
		path        string
		contentType string
		body        string
		status      int
	}{
		{"unknown scenario", http.MethodGet, "/scenarios/" + uuid.NewString(), "", "", http.StatusNotFound},
		{"invalid definition", http.MethodPost, "/scenarios", "application/json", `{"title":""}`, http.StatusBadRequest},
		{"unknown task", http.MethodPost, "/scenarios", "application/yaml", "title: t\nprotocol:\n  processes:\n    - {name: a, task: nope}\n", http.StatusBadRequest},
		{"bad resource mode", http.MethodGet, "/scenarios/x/export?resources=some", "", "", http.StatusBadRequest},
		{"bad archive", http.MethodPost, "/scenarios/import", "application/zip", "not a zip", http.StatusBadRequest},
		{"bad cron", http.MethodPost, "/scenarios/x/triggers", "application/json", `{"cron":"every day"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := api.do(t, tt.method, tt.path, tt.contentType, []byte(tt.body))
			assert.Equal(t, tt.status, status, string(body))
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/scenarios", strings.NewReader(shoutYAML))
	req.Header.Set("Content-Type", "application/yaml")

	resp, err := api.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ExportImport(t *testing.T) {
	api := setupTestAPI(t)
	scenario := api.create(t)

	status, archive := api.do(t, http.MethodGet, "/scenarios/"+scenario.ID+"/export?resources=none", "", nil)
	require.Equal(t, http.StatusOK, status, string(archive))

	status, body := api.do(t, http.MethodPost, "/scenarios/import?mode=keep_id", "application/zip", archive)
	assert.Equal(t, http.StatusConflict, status, string(body))

	status, body = api.do(t, http.MethodPost, "/scenarios/import", "application/zip", archive)
	require.Equal(t, http.StatusCreated, status, string(body))

	var imported models.Scenario
	require.NoError(t, json.Unmarshal(body, &imported))
	assert.NotEqual(t, scenario.ID, imported.ID)
	assert.Equal(t, models.CreationTypeImported, imported.CreationType)
}

func TestAPI_TasksAndTriggers(t *testing.T) {
	api := setupTestAPI(t)

	status, body := api.do(t, http.MethodGet, "/tasks", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), text.UpperID)

	scenario := api.create(t)

	status, body = api.do(t, http.MethodPost, "/scenarios/"+scenario.ID+"/triggers", "application/json", []byte(`{"cron":"0 * * * *"}`))
	require.Equal(t, http.StatusCreated, status, string(body))

	var trigger models.TriggeredJob
	require.NoError(t, json.Unmarshal(body, &trigger))

	status, body = api.do(t, http.MethodGet, "/triggers", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), trigger.ID)

	status, _ = api.do(t, http.MethodDelete, "/triggers/"+trigger.ID, "", nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestAPI_Health(t *testing.T) {
	api := setupTestAPI(t)

	status, body := api.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "healthy")
}
