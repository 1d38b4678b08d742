package services_test

import (
	"testing"

	"github.com/dukex/labflow/pkg/definition"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/services"
	"github.com/dukex/labflow/pkg/tasks/plug"
	"github.com/dukex/labflow/pkg/tasks/text"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Create(t *testing.T) {
	e := newEnv(t)

	_, err := e.scenarios.Create(t.Context(), "  ", "", "alice")
	require.ErrorIs(t, err, services.ErrTitleRequired)
	assert.True(t, services.IsValidationError(err))

	s := e.scenario(t)
	assert.Equal(t, models.ScenarioStatusDraft, s.Status)
	assert.True(t, s.Protocol.IsProtocol())

	list, err := e.scenarios.List(t.Context(), models.ScenarioStatusDraft)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestScenarios_BuildAndRun(t *testing.T) {
	e := newEnv(t)
	s := e.scenario(t)

	e.addTask(t, s.ID, "", "create", text.CreateID, map[string]any{"value": "hi"})
	e.addTask(t, s.ID, "", "upper", text.UpperID, nil)
	s = e.connect(t, s.ID, "", "create", text.PortText, "upper", text.PortText)
	assert.Equal(t, models.ScenarioStatusDraft, s.Status)

	s = e.runQueued(t, s.ID)
	require.Equal(t, models.ScenarioStatusSuccess, s.Status)

	upper := s.Protocol.Protocol.Process("upper")
	assert.Equal(t, "HI", e.content(t, upper.Output(text.PortText).ResourceID))

	generated, err := e.resources.List(t.Context(), s.ID)
	require.NoError(t, err)
	assert.Len(t, generated, 2)
}

func TestScenarios_SetConfigRerunsChangedTask(t *testing.T) {
	e := newEnv(t)
	s := e.scenario(t)

	e.addTask(t, s.ID, "", "create", text.CreateID, map[string]any{"value": "hi"})
	e.addTask(t, s.ID, "", "upper", text.UpperID, nil)
	e.connect(t, s.ID, "", "create", text.PortText, "upper", text.PortText)
	e.runQueued(t, s.ID)

	_, err := e.scenarios.SetConfig(t.Context(), s.ID, "create", map[string]any{"value": "bye"}, "bob")
	require.NoError(t, err)

	s = e.runQueued(t, s.ID)
	require.Equal(t, models.ScenarioStatusSuccess, s.Status)
	assert.Equal(t, "bob", s.LastModifiedBy)

	upper := s.Protocol.Protocol.Process("upper")
	assert.Equal(t, "BYE", e.content(t, upper.Output(text.PortText).ResourceID))
}

func TestScenarios_EditErrors(t *testing.T) {
	e := newEnv(t)
	s := e.scenario(t)
	e.addTask(t, s.ID, "", "create", text.CreateID, map[string]any{"value": "hi"})

	tests := []struct {
		name string
		edit func() error
		is   error
	}{
		{
			name: "unknown typing",
			edit: func() error {
				_, err := e.scenarios.AddTask(t.Context(), s.ID, "", "x", "nope", nil, "alice")
				return err
			},
		},
		{
			name: "duplicate instance name",
			edit: func() error {
				_, err := e.scenarios.AddTask(t.Context(), s.ID, "", "create", text.CreateID, map[string]any{"value": "x"}, "alice")
				return err
			},
			is: models.ErrDuplicateInstanceName,
		},
		{
			name: "invalid config",
			edit: func() error {
				_, err := e.scenarios.SetConfig(t.Context(), s.ID, "create", map[string]any{"value": 12}, "alice")
				return err
			},
		},
		{
			name: "unknown parent protocol",
			edit: func() error {
				_, err := e.scenarios.AddTask(t.Context(), s.ID, "missing", "x", text.UpperID, nil, "alice")
				return err
			},
			is: models.ErrProcessNotFound,
		},
		{
			name: "cycle",
			edit: func() error {
				_, err := e.scenarios.Connect(t.Context(), s.ID, "", models.Connector{
					FromProcess: "create", FromPort: text.PortText, ToProcess: "create", ToPort: text.PortText,
				}, "alice")
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.edit()
			require.Error(t, err)
			assert.True(t, services.IsValidationError(err), "got %v", err)

			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}

	stored, err := e.scenarios.Get(t.Context(), s.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Protocol.Protocol.Processes, 1, "failed edits are not saved")
}

func TestScenarios_AutoRunOnEdit(t *testing.T) {
	e := newEnv(t)
	res, err := e.resources.Upload(t.Context(), "text", "greeting", []byte("hello"))
	require.NoError(t, err)

	s := e.scenario(t)
	s = e.addTask(t, s.ID, "", "source", plug.SourceID, map[string]any{"resource_id": res.ID})

	source := s.Protocol.Protocol.Process("source")
	assert.Equal(t, models.ProcessStatusSuccess, source.Status)
	assert.Equal(t, res.ID, source.Output(plug.PortResource).ResourceID)

	e.addTask(t, s.ID, "", "upper", text.UpperID, nil)
	s = e.connect(t, s.ID, "", "source", plug.PortResource, "upper", text.PortText)

	upper := s.Protocol.Protocol.Process("upper")
	assert.Equal(t, res.ID, upper.Input(text.PortText).ResourceID, "connect propagates bound outputs")
	assert.Equal(t, models.ProcessStatusCreated, upper.Status, "regular tasks wait for a queued run")
	assert.Equal(t, models.ScenarioStatusPartiallyRun, s.Status)
}

func TestScenarios_NestedProtocol(t *testing.T) {
	e := newEnv(t)
	s := e.scenario(t)

	_, err := e.scenarios.AddProtocol(t.Context(), s.ID, "", "sub", "alice")
	require.NoError(t, err)

	e.addTask(t, s.ID, "sub", "upper", text.UpperID, nil)

	_, err = e.scenarios.Expose(t.Context(), s.ID, "sub", models.PortDirectionInput, "in", "upper", text.PortText, "alice")
	require.NoError(t, err)

	_, err = e.scenarios.Expose(t.Context(), s.ID, "sub", models.PortDirectionOutput, "out", "upper", text.PortText, "alice")
	require.NoError(t, err)

	e.addTask(t, s.ID, "", "create", text.CreateID, map[string]any{"value": "deep"})
	e.connect(t, s.ID, "", "create", text.PortText, "sub", "in")

	s = e.runQueued(t, s.ID)
	require.Equal(t, models.ScenarioStatusSuccess, s.Status)

	sub := s.Protocol.Protocol.Process("sub")
	assert.Equal(t, "DEEP", e.content(t, sub.Output("out").ResourceID))
}

func TestScenarios_RemoveProcess(t *testing.T) {
	e := newEnv(t)
	res, err := e.resources.Upload(t.Context(), "text", "greeting", []byte("hello"))
	require.NoError(t, err)

	s := e.scenario(t)
	e.addTask(t, s.ID, "", "source", plug.SourceID, map[string]any{"resource_id": res.ID})
	e.addTask(t, s.ID, "", "upper", text.UpperID, nil)
	e.connect(t, s.ID, "", "source", plug.PortResource, "upper", text.PortText)

	s, err = e.scenarios.RemoveProcess(t.Context(), s.ID, "source", "alice")
	require.NoError(t, err)

	assert.Nil(t, s.Protocol.Protocol.Process("source"))
	assert.Empty(t, s.Protocol.Protocol.Connectors)
	assert.Empty(t, s.Protocol.Protocol.Process("upper").Input(text.PortText).ResourceID)
}

func TestScenarios_BindInput(t *testing.T) {
	e := newEnv(t)
	res, err := e.resources.Upload(t.Context(), "text", "greeting", []byte("bound"))
	require.NoError(t, err)

	s := e.scenario(t)
	e.addTask(t, s.ID, "", "upper", text.UpperID, nil)

	_, err = e.scenarios.BindInput(t.Context(), s.ID, "upper", text.PortText, res.ID, "alice")
	require.NoError(t, err)

	s = e.runQueued(t, s.ID)
	require.Equal(t, models.ScenarioStatusSuccess, s.Status)
	assert.Equal(t, "BOUND", e.content(t, s.Protocol.Protocol.Process("upper").Output(text.PortText).ResourceID))
}

func TestScenarios_Lifecycle(t *testing.T) {
	e := newEnv(t)
	s := e.scenario(t)
	e.addTask(t, s.ID, "", "create", text.CreateID, map[string]any{"value": "hi"})

	_, err := e.scenarios.Validate(t.Context(), s.ID, "alice")
	require.ErrorIs(t, err, models.ErrScenarioNotSuccessful)

	_, err = e.scenarios.Submit(t.Context(), s.ID, "alice")
	require.NoError(t, err)

	_, err = e.scenarios.AddTask(t.Context(), s.ID, "", "upper", text.UpperID, nil, "alice")
	require.ErrorIs(t, err, models.ErrScenarioAlreadyQueued)
	assert.True(t, services.IsConflictError(err))

	err = e.scenarios.Delete(t.Context(), s.ID)
	require.ErrorIs(t, err, services.ErrScenarioBusy)

	stopped, err := e.scenarios.Stop(t.Context(), s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ScenarioStatusDraft, stopped.Status)

	s = e.runQueued(t, s.ID)
	require.Equal(t, models.ScenarioStatusSuccess, s.Status)

	validated, err := e.scenarios.Validate(t.Context(), s.ID, "carol")
	require.NoError(t, err)
	assert.True(t, validated.Validated)
	assert.Equal(t, "carol", validated.LastModifiedBy)

	_, err = e.scenarios.Submit(t.Context(), s.ID, "alice")
	require.ErrorIs(t, err, models.ErrScenarioValidated)

	_, err = e.scenarios.SetConfig(t.Context(), s.ID, "create", map[string]any{"value": "x"}, "alice")
	require.ErrorIs(t, err, models.ErrScenarioValidated)

	require.NoError(t, e.scenarios.Delete(t.Context(), s.ID))

	_, err = e.scenarios.Get(t.Context(), s.ID)
	assert.True(t, services.IsNotFound(err))
}

func TestScenarios_CreateFromScenario(t *testing.T) {
	e := newEnv(t)
	s := e.scenario(t)
	e.addTask(t, s.ID, "", "create", text.CreateID, map[string]any{"value": "hi"})
	e.addTask(t, s.ID, "", "upper", text.UpperID, nil)
	e.connect(t, s.ID, "", "create", text.PortText, "upper", text.PortText)
	source := e.runQueued(t, s.ID)

	copied, err := e.scenarios.CreateFromScenario(t.Context(), s.ID, "", "bob")
	require.NoError(t, err)

	assert.NotEqual(t, source.ID, copied.ID)
	assert.Equal(t, "experiment (copy)", copied.Title)
	assert.Equal(t, models.ScenarioStatusDraft, copied.Status)
	assert.Equal(t, models.CreationTypeAuto, copied.CreationType)

	for _, name := range []string{"create", "upper"} {
		original := source.Protocol.Protocol.Process(name)
		p := copied.Protocol.Protocol.Process(name)

		assert.NotEqual(t, original.ID, p.ID)
		assert.Equal(t, models.ProcessStatusCreated, p.Status)
		assert.Empty(t, p.Output(text.PortText).ResourceID)
	}

	assert.Empty(t, copied.Protocol.Protocol.Process("upper").Input(text.PortText).ResourceID)
	assert.Len(t, copied.Protocol.Protocol.Connectors, 1)
}

func TestScenarios_HealthCheck(t *testing.T) {
	e := newEnv(t)

	message, ok := e.scenarios.HealthCheck(t.Context())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)
}

func TestCatalog(t *testing.T) {
	e := newEnv(t)

	infos := services.Catalog(e.registry)
	require.NotEmpty(t, infos)

	byID := map[string]services.TaskInfo{}
	for _, info := range infos {
		byID[info.ID] = info
	}

	require.Contains(t, byID, plug.SourceID)
	assert.True(t, byID[plug.SourceID].AutoRun)
	assert.Contains(t, byID, text.UpperID)
}

func TestScenarios_CreateFromDefinition(t *testing.T) {
	e := newEnv(t)

	def, err := definition.Parse([]byte(`
title: shout
protocol:
  processes:
    - {name: create, task: text.create, config: {value: hey}}
    - {name: upper, task: text.upper}
  connectors:
    - {from: "create:text", to: "upper:text"}
`), definition.FormatYAML)
	require.NoError(t, err)

	s, err := e.scenarios.CreateFromDefinition(t.Context(), def, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ScenarioStatusDraft, s.Status)

	s = e.runQueued(t, s.ID)
	require.Equal(t, models.ScenarioStatusSuccess, s.Status)
	assert.Equal(t, "HEY", e.content(t, s.Protocol.Protocol.Process("upper").Output(text.PortText).ResourceID))

	def.Protocol.Processes[1].Task = "text.nope"
	_, err = e.scenarios.CreateFromDefinition(t.Context(), def, "alice")
	assert.True(t, services.IsValidationError(err))
}
