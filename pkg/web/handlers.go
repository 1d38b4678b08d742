package web

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/labflow/pkg/definition"
	"github.com/dukex/labflow/pkg/export"
	"github.com/dukex/labflow/pkg/graph"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/queue"
	"github.com/dukex/labflow/pkg/registry"
	"github.com/dukex/labflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	scenarios *services.Scenarios
	queue     *queue.Queue
	triggers  *queue.Triggers
	exporter  *export.Exporter
	importer  *export.Importer
	registry  *registry.Registry
	validator *validator.Validate
}

func NewAPIHandlers(
	scenarios *services.Scenarios,
	q *queue.Queue,
	triggers *queue.Triggers,
	exporter *export.Exporter,
	importer *export.Importer,
	registry *registry.Registry,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		scenarios: scenarios,
		queue:     q,
		triggers:  triggers,
		exporter:  exporter,
		importer:  importer,
		registry:  registry,
		validator: validator,
	}
}

func userID(c fiber.Ctx) (string, bool) {
	id := strings.TrimSpace(c.Get(UserHeader))

	return id, id != ""
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.scenarios.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Labflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Labflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// CreateScenario builds a scenario from a YAML or JSON definition body.
func (h *APIHandlers) CreateScenario(c fiber.Ctx) error {
	user, ok := userID(c)
	if !ok {
		return badRequest(c, UserHeader+" header is required")
	}

	format := definition.FormatJSON
	if strings.Contains(c.Get(fiber.HeaderContentType), "yaml") {
		format = definition.FormatYAML
	}

	def, err := definition.Parse(c.Body(), format)
	if err != nil {
		return handleServiceError(c, err)
	}

	scenario, err := h.scenarios.CreateFromDefinition(c.Context(), def, user)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(scenario)
}

func (h *APIHandlers) GetScenarios(c fiber.Ctx) error {
	scenarios, err := h.scenarios.List(c.Context(), models.ScenarioStatus(c.Query("status")))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"scenarios": scenarios})
}

func (h *APIHandlers) GetScenario(c fiber.Ctx) error {
	scenario, err := h.scenarios.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(scenario)
}

// SetConfig replaces the configuration of the task at the dotted path.
func (h *APIHandlers) SetConfig(c fiber.Ctx) error {
	user, ok := userID(c)
	if !ok {
		return badRequest(c, UserHeader+" header is required")
	}

	var req SetConfigRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	scenario, err := h.scenarios.SetConfig(c.Context(), c.Params("id"), c.Params("path"), req.Config, user)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(scenario)
}

func (h *APIHandlers) Submit(c fiber.Ctx) error {
	user, ok := userID(c)
	if !ok {
		return badRequest(c, UserHeader+" header is required")
	}

	job, err := h.scenarios.Submit(c.Context(), c.Params("id"), user)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(job)
}

// CancelJob removes a waiting scenario from the queue.
func (h *APIHandlers) CancelJob(c fiber.Ctx) error {
	if err := h.scenarios.Cancel(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) Stop(c fiber.Ctx) error {
	user, ok := userID(c)
	if !ok {
		return badRequest(c, UserHeader+" header is required")
	}

	scenario, err := h.scenarios.Stop(c.Context(), c.Params("id"), user)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(scenario)
}

func (h *APIHandlers) Validate(c fiber.Ctx) error {
	user, ok := userID(c)
	if !ok {
		return badRequest(c, UserHeader+" header is required")
	}

	scenario, err := h.scenarios.Validate(c.Context(), c.Params("id"), user)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(scenario)
}

// Export streams a zip archive of the scenario. The resources query selects
// which resources travel with it and defaults to all.
func (h *APIHandlers) Export(c fiber.Ctx) error {
	mode := graph.ResourceModeAll

	if q := c.Query("resources"); q != "" {
		parsed, err := graph.ParseResourceMode(q)
		if err != nil {
			return handleServiceError(c, err)
		}

		mode = parsed
	}

	var buf bytes.Buffer

	id := c.Params("id")
	if _, err := h.exporter.Export(c.Context(), id, mode, &buf); err != nil {
		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+id+`.zip"`)

	return c.Send(buf.Bytes())
}

// Import creates a scenario from a zip archive body.
func (h *APIHandlers) Import(c fiber.Ctx) error {
	user, ok := userID(c)
	if !ok {
		return badRequest(c, UserHeader+" header is required")
	}

	mode, err := export.ParseCreateMode(c.Query("mode"))
	if err != nil {
		return handleServiceError(c, err)
	}

	body := c.Body()

	scenario, err := h.importer.Import(c.Context(), bytes.NewReader(body), int64(len(body)), export.ImportOptions{
		Mode:            mode,
		DefaultFolderID: c.Query("folder_id"),
		DefaultUserID:   user,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(scenario)
}

func (h *APIHandlers) GetQueue(c fiber.Ctx) error {
	jobs, err := h.queue.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(QueueResponse{
		Jobs:      jobs,
		Length:    len(jobs),
		MaxLength: h.queue.MaxLength(),
	})
}

func (h *APIHandlers) GetTasks(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"tasks": services.Catalog(h.registry)})
}

func (h *APIHandlers) CreateTrigger(c fiber.Ctx) error {
	user, ok := userID(c)
	if !ok {
		return badRequest(c, UserHeader+" header is required")
	}

	var req CreateTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	job, err := h.triggers.Create(c.Context(), c.Params("id"), req.Cron, user)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(job)
}

func (h *APIHandlers) GetTriggers(c fiber.Ctx) error {
	jobs, err := h.triggers.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"triggers": jobs})
}

func (h *APIHandlers) DeleteTrigger(c fiber.Ctx) error {
	if err := h.triggers.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
