package web

import (
	"errors"

	"github.com/dukex/labflow/pkg/export"
	"github.com/dukex/labflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps service and archive errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err) || isArchiveError(err):
		return badRequest(c, err.Error())

	case services.IsConflictError(err) || errors.Is(err, export.ErrScenarioExists):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case services.IsNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("not_found").
			WithDetail(err.Error())

		return c.Status(fiber.StatusNotFound).JSON(problem)

	default:
		return internalError(c, err)
	}
}

func isArchiveError(err error) bool {
	return errors.Is(err, export.ErrUnsupportedFormat) ||
		errors.Is(err, export.ErrMissingManifest) ||
		errors.Is(err, export.ErrMissingBlob) ||
		errors.Is(err, export.ErrInvalidCreateMode)
}
