package web

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dukex/labflow/pkg/metrics"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// Server exposes the API handlers over HTTP.
type Server struct {
	logger   *slog.Logger
	handlers *APIHandlers
	metrics  *metrics.Metrics
	app      *fiber.App
}

// NewServer builds the application. A nil metrics disables /metrics.
func NewServer(log *slog.Logger, handlers *APIHandlers, m *metrics.Metrics) *Server {
	s := &Server{
		logger:   log.With("module", "web"),
		handlers: handlers,
		metrics:  m,
	}
	s.app = s.routes()

	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) routes() *fiber.App {
	h := s.handlers

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Labflow API")
	})

	app.Get("/health", h.HealthCheck)
	app.Get("/tasks", h.GetTasks)
	app.Get("/queue", h.GetQueue)

	if s.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	sc := app.Group("/scenarios")
	sc.Get("/", h.GetScenarios)
	sc.Post("/", h.CreateScenario)
	sc.Post("/import", h.Import)
	sc.Get("/:id", h.GetScenario)
	sc.Put("/:id/processes/:path/config", h.SetConfig)
	sc.Post("/:id/submit", h.Submit)
	sc.Delete("/:id/job", h.CancelJob)
	sc.Post("/:id/stop", h.Stop)
	sc.Post("/:id/validate", h.Validate)
	sc.Get("/:id/export", h.Export)

	if h.triggers != nil {
		sc.Post("/:id/triggers", h.CreateTrigger)
		app.Get("/triggers", h.GetTriggers)
		app.Delete("/triggers/:id", h.DeleteTrigger)
	}

	return app
}

// Start listens on port until the server fails or is shut down.
func (s *Server) Start(port int) error {
	return s.app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Shutting down HTTP server")

	return s.app.ShutdownWithContext(ctx)
}
