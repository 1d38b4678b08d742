package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/labflow/pkg/blobstore"
	"github.com/dukex/labflow/pkg/eventbus"
	"github.com/dukex/labflow/pkg/export"
	"github.com/dukex/labflow/pkg/metrics"
	"github.com/dukex/labflow/pkg/otelhelper"
	"github.com/dukex/labflow/pkg/persistence"
	"github.com/dukex/labflow/pkg/queue"
	"github.com/dukex/labflow/pkg/registry"
	"github.com/dukex/labflow/pkg/services"
	"github.com/dukex/labflow/pkg/workflow"
)

// Config holds the options shared by the commands.
type Config struct {
	DatabaseURL   string
	BlobStoreURL  string
	PluginsPath   string
	MaxConcurrent int
	MaxQueue      int
	TickInterval  time.Duration
	LockProvider  string
	RedisURL      string
	EventBus      string
	KafkaBrokers  string
	Tracing       bool
}

// Engine is the wired set of components behind the commands.
type Engine struct {
	Logger      *slog.Logger
	Registry    *registry.Registry
	Persistence persistence.Persistence
	Blobs       *blobstore.Store
	EventBus    eventbus.EventBus
	Metrics     *metrics.Metrics
	Resources   *services.Resources
	Executor    *workflow.Executor
	Queue       *queue.Queue
	Service     *queue.Service
	Triggers    *queue.Triggers
	Scenarios   *services.Scenarios
	Exporter    *export.Exporter
	Importer    *export.Importer

	closers []func(ctx context.Context) error
}

// NewEngine opens every backend named by cfg. On error the backends opened so
// far are closed.
func NewEngine(ctx context.Context, logger *slog.Logger, cfg Config) (*Engine, error) {
	e := &Engine{Logger: logger, Metrics: metrics.New()}

	if err := e.open(ctx, cfg); err != nil {
		if closeErr := e.Close(context.WithoutCancel(ctx)); closeErr != nil {
			logger.ErrorContext(ctx, "Failed to close engine", "error", closeErr)
		}

		return nil, err
	}

	return e, nil
}

func (e *Engine) open(ctx context.Context, cfg Config) error {
	var err error

	e.Registry, err = NewRegistry(e.Logger, cfg.PluginsPath)
	if err != nil {
		return err
	}

	e.Persistence, err = NewPersistence(ctx, e.Logger, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}

	e.onClose(e.Persistence.Close)

	e.EventBus, err = NewEventBus(cfg.EventBus, cfg.KafkaBrokers, e.Logger)
	if err != nil {
		return err
	}

	e.onClose(func(context.Context) error { return e.EventBus.Close() })

	locker, closeLocker, err := NewLocker(ctx, cfg.LockProvider, cfg.RedisURL, e.Persistence)
	if err != nil {
		return err
	}

	e.onClose(func(context.Context) error { return closeLocker() })

	executorOpts := []workflow.Option{workflow.WithMetrics(e.Metrics)}

	if cfg.Tracing {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, "labflow")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		e.onClose(shutdown)

		executorOpts = append(executorOpts, workflow.WithTracer(tracer))
	}

	e.Blobs = blobstore.New(cfg.BlobStoreURL)
	e.Resources = services.NewResources(e.Logger, e.Registry, e.Persistence, e.Blobs).WithPublisher(e.EventBus)
	e.Executor = workflow.NewExecutor(e.Logger, e.Registry, e.Resources, e.Persistence, executorOpts...)

	queueOpts := []queue.QueueOption{queue.WithQueuePublisher(e.EventBus)}
	if cfg.MaxQueue > 0 {
		queueOpts = append(queueOpts, queue.WithMaxLength(cfg.MaxQueue))
	}

	e.Queue = queue.NewQueue(e.Logger, e.Persistence, queueOpts...)
	e.Service = queue.NewService(e.Logger, e.Persistence, e.Executor,
		queue.Options{MaxConcurrent: cfg.MaxConcurrent, TickInterval: cfg.TickInterval},
		queue.WithLocker(locker),
		queue.WithPublisher(e.EventBus),
		queue.WithMetrics(e.Metrics),
	)
	e.Triggers = queue.NewTriggers(e.Logger, e.Persistence, e.Queue)
	e.Scenarios = services.NewScenarios(e.Logger, e.Persistence, e.Registry, e.Executor, e.Queue, services.WithQueueService(e.Service))
	e.Exporter = export.NewExporter(e.Logger, e.Persistence, e.Blobs)
	e.Importer = export.NewImporter(e.Logger, e.Persistence, e.Registry, e.Resources)

	return nil
}

func (e *Engine) onClose(fn func(ctx context.Context) error) {
	e.closers = append(e.closers, fn)
}

// Start runs the queue loop, the cron triggers and the stop request handler.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Service.HandleStopRequests(e.EventBus); err != nil {
		return err
	}

	if err := e.EventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	if err := e.Service.Start(ctx); err != nil {
		return err
	}

	e.onClose(e.Service.Stop)

	if err := e.Triggers.Start(ctx); err != nil {
		return err
	}

	e.onClose(e.Triggers.Stop)

	return nil
}

// Close stops the started components and closes the backends, last opened first.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error

	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	e.closers = nil

	return errors.Join(errs...)
}
