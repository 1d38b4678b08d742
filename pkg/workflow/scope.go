package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
	"github.com/dukex/labflow/pkg/protocol"
)

// ResourceStore persists resources produced by tasks and loads the ones they
// consume. Bind returns a store operating on the given repositories, so that
// a worker uses its own session.
type ResourceStore interface {
	protocol.ResourceLoader

	Store(ctx context.Context, resource protocol.Resource, scenarioID, instancePath string) (*models.ResourceModel, error)
	Bind(repos persistence.Repositories) ResourceStore
}

// WorkerScope runs fn with a session acquired for the current goroutine and
// releases it when fn returns.
func WorkerScope(ctx context.Context, logger *slog.Logger, p persistence.Persistence, fn func(session persistence.Session) error) error {
	session, err := p.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire worker session: %w", err)
	}

	defer func() {
		if err := session.Release(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to release worker session", "error", err)
		}
	}()

	return fn(session)
}
