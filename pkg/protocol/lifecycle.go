package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/labflow/pkg/models"
)

// ResourceLoader gives tasks access to existing resources.
type ResourceLoader interface {
	Load(ctx context.Context, resourceID string) (Resource, error)
	Flag(ctx context.Context, resourceID string, flagged bool) error
}

// ProgressReporter stores the progress of a running task on its process,
// where clients read it while the scenario runs.
type ProgressReporter interface {
	// SetProgress sets the value, between 0 and 100, with an optional INFO message.
	SetProgress(ctx context.Context, value float64, message string) error
	Message(ctx context.Context, level models.MessageLevel, text string) error
}

// Dependencies contains what task instances may need from the engine.
type Dependencies struct {
	Logger    *slog.Logger
	Resources ResourceLoader
	Progress  ProgressReporter
}

// Reporter returns the progress reporter, or one that discards everything
// when the engine provided none.
func (d Dependencies) Reporter() ProgressReporter {
	if d.Progress == nil {
		return nopReporter{}
	}

	return d.Progress
}

type nopReporter struct{}

func (nopReporter) SetProgress(context.Context, float64, string) error { return nil }

func (nopReporter) Message(context.Context, models.MessageLevel, string) error { return nil }
