package registry

import (
	"log/slog"

	"github.com/dukex/labflow/pkg/protocol"
	"github.com/dukex/labflow/pkg/resources"
	"github.com/dukex/labflow/pkg/tasks/plug"
	"github.com/dukex/labflow/pkg/tasks/text"
)

// RegisterDefaults registers the built-in resource types and tasks.
func (r *Registry) RegisterDefaults() error {
	for _, f := range resources.Factories() {
		if err := r.RegisterResource(f); err != nil {
			return err
		}
	}

	factories := []protocol.TaskFactory{
		plug.NewSourceFactory(),
		plug.NewSinkFactory(),
		plug.NewSelectorFactory(),
		plug.NewWaitFactory(),
		plug.NewShellFactory(),
	}
	factories = append(factories, text.Factories()...)

	for _, f := range factories {
		if err := r.RegisterTask(f); err != nil {
			return err
		}
	}

	return nil
}

// NewDefault returns a registry holding the built-in types.
func NewDefault(log *slog.Logger) (*Registry, error) {
	r := NewRegistry(log)
	if err := r.RegisterDefaults(); err != nil {
		return nil, err
	}

	return r, nil
}
