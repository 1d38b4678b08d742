// Package cmd builds the engine components from command-line options.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/labflow/pkg/registry"
)

var ErrInvalidOption = errors.New("invalid option")

// NewRegistry registers the built-in types and the task plugins found under
// <pluginsPath>/tasks.
func NewRegistry(logger *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg, err := registry.NewDefault(logger)
	if err != nil {
		return nil, err
	}

	if pluginsPath == "" {
		return reg, nil
	}

	plugins, err := reg.LoadTaskPlugins(pluginsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load task plugins: %w", err)
	}

	for _, plugin := range plugins {
		if err := reg.RegisterTask(plugin); err != nil {
			return nil, err
		}
	}

	return reg, nil
}
