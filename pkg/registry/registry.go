// Package registry maps typing names to task and resource implementations.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"slices"
	"strings"

	"github.com/dukex/labflow/pkg/config"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/protocol"
)

var (
	ErrUnknownTaskType     = errors.New("task type not registered")
	ErrUnknownResourceType = errors.New("resource type not registered")
	ErrAlreadyRegistered   = errors.New("type already registered")
)

type Registry struct {
	logger    *slog.Logger
	tasks     map[string]protocol.TaskFactory
	resources map[string]protocol.ResourceFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:    log.With("module", "registry"),
		tasks:     make(map[string]protocol.TaskFactory),
		resources: make(map[string]protocol.ResourceFactory),
	}
}

// RegisterTask adds a task factory under its ID.
func (r *Registry) RegisterTask(factory protocol.TaskFactory) error {
	if _, ok := r.tasks[factory.ID()]; ok {
		return fmt.Errorf("%w: task %s", ErrAlreadyRegistered, factory.ID())
	}

	r.tasks[factory.ID()] = factory

	return nil
}

// RegisterResource adds a resource factory under its type name.
func (r *Registry) RegisterResource(factory protocol.ResourceFactory) error {
	if _, ok := r.resources[factory.Type()]; ok {
		return fmt.Errorf("%w: resource %s", ErrAlreadyRegistered, factory.Type())
	}

	r.resources[factory.Type()] = factory

	return nil
}

func (r *Registry) TaskFactory(typing string) (protocol.TaskFactory, error) {
	factory, ok := r.tasks[typing]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskType, typing)
	}

	return factory, nil
}

// TaskFactories returns every registered task factory sorted by ID.
func (r *Registry) TaskFactories() []protocol.TaskFactory {
	factories := make([]protocol.TaskFactory, 0, len(r.tasks))
	for _, f := range r.tasks {
		factories = append(factories, f)
	}

	slices.SortFunc(factories, func(a, b protocol.TaskFactory) int {
		return strings.Compare(a.ID(), b.ID())
	})

	return factories
}

// NewResource returns an empty resource of the given type, ready to be unmarshaled.
func (r *Registry) NewResource(resourceType string) (protocol.Resource, error) {
	factory, ok := r.resources[resourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResourceType, resourceType)
	}

	return factory.New(), nil
}

// NewTaskModel creates a task process of the given typing with its declared ports.
// The configuration is validated and completed with defaults.
func (r *Registry) NewTaskModel(instanceName, typing string, values map[string]any) (*models.ProcessModel, error) {
	factory, err := r.TaskFactory(typing)
	if err != nil {
		return nil, err
	}

	if err := models.ValidateInstanceName(instanceName); err != nil {
		return nil, err
	}

	specs := factory.ConfigSpecs()
	if _, err := specs.Build(values); err != nil {
		return nil, fmt.Errorf("task %s: %w", instanceName, err)
	}

	return models.NewTaskModel(instanceName, typing, factory.InputSpecs(), factory.OutputSpecs(), specs.WithDefaults(values)), nil
}

// Params validates the stored configuration of a task process.
func (r *Registry) Params(process *models.ProcessModel) (config.Params, error) {
	factory, err := r.TaskFactory(process.Typing)
	if err != nil {
		return nil, err
	}

	return factory.ConfigSpecs().Build(process.Config)
}

// LoadTaskPlugins opens every shared object under <pluginsPath>/tasks and
// returns the factories exported as the "Task" symbol.
func (r *Registry) LoadTaskPlugins(pluginsPath string) ([]protocol.TaskFactory, error) {
	return loadPlugin[protocol.TaskFactory](r.logger, pluginsPath, "Task")
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := pluginsPath + "/" + strings.ToLower(symbolName) + "s"
	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "*.so")
	if err != nil {
		return nil, fmt.Errorf("failed to list plugins: %w", err)
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.Info("Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("failed to lookup %s in plugin %s: %w", symbolName, p, err)
		}

		castV, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("plugin %s: symbol %s has type %T", p, symbolName, v)
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded task plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
