package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/labflow/pkg/blobstore"
	"github.com/dukex/labflow/pkg/eventbus"
	"github.com/dukex/labflow/pkg/events"
	"github.com/dukex/labflow/pkg/graph"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
	"github.com/dukex/labflow/pkg/protocol"
	"github.com/dukex/labflow/pkg/registry"
	"github.com/dukex/labflow/pkg/workflow"
)

// Resources keeps resource handles in persistence and their content in the
// blob store. It is the workflow.ResourceStore of the executor.
type Resources struct {
	logger    *slog.Logger
	registry  *registry.Registry
	repos     persistence.Repositories
	blobs     *blobstore.Store
	publisher eventbus.EventPublisher
}

func NewResources(logger *slog.Logger, reg *registry.Registry, p persistence.Persistence, blobs *blobstore.Store) *Resources {
	return &Resources{
		logger:   logger.With("module", "resources"),
		registry: reg,
		repos:    p,
		blobs:    blobs,
	}
}

// WithPublisher announces deleted resources on the bus.
func (r *Resources) WithPublisher(publisher eventbus.EventPublisher) *Resources {
	c := *r
	c.publisher = publisher

	return &c
}

// Bind returns a store using the repositories of a session.
func (r *Resources) Bind(repos persistence.Repositories) workflow.ResourceStore {
	c := *r
	c.repos = repos

	return &c
}

func (r *Resources) Blobs() *blobstore.Store {
	return r.blobs
}

// Load returns the resource with its content.
func (r *Resources) Load(ctx context.Context, resourceID string) (protocol.Resource, error) {
	model, err := r.repos.ResourceRepository().GetByID(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	resource, err := r.registry.NewResource(model.Type)
	if err != nil {
		return nil, err
	}

	data, err := r.blobs.Get(ctx, model.ID)
	if err != nil {
		return nil, err
	}

	if err := resource.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to decode resource %s: %w", resourceID, err)
	}

	resource.SetResourceID(model.ID)

	return resource, nil
}

func (r *Resources) Flag(ctx context.Context, resourceID string, flagged bool) error {
	repo := r.repos.ResourceRepository()

	model, err := repo.GetByID(ctx, resourceID)
	if err != nil {
		return err
	}

	model.Flagged = flagged

	return repo.Save(ctx, model)
}

// Store persists a resource produced by the process at instancePath.
func (r *Resources) Store(ctx context.Context, resource protocol.Resource, scenarioID, instancePath string) (*models.ResourceModel, error) {
	model := models.NewResourceModel(resource.ResourceType(), models.ResourceOriginGenerated)
	model.ScenarioID = scenarioID
	model.ProcessInstance = instancePath

	if err := r.put(ctx, model, resource); err != nil {
		return nil, err
	}

	resource.SetResourceID(model.ID)

	return model, nil
}

// Upload stores content provided by a user. The content must decode as the
// given resource type.
func (r *Resources) Upload(ctx context.Context, resourceType, name string, data []byte) (*models.ResourceModel, error) {
	resource, err := r.registry.NewResource(resourceType)
	if err != nil {
		return nil, err
	}

	if err := resource.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: content is not a valid %s: %w", ErrInvalidRequest, resourceType, err)
	}

	model := models.NewResourceModel(resourceType, models.ResourceOriginUploaded)
	model.Name = name

	if err := r.put(ctx, model, resource); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "Resource uploaded", "resource_id", model.ID, "type", resourceType)

	return model, nil
}

// Import stores a resource model and its raw content as they are.
func (r *Resources) Import(ctx context.Context, model *models.ResourceModel, data []byte) error {
	if _, err := r.registry.NewResource(model.Type); err != nil {
		return err
	}

	path, err := r.blobs.Put(ctx, model.ID, data)
	if err != nil {
		return err
	}

	model.BlobPath = path

	if err := r.repos.ResourceRepository().Save(ctx, model); err != nil {
		r.dropBlob(ctx, model.ID)
		return fmt.Errorf("failed to save resource %s: %w", model.ID, err)
	}

	return nil
}

func (r *Resources) put(ctx context.Context, model *models.ResourceModel, resource protocol.Resource) error {
	data, err := resource.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode %s resource: %w", model.Type, err)
	}

	path, err := r.blobs.Put(ctx, model.ID, data)
	if err != nil {
		return err
	}

	model.BlobPath = path

	if err := r.repos.ResourceRepository().Save(ctx, model); err != nil {
		r.dropBlob(ctx, model.ID)
		return fmt.Errorf("failed to save resource %s: %w", model.ID, err)
	}

	return nil
}

func (r *Resources) dropBlob(ctx context.Context, id string) {
	if err := r.blobs.Delete(context.WithoutCancel(ctx), id); err != nil {
		r.logger.ErrorContext(ctx, "Failed to remove orphan blob", "resource_id", id, "error", err)
	}
}

func (r *Resources) Get(ctx context.Context, resourceID string) (*models.ResourceModel, error) {
	return r.repos.ResourceRepository().GetByID(ctx, resourceID)
}

// Content returns the raw stored content of a resource.
func (r *Resources) Content(ctx context.Context, resourceID string) ([]byte, error) {
	if _, err := r.Get(ctx, resourceID); err != nil {
		return nil, err
	}

	return r.blobs.Get(ctx, resourceID)
}

// List returns every resource, or the resources produced by one scenario.
func (r *Resources) List(ctx context.Context, scenarioID string) ([]*models.ResourceModel, error) {
	if scenarioID == "" {
		return r.repos.ResourceRepository().List(ctx)
	}

	return r.repos.ResourceRepository().ListByScenario(ctx, scenarioID)
}

// Delete removes a resource unless a process that did not succeed yet still
// expects it as input.
func (r *Resources) Delete(ctx context.Context, resourceID string) error {
	if _, err := r.Get(ctx, resourceID); err != nil {
		return err
	}

	scenarios, err := r.repos.ScenarioRepository().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list scenarios: %w", err)
	}

	for _, scenario := range scenarios {
		if scenario.Protocol == nil {
			continue
		}

		g, err := graph.FromProcess(scenario.Protocol)
		if err != nil {
			return fmt.Errorf("failed to read scenario %s: %w", scenario.ID, err)
		}

		if slices.Contains(g.PendingInputResourceIDs(), resourceID) {
			return fmt.Errorf("%w: %s is pending in scenario %s", ErrResourceInUse, resourceID, scenario.ID)
		}
	}

	if err := r.repos.ResourceRepository().Delete(ctx, resourceID); err != nil {
		return err
	}

	if err := r.blobs.Delete(ctx, resourceID); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Resource deleted", "resource_id", resourceID)

	if r.publisher != nil {
		err := r.publisher.Publish(ctx, resourceID, events.ResourceDeleted{
			BaseEvent:  events.NewBaseEvent(events.ResourceDeletedEvent, ""),
			ResourceID: resourceID,
		})
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to publish event", "event_type", events.ResourceDeletedEvent, "error", err)
		}
	}

	return nil
}
