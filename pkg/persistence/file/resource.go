package file

import (
	"context"
	"errors"
	"io/fs"
	"slices"
	"time"

	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
)

// ResourceRepository stores resource handles; blobs live in the blob store.
type ResourceRepository struct {
	store *store
	guard *persistence.Guard
}

func (r *ResourceRepository) List(_ context.Context) ([]*models.ResourceModel, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	resources, err := readAll[models.ResourceModel](r.store, resourcesDir)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(resources, func(a, b *models.ResourceModel) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return resources, nil
}

func (r *ResourceRepository) ListByScenario(ctx context.Context, scenarioID string) ([]*models.ResourceModel, error) {
	resources, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(resources, func(res *models.ResourceModel) bool { return res.ScenarioID != scenarioID }), nil
}

func (r *ResourceRepository) GetByID(_ context.Context, id string) (*models.ResourceModel, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var resource models.ResourceModel

	err := r.store.read(resourcesDir, id, &resource)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &persistence.ResourceError{Op: "GetByID", ResourceID: id, Err: persistence.ErrResourceNotFound}
	}

	if err != nil {
		return nil, &persistence.ResourceError{Op: "GetByID", ResourceID: id, Err: err}
	}

	return &resource, nil
}

func (r *ResourceRepository) Save(_ context.Context, resource *models.ResourceModel) error {
	if err := r.guard.Check(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if resource.CreatedAt.IsZero() {
		resource.CreatedAt = time.Now().UTC()
	}

	return r.store.write(resourcesDir, resource.ID, resource)
}

func (r *ResourceRepository) Delete(_ context.Context, id string) error {
	if err := r.guard.Check(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existed, err := r.store.remove(resourcesDir, id)
	if err != nil {
		return err
	}

	if !existed {
		return &persistence.ResourceError{Op: "Delete", ResourceID: id, Err: persistence.ErrResourceNotFound}
	}

	return nil
}
