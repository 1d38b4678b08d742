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

// ScenarioRepository handles scenario-related file operations.
type ScenarioRepository struct {
	store *store
	guard *persistence.Guard
}

func (r *ScenarioRepository) List(_ context.Context) ([]*models.Scenario, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	scenarios, err := readAll[models.Scenario](r.store, scenariosDir)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(scenarios, func(a, b *models.Scenario) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return scenarios, nil
}

func (r *ScenarioRepository) ListByStatus(ctx context.Context, status models.ScenarioStatus) ([]*models.Scenario, error) {
	scenarios, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(scenarios, func(s *models.Scenario) bool { return s.Status != status }), nil
}

func (r *ScenarioRepository) CountByStatus(ctx context.Context, status models.ScenarioStatus) (int, error) {
	scenarios, err := r.ListByStatus(ctx, status)
	if err != nil {
		return 0, err
	}

	return len(scenarios), nil
}

// GetByID retrieves a scenario by its ID from the file system.
func (r *ScenarioRepository) GetByID(_ context.Context, id string) (*models.Scenario, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.get(id)
}

func (r *ScenarioRepository) get(id string) (*models.Scenario, error) {
	var scenario models.Scenario

	err := r.store.read(scenariosDir, id, &scenario)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewScenarioError("GetByID", id, persistence.ErrScenarioNotFound)
	}

	if err != nil {
		return nil, persistence.NewScenarioError("GetByID", id, err)
	}

	return &scenario, nil
}

// Save writes the scenario when its version matches the stored one.
func (r *ScenarioRepository) Save(_ context.Context, scenario *models.Scenario) error {
	if err := r.guard.Check(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, err := r.get(scenario.ID)

	switch {
	case persistence.IsScenarioNotFound(err):
		if scenario.Version != 0 {
			return persistence.NewScenarioError("Save", scenario.ID, persistence.ErrScenarioNotFound)
		}
	case err != nil:
		return err
	case stored.Version != scenario.Version:
		return persistence.NewScenarioError("Save", scenario.ID, persistence.ErrVersionConflict)
	}

	now := time.Now().UTC()
	if scenario.CreatedAt.IsZero() {
		scenario.CreatedAt = now
	}

	toSave := *scenario
	toSave.UpdatedAt = now
	toSave.Version++

	if err := r.store.write(scenariosDir, scenario.ID, &toSave); err != nil {
		return persistence.NewScenarioError("Save", scenario.ID, err)
	}

	scenario.UpdatedAt = toSave.UpdatedAt
	scenario.Version = toSave.Version

	return nil
}

// Delete removes a scenario and its queued job.
func (r *ScenarioRepository) Delete(_ context.Context, id string) error {
	if err := r.guard.Check(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existed, err := r.store.remove(scenariosDir, id)
	if err != nil {
		return persistence.NewScenarioError("Delete", id, err)
	}

	if !existed {
		return persistence.NewScenarioError("Delete", id, persistence.ErrScenarioNotFound)
	}

	jobs, err := readAll[models.Job](r.store, jobsDir)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if job.ScenarioID == id {
			if _, err := r.store.remove(jobsDir, job.ID); err != nil {
				return err
			}
		}
	}

	return nil
}
