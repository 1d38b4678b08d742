package file

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
)

// JobRepository keeps the queued jobs, oldest first.
type JobRepository struct {
	store *store
	guard *persistence.Guard
}

func (r *JobRepository) Add(_ context.Context, job *models.Job) error {
	if err := r.guard.Check(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	jobs, err := r.list()
	if err != nil {
		return err
	}

	if slices.ContainsFunc(jobs, func(j *models.Job) bool { return j.ScenarioID == job.ScenarioID }) {
		return fmt.Errorf("%w: %s", persistence.ErrJobAlreadyExists, job.ScenarioID)
	}

	return r.store.write(jobsDir, job.ID, job)
}

func (r *JobRepository) List(_ context.Context) ([]*models.Job, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.list()
}

func (r *JobRepository) list() ([]*models.Job, error) {
	jobs, err := readAll[models.Job](r.store, jobsDir)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(jobs, func(a, b *models.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return jobs, nil
}

func (r *JobRepository) Count(ctx context.Context) (int, error) {
	jobs, err := r.List(ctx)
	if err != nil {
		return 0, err
	}

	return len(jobs), nil
}

func (r *JobRepository) GetByScenario(_ context.Context, scenarioID string) (*models.Job, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	jobs, err := r.list()
	if err != nil {
		return nil, err
	}

	idx := slices.IndexFunc(jobs, func(j *models.Job) bool { return j.ScenarioID == scenarioID })
	if idx < 0 {
		return nil, fmt.Errorf("%w: scenario %s", persistence.ErrJobNotFound, scenarioID)
	}

	return jobs[idx], nil
}

func (r *JobRepository) PopOldest(_ context.Context) (*models.Job, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	jobs, err := r.list()
	if err != nil {
		return nil, err
	}

	if len(jobs) == 0 {
		return nil, persistence.ErrJobNotFound
	}

	if _, err := r.store.remove(jobsDir, jobs[0].ID); err != nil {
		return nil, err
	}

	return jobs[0], nil
}

func (r *JobRepository) DeleteByScenario(_ context.Context, scenarioID string) error {
	if err := r.guard.Check(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	jobs, err := r.list()
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if job.ScenarioID == scenarioID {
			_, err := r.store.remove(jobsDir, job.ID)

			return err
		}
	}

	return fmt.Errorf("%w: scenario %s", persistence.ErrJobNotFound, scenarioID)
}
