package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"time"

	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
)

// TriggeredJobRepository stores cron triggers.
type TriggeredJobRepository struct {
	store *store
	guard *persistence.Guard
}

func (r *TriggeredJobRepository) List(_ context.Context) ([]*models.TriggeredJob, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	jobs, err := readAll[models.TriggeredJob](r.store, triggeredJobsDir)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(jobs, func(a, b *models.TriggeredJob) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return jobs, nil
}

func (r *TriggeredJobRepository) ListActive(ctx context.Context) ([]*models.TriggeredJob, error) {
	jobs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(jobs, func(j *models.TriggeredJob) bool { return !j.IsActive }), nil
}

func (r *TriggeredJobRepository) GetByID(_ context.Context, id string) (*models.TriggeredJob, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var job models.TriggeredJob

	err := r.store.read(triggeredJobsDir, id, &job)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", persistence.ErrTriggeredJobNotFound, id)
	}

	if err != nil {
		return nil, err
	}

	return &job, nil
}

func (r *TriggeredJobRepository) Save(_ context.Context, job *models.TriggeredJob) error {
	if err := r.guard.Check(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	return r.store.write(triggeredJobsDir, job.ID, job)
}

func (r *TriggeredJobRepository) Delete(_ context.Context, id string) error {
	if err := r.guard.Check(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existed, err := r.store.remove(triggeredJobsDir, id)
	if err != nil {
		return err
	}

	if !existed {
		return fmt.Errorf("%w: %s", persistence.ErrTriggeredJobNotFound, id)
	}

	return nil
}
