package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
)

// JobRepository keeps the queue backlog in the jobs table.
type JobRepository struct {
	db     dbtx
	logger *slog.Logger
	guard  *persistence.Guard
}

func (r *JobRepository) Add(ctx context.Context, job *models.Job) error {
	if err := r.guard.Check(); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO jobs (id, scenario_id, user_id, created_at) VALUES ($1, $2, $3, $4)",
		job.ID, job.ScenarioID, job.UserID, job.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", persistence.ErrJobAlreadyExists, job.ScenarioID)
	}

	if err != nil {
		return fmt.Errorf("failed to add job: %w", err)
	}

	return nil
}

func (r *JobRepository) List(ctx context.Context) ([]*models.Job, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, "SELECT id, scenario_id, user_id, created_at FROM jobs ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	jobs := make([]*models.Job, 0)

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		jobs = append(jobs, job)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

func (r *JobRepository) Count(ctx context.Context) (int, error) {
	if err := r.guard.Check(); err != nil {
		return 0, err
	}

	var count int

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	return count, nil
}

func (r *JobRepository) GetByScenario(ctx context.Context, scenarioID string) (*models.Job, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, "SELECT id, scenario_id, user_id, created_at FROM jobs WHERE scenario_id = $1", scenarioID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: scenario %s", persistence.ErrJobNotFound, scenarioID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// PopOldest deletes and returns the oldest job. Concurrent callers skip rows
// locked by each other so a job is handed out once.
func (r *JobRepository) PopOldest(ctx context.Context) (*models.Job, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	query := `
		DELETE FROM jobs
		WHERE id = (
			SELECT id FROM jobs ORDER BY created_at, id LIMIT 1 FOR UPDATE SKIP LOCKED
		)
		RETURNING id, scenario_id, user_id, created_at
	`

	job, err := scanJob(r.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrJobNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to pop job: %w", err)
	}

	return job, nil
}

func (r *JobRepository) DeleteByScenario(ctx context.Context, scenarioID string) error {
	if err := r.guard.Check(); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM jobs WHERE scenario_id = $1", scenarioID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: scenario %s", persistence.ErrJobNotFound, scenarioID)
	}

	return nil
}

func scanJob(row scanner) (*models.Job, error) {
	var (
		job    models.Job
		userID sql.NullString
	)

	if err := row.Scan(&job.ID, &job.ScenarioID, &userID, &job.CreatedAt); err != nil {
		return nil, err
	}

	job.UserID = userID.String
	job.CreatedAt = job.CreatedAt.UTC()

	return &job, nil
}
