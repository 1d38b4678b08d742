package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
)

const triggeredJobColumns = `id, scenario_id, cron_expression, is_active, last_run_at, created_by, created_at`

// TriggeredJobRepository stores cron triggers.
type TriggeredJobRepository struct {
	db     dbtx
	logger *slog.Logger
	guard  *persistence.Guard
}

func (r *TriggeredJobRepository) List(ctx context.Context) ([]*models.TriggeredJob, error) {
	return r.query(ctx, `SELECT `+triggeredJobColumns+` FROM triggered_jobs ORDER BY created_at`)
}

func (r *TriggeredJobRepository) ListActive(ctx context.Context) ([]*models.TriggeredJob, error) {
	return r.query(ctx, `SELECT `+triggeredJobColumns+` FROM triggered_jobs WHERE is_active ORDER BY created_at`)
}

func (r *TriggeredJobRepository) query(ctx context.Context, query string, args ...any) ([]*models.TriggeredJob, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggered jobs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	jobs := make([]*models.TriggeredJob, 0)

	for rows.Next() {
		job, err := scanTriggeredJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan triggered job: %w", err)
		}

		jobs = append(jobs, job)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating triggered jobs: %w", err)
	}

	return jobs, nil
}

func (r *TriggeredJobRepository) GetByID(ctx context.Context, id string) (*models.TriggeredJob, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	job, err := scanTriggeredJob(r.db.QueryRowContext(ctx, `SELECT `+triggeredJobColumns+` FROM triggered_jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", persistence.ErrTriggeredJobNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get triggered job: %w", err)
	}

	return job, nil
}

func (r *TriggeredJobRepository) Save(ctx context.Context, job *models.TriggeredJob) error {
	if err := r.guard.Check(); err != nil {
		return err
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO triggered_jobs (` + triggeredJobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			cron_expression = EXCLUDED.cron_expression,
			is_active = EXCLUDED.is_active,
			last_run_at = EXCLUDED.last_run_at
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.ScenarioID, job.CronExpression, job.IsActive, job.LastRunAt, job.CreatedBy, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save triggered job %s: %w", job.ID, err)
	}

	return nil
}

func (r *TriggeredJobRepository) Delete(ctx context.Context, id string) error {
	if err := r.guard.Check(); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM triggered_jobs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete triggered job %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete triggered job %s: %w", id, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrTriggeredJobNotFound, id)
	}

	return nil
}

func scanTriggeredJob(row scanner) (*models.TriggeredJob, error) {
	var (
		job       models.TriggeredJob
		lastRunAt sql.NullTime
		createdBy sql.NullString
	)

	err := row.Scan(&job.ID, &job.ScenarioID, &job.CronExpression, &job.IsActive, &lastRunAt, &createdBy, &job.CreatedAt)
	if err != nil {
		return nil, err
	}

	job.LastRunAt = nullTime(lastRunAt)
	job.CreatedBy = createdBy.String
	job.CreatedAt = job.CreatedAt.UTC()

	return &job, nil
}
