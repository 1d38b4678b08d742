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

const resourceColumns = `id, type, name, blob_path, origin, flagged, scenario_id, process_instance, created_at`

// ResourceRepository stores resource handles.
type ResourceRepository struct {
	db     dbtx
	logger *slog.Logger
	guard  *persistence.Guard
}

func (r *ResourceRepository) List(ctx context.Context) ([]*models.ResourceModel, error) {
	return r.query(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY created_at`)
}

func (r *ResourceRepository) ListByScenario(ctx context.Context, scenarioID string) ([]*models.ResourceModel, error) {
	return r.query(ctx, `SELECT `+resourceColumns+` FROM resources WHERE scenario_id = $1 ORDER BY created_at`, scenarioID)
}

func (r *ResourceRepository) query(ctx context.Context, query string, args ...any) ([]*models.ResourceModel, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	resources := make([]*models.ResourceModel, 0)

	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}

		resources = append(resources, resource)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}

	return resources, nil
}

func (r *ResourceRepository) GetByID(ctx context.Context, id string) (*models.ResourceModel, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id)

	resource, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &persistence.ResourceError{Op: "GetByID", ResourceID: id, Err: persistence.ErrResourceNotFound}
	}

	if err != nil {
		return nil, &persistence.ResourceError{Op: "GetByID", ResourceID: id, Err: err}
	}

	return resource, nil
}

func (r *ResourceRepository) Save(ctx context.Context, resource *models.ResourceModel) error {
	if err := r.guard.Check(); err != nil {
		return err
	}

	if resource.CreatedAt.IsZero() {
		resource.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO resources (` + resourceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			name = EXCLUDED.name,
			blob_path = EXCLUDED.blob_path,
			origin = EXCLUDED.origin,
			flagged = EXCLUDED.flagged,
			scenario_id = EXCLUDED.scenario_id,
			process_instance = EXCLUDED.process_instance
	`

	_, err := r.db.ExecContext(ctx, query,
		resource.ID, resource.Type, resource.Name, resource.BlobPath, resource.Origin,
		resource.Flagged, resource.ScenarioID, resource.ProcessInstance, resource.CreatedAt,
	)
	if err != nil {
		return &persistence.ResourceError{Op: "Save", ResourceID: resource.ID, Err: err}
	}

	return nil
}

func (r *ResourceRepository) Delete(ctx context.Context, id string) error {
	if err := r.guard.Check(); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM resources WHERE id = $1", id)
	if err != nil {
		return &persistence.ResourceError{Op: "Delete", ResourceID: id, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return &persistence.ResourceError{Op: "Delete", ResourceID: id, Err: err}
	}

	if affected == 0 {
		return &persistence.ResourceError{Op: "Delete", ResourceID: id, Err: persistence.ErrResourceNotFound}
	}

	return nil
}

func scanResource(row scanner) (*models.ResourceModel, error) {
	var (
		res                               models.ResourceModel
		name, scenarioID, processInstance sql.NullString
	)

	err := row.Scan(&res.ID, &res.Type, &name, &res.BlobPath, &res.Origin, &res.Flagged,
		&scenarioID, &processInstance, &res.CreatedAt)
	if err != nil {
		return nil, err
	}

	res.Name = name.String
	res.ScenarioID = scenarioID.String
	res.ProcessInstance = processInstance.String
	res.CreatedAt = res.CreatedAt.UTC()

	return &res, nil
}
