package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
)

const scenarioColumns = `
	id
  , title
  , status
  , protocol
  , folder_id
  , created_by
  , last_modified_by
  , creation_type
  , validated
  , version
  , error
  , created_at
  , updated_at
  , started_at
  , ended_at
`

// ScenarioRepository handles scenario-related database operations.
type ScenarioRepository struct {
	db     dbtx
	logger *slog.Logger
	guard  *persistence.Guard
}

func (r *ScenarioRepository) List(ctx context.Context) ([]*models.Scenario, error) {
	return r.query(ctx, `SELECT `+scenarioColumns+` FROM scenarios ORDER BY created_at`)
}

func (r *ScenarioRepository) ListByStatus(ctx context.Context, status models.ScenarioStatus) ([]*models.Scenario, error) {
	return r.query(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE status = $1 ORDER BY created_at`, status)
}

func (r *ScenarioRepository) CountByStatus(ctx context.Context, status models.ScenarioStatus) (int, error) {
	if err := r.guard.Check(); err != nil {
		return 0, err
	}

	var count int

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scenarios WHERE status = $1", status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count scenarios: %w", err)
	}

	return count, nil
}

func (r *ScenarioRepository) query(ctx context.Context, query string, args ...any) ([]*models.Scenario, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenarios: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	scenarios := make([]*models.Scenario, 0)

	for rows.Next() {
		scenario, err := scanScenario(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scenario: %w", err)
		}

		scenarios = append(scenarios, scenario)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating scenarios: %w", err)
	}

	return scenarios, nil
}

func (r *ScenarioRepository) GetByID(ctx context.Context, id string) (*models.Scenario, error) {
	if err := r.guard.Check(); err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE id = $1`, id)

	scenario, err := scanScenario(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewScenarioError("GetByID", id, persistence.ErrScenarioNotFound)
	}

	if err != nil {
		return nil, persistence.NewScenarioError("GetByID", id, err)
	}

	return scenario, nil
}

// Save inserts new scenarios and updates existing ones guarded by their version.
func (r *ScenarioRepository) Save(ctx context.Context, scenario *models.Scenario) error {
	if err := r.guard.Check(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if scenario.CreatedAt.IsZero() {
		scenario.CreatedAt = now
	}

	protocolJSON, err := json.Marshal(scenario.Protocol)
	if err != nil {
		return fmt.Errorf("failed to marshal protocol: %w", err)
	}

	var errorJSON []byte
	if scenario.Error != nil {
		errorJSON, err = json.Marshal(scenario.Error)
		if err != nil {
			return fmt.Errorf("failed to marshal scenario error: %w", err)
		}
	}

	if scenario.Version == 0 {
		err = r.insert(ctx, scenario, protocolJSON, errorJSON, now)
	} else {
		err = r.update(ctx, scenario, protocolJSON, errorJSON, now)
	}

	if err != nil {
		return err
	}

	scenario.UpdatedAt = now
	scenario.Version++

	return nil
}

func (r *ScenarioRepository) insert(ctx context.Context, s *models.Scenario, protocolJSON, errorJSON []byte, now time.Time) error {
	query := `
		INSERT INTO scenarios (id, title, status, protocol, folder_id, created_by, last_modified_by,
			creation_type, validated, version, error, created_at, updated_at, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11, $12, $13, $14)
	`

	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.Title, s.Status, protocolJSON, s.FolderID, s.CreatedBy, s.LastModifiedBy,
		s.CreationType, s.Validated, errorJSON, s.CreatedAt, now, s.StartedAt, s.EndedAt,
	)
	if isUniqueViolation(err) {
		return persistence.NewScenarioError("Save", s.ID, persistence.ErrVersionConflict)
	}

	if err != nil {
		return persistence.NewScenarioError("Save", s.ID, err)
	}

	return nil
}

func (r *ScenarioRepository) update(ctx context.Context, s *models.Scenario, protocolJSON, errorJSON []byte, now time.Time) error {
	query := `
		UPDATE scenarios SET
			title = $3,
			status = $4,
			protocol = $5,
			folder_id = $6,
			last_modified_by = $7,
			validated = $8,
			error = $9,
			updated_at = $10,
			started_at = $11,
			ended_at = $12,
			version = version + 1
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		s.ID, s.Version, s.Title, s.Status, protocolJSON, s.FolderID, s.LastModifiedBy,
		s.Validated, errorJSON, now, s.StartedAt, s.EndedAt,
	)
	if err != nil {
		return persistence.NewScenarioError("Save", s.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewScenarioError("Save", s.ID, err)
	}

	if affected == 1 {
		return nil
	}

	var exists bool

	err = r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM scenarios WHERE id = $1)", s.ID).Scan(&exists)
	if err != nil {
		return persistence.NewScenarioError("Save", s.ID, err)
	}

	if !exists {
		return persistence.NewScenarioError("Save", s.ID, persistence.ErrScenarioNotFound)
	}

	return persistence.NewScenarioError("Save", s.ID, persistence.ErrVersionConflict)
}

// Delete removes a scenario; its queued job and triggers cascade.
func (r *ScenarioRepository) Delete(ctx context.Context, id string) error {
	if err := r.guard.Check(); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM scenarios WHERE id = $1", id)
	if err != nil {
		return persistence.NewScenarioError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewScenarioError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewScenarioError("Delete", id, persistence.ErrScenarioNotFound)
	}

	return nil
}

func scanScenario(row scanner) (*models.Scenario, error) {
	var (
		s                                   models.Scenario
		protocolJSON, errorJSON             []byte
		folderID, createdBy, lastModifiedBy sql.NullString
		startedAt, endedAt                  sql.NullTime
	)

	err := row.Scan(
		&s.ID, &s.Title, &s.Status, &protocolJSON, &folderID, &createdBy, &lastModifiedBy,
		&s.CreationType, &s.Validated, &s.Version, &errorJSON, &s.CreatedAt, &s.UpdatedAt,
		&startedAt, &endedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(protocolJSON, &s.Protocol); err != nil {
		return nil, fmt.Errorf("failed to unmarshal protocol: %w", err)
	}

	if len(errorJSON) > 0 {
		if err := json.Unmarshal(errorJSON, &s.Error); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scenario error: %w", err)
		}
	}

	s.FolderID = folderID.String
	s.CreatedBy = createdBy.String
	s.LastModifiedBy = lastModifiedBy.String
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	s.StartedAt = nullTime(startedAt)
	s.EndedAt = nullTime(endedAt)

	return &s, nil
}
