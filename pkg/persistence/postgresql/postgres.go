// Package postgresql provides PostgreSQL persistence for scenarios, jobs,
// resources and triggers.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/labflow/pkg/persistence"
	"github.com/dukex/labflow/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

var (
	_ persistence.Persistence = (*Persistence)(nil)
	_ persistence.Session     = (*Session)(nil)
)

const uniqueViolation = "23505"

// dbtx is satisfied by *sql.DB and *sql.Conn.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
	repos
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger = logger.With("module", "postgresql")

	postgres := &Persistence{
		db:     database,
		logger: logger,
		repos:  newRepos(database, logger, nil),
	}

	// Run migrations on initialization
	err = sqlbase.NewMigrationManager(logger, database, migrations()).RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// DB exposes the pool, used by the advisory lock.
func (p *Persistence) DB() *sql.DB {
	return p.db
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Acquire reserves a dedicated connection for the session.
func (p *Persistence) Acquire(ctx context.Context) (persistence.Session, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	guard := &persistence.Guard{}

	return &Session{conn: conn, guard: guard, logger: p.logger, repos: newRepos(conn, p.logger, guard)}, nil
}

// Session owns one connection of the pool until released.
type Session struct {
	conn   *sql.Conn
	guard  *persistence.Guard
	logger *slog.Logger
	repos
}

func (s *Session) Release(_ context.Context) error {
	if !s.guard.Release() {
		return nil
	}

	err := s.conn.Close()
	if err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("failed to release connection: %w", err)
	}

	return nil
}

type repos struct {
	scenarios     *ScenarioRepository
	jobs          *JobRepository
	resources     *ResourceRepository
	triggeredJobs *TriggeredJobRepository
}

func newRepos(db dbtx, logger *slog.Logger, guard *persistence.Guard) repos {
	return repos{
		scenarios:     &ScenarioRepository{db: db, logger: logger, guard: guard},
		jobs:          &JobRepository{db: db, logger: logger, guard: guard},
		resources:     &ResourceRepository{db: db, logger: logger, guard: guard},
		triggeredJobs: &TriggeredJobRepository{db: db, logger: logger, guard: guard},
	}
}

func (r repos) ScenarioRepository() persistence.ScenarioRepository {
	return r.scenarios
}

func (r repos) JobRepository() persistence.JobRepository {
	return r.jobs
}

func (r repos) ResourceRepository() persistence.ResourceRepository {
	return r.resources
}

func (r repos) TriggeredJobRepository() persistence.TriggeredJobRepository {
	return r.triggeredJobs
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type scanner interface {
	Scan(dest ...any) error
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	v := t.Time.UTC()

	return &v
}
