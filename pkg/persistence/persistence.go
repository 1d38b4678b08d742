// Package persistence provides the storage abstraction for scenarios, queued
// jobs, resources and cron triggers.
package persistence

import (
	"context"
	"sync/atomic"

	"github.com/dukex/labflow/pkg/models"
)

type ScenarioRepository interface {
	List(ctx context.Context) ([]*models.Scenario, error)
	ListByStatus(ctx context.Context, status models.ScenarioStatus) ([]*models.Scenario, error)
	CountByStatus(ctx context.Context, status models.ScenarioStatus) (int, error)
	GetByID(ctx context.Context, id string) (*models.Scenario, error)
	// Save inserts a scenario with version 0 or updates one whose version
	// matches the stored version. The version is incremented on success.
	Save(ctx context.Context, scenario *models.Scenario) error
	Delete(ctx context.Context, id string) error
}

type JobRepository interface {
	// Add queues a job; a scenario holds at most one job.
	Add(ctx context.Context, job *models.Job) error
	List(ctx context.Context) ([]*models.Job, error)
	Count(ctx context.Context) (int, error)
	GetByScenario(ctx context.Context, scenarioID string) (*models.Job, error)
	// PopOldest removes and returns the oldest job, or ErrJobNotFound when empty.
	PopOldest(ctx context.Context) (*models.Job, error)
	DeleteByScenario(ctx context.Context, scenarioID string) error
}

type ResourceRepository interface {
	List(ctx context.Context) ([]*models.ResourceModel, error)
	ListByScenario(ctx context.Context, scenarioID string) ([]*models.ResourceModel, error)
	GetByID(ctx context.Context, id string) (*models.ResourceModel, error)
	Save(ctx context.Context, resource *models.ResourceModel) error
	Delete(ctx context.Context, id string) error
}

type TriggeredJobRepository interface {
	List(ctx context.Context) ([]*models.TriggeredJob, error)
	ListActive(ctx context.Context) ([]*models.TriggeredJob, error)
	GetByID(ctx context.Context, id string) (*models.TriggeredJob, error)
	Save(ctx context.Context, job *models.TriggeredJob) error
	Delete(ctx context.Context, id string) error
}

// Repositories is the set of repositories shared by Persistence and Session.
type Repositories interface {
	ScenarioRepository() ScenarioRepository
	JobRepository() JobRepository
	ResourceRepository() ResourceRepository
	TriggeredJobRepository() TriggeredJobRepository
}

type Persistence interface {
	Repositories

	// Acquire opens a session for the exclusive use of one goroutine.
	Acquire(ctx context.Context) (Session, error)
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Session is a scoped unit of persistence. It must not be shared across
// goroutines and rejects every call with ErrSessionReleased once released.
type Session interface {
	Repositories

	Release(ctx context.Context) error
}

// Guard tracks the released state of a session. A nil guard is never released.
type Guard struct {
	released atomic.Bool
}

// Check returns ErrSessionReleased after Release.
func (g *Guard) Check() error {
	if g != nil && g.released.Load() {
		return ErrSessionReleased
	}

	return nil
}

// Release marks the session released; it reports false if it already was.
func (g *Guard) Release() bool {
	return g.released.CompareAndSwap(false, true)
}
