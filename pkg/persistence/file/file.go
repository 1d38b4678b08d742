// Package file provides file-based persistence: one JSON document per record
// under a root directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/labflow/pkg/persistence"
)

const (
	scenariosDir     = "scenarios"
	jobsDir          = "jobs"
	resourcesDir     = "resources"
	triggeredJobsDir = "triggered_jobs"
)

var (
	_ persistence.Persistence = (*Persistence)(nil)
	_ persistence.Session     = (*Session)(nil)
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root  string
	store *store
	repos
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	s := &store{root: cleanRoot}

	return &Persistence{
		root:  cleanRoot,
		store: s,
		repos: newRepos(s, nil),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Acquire returns a session sharing the same files with its own released state.
func (fp *Persistence) Acquire(_ context.Context) (persistence.Session, error) {
	guard := &persistence.Guard{}

	return &Session{guard: guard, repos: newRepos(fp.store, guard)}, nil
}

// Session is a released-aware view over the file store.
type Session struct {
	guard *persistence.Guard
	repos
}

func (s *Session) Release(_ context.Context) error {
	s.guard.Release()

	return nil
}

type repos struct {
	scenarios     *ScenarioRepository
	jobs          *JobRepository
	resources     *ResourceRepository
	triggeredJobs *TriggeredJobRepository
}

func newRepos(s *store, guard *persistence.Guard) repos {
	return repos{
		scenarios:     &ScenarioRepository{store: s, guard: guard},
		jobs:          &JobRepository{store: s, guard: guard},
		resources:     &ResourceRepository{store: s, guard: guard},
		triggeredJobs: &TriggeredJobRepository{store: s, guard: guard},
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

// store serializes access to the record files of one root directory.
type store struct {
	root string
	mu   sync.RWMutex
}

// validateID validates that an id is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", persistence.ErrInvalidID)
	}

	// Check for path traversal attempts
	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q contains invalid characters", persistence.ErrInvalidID, id)
	}

	return nil
}

func (s *store) path(kind, id string) string {
	return filepath.Join(s.root, kind, id+".json")
}

// read loads one record; missing records return an error wrapping fs.ErrNotExist.
func (s *store) read(kind, id string, out any) error {
	if err := validateID(id); err != nil {
		return err
	}

	body, err := os.ReadFile(s.path(kind, id)) // #nosec G304 -- id is validated and the path constructed safely
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", kind, id, err)
	}

	return nil
}

func (s *store) write(kind, id string, v any) error {
	if err := validateID(id); err != nil {
		return err
	}

	err := os.MkdirAll(filepath.Join(s.root, kind), 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", kind, id, err)
	}

	err = os.WriteFile(s.path(kind, id), data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s %s: %w", kind, id, err)
	}

	return nil
}

// remove deletes one record and reports whether it existed.
func (s *store) remove(kind, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}

	err := os.Remove(s.path(kind, id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}

	return true, nil
}

func (s *store) ids(kind string) ([]string, error) {
	jsonFiles, err := fs.Glob(os.DirFS(filepath.Join(s.root, kind)), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s files: %w", kind, err)
	}

	ids := make([]string, 0, len(jsonFiles))
	for _, f := range jsonFiles {
		ids = append(ids, strings.TrimSuffix(f, ".json"))
	}

	return ids, nil
}

func readAll[T any](s *store, kind string) ([]*T, error) {
	ids, err := s.ids(kind)
	if err != nil {
		return nil, err
	}

	records := make([]*T, 0, len(ids))

	for _, id := range ids {
		var record T

		err := s.read(kind, id, &record)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return nil, err
		}

		records = append(records, &record)
	}

	return records, nil
}
