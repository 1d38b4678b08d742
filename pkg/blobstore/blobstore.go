// Package blobstore keeps the content of resources behind a URL-addressed
// file system (file://, mem://, or any scheme afs supports).
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrInvalidID    = errors.New("invalid blob id")
)

// Store writes one blob per resource id under a base URL.
type Store struct {
	baseURL string
	fs      afs.Service
	mu      sync.RWMutex
}

// New creates a store rooted at baseURL. A plain path is treated as file://.
func New(baseURL string) *Store {
	return &Store{
		baseURL: url.Normalize(baseURL, file.Scheme),
		fs:      afs.New(),
	}
}

// BaseURL returns the normalized root URL.
func (s *Store) BaseURL() string {
	return s.baseURL
}

// URL returns where the blob of id lives.
func (s *Store) URL(id string) string {
	return url.Join(s.baseURL, id)
}

func validateID(id string) error {
	if id == "" || strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	return nil
}

// Put stores data for id, replacing any previous content, and returns the blob URL.
func (s *Store) Put(ctx context.Context, id string, data []byte) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	location := s.URL(id)

	err := s.fs.Upload(ctx, location, file.DefaultFileOsMode, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to write blob %s: %w", id, err)
	}

	return location, nil
}

// Get returns the content stored for id.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	location := s.URL(id)

	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to check blob %s: %w", id, err)
	}

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, id)
	}

	data, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", id, err)
	}

	return data, nil
}

// Exists reports whether a blob is stored for id.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	exists, err := s.fs.Exists(ctx, s.URL(id))
	if err != nil {
		return false, fmt.Errorf("failed to check blob %s: %w", id, err)
	}

	return exists, nil
}

// Delete removes the blob of id. Deleting a missing blob is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	location := s.URL(id)

	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return fmt.Errorf("failed to check blob %s: %w", id, err)
	}

	if !exists {
		return nil
	}

	if err := s.fs.Delete(ctx, location); err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", id, err)
	}

	return nil
}
