package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/labflow/pkg/persistence"
	"github.com/dukex/labflow/pkg/persistence/file"
	"github.com/dukex/labflow/pkg/persistence/postgresql"
)

// NewPersistence selects the backend from the URL scheme. postgres:// and
// postgresql:// open PostgreSQL; file:// or a bare path use JSON files.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return p, nil
	case "file":
		if rest == "" {
			return nil, fmt.Errorf("%w: empty file path", ErrInvalidOption)
		}

		return file.NewPersistence(rest), nil
	default:
		return nil, fmt.Errorf("%w: unsupported database URL %q", ErrInvalidOption, databaseURL)
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	return provider, rest
}
