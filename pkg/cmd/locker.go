package cmd

import (
	"context"
	"fmt"

	"github.com/dukex/labflow/pkg/persistence"
	"github.com/dukex/labflow/pkg/persistence/postgresql"
	"github.com/dukex/labflow/pkg/queue"
	"github.com/dukex/labflow/pkg/queue/pglock"
	"github.com/dukex/labflow/pkg/queue/redislock"
)

// NewLocker returns the lock serializing queue ticks across coordinators and
// a function releasing its connections.
func NewLocker(ctx context.Context, provider, redisURL string, p persistence.Persistence) (queue.Locker, func() error, error) {
	noop := func() error { return nil }

	switch provider {
	case "", "local":
		return queue.NewLocalLocker(), noop, nil
	case "redis":
		locker, err := redislock.NewFromURL(ctx, redisURL, "labflow:")
		if err != nil {
			return nil, nil, err
		}

		return locker, locker.Close, nil
	case "postgres":
		pg, ok := p.(*postgresql.Persistence)
		if !ok {
			return nil, nil, fmt.Errorf("%w: the postgres lock needs a PostgreSQL database", ErrInvalidOption)
		}

		return pglock.NewLocker(pg.DB()), noop, nil
	default:
		return nil, nil, fmt.Errorf("%w: unsupported lock provider %q", ErrInvalidOption, provider)
	}
}
