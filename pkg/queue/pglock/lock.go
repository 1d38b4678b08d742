// Package pglock elects the queue writer with PostgreSQL advisory locks, so
// that coordinators sharing the database need no extra service.
package pglock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/dukex/labflow/pkg/queue"
)

// Locker implements queue.Locker with pg_try_advisory_lock. Advisory locks
// belong to a database session, so each lock pins its own connection until
// released. The ttl is not used: the lock ends with the connection.
type Locker struct {
	db *sql.DB
}

func NewLocker(db *sql.DB) *Locker {
	return &Locker{db: db}
}

func (l *Locker) TryLock(ctx context.Context, key string, _ time.Duration) (queue.Unlock, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock connection: %w", err)
	}

	id := lockID(key)

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to try advisory lock: %w", err)
	}

	if !acquired {
		_ = conn.Close()
		return nil, queue.ErrLockHeld
	}

	return func(ctx context.Context) error {
		defer conn.Close()

		if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", id); err != nil {
			return fmt.Errorf("failed to release advisory lock: %w", err)
		}

		return nil
	}, nil
}

func lockID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))

	return int64(h.Sum64())
}
