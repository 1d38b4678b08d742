package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockHeld is returned by TryLock when another coordinator holds the lock.
var ErrLockHeld = errors.New("lock is held by another coordinator")

// Unlock releases a lock obtained with TryLock.
type Unlock func(ctx context.Context) error

// Locker elects the single writer of the queue for one tick. TryLock must not
// block: it either returns the lock or ErrLockHeld. The lock expires after
// ttl when the backend supports it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

// LocalLocker serializes coordinators living in the same process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]bool{}}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, _ time.Duration) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		return nil, ErrLockHeld
	}

	l.held[key] = true

	var once sync.Once

	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})

		return nil
	}, nil
}
