package queue_test

import (
	"testing"
	"time"

	"github.com/dukex/labflow/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker(t *testing.T) {
	locker := queue.NewLocalLocker()

	unlock, err := locker.TryLock(t.Context(), "k", time.Second)
	require.NoError(t, err)

	_, err = locker.TryLock(t.Context(), "k", time.Second)
	require.ErrorIs(t, err, queue.ErrLockHeld)

	other, err := locker.TryLock(t.Context(), "other", time.Second)
	require.NoError(t, err)
	require.NoError(t, other(t.Context()))

	require.NoError(t, unlock(t.Context()))
	require.NoError(t, unlock(t.Context()), "unlock is idempotent")

	unlock, err = locker.TryLock(t.Context(), "k", time.Second)
	require.NoError(t, err)
	assert.NoError(t, unlock(t.Context()))
}
