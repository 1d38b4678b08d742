package blobstore

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore(t *testing.T) *Store {
	t.Helper()

	return New("mem://localhost/blobs-" + uuid.NewString())
}

func TestStore_PutGetDelete(t *testing.T) {
	ctx := t.Context()
	store := newMemStore(t)

	location, err := store.Put(ctx, "r1", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, store.URL("r1"), location)

	exists, err := store.Exists(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = store.Put(ctx, "r1", []byte("replaced"))
	require.NoError(t, err)

	data, err = store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(data))

	require.NoError(t, store.Delete(ctx, "r1"))
	require.NoError(t, store.Delete(ctx, "r1"))

	_, err = store.Get(ctx, "r1")
	require.ErrorIs(t, err, ErrBlobNotFound)
}

func TestStore_FilePath(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	_, err := store.Put(t.Context(), "blob", []byte("on disk"))
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "blob"))
}

func TestStore_RejectsInvalidIDs(t *testing.T) {
	store := newMemStore(t)

	for _, id := range []string{"", "../x", "a/b"} {
		_, err := store.Put(t.Context(), id, nil)
		require.ErrorIs(t, err, ErrInvalidID, id)
	}
}
