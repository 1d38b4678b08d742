package file

import (
	"path/filepath"
	"testing"

	"github.com/dukex/labflow/pkg/persistence"
	"github.com/dukex/labflow/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	assert.Equal(t, "/tmp/test", NewPersistence("/tmp/test").root)
	assert.Equal(t, "/tmp/test", NewPersistence("file:///tmp/test").root)
}

func TestPersistence_Suite(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		return NewPersistence(t.TempDir())
	})
}

func TestPersistence_HealthCheck(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, NewPersistence(dir).HealthCheck(t.Context()))
	assert.Error(t, NewPersistence(filepath.Join(dir, "missing")).HealthCheck(t.Context()))
}

func TestPersistence_WritesOneFilePerScenario(t *testing.T) {
	dir := t.TempDir()
	p := NewPersistence(dir)

	s := persistencetest.NewScenario(t, "on disk")
	require.NoError(t, p.ScenarioRepository().Save(t.Context(), s))

	assert.FileExists(t, filepath.Join(dir, "scenarios", s.ID+".json"))
}

func TestPersistence_RejectsPathTraversal(t *testing.T) {
	p := NewPersistence(t.TempDir())

	for _, id := range []string{"../escape", "a/b", `a\b`, ""} {
		_, err := p.ScenarioRepository().GetByID(t.Context(), id)
		require.ErrorIs(t, err, persistence.ErrInvalidID, id)

		err = p.ResourceRepository().Delete(t.Context(), id)
		require.ErrorIs(t, err, persistence.ErrInvalidID, id)
	}
}
