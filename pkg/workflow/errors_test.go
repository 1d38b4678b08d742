package workflow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/labflow/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestToProcessError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind models.ErrorKind
	}{
		{name: "config", err: &ConfigError{Typing: "x", Err: errors.New("bad")}, kind: models.ErrorKindConfig},
		{name: "missing input", err: &MissingInputError{Port: "in"}, kind: models.ErrorKindMissingInput},
		{name: "invalid output", err: &InvalidOutputError{Missing: []string{"out"}}, kind: models.ErrorKindInvalidOutput},
		{name: "runtime", err: &TaskRuntimeError{Err: errors.New("boom")}, kind: models.ErrorKindRuntime},
		{name: "stopped", err: &TaskRuntimeError{Err: errors.Join(ErrStopped, errors.New("ctx"))}, kind: models.ErrorKindStopped},
		{name: "wrapped", err: fmt.Errorf("outer: %w", &ConfigError{Typing: "x", Err: errors.New("bad")}), kind: models.ErrorKindConfig},
		{name: "plain", err: errors.New("plain"), kind: models.ErrorKindRuntime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			perr := toProcessError(tt.err, "a.b")

			assert.Equal(t, tt.kind, perr.Kind)
			assert.Equal(t, "a.b", perr.InstancePath)
			assert.Equal(t, tt.err.Error(), perr.Message)
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, IsConfigError(fmt.Errorf("wrap: %w", &ConfigError{Err: errors.New("x")})))
	assert.True(t, IsMissingInputError(&MissingInputError{Port: "in"}))
	assert.True(t, IsInvalidOutputError(&InvalidOutputError{}))
	assert.True(t, IsTaskRuntimeError(&TaskRuntimeError{Err: errors.New("x")}))
	assert.False(t, IsConfigError(errors.New("x")))

	missing := &MissingInputError{Port: "in", ResourceID: "r1", Err: errors.New("gone")}
	assert.Contains(t, missing.Error(), "r1")
	assert.Equal(t, "required input in is not bound", (&MissingInputError{Port: "in"}).Error())
}
