package automation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleDisposesAllExactlyOnce(t *testing.T) {
	l := NewLifecycle(nil)
	calls := map[string]int{}

	l.RegisterDisposable("a", func(context.Context) error {
		calls["a"]++
		return nil
	})
	l.RegisterDisposable("b", func(context.Context) error {
		calls["b"]++
		return errors.New("b failed")
	})
	l.RegisterDisposable("c", func(context.Context) error {
		calls["c"]++
		panic("c exploded")
	})
	l.RegisterDisposable("d", func(context.Context) error {
		calls["d"]++
		return nil
	})

	err := l.Dispose(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b failed")
	assert.Contains(t, err.Error(), "c exploded")
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}, calls)

	require.NoError(t, l.Dispose(context.Background()))
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}, calls)
}

func TestLifecycleRegisterAfterDispose(t *testing.T) {
	l := NewLifecycle(nil)
	require.NoError(t, l.Dispose(context.Background()))

	ran := false
	l.RegisterDisposable("late", func(context.Context) error {
		ran = true
		return nil
	})
	assert.True(t, ran, "late registrations are released immediately")
}

func TestLifecycleLogsLateDisposerFailure(t *testing.T) {
	var buf bytes.Buffer
	l := NewLifecycle(slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, l.Dispose(context.Background()))

	l.RegisterDisposable("late", func(context.Context) error {
		return errors.New("socket already closed")
	})
	assert.Contains(t, buf.String(), "failed to dispose invocation resources")
	assert.Contains(t, buf.String(), "dispose late: socket already closed")
}
