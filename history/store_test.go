package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mastercactapus/hotplate/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run, err := s.Begin(ctx, "warmup.txt", 2)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "starting", run.Phase)

	events := []engine.Event{
		{Type: engine.EventStart, TotalSteps: 2},
		{Type: engine.EventDwellTick, Step: 1, RemainingSeconds: 0},
		{Type: engine.EventError, Step: 1, Message: "boom"},
	}
	for i, ev := range events {
		require.NoError(t, s.Append(ctx, run.ID, i, ev))
	}
	require.NoError(t, s.Finish(ctx, run.ID, engine.Result{Phase: engine.PhaseFailed, Step: 1, Err: errors.New("boom")}))

	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Phase)
	assert.Equal(t, "boom", got.Error)
	assert.Equal(t, 2, got.Steps)
	require.NotNil(t, got.Finished)
	assert.Equal(t, run.Started, got.Started)

	recs, err := s.Events(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, i, rec.Seq)
		assert.Equal(t, events[i], rec.Event)
	}
}

func TestStore_Runs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 10, 26, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"a", "b", "c"} {
		ts := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return ts }
		_, err := s.Begin(ctx, name, 1)
		require.NoError(t, err)
	}

	runs, err := s.Runs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].Recipe)
	assert.Equal(t, "b", runs[1].Recipe)
	assert.Nil(t, runs[0].Finished)

	runs, err = s.Runs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestStore_NotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(s.Finish(ctx, "nope", engine.Result{}), ErrNotFound))
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	run, err := s.Begin(context.Background(), "x", 1)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", got.Recipe)
}
