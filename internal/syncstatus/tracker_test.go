package syncstatus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/newflowio/elova/internal/database/databasetest"
)

func TestTrackerLifecycle(t *testing.T) {
	_, queries := databasetest.Open(t)
	ctx := context.Background()
	tr := NewTracker(queries, ScopeInitial)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	st, err := tr.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, StateIdle, st.State)

	require.NoError(t, tr.Start(ctx, "Starting"))
	require.NoError(t, tr.Step(ctx, 140, "Syncing executions"))
	st, err = tr.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, StateInProgress, st.State)
	require.Equal(t, 100, st.Progress)
	require.Equal(t, "Syncing executions", st.Step)
	require.NotNil(t, st.StartedAt)
	require.True(t, st.StartedAt.Equal(fixed))
	require.Nil(t, st.CompletedAt)

	require.NoError(t, tr.Fail(ctx, errors.New("n8n unreachable")))
	st, err = tr.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, StateFailed, st.State)
	require.Equal(t, "n8n unreachable", st.Error)

	require.NoError(t, tr.Start(ctx, "Retry"))
	require.NoError(t, tr.Complete(ctx))
	st, err = tr.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, st.State)
	require.Equal(t, 100, st.Progress)
	require.Equal(t, "Completed", st.Step)
	require.Empty(t, st.Error)
	require.NotNil(t, st.CompletedAt)
}

func TestScopesAreIndependent(t *testing.T) {
	_, queries := databasetest.Open(t)
	ctx := context.Background()
	initial := NewTracker(queries, ScopeInitial)
	scheduled := NewTracker(queries, ScopeScheduled)

	require.NoError(t, initial.Start(ctx, "Starting"))
	st, err := scheduled.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, StateIdle, st.State)
	require.Equal(t, ScopeScheduled, st.Scope)
}
