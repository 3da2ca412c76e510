package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/database/databasetest"
	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/limits"
	"github.com/newflowio/elova/internal/syncer"
	"github.com/newflowio/elova/internal/syncstatus"
)

type staticSettings map[string]int

func (s staticSettings) GetInt(_ context.Context, key string, def int) int {
	if v, ok := s[key]; ok {
		return v
	}
	return def
}

func newScheduler(t *testing.T, settings IntSettings, syncCfg config.SyncConfig) (*Scheduler, *db.Queries) {
	t.Helper()
	_, q := databasetest.Open(t)
	s := syncer.New(syncer.Deps{
		Queries: q,
		Clients: syncer.ProviderClients(nil, config.SyncConfig{MaxRetries: -1}, nil),
		Config:  config.SyncConfig{PageSize: 50, MaxPages: 2},
	})
	return New(Deps{
		Syncer:          s,
		Queries:         q,
		Settings:        settings,
		SyncConfig:      syncCfg,
		RetentionConfig: config.RetentionConfig{ExecutionDays: 30, SweepInterval: time.Hour},
	}), q
}

func TestIntervalPrefersSetting(t *testing.T) {
	s, _ := newScheduler(t, staticSettings{}, config.SyncConfig{Interval: 20 * time.Minute})
	require.Equal(t, 20*time.Minute, s.Interval(context.Background()))

	s.settings = staticSettings{SettingIntervalMinutes: 5}
	require.Equal(t, 5*time.Minute, s.Interval(context.Background()))

	s.settings = nil
	s.syncCfg.Interval = 0
	require.Equal(t, 15*time.Minute, s.Interval(context.Background()))
}

func TestRunOnceRecordsFailures(t *testing.T) {
	ctx := context.Background()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer upstream.Close()

	s, q := newScheduler(t, nil, config.SyncConfig{})

	res, err := s.RunOnce(ctx, syncer.TriggerManual)
	require.NoError(t, err, "no providers is a successful run")
	require.Empty(t, res.Providers)
	st, err := s.tracker.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, syncstatus.StateCompleted, st.State)

	p, err := q.CreateProvider(ctx, db.CreateProviderParams{ID: uuid.NewString(), Name: "edge", BaseURL: upstream.URL, APIKeyEncrypted: "k", CreatedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, q.UpdateProviderConnection(ctx, db.UpdateProviderConnectionParams{ID: p.ID, IsConnected: true, Status: "connected", CheckedAt: time.Now()}))

	_, err = s.RunOnce(ctx, syncer.TriggerManual)
	require.Error(t, err)
	st, err = s.tracker.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, syncstatus.StateFailed, st.State)
	require.Contains(t, st.Error, "edge: API access forbidden")
}

func TestRunOnceRefusedByLeaseKeepsStatus(t *testing.T) {
	ctx := context.Background()
	_, q := databasetest.Open(t)
	leaser := limits.NewLeaser(nil)
	s := New(Deps{
		Syncer: syncer.New(syncer.Deps{
			Queries: q,
			Clients: syncer.ProviderClients(nil, config.SyncConfig{MaxRetries: -1}, nil),
			Leaser:  leaser,
			Config:  config.SyncConfig{PageSize: 50, MaxPages: 2},
		}),
		Queries: q,
	})

	_, err := s.RunOnce(ctx, syncer.TriggerScheduled)
	require.NoError(t, err)
	before, err := s.tracker.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, syncstatus.StateCompleted, before.State)
	require.NotNil(t, before.CompletedAt)

	release, err := leaser.Acquire(ctx, "sync:all", time.Minute)
	require.NoError(t, err)
	defer release()

	_, err = s.RunOnce(ctx, syncer.TriggerManual)
	require.ErrorIs(t, err, syncer.ErrSyncInProgress)
	after, err := s.tracker.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, syncstatus.StateCompleted, after.State, "a refused run must not mark the status in progress")
	require.NotNil(t, after.CompletedAt)
	require.True(t, after.CompletedAt.Equal(*before.CompletedAt))
}

func TestTriggerNowRunsOnLoop(t *testing.T) {
	s, _ := newScheduler(t, nil, config.SyncConfig{Enabled: true, Interval: time.Hour})
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop()

	require.True(t, s.TriggerNow(syncer.TriggerManual))
	require.Eventually(t, func() bool {
		st, err := s.tracker.Get(ctx)
		return err == nil && st.State == syncstatus.StateCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSweepDeletesOldExecutions(t *testing.T) {
	ctx := context.Background()
	s, q := newScheduler(t, nil, config.SyncConfig{})
	now := time.Now().UTC()
	s.now = func() time.Time { return now }

	p, err := q.CreateProvider(ctx, db.CreateProviderParams{ID: uuid.NewString(), Name: "p", BaseURL: "http://n8n", APIKeyEncrypted: "k", CreatedAt: now})
	require.NoError(t, err)
	for i, started := range []time.Time{now.AddDate(0, 0, -45), now.AddDate(0, 0, -1)} {
		_, err := q.UpsertExecution(ctx, db.UpsertExecutionParams{
			ID:                  uuid.NewString(),
			ProviderID:          p.ID,
			ProviderExecutionID: []string{"old", "new"}[i],
			ProviderWorkflowID:  "wf",
			Status:              db.ExecutionStatusSuccess,
			Mode:                "trigger",
			StartedAt:           started,
			SyncedAt:            now,
		})
		require.NoError(t, err)
	}

	s.sweep(ctx)

	_, err = q.GetExecutionByRemoteID(ctx, p.ID, "old")
	require.Error(t, err)
	_, err = q.GetExecutionByRemoteID(ctx, p.ID, "new")
	require.NoError(t, err)
}

func TestSummarizeFailures(t *testing.T) {
	require.NoError(t, summarizeFailures(syncer.Result{Providers: []syncer.ProviderResult{{Status: db.SyncRunStatusCompleted}}}))
	err := summarizeFailures(syncer.Result{Providers: []syncer.ProviderResult{
		{ProviderName: "a", Status: db.SyncRunStatusFailed, Error: "Connection timeout"},
		{ProviderName: "b", Status: db.SyncRunStatusCompleted},
	}})
	require.EqualError(t, err, "1 of 2 providers failed (a: Connection timeout)")
}
