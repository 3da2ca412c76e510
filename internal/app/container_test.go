package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/database/databasetest"
	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/limits"
	"github.com/newflowio/elova/internal/syncstatus"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Database: config.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "elova.db")},
		Sync: config.SyncConfig{
			Interval:        time.Hour,
			PageSize:        50,
			MaxPages:        1,
			Concurrency:     1,
			ManualPerMinute: 1,
		},
		Auth: config.AuthConfig{
			JWTSecret:  "jwt-secret",
			SessionTTL: time.Hour,
			CookieName: "elova_session",
			SecretKey:  "a-long-enough-secret",
		},
		Health:    config.HealthConfig{CheckInterval: time.Hour, Timeout: time.Second},
		Reporting: config.ReportingConfig{Timezone: "UTC"},
	}
}

func TestAllowManualSyncPerCaller(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	container := &Container{
		Config:      &config.Config{Sync: config.SyncConfig{ManualPerMinute: 1}},
		RateLimiter: limits.NewRateLimiter(client),
	}
	ctx := context.Background()

	if err := container.AllowManualSync(ctx, "user-a"); err != nil {
		t.Fatalf("first manual sync rejected: %v", err)
	}
	if err := container.AllowManualSync(ctx, "user-a"); !errors.Is(err, limits.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded on second manual sync, got %v", err)
	}
	if err := container.AllowManualSync(ctx, "user-b"); err != nil {
		t.Fatalf("other caller should have its own budget: %v", err)
	}
}

func TestNewContainerAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	conn, _ := databasetest.Open(t)
	cfg := testConfig(t)
	cfg.Providers = []config.BootstrapProvider{{Name: "Seeded", BaseURL: "http://127.0.0.1:1", APIKey: "k"}}

	container, err := NewContainer(ctx, cfg, conn, db.DialectSQLite, nil, nil)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	defer container.Close(ctx)

	tracker := syncstatus.NewTracker(container.Queries, syncstatus.ScopeInitial)
	if err := tracker.Start(ctx, "Syncing workflows"); err != nil {
		t.Fatalf("seed status: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := container.Start(runCtx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	<-container.HealthMon.Done()

	st, err := tracker.Get(ctx)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if st.State != syncstatus.StateFailed {
		t.Fatalf("interrupted initial sync state = %s, want failed", st.State)
	}

	list, err := container.Providers.List(ctx)
	if err != nil || len(list) != 1 || list[0].Name != "Seeded" {
		t.Fatalf("bootstrap providers = %+v, %v", list, err)
	}

	user, _, err := container.Auth.EnsureAdmin(ctx, "admin@example.com", "Admin", "password1")
	if err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	session, err := container.Auth.Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	rc, err := container.Authenticate(ctx, session.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if rc.UserID != user.ID || !rc.IsAdmin() {
		t.Fatalf("unexpected request context %+v", rc)
	}
	if _, err := container.Authenticate(ctx, uuid.NewString()); err == nil {
		t.Fatal("expected garbage token to be rejected")
	}
}
