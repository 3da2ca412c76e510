package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/newflowio/elova/internal/auth"
	"github.com/newflowio/elova/internal/cache"
	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/health"
	"github.com/newflowio/elova/internal/limits"
	"github.com/newflowio/elova/internal/notify"
	"github.com/newflowio/elova/internal/observability"
	"github.com/newflowio/elova/internal/pricing"
	"github.com/newflowio/elova/internal/scheduler"
	"github.com/newflowio/elova/internal/secretbox"
	dashboardsvc "github.com/newflowio/elova/internal/services/dashboard"
	executionsvc "github.com/newflowio/elova/internal/services/executions"
	providersvc "github.com/newflowio/elova/internal/services/providers"
	settingssvc "github.com/newflowio/elova/internal/services/settings"
	setupsvc "github.com/newflowio/elova/internal/services/setup"
	workflowsvc "github.com/newflowio/elova/internal/services/workflows"
	"github.com/newflowio/elova/internal/storage/blob"
	"github.com/newflowio/elova/internal/syncer"
	"github.com/newflowio/elova/internal/syncstatus"
)

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config            *config.Config
	DB                *sql.DB
	Dialect           db.Dialect
	Redis             *redis.Client
	Queries           *db.Queries
	Logger            *slog.Logger
	Secrets           *secretbox.Box
	Observability     *observability.Provider
	RateLimiter       *limits.RateLimiter
	Leaser            *limits.Leaser
	ChartCache        *cache.JSONCache
	Blobs             blob.Store
	Pricing           *pricing.Service
	Alerts            *notify.Dispatcher
	Syncer            *syncer.Syncer
	SyncStatus        *syncstatus.Tracker
	Scheduler         *scheduler.Scheduler
	Auth              *auth.Service
	Settings          *settingssvc.Service
	Providers         *providersvc.Service
	Workflows         *workflowsvc.Service
	Executions        *executionsvc.Service
	Dashboard         *dashboardsvc.Service
	Setup             *setupsvc.Service
	HealthMon         *health.Monitor
	ReportingLocation *time.Location
}

// NewContainer builds a dependency container from the provided primitives.
// redisClient may be nil; caches, leases and throttles then stay in process.
func NewContainer(ctx context.Context, cfg *config.Config, conn *sql.DB, dialect db.Dialect, redisClient *redis.Client, logger *slog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if conn == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	locName := strings.TrimSpace(cfg.Reporting.Timezone)
	if locName == "" {
		locName = "UTC"
	}
	reportingLoc, err := time.LoadLocation(locName)
	if err != nil {
		return nil, fmt.Errorf("load reporting timezone: %w", err)
	}

	box, err := secretbox.FromSecret(cfg.Auth.SecretKey, "credentials")
	if err != nil {
		return nil, fmt.Errorf("init secret box: %w", err)
	}

	obsProvider, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	var blobStore blob.Store
	if cfg.Backups.Enabled {
		blobStore, err = blob.New(ctx, cfg.Backups)
		if err != nil {
			return nil, fmt.Errorf("init backup store: %w", err)
		}
	}

	queries := db.New(conn, dialect)
	leaser := limits.NewLeaser(redisClient)
	chartCache := cache.NewJSONCache(redisClient, "elova:charts", cfg.Reporting.ChartCacheTTL)
	pricingSvc := pricing.NewService(conn, queries, cfg.Pricing, logger)
	alerts := buildAlerts(cfg.Alerts, logger)

	syncDeps := syncer.Deps{
		Queries: queries,
		Clients: syncer.ProviderClients(box, cfg.Sync, logger),
		Pricing: pricingSvc,
		Blobs:   blobStore,
		Leaser:  leaser,
		Metrics: obsProvider,
		Cache:   chartCache,
		Config:  cfg.Sync,
		Logger:  logger,
	}
	if alerts != nil {
		syncDeps.Alerts = alerts
	}
	syncEngine := syncer.New(syncDeps)

	authSvc, err := auth.NewService(cfg.Auth, queries, logger)
	if err != nil {
		return nil, fmt.Errorf("init auth: %w", err)
	}
	settings := settingssvc.NewService(queries, box)
	providers := providersvc.NewService(queries, box, cfg.Sync, logger)
	tracker := syncstatus.NewTracker(queries, syncstatus.ScopeScheduled)

	container := &Container{
		Config:            cfg,
		DB:                conn,
		Dialect:           dialect,
		Redis:             redisClient,
		Queries:           queries,
		Logger:            logger,
		Secrets:           box,
		Observability:     obsProvider,
		RateLimiter:       limits.NewRateLimiter(redisClient),
		Leaser:            leaser,
		ChartCache:        chartCache,
		Blobs:             blobStore,
		Pricing:           pricingSvc,
		Alerts:            alerts,
		Syncer:            syncEngine,
		SyncStatus:        tracker,
		Auth:              authSvc,
		Settings:          settings,
		Providers:         providers,
		Workflows:         workflowsvc.NewService(queries, blobStore, syncEngine),
		Executions:        executionsvc.NewService(queries, logger),
		Dashboard:         dashboardsvc.NewService(queries, chartCache, reportingLoc, logger),
		HealthMon:         health.NewMonitor(providers, obsProvider, cfg.Health, logger),
		ReportingLocation: reportingLoc,
	}
	container.Scheduler = scheduler.New(scheduler.Deps{
		Syncer:          syncEngine,
		Pricing:         pricingSvc,
		Queries:         queries,
		Settings:        settings,
		Tracker:         tracker,
		Logger:          logger,
		SyncConfig:      cfg.Sync,
		PricingConfig:   cfg.Pricing,
		RetentionConfig: cfg.Retention,
	})
	container.Setup = setupsvc.NewService(setupsvc.Deps{
		Queries:   queries,
		Auth:      authSvc,
		Providers: providers,
		Settings:  settings,
		Syncer:    syncEngine,
		Logger:    logger,
	})
	return container, nil
}

// Start recovers state left by a previous process and launches the
// background loops: scheduled sync, pricing refresh, retention and health.
func (c *Container) Start(ctx context.Context) error {
	if n, err := c.Queries.FailAbandonedSyncRuns(ctx, time.Now().UTC()); err != nil {
		return fmt.Errorf("recover sync runs: %w", err)
	} else if n > 0 {
		c.Logger.WarnContext(ctx, "marked interrupted sync runs as failed", slog.Int64("count", n))
	}
	c.recoverInitialSync(ctx)

	if len(c.Config.Providers) > 0 {
		created, err := c.Providers.Bootstrap(ctx, c.Config.Providers)
		if err != nil {
			return fmt.Errorf("bootstrap providers: %w", err)
		}
		if created > 0 {
			c.Logger.InfoContext(ctx, "bootstrapped providers", slog.Int("created", created))
		}
	}

	if c.Config.Sync.Enabled {
		c.Scheduler.Start(ctx)
	}
	c.HealthMon.Start(ctx)
	return nil
}

// recoverInitialSync fails an initial sync that was still marked in progress
// when the previous process exited.
func (c *Container) recoverInitialSync(ctx context.Context) {
	tracker := syncstatus.NewTracker(c.Queries, syncstatus.ScopeInitial)
	st, err := tracker.Get(ctx)
	if err != nil || st.State != syncstatus.StateInProgress {
		return
	}
	if err := tracker.Fail(ctx, errors.New("interrupted by restart")); err != nil {
		c.Logger.WarnContext(ctx, "reset initial sync status", slog.String("error", err.Error()))
	}
}

// Close stops background work. It does not close the database or redis
// handles, which belong to the caller.
func (c *Container) Close(ctx context.Context) {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Setup != nil {
		c.Setup.Close()
	}
	if c.Observability != nil {
		if err := c.Observability.Shutdown(ctx); err != nil {
			c.Logger.WarnContext(ctx, "shutdown observability", slog.String("error", err.Error()))
		}
	}
}
