// Package scheduler drives periodic syncs, pricing refreshes and the
// execution retention sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/pricing"
	"github.com/newflowio/elova/internal/syncer"
	"github.com/newflowio/elova/internal/syncstatus"
)

// SettingIntervalMinutes overrides sync.interval when set.
const SettingIntervalMinutes = "features.sync_interval_minutes"

// IntSettings reads integer settings with a default.
type IntSettings interface {
	GetInt(ctx context.Context, key string, def int) int
}

type Deps struct {
	Syncer   *syncer.Syncer
	Pricing  *pricing.Service
	Queries  *db.Queries
	Settings IntSettings
	Tracker  *syncstatus.Tracker
	Logger   *slog.Logger

	SyncConfig      config.SyncConfig
	PricingConfig   config.PricingConfig
	RetentionConfig config.RetentionConfig
}

type Scheduler struct {
	syncer    *syncer.Syncer
	pricing   *pricing.Service
	queries   *db.Queries
	settings  IntSettings
	tracker   *syncstatus.Tracker
	syncCfg   config.SyncConfig
	pricingCf config.PricingConfig
	retention config.RetentionConfig
	logger    *slog.Logger
	now       func() time.Time

	trigger chan string
	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(deps Deps) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := deps.Tracker
	if tracker == nil && deps.Queries != nil {
		tracker = syncstatus.NewTracker(deps.Queries, syncstatus.ScopeScheduled)
	}
	return &Scheduler{
		syncer:    deps.Syncer,
		pricing:   deps.Pricing,
		queries:   deps.Queries,
		settings:  deps.Settings,
		tracker:   tracker,
		syncCfg:   deps.SyncConfig,
		pricingCf: deps.PricingConfig,
		retention: deps.RetentionConfig,
		logger:    logger,
		now:       time.Now,
		trigger:   make(chan string, 1),
	}
}

// Start launches the background loops. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	if s.syncCfg.Enabled {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.syncLoop(ctx)
		}()
	}
	if s.pricing != nil && s.pricingCf.RefreshInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.every(ctx, s.pricingCf.RefreshInterval, s.refreshPricing)
		}()
	}
	if s.queries != nil && s.retention.ExecutionDays > 0 && s.retention.SweepInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.every(ctx, s.retention.SweepInterval, s.sweep)
		}()
	}
	s.logger.InfoContext(ctx, "scheduler started",
		slog.Bool("sync", s.syncCfg.Enabled),
		slog.Duration("pricing_refresh", s.pricingCf.RefreshInterval),
		slog.Int("retention_days", s.retention.ExecutionDays),
	)
}

// Stop cancels the loops and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

// TriggerNow queues a sync on the scheduler loop. It returns false when a
// run is already active or queued.
func (s *Scheduler) TriggerNow(source string) bool {
	if s.running.Load() {
		return false
	}
	if source == "" {
		source = syncer.TriggerManual
	}
	select {
	case s.trigger <- source:
		return true
	default:
		return false
	}
}

// Running reports whether the scheduler is executing a sync.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Interval returns the effective sync interval, preferring the stored
// setting over configuration.
func (s *Scheduler) Interval(ctx context.Context) time.Duration {
	interval := s.syncCfg.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if s.settings == nil {
		return interval
	}
	if minutes := s.settings.GetInt(ctx, SettingIntervalMinutes, 0); minutes > 0 {
		return time.Duration(minutes) * time.Minute
	}
	return interval
}

func (s *Scheduler) syncLoop(ctx context.Context) {
	if s.syncCfg.RunOnStart {
		s.RunOnce(ctx, syncer.TriggerScheduled)
	}
	timer := time.NewTimer(s.Interval(ctx))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.RunOnce(ctx, syncer.TriggerScheduled)
		case source := <-s.trigger:
			s.RunOnce(ctx, source)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		// The interval is re-read each round so setting changes apply
		// without a restart.
		timer.Reset(s.Interval(ctx))
	}
}

// RunOnce performs a full sync of every connected provider and records the
// outcome in the scheduled sync status. Overlapping calls are skipped and
// leave the status untouched.
func (s *Scheduler) RunOnce(ctx context.Context, source string) (syncer.Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.InfoContext(ctx, "sync tick skipped, previous run still active")
		return syncer.Result{}, syncer.ErrSyncInProgress
	}
	defer s.running.Store(false)

	res, err := s.syncer.SyncAllProviders(ctx, syncer.Options{
		Type:    syncer.TypeFull,
		Trigger: source,
		OnStart: func(ctx context.Context) {
			if err := s.tracker.Start(ctx, "Syncing providers"); err != nil {
				s.logger.WarnContext(ctx, "record sync status", slog.String("error", err.Error()))
			}
		},
	})
	if err == nil {
		err = summarizeFailures(res)
	}
	statusCtx := context.WithoutCancel(ctx)
	if err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			s.logger.InfoContext(ctx, "sync skipped, another run holds the lease")
			return res, err
		}
		s.logger.WarnContext(ctx, "scheduled sync finished with errors", slog.String("error", err.Error()))
		if ferr := s.tracker.Fail(statusCtx, err); ferr != nil {
			s.logger.WarnContext(ctx, "record sync status", slog.String("error", ferr.Error()))
		}
		return res, err
	}
	if cerr := s.tracker.Complete(statusCtx); cerr != nil {
		s.logger.WarnContext(ctx, "record sync status", slog.String("error", cerr.Error()))
	}
	return res, nil
}

func summarizeFailures(res syncer.Result) error {
	if res.Failed() == 0 {
		return nil
	}
	var parts []string
	for _, p := range res.Providers {
		if p.Status == db.SyncRunStatusFailed {
			parts = append(parts, fmt.Sprintf("%s: %s", p.ProviderName, p.Error))
		}
	}
	return fmt.Errorf("%d of %d providers failed (%s)", res.Failed(), len(res.Providers), strings.Join(parts, "; "))
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (s *Scheduler) refreshPricing(ctx context.Context) {
	n, err := s.pricing.Sync(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "pricing refresh failed", slog.String("error", err.Error()))
		return
	}
	s.logger.InfoContext(ctx, "pricing refreshed", slog.Int("models", n))
}

func (s *Scheduler) sweep(ctx context.Context) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retention.ExecutionDays)
	n, err := s.queries.DeleteExecutionsBefore(ctx, cutoff)
	if err != nil {
		s.logger.WarnContext(ctx, "retention sweep failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "retention sweep removed executions", slog.Int64("count", n), slog.Time("cutoff", cutoff))
	}
}
