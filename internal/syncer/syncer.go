// Package syncer mirrors n8n workflows, executions and workflow definitions
// into the local store.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/newflowio/elova/internal/cache"
	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/limits"
	"github.com/newflowio/elova/internal/n8n"
	"github.com/newflowio/elova/internal/notify"
	"github.com/newflowio/elova/internal/observability"
	"github.com/newflowio/elova/internal/pricing"
	"github.com/newflowio/elova/internal/storage/blob"
)

// ErrSyncInProgress is returned when another full sync holds the lease.
var ErrSyncInProgress = errors.New("sync already in progress")

type Type string

const (
	TypeWorkflows  Type = "workflows"
	TypeExecutions Type = "executions"
	TypeBackups    Type = "backups"
	TypeFull       Type = "full"
)

// ParseType maps user input onto a sync type; empty means full.
func ParseType(raw string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(raw))) {
	case "", TypeFull:
		return TypeFull, nil
	case TypeWorkflows:
		return TypeWorkflows, nil
	case TypeExecutions:
		return TypeExecutions, nil
	case TypeBackups:
		return TypeBackups, nil
	}
	return "", fmt.Errorf("unknown sync type %q", raw)
}

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerSetup     = "setup"
	TriggerCLI       = "cli"
)

type Options struct {
	Type    Type
	Trigger string
	// OnStart runs once SyncAllProviders holds the run lease, before any
	// provider is synced. It is not called when the run is refused.
	OnStart func(ctx context.Context)
}

// Source is the subset of the n8n client the syncer reads from.
type Source interface {
	ListAllWorkflows(ctx context.Context, pageSize, maxPages int) ([]n8n.Workflow, error)
	WalkExecutions(ctx context.Context, params n8n.ListExecutionsParams, maxPages int, visit n8n.ExecutionVisitor) (n8n.WalkResult, error)
	GetExecution(ctx context.Context, id string, includeData bool) (n8n.Execution, error)
	GetWorkflowDefinition(ctx context.Context, id string) (n8n.Workflow, json.RawMessage, error)
}

// ClientFunc builds a Source for a stored provider.
type ClientFunc func(p db.Provider) (Source, error)

// Alerter receives per-provider outcomes.
type Alerter interface {
	Failed(ctx context.Context, payload notify.Payload) error
	Recovered(ctx context.Context, payload notify.Payload) error
}

// ProviderResult is the outcome of one provider's sync. Error is set
// instead of failing the whole run.
type ProviderResult struct {
	ProviderID   string           `json:"providerId"`
	ProviderName string           `json:"providerName"`
	RunID        string           `json:"runId,omitempty"`
	Status       db.SyncRunStatus `json:"status"`
	Workflows    int              `json:"workflows"`
	Executions   int              `json:"executions"`
	Backups      int              `json:"backups"`
	Error        string           `json:"error,omitempty"`
	Duration     time.Duration    `json:"duration"`
}

type Result struct {
	Type       Type             `json:"type"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	Providers  []ProviderResult `json:"providers"`
}

// Failed counts providers whose sync did not complete.
func (r Result) Failed() int {
	n := 0
	for _, p := range r.Providers {
		if p.Status == db.SyncRunStatusFailed {
			n++
		}
	}
	return n
}

func (r Result) Totals() (workflows, executions, backups int) {
	for _, p := range r.Providers {
		workflows += p.Workflows
		executions += p.Executions
		backups += p.Backups
	}
	return
}

type Deps struct {
	Queries *db.Queries
	Clients ClientFunc
	Pricing *pricing.Service
	Blobs   blob.Store
	Leaser  *limits.Leaser
	Metrics *observability.Provider
	Alerts  Alerter
	Cache   *cache.JSONCache
	Config  config.SyncConfig
	Logger  *slog.Logger
}

type Syncer struct {
	queries *db.Queries
	clients ClientFunc
	pricing *pricing.Service
	blobs   blob.Store
	leaser  *limits.Leaser
	metrics *observability.Provider
	alerts  Alerter
	cache   *cache.JSONCache
	cfg     config.SyncConfig
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	lastMu sync.RWMutex
	last   *Result
}

func New(deps Deps) *Syncer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	leaser := deps.Leaser
	if leaser == nil {
		leaser = limits.NewLeaser(nil)
	}
	cfg := deps.Config
	if cfg.PageSize <= 0 {
		cfg.PageSize = 250
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.UnfinishedWindow <= 0 {
		cfg.UnfinishedWindow = 24 * time.Hour
	}
	return &Syncer{
		queries: deps.Queries,
		clients: deps.Clients,
		pricing: deps.Pricing,
		blobs:   deps.Blobs,
		leaser:  leaser,
		metrics: deps.Metrics,
		alerts:  deps.Alerts,
		cache:   deps.Cache,
		cfg:     cfg,
		logger:  logger,
		tracer:  deps.Metrics.Tracer("elova/syncer"),
		now:     time.Now,
	}
}

// Running reports whether a full sync currently holds the lease.
func (s *Syncer) Running(ctx context.Context) bool {
	return s.leaser.Held(ctx, "sync:all")
}

// LastResult returns the most recent SyncAllProviders outcome, if any.
func (s *Syncer) LastResult() (Result, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

// SyncAllProviders syncs every connected provider concurrently. Provider
// failures are reported in the result; the returned error is limited to
// problems that prevent the run from starting.
func (s *Syncer) SyncAllProviders(ctx context.Context, opts Options) (Result, error) {
	opts = normalizeOptions(opts)
	release, err := s.leaser.Acquire(ctx, "sync:all", s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, limits.ErrLeaseHeld) {
			return Result{}, ErrSyncInProgress
		}
		return Result{}, fmt.Errorf("acquire sync lease: %w", err)
	}
	defer release()
	if opts.OnStart != nil {
		opts.OnStart(ctx)
	}

	providers, err := s.queries.ListConnectedProviders(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list providers: %w", err)
	}

	res := Result{Type: opts.Type, StartedAt: s.now().UTC()}
	res.Providers = make([]ProviderResult, len(providers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, p := range providers {
		g.Go(func() error {
			res.Providers[i] = s.syncProvider(gctx, p, opts)
			return nil
		})
	}
	_ = g.Wait()
	res.FinishedAt = s.now().UTC()

	if err := s.cache.Flush(ctx); err != nil {
		s.logger.WarnContext(ctx, "flush chart cache", slog.String("error", err.Error()))
	}

	s.lastMu.Lock()
	s.last = &res
	s.lastMu.Unlock()

	wf, ex, bk := res.Totals()
	s.logger.InfoContext(ctx, "sync finished",
		slog.String("type", string(opts.Type)),
		slog.String("trigger", opts.Trigger),
		slog.Int("providers", len(providers)),
		slog.Int("failed", res.Failed()),
		slog.Int("workflows", wf),
		slog.Int("executions", ex),
		slog.Int("backups", bk),
		slog.Duration("duration", res.FinishedAt.Sub(res.StartedAt)),
	)
	return res, nil
}

// SyncProvider syncs a single provider by id.
func (s *Syncer) SyncProvider(ctx context.Context, providerID string, opts Options) (ProviderResult, error) {
	p, err := s.queries.GetProvider(ctx, providerID)
	if err != nil {
		return ProviderResult{}, err
	}
	res := s.syncProvider(ctx, p, normalizeOptions(opts))
	if err := s.cache.Flush(ctx); err != nil {
		s.logger.WarnContext(ctx, "flush chart cache", slog.String("error", err.Error()))
	}
	return res, nil
}

func normalizeOptions(opts Options) Options {
	if opts.Type == "" {
		opts.Type = TypeFull
	}
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}
	return opts
}

// syncProvider never returns an error: failures, including panics, end up
// in the result and the sync_runs row.
func (s *Syncer) syncProvider(ctx context.Context, p db.Provider, opts Options) (out ProviderResult) {
	start := s.now()
	out = ProviderResult{ProviderID: p.ID, ProviderName: p.Name}
	logger := s.logger.With(slog.String("provider_id", p.ID), slog.String("sync_type", string(opts.Type)))

	ctx, span := s.tracer.Start(ctx, "syncer.provider", trace.WithAttributes(
		attribute.String("provider.id", p.ID),
		attribute.String("sync.type", string(opts.Type)),
	))
	defer span.End()

	release, err := s.leaser.Acquire(ctx, "sync:provider:"+p.ID, s.cfg.LockTTL)
	if err != nil {
		out.Status = db.SyncRunStatusSkipped
		out.Error = "sync already in progress for this provider"
		if !errors.Is(err, limits.ErrLeaseHeld) {
			out.Error = err.Error()
		}
		logger.InfoContext(ctx, "provider sync skipped", slog.String("reason", out.Error))
		return out
	}
	defer release()

	run, err := s.queries.CreateSyncRun(ctx, db.CreateSyncRunParams{
		ID:            uuid.NewString(),
		ProviderID:    &p.ID,
		SyncType:      string(opts.Type),
		TriggerSource: opts.Trigger,
		StartedAt:     start.UTC(),
	})
	if err != nil {
		out.Status = db.SyncRunStatusFailed
		out.Error = fmt.Sprintf("record sync run: %v", err)
		logger.ErrorContext(ctx, "create sync run", slog.String("error", err.Error()))
		return out
	}
	out.RunID = run.ID
	logger = logger.With(slog.String("run_id", run.ID))

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("sync panicked: %v", r)
			}
		}()
		runErr = s.runSteps(ctx, p, opts.Type, &out)
	}()

	out.Duration = s.now().Sub(start)
	out.Status = db.SyncRunStatusCompleted
	var errText *string
	if runErr != nil {
		out.Status = db.SyncRunStatusFailed
		out.Error = n8n.Message(runErr)
		errText = &out.Error
		span.RecordError(runErr)
		span.SetStatus(codes.Error, out.Error)
		logger.ErrorContext(ctx, "provider sync failed", slog.String("error", runErr.Error()))
	} else {
		logger.InfoContext(ctx, "provider sync completed",
			slog.Int("workflows", out.Workflows),
			slog.Int("executions", out.Executions),
			slog.Int("backups", out.Backups),
			slog.Duration("duration", out.Duration),
		)
	}

	// The run row is closed even when the caller's context is gone.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.queries.FinishSyncRun(finishCtx, db.FinishSyncRunParams{
		ID:               run.ID,
		Status:           out.Status,
		FinishedAt:       s.now().UTC(),
		WorkflowsSynced:  int64(out.Workflows),
		ExecutionsSynced: int64(out.Executions),
		BackupsCreated:   int64(out.Backups),
		Error:            errText,
	}); err != nil {
		logger.ErrorContext(ctx, "finish sync run", slog.String("error", err.Error()))
	}

	s.metrics.RecordSyncRun(p.ID, string(opts.Type), string(out.Status), out.Duration)
	s.metrics.RecordSynced(p.ID, "workflows", out.Workflows)
	s.metrics.RecordSynced(p.ID, "executions", out.Executions)
	s.metrics.RecordSynced(p.ID, "backups", out.Backups)
	s.alert(finishCtx, p, opts, out)
	return out
}

func (s *Syncer) runSteps(ctx context.Context, p db.Provider, typ Type, out *ProviderResult) error {
	if s.clients == nil {
		return errors.New("no n8n client factory configured")
	}
	src, err := s.clients(p)
	if err != nil {
		return fmt.Errorf("build n8n client: %w", err)
	}

	if typ == TypeWorkflows || typ == TypeFull {
		n, err := s.SyncWorkflows(ctx, p.ID, src)
		out.Workflows = n
		if err != nil {
			return fmt.Errorf("workflows: %w", err)
		}
	}
	if typ == TypeExecutions || typ == TypeFull {
		n, err := s.SyncExecutions(ctx, p.ID, src)
		out.Executions = n
		if err != nil {
			return fmt.Errorf("executions: %w", err)
		}
	}
	if typ == TypeBackups || typ == TypeFull {
		n, err := s.SyncBackups(ctx, p.ID, src)
		out.Backups = n
		if err != nil {
			return fmt.Errorf("backups: %w", err)
		}
	}
	return nil
}

func (s *Syncer) alert(ctx context.Context, p db.Provider, opts Options, out ProviderResult) {
	if s.alerts == nil || out.Status == db.SyncRunStatusSkipped {
		return
	}
	payload := notify.Payload{
		ProviderID:   p.ID,
		ProviderName: p.Name,
		SyncType:     string(opts.Type),
		RunID:        out.RunID,
		Error:        out.Error,
		Timestamp:    s.now().UTC(),
	}
	var err error
	if out.Status == db.SyncRunStatusFailed {
		err = s.alerts.Failed(ctx, payload)
	} else {
		err = s.alerts.Recovered(ctx, payload)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "deliver sync alert", slog.String("provider_id", p.ID), slog.String("error", err.Error()))
	}
}

// ApplyTracking marks every workflow of the provider untracked, then tracks
// the listed remote ids. It returns how many were marked tracked.
func (s *Syncer) ApplyTracking(ctx context.Context, providerID string, remoteIDs []string) (int, error) {
	now := s.now().UTC()
	if _, err := s.queries.SetProviderWorkflowsTracked(ctx, providerID, false, now); err != nil {
		return 0, fmt.Errorf("reset tracking: %w", err)
	}
	marked := 0
	for _, id := range remoteIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		n, err := s.queries.SetWorkflowTracked(ctx, providerID, id, true, now)
		if err != nil {
			return marked, fmt.Errorf("track workflow %s: %w", id, err)
		}
		marked += int(n)
	}
	return marked, nil
}
