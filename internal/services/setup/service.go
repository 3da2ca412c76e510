// Package setup drives first-run initialization: the administrator, the
// first n8n instance, tracking preferences and the staged initial sync.
package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/newflowio/elova/internal/auth"
	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/services/providers"
	"github.com/newflowio/elova/internal/services/settings"
	"github.com/newflowio/elova/internal/syncer"
	"github.com/newflowio/elova/internal/syncstatus"
)

const (
	KeyInitDone           = "app.initDone"
	KeyCompletedAt        = "setup.completed_at"
	KeyTrackedWorkflowIDs = "setup.tracked_workflow_ids"
	KeySyncInterval       = "features.sync_interval_minutes"
	KeyAnalyticsEnabled   = "features.analytics_enabled"

	defaultSyncInterval = 15
)

var (
	ErrAlreadyInitialized = errors.New("setup already completed")
	ErrAdminRequired      = errors.New("administrator email, name and password are required")
	ErrInitialSyncRunning = errors.New("initial sync already running")
)

// Syncer is the part of the sync engine setup depends on.
type Syncer interface {
	SyncAllProviders(ctx context.Context, opts syncer.Options) (syncer.Result, error)
	SyncProvider(ctx context.Context, providerID string, opts syncer.Options) (syncer.ProviderResult, error)
	ApplyTracking(ctx context.Context, providerID string, remoteIDs []string) (int, error)
}

type AdminInput struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type InstanceInput struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	APIKey string `json:"apiKey"`
}

type Configuration struct {
	SyncInterval     int  `json:"syncInterval"`
	AnalyticsEnabled bool `json:"analyticsEnabled"`
}

type EmailConfig struct {
	Enabled      bool   `json:"enabled"`
	SMTPHost     string `json:"smtpHost"`
	SMTPPort     int    `json:"smtpPort"`
	SMTPUser     string `json:"smtpUser"`
	SMTPPassword string `json:"smtpPassword"`
}

// CompleteRequest is the wizard submission. A nil TrackedWorkflowIDs leaves
// every synced workflow tracked; an empty list untracks all of them.
type CompleteRequest struct {
	Admin              AdminInput     `json:"adminData"`
	Instance           *InstanceInput `json:"n8nConfig"`
	Configuration      *Configuration `json:"configuration"`
	Email              *EmailConfig   `json:"emailConfig"`
	TrackedWorkflowIDs []string       `json:"trackedWorkflowIds"`
}

type CompleteResult struct {
	Message          string                      `json:"message"`
	RedirectTo       string                      `json:"redirectTo"`
	ProviderID       string                      `json:"providerId,omitempty"`
	Connection       *providers.ConnectionResult `json:"connection,omitempty"`
	TrackedWorkflows *int                        `json:"trackedWorkflows,omitempty"`
	InitialSync      syncstatus.Status           `json:"initialSync"`
	Warnings         []string                    `json:"warnings,omitempty"`
}

type Status struct {
	InitDone           bool              `json:"initDone"`
	HasAdmin           bool              `json:"hasAdmin"`
	Providers          int               `json:"providers"`
	ConnectedProviders int               `json:"connectedProviders"`
	InitialSync        syncstatus.Status `json:"initialSync"`
}

type Deps struct {
	Queries   *db.Queries
	Auth      *auth.Service
	Providers *providers.Service
	Settings  *settings.Service
	Syncer    Syncer
	Tracker   *syncstatus.Tracker
	Logger    *slog.Logger
}

type Service struct {
	queries   *db.Queries
	auth      *auth.Service
	providers *providers.Service
	settings  *settings.Service
	syncer    Syncer
	tracker   *syncstatus.Tracker
	logger    *slog.Logger
	now       func() time.Time

	retryDelay  time.Duration
	maxAttempts int

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := deps.Tracker
	if tracker == nil {
		tracker = syncstatus.NewTracker(deps.Queries, syncstatus.ScopeInitial)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		queries:     deps.Queries,
		auth:        deps.Auth,
		providers:   deps.Providers,
		settings:    deps.Settings,
		syncer:      deps.Syncer,
		tracker:     tracker,
		logger:      logger,
		now:         time.Now,
		retryDelay:  2 * time.Second,
		maxAttempts: 30,
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// Initialized reports whether the wizard has been completed.
func (s *Service) Initialized(ctx context.Context) bool {
	return s.settings.GetBool(ctx, KeyInitDone, false)
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	out := Status{InitDone: s.Initialized(ctx)}
	hasAdmin, err := s.auth.HasAdmin(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("check admin: %w", err)
	}
	out.HasAdmin = hasAdmin

	list, err := s.queries.ListProviders(ctx)
	if err != nil && !db.IsMissingTable(err) {
		return Status{}, fmt.Errorf("list providers: %w", err)
	}
	for _, p := range list {
		out.Providers++
		if p.IsConnected {
			out.ConnectedProviders++
		}
	}
	out.InitialSync, err = s.tracker.Get(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("initial sync status: %w", err)
	}
	return out, nil
}

// Progress returns the persisted initial sync status.
func (s *Service) Progress(ctx context.Context) (syncstatus.Status, error) {
	return s.tracker.Get(ctx)
}

// Complete applies the wizard submission. Connection and workflow sync
// problems are reported as warnings; they do not abort setup.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	if s.Initialized(ctx) {
		return CompleteResult{}, ErrAlreadyInitialized
	}

	admin, created, err := s.auth.EnsureAdmin(ctx, req.Admin.Email, req.Admin.Name, req.Admin.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidInput) {
			return CompleteResult{}, ErrAdminRequired
		}
		return CompleteResult{}, fmt.Errorf("create administrator: %w", err)
	}
	if created {
		s.logger.InfoContext(ctx, "administrator created", slog.String("user_id", admin.ID))
	}

	out := CompleteResult{Message: "Setup completed successfully", RedirectTo: "/dashboard"}
	if req.Instance != nil {
		if err := s.addInstance(ctx, admin.ID, req, &out); err != nil {
			return CompleteResult{}, err
		}
	}

	if err := s.storeSettings(ctx, req); err != nil {
		return CompleteResult{}, err
	}

	if err := s.tracker.Start(ctx, "Queued"); err != nil {
		return CompleteResult{}, err
	}
	if err := s.StartInitialSync(); err != nil && !errors.Is(err, ErrInitialSyncRunning) {
		return CompleteResult{}, err
	}
	out.InitialSync, _ = s.tracker.Get(ctx)
	return out, nil
}

func (s *Service) addInstance(ctx context.Context, userID string, req CompleteRequest, out *CompleteResult) error {
	name := strings.TrimSpace(req.Instance.Name)
	if name == "" {
		name = "Primary n8n"
	}
	p, conn, err := s.providers.Create(ctx, &userID, providers.Input{
		Name:    name,
		BaseURL: req.Instance.URL,
		APIKey:  req.Instance.APIKey,
	})
	switch {
	case errors.Is(err, providers.ErrInvalidInput):
		return err
	case errors.Is(err, providers.ErrDuplicate):
		out.Warnings = append(out.Warnings, fmt.Sprintf("provider %q already exists", name))
		return nil
	case err != nil:
		return fmt.Errorf("create provider: %w", err)
	}
	out.ProviderID = p.ID
	out.Connection = &conn
	if !conn.Success {
		s.logger.WarnContext(ctx, "provider connection failed during setup", slog.String("provider_id", p.ID), slog.String("error", conn.Error))
		out.Warnings = append(out.Warnings, "connection test failed: "+conn.Error)
		return nil
	}

	res, err := s.syncer.SyncProvider(ctx, p.ID, syncer.Options{Type: syncer.TypeWorkflows, Trigger: syncer.TriggerSetup})
	if err == nil && res.Error != "" {
		err = errors.New(res.Error)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "workflow sync failed during setup", slog.String("provider_id", p.ID), slog.String("error", err.Error()))
		out.Warnings = append(out.Warnings, "workflow sync failed: "+err.Error())
		return nil
	}
	if req.TrackedWorkflowIDs != nil {
		n, err := s.syncer.ApplyTracking(ctx, p.ID, req.TrackedWorkflowIDs)
		if err != nil {
			out.Warnings = append(out.Warnings, "apply tracking: "+err.Error())
			return nil
		}
		out.TrackedWorkflows = &n
	}
	return nil
}

func (s *Service) storeSettings(ctx context.Context, req CompleteRequest) error {
	var params []settings.UpsertParams
	if cfg := req.Configuration; cfg != nil {
		interval := cfg.SyncInterval
		if interval <= 0 {
			interval = defaultSyncInterval
		}
		params = append(params,
			settings.UpsertParams{Key: KeySyncInterval, Value: strconv.Itoa(interval), Type: settings.TypeNumber, Category: "features", Description: "Data sync interval"},
			settings.UpsertParams{Key: KeyAnalyticsEnabled, Value: strconv.FormatBool(cfg.AnalyticsEnabled), Type: settings.TypeBoolean, Category: "features", Description: "Enable analytics"},
		)
	}
	if e := req.Email; e != nil {
		port := e.SMTPPort
		if port <= 0 {
			port = 587
		}
		params = append(params,
			settings.UpsertParams{Key: "notifications.email.enabled", Value: strconv.FormatBool(e.Enabled), Type: settings.TypeBoolean, Category: "notifications"},
			settings.UpsertParams{Key: "notifications.email.smtp_host", Value: e.SMTPHost, Type: settings.TypeString, Category: "notifications"},
			settings.UpsertParams{Key: "notifications.email.smtp_port", Value: strconv.Itoa(port), Type: settings.TypeNumber, Category: "notifications"},
			settings.UpsertParams{Key: "notifications.email.smtp_user", Value: e.SMTPUser, Type: settings.TypeString, Category: "notifications"},
		)
		if e.SMTPPassword != "" {
			params = append(params, settings.UpsertParams{Key: "notifications.email.smtp_password", Value: e.SMTPPassword, Type: settings.TypeEncrypted, Category: "notifications", Sensitive: true})
		}
	}
	for _, p := range params {
		if err := s.settings.Upsert(ctx, p); err != nil {
			return fmt.Errorf("store %s: %w", p.Key, err)
		}
	}
	if req.TrackedWorkflowIDs != nil {
		if err := s.settings.SetJSON(ctx, KeyTrackedWorkflowIDs, "setup", "Workflow IDs selected for tracking", req.TrackedWorkflowIDs); err != nil {
			return fmt.Errorf("store tracked workflows: %w", err)
		}
	}
	if err := s.settings.Upsert(ctx, settings.UpsertParams{Key: KeyInitDone, Value: "true", Type: settings.TypeBoolean, Category: "system", Description: "Initialization complete flag"}); err != nil {
		return fmt.Errorf("mark initialized: %w", err)
	}
	return s.settings.Upsert(ctx, settings.UpsertParams{
		Key:      KeyCompletedAt,
		Value:    s.now().UTC().Format(time.RFC3339),
		Type:     settings.TypeString,
		Category: "setup",
	})
}

// StartInitialSync runs RunInitialSync in the background.
func (s *Service) StartInitialSync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrInitialSyncRunning
	}
	if s.baseCtx.Err() != nil {
		return s.baseCtx.Err()
	}
	s.running = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		if _, err := s.RunInitialSync(s.baseCtx); err != nil {
			s.logger.Error("initial sync failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Wait blocks until a background initial sync returns.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels a background initial sync and waits for it.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// RunInitialSync syncs workflows, applies the stored tracking selection,
// then syncs executions and backups, recording progress as it goes.
func (s *Service) RunInitialSync(ctx context.Context) (syncer.Result, error) {
	res, err := s.runInitialSync(ctx)
	if err != nil {
		if ferr := s.tracker.Fail(context.WithoutCancel(ctx), err); ferr != nil {
			s.logger.WarnContext(ctx, "record initial sync failure", slog.String("error", ferr.Error()))
		}
		return res, err
	}
	if err := s.tracker.Complete(ctx); err != nil {
		return res, err
	}
	s.logger.InfoContext(ctx, "initial sync completed", slog.Int("providers", len(res.Providers)))
	return res, nil
}

func (s *Service) runInitialSync(ctx context.Context) (syncer.Result, error) {
	if err := s.tracker.Start(ctx, "Syncing workflows"); err != nil {
		return syncer.Result{}, err
	}
	if err := s.tracker.Step(ctx, 10, "Syncing workflows"); err != nil {
		return syncer.Result{}, err
	}
	if _, err := s.syncAll(ctx, syncer.TypeWorkflows); err != nil {
		return syncer.Result{}, err
	}
	if err := s.tracker.Step(ctx, 25, "Syncing workflows"); err != nil {
		return syncer.Result{}, err
	}

	if err := s.tracker.Step(ctx, 30, "Applying tracking preferences"); err != nil {
		return syncer.Result{}, err
	}
	if err := s.applyStoredTracking(ctx); err != nil {
		s.logger.WarnContext(ctx, "apply tracking preferences", slog.String("error", err.Error()))
	}

	if err := s.tracker.Step(ctx, 40, "Syncing executions"); err != nil {
		return syncer.Result{}, err
	}
	res, err := s.syncAll(ctx, syncer.TypeExecutions)
	if err != nil {
		return res, err
	}
	if err := s.tracker.Step(ctx, 80, "Syncing executions"); err != nil {
		return res, err
	}
	if n := len(res.Providers); n > 0 && res.Failed() == n {
		return res, fmt.Errorf("execution sync failed for all %d providers: %s", n, res.Providers[0].Error)
	}

	if err := s.tracker.Step(ctx, 85, "Creating backups"); err != nil {
		return res, err
	}
	if _, err := s.syncAll(ctx, syncer.TypeBackups); err != nil {
		return res, err
	}
	if err := s.tracker.Step(ctx, 95, "Creating backups"); err != nil {
		return res, err
	}
	return res, nil
}

// syncAll waits for a concurrent run (usually the scheduler's first tick)
// to release the lease instead of failing the initial sync.
func (s *Service) syncAll(ctx context.Context, typ syncer.Type) (syncer.Result, error) {
	opts := syncer.Options{Type: typ, Trigger: syncer.TriggerSetup}
	for attempt := 1; ; attempt++ {
		res, err := s.syncer.SyncAllProviders(ctx, opts)
		if !errors.Is(err, syncer.ErrSyncInProgress) || attempt >= s.maxAttempts {
			if err != nil {
				return res, fmt.Errorf("%s sync: %w", typ, err)
			}
			return res, nil
		}
		select {
		case <-ctx.Done():
			return syncer.Result{}, ctx.Err()
		case <-time.After(s.retryDelay):
		}
	}
}

func (s *Service) applyStoredTracking(ctx context.Context) error {
	var ids []string
	if err := s.settings.GetJSON(ctx, KeyTrackedWorkflowIDs, &ids); err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			return nil
		}
		return err
	}
	list, err := s.queries.ListConnectedProviders(ctx)
	if err != nil {
		return fmt.Errorf("list providers: %w", err)
	}
	var errs []error
	for _, p := range list {
		n, err := s.syncer.ApplyTracking(ctx, p.ID, ids)
		if err != nil {
			errs = append(errs, fmt.Errorf("provider %s: %w", p.ID, err))
			continue
		}
		s.logger.InfoContext(ctx, "tracking preferences applied", slog.String("provider_id", p.ID), slog.Int("tracked", n), slog.Int("requested", len(ids)))
	}
	return errors.Join(errs...)
}
