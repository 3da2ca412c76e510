// Package providers manages n8n instance connections.
package providers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/n8n"
	"github.com/newflowio/elova/internal/secretbox"
	"github.com/newflowio/elova/internal/syncer"
)

const (
	StatusConnected = "connected"
	StatusError     = "error"
	StatusUnknown   = "unknown"
)

var (
	ErrNotFound     = errors.New("provider not found")
	ErrInvalidInput = errors.New("invalid provider")
	ErrDuplicate    = errors.New("provider name already exists")
)

// Input carries user supplied connection details. An empty APIKey on
// update keeps the stored key.
type Input struct {
	Name    string `json:"name"`
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey"`
}

// ConnectionResult mirrors what the connection test endpoints return.
type ConnectionResult struct {
	Success       bool   `json:"success"`
	Version       string `json:"version,omitempty"`
	WorkflowCount int    `json:"workflowCount"`
	AuthMode      string `json:"authMode,omitempty"`
	InternalAPI   bool   `json:"internalApi,omitempty"`
	Error         string `json:"error,omitempty"`
}

type Service struct {
	queries *db.Queries
	box     *secretbox.Box
	syncCfg config.SyncConfig
	logger  *slog.Logger
	now     func() time.Time

	// dial builds clients; tests swap it to inject an http client.
	dial func(baseURL, apiKey string) (*n8n.Client, error)
}

func NewService(queries *db.Queries, box *secretbox.Box, syncCfg config.SyncConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		queries: queries,
		box:     box,
		syncCfg: syncCfg,
		logger:  logger,
		now:     time.Now,
	}
	s.dial = func(baseURL, apiKey string) (*n8n.Client, error) {
		return n8n.New(n8n.Options{
			BaseURL:           baseURL,
			APIKey:            apiKey,
			Timeout:           syncCfg.RequestTimeout,
			MaxRetries:        syncCfg.MaxRetries,
			MaxRetryWait:      syncCfg.MaxRetryWait,
			RequestsPerSecond: syncCfg.RequestsPerSecond,
			Logger:            logger,
		})
	}
	return s
}

func (s *Service) List(ctx context.Context) ([]db.Provider, error) {
	items, err := s.queries.ListProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, id string) (db.Provider, error) {
	p, err := s.queries.GetProvider(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.Provider{}, ErrNotFound
		}
		return db.Provider{}, fmt.Errorf("get provider: %w", err)
	}
	return p, nil
}

// Create stores a provider with its key sealed, then tests the connection
// and records the outcome. A failed test does not undo the create.
func (s *Service) Create(ctx context.Context, userID *string, in Input) (db.Provider, ConnectionResult, error) {
	in, err := validate(in, true)
	if err != nil {
		return db.Provider{}, ConnectionResult{}, err
	}
	if _, err := s.queries.GetProviderByName(ctx, in.Name); err == nil {
		return db.Provider{}, ConnectionResult{}, ErrDuplicate
	} else if !errors.Is(err, sql.ErrNoRows) {
		return db.Provider{}, ConnectionResult{}, fmt.Errorf("lookup provider: %w", err)
	}
	sealed, err := s.sealKey(in.APIKey)
	if err != nil {
		return db.Provider{}, ConnectionResult{}, err
	}
	p, err := s.queries.CreateProvider(ctx, db.CreateProviderParams{
		ID:              uuid.NewString(),
		UserID:          userID,
		Name:            in.Name,
		BaseURL:         in.BaseURL,
		APIKeyEncrypted: sealed,
		CreatedAt:       s.now().UTC(),
	})
	if err != nil {
		return db.Provider{}, ConnectionResult{}, fmt.Errorf("create provider: %w", err)
	}
	s.logger.InfoContext(ctx, "provider created", slog.String("provider_id", p.ID), slog.String("name", p.Name))

	res, p, err := s.connect(ctx, p, in.APIKey)
	return p, res, err
}

func (s *Service) Update(ctx context.Context, id string, in Input) (db.Provider, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return db.Provider{}, err
	}
	in, err = validate(in, false)
	if err != nil {
		return db.Provider{}, err
	}
	if in.Name != current.Name {
		if other, err := s.queries.GetProviderByName(ctx, in.Name); err == nil && other.ID != id {
			return db.Provider{}, ErrDuplicate
		}
	}
	sealed := current.APIKeyEncrypted
	if in.APIKey != "" {
		if sealed, err = s.sealKey(in.APIKey); err != nil {
			return db.Provider{}, err
		}
	}
	p, err := s.queries.UpdateProvider(ctx, db.UpdateProviderParams{
		ID:              id,
		Name:            in.Name,
		BaseURL:         in.BaseURL,
		APIKeyEncrypted: sealed,
		UpdatedAt:       s.now().UTC(),
	})
	if err != nil {
		return db.Provider{}, fmt.Errorf("update provider: %w", err)
	}
	return p, nil
}

// Delete removes the provider and, through foreign keys, everything synced
// from it.
func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.queries.DeleteProvider(ctx, id)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.logger.InfoContext(ctx, "provider deleted", slog.String("provider_id", id))
	return nil
}

// TestConnection probes an instance with raw credentials, as the setup
// wizard does before anything is stored.
func (s *Service) TestConnection(ctx context.Context, baseURL, apiKey string) ConnectionResult {
	client, err := s.dial(baseURL, apiKey)
	if err != nil {
		return ConnectionResult{Error: err.Error()}
	}
	return probe(ctx, client)
}

// Test probes a stored provider and marks it connected on success.
func (s *Service) Test(ctx context.Context, id string) (ConnectionResult, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return ConnectionResult{}, err
	}
	key, err := syncer.OpenAPIKey(s.box, p.APIKeyEncrypted)
	if err != nil {
		return ConnectionResult{}, err
	}
	res, _, err := s.connect(ctx, p, key)
	return res, err
}

// Check probes a stored provider without changing whether it participates
// in syncs. The health monitor uses it.
func (s *Service) Check(ctx context.Context, p db.Provider) (ConnectionResult, error) {
	key, err := syncer.OpenAPIKey(s.box, p.APIKeyEncrypted)
	if err != nil {
		return ConnectionResult{Error: err.Error()}, s.UpdateConnectionStatus(ctx, p.ID, p.IsConnected, ConnectionResult{Error: err.Error()})
	}
	client, err := s.dial(p.BaseURL, key)
	res := ConnectionResult{}
	if err != nil {
		res.Error = err.Error()
	} else {
		res = probe(ctx, client)
	}
	return res, s.UpdateConnectionStatus(ctx, p.ID, p.IsConnected, res)
}

// UpdateConnectionStatus records the outcome of a connection test.
func (s *Service) UpdateConnectionStatus(ctx context.Context, id string, connected bool, res ConnectionResult) error {
	params := db.UpdateProviderConnectionParams{
		ID:          id,
		IsConnected: connected,
		Status:      StatusConnected,
		CheckedAt:   s.now().UTC(),
	}
	if res.Version != "" {
		v := res.Version
		params.Version = &v
	}
	if !res.Success {
		params.Status = StatusError
		msg := res.Error
		params.LastError = &msg
	}
	if err := s.queries.UpdateProviderConnection(ctx, params); err != nil {
		return fmt.Errorf("update connection status: %w", err)
	}
	return nil
}

// Client builds an n8n client for a stored provider.
func (s *Service) Client(p db.Provider) (*n8n.Client, error) {
	key, err := syncer.OpenAPIKey(s.box, p.APIKeyEncrypted)
	if err != nil {
		return nil, err
	}
	return s.dial(p.BaseURL, key)
}

// RemoteWorkflows lists the workflows of an instance that is not stored
// yet. The setup wizard shows them for tracking selection.
func (s *Service) RemoteWorkflows(ctx context.Context, baseURL, apiKey string) ([]n8n.Workflow, error) {
	client, err := s.dial(baseURL, apiKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	pageSize := s.syncCfg.PageSize
	if pageSize <= 0 {
		pageSize = 250
	}
	maxPages := s.syncCfg.MaxPages
	if maxPages <= 0 {
		maxPages = 10
	}
	return client.ListAllWorkflows(ctx, pageSize, maxPages)
}

// Bootstrap creates the configured providers that do not exist yet.
func (s *Service) Bootstrap(ctx context.Context, list []config.BootstrapProvider) (int, error) {
	created := 0
	for _, bp := range list {
		if _, err := s.queries.GetProviderByName(ctx, strings.TrimSpace(bp.Name)); err == nil {
			continue
		} else if !errors.Is(err, sql.ErrNoRows) {
			return created, fmt.Errorf("lookup provider %s: %w", bp.Name, err)
		}
		p, res, err := s.Create(ctx, nil, Input{Name: bp.Name, BaseURL: bp.BaseURL, APIKey: bp.APIKey})
		if err != nil {
			return created, fmt.Errorf("bootstrap provider %s: %w", bp.Name, err)
		}
		created++
		if !res.Success {
			s.logger.WarnContext(ctx, "bootstrap provider not reachable",
				slog.String("provider_id", p.ID),
				slog.String("error", res.Error),
			)
		}
	}
	return created, nil
}

func (s *Service) connect(ctx context.Context, p db.Provider, apiKey string) (ConnectionResult, db.Provider, error) {
	res := s.TestConnection(ctx, p.BaseURL, apiKey)
	connected := p.IsConnected || res.Success
	if err := s.UpdateConnectionStatus(ctx, p.ID, connected, res); err != nil {
		return res, p, err
	}
	updated, err := s.Get(ctx, p.ID)
	if err != nil {
		return res, p, err
	}
	return res, updated, nil
}

func (s *Service) sealKey(key string) (string, error) {
	if s.box == nil {
		return "", errors.New("auth.secret_key must be configured to store api keys")
	}
	sealed, err := s.box.SealString(key)
	if err != nil {
		return "", fmt.Errorf("encrypt api key: %w", err)
	}
	return sealed, nil
}

func probe(ctx context.Context, client *n8n.Client) ConnectionResult {
	res, err := client.Probe(ctx)
	if err != nil {
		return ConnectionResult{Error: n8n.Message(err)}
	}
	return ConnectionResult{
		Success:       true,
		Version:       res.Version,
		WorkflowCount: res.WorkflowCount,
		AuthMode:      res.AuthMode,
		InternalAPI:   res.InternalAPI,
	}
}

func validate(in Input, requireKey bool) (Input, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.BaseURL = n8n.CleanBaseURL(in.BaseURL)
	in.APIKey = strings.TrimSpace(in.APIKey)
	if in.Name == "" {
		return in, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	u, err := url.ParseRequestURI(in.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return in, fmt.Errorf("%w: base url must be an http(s) url", ErrInvalidInput)
	}
	if requireKey && in.APIKey == "" {
		return in, fmt.Errorf("%w: api key is required", ErrInvalidInput)
	}
	return in, nil
}
