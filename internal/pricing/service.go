package pricing

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/db"
)

const (
	SourceOpenRouter = "openrouter"
	SourceImport     = "import"

	// SettingModels holds the raw OpenRouter listing from the last sync.
	SettingModels = "ai.pricing.models"

	cacheTTL = time.Minute
)

//go:embed defaults.json
var defaultsJSON []byte

// Default returns the table bundled with the binary.
func Default() Table {
	models, err := ParseOpenRouter(defaultsJSON)
	if err != nil {
		panic(fmt.Sprintf("pricing: bundled defaults: %v", err))
	}
	return FromOpenRouter(models)
}

// Service resolves the effective price table: stored prices first, the
// bundled defaults when none are stored.
type Service struct {
	conn     *sql.DB
	queries  *db.Queries
	client   *http.Client
	url      string
	fallback Price
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	cached   Table
	cachedAt time.Time
}

func NewService(conn *sql.DB, queries *db.Queries, cfg config.PricingConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	fallback := FallbackPrice
	if cfg.FallbackInput > 0 {
		fallback.Input = decimal.NewFromFloat(cfg.FallbackInput)
	}
	if cfg.FallbackOutput > 0 {
		fallback.Output = decimal.NewFromFloat(cfg.FallbackOutput)
	}
	url := cfg.OpenRouterURL
	if url == "" {
		url = "https://openrouter.ai/api/v1/models"
	}
	return &Service{
		conn:     conn,
		queries:  queries,
		client:   &http.Client{Timeout: 30 * time.Second},
		url:      url,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// Fallback is the price applied to unknown models.
func (s *Service) Fallback() Price {
	return s.fallback
}

// Table returns the effective price table.
func (s *Service) Table(ctx context.Context) (Table, error) {
	s.mu.RLock()
	if s.cached != nil && s.now().Sub(s.cachedAt) < cacheTTL {
		t := s.cached
		s.mu.RUnlock()
		return t, nil
	}
	s.mu.RUnlock()

	rows, err := s.queries.ListPricingModels(ctx)
	if err != nil {
		if db.IsMissingTable(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("list pricing models: %w", err)
	}
	table := Default()
	if len(rows) > 0 {
		table = make(Table, len(rows))
		for _, r := range rows {
			table[r.Model] = Price{Input: r.InputPer1K, Output: r.OutputPer1K}
		}
	}

	s.mu.Lock()
	s.cached = table
	s.cachedAt = s.now()
	s.mu.Unlock()
	return table, nil
}

// Cost prices a token count against the effective table.
func (s *Service) Cost(ctx context.Context, model string, inputTokens, outputTokens int64) (decimal.Decimal, error) {
	table, err := s.Table(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return table.Cost(model, inputTokens, outputTokens, s.fallback), nil
}

// Invalidate drops the cached table.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Sync pulls the OpenRouter model listing, stores the raw listing as a
// setting and replaces the openrouter-sourced prices. It returns the number
// of table keys written.
func (s *Service) Sync(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch openrouter models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("fetch openrouter models: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return 0, fmt.Errorf("read openrouter models: %w", err)
	}
	models, err := ParseOpenRouter(body)
	if err != nil {
		return 0, err
	}

	raw, err := json.Marshal(models)
	if err != nil {
		return 0, err
	}
	if err := s.queries.UpsertSetting(ctx, db.UpsertSettingParams{
		Key:         SettingModels,
		Value:       string(raw),
		ValueType:   "json",
		Category:    "ai",
		Description: "OpenRouter model listing from the last pricing sync",
		UpdatedAt:   s.now().UTC(),
	}); err != nil {
		return 0, fmt.Errorf("store pricing listing: %w", err)
	}

	n, err := s.Import(ctx, models, SourceOpenRouter)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "pricing synced", slog.Int("models", len(models)), slog.Int("keys", n))
	return n, nil
}

// Import replaces all prices from source with models in one transaction.
func (s *Service) Import(ctx context.Context, models []OpenRouterModel, source string) (int, error) {
	if len(models) == 0 {
		return 0, errors.New("no models to import")
	}
	table := FromOpenRouter(models)

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	q := s.queries.WithTx(tx)
	if _, err := q.DeletePricingModelsBySource(ctx, source); err != nil {
		return 0, fmt.Errorf("clear %s prices: %w", source, err)
	}
	now := s.now().UTC()
	for _, key := range table.Keys() {
		price := table[key]
		if err := q.UpsertPricingModel(ctx, db.UpsertPricingModelParams{
			Model:       key,
			InputPer1K:  price.Input,
			OutputPer1K: price.Output,
			Source:      source,
			UpdatedAt:   now,
		}); err != nil {
			return 0, fmt.Errorf("store price %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.Invalidate()
	return len(table), nil
}
