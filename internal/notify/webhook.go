package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/newflowio/elova/internal/config"
)

// WebhookSink posts alerts as JSON to the configured endpoints.
type WebhookSink struct {
	client     *http.Client
	maxRetries int
	logger     *slog.Logger
}

func NewWebhookSink(cfg config.WebhookConfig, logger *slog.Logger) *WebhookSink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &WebhookSink{
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
}

type webhookPayload struct {
	Event        string    `json:"event"`
	Level        string    `json:"level"`
	ProviderID   string    `json:"provider_id"`
	ProviderName string    `json:"provider_name"`
	SyncType     string    `json:"sync_type,omitempty"`
	RunID        string    `json:"run_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *WebhookSink) Notify(ctx context.Context, payload Payload) error {
	if s == nil {
		return nil
	}
	urls := payload.Channels.Webhooks
	if len(urls) == 0 {
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		Event:        "elova.sync",
		Level:        string(payload.Level),
		ProviderID:   payload.ProviderID,
		ProviderName: payload.ProviderName,
		SyncType:     payload.SyncType,
		RunID:        payload.RunID,
		Error:        payload.Error,
		Timestamp:    payload.Timestamp.UTC(),
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, target := range urls {
		if strings.TrimSpace(target) == "" {
			continue
		}
		if err := s.postWithRetries(ctx, target, body); err != nil {
			s.logger.WarnContext(ctx, "webhook alert failed", slog.String("url", target), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
		}
	}
	return errors.Join(errs...)
}

func (s *WebhookSink) postWithRetries(ctx context.Context, url string, body []byte) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.post(ctx, url, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == s.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
		}
	}
	return lastErr
}

func (s *WebhookSink) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
