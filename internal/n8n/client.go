package n8n

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout        = 10 * time.Second
	defaultInitialBackoff = time.Second
	defaultMaxRetryWait   = time.Minute
	maxErrorBody          = 4 << 10

	headerAPIKey = "X-N8N-API-KEY"

	AuthModeAPIKey = "apikey"
	AuthModeBearer = "bearer"
)

// Options configures a Client. MaxRetries counts retries after the first
// attempt, so zero disables them. MaxRetryWait caps each backoff, including
// waits requested through Retry-After.
type Options struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxRetryWait      time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client talks to the public REST API of a single n8n instance.
type Client struct {
	baseURL        string
	apiKey         string
	http           *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	initialBackoff time.Duration
	maxRetryWait   time.Duration
	logger         *slog.Logger

	mu       sync.RWMutex
	authMode string
}

func New(opts Options) (*Client, error) {
	base := CleanBaseURL(opts.BaseURL)
	if base == "" {
		return nil, errors.New("n8n: base url required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("n8n: invalid base url: %w", err)
	}
	key := CleanAPIKey(opts.APIKey)
	if key == "" {
		return nil, errors.New("n8n: api key required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	backoff := opts.InitialBackoff
	if backoff <= 0 {
		backoff = defaultInitialBackoff
	}
	maxWait := opts.MaxRetryWait
	if maxWait <= 0 {
		maxWait = defaultMaxRetryWait
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:        base,
		apiKey:         key,
		http:           httpClient,
		limiter:        limiter,
		maxRetries:     retries,
		initialBackoff: backoff,
		maxRetryWait:   maxWait,
		logger:         logger,
		authMode:       AuthModeAPIKey,
	}, nil
}

// BaseURL returns the normalized instance URL.
func (c *Client) BaseURL() string { return c.baseURL }

// AuthMode reports the header scheme that last succeeded.
func (c *Client) AuthMode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authMode
}

func (c *Client) setAuthMode(mode string) {
	c.mu.Lock()
	c.authMode = mode
	c.mu.Unlock()
}

// CleanBaseURL trims whitespace and trailing slashes.
func CleanBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// CleanAPIKey trims whitespace and strips the stray leading "x" that
// clipboard copies from the n8n UI sometimes carry.
func CleanAPIKey(raw string) string {
	key := strings.TrimSpace(raw)
	if strings.HasPrefix(key, "xeyJ") {
		key = key[1:]
	}
	return key
}

// LooksLikeJWT reports whether key is shaped like a JWT, which newer n8n
// releases accept as a bearer token.
func LooksLikeJWT(key string) bool {
	return strings.HasPrefix(key, "ey") && strings.Contains(key, ".")
}

func (c *Client) applyAuth(req *http.Request, mode string) {
	if mode == AuthModeBearer {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return
	}
	req.Header.Set(headerAPIKey, c.apiKey)
}

// getJSON issues an authenticated GET and decodes a 2xx body into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	body, err := c.get(ctx, path, query)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("n8n: decode %s: %w", path, err)
	}
	return nil
}

// get issues an authenticated GET and returns the raw 2xx body. A 401 with
// a JWT-shaped key is retried once with bearer auth, and the working mode is
// remembered for later calls.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	mode := c.AuthMode()
	status, body, err := c.send(ctx, path, query, mode)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized && mode == AuthModeAPIKey && LooksLikeJWT(c.apiKey) {
		c.logger.Debug("n8n api key rejected, retrying with bearer", slog.String("url", c.baseURL))
		status, body, err = c.send(ctx, path, query, AuthModeBearer)
		if err != nil {
			return nil, err
		}
		if status < 300 {
			c.setAuthMode(AuthModeBearer)
		}
	}
	if status >= 300 {
		return nil, newAPIError(status, body)
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, path string, query url.Values, mode string) (int, []byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	newReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		c.applyAuth(req, mode)
		return req, nil
	}

	resp, err := c.doWithRetry(ctx, newReq)
	if err != nil {
		return 0, nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	limit := int64(64 << 20)
	if resp.StatusCode >= 300 {
		limit = maxErrorBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return 0, nil, classifyTransportError(err)
	}
	return resp.StatusCode, body, nil
}

// doWithRetry retries rate limited and 5xx responses, honouring
// Retry-After when present and backing off exponentially with jitter
// otherwise. No single wait exceeds maxRetryWait.
func (c *Client) doWithRetry(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := newReq()
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return resp, nil
		}
		if attempt >= c.maxRetries {
			return resp, nil
		}

		var wait time.Duration
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, parseErr := strconv.Atoi(retryAfter); parseErr == nil && seconds >= 0 {
				wait = time.Duration(seconds) * time.Second
			}
		}
		if wait == 0 {
			wait = c.initialBackoff * time.Duration(1<<uint(attempt))
		}
		wait += time.Duration(float64(wait) * rand.Float64() * 0.5)
		if wait > c.maxRetryWait {
			wait = c.maxRetryWait
		}

		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()

		c.logger.Warn("n8n request throttled",
			slog.String("url", req.URL.Redacted()),
			slog.Int("status", resp.StatusCode),
			slog.Int("attempt", attempt+1),
			slog.Duration("wait", wait.Round(time.Millisecond)),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
