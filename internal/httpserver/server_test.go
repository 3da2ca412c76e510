package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/newflowio/elova/internal/app"
	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/database/databasetest"
	"github.com/newflowio/elova/internal/db"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	conn, _ := databasetest.Open(t)
	cfg := &config.Config{
		Server:        config.ServerConfig{BodyLimitMB: 1},
		Sync:          config.SyncConfig{Interval: time.Hour, Concurrency: 1},
		Auth:          config.AuthConfig{JWTSecret: "jwt", SessionTTL: time.Hour, CookieName: "elova_session", SecretKey: "a-long-enough-secret"},
		Observability: config.ObservabilityConfig{EnableMetrics: true},
		Reporting:     config.ReportingConfig{Timezone: "UTC"},
	}
	ctx := context.Background()
	container, err := app.NewContainer(ctx, cfg, conn, db.DialectSQLite, nil, nil)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	t.Cleanup(func() { container.Close(ctx) })

	srv, err := New(container)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Checks["database"]["driver"] != "sqlite" {
		t.Fatalf("unexpected health body %+v", body)
	}
	if _, ok := body.Checks["redis"]; ok {
		t.Fatalf("redis check reported without a client")
	}
	if body.Checks["sync"]["status"] != "idle" || body.Checks["sync"]["running"] != false {
		t.Fatalf("unexpected sync check %+v", body.Checks["sync"])
	}
}

func TestUnknownRouteReturnsJSONError(t *testing.T) {
	srv := newTestServer(t)
	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/nowhere", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(body.Error, "/nowhere") {
		t.Fatalf("unexpected error body %q", body.Error)
	}
}

func TestMetricsRecordRequests(t *testing.T) {
	srv := newTestServer(t)
	if _, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/api/about", nil), -1); err != nil {
		t.Fatalf("about request: %v", err)
	}
	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	if err != nil {
		t.Fatalf("metrics request: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), `route="/api/about"`) {
		t.Fatalf("metrics missing about route:\n%s", raw)
	}
}

func TestNewRequiresContainer(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil container")
	}
}
