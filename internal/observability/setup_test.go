package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/newflowio/elova/internal/config"
)

func TestSetupDisabledReturnsNil(t *testing.T) {
	p, err := Setup(context.Background(), config.ObservabilityConfig{})
	if err != nil || p != nil {
		t.Fatalf("expected nil provider, got %v %v", p, err)
	}
	// nil receivers are no-ops
	p.RecordSyncRun("p", "full", "completed", time.Second)
	p.RecordTokens("p", "gpt-4o", 1, 1)
	if p.PrometheusHandler() != nil {
		t.Fatalf("expected no handler")
	}
	if p.Tracer("x") == nil {
		t.Fatalf("expected noop tracer")
	}
}

func TestMetricsExposed(t *testing.T) {
	p, err := Setup(context.Background(), config.ObservabilityConfig{EnableMetrics: true})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer p.Shutdown(context.Background())

	p.RecordHTTPRequest(context.Background(), "GET", "/api/executions", 200, 20*time.Millisecond)
	p.RecordSyncRun("prov-1", "executions", "completed", 3*time.Second)
	p.RecordSynced("prov-1", "executions", 12)
	p.RecordProviderHealth("prov-1", true)
	p.RecordTokens("prov-1", "", 100, 50)

	rec := httptest.NewRecorder()
	p.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`elova_http_requests_total{method="GET",route="/api/executions",status="200"} 1`,
		`elova_sync_runs_total{provider="prov-1",status="completed",type="executions"} 1`,
		`elova_synced_items_total{kind="executions",provider="prov-1"} 12`,
		`elova_provider_up{provider="prov-1"} 1`,
		`elova_ai_tokens_total{model="unknown",provider="prov-1",type="input"} 100`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
