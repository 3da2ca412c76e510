package health

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/observability"
	"github.com/newflowio/elova/internal/services/providers"
)

type stubChecker struct {
	mu      sync.Mutex
	list    []db.Provider
	results map[string]providers.ConnectionResult
	checked []string
	listErr error
}

func (s *stubChecker) List(ctx context.Context) ([]db.Provider, error) {
	return s.list, s.listErr
}

func (s *stubChecker) Check(ctx context.Context, p db.Provider) (providers.ConnectionResult, error) {
	s.mu.Lock()
	s.checked = append(s.checked, p.ID)
	s.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return providers.ConnectionResult{}, errors.New("missing deadline")
	}
	res, ok := s.results[p.ID]
	if !ok {
		return providers.ConnectionResult{}, errors.New("unreachable")
	}
	return res, nil
}

func TestCheckAllRecordsHealth(t *testing.T) {
	metrics, err := observability.Setup(context.Background(), config.ObservabilityConfig{EnableMetrics: true})
	if err != nil {
		t.Fatalf("setup metrics: %v", err)
	}
	defer metrics.Shutdown(context.Background())

	checker := &stubChecker{
		list: []db.Provider{{ID: "up"}, {ID: "down"}, {ID: "gone"}},
		results: map[string]providers.ConnectionResult{
			"up":   {Success: true, Version: "1.64.0"},
			"down": {Error: "401 unauthorized"},
		},
	}
	m := NewMonitor(checker, metrics, config.HealthConfig{CheckInterval: time.Hour, Timeout: time.Second}, nil)

	if got := m.CheckAll(context.Background()); got != 1 {
		t.Fatalf("healthy = %d, want 1", got)
	}
	if len(checker.checked) != 3 {
		t.Fatalf("checked %v, want all three providers", checker.checked)
	}

	rec := httptest.NewRecorder()
	metrics.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{`provider_up{provider="up"} 1`, `provider_up{provider="down"} 0`, `provider_up{provider="gone"} 0`} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestCheckAllListError(t *testing.T) {
	m := NewMonitor(&stubChecker{listErr: errors.New("db down")}, nil, config.HealthConfig{}, nil)
	if got := m.CheckAll(context.Background()); got != 0 {
		t.Fatalf("healthy = %d, want 0", got)
	}
}

func TestStartStopsWithContext(t *testing.T) {
	checker := &stubChecker{list: []db.Provider{{ID: "up"}}, results: map[string]providers.ConnectionResult{"up": {Success: true}}}
	m := NewMonitor(checker, nil, config.HealthConfig{CheckInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	m.Start(ctx)
	cancel()

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
	checker.mu.Lock()
	defer checker.mu.Unlock()
	if len(checker.checked) != 1 {
		t.Fatalf("checked %v, want one initial sweep", checker.checked)
	}
}
