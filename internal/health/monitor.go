package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/observability"
	"github.com/newflowio/elova/internal/services/providers"
)

// Checker lists providers and probes one of them, persisting the outcome.
type Checker interface {
	List(ctx context.Context) ([]db.Provider, error)
	Check(ctx context.Context, p db.Provider) (providers.ConnectionResult, error)
}

// Monitor periodically probes every n8n instance and refreshes its stored
// connection status and the provider_up gauge.
type Monitor struct {
	checker  Checker
	metrics  *observability.Provider
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration

	startOnce sync.Once
	done      chan struct{}
}

// NewMonitor constructs a monitor using the health configuration.
func NewMonitor(checker Checker, metrics *observability.Provider, cfg config.HealthConfig, logger *slog.Logger) *Monitor {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > interval {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		checker:  checker,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		done:     make(chan struct{}),
	}
}

// Start begins the monitoring loop until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	if m == nil || m.checker == nil {
		return
	}
	m.startOnce.Do(func() {
		go m.run(ctx)
	})
}

// Done is closed once the loop has exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.CheckAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll probes every provider concurrently and returns how many are
// healthy.
func (m *Monitor) CheckAll(ctx context.Context) int {
	list, err := m.checker.List(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "health check: list providers", slog.String("error", err.Error()))
		return 0
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		healthy int
	)
	for _, p := range list {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			res, err := m.checker.Check(cctx, p)
			if err != nil {
				m.logger.WarnContext(ctx, "health check failed", slog.String("provider_id", p.ID), slog.String("error", err.Error()))
				m.metrics.RecordProviderHealth(p.ID, false)
				return
			}
			m.metrics.RecordProviderHealth(p.ID, res.Success)
			if !res.Success {
				m.logger.InfoContext(ctx, "provider unreachable", slog.String("provider_id", p.ID), slog.String("error", res.Error))
				return
			}
			mu.Lock()
			healthy++
			mu.Unlock()
		}()
	}
	wg.Wait()
	return healthy
}
