package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/newflowio/elova/internal/config"
)

const namespace = "elova"

type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
	promHandler    http.Handler
	shutdownFuncs  []func(context.Context) error

	httpRequests  *promreg.CounterVec
	httpLatency   *promreg.HistogramVec
	syncRuns      *promreg.CounterVec
	syncDuration  *promreg.HistogramVec
	syncedItems   *promreg.CounterVec
	providerUp    *promreg.GaugeVec
	tokens        *promreg.CounterVec
	lastSyncEpoch *promreg.GaugeVec
}

// Setup wires tracing and metrics. It returns nil when both are disabled;
// every method is safe on a nil Provider.
func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableOTLP && !cfg.EnableMetrics {
		return nil, nil
	}
	provider := &Provider{}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName("elova")))
	if err != nil {
		return nil, err
	}

	if cfg.EnableOTLP {
		endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		var opts []otlptracegrpc.Option
		switch {
		case strings.HasPrefix(endpoint, "https://"):
			endpoint = strings.TrimPrefix(endpoint, "https://")
		default:
			endpoint = strings.TrimPrefix(endpoint, "http://")
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))

		exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
		otel.SetTracerProvider(tp)
		provider.tracerProvider = tp
		provider.shutdownFuncs = append(provider.shutdownFuncs, tp.Shutdown)
	}

	if cfg.EnableMetrics {
		if err := provider.setupMetrics(res); err != nil {
			return nil, err
		}
	}
	return provider, nil
}

func (p *Provider) setupMetrics(res *resource.Resource) error {
	registry := promreg.NewRegistry()
	promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return err
	}
	mp := metric.NewMeterProvider(metric.WithReader(promExporter), metric.WithResource(res))
	otel.SetMeterProvider(mp)
	p.meterProvider = mp
	p.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
	p.shutdownFuncs = append(p.shutdownFuncs, mp.Shutdown)

	httpBuckets := []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	syncBuckets := []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 900}

	p.httpRequests = promreg.NewCounterVec(promreg.CounterOpts{
		Namespace: namespace, Name: "http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route", "status"})
	p.httpLatency = promreg.NewHistogramVec(promreg.HistogramOpts{
		Namespace: namespace, Name: "http_request_duration_seconds",
		Help: "Duration of HTTP requests in seconds.", Buckets: httpBuckets,
	}, []string{"method", "route", "status"})
	p.syncRuns = promreg.NewCounterVec(promreg.CounterOpts{
		Namespace: namespace, Name: "sync_runs_total",
		Help: "Provider sync runs by type and outcome.",
	}, []string{"provider", "type", "status"})
	p.syncDuration = promreg.NewHistogramVec(promreg.HistogramOpts{
		Namespace: namespace, Name: "sync_duration_seconds",
		Help: "Duration of provider sync runs.", Buckets: syncBuckets,
	}, []string{"provider", "type"})
	p.syncedItems = promreg.NewCounterVec(promreg.CounterOpts{
		Namespace: namespace, Name: "synced_items_total",
		Help: "Workflows, executions and backups written by sync.",
	}, []string{"provider", "kind"})
	p.providerUp = promreg.NewGaugeVec(promreg.GaugeOpts{
		Namespace: namespace, Name: "provider_up",
		Help: "1 when the last health check of an n8n provider succeeded.",
	}, []string{"provider"})
	p.tokens = promreg.NewCounterVec(promreg.CounterOpts{
		Namespace: namespace, Name: "ai_tokens_total",
		Help: "LLM tokens observed in synced executions.",
	}, []string{"provider", "model", "type"})
	p.lastSyncEpoch = promreg.NewGaugeVec(promreg.GaugeOpts{
		Namespace: namespace, Name: "last_sync_timestamp_seconds",
		Help: "Unix time of the last successful sync per provider.",
	}, []string{"provider"})

	for _, c := range []promreg.Collector{
		p.httpRequests, p.httpLatency, p.syncRuns, p.syncDuration,
		p.syncedItems, p.providerUp, p.tokens, p.lastSyncEpoch,
	} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// TracerProvider returns the SDK tracer provider, or nil when tracing is off.
func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	if p == nil {
		return nil
	}
	return p.tracerProvider
}

// Tracer returns a named tracer, or a no-op tracer when tracing is off.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p == nil || p.tracerProvider == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return p.tracerProvider.Tracer(name)
}

func (p *Provider) RecordHTTPRequest(_ context.Context, method, route string, status int, duration time.Duration) {
	if p == nil || p.httpRequests == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	p.httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	p.httpLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
}

func (p *Provider) RecordSyncRun(providerID, syncType, status string, duration time.Duration) {
	if p == nil || p.syncRuns == nil {
		return
	}
	p.syncRuns.WithLabelValues(providerID, syncType, status).Inc()
	p.syncDuration.WithLabelValues(providerID, syncType).Observe(duration.Seconds())
	if status == "completed" {
		p.lastSyncEpoch.WithLabelValues(providerID).Set(float64(time.Now().Unix()))
	}
}

func (p *Provider) RecordSynced(providerID, kind string, n int) {
	if p == nil || p.syncedItems == nil || n <= 0 {
		return
	}
	p.syncedItems.WithLabelValues(providerID, kind).Add(float64(n))
}

func (p *Provider) RecordProviderHealth(providerID string, healthy bool) {
	if p == nil || p.providerUp == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	p.providerUp.WithLabelValues(providerID).Set(v)
}

func (p *Provider) RecordTokens(providerID, model string, inputTokens, outputTokens int64) {
	if p == nil || p.tokens == nil {
		return
	}
	if model == "" {
		model = "unknown"
	}
	if inputTokens > 0 {
		p.tokens.WithLabelValues(providerID, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		p.tokens.WithLabelValues(providerID, model, "output").Add(float64(outputTokens))
	}
}
