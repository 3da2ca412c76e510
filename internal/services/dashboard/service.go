// Package dashboard builds the chart series and summary metrics shown on
// the dashboard.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/newflowio/elova/internal/cache"
	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/timeutil"
)

// Colors are assigned to providers in order of appearance.
var Colors = []string{
	"#3b82f6",
	"#10b981",
	"#f59e0b",
	"#8b5cf6",
	"#ec4899",
	"#06b6d4",
	"#f97316",
	"#84cc16",
}

type Point struct {
	Date                 string  `json:"date"`
	Timestamp            int64   `json:"timestamp"`
	TotalExecutions      int64   `json:"totalExecutions"`
	SuccessfulExecutions int64   `json:"successfulExecutions"`
	FailedExecutions     int64   `json:"failedExecutions"`
	SuccessRate          int64   `json:"successRate"`
	AvgResponseTime      *int64  `json:"avgResponseTime"`
	AICost               float64 `json:"aiCost"`
	TotalTokens          int64   `json:"totalTokens"`
}

type ProviderRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type ProviderSeries struct {
	ProviderID   string  `json:"providerId"`
	ProviderName string  `json:"providerName"`
	Color        string  `json:"color"`
	Data         []Point `json:"data"`
}

type Charts struct {
	Data        []Point          `json:"data"`
	ByProvider  []ProviderSeries `json:"byProvider"`
	Providers   []ProviderRef    `json:"providers"`
	TimeRange   string           `json:"timeRange"`
	Granularity string           `json:"granularity"`
	Count       int              `json:"count"`
}

type Summary struct {
	db.ExecutionSummary
	SuccessRate        float64 `json:"success_rate"`
	TimeRange          string  `json:"time_range"`
	Providers          int     `json:"providers"`
	ConnectedProviders int     `json:"connected_providers"`
	TrackedWorkflows   int     `json:"tracked_workflows"`
}

type Service struct {
	queries *db.Queries
	cache   *cache.JSONCache
	loc     *time.Location
	logger  *slog.Logger
	now     func() time.Time
}

// NewService buckets charts in loc. cache may be nil.
func NewService(queries *db.Queries, c *cache.JSONCache, loc *time.Location, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{queries: queries, cache: c, loc: timeutil.EnsureLocation(loc), logger: logger, now: time.Now}
}

// Charts returns combined and per-provider series for a rolling window.
func (s *Service) Charts(ctx context.Context, timeRange string) (Charts, error) {
	win := timeutil.NewWindow(timeRange, s.now(), s.loc)
	key := "charts:" + win.Label()

	var cached Charts
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	start, end := win.Bounds()
	rows, err := s.queries.ListChartExecutions(ctx, start.UTC(), end.UTC())
	if err != nil {
		if db.IsMissingTable(err) {
			return emptyCharts(win), nil
		}
		return Charts{}, fmt.Errorf("load chart executions: %w", err)
	}
	out := BuildCharts(rows, win.Granularity(), s.loc)
	out.TimeRange = win.Label()
	s.cache.Set(ctx, key, out)
	return out, nil
}

// BuildCharts buckets rows, which arrive newest first. Only buckets that
// contain executions are emitted.
func BuildCharts(rows []db.ChartExecutionRow, g timeutil.Granularity, loc *time.Location) Charts {
	out := Charts{Granularity: string(g), Data: []Point{}, ByProvider: []ProviderSeries{}, Providers: []ProviderRef{}}

	combined := newSeries()
	perProvider := map[string]*series{}
	for _, row := range rows {
		bucket := timeutil.BucketStart(row.StartedAt, g, loc)
		combined.add(bucket, row)

		ps, ok := perProvider[row.ProviderID]
		if !ok {
			ps = newSeries()
			perProvider[row.ProviderID] = ps
			out.Providers = append(out.Providers, ProviderRef{
				ID:    row.ProviderID,
				Name:  row.ProviderName,
				Color: Colors[len(out.Providers)%len(Colors)],
			})
		}
		ps.add(bucket, row)
	}

	out.Data = combined.points(g)
	for _, p := range out.Providers {
		out.ByProvider = append(out.ByProvider, ProviderSeries{
			ProviderID:   p.ID,
			ProviderName: p.Name,
			Color:        p.Color,
			Data:         perProvider[p.ID].points(g),
		})
	}
	out.Count = len(out.Data)
	return out
}

// Summary aggregates executions started inside the window.
func (s *Service) Summary(ctx context.Context, timeRange, providerID string) (Summary, error) {
	win := timeutil.NewWindow(timeRange, s.now(), s.loc)
	var pid *string
	if id := strings.TrimSpace(providerID); id != "" {
		pid = &id
	}
	sum, err := s.queries.SummarizeExecutions(ctx, win.Start().UTC(), pid)
	if err != nil && !db.IsMissingTable(err) {
		return Summary{}, fmt.Errorf("summarize executions: %w", err)
	}
	out := Summary{ExecutionSummary: sum, TimeRange: win.Label()}
	if sum.Total > 0 {
		out.SuccessRate = math.Round(float64(sum.Successful)/float64(sum.Total)*1000) / 10
	}

	providers, err := s.queries.ListProviders(ctx)
	if err != nil {
		if db.IsMissingTable(err) {
			return out, nil
		}
		return Summary{}, fmt.Errorf("list providers: %w", err)
	}
	for _, p := range providers {
		if pid != nil && p.ID != *pid {
			continue
		}
		out.Providers++
		if p.IsConnected {
			out.ConnectedProviders++
		}
		counts, err := s.queries.CountWorkflowTracking(ctx, p.ID)
		if err != nil {
			s.logger.WarnContext(ctx, "count tracked workflows", slog.String("provider_id", p.ID), slog.String("error", err.Error()))
			continue
		}
		out.TrackedWorkflows += int(counts.Tracked)
	}
	return out, nil
}

func emptyCharts(win timeutil.Window) Charts {
	return Charts{
		Data:        []Point{},
		ByProvider:  []ProviderSeries{},
		Providers:   []ProviderRef{},
		TimeRange:   win.Label(),
		Granularity: string(win.Granularity()),
	}
}

type bucketAgg struct {
	start       time.Time
	total       int64
	success     int64
	failed      int64
	cost        decimal.Decimal
	tokens      int64
	durationSum int64
	durationN   int64
}

type series struct {
	buckets map[int64]*bucketAgg
}

func newSeries() *series {
	return &series{buckets: map[int64]*bucketAgg{}}
}

func (s *series) add(start time.Time, row db.ChartExecutionRow) {
	key := start.Unix()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucketAgg{start: start}
		s.buckets[key] = b
	}
	b.total++
	switch row.Status {
	case db.ExecutionStatusSuccess:
		b.success++
	case db.ExecutionStatusError:
		b.failed++
	}
	b.cost = b.cost.Add(row.AICost)
	b.tokens += row.TotalTokens
	if row.Duration != nil {
		b.durationSum += *row.Duration
		b.durationN++
	}
}

func (s *series) points(g timeutil.Granularity) []Point {
	keys := make([]int64, 0, len(s.buckets))
	for k := range s.buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]Point, 0, len(keys))
	for _, k := range keys {
		b := s.buckets[k]
		p := Point{
			Date:                 timeutil.BucketKey(b.start, g),
			Timestamp:            b.start.UnixMilli(),
			TotalExecutions:      b.total,
			SuccessfulExecutions: b.success,
			FailedExecutions:     b.failed,
			AICost:               b.cost.InexactFloat64(),
			TotalTokens:          b.tokens,
		}
		if b.total > 0 {
			p.SuccessRate = int64(math.Round(float64(b.success) / float64(b.total) * 100))
		}
		if b.durationN > 0 {
			avg := int64(math.Round(float64(b.durationSum) / float64(b.durationN)))
			p.AvgResponseTime = &avg
		}
		out = append(out, p)
	}
	return out
}
