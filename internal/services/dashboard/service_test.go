package dashboard

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/newflowio/elova/internal/cache"
	"github.com/newflowio/elova/internal/database/databasetest"
	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/timeutil"
)

func ptr(v int64) *int64 { return &v }

func TestBuildChartsBucketsAndColors(t *testing.T) {
	base := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	rows := []db.ChartExecutionRow{
		{ProviderID: "p2", ProviderName: "Edge", Status: db.ExecutionStatusSuccess, StartedAt: base.Add(90 * time.Minute), Duration: ptr(300), AICost: decimal.RequireFromString("0.25"), TotalTokens: 10},
		{ProviderID: "p1", ProviderName: "Core", Status: db.ExecutionStatusError, StartedAt: base.Add(20 * time.Minute), Duration: ptr(100), AICost: decimal.RequireFromString("0.5"), TotalTokens: 5},
		{ProviderID: "p1", ProviderName: "Core", Status: db.ExecutionStatusSuccess, StartedAt: base.Add(10 * time.Minute), Duration: ptr(201)},
		{ProviderID: "p1", ProviderName: "Core", Status: db.ExecutionStatusCrashed, StartedAt: base.Add(5 * time.Minute)},
	}

	charts := BuildCharts(rows, timeutil.GranularityHour, time.UTC)

	require.Equal(t, []ProviderRef{{ID: "p2", Name: "Edge", Color: "#3b82f6"}, {ID: "p1", Name: "Core", Color: "#10b981"}}, charts.Providers)
	require.Len(t, charts.Data, 2)
	require.Equal(t, 2, charts.Count)

	first := charts.Data[0]
	require.Equal(t, "2025-03-12T10:00:00Z", first.Date)
	require.Equal(t, base.UnixMilli(), first.Timestamp)
	require.EqualValues(t, 3, first.TotalExecutions)
	require.EqualValues(t, 1, first.SuccessfulExecutions)
	require.EqualValues(t, 1, first.FailedExecutions, "crashed runs are not counted as failed")
	require.EqualValues(t, 33, first.SuccessRate)
	require.NotNil(t, first.AvgResponseTime)
	require.EqualValues(t, 151, *first.AvgResponseTime)
	require.InDelta(t, 0.5, first.AICost, 1e-9)

	second := charts.Data[1]
	require.Equal(t, "2025-03-12T11:00:00Z", second.Date)
	require.EqualValues(t, 100, second.SuccessRate)

	require.Len(t, charts.ByProvider, 2)
	require.Equal(t, "p2", charts.ByProvider[0].ProviderID)
	require.Len(t, charts.ByProvider[0].Data, 1)
	require.Len(t, charts.ByProvider[1].Data, 1)
	require.EqualValues(t, 3, charts.ByProvider[1].Data[0].TotalExecutions)
}

func TestBuildChartsNullAverageAndColorCycle(t *testing.T) {
	base := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)
	var rows []db.ChartExecutionRow
	for i := 0; i < 9; i++ {
		rows = append(rows, db.ChartExecutionRow{ProviderID: uuid.NewString(), ProviderName: "p", Status: db.ExecutionStatusRunning, StartedAt: base})
	}
	charts := BuildCharts(rows, timeutil.GranularityDay, time.UTC)
	require.Len(t, charts.Providers, 9)
	require.Equal(t, Colors[0], charts.Providers[8].Color)
	require.Nil(t, charts.Data[0].AvgResponseTime)
	require.Equal(t, "2025-03-12", charts.Data[0].Date)
	require.EqualValues(t, 0, charts.Data[0].SuccessRate)
}

func TestChartsAreCached(t *testing.T) {
	ctx := context.Background()
	_, q := databasetest.Open(t)
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	now := time.Now().UTC()
	p, err := q.CreateProvider(ctx, db.CreateProviderParams{ID: uuid.NewString(), Name: "Core", BaseURL: "http://n8n", APIKeyEncrypted: "k", CreatedAt: now})
	require.NoError(t, err)
	insert := func(remote string) {
		_, err := q.UpsertExecution(ctx, db.UpsertExecutionParams{
			ID: uuid.NewString(), ProviderID: p.ID, ProviderExecutionID: remote, ProviderWorkflowID: "wf",
			Status: db.ExecutionStatusSuccess, Mode: "trigger", StartedAt: now.Add(-10 * time.Minute), SyncedAt: now,
		})
		require.NoError(t, err)
	}
	insert("1")

	c := cache.NewJSONCache(client, "dashboard", time.Minute)
	svc := NewService(q, c, time.UTC, nil)
	svc.now = func() time.Time { return now }

	charts, err := svc.Charts(ctx, "24h")
	require.NoError(t, err)
	require.EqualValues(t, 1, charts.Data[0].TotalExecutions)
	require.True(t, server.Exists("dashboard:charts:24h"))

	insert("2")
	charts, err = svc.Charts(ctx, "24h")
	require.NoError(t, err)
	require.EqualValues(t, 1, charts.Data[0].TotalExecutions, "served from cache")

	require.NoError(t, c.Flush(ctx))
	charts, err = svc.Charts(ctx, "24h")
	require.NoError(t, err)
	require.EqualValues(t, 2, charts.Data[0].TotalExecutions)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	_, q := databasetest.Open(t)
	now := time.Now().UTC()
	p, err := q.CreateProvider(ctx, db.CreateProviderParams{ID: uuid.NewString(), Name: "Core", BaseURL: "http://n8n", APIKeyEncrypted: "k", CreatedAt: now})
	require.NoError(t, err)
	for i, status := range []db.ExecutionStatus{db.ExecutionStatusSuccess, db.ExecutionStatusSuccess, db.ExecutionStatusError} {
		_, err := q.UpsertExecution(ctx, db.UpsertExecutionParams{
			ID: uuid.NewString(), ProviderID: p.ID, ProviderExecutionID: uuid.NewString(), ProviderWorkflowID: "wf",
			Status: status, Mode: "trigger", StartedAt: now.Add(-time.Duration(i+1) * time.Minute), SyncedAt: now,
			TotalTokens: 100, AICost: decimal.RequireFromString("0.01"),
		})
		require.NoError(t, err)
	}

	svc := NewService(q, nil, time.UTC, nil)
	svc.now = func() time.Time { return now }
	sum, err := svc.Summary(ctx, "", "")
	require.NoError(t, err)
	require.EqualValues(t, 3, sum.Total)
	require.EqualValues(t, 1, sum.Failed)
	require.EqualValues(t, 300, sum.TotalTokens)
	require.True(t, sum.TotalCost.Equal(decimal.RequireFromString("0.03")))
	require.InDelta(t, 66.7, sum.SuccessRate, 1e-9)
	require.Equal(t, 1, sum.Providers)
	require.Equal(t, 0, sum.ConnectedProviders)
	require.Equal(t, "24h", sum.TimeRange)
}
