package executions

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/newflowio/elova/internal/database/databasetest"
	"github.com/newflowio/elova/internal/db"
)

type seedExec struct {
	workflow string
	status   db.ExecutionStatus
	mode     string
	ago      time.Duration
}

func seed(t *testing.T, q *db.Queries, now time.Time, execs []seedExec) db.Provider {
	t.Helper()
	ctx := context.Background()
	p, err := q.CreateProvider(ctx, db.CreateProviderParams{ID: uuid.NewString(), Name: "Primary", BaseURL: "http://n8n", APIKeyEncrypted: "k", CreatedAt: now})
	require.NoError(t, err)
	wfIDs := map[string]string{}
	for _, remote := range []string{"wf-a", "wf-b"} {
		wf, _, err := q.UpsertWorkflow(ctx, db.UpsertWorkflowParams{
			ID: uuid.NewString(), ProviderID: p.ID, ProviderWorkflowID: remote, Name: "Flow " + remote[3:], IsTracked: true, SyncedAt: now,
		})
		require.NoError(t, err)
		wfIDs[remote] = wf.ID
	}
	for i, e := range execs {
		wfID := wfIDs[e.workflow]
		_, err := q.UpsertExecution(ctx, db.UpsertExecutionParams{
			ID:                  uuid.NewString(),
			ProviderID:          p.ID,
			WorkflowID:          &wfID,
			ProviderExecutionID: strconv.Itoa(100 + i),
			ProviderWorkflowID:  e.workflow,
			Status:              e.status,
			Mode:                e.mode,
			StartedAt:           now.Add(-e.ago),
			Metadata:            `{"waitTill":null}`,
			SyncedAt:            now,
		})
		require.NoError(t, err)
	}
	return p
}

func fixture(t *testing.T) (*Service, db.Provider) {
	t.Helper()
	_, q := databasetest.Open(t)
	now := time.Now().UTC()
	p := seed(t, q, now, []seedExec{
		{"wf-a", db.ExecutionStatusSuccess, "trigger", 1 * time.Minute},
		{"wf-a", db.ExecutionStatusSuccess, "trigger", 2 * time.Minute},
		{"wf-a", db.ExecutionStatusError, "trigger", 3 * time.Minute},
		{"wf-a", db.ExecutionStatusSuccess, "manual", 4 * time.Minute},
		{"wf-a", db.ExecutionStatusSuccess, "manual", 5 * time.Minute},
		{"wf-b", db.ExecutionStatusSuccess, "webhook", 72 * time.Hour},
	})
	svc := NewService(q, nil)
	svc.now = func() time.Time { return now }
	return svc, p
}

func TestListGroupsConsecutiveTriggerRuns(t *testing.T) {
	ctx := context.Background()
	svc, _ := fixture(t)

	page, err := svc.List(ctx, Query{Limit: 2})
	require.NoError(t, err)
	require.EqualValues(t, 4, page.Total)
	require.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 3, "first group holds two collapsed trigger runs")
	require.Equal(t, page.Items[0].GroupID, page.Items[1].GroupID)
	require.NotEqual(t, page.Items[1].GroupID, page.Items[2].GroupID)
	require.JSONEq(t, `{"waitTill":null}`, string(page.Items[0].Metadata))
	require.NotNil(t, page.Items[0].WorkflowName)

	page, err = svc.List(ctx, Query{Limit: 2, Page: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2, "manual runs never collapse")
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	svc, p := fixture(t)

	page, err := svc.List(ctx, Query{TimeRange: "all"})
	require.NoError(t, err)
	require.EqualValues(t, 5, page.Total)

	page, err = svc.List(ctx, Query{TimeRange: "all", Statuses: []string{"error, crashed"}})
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)

	page, err = svc.List(ctx, Query{TimeRange: "7d", WorkflowID: "wf-b"})
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)

	page, err = svc.List(ctx, Query{TimeRange: "all", Search: "flow B"})
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)

	page, err = svc.List(ctx, Query{TimeRange: "all", ProviderID: p.ID})
	require.NoError(t, err)
	require.EqualValues(t, 5, page.Total)

	_, err = svc.List(ctx, Query{CustomStart: "nope", CustomEnd: "2025-01-01"})
	require.True(t, errors.Is(err, ErrInvalidTimeRange))
}

func TestNormalizeLimits(t *testing.T) {
	cases := []struct {
		in        Query
		wantLimit int
		wantPage  int
	}{
		{Query{}, DefaultLimit, 1},
		{Query{Limit: -5, Page: -1}, DefaultLimit, 1},
		{Query{Limit: 9000, Page: 3}, MaxLimit, 3},
		{Query{Limit: 50}, 50, 1},
	}
	for _, tc := range cases {
		got := tc.in.Normalize()
		if got.Limit != tc.wantLimit || got.Page != tc.wantPage {
			t.Fatalf("Normalize(%+v) = limit %d page %d", tc.in, got.Limit, got.Page)
		}
	}
}

func TestMissingSchemaReturnsWarning(t *testing.T) {
	conn, q := databasetest.Open(t)
	_, err := conn.Exec(`DROP TABLE executions`)
	require.NoError(t, err)

	page, err := NewService(q, nil).List(context.Background(), Query{})
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.Equal(t, missingSchemaWarning, page.Warning)
	require.Equal(t, DefaultLimit, page.Limit)
}

func TestParseStatuses(t *testing.T) {
	require.Equal(t, []string{"error", "canceled"}, ParseStatuses([]string{"Error,cancelled", "error", ""}))
	require.Nil(t, ParseStatuses(nil))
}
