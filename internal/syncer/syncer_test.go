package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/database/databasetest"
	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/limits"
	"github.com/newflowio/elova/internal/pricing"
	"github.com/newflowio/elova/internal/storage/blob"
)

// fakeN8N serves the public API subset the syncer reads. Executions are
// kept newest first and paginated by offset cursors.
type fakeN8N struct {
	base        time.Time
	mu          sync.Mutex
	workflows   []map[string]any
	executions  []map[string]any
	definitions map[string]string
	cursors     []string
	listCalls   int
}

func (f *fakeN8N) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Header.Get("X-N8N-API-KEY") != "good-key" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	switch {
	case path == "/workflows":
		writeJSON(w, map[string]any{"data": f.workflows, "nextCursor": nil})
	case strings.HasPrefix(path, "/workflows/"):
		def, ok := f.definitions[strings.TrimPrefix(path, "/workflows/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(def))
	case path == "/executions":
		f.listCalls++
		cursor := r.URL.Query().Get("cursor")
		f.cursors = append(f.cursors, cursor)
		offset, _ := strconv.Atoi(cursor)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		end := offset + limit
		if end > len(f.executions) {
			end = len(f.executions)
		}
		var next any
		if end < len(f.executions) {
			next = strconv.Itoa(end)
		}
		writeJSON(w, map[string]any{"data": f.executions[offset:end], "nextCursor": next})
	case strings.HasPrefix(path, "/executions/"):
		id := strings.TrimPrefix(path, "/executions/")
		for _, ex := range f.executions {
			if fmt.Sprint(ex["id"]) == id {
				writeJSON(w, ex)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

const llmRun = `{"resultData": {"runData": {"Model": [{"data": {"ai_languageModel": [[{"json": {"tokenUsage": {"promptTokens": 1000, "completionTokens": 500, "totalTokens": 1500}}}]]}}]}}}`

func execution(id int, workflowID, status string, started time.Time, data string) map[string]any {
	ex := map[string]any{
		"id":         id,
		"workflowId": workflowID,
		"mode":       "trigger",
		"status":     status,
		"finished":   status == "success",
		"startedAt":  started.Format(time.RFC3339),
	}
	if status != "running" {
		ex["stoppedAt"] = started.Add(1500 * time.Millisecond).Format(time.RFC3339Nano)
	}
	if data != "" {
		ex["data"] = json.RawMessage(data)
		ex["workflowData"] = json.RawMessage(`{"nodes": [{"name": "Model", "type": "@n8n/n8n-nodes-langchain.lmChatOpenAi", "parameters": {"model": "gpt-4o-mini"}}]}`)
	}
	return ex
}

func newFake() *fakeN8N {
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	return &fakeN8N{
		base: base,
		workflows: []map[string]any{
			{"id": "wf-1", "name": "Invoices", "active": true, "tags": []map[string]string{{"name": "finance"}}, "nodes": []any{map[string]any{}, map[string]any{}}},
			{"id": "wf-2", "name": "Leads", "active": false, "tags": []string{}, "nodes": []any{}},
		},
		executions: []map[string]any{
			execution(103, "wf-1", "running", base.Add(3*time.Minute), ""),
			execution(102, "wf-2", "error", base.Add(2*time.Minute), ""),
			execution(101, "wf-1", "success", base.Add(time.Minute), llmRun),
			execution(100, "wf-9", "success", base, ""),
		},
		definitions: map[string]string{
			"wf-1": `{"id": "wf-1", "name": "Invoices", "nodes": [], "updatedAt": "2025-05-01T09:00:00Z"}`,
			"wf-2": `{"id": "wf-2", "name": "Leads", "nodes": []}`,
		},
	}
}

type harness struct {
	q      *db.Queries
	syncer *Syncer
	leaser *limits.Leaser
}

func newHarness(t *testing.T, blobs blob.Store) harness {
	t.Helper()
	_, q := databasetest.Open(t)
	leaser := limits.NewLeaser(nil)
	s := New(Deps{
		Queries: q,
		Clients: ProviderClients(nil, config.SyncConfig{MaxRetries: 1}, nil),
		Blobs:   blobs,
		Leaser:  leaser,
		Config:  config.SyncConfig{PageSize: 2, MaxPages: 10, Concurrency: 2, IncludeData: true},
	})
	return harness{q: q, syncer: s, leaser: leaser}
}

func (h harness) provider(t *testing.T, name, baseURL, key string) db.Provider {
	t.Helper()
	ctx := context.Background()
	p, err := h.q.CreateProvider(ctx, db.CreateProviderParams{
		ID: uuid.NewString(), Name: name, BaseURL: baseURL, APIKeyEncrypted: key, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, h.q.UpdateProviderConnection(ctx, db.UpdateProviderConnectionParams{
		ID: p.ID, IsConnected: true, Status: "connected", CheckedAt: time.Now(),
	}))
	return p
}

func TestSyncAllProvidersIsolatesFailures(t *testing.T) {
	fake := newFake()
	ts := httptest.NewServer(fake)
	defer ts.Close()

	h := newHarness(t, nil)
	good := h.provider(t, "good", ts.URL, "good-key")
	bad := h.provider(t, "bad", ts.URL, "wrong-key")

	res, err := h.syncer.SyncAllProviders(context.Background(), Options{Type: TypeFull, Trigger: TriggerManual})
	require.NoError(t, err)
	require.Len(t, res.Providers, 2)
	require.Equal(t, 1, res.Failed())

	byID := map[string]ProviderResult{}
	for _, p := range res.Providers {
		byID[p.ProviderID] = p
	}
	require.Equal(t, db.SyncRunStatusCompleted, byID[good.ID].Status)
	require.Equal(t, 2, byID[good.ID].Workflows)
	require.Equal(t, 4, byID[good.ID].Executions)
	require.Equal(t, db.SyncRunStatusFailed, byID[bad.ID].Status)
	require.Equal(t, "Invalid API key - please check your n8n API key", byID[bad.ID].Error)

	runs, err := h.q.ListSyncRuns(context.Background(), db.ListSyncRunsParams{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, run := range runs {
		require.NotNil(t, run.FinishedAt)
		if *run.ProviderID == bad.ID {
			require.Equal(t, db.SyncRunStatusFailed, run.Status)
			require.NotNil(t, run.Error)
		} else {
			require.Equal(t, db.SyncRunStatusCompleted, run.Status)
			require.EqualValues(t, 4, run.ExecutionsSynced)
		}
	}

	last, ok := h.syncer.LastResult()
	require.True(t, ok)
	require.Len(t, last.Providers, 2)
}

func TestExecutionSyncIsIncremental(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	ts := httptest.NewServer(fake)
	defer ts.Close()

	h := newHarness(t, nil)
	p := h.provider(t, "primary", ts.URL, "good-key")

	_, err := h.syncer.SyncProvider(ctx, p.ID, Options{Type: TypeFull})
	require.NoError(t, err)

	ai, err := h.q.GetExecutionByRemoteID(ctx, p.ID, "101")
	require.NoError(t, err)
	require.EqualValues(t, 1500, ai.TotalTokens)
	require.EqualValues(t, 1000, ai.InputTokens)
	require.Equal(t, "gpt-4o-mini", *ai.AIModel)
	require.Equal(t, "openai", *ai.AIProvider)
	want := pricing.Default().Cost("gpt-4o-mini", 1000, 500, pricing.FallbackPrice)
	require.True(t, want.Equal(ai.AICost), "cost %s, want %s", ai.AICost, want)
	require.NotNil(t, ai.Duration)
	require.EqualValues(t, 1500, *ai.Duration)

	placeholder, err := h.q.GetWorkflowByRemoteID(ctx, p.ID, "wf-9")
	require.NoError(t, err, "unknown workflow should get a placeholder")
	require.Equal(t, "Workflow wf-9", placeholder.Name)

	state, err := h.q.GetSyncState(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "103", *state.LastExecutionID)

	// A newer execution arrives and the running one finishes.
	base := fake.base
	fake.mu.Lock()
	fake.executions[0] = execution(103, "wf-1", "success", base.Add(3*time.Minute), "")
	fake.executions = append([]map[string]any{execution(104, "wf-2", "success", base.Add(4*time.Minute), "")}, fake.executions...)
	fake.cursors = nil
	fake.mu.Unlock()

	n, err := h.syncer.SyncExecutions(ctx, p.ID, mustClient(t, h, p))
	require.NoError(t, err)
	require.Equal(t, 2, n, "the new execution plus the refreshed running one")

	fake.mu.Lock()
	require.Equal(t, []string{""}, fake.cursors, "walk should stop at the stored cursor on the first page")
	fake.mu.Unlock()

	finished, err := h.q.GetExecutionByRemoteID(ctx, p.ID, "103")
	require.NoError(t, err)
	require.Equal(t, db.ExecutionStatusSuccess, finished.Status)

	state, err = h.q.GetSyncState(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "104", *state.LastExecutionID)
}

func TestExecutionBacklogPastPageCapIsResumed(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	ts := httptest.NewServer(fake)
	defer ts.Close()

	h := newHarness(t, nil)
	p := h.provider(t, "primary", ts.URL, "good-key")
	src := mustClient(t, h, p)

	_, err := h.syncer.SyncWorkflows(ctx, p.ID, src)
	require.NoError(t, err)
	_, err = h.syncer.SyncExecutions(ctx, p.ID, src)
	require.NoError(t, err)

	// 25 executions pile up; one run reads at most 10 pages of 2.
	fake.mu.Lock()
	var burst []map[string]any
	for id := 128; id >= 104; id-- {
		burst = append(burst, execution(id, "wf-1", "success", fake.base.Add(time.Duration(id-100)*time.Minute), ""))
	}
	fake.executions = append(burst, fake.executions...)
	fake.mu.Unlock()

	_, err = h.syncer.SyncExecutions(ctx, p.ID, src)
	require.NoError(t, err)
	state, err := h.q.GetSyncState(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "103", *state.LastExecutionID, "cursor must not pass executions that were never read")
	require.NotNil(t, state.ResumeCursor)
	require.Equal(t, "128", *state.PendingExecutionID)
	_, err = h.q.GetExecutionByRemoteID(ctx, p.ID, "105")
	require.Error(t, err, "105 lies beyond the page cap")

	fake.mu.Lock()
	fake.cursors = nil
	fake.mu.Unlock()
	_, err = h.syncer.SyncExecutions(ctx, p.ID, src)
	require.NoError(t, err)

	fake.mu.Lock()
	require.Equal(t, "20", fake.cursors[0], "second run resumes where the first stopped")
	fake.mu.Unlock()

	for id := 104; id <= 128; id++ {
		_, err := h.q.GetExecutionByRemoteID(ctx, p.ID, strconv.Itoa(id))
		require.NoError(t, err, "execution %d missing", id)
	}
	state, err = h.q.GetSyncState(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "128", *state.LastExecutionID)
	require.Nil(t, state.ResumeCursor)
	require.Nil(t, state.PendingExecutionID)

	fake.mu.Lock()
	fake.cursors = nil
	fake.mu.Unlock()
	_, err = h.syncer.SyncExecutions(ctx, p.ID, src)
	require.NoError(t, err)
	fake.mu.Lock()
	require.Equal(t, []string{""}, fake.cursors, "caught up: the walk stops on the first page")
	fake.mu.Unlock()
}

func TestUntrackedWorkflowsAreSkipped(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	ts := httptest.NewServer(fake)
	defer ts.Close()

	h := newHarness(t, nil)
	p := h.provider(t, "primary", ts.URL, "good-key")
	src := mustClient(t, h, p)

	_, err := h.syncer.SyncWorkflows(ctx, p.ID, src)
	require.NoError(t, err)
	marked, err := h.syncer.ApplyTracking(ctx, p.ID, []string{"wf-1", " ", "missing"})
	require.NoError(t, err)
	require.Equal(t, 1, marked)

	_, err = h.syncer.SyncExecutions(ctx, p.ID, src)
	require.NoError(t, err)

	_, err = h.q.GetExecutionByRemoteID(ctx, p.ID, "102")
	require.Error(t, err, "wf-2 is untracked")
	_, err = h.q.GetExecutionByRemoteID(ctx, p.ID, "101")
	require.NoError(t, err)
}

func TestWorkflowSyncArchivesMissing(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	ts := httptest.NewServer(fake)
	defer ts.Close()

	h := newHarness(t, nil)
	p := h.provider(t, "primary", ts.URL, "good-key")
	src := mustClient(t, h, p)

	_, err := h.syncer.SyncWorkflows(ctx, p.ID, src)
	require.NoError(t, err)

	fake.mu.Lock()
	fake.workflows = fake.workflows[:1]
	fake.mu.Unlock()
	h.syncer.now = func() time.Time { return time.Now().Add(time.Second) }

	n, err := h.syncer.SyncWorkflows(ctx, p.ID, src)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	gone, err := h.q.GetWorkflowByRemoteID(ctx, p.ID, "wf-2")
	require.NoError(t, err)
	require.True(t, gone.IsArchived)

	kept, err := h.q.GetWorkflowByRemoteID(ctx, p.ID, "wf-1")
	require.NoError(t, err)
	require.False(t, kept.IsArchived)
	require.JSONEq(t, `["finance"]`, kept.Tags)
	require.EqualValues(t, 2, kept.NodeCount)
}

func TestBackupsStoreChangedDefinitionsOnly(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	ts := httptest.NewServer(fake)
	defer ts.Close()

	store, err := blob.New(ctx, config.BackupsConfig{Storage: "local", Local: config.BackupsLocalConfig{Directory: t.TempDir()}})
	require.NoError(t, err)
	h := newHarness(t, store)
	p := h.provider(t, "primary", ts.URL, "good-key")
	src := mustClient(t, h, p)

	clock := time.Now().UTC()
	h.syncer.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	_, err = h.syncer.SyncWorkflows(ctx, p.ID, src)
	require.NoError(t, err)

	n, err := h.syncer.SyncBackups(ctx, p.ID, src)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = h.syncer.SyncBackups(ctx, p.ID, src)
	require.NoError(t, err)
	require.Equal(t, 0, n, "unchanged definitions are not stored again")

	fake.mu.Lock()
	fake.definitions["wf-1"] = `{"id": "wf-1", "name": "Invoices v2", "nodes": []}`
	fake.mu.Unlock()
	n, err = h.syncer.SyncBackups(ctx, p.ID, src)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	wf, err := h.q.GetWorkflowByRemoteID(ctx, p.ID, "wf-1")
	require.NoError(t, err)
	backups, err := h.q.ListWorkflowBackups(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, backups, 2)

	body, _, err := store.Get(ctx, backups[0].StorageKey)
	require.NoError(t, err)
	require.Equal(t, `{"id":"wf-1","name":"Invoices v2","nodes":[]}`, string(body))

	// Reverting to the first definition is a change from the latest backup.
	fake.mu.Lock()
	fake.definitions["wf-1"] = `{"id": "wf-1", "name": "Invoices", "nodes": [], "updatedAt": "2025-05-01T09:00:00Z"}`
	fake.mu.Unlock()
	n, err = h.syncer.SyncBackups(ctx, p.ID, src)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	backups, err = h.q.ListWorkflowBackups(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, backups, 3)
	require.Equal(t, backups[2].VersionHash, backups[0].VersionHash, "latest backup matches the live definition again")
	require.Equal(t, backups[2].StorageKey, backups[0].StorageKey)

	body, _, err = store.Get(ctx, backups[0].StorageKey)
	require.NoError(t, err)
	require.Equal(t, `{"id":"wf-1","name":"Invoices","nodes":[],"updatedAt":"2025-05-01T09:00:00Z"}`, string(body))
}

func TestSyncAllProvidersHonoursLease(t *testing.T) {
	h := newHarness(t, nil)
	release, err := h.leaser.Acquire(context.Background(), "sync:all", time.Minute)
	require.NoError(t, err)
	defer release()

	require.True(t, h.syncer.Running(context.Background()))
	_, err = h.syncer.SyncAllProviders(context.Background(), Options{})
	require.ErrorIs(t, err, ErrSyncInProgress)
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]Type{"": TypeFull, "FULL": TypeFull, "executions": TypeExecutions, " backups ": TypeBackups} {
		got, err := ParseType(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseType("everything")
	require.Error(t, err)
}

func TestDefinitionHashIgnoresWhitespace(t *testing.T) {
	a, _ := definitionHash(json.RawMessage(`{"a": 1,  "b": [1, 2]}`))
	b, body := definitionHash(json.RawMessage(`{"a":1,"b":[1,2]}`))
	require.Equal(t, a, b)
	require.Equal(t, `{"a":1,"b":[1,2]}`, string(body))
	require.Len(t, a, 64)
}

func mustClient(t *testing.T, h harness, p db.Provider) Source {
	t.Helper()
	src, err := h.syncer.clients(p)
	require.NoError(t, err)
	return src
}
