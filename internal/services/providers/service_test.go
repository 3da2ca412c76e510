package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/database/databasetest"
	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/secretbox"
)

func fakeInstance(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-N8N-API-KEY") != "good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/workflows":
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"id": "wf-1", "name": "Invoices", "active": true},
					{"id": "wf-2", "name": "Leads", "active": false},
				},
				"nextCursor": nil,
			})
		case "/api/v1/owner":
			json.NewEncoder(w).Encode(map[string]any{"version": "1.64.0"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newService(t *testing.T) (*Service, *db.Queries) {
	t.Helper()
	_, q := databasetest.Open(t)
	box, err := secretbox.FromSecret("provider-test-secret", "providers")
	require.NoError(t, err)
	return NewService(q, box, config.SyncConfig{MaxRetries: -1, PageSize: 50, MaxPages: 2}, nil), q
}

func TestCreateSealsKeyAndConnects(t *testing.T) {
	ctx := context.Background()
	ts := fakeInstance(t)
	svc, q := newService(t)

	p, res, err := svc.Create(ctx, nil, Input{Name: " Primary ", BaseURL: ts.URL + "/", APIKey: "good-key"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	require.Equal(t, 2, res.WorkflowCount)
	require.Equal(t, "Primary", p.Name)
	require.Equal(t, ts.URL, p.BaseURL)
	require.True(t, p.IsConnected)
	require.Equal(t, StatusConnected, p.Status)
	require.NotNil(t, p.Version)
	require.Equal(t, "1.64.0", *p.Version)

	stored, err := q.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, secretbox.IsSealed(stored.APIKeyEncrypted))

	client, err := svc.Client(stored)
	require.NoError(t, err)
	require.Equal(t, ts.URL, client.BaseURL())

	_, _, err = svc.Create(ctx, nil, Input{Name: "Primary", BaseURL: ts.URL, APIKey: "good-key"})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestCreateWithBadKeyStaysDisconnected(t *testing.T) {
	ctx := context.Background()
	ts := fakeInstance(t)
	svc, _ := newService(t)

	p, res, err := svc.Create(ctx, nil, Input{Name: "edge", BaseURL: ts.URL, APIKey: "bad-key"})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "Invalid API key - please check your n8n API key", res.Error)
	require.False(t, p.IsConnected)
	require.Equal(t, StatusError, p.Status)
	require.NotNil(t, p.LastError)
}

func TestValidateInput(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	cases := []Input{
		{Name: "", BaseURL: "http://n8n", APIKey: "k"},
		{Name: "a", BaseURL: "ftp://n8n", APIKey: "k"},
		{Name: "a", BaseURL: "http://n8n", APIKey: ""},
	}
	for _, in := range cases {
		if _, _, err := svc.Create(ctx, nil, in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", in, err)
		}
	}
}

func TestUpdateKeepsKeyWhenBlank(t *testing.T) {
	ctx := context.Background()
	ts := fakeInstance(t)
	svc, q := newService(t)

	p, _, err := svc.Create(ctx, nil, Input{Name: "a", BaseURL: ts.URL, APIKey: "good-key"})
	require.NoError(t, err)
	before, err := q.GetProvider(ctx, p.ID)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, p.ID, Input{Name: "renamed", BaseURL: ts.URL})
	require.NoError(t, err)
	require.Equal(t, "renamed", updated.Name)
	require.Equal(t, before.APIKeyEncrypted, updated.APIKeyEncrypted)

	_, err = svc.Update(ctx, "missing", Input{Name: "x", BaseURL: ts.URL})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCheckKeepsConnectionFlag(t *testing.T) {
	ctx := context.Background()
	ts := fakeInstance(t)
	svc, q := newService(t)

	p, _, err := svc.Create(ctx, nil, Input{Name: "a", BaseURL: ts.URL, APIKey: "good-key"})
	require.NoError(t, err)
	require.True(t, p.IsConnected)

	ts.Close()
	res, err := svc.Check(ctx, p)
	require.NoError(t, err)
	require.False(t, res.Success)

	after, err := q.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, after.IsConnected, "health checks never drop a provider from syncs")
	require.Equal(t, StatusError, after.Status)
}

func TestBootstrapSkipsExisting(t *testing.T) {
	ctx := context.Background()
	ts := fakeInstance(t)
	svc, _ := newService(t)

	list := []config.BootstrapProvider{{Name: "primary", BaseURL: ts.URL, APIKey: "good-key"}}
	n, err := svc.Bootstrap(ctx, list)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = svc.Bootstrap(ctx, list)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestRemoteWorkflowsAndDelete(t *testing.T) {
	ctx := context.Background()
	ts := fakeInstance(t)
	svc, _ := newService(t)

	wfs, err := svc.RemoteWorkflows(ctx, ts.URL, "good-key")
	require.NoError(t, err)
	require.Len(t, wfs, 2)
	require.Equal(t, "Invoices", wfs[0].Name)

	p, _, err := svc.Create(ctx, nil, Input{Name: "a", BaseURL: ts.URL, APIKey: "good-key"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, p.ID))
	require.ErrorIs(t, svc.Delete(ctx, p.ID), ErrNotFound)
}
