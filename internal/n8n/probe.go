package n8n

import (
	"context"
	"errors"
	"time"

	"github.com/tidwall/gjson"
)

const (
	probeTimeout    = 10 * time.Second
	internalTimeout = 5 * time.Second
)

// Probe checks that the instance answers with the configured key. When the
// public API refuses, the internal /rest endpoints are tried before giving
// up so self-hosted instances with the public API disabled still connect.
func (c *Client) Probe(ctx context.Context) (ProbeResult, error) {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	page, err := c.ListWorkflows(pctx, ListWorkflowsParams{Limit: maxPageSize})
	cancel()
	if err == nil {
		res := ProbeResult{
			WorkflowCount: len(page.Data),
			URL:           c.baseURL,
			AuthMode:      c.AuthMode(),
		}
		res.Version, res.InstanceID = c.ownerInfo(ctx)
		return res, nil
	}
	if errors.Is(err, context.Canceled) {
		return ProbeResult{}, err
	}

	res, ierr := c.probeInternal(ctx)
	if ierr == nil {
		return res, nil
	}
	c.logger.Debug("n8n internal api probe failed", "error", ierr)
	return ProbeResult{}, err
}

// ownerInfo is best effort; missing fields come back empty.
func (c *Client) ownerInfo(ctx context.Context) (version, instanceID string) {
	octx, cancel := context.WithTimeout(ctx, internalTimeout)
	defer cancel()
	body, err := c.get(octx, "/api/v1/owner", nil)
	if err != nil {
		return "", ""
	}
	parsed := gjson.ParseBytes(body)
	version = firstString(parsed, "version", "data.version", "n8nVersion")
	instanceID = firstString(parsed, "instanceId", "data.instanceId", "id")
	return version, instanceID
}

func (c *Client) probeInternal(ctx context.Context) (ProbeResult, error) {
	mode := AuthModeAPIKey
	if LooksLikeJWT(c.apiKey) {
		mode = AuthModeBearer
	}

	lctx, cancel := context.WithTimeout(ctx, internalTimeout)
	status, body, err := c.send(lctx, "/rest/login", nil, mode)
	cancel()
	if err != nil {
		return ProbeResult{}, err
	}
	if status >= 300 {
		return ProbeResult{}, newAPIError(status, body)
	}
	login := gjson.ParseBytes(body)
	res := ProbeResult{
		URL:         c.baseURL,
		AuthMode:    mode,
		InternalAPI: true,
		Version:     firstString(login, "data.version", "data.n8nVersion", "version"),
		InstanceID:  firstString(login, "data.instanceId", "instanceId"),
	}

	wctx, cancel := context.WithTimeout(ctx, internalTimeout)
	status, body, err = c.send(wctx, "/rest/workflows", nil, mode)
	cancel()
	if err == nil && status < 300 {
		res.WorkflowCount = countItems(gjson.ParseBytes(body))
	}
	return res, nil
}

func countItems(doc gjson.Result) int {
	if doc.IsArray() {
		return len(doc.Array())
	}
	if data := doc.Get("data"); data.IsArray() {
		return len(data.Array())
	}
	return 0
}

func firstString(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := doc.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
