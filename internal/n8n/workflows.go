package n8n

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

const maxPageSize = 250

func pageLimit(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// ListWorkflows fetches one page of workflows.
func (c *Client) ListWorkflows(ctx context.Context, params ListWorkflowsParams) (WorkflowPage, error) {
	q := url.Values{}
	q.Set("limit", itoa(pageLimit(params.Limit)))
	if params.Cursor != "" {
		q.Set("cursor", params.Cursor)
	}
	if params.Active != nil {
		q.Set("active", strconv.FormatBool(*params.Active))
	}
	var page WorkflowPage
	if err := c.getJSON(ctx, "/api/v1/workflows", q, &page); err != nil {
		return WorkflowPage{}, err
	}
	return page, nil
}

// ListAllWorkflows follows nextCursor until the listing is exhausted or
// maxPages pages have been read. A non-positive maxPages means no cap.
func (c *Client) ListAllWorkflows(ctx context.Context, pageSize, maxPages int) ([]Workflow, error) {
	var (
		out    []Workflow
		cursor string
	)
	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		res, err := c.ListWorkflows(ctx, ListWorkflowsParams{Limit: pageSize, Cursor: cursor})
		if err != nil {
			return nil, err
		}
		out = append(out, res.Data...)
		if res.NextCursor == "" || res.NextCursor == cursor {
			return out, nil
		}
		cursor = res.NextCursor
	}
	return out, nil
}

// GetWorkflowDefinition returns the parsed workflow and its raw JSON
// definition, which backups store verbatim.
func (c *Client) GetWorkflowDefinition(ctx context.Context, id string) (Workflow, json.RawMessage, error) {
	if id == "" {
		return Workflow{}, nil, fmt.Errorf("n8n: workflow id required")
	}
	body, err := c.get(ctx, "/api/v1/workflows/"+url.PathEscape(id), nil)
	if err != nil {
		return Workflow{}, nil, err
	}
	var wf Workflow
	if err := json.Unmarshal(body, &wf); err != nil {
		return Workflow{}, nil, fmt.Errorf("n8n: decode workflow %s: %w", id, err)
	}
	return wf, json.RawMessage(body), nil
}
