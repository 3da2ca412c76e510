package n8n

import (
	"context"
	"fmt"
	"net/url"
)

// ListExecutions fetches one page of executions, newest first.
func (c *Client) ListExecutions(ctx context.Context, params ListExecutionsParams) (ExecutionPage, error) {
	q := url.Values{}
	q.Set("limit", itoa(pageLimit(params.Limit)))
	if params.Cursor != "" {
		q.Set("cursor", params.Cursor)
	}
	if params.WorkflowID != "" {
		q.Set("workflowId", params.WorkflowID)
	}
	if params.Status != "" {
		q.Set("status", params.Status)
	}
	if params.IncludeData {
		q.Set("includeData", "true")
	}
	var page ExecutionPage
	if err := c.getJSON(ctx, "/api/v1/executions", q, &page); err != nil {
		return ExecutionPage{}, err
	}
	return page, nil
}

// GetExecution fetches a single execution.
func (c *Client) GetExecution(ctx context.Context, id string, includeData bool) (Execution, error) {
	if id == "" {
		return Execution{}, fmt.Errorf("n8n: execution id required")
	}
	var q url.Values
	if includeData {
		q = url.Values{"includeData": {"true"}}
	}
	var exec Execution
	if err := c.getJSON(ctx, "/api/v1/executions/"+url.PathEscape(id), q, &exec); err != nil {
		return Execution{}, err
	}
	return exec, nil
}

// ExecutionVisitor receives each page; returning false stops paging.
type ExecutionVisitor func(page []Execution) (bool, error)

// WalkResult reports how far a walk got. Next is the cursor of the first
// unread page when the walk stopped at its page cap, and empty when the
// listing ended or the visitor stopped it.
type WalkResult struct {
	Pages int
	Next  string
}

// Truncated reports whether unread pages remain.
func (r WalkResult) Truncated() bool {
	return r.Next != ""
}

// WalkExecutions pages through executions newest first, starting at
// params.Cursor, handing each page to visit until it asks to stop, the
// listing ends, or maxPages is reached.
func (c *Client) WalkExecutions(ctx context.Context, params ListExecutionsParams, maxPages int, visit ExecutionVisitor) (WalkResult, error) {
	var out WalkResult
	for {
		res, err := c.ListExecutions(ctx, params)
		if err != nil {
			return out, err
		}
		out.Pages++
		more, err := visit(res.Data)
		if err != nil {
			return out, err
		}
		if !more || res.NextCursor == "" || res.NextCursor == params.Cursor {
			return out, nil
		}
		if maxPages > 0 && out.Pages >= maxPages {
			out.Next = res.NextCursor
			return out, nil
		}
		params.Cursor = res.NextCursor
	}
}
