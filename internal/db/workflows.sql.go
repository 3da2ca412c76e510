package db

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const workflowColumns = `id, provider_id, provider_workflow_id, name, is_active, is_archived, is_tracked, tags, node_count, remote_created_at, remote_updated_at, last_synced_at, created_at, updated_at`

func scanWorkflow(row rowScanner, extra ...interface{}) (Workflow, error) {
	var i Workflow
	dest := []interface{}{
		&i.ID,
		&i.ProviderID,
		&i.ProviderWorkflowID,
		&i.Name,
		&i.IsActive,
		&i.IsArchived,
		&i.IsTracked,
		&i.Tags,
		&i.NodeCount,
		scanNullTime(&i.RemoteCreatedAt),
		scanNullTime(&i.RemoteUpdatedAt),
		scanTime(&i.LastSyncedAt),
		scanTime(&i.CreatedAt),
		scanTime(&i.UpdatedAt),
	}
	err := row.Scan(append(dest, extra...)...)
	return i, err
}

type UpsertWorkflowParams struct {
	ID                 string
	ProviderID         string
	ProviderWorkflowID string
	Name               string
	IsActive           bool
	IsArchived         bool
	IsTracked          bool
	Tags               string
	NodeCount          int64
	RemoteCreatedAt    *time.Time
	RemoteUpdatedAt    *time.Time
	SyncedAt           time.Time
}

// UpsertWorkflow inserts or refreshes a workflow. The tracking flag is only
// applied on insert so user choices survive later syncs. The returned flag
// is true when a new row was created.
func (q *Queries) UpsertWorkflow(ctx context.Context, arg UpsertWorkflowParams) (Workflow, bool, error) {
	tags := arg.Tags
	if tags == "" {
		tags = "[]"
	}
	row := q.queryRow(ctx, `INSERT INTO workflows (id, provider_id, provider_workflow_id, name, is_active, is_archived, is_tracked, tags, node_count, remote_created_at, remote_updated_at, last_synced_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (provider_id, provider_workflow_id) DO UPDATE SET
    name = excluded.name,
    is_active = excluded.is_active,
    is_archived = excluded.is_archived,
    tags = excluded.tags,
    node_count = excluded.node_count,
    remote_created_at = excluded.remote_created_at,
    remote_updated_at = excluded.remote_updated_at,
    last_synced_at = excluded.last_synced_at,
    updated_at = excluded.updated_at
RETURNING `+workflowColumns,
		arg.ID, arg.ProviderID, arg.ProviderWorkflowID, arg.Name, arg.IsActive, arg.IsArchived, arg.IsTracked, tags, arg.NodeCount,
		q.nullTS(arg.RemoteCreatedAt), q.nullTS(arg.RemoteUpdatedAt), q.ts(arg.SyncedAt), q.ts(arg.SyncedAt), q.ts(arg.SyncedAt),
	)
	wf, err := scanWorkflow(row)
	if err != nil {
		return Workflow{}, false, err
	}
	return wf, wf.ID == arg.ID, nil
}

func (q *Queries) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	row := q.queryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	return scanWorkflow(row)
}

func (q *Queries) GetWorkflowByRemoteID(ctx context.Context, providerID, remoteID string) (Workflow, error) {
	row := q.queryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE provider_id = ? AND provider_workflow_id = ?`, providerID, remoteID)
	return scanWorkflow(row)
}

func (q *Queries) ListProviderWorkflows(ctx context.Context, providerID string) ([]Workflow, error) {
	rows, err := q.query(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE provider_id = ? ORDER BY name`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Workflow
	for rows.Next() {
		i, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (q *Queries) ListTrackedWorkflows(ctx context.Context, providerID string) ([]Workflow, error) {
	rows, err := q.query(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE provider_id = ? AND is_tracked = ? AND is_archived = ? ORDER BY name`, providerID, true, false)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Workflow
	for rows.Next() {
		i, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// WorkflowRef is the minimal lookup row used while mapping executions.
type WorkflowRef struct {
	ID        string
	IsTracked bool
}

func (q *Queries) ListWorkflowRefs(ctx context.Context, providerID string) (map[string]WorkflowRef, error) {
	rows, err := q.query(ctx, `SELECT provider_workflow_id, id, is_tracked FROM workflows WHERE provider_id = ?`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	refs := make(map[string]WorkflowRef)
	for rows.Next() {
		var remoteID string
		var ref WorkflowRef
		if err := rows.Scan(&remoteID, &ref.ID, &ref.IsTracked); err != nil {
			return nil, err
		}
		refs[remoteID] = ref
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}

type WorkflowWithStats struct {
	Workflow
	ProviderName    string          `json:"provider_name"`
	ExecutionCount  int64           `json:"execution_count"`
	SuccessCount    int64           `json:"success_count"`
	FailureCount    int64           `json:"failure_count"`
	TotalTokens     int64           `json:"total_tokens"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	LastExecutionAt *time.Time      `json:"last_execution_at,omitempty"`
}

type ListWorkflowsWithStatsParams struct {
	ProviderID  *string
	TrackedOnly bool
}

func (q *Queries) ListWorkflowsWithStats(ctx context.Context, arg ListWorkflowsWithStatsParams) ([]WorkflowWithStats, error) {
	query := `SELECT w.id, w.provider_id, w.provider_workflow_id, w.name, w.is_active, w.is_archived, w.is_tracked, w.tags, w.node_count,
       w.remote_created_at, w.remote_updated_at, w.last_synced_at, w.created_at, w.updated_at,
       p.name,
       COALESCE(s.total, 0), COALESCE(s.successes, 0), COALESCE(s.failures, 0), COALESCE(s.tokens, 0), COALESCE(s.cost, 0), s.last_started
FROM workflows w
JOIN providers p ON p.id = w.provider_id
LEFT JOIN (
    SELECT workflow_id,
           COUNT(*) AS total,
           SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS successes,
           SUM(CASE WHEN status IN (?, ?) THEN 1 ELSE 0 END) AS failures,
           SUM(total_tokens) AS tokens,
           SUM(ai_cost) AS cost,
           MAX(started_at) AS last_started
    FROM executions
    GROUP BY workflow_id
) s ON s.workflow_id = w.id
WHERE 1 = 1`
	args := []interface{}{ExecutionStatusSuccess, ExecutionStatusError, ExecutionStatusCrashed}
	if arg.ProviderID != nil {
		query += ` AND w.provider_id = ?`
		args = append(args, *arg.ProviderID)
	}
	if arg.TrackedOnly {
		query += ` AND w.is_tracked = ?`
		args = append(args, true)
	}
	query += ` ORDER BY p.name, w.name`

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WorkflowWithStats
	for rows.Next() {
		var i WorkflowWithStats
		var cost decimal.NullDecimal
		wf, err := scanWorkflow(rows,
			&i.ProviderName,
			&i.ExecutionCount,
			&i.SuccessCount,
			&i.FailureCount,
			&i.TotalTokens,
			&cost,
			scanNullTime(&i.LastExecutionAt),
		)
		if err != nil {
			return nil, err
		}
		i.Workflow = wf
		i.TotalCost = cost.Decimal
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (q *Queries) SetProviderWorkflowsTracked(ctx context.Context, providerID string, tracked bool, at time.Time) (int64, error) {
	res, err := q.exec(ctx, `UPDATE workflows SET is_tracked = ?, updated_at = ? WHERE provider_id = ?`, tracked, q.ts(at), providerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) SetWorkflowTracked(ctx context.Context, providerID, remoteID string, tracked bool, at time.Time) (int64, error) {
	res, err := q.exec(ctx, `UPDATE workflows SET is_tracked = ?, updated_at = ? WHERE provider_id = ? AND provider_workflow_id = ?`, tracked, q.ts(at), providerID, remoteID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type TrackingCounts struct {
	Tracked   int64 `json:"tracked"`
	Untracked int64 `json:"untracked"`
}

func (q *Queries) CountWorkflowTracking(ctx context.Context, providerID string) (TrackingCounts, error) {
	var counts TrackingCounts
	err := q.queryRow(ctx, `SELECT
    COALESCE(SUM(CASE WHEN is_tracked = ? THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN is_tracked = ? THEN 0 ELSE 1 END), 0)
FROM workflows WHERE provider_id = ?`, true, true, providerID).Scan(&counts.Tracked, &counts.Untracked)
	return counts, err
}

// ArchiveUnseenWorkflows flags workflows that were not refreshed by the sync
// that started at syncedAt.
func (q *Queries) ArchiveUnseenWorkflows(ctx context.Context, providerID string, syncedAt time.Time) (int64, error) {
	res, err := q.exec(ctx, `UPDATE workflows SET is_archived = ?, updated_at = ? WHERE provider_id = ? AND last_synced_at < ? AND is_archived = ?`,
		true, q.ts(syncedAt), providerID, q.ts(syncedAt), false)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
