package db

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type UpsertExecutionParams struct {
	ID                  string
	ProviderID          string
	WorkflowID          *string
	ProviderExecutionID string
	ProviderWorkflowID  string
	Status              ExecutionStatus
	Mode                string
	StartedAt           time.Time
	StoppedAt           *time.Time
	Duration            *int64
	Finished            bool
	RetryOf             *string
	RetrySuccessID      *string
	Metadata            string
	TotalTokens         int64
	InputTokens         int64
	OutputTokens        int64
	AICost              decimal.Decimal
	AIProvider          *string
	AIModel             *string
	SyncedAt            time.Time
}

// UpsertExecution writes an execution keyed by provider and remote id and
// reports whether the row was newly inserted.
func (q *Queries) UpsertExecution(ctx context.Context, arg UpsertExecutionParams) (bool, error) {
	metadata := arg.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	var id string
	err := q.queryRow(ctx, `INSERT INTO executions (
    id, provider_id, workflow_id, provider_execution_id, provider_workflow_id, status, mode, started_at, stopped_at, duration,
    finished, retry_of, retry_success_id, metadata, total_tokens, input_tokens, output_tokens, ai_cost, ai_provider, ai_model,
    created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (provider_id, provider_execution_id) DO UPDATE SET
    workflow_id = COALESCE(excluded.workflow_id, executions.workflow_id),
    provider_workflow_id = excluded.provider_workflow_id,
    status = excluded.status,
    mode = excluded.mode,
    started_at = excluded.started_at,
    stopped_at = excluded.stopped_at,
    duration = excluded.duration,
    finished = excluded.finished,
    retry_of = excluded.retry_of,
    retry_success_id = excluded.retry_success_id,
    metadata = excluded.metadata,
    total_tokens = excluded.total_tokens,
    input_tokens = excluded.input_tokens,
    output_tokens = excluded.output_tokens,
    ai_cost = excluded.ai_cost,
    ai_provider = excluded.ai_provider,
    ai_model = excluded.ai_model,
    updated_at = excluded.updated_at
RETURNING id`,
		arg.ID, arg.ProviderID, nullString(arg.WorkflowID), arg.ProviderExecutionID, arg.ProviderWorkflowID, string(arg.Status), arg.Mode,
		q.ts(arg.StartedAt), q.nullTS(arg.StoppedAt), nullInt64(arg.Duration), arg.Finished, nullString(arg.RetryOf), nullString(arg.RetrySuccessID),
		metadata, arg.TotalTokens, arg.InputTokens, arg.OutputTokens, q.decimal(arg.AICost), nullString(arg.AIProvider), nullString(arg.AIModel),
		q.ts(arg.SyncedAt), q.ts(arg.SyncedAt),
	).Scan(&id)
	if err != nil {
		return false, err
	}
	return id == arg.ID, nil
}

// decimal encodes money values: REAL in SQLite, NUMERIC text in postgres.
func (q *Queries) decimal(d decimal.Decimal) interface{} {
	if q.dialect == DialectPostgres {
		return d.String()
	}
	return d.InexactFloat64()
}

const executionColumns = `e.id, e.provider_id, e.workflow_id, e.provider_execution_id, e.provider_workflow_id, e.status, e.mode, e.started_at, e.stopped_at, e.duration,
e.finished, e.retry_of, e.retry_success_id, e.metadata, e.total_tokens, e.input_tokens, e.output_tokens, e.ai_cost, e.ai_provider, e.ai_model,
e.created_at, e.updated_at`

func scanExecution(row rowScanner, extra ...interface{}) (Execution, error) {
	var i Execution
	var status string
	var cost decimal.NullDecimal
	dest := []interface{}{
		&i.ID,
		&i.ProviderID,
		&i.WorkflowID,
		&i.ProviderExecutionID,
		&i.ProviderWorkflowID,
		&status,
		&i.Mode,
		scanTime(&i.StartedAt),
		scanNullTime(&i.StoppedAt),
		&i.Duration,
		&i.Finished,
		&i.RetryOf,
		&i.RetrySuccessID,
		&i.Metadata,
		&i.TotalTokens,
		&i.InputTokens,
		&i.OutputTokens,
		&cost,
		&i.AIProvider,
		&i.AIModel,
		scanTime(&i.CreatedAt),
		scanTime(&i.UpdatedAt),
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Execution{}, err
	}
	i.Status = ExecutionStatus(status)
	i.AICost = cost.Decimal
	return i, nil
}

func (q *Queries) GetExecutionByRemoteID(ctx context.Context, providerID, remoteID string) (Execution, error) {
	row := q.queryRow(ctx, `SELECT `+executionColumns+` FROM executions e WHERE e.provider_id = ? AND e.provider_execution_id = ?`, providerID, remoteID)
	return scanExecution(row)
}

// ListUnfinishedExecutionIDs returns remote ids of executions that were still
// in flight when last synced and started after since.
func (q *Queries) ListUnfinishedExecutionIDs(ctx context.Context, providerID string, since time.Time) ([]string, error) {
	rows, err := q.query(ctx, `SELECT provider_execution_id FROM executions
WHERE provider_id = ? AND status IN (?, ?, ?) AND started_at >= ?
ORDER BY started_at`,
		providerID, string(ExecutionStatusRunning), string(ExecutionStatusWaiting), string(ExecutionStatusNew), q.ts(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (q *Queries) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.exec(ctx, `DELETE FROM executions WHERE started_at < ?`, q.ts(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExecutionFilter narrows the execution log. Nil fields are ignored.
type ExecutionFilter struct {
	ProviderID    *string
	WorkflowID    *string
	Statuses      []string
	StartedAfter  *time.Time
	StartedBefore *time.Time
	Search        string
}

func (q *Queries) executionWhere(f ExecutionFilter) (string, []interface{}) {
	var b strings.Builder
	args := make([]interface{}, 0, 8)
	b.WriteString("WHERE 1 = 1")
	if f.ProviderID != nil {
		b.WriteString(" AND e.provider_id = ?")
		args = append(args, *f.ProviderID)
	}
	if f.WorkflowID != nil {
		b.WriteString(" AND e.provider_workflow_id = ?")
		args = append(args, *f.WorkflowID)
	}
	if len(f.Statuses) > 0 {
		b.WriteString(" AND e.status IN (")
		for i, s := range f.Statuses {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, s)
		}
		b.WriteString(")")
	}
	if f.StartedAfter != nil {
		b.WriteString(" AND e.started_at >= ?")
		args = append(args, q.ts(*f.StartedAfter))
	}
	if f.StartedBefore != nil {
		b.WriteString(" AND e.started_at <= ?")
		args = append(args, q.ts(*f.StartedBefore))
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		b.WriteString(" AND (LOWER(e.id) LIKE ? OR LOWER(e.provider_execution_id) LIKE ? OR LOWER(COALESCE(w.name, '')) LIKE ?)")
		args = append(args, like, like, like)
	}
	return b.String(), args
}

// groupingCTE collapses consecutive executions of the same workflow, status
// and mode into one group when the mode is an automatic trigger.
func (q *Queries) groupingCTE(where string) string {
	return `WITH filtered AS (
    SELECT ` + executionColumns + `, w.name AS workflow_name, p.name AS provider_name
    FROM executions e
    LEFT JOIN workflows w ON e.workflow_id = w.id
    LEFT JOIN providers p ON e.provider_id = p.id
    ` + where + `
),
marked AS (
    SELECT filtered.*,
        CASE
            WHEN LAG(workflow_id) OVER (ORDER BY started_at DESC, id) = workflow_id
             AND LAG(status) OVER (ORDER BY started_at DESC, id) = status
             AND LAG(mode) OVER (ORDER BY started_at DESC, id) = mode
             AND mode IN ('trigger', 'webhook', 'cron', 'schedule')
            THEN 0
            ELSE 1
        END AS is_group_start
    FROM filtered
),
grouped AS (
    SELECT marked.*,
        SUM(is_group_start) OVER (ORDER BY started_at DESC, id ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW) AS group_id
    FROM marked
)`
}

func (q *Queries) CountExecutionGroups(ctx context.Context, f ExecutionFilter) (int64, error) {
	where, args := q.executionWhere(f)
	var total int64
	err := q.queryRow(ctx, q.groupingCTE(where)+`
SELECT COUNT(DISTINCT group_id) FROM grouped`, args...).Scan(&total)
	return total, err
}

type ExecutionListRow struct {
	Execution
	WorkflowName *string `json:"workflow_name,omitempty"`
	ProviderName *string `json:"provider_name,omitempty"`
	GroupID      int64   `json:"group_id"`
}

// ListExecutionGroups returns every execution belonging to the requested page
// of groups, newest first.
func (q *Queries) ListExecutionGroups(ctx context.Context, f ExecutionFilter, limit, offset int) ([]ExecutionListRow, error) {
	where, args := q.executionWhere(f)
	args = append(args, limit, offset)
	rows, err := q.query(ctx, q.groupingCTE(where)+`,
paged AS (
    SELECT DISTINCT group_id FROM grouped ORDER BY group_id ASC LIMIT ? OFFSET ?
)
SELECT id, provider_id, workflow_id, provider_execution_id, provider_workflow_id, status, mode, started_at, stopped_at, duration,
       finished, retry_of, retry_success_id, metadata, total_tokens, input_tokens, output_tokens, ai_cost, ai_provider, ai_model,
       created_at, updated_at, workflow_name, provider_name, group_id
FROM grouped
WHERE group_id IN (SELECT group_id FROM paged)
ORDER BY started_at DESC, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ExecutionListRow
	for rows.Next() {
		var i ExecutionListRow
		exec, err := scanExecution(rows, &i.WorkflowName, &i.ProviderName, &i.GroupID)
		if err != nil {
			return nil, err
		}
		i.Execution = exec
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// ChartExecutionRow carries the fields needed to bucket executions.
type ChartExecutionRow struct {
	ProviderID   string
	ProviderName string
	Status       ExecutionStatus
	StartedAt    time.Time
	Duration     *int64
	AICost       decimal.Decimal
	TotalTokens  int64
}

func (q *Queries) ListChartExecutions(ctx context.Context, since time.Time, until time.Time) ([]ChartExecutionRow, error) {
	rows, err := q.query(ctx, `SELECT e.provider_id, COALESCE(p.name, 'Unknown'), e.status, e.started_at, e.duration, e.ai_cost, e.total_tokens
FROM executions e
LEFT JOIN providers p ON e.provider_id = p.id
WHERE e.started_at >= ? AND e.started_at <= ?
ORDER BY e.started_at DESC`, q.ts(since), q.ts(until))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ChartExecutionRow
	for rows.Next() {
		var i ChartExecutionRow
		var status string
		var cost decimal.NullDecimal
		if err := rows.Scan(&i.ProviderID, &i.ProviderName, &status, scanTime(&i.StartedAt), &i.Duration, &cost, &i.TotalTokens); err != nil {
			return nil, err
		}
		i.Status = ExecutionStatus(status)
		i.AICost = cost.Decimal
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type ExecutionSummary struct {
	Total       int64           `json:"total"`
	Successful  int64           `json:"successful"`
	Failed      int64           `json:"failed"`
	Running     int64           `json:"running"`
	TotalTokens int64           `json:"total_tokens"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	AvgDuration *float64        `json:"avg_duration_ms,omitempty"`
	LastStarted *time.Time      `json:"last_started_at,omitempty"`
	Since       time.Time       `json:"since"`
}

func (q *Queries) SummarizeExecutions(ctx context.Context, since time.Time, providerID *string) (ExecutionSummary, error) {
	query := `SELECT COUNT(*),
    COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status IN (?, ?) THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status IN (?, ?) THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(total_tokens), 0),
    COALESCE(SUM(ai_cost), 0),
    AVG(duration),
    MAX(started_at)
FROM executions
WHERE started_at >= ?`
	args := []interface{}{
		string(ExecutionStatusSuccess),
		string(ExecutionStatusError), string(ExecutionStatusCrashed),
		string(ExecutionStatusRunning), string(ExecutionStatusWaiting),
		q.ts(since),
	}
	if providerID != nil {
		query += ` AND provider_id = ?`
		args = append(args, *providerID)
	}
	var s ExecutionSummary
	var cost decimal.NullDecimal
	var avg decimal.NullDecimal
	err := q.queryRow(ctx, query, args...).Scan(&s.Total, &s.Successful, &s.Failed, &s.Running, &s.TotalTokens, &cost, &avg, scanNullTime(&s.LastStarted))
	if err != nil {
		return ExecutionSummary{}, err
	}
	s.TotalCost = cost.Decimal
	if avg.Valid {
		v := avg.Decimal.InexactFloat64()
		s.AvgDuration = &v
	}
	s.Since = since
	return s, nil
}
