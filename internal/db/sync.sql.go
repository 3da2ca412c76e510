package db

import (
	"context"
	"time"
)

const syncStateColumns = `provider_id, last_execution_id, last_started_at, resume_cursor, pending_execution_id, pending_started_at, last_workflow_sync_at, last_execution_sync_at, last_backup_sync_at, updated_at`

func (q *Queries) GetSyncState(ctx context.Context, providerID string) (SyncState, error) {
	var i SyncState
	err := q.queryRow(ctx, `SELECT `+syncStateColumns+` FROM sync_state WHERE provider_id = ?`, providerID).Scan(
		&i.ProviderID,
		&i.LastExecutionID,
		scanNullTime(&i.LastStartedAt),
		&i.ResumeCursor,
		&i.PendingExecutionID,
		scanNullTime(&i.PendingStartedAt),
		scanNullTime(&i.LastWorkflowSyncAt),
		scanNullTime(&i.LastExecutionSyncAt),
		scanNullTime(&i.LastBackupSyncAt),
		scanTime(&i.UpdatedAt),
	)
	return i, err
}

type SetExecutionCursorParams struct {
	ProviderID         string
	LastExecutionID    *string
	LastStartedAt      *time.Time
	ResumeCursor       *string
	PendingExecutionID *string
	PendingStartedAt   *time.Time
	SyncedAt           time.Time
}

// SetExecutionCursor records the newest execution fully mirrored. A nil
// cursor keeps the stored one. The resume fields describe an unfinished
// backlog walk and are always overwritten, so nil clears them.
func (q *Queries) SetExecutionCursor(ctx context.Context, arg SetExecutionCursorParams) error {
	_, err := q.exec(ctx, `INSERT INTO sync_state (provider_id, last_execution_id, last_started_at, resume_cursor, pending_execution_id, pending_started_at, last_execution_sync_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (provider_id) DO UPDATE SET
    last_execution_id = COALESCE(excluded.last_execution_id, sync_state.last_execution_id),
    last_started_at = COALESCE(excluded.last_started_at, sync_state.last_started_at),
    resume_cursor = excluded.resume_cursor,
    pending_execution_id = excluded.pending_execution_id,
    pending_started_at = excluded.pending_started_at,
    last_execution_sync_at = excluded.last_execution_sync_at,
    updated_at = excluded.updated_at`,
		arg.ProviderID, nullString(arg.LastExecutionID), q.nullTS(arg.LastStartedAt),
		nullString(arg.ResumeCursor), nullString(arg.PendingExecutionID), q.nullTS(arg.PendingStartedAt),
		q.ts(arg.SyncedAt), q.ts(arg.SyncedAt),
	)
	return err
}

func (q *Queries) TouchWorkflowSync(ctx context.Context, providerID string, at time.Time) error {
	_, err := q.exec(ctx, `INSERT INTO sync_state (provider_id, last_workflow_sync_at, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (provider_id) DO UPDATE SET
    last_workflow_sync_at = excluded.last_workflow_sync_at,
    updated_at = excluded.updated_at`, providerID, q.ts(at), q.ts(at))
	return err
}

func (q *Queries) TouchBackupSync(ctx context.Context, providerID string, at time.Time) error {
	_, err := q.exec(ctx, `INSERT INTO sync_state (provider_id, last_backup_sync_at, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (provider_id) DO UPDATE SET
    last_backup_sync_at = excluded.last_backup_sync_at,
    updated_at = excluded.updated_at`, providerID, q.ts(at), q.ts(at))
	return err
}

func (q *Queries) ResetSyncState(ctx context.Context, providerID string) error {
	_, err := q.exec(ctx, `DELETE FROM sync_state WHERE provider_id = ?`, providerID)
	return err
}

const syncRunColumns = `id, provider_id, sync_type, trigger_source, status, started_at, finished_at, workflows_synced, executions_synced, backups_created, error`

func scanSyncRun(row rowScanner) (SyncRun, error) {
	var i SyncRun
	var status string
	err := row.Scan(
		&i.ID,
		&i.ProviderID,
		&i.SyncType,
		&i.TriggerSource,
		&status,
		scanTime(&i.StartedAt),
		scanNullTime(&i.FinishedAt),
		&i.WorkflowsSynced,
		&i.ExecutionsSynced,
		&i.BackupsCreated,
		&i.Error,
	)
	i.Status = SyncRunStatus(status)
	return i, err
}

type CreateSyncRunParams struct {
	ID            string
	ProviderID    *string
	SyncType      string
	TriggerSource string
	StartedAt     time.Time
}

func (q *Queries) CreateSyncRun(ctx context.Context, arg CreateSyncRunParams) (SyncRun, error) {
	row := q.queryRow(ctx, `INSERT INTO sync_runs (id, provider_id, sync_type, trigger_source, status, started_at)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING `+syncRunColumns,
		arg.ID, nullString(arg.ProviderID), arg.SyncType, arg.TriggerSource, string(SyncRunStatusRunning), q.ts(arg.StartedAt),
	)
	return scanSyncRun(row)
}

type FinishSyncRunParams struct {
	ID               string
	Status           SyncRunStatus
	FinishedAt       time.Time
	WorkflowsSynced  int64
	ExecutionsSynced int64
	BackupsCreated   int64
	Error            *string
}

func (q *Queries) FinishSyncRun(ctx context.Context, arg FinishSyncRunParams) error {
	_, err := q.exec(ctx, `UPDATE sync_runs
SET status = ?, finished_at = ?, workflows_synced = ?, executions_synced = ?, backups_created = ?, error = ?
WHERE id = ?`,
		string(arg.Status), q.ts(arg.FinishedAt), arg.WorkflowsSynced, arg.ExecutionsSynced, arg.BackupsCreated, nullString(arg.Error), arg.ID,
	)
	return err
}

type ListSyncRunsParams struct {
	ProviderID *string
	Limit      int
}

func (q *Queries) ListSyncRuns(ctx context.Context, arg ListSyncRunsParams) ([]SyncRun, error) {
	limit := arg.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + syncRunColumns + ` FROM sync_runs`
	var args []interface{}
	if arg.ProviderID != nil {
		query += ` WHERE provider_id = ?`
		args = append(args, *arg.ProviderID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SyncRun
	for rows.Next() {
		i, err := scanSyncRun(rows)
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

// FailAbandonedSyncRuns closes runs left open by a process that exited
// mid-sync.
func (q *Queries) FailAbandonedSyncRuns(ctx context.Context, at time.Time) (int64, error) {
	res, err := q.exec(ctx, `UPDATE sync_runs SET status = ?, finished_at = ?, error = ? WHERE status = ?`,
		string(SyncRunStatusFailed), q.ts(at), "interrupted before completion", string(SyncRunStatusRunning))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
