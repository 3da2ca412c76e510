package db

import (
	"context"
	"time"
)

const backupColumns = `id, workflow_id, provider_id, version_hash, storage_key, size_bytes, remote_updated_at, created_at`

func scanBackup(row rowScanner) (WorkflowBackup, error) {
	var i WorkflowBackup
	err := row.Scan(&i.ID, &i.WorkflowID, &i.ProviderID, &i.VersionHash, &i.StorageKey, &i.SizeBytes, scanNullTime(&i.RemoteUpdatedAt), scanTime(&i.CreatedAt))
	return i, err
}

type CreateWorkflowBackupParams struct {
	ID              string
	WorkflowID      string
	ProviderID      string
	VersionHash     string
	StorageKey      string
	SizeBytes       int64
	RemoteUpdatedAt *time.Time
	CreatedAt       time.Time
}

func (q *Queries) CreateWorkflowBackup(ctx context.Context, arg CreateWorkflowBackupParams) (WorkflowBackup, error) {
	row := q.queryRow(ctx, `INSERT INTO workflow_backups (id, workflow_id, provider_id, version_hash, storage_key, size_bytes, remote_updated_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING `+backupColumns,
		arg.ID, arg.WorkflowID, arg.ProviderID, arg.VersionHash, arg.StorageKey, arg.SizeBytes, q.nullTS(arg.RemoteUpdatedAt), q.ts(arg.CreatedAt),
	)
	return scanBackup(row)
}

func (q *Queries) GetWorkflowBackup(ctx context.Context, id string) (WorkflowBackup, error) {
	return scanBackup(q.queryRow(ctx, `SELECT `+backupColumns+` FROM workflow_backups WHERE id = ?`, id))
}

func (q *Queries) GetLatestWorkflowBackup(ctx context.Context, workflowID string) (WorkflowBackup, error) {
	return scanBackup(q.queryRow(ctx, `SELECT `+backupColumns+` FROM workflow_backups WHERE workflow_id = ? ORDER BY created_at DESC LIMIT 1`, workflowID))
}

func (q *Queries) ListWorkflowBackups(ctx context.Context, workflowID string) ([]WorkflowBackup, error) {
	rows, err := q.query(ctx, `SELECT `+backupColumns+` FROM workflow_backups WHERE workflow_id = ? ORDER BY created_at DESC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WorkflowBackup
	for rows.Next() {
		i, err := scanBackup(rows)
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
