package db

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExecutionStatus string

const (
	ExecutionStatusSuccess  ExecutionStatus = "success"
	ExecutionStatusError    ExecutionStatus = "error"
	ExecutionStatusCrashed  ExecutionStatus = "crashed"
	ExecutionStatusCanceled ExecutionStatus = "canceled"
	ExecutionStatusRunning  ExecutionStatus = "running"
	ExecutionStatusWaiting  ExecutionStatus = "waiting"
	ExecutionStatusNew      ExecutionStatus = "new"
	ExecutionStatusUnknown  ExecutionStatus = "unknown"
)

// Terminal reports whether the execution can no longer change remotely.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusRunning, ExecutionStatusWaiting, ExecutionStatusNew:
		return false
	default:
		return true
	}
}

type SyncRunStatus string

const (
	SyncRunStatusRunning   SyncRunStatus = "running"
	SyncRunStatusCompleted SyncRunStatus = "completed"
	SyncRunStatusFailed    SyncRunStatus = "failed"
	SyncRunStatusSkipped   SyncRunStatus = "skipped"
)

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Provider struct {
	ID              string     `json:"id"`
	UserID          *string    `json:"user_id,omitempty"`
	Name            string     `json:"name"`
	BaseURL         string     `json:"base_url"`
	APIKeyEncrypted string     `json:"-"`
	IsConnected     bool       `json:"is_connected"`
	Status          string     `json:"status"`
	Version         *string    `json:"version,omitempty"`
	LastError       *string    `json:"last_error,omitempty"`
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty"`
	Metadata        string     `json:"metadata"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Workflow struct {
	ID                 string     `json:"id"`
	ProviderID         string     `json:"provider_id"`
	ProviderWorkflowID string     `json:"provider_workflow_id"`
	Name               string     `json:"name"`
	IsActive           bool       `json:"is_active"`
	IsArchived         bool       `json:"is_archived"`
	IsTracked          bool       `json:"is_tracked"`
	Tags               string     `json:"tags"`
	NodeCount          int64      `json:"node_count"`
	RemoteCreatedAt    *time.Time `json:"remote_created_at,omitempty"`
	RemoteUpdatedAt    *time.Time `json:"remote_updated_at,omitempty"`
	LastSyncedAt       time.Time  `json:"last_synced_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type Execution struct {
	ID                  string          `json:"id"`
	ProviderID          string          `json:"provider_id"`
	WorkflowID          *string         `json:"workflow_id,omitempty"`
	ProviderExecutionID string          `json:"provider_execution_id"`
	ProviderWorkflowID  string          `json:"provider_workflow_id"`
	Status              ExecutionStatus `json:"status"`
	Mode                string          `json:"mode"`
	StartedAt           time.Time       `json:"started_at"`
	StoppedAt           *time.Time      `json:"stopped_at,omitempty"`
	Duration            *int64          `json:"duration,omitempty"`
	Finished            bool            `json:"finished"`
	RetryOf             *string         `json:"retry_of,omitempty"`
	RetrySuccessID      *string         `json:"retry_success_id,omitempty"`
	Metadata            string          `json:"metadata"`
	TotalTokens         int64           `json:"total_tokens"`
	InputTokens         int64           `json:"input_tokens"`
	OutputTokens        int64           `json:"output_tokens"`
	AICost              decimal.Decimal `json:"ai_cost"`
	AIProvider          *string         `json:"ai_provider,omitempty"`
	AIModel             *string         `json:"ai_model,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type Setting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	ValueType   string    `json:"value_type"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	IsSensitive bool      `json:"is_sensitive"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SyncState struct {
	ProviderID          string     `json:"provider_id"`
	LastExecutionID     *string    `json:"last_execution_id,omitempty"`
	LastStartedAt       *time.Time `json:"last_started_at,omitempty"`
	ResumeCursor        *string    `json:"resume_cursor,omitempty"`
	PendingExecutionID  *string    `json:"pending_execution_id,omitempty"`
	PendingStartedAt    *time.Time `json:"pending_started_at,omitempty"`
	LastWorkflowSyncAt  *time.Time `json:"last_workflow_sync_at,omitempty"`
	LastExecutionSyncAt *time.Time `json:"last_execution_sync_at,omitempty"`
	LastBackupSyncAt    *time.Time `json:"last_backup_sync_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type SyncRun struct {
	ID               string        `json:"id"`
	ProviderID       *string       `json:"provider_id,omitempty"`
	SyncType         string        `json:"sync_type"`
	TriggerSource    string        `json:"trigger"`
	Status           SyncRunStatus `json:"status"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       *time.Time    `json:"finished_at,omitempty"`
	WorkflowsSynced  int64         `json:"workflows_synced"`
	ExecutionsSynced int64         `json:"executions_synced"`
	BackupsCreated   int64         `json:"backups_created"`
	Error            *string       `json:"error,omitempty"`
}

type PricingModel struct {
	Model       string          `json:"model"`
	InputPer1K  decimal.Decimal `json:"input_per_1k"`
	OutputPer1K decimal.Decimal `json:"output_per_1k"`
	Source      string          `json:"source"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type WorkflowBackup struct {
	ID              string     `json:"id"`
	WorkflowID      string     `json:"workflow_id"`
	ProviderID      string     `json:"provider_id"`
	VersionHash     string     `json:"version_hash"`
	StorageKey      string     `json:"storage_key"`
	SizeBytes       int64      `json:"size_bytes"`
	RemoteUpdatedAt *time.Time `json:"remote_updated_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
