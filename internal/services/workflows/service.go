// Package workflows serves the stored workflow catalog, tracking flags and
// definition backups.
package workflows

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/storage/blob"
)

var (
	ErrNotFound        = errors.New("workflow not found")
	ErrBackupNotFound  = errors.New("backup not found")
	ErrBackupsDisabled = errors.New("workflow backups are not enabled")
	ErrInvalidTracking = errors.New("invalid tracking request")
)

// TrackingApplier replaces the tracked set of a provider.
type TrackingApplier interface {
	ApplyTracking(ctx context.Context, providerID string, remoteIDs []string) (int, error)
}

type ListParams struct {
	ProviderID  string
	TrackedOnly bool
}

// TrackingUpdate flips a single workflow.
type TrackingUpdate struct {
	WorkflowID string `json:"workflowId"`
	Tracked    bool   `json:"tracked"`
}

// TrackingRequest either replaces the tracked set (TrackedIDs, Replace) or
// applies individual updates.
type TrackingRequest struct {
	ProviderID string           `json:"providerId"`
	Replace    bool             `json:"replace"`
	TrackedIDs []string         `json:"trackedWorkflowIds"`
	Updates    []TrackingUpdate `json:"updates"`
}

type TrackingResult struct {
	Updated int               `json:"updated"`
	Counts  db.TrackingCounts `json:"counts"`
}

// Backup is a stored snapshot together with its definition.
type Backup struct {
	db.WorkflowBackup
	Definition json.RawMessage `json:"definition"`
}

type Service struct {
	queries  *db.Queries
	blobs    blob.Store
	tracking TrackingApplier
	now      func() time.Time
}

func NewService(queries *db.Queries, blobs blob.Store, tracking TrackingApplier) *Service {
	return &Service{queries: queries, blobs: blobs, tracking: tracking, now: time.Now}
}

// List returns stored workflows with aggregated execution stats.
func (s *Service) List(ctx context.Context, p ListParams) ([]db.WorkflowWithStats, error) {
	arg := db.ListWorkflowsWithStatsParams{TrackedOnly: p.TrackedOnly}
	if id := strings.TrimSpace(p.ProviderID); id != "" {
		arg.ProviderID = &id
	}
	items, err := s.queries.ListWorkflowsWithStats(ctx, arg)
	if err != nil {
		if db.IsMissingTable(err) {
			return []db.WorkflowWithStats{}, nil
		}
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	if items == nil {
		items = []db.WorkflowWithStats{}
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, id string) (db.Workflow, error) {
	wf, err := s.queries.GetWorkflow(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.Workflow{}, ErrNotFound
		}
		return db.Workflow{}, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

// SetTracking applies a tracking request and returns the provider's
// resulting counts. Untracked workflows keep their history but stop
// receiving new executions.
func (s *Service) SetTracking(ctx context.Context, req TrackingRequest) (TrackingResult, error) {
	providerID := strings.TrimSpace(req.ProviderID)
	if providerID == "" {
		return TrackingResult{}, fmt.Errorf("%w: providerId is required", ErrInvalidTracking)
	}
	if !req.Replace && len(req.Updates) == 0 {
		return TrackingResult{}, fmt.Errorf("%w: nothing to update", ErrInvalidTracking)
	}

	var res TrackingResult
	if req.Replace {
		n, err := s.tracking.ApplyTracking(ctx, providerID, req.TrackedIDs)
		if err != nil {
			return TrackingResult{}, err
		}
		res.Updated = n
	} else {
		now := s.now().UTC()
		for _, u := range req.Updates {
			id := strings.TrimSpace(u.WorkflowID)
			if id == "" {
				continue
			}
			n, err := s.queries.SetWorkflowTracked(ctx, providerID, id, u.Tracked, now)
			if err != nil {
				return TrackingResult{}, fmt.Errorf("track workflow %s: %w", id, err)
			}
			res.Updated += int(n)
		}
	}

	counts, err := s.queries.CountWorkflowTracking(ctx, providerID)
	if err != nil {
		return TrackingResult{}, fmt.Errorf("count tracking: %w", err)
	}
	res.Counts = counts
	return res, nil
}

// Backups lists the snapshots of a workflow, newest first.
func (s *Service) Backups(ctx context.Context, workflowID string) ([]db.WorkflowBackup, error) {
	if _, err := s.Get(ctx, workflowID); err != nil {
		return nil, err
	}
	items, err := s.queries.ListWorkflowBackups(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	if items == nil {
		items = []db.WorkflowBackup{}
	}
	return items, nil
}

// Backup loads a snapshot and its definition from blob storage.
func (s *Service) Backup(ctx context.Context, id string) (Backup, error) {
	row, err := s.queries.GetWorkflowBackup(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Backup{}, ErrBackupNotFound
		}
		return Backup{}, fmt.Errorf("get backup: %w", err)
	}
	if s.blobs == nil {
		return Backup{}, ErrBackupsDisabled
	}
	body, _, err := s.blobs.Get(ctx, row.StorageKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return Backup{}, ErrBackupNotFound
		}
		return Backup{}, fmt.Errorf("read backup %s: %w", row.StorageKey, err)
	}
	return Backup{WorkflowBackup: row, Definition: json.RawMessage(body)}, nil
}
