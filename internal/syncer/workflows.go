package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/n8n"
)

// SyncWorkflows upserts every remote workflow of the provider. Workflows
// seen for the first time start out tracked. When the listing was read in
// full, rows the remote no longer returns are flagged archived.
func (s *Syncer) SyncWorkflows(ctx context.Context, providerID string, src Source) (int, error) {
	ctx, span := s.tracer.Start(ctx, "syncer.workflows")
	defer span.End()

	syncedAt := s.now().UTC().Truncate(time.Millisecond)
	remote, err := src.ListAllWorkflows(ctx, s.cfg.PageSize, s.cfg.MaxPages)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, wf := range remote {
		_, created, err := s.queries.UpsertWorkflow(ctx, workflowParams(providerID, wf, syncedAt))
		if err != nil {
			return 0, fmt.Errorf("upsert workflow %s: %w", wf.ID, err)
		}
		if created {
			inserted++
		}
	}

	complete := s.cfg.MaxPages <= 0 || len(remote) < s.cfg.PageSize*s.cfg.MaxPages
	if complete {
		archived, err := s.queries.ArchiveUnseenWorkflows(ctx, providerID, syncedAt)
		if err != nil {
			return 0, fmt.Errorf("archive workflows: %w", err)
		}
		if archived > 0 {
			s.logger.InfoContext(ctx, "archived workflows missing upstream", slog.String("provider_id", providerID), slog.Int64("count", archived))
		}
	}

	if err := s.queries.TouchWorkflowSync(ctx, providerID, syncedAt); err != nil {
		return 0, fmt.Errorf("record workflow sync: %w", err)
	}
	s.logger.DebugContext(ctx, "workflows synced",
		slog.String("provider_id", providerID),
		slog.Int("total", len(remote)),
		slog.Int("new", inserted),
	)
	return len(remote), nil
}

func workflowParams(providerID string, wf n8n.Workflow, syncedAt time.Time) db.UpsertWorkflowParams {
	tags := []string(wf.Tags)
	if tags == nil {
		tags = []string{}
	}
	encoded, _ := json.Marshal(tags)
	return db.UpsertWorkflowParams{
		ID:                 uuid.NewString(),
		ProviderID:         providerID,
		ProviderWorkflowID: wf.ID.String(),
		Name:               wf.Name,
		IsActive:           wf.Active,
		IsArchived:         wf.IsArchived,
		IsTracked:          true,
		Tags:               string(encoded),
		NodeCount:          int64(len(wf.Nodes)),
		RemoteCreatedAt:    wf.CreatedAt,
		RemoteUpdatedAt:    wf.UpdatedAt,
		SyncedAt:           syncedAt,
	}
}

// placeholderWorkflow stands in for a workflow that executions reference
// but the workflow listing has not returned yet.
func placeholderWorkflow(providerID, remoteID string, syncedAt time.Time) db.UpsertWorkflowParams {
	return db.UpsertWorkflowParams{
		ID:                 uuid.NewString(),
		ProviderID:         providerID,
		ProviderWorkflowID: remoteID,
		Name:               "Workflow " + remoteID,
		IsTracked:          true,
		Tags:               "[]",
		SyncedAt:           syncedAt,
	}
}
