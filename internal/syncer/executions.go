package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/newflowio/elova/internal/aimetrics"
	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/n8n"
	"github.com/newflowio/elova/internal/pricing"
)

type executionWriter struct {
	providerID string
	refs       map[string]db.WorkflowRef
	table      pricing.Table
	fallback   pricing.Price
	syncedAt   time.Time
}

// SyncExecutions walks executions newest first until it meets the stored
// cursor, the page cap or the end of the listing. A walk cut short by the
// page cap saves its position and the next run resumes there; the cursor
// only moves once the gap down to it has been mirrored. Executions that
// were still running last time are fetched again individually.
func (s *Syncer) SyncExecutions(ctx context.Context, providerID string, src Source) (int, error) {
	ctx, span := s.tracer.Start(ctx, "syncer.executions")
	defer span.End()

	state, err := s.queries.GetSyncState(ctx, providerID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("load sync state: %w", err)
	}
	refs, err := s.queries.ListWorkflowRefs(ctx, providerID)
	if err != nil {
		return 0, fmt.Errorf("load workflows: %w", err)
	}
	w := &executionWriter{
		providerID: providerID,
		refs:       refs,
		syncedAt:   s.now().UTC(),
	}
	w.table, w.fallback = s.priceTable(ctx)

	var (
		written  int
		skipped  int
		newestID *string
		newestTS *time.Time
		seen     = make(map[string]struct{})
	)
	params := n8n.ListExecutionsParams{IncludeData: s.cfg.IncludeData, Limit: s.cfg.PageSize}
	if state.ResumeCursor != nil {
		// Finish the backlog first; the newest execution of the interrupted
		// walk becomes the cursor once it is done.
		params.Cursor = *state.ResumeCursor
		newestID, newestTS = state.PendingExecutionID, state.PendingStartedAt
	}
	walk, err := src.WalkExecutions(ctx, params, s.cfg.MaxPages, func(page []n8n.Execution) (bool, error) {
		for _, ex := range page {
			if reachedCursor(state, ex) {
				return false, nil
			}
			id := ex.ID.String()
			if newestID == nil {
				newestID = &id
				if !ex.StartedAt.IsZero() {
					started := ex.StartedAt.UTC()
					newestTS = &started
				}
			}
			seen[id] = struct{}{}
			ok, err := s.writeExecution(ctx, w, ex)
			if err != nil {
				return false, err
			}
			if ok {
				written++
			} else {
				skipped++
			}
		}
		return true, nil
	})
	if err != nil {
		if state.ResumeCursor != nil && n8n.IsStatus(err, http.StatusBadRequest) {
			// n8n no longer accepts the saved position, so the next run
			// starts again from the newest page.
			s.logger.WarnContext(ctx, "discarding saved execution position", slog.String("provider_id", providerID), slog.String("error", err.Error()))
			if cerr := s.queries.SetExecutionCursor(ctx, db.SetExecutionCursorParams{ProviderID: providerID, SyncedAt: w.syncedAt}); cerr != nil {
				return written, errors.Join(err, fmt.Errorf("reset execution position: %w", cerr))
			}
		}
		// The cursor stays put so the next run retries the gap.
		return written, err
	}

	refreshed, err := s.refreshUnfinished(ctx, w, src, seen)
	written += refreshed
	if err != nil {
		return written, err
	}

	cursor := db.SetExecutionCursorParams{ProviderID: providerID, SyncedAt: w.syncedAt}
	if walk.Truncated() {
		next := walk.Next
		cursor.ResumeCursor = &next
		cursor.PendingExecutionID = newestID
		cursor.PendingStartedAt = newestTS
		s.logger.InfoContext(ctx, "execution backlog exceeds page cap, resuming next run",
			slog.String("provider_id", providerID),
			slog.Int("pages", walk.Pages),
		)
	} else {
		cursor.LastExecutionID = newestID
		cursor.LastStartedAt = newestTS
	}
	if err := s.queries.SetExecutionCursor(ctx, cursor); err != nil {
		return written, fmt.Errorf("store execution cursor: %w", err)
	}
	s.logger.DebugContext(ctx, "executions synced",
		slog.String("provider_id", providerID),
		slog.Int("pages", walk.Pages),
		slog.Int("written", written),
		slog.Int("untracked", skipped),
		slog.Int("refreshed", refreshed),
	)
	return written, nil
}

func reachedCursor(state db.SyncState, ex n8n.Execution) bool {
	if state.LastExecutionID != nil && ex.ID.String() == *state.LastExecutionID {
		return true
	}
	if state.LastStartedAt != nil && !ex.StartedAt.IsZero() && ex.StartedAt.Before(*state.LastStartedAt) {
		return true
	}
	return false
}

func (s *Syncer) refreshUnfinished(ctx context.Context, w *executionWriter, src Source, seen map[string]struct{}) (int, error) {
	ids, err := s.queries.ListUnfinishedExecutionIDs(ctx, w.providerID, w.syncedAt.Add(-s.cfg.UnfinishedWindow))
	if err != nil {
		return 0, fmt.Errorf("list unfinished executions: %w", err)
	}
	refreshed := 0
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		ex, err := src.GetExecution(ctx, id, s.cfg.IncludeData)
		if err != nil {
			if n8n.IsStatus(err, http.StatusNotFound) {
				s.logger.DebugContext(ctx, "unfinished execution gone upstream", slog.String("provider_id", w.providerID), slog.String("execution_id", id))
				continue
			}
			return refreshed, fmt.Errorf("refresh execution %s: %w", id, err)
		}
		ok, err := s.writeExecution(ctx, w, ex)
		if err != nil {
			return refreshed, err
		}
		if ok {
			refreshed++
		}
	}
	return refreshed, nil
}

// writeExecution stores one execution and reports whether it was written;
// executions of untracked workflows are skipped.
func (s *Syncer) writeExecution(ctx context.Context, w *executionWriter, ex n8n.Execution) (bool, error) {
	remoteWorkflowID := ex.WorkflowID.String()
	var workflowID *string
	if remoteWorkflowID != "" {
		ref, ok := w.refs[remoteWorkflowID]
		if !ok {
			wf, _, err := s.queries.UpsertWorkflow(ctx, placeholderWorkflow(w.providerID, remoteWorkflowID, w.syncedAt))
			if err != nil {
				return false, fmt.Errorf("create placeholder workflow %s: %w", remoteWorkflowID, err)
			}
			ref = db.WorkflowRef{ID: wf.ID, IsTracked: wf.IsTracked}
			w.refs[remoteWorkflowID] = ref
		}
		if !ref.IsTracked {
			return false, nil
		}
		workflowID = &ref.ID
	}

	usage := aimetrics.Extract(ex.Data, ex.WorkflowData)
	cost := decimal.Zero
	if !usage.Empty() {
		cost = usage.Cost(w.table, w.fallback)
	}

	startedAt := ex.StartedAt.UTC()
	if ex.StartedAt.IsZero() {
		startedAt = w.syncedAt
	}
	var stoppedAt *time.Time
	if ex.StoppedAt != nil {
		t := ex.StoppedAt.UTC()
		stoppedAt = &t
	}

	inserted, err := s.queries.UpsertExecution(ctx, db.UpsertExecutionParams{
		ID:                  uuid.NewString(),
		ProviderID:          w.providerID,
		WorkflowID:          workflowID,
		ProviderExecutionID: ex.ID.String(),
		ProviderWorkflowID:  remoteWorkflowID,
		Status:              db.ExecutionStatus(ex.NormalizedStatus()),
		Mode:                ex.Mode,
		StartedAt:           startedAt,
		StoppedAt:           stoppedAt,
		Duration:            ex.DurationMillis(),
		Finished:            ex.Finished,
		RetryOf:             optionalID(ex.RetryOf),
		RetrySuccessID:      optionalID(ex.RetrySuccessID),
		Metadata:            executionMetadata(ex, usage),
		TotalTokens:         usage.TotalTokens,
		InputTokens:         usage.InputTokens,
		OutputTokens:        usage.OutputTokens,
		AICost:              cost,
		AIProvider:          optionalString(usage.Provider),
		AIModel:             optionalString(usage.Model),
		SyncedAt:            w.syncedAt,
	})
	if err != nil {
		return false, fmt.Errorf("upsert execution %s: %w", ex.ID, err)
	}
	if inserted {
		for _, m := range usage.ByModel {
			s.metrics.RecordTokens(w.providerID, m.Model, m.InputTokens, m.OutputTokens)
		}
	}
	return true, nil
}

func (s *Syncer) priceTable(ctx context.Context) (pricing.Table, pricing.Price) {
	if s.pricing == nil {
		return pricing.Default(), pricing.FallbackPrice
	}
	table, err := s.pricing.Table(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "load pricing table, using defaults", slog.String("error", err.Error()))
		table = pricing.Default()
	}
	return table, s.pricing.Fallback()
}

type executionMeta struct {
	WaitTill   *time.Time             `json:"waitTill,omitempty"`
	CustomData json.RawMessage        `json:"customData,omitempty"`
	AICalls    int                    `json:"aiCalls,omitempty"`
	AIUsage    []aimetrics.ModelUsage `json:"aiUsage,omitempty"`
}

func executionMetadata(ex n8n.Execution, usage aimetrics.Usage) string {
	meta := executionMeta{
		WaitTill: ex.WaitTill,
		AICalls:  usage.Calls,
		AIUsage:  usage.ByModel,
	}
	if len(ex.CustomData) > 0 && json.Valid(ex.CustomData) && string(ex.CustomData) != "null" {
		meta.CustomData = ex.CustomData
	}
	out, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(out)
}

func optionalID(id n8n.ID) *string {
	return optionalString(id.String())
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
