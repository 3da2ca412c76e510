package syncer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/storage/blob"
)

// SyncBackups snapshots the definition of every tracked workflow. A new
// snapshot is recorded only when the definition hash differs from the
// workflow's latest one, so reverting to an older version is recorded too.
func (s *Syncer) SyncBackups(ctx context.Context, providerID string, src Source) (int, error) {
	if s.blobs == nil {
		return 0, nil
	}
	ctx, span := s.tracer.Start(ctx, "syncer.backups")
	defer span.End()

	workflows, err := s.queries.ListTrackedWorkflows(ctx, providerID)
	if err != nil {
		return 0, fmt.Errorf("list tracked workflows: %w", err)
	}

	created, attempted := 0, 0
	var failures []error
	for _, wf := range workflows {
		if wf.IsArchived {
			continue
		}
		attempted++
		remote, raw, err := src.GetWorkflowDefinition(ctx, wf.ProviderWorkflowID)
		if err != nil {
			if ctx.Err() != nil {
				return created, ctx.Err()
			}
			failures = append(failures, fmt.Errorf("workflow %s: %w", wf.ProviderWorkflowID, err))
			continue
		}
		hash, body := definitionHash(raw)

		if latest, err := s.queries.GetLatestWorkflowBackup(ctx, wf.ID); err == nil && latest.VersionHash == hash {
			continue
		} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return created, fmt.Errorf("lookup backup: %w", err)
		}

		key := blob.SnapshotKey(providerID, wf.ProviderWorkflowID, hash)
		info, err := s.blobs.Put(ctx, key, body, blob.PutOptions{
			ContentType: "application/json",
			Metadata: map[string]string{
				"provider-id": providerID,
				"workflow-id": wf.ProviderWorkflowID,
			},
		})
		if err != nil {
			return created, fmt.Errorf("store snapshot %s: %w", key, err)
		}

		remoteUpdated := remote.UpdatedAt
		if remoteUpdated == nil {
			remoteUpdated = wf.RemoteUpdatedAt
		}
		if _, err := s.queries.CreateWorkflowBackup(ctx, db.CreateWorkflowBackupParams{
			ID:              uuid.NewString(),
			WorkflowID:      wf.ID,
			ProviderID:      providerID,
			VersionHash:     hash,
			StorageKey:      key,
			SizeBytes:       info.Size,
			RemoteUpdatedAt: remoteUpdated,
			CreatedAt:       s.now().UTC(),
		}); err != nil {
			return created, fmt.Errorf("record backup: %w", err)
		}
		created++
	}

	if len(failures) > 0 && len(failures) == attempted {
		return created, errors.Join(failures...)
	}
	for _, f := range failures {
		s.logger.WarnContext(ctx, "workflow backup skipped", slog.String("provider_id", providerID), slog.String("error", f.Error()))
	}

	if err := s.queries.TouchBackupSync(ctx, providerID, s.now().UTC()); err != nil {
		return created, fmt.Errorf("record backup sync: %w", err)
	}
	return created, nil
}

// definitionHash compacts the definition so whitespace changes do not
// create new versions.
func definitionHash(raw json.RawMessage) (string, []byte) {
	body := []byte(raw)
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		body = buf.Bytes()
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), body
}
