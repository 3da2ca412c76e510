// Package syncstatus persists the progress of long running syncs in the
// settings table so any process can report it.
package syncstatus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/newflowio/elova/internal/db"
)

type State string

const (
	StateIdle       State = "idle"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

const (
	ScopeInitial   = "initial"
	ScopeScheduled = "scheduled"
)

type Status struct {
	Scope       string     `json:"scope"`
	State       State      `json:"status"`
	Progress    int        `json:"progress"`
	Step        string     `json:"step,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type Tracker struct {
	queries *db.Queries
	scope   string
	now     func() time.Time
}

func NewTracker(queries *db.Queries, scope string) *Tracker {
	return &Tracker{queries: queries, scope: scope, now: time.Now}
}

func (t *Tracker) key(field string) string {
	return "sync." + t.scope + "." + field
}

func (t *Tracker) set(ctx context.Context, field, value, valueType string) error {
	return t.queries.UpsertSetting(ctx, db.UpsertSettingParams{
		Key:       t.key(field),
		Value:     value,
		ValueType: valueType,
		Category:  "sync",
		UpdatedAt: t.now().UTC(),
	})
}

func (t *Tracker) setAll(ctx context.Context, fields [][3]string) error {
	for _, f := range fields {
		if err := t.set(ctx, f[0], f[1], f[2]); err != nil {
			return fmt.Errorf("sync status %s: %w", t.key(f[0]), err)
		}
	}
	return nil
}

// Start marks the scope in progress at 0% and clears the previous outcome.
func (t *Tracker) Start(ctx context.Context, step string) error {
	now := t.now().UTC().Format(time.RFC3339Nano)
	return t.setAll(ctx, [][3]string{
		{"status", string(StateInProgress), "string"},
		{"progress", "0", "number"},
		{"step", step, "string"},
		{"started_at", now, "string"},
		{"completed_at", "", "string"},
		{"error", "", "string"},
	})
}

// Step records progress, clamped to 0..100.
func (t *Tracker) Step(ctx context.Context, progress int, step string) error {
	if progress < 0 {
		progress = 0
	} else if progress > 100 {
		progress = 100
	}
	return t.setAll(ctx, [][3]string{
		{"progress", strconv.Itoa(progress), "number"},
		{"step", step, "string"},
	})
}

func (t *Tracker) Complete(ctx context.Context) error {
	return t.setAll(ctx, [][3]string{
		{"status", string(StateCompleted), "string"},
		{"progress", "100", "number"},
		{"step", "Completed", "string"},
		{"completed_at", t.now().UTC().Format(time.RFC3339Nano), "string"},
		{"error", "", "string"},
	})
}

func (t *Tracker) Fail(ctx context.Context, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return t.setAll(ctx, [][3]string{
		{"status", string(StateFailed), "string"},
		{"error", msg, "string"},
		{"completed_at", t.now().UTC().Format(time.RFC3339Nano), "string"},
	})
}

// Get reads the stored status. Missing or unrecognized states read as idle.
func (t *Tracker) Get(ctx context.Context) (Status, error) {
	st := Status{Scope: t.scope, State: StateIdle}
	rows, err := t.queries.ListSettings(ctx, "sync")
	if err != nil {
		if db.IsMissingTable(err) || errors.Is(err, sql.ErrNoRows) {
			return st, nil
		}
		return st, err
	}
	prefix := "sync." + t.scope + "."
	for _, row := range rows {
		if !strings.HasPrefix(row.Key, prefix) {
			continue
		}
		switch strings.TrimPrefix(row.Key, prefix) {
		case "status":
			switch State(row.Value) {
			case StateInProgress, StateCompleted, StateFailed:
				st.State = State(row.Value)
			}
		case "progress":
			if n, err := strconv.Atoi(row.Value); err == nil {
				st.Progress = n
			}
		case "step":
			st.Step = row.Value
		case "started_at":
			st.StartedAt = parseTime(row.Value)
		case "completed_at":
			st.CompletedAt = parseTime(row.Value)
		case "error":
			st.Error = row.Value
		}
	}
	return st, nil
}

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &ts
}
