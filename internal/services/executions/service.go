// Package executions serves the grouped execution log.
package executions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/timeutil"
)

const (
	DefaultLimit = 2000
	MaxLimit     = 5000
)

const missingSchemaWarning = "Database schema not initialized yet. Run initial sync to populate data."

var ErrInvalidTimeRange = timeutil.ErrInvalidTimeRange

// Query carries the listing parameters as received from the API.
type Query struct {
	ProviderID  string
	WorkflowID  string
	Statuses    []string
	TimeRange   string
	CustomStart string
	CustomEnd   string
	Search      string
	Limit       int
	Page        int
}

type Item struct {
	db.ExecutionListRow
	Metadata json.RawMessage `json:"metadata"`
}

type Page struct {
	Items      []Item `json:"items"`
	Total      int64  `json:"total"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	TotalPages int    `json:"totalPages"`
	Warning    string `json:"warning,omitempty"`
}

type Service struct {
	queries *db.Queries
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(queries *db.Queries, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{queries: queries, logger: logger, now: time.Now}
}

// Normalize clamps paging: a limit below one resets to the default, above
// the maximum it is capped, and pages start at one.
func (q Query) Normalize() Query {
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	} else if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Page < 1 {
		q.Page = 1
	}
	return q
}

// List returns one page of execution groups. Pagination and total count
// groups, so a page can hold more rows than limit.
func (s *Service) List(ctx context.Context, q Query) (Page, error) {
	q = q.Normalize()
	filter, err := s.filter(q)
	if err != nil {
		return Page{}, err
	}
	page := Page{Items: []Item{}, Page: q.Page, Limit: q.Limit}

	total, err := s.queries.CountExecutionGroups(ctx, filter)
	if err != nil {
		if db.IsMissingTable(err) {
			page.Warning = missingSchemaWarning
			return page, nil
		}
		return Page{}, fmt.Errorf("count executions: %w", err)
	}
	rows, err := s.queries.ListExecutionGroups(ctx, filter, q.Limit, (q.Page-1)*q.Limit)
	if err != nil {
		return Page{}, fmt.Errorf("list executions: %w", err)
	}

	page.Total = total
	page.TotalPages = int((total + int64(q.Limit) - 1) / int64(q.Limit))
	for _, row := range rows {
		meta := json.RawMessage(row.Metadata)
		if !json.Valid(meta) {
			meta = json.RawMessage("{}")
		}
		page.Items = append(page.Items, Item{ExecutionListRow: row, Metadata: meta})
	}
	if total == 0 {
		s.logger.DebugContext(ctx, "no executions stored for query", slog.String("time_range", q.TimeRange))
	}
	return page, nil
}

func (s *Service) filter(q Query) (db.ExecutionFilter, error) {
	bounds, err := timeutil.ResolveFilter(q.TimeRange, q.CustomStart, q.CustomEnd, s.now())
	if err != nil {
		return db.ExecutionFilter{}, err
	}
	f := db.ExecutionFilter{
		StartedAfter:  bounds.Start,
		StartedBefore: bounds.End,
		Search:        q.Search,
		Statuses:      ParseStatuses(q.Statuses),
	}
	if id := strings.TrimSpace(q.ProviderID); id != "" {
		f.ProviderID = &id
	}
	if id := strings.TrimSpace(q.WorkflowID); id != "" {
		f.WorkflowID = &id
	}
	return f, nil
}

// ParseStatuses flattens comma separated status values.
func ParseStatuses(values []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "cancelled" {
				part = string(db.ExecutionStatusCanceled)
			}
			if part == "" || seen[part] {
				continue
			}
			seen[part] = true
			out = append(out, part)
		}
	}
	return out
}
