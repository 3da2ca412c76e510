// Package settings stores typed runtime settings in the settings table.
// Sensitive and encrypted values are sealed before they reach the database.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/secretbox"
)

const (
	TypeString    = "string"
	TypeNumber    = "number"
	TypeBoolean   = "boolean"
	TypeEncrypted = "encrypted"
	TypeJSON      = "json"
)

const redacted = "********"

var (
	ErrNotFound     = errors.New("setting not found")
	ErrInvalidValue = errors.New("invalid setting value")
)

// Entry is a setting as exposed to API callers.
type Entry struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Type        string    `json:"type"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	Sensitive   bool      `json:"sensitive"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type UpsertParams struct {
	Key         string
	Value       string
	Type        string
	Category    string
	Description string
	Sensitive   bool
}

type Service struct {
	queries *db.Queries
	box     *secretbox.Box
	now     func() time.Time
}

// NewService returns a settings store. box may be nil, in which case
// sensitive values are rejected.
func NewService(queries *db.Queries, box *secretbox.Box) *Service {
	return &Service{queries: queries, box: box, now: time.Now}
}

// Get returns the plaintext value of key.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	row, err := s.queries.GetSetting(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	if !secretbox.IsSealed(row.Value) {
		return row.Value, nil
	}
	if s.box == nil {
		return "", fmt.Errorf("setting %s is encrypted but no secret key is configured", key)
	}
	plain, err := s.box.OpenString(row.Value)
	if err != nil {
		return "", fmt.Errorf("decrypt setting %s: %w", key, err)
	}
	return plain, nil
}

func (s *Service) GetString(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// GetInt parses numeric settings. Stored decimals are truncated.
func (s *Service) GetInt(ctx context.Context, key string, def int) int {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return int(f)
	}
	return def
}

func (s *Service) GetBool(ctx context.Context, key string, def bool) bool {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	b, ok := parseBool(v)
	if !ok {
		return def
	}
	return b
}

// GetJSON decodes a json setting into dst.
func (s *Service) GetJSON(ctx context.Context, key string, dst interface{}) error {
	v, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(v), dst); err != nil {
		return fmt.Errorf("decode setting %s: %w", key, err)
	}
	return nil
}

// Upsert validates the value against its type and writes it.
func (s *Service) Upsert(ctx context.Context, p UpsertParams) error {
	key := strings.TrimSpace(p.Key)
	if key == "" {
		return fmt.Errorf("%w: key required", ErrInvalidValue)
	}
	typ := strings.ToLower(strings.TrimSpace(p.Type))
	if typ == "" {
		typ = TypeString
	}
	value, err := normalize(typ, p.Value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
	}
	category := strings.TrimSpace(p.Category)
	if category == "" {
		category = "general"
	}

	sensitive := p.Sensitive || typ == TypeEncrypted
	if sensitive && value != "" {
		if s.box == nil {
			return fmt.Errorf("setting %s requires a secret key", key)
		}
		value, err = s.box.SealString(value)
		if err != nil {
			return fmt.Errorf("encrypt setting %s: %w", key, err)
		}
	}

	if err := s.queries.UpsertSetting(ctx, db.UpsertSettingParams{
		Key:         key,
		Value:       value,
		ValueType:   typ,
		Category:    category,
		Description: p.Description,
		IsSensitive: sensitive,
		UpdatedAt:   s.now().UTC(),
	}); err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals v and stores it as a json setting.
func (s *Service) SetJSON(ctx context.Context, key, category, description string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	return s.Upsert(ctx, UpsertParams{Key: key, Value: string(raw), Type: TypeJSON, Category: category, Description: description})
}

func (s *Service) Delete(ctx context.Context, key string) error {
	return s.queries.DeleteSetting(ctx, key)
}

// List returns settings in category (all when empty) with sensitive values
// redacted.
func (s *Service) List(ctx context.Context, category string) ([]Entry, error) {
	rows, err := s.queries.ListSettings(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		value := row.Value
		if row.IsSensitive && value != "" {
			value = redacted
		}
		out = append(out, Entry{
			Key:         row.Key,
			Value:       value,
			Type:        row.ValueType,
			Category:    row.Category,
			Description: row.Description,
			Sensitive:   row.IsSensitive,
			UpdatedAt:   row.UpdatedAt,
		})
	}
	return out, nil
}

func normalize(typ, value string) (string, error) {
	switch typ {
	case TypeString, TypeEncrypted:
		return value, nil
	case TypeNumber:
		v := strings.TrimSpace(value)
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return "", fmt.Errorf("not a number: %q", value)
		}
		return v, nil
	case TypeBoolean:
		b, ok := parseBool(value)
		if !ok {
			return "", fmt.Errorf("not a boolean: %q", value)
		}
		return strconv.FormatBool(b), nil
	case TypeJSON:
		if !json.Valid([]byte(value)) {
			return "", fmt.Errorf("not valid json")
		}
		return value, nil
	default:
		return "", fmt.Errorf("unknown type %q", typ)
	}
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off", "":
		return false, true
	}
	return false, false
}
