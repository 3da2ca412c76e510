package db

import (
	"context"
	"time"
)

const settingColumns = `key, value, value_type, category, description, is_sensitive, updated_at`

func scanSetting(row rowScanner) (Setting, error) {
	var i Setting
	err := row.Scan(&i.Key, &i.Value, &i.ValueType, &i.Category, &i.Description, &i.IsSensitive, scanTime(&i.UpdatedAt))
	return i, err
}

func (q *Queries) GetSetting(ctx context.Context, key string) (Setting, error) {
	row := q.queryRow(ctx, `SELECT `+settingColumns+` FROM settings WHERE key = ?`, key)
	return scanSetting(row)
}

type UpsertSettingParams struct {
	Key         string
	Value       string
	ValueType   string
	Category    string
	Description string
	IsSensitive bool
	UpdatedAt   time.Time
}

func (q *Queries) UpsertSetting(ctx context.Context, arg UpsertSettingParams) error {
	_, err := q.exec(ctx, `INSERT INTO settings (key, value, value_type, category, description, is_sensitive, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (key) DO UPDATE SET
    value = excluded.value,
    value_type = excluded.value_type,
    category = excluded.category,
    description = CASE WHEN excluded.description = '' THEN settings.description ELSE excluded.description END,
    is_sensitive = excluded.is_sensitive,
    updated_at = excluded.updated_at`,
		arg.Key, arg.Value, arg.ValueType, arg.Category, arg.Description, arg.IsSensitive, q.ts(arg.UpdatedAt),
	)
	return err
}

func (q *Queries) ListSettings(ctx context.Context, category string) ([]Setting, error) {
	query := `SELECT ` + settingColumns + ` FROM settings`
	var args []interface{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY key`
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Setting
	for rows.Next() {
		i, err := scanSetting(rows)
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

func (q *Queries) DeleteSetting(ctx context.Context, key string) error {
	_, err := q.exec(ctx, `DELETE FROM settings WHERE key = ?`, key)
	return err
}
