package db

import (
	"context"
	"time"
)

const providerColumns = `id, user_id, name, base_url, api_key_encrypted, is_connected, status, version, last_error, last_checked_at, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProvider(row rowScanner) (Provider, error) {
	var i Provider
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.Name,
		&i.BaseURL,
		&i.APIKeyEncrypted,
		&i.IsConnected,
		&i.Status,
		&i.Version,
		&i.LastError,
		scanNullTime(&i.LastCheckedAt),
		&i.Metadata,
		scanTime(&i.CreatedAt),
		scanTime(&i.UpdatedAt),
	)
	return i, err
}

type CreateProviderParams struct {
	ID              string
	UserID          *string
	Name            string
	BaseURL         string
	APIKeyEncrypted string
	Metadata        string
	CreatedAt       time.Time
}

func (q *Queries) CreateProvider(ctx context.Context, arg CreateProviderParams) (Provider, error) {
	metadata := arg.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	row := q.queryRow(ctx, `INSERT INTO providers (id, user_id, name, base_url, api_key_encrypted, is_connected, status, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, 'unknown', ?, ?, ?)
RETURNING `+providerColumns,
		arg.ID, nullString(arg.UserID), arg.Name, arg.BaseURL, arg.APIKeyEncrypted, false, metadata, q.ts(arg.CreatedAt), q.ts(arg.CreatedAt),
	)
	return scanProvider(row)
}

func (q *Queries) GetProvider(ctx context.Context, id string) (Provider, error) {
	row := q.queryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = ?`, id)
	return scanProvider(row)
}

func (q *Queries) GetProviderByName(ctx context.Context, name string) (Provider, error) {
	row := q.queryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE name = ? ORDER BY created_at LIMIT 1`, name)
	return scanProvider(row)
}

func (q *Queries) ListProviders(ctx context.Context) ([]Provider, error) {
	return q.listProviders(ctx, `SELECT `+providerColumns+` FROM providers ORDER BY created_at, name`)
}

func (q *Queries) ListConnectedProviders(ctx context.Context) ([]Provider, error) {
	return q.listProviders(ctx, `SELECT `+providerColumns+` FROM providers WHERE is_connected = ? ORDER BY created_at, name`, true)
}

func (q *Queries) listProviders(ctx context.Context, query string, args ...interface{}) ([]Provider, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Provider
	for rows.Next() {
		i, err := scanProvider(rows)
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

type UpdateProviderParams struct {
	ID              string
	Name            string
	BaseURL         string
	APIKeyEncrypted string
	UpdatedAt       time.Time
}

func (q *Queries) UpdateProvider(ctx context.Context, arg UpdateProviderParams) (Provider, error) {
	row := q.queryRow(ctx, `UPDATE providers
SET name = ?, base_url = ?, api_key_encrypted = ?, updated_at = ?
WHERE id = ?
RETURNING `+providerColumns,
		arg.Name, arg.BaseURL, arg.APIKeyEncrypted, q.ts(arg.UpdatedAt), arg.ID,
	)
	return scanProvider(row)
}

type UpdateProviderConnectionParams struct {
	ID          string
	IsConnected bool
	Status      string
	Version     *string
	LastError   *string
	CheckedAt   time.Time
}

func (q *Queries) UpdateProviderConnection(ctx context.Context, arg UpdateProviderConnectionParams) error {
	_, err := q.exec(ctx, `UPDATE providers
SET is_connected = ?, status = ?, version = COALESCE(?, version), last_error = ?, last_checked_at = ?, updated_at = ?
WHERE id = ?`,
		arg.IsConnected, arg.Status, nullString(arg.Version), nullString(arg.LastError), q.ts(arg.CheckedAt), q.ts(arg.CheckedAt), arg.ID,
	)
	return err
}

func (q *Queries) DeleteProvider(ctx context.Context, id string) (int64, error) {
	res, err := q.exec(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
