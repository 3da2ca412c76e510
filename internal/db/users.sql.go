package db

import (
	"context"
	"time"
)

const userColumns = `id, email, name, password_hash, role, last_login_at, created_at, updated_at`

func scanUser(row rowScanner) (User, error) {
	var i User
	err := row.Scan(&i.ID, &i.Email, &i.Name, &i.PasswordHash, &i.Role, scanNullTime(&i.LastLoginAt), scanTime(&i.CreatedAt), scanTime(&i.UpdatedAt))
	return i, err
}

type CreateUserParams struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.queryRow(ctx, `INSERT INTO users (id, email, name, password_hash, role, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING `+userColumns,
		arg.ID, arg.Email, arg.Name, arg.PasswordHash, arg.Role, q.ts(arg.CreatedAt), q.ts(arg.CreatedAt),
	)
	return scanUser(row)
}

func (q *Queries) GetUser(ctx context.Context, id string) (User, error) {
	return scanUser(q.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER(?)`, email))
}

func (q *Queries) GetFirstAdmin(ctx context.Context) (User, error) {
	return scanUser(q.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE role = 'admin' ORDER BY created_at LIMIT 1`))
}

func (q *Queries) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (q *Queries) UpdateUserPassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	_, err := q.exec(ctx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`, passwordHash, q.ts(at), id)
	return err
}

func (q *Queries) TouchUserLogin(ctx context.Context, id string, at time.Time) error {
	_, err := q.exec(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, q.ts(at), id)
	return err
}
