// Package databasetest opens migrated SQLite databases for tests.
package databasetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/database"
	"github.com/newflowio/elova/internal/db"
)

// Open creates a fresh SQLite file under t.TempDir, applies migrations and
// closes the handle when the test ends.
func Open(t testing.TB) (*sql.DB, *db.Queries) {
	t.Helper()
	ctx := context.Background()
	cfg := config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "elova.db"),
		MaxOpenConns: 4,
	}
	conn, dialect, err := database.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := database.RunMigrations(ctx, conn, dialect, true); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return conn, db.New(conn, dialect)
}
