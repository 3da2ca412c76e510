package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/db"
)

func TestOpenAndMigrateSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "nested", "elova.db"),
	}
	conn, dialect, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if dialect != db.DialectSQLite {
		t.Fatalf("expected sqlite dialect, got %q", dialect)
	}

	if err := RunMigrations(ctx, conn, dialect, true); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// second run is a no-op
	if err := RunMigrations(ctx, conn, dialect, true); err != nil {
		t.Fatalf("migrate twice: %v", err)
	}

	version, err := MigrationVersion(ctx, conn, dialect)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version < 1 {
		t.Fatalf("expected schema version >= 1, got %d", version)
	}

	var fk int
	if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if fk != 1 {
		t.Fatalf("expected foreign keys enabled, got %d", fk)
	}
}

func TestRunMigrationsDisabled(t *testing.T) {
	if err := RunMigrations(context.Background(), nil, db.DialectSQLite, false); err != nil {
		t.Fatalf("expected disabled migrations to be a no-op: %v", err)
	}
}

func TestSQLiteDSN(t *testing.T) {
	dsn, err := sqliteDSN(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	for _, want := range []string{"_pragma=journal_mode%28WAL%29", "_pragma=foreign_keys%281%29", "busy_timeout%285000%29", "_txlock=immediate"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q missing %q", dsn, want)
		}
	}
	if _, err := sqliteDSN(config.DatabaseConfig{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}
