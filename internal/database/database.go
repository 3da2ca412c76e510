package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/db"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Open establishes a database/sql handle for the configured driver and
// verifies connectivity.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, db.Dialect, error) {
	var (
		conn    *sql.DB
		dialect db.Dialect
		err     error
	)

	switch cfg.Driver {
	case config.DriverPostgres:
		dialect = db.DialectPostgres
		connCfg, perr := pgx.ParseConfig(cfg.URL)
		if perr != nil {
			return nil, "", fmt.Errorf("parse database url: %w", perr)
		}
		conn = stdlib.OpenDB(*connCfg)
	default:
		dialect = db.DialectSQLite
		dsn, derr := sqliteDSN(cfg)
		if derr != nil {
			return nil, "", derr
		}
		conn, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite: %w", err)
		}
	}

	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxConnLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("ping database: %w", err)
	}
	return conn, dialect, nil
}

// RunMigrations executes the embedded Goose migrations if enabled.
func RunMigrations(ctx context.Context, conn *sql.DB, dialect db.Dialect, enabled bool) error {
	if !enabled {
		return nil
	}
	if conn == nil {
		return errors.New("database handle is required for migrations")
	}

	gooseDialect, dir := "sqlite3", "migrations/sqlite"
	if dialect == db.DialectPostgres {
		gooseDialect, dir = "postgres", "migrations/postgres"
	}

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, conn, dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// MigrationVersion reports the current schema version.
func MigrationVersion(ctx context.Context, conn *sql.DB, dialect db.Dialect) (int64, error) {
	gooseDialect := "sqlite3"
	if dialect == db.DialectPostgres {
		gooseDialect = "postgres"
	}
	if err := goose.SetDialect(gooseDialect); err != nil {
		return 0, fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.GetDBVersionContext(ctx, conn)
}

func sqliteDSN(cfg config.DatabaseConfig) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("sqlite path not provided")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("create sqlite directory: %w", err)
			}
		}
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	params := url.Values{}
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	params.Add("_txlock", "immediate")

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params.Encode(), nil
}
