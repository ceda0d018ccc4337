package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Config struct {
	Path string
}

// Open opens the SQLite database at cfg.Path and applies pending migrations.
// SQLite allows one writer, so the pool is held to a single connection.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	database, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	database.SetMaxOpenConns(1)
	database.SetMaxIdleConns(1)

	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrate(database, migrationsFS, time.Now); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// migration is one schema change, read from migrations/NNN_name.sql.
type migration struct {
	version string
	name    string
	sql     string
}

// migrate applies, in version order, every embedded migration not yet
// recorded in schema_migrations. Each runs in its own transaction.
func migrate(database *sql.DB, fsys fs.FS, now func() time.Time) error {
	if _, err := database.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	all, err := readMigrations(fsys)
	if err != nil {
		return err
	}

	var applied []string
	rows, err := database.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied = append(applied, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range all {
		if slices.Contains(applied, m.version) {
			continue
		}
		if err := m.apply(database, now()); err != nil {
			return err
		}
	}
	return nil
}

func (m migration) apply(database *sql.DB, at time.Time) (err error) {
	tx, err := database.Begin()
	if err != nil {
		return fmt.Errorf("migration %s: begin: %w", m.version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(m.sql); err != nil {
		return fmt.Errorf("migration %s_%s: %w", m.version, m.name, err)
	}
	if _, err = tx.Exec(
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.version, m.name, formatTime(at),
	); err != nil {
		return fmt.Errorf("migration %s: record: %w", m.version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("migration %s: commit: %w", m.version, err)
	}
	return nil
}

func readMigrations(fsys fs.FS) ([]migration, error) {
	paths, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(paths)

	out := make([]migration, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		stem := strings.TrimSuffix(path.Base(p), ".sql")
		version, name, ok := strings.Cut(stem, "_")
		if !ok || version == "" || name == "" {
			return nil, fmt.Errorf("migration %s: file name must be NNN_name.sql", p)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration %s: version %s already used by %s", p, version, prev)
		}
		seen[version] = p

		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", p, err)
		}
		out = append(out, migration{version: version, name: name, sql: string(content)})
	}
	return out, nil
}
