// Package persistence wraps the optional local SQLite store: delivered
// sensor/health history, and a buffer table for readings that couldn't
// reach the aggregator while the broker was disconnected.
package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo toolchain required on the target host
)

//go:embed schemas/*.sql
var schemaFiles embed.FS

// Profile tunes the PRAGMA set applied to the connection for the access
// pattern the store is used for.
type Profile string

const (
	// ProfileStandard fsyncs at WAL checkpoints — the default for the
	// combined history/buffer database.
	ProfileStandard Profile = "standard"
	// ProfileCache skips fsync entirely, for a database that can be
	// rebuilt from scratch with no data-loss consequence.
	ProfileCache Profile = "cache"
)

// Config configures New.
type Config struct {
	Path    string // database file path; "file::memory:?cache=shared" for tests
	Profile Profile
}

// Store is the local SQLite-backed store for sensor and health records.
type Store struct {
	conn    *sql.DB
	path    string
	profile Profile
}

// New opens (creating if necessary) the SQLite database at cfg.Path and
// applies the embedded schema. The directory is created if missing.
func New(cfg Config) (*Store, error) {
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	path := cfg.Path
	if path == "" {
		return nil, fmt.Errorf("persistence: empty database path")
	}
	if path[0] != 'f' || len(path) < 5 || path[:5] != "file:" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("persistence: resolve path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("persistence: create data dir: %w", err)
		}
		path = abs
	}

	connStr := buildConnectionString(path, cfg.Profile)
	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("persistence: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway; avoid SQLITE_BUSY churn
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("persistence: ping %s: %w", path, err)
	}

	store := &Store{conn: conn, path: path, profile: cfg.Profile}
	if err := store.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

func buildConnectionString(path string, profile Profile) string {
	connStr := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	switch profile {
	case ProfileCache:
		connStr += "&_pragma=synchronous(OFF)"
	default:
		connStr += "&_pragma=synchronous(NORMAL)"
	}
	return connStr
}

func (s *Store) migrate() error {
	schema, err := schemaFiles.ReadFile("schemas/gaia_schema.sql")
	if err != nil {
		return fmt.Errorf("persistence: read embedded schema: %w", err)
	}
	if _, err := s.conn.Exec(string(schema)); err != nil {
		return fmt.Errorf("persistence: apply schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path returns the database file's resolved path.
func (s *Store) Path() string {
	return s.path
}

// Checkpoint forces a WAL checkpoint, truncating the WAL file back into the
// main database file. Call before copying the file for a backup so the
// copy isn't missing recent writes still sitting in -wal.
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE);")
	return err
}
