// Package store provides the local entity store for sayboard.
//
// The store is an embedded SQLite database (via ncruces/go-sqlite3) holding
// phrases, the per-device settings record, usage logs, and the peer
// store-and-forward outbox. Every record carries a sync-state tag; the sync
// engine drains pending-state records and the store never talks to the
// network itself.
//
// WAL mode keeps concurrent readers cheap, but all sync-state mutations are
// expected to come from a single owner goroutine (the engine or dispatcher).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// PersistenceError wraps any failure of the underlying database so callers
// can distinguish storage faults from gateway faults.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// persistErr wraps err as a PersistenceError. Returns nil for a nil err.
func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// Store wraps the SQLite connection with entity-level operations.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a store at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist it is created; call InitSchema before use.
// The caller MUST call Close when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	return s, nil
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the tables and indexes if they don't exist.
// Idempotent - safe to call multiple times.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS phrases (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		usage_count INTEGER NOT NULL DEFAULT 0,
		favorite INTEGER NOT NULL DEFAULT 0,
		sync_state TEXT NOT NULL,
		server_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Singleton row, keyed to make the constraint explicit.
	CREATE TABLE IF NOT EXISTS settings (
		singleton INTEGER PRIMARY KEY CHECK (singleton = 1),
		language TEXT NOT NULL,
		speech_rate REAL NOT NULL,
		ai_enabled INTEGER NOT NULL,
		response_mode TEXT NOT NULL,
		sync_state TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS usage_logs (
		id TEXT PRIMARY KEY,
		event TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		phrase_text TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL,
		sync_state TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS peer_outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payload TEXT NOT NULL,
		queued_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_phrases_sync_state ON phrases(sync_state);
	CREATE INDEX IF NOT EXISTS idx_phrases_server_id ON phrases(server_id);
	CREATE INDEX IF NOT EXISTS idx_phrases_favorite ON phrases(favorite);
	CREATE INDEX IF NOT EXISTS idx_phrases_usage ON phrases(usage_count);
	CREATE INDEX IF NOT EXISTS idx_logs_sync_state ON usage_logs(sync_state);
	CREATE INDEX IF NOT EXISTS idx_logs_session ON usage_logs(session_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return persistErr("init schema", err)
	}

	return nil
}

// Batch runs fn inside a single transaction. Either every mutation made
// through the batch persists, or none do and the error is returned wrapped
// as a PersistenceError. Readers never observe a partial batch.
func (s *Store) Batch(ctx context.Context, fn func(b *Batch) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin batch", err)
	}
	defer tx.Rollback()

	if err := fn(&Batch{tx: tx, ctx: ctx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return persistErr("commit batch", err)
	}

	return nil
}

// Batch exposes the store's mutations inside one transaction.
type Batch struct {
	tx  *sql.Tx
	ctx context.Context
}

// execer abstracts *sql.DB and *sql.Tx for the shared query helpers.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// timeToDB formats a timestamp for storage.
func timeToDB(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// timeFromDB parses a stored timestamp.
func timeFromDB(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
