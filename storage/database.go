// Package storage persists discovered peers and session history in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDBFileName is the SQLite filename under the app data dir.
const DefaultDBFileName = "mirage.db"

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS peers (
  node_id             TEXT PRIMARY KEY,
  node_name           TEXT NOT NULL,
  os_type             TEXT NOT NULL DEFAULT '',
  addr                TEXT NOT NULL DEFAULT '',
  control_port        INTEGER NOT NULL DEFAULT 0,
  fingerprint         TEXT NOT NULL DEFAULT '',
  can_host_pointer    INTEGER NOT NULL DEFAULT 0,
  can_capture_windows INTEGER NOT NULL DEFAULT 0,
  can_render_streams  INTEGER NOT NULL DEFAULT 0,
  video_codecs        TEXT NOT NULL DEFAULT '',
  online              INTEGER NOT NULL DEFAULT 0,
  first_seen          INTEGER NOT NULL,
  last_seen           INTEGER NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS session_history (
  session_id   TEXT PRIMARY KEY,
  peer_node_id TEXT NOT NULL,
  peer_name    TEXT NOT NULL,
  created_at   INTEGER NOT NULL,
  closed_at    INTEGER,
  close_reason TEXT CHECK(close_reason IN ('closed','idle_timeout'))
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_session_history_peer_time
ON session_history (peer_node_id, created_at DESC, session_id);
`,
	`
CREATE INDEX IF NOT EXISTS idx_peers_last_seen
ON peers (last_seen DESC, node_id);
`,
}

// Store is a thin wrapper around a SQLite connection.
type Store struct {
	db        *sql.DB
	closeOnce sync.Once
}

// Open opens (or creates) the database under the given data directory and
// runs migrations.
func Open(dataDir string) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}

	return store, dbPath, nil
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	store := &Store{db: db}
	if err := store.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		closeErr = s.db.Close()
		s.db = nil
	})
	return closeErr
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}

	return nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}
