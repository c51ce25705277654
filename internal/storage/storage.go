// Package storage implements the local database a synced account lives
// in: notebooks, notes, tags, and the sync state that ties them to the
// service.
//
// The database is a single SQLite file opened in WAL mode. Everything
// the tool knows about an account is inside it, so backing up the
// account means copying one file.
//
// Layout:
//   - config: name/value pairs (auth token, backend, account identity,
//     sync watermark, schema version)
//   - notebooks, notes, tags: one row per entry, keyed by GUID
//   - notes.raw: the full note document, zlib-compressed JSON, so a
//     restore has every field the service sent even ones this schema
//     does not index
//
// Sync correctness hangs on ApplyBatch: a batch of changes and the new
// watermark commit in one transaction, so the watermark never points
// past data that is not on disk.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"
)

// schemaVersion is the schema this build reads and writes. Databases
// stamped with a higher version belong to a newer build and are
// refused rather than half-read.
const schemaVersion = 1

// Config keys for the config table.
const (
	keySchemaVersion = "schema_version"
	keyAuthToken     = "auth_token"
	keyBackend       = "backend"
	keyUsername      = "user"
	keyUserID        = "user_id"
	keyNoteStoreURL  = "note_store_url"
	keyUSN           = "usn"
	keyLastSync      = "last_sync"
)

var runtimeOnce sync.Once

// configureRuntime points the embedded SQLite WASM runtime at an
// on-disk compilation cache so repeat invocations skip recompiling the
// module. Failures fall back to the default in-memory behavior.
func configureRuntime() {
	runtimeOnce.Do(func() {
		dir, err := os.UserCacheDir()
		if err != nil {
			return
		}
		cacheDir := filepath.Join(dir, "notevault", "wazero")
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return
		}
		cache, err := wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return
		}
		sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
	})
}

// Store wraps the database connection.
type Store struct {
	conn *sql.DB
	path string

	// replica is set when the store runs as an embedded replica of a
	// hosted primary; see OpenReplica.
	replica replicaSyncer
}

// Open opens (creating if necessary) the database file at path.
//
// The caller must call Close when done. Open does not create the
// schema; see InitSchema and OpenExisting.
func Open(path string) (*Store, error) {
	configureRuntime()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return s, nil
}

// OpenExisting opens a database that must already be initialized.
// Returns ErrNotInitialized when the file or schema is missing, and
// ErrIncompatibleSchema when the database was written by a newer
// build.
func OpenExisting(ctx context.Context, path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrNotInitialized, path)
		}
		return nil, fmt.Errorf("failed to stat database: %w", err)
	}

	s, err := Open(path)
	if err != nil {
		return nil, err
	}

	ok, err := s.initialized(ctx)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if !ok {
		_ = s.Close()
		return nil, fmt.Errorf("%w: %s has no schema", ErrNotInitialized, path)
	}

	if err := s.checkSchemaVersion(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// RawDB returns the underlying sql.DB connection for integrating with
// libraries that expect one.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection.
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

	if s.replica != nil {
		if err := s.replica.Close(); err != nil {
			return fmt.Errorf("failed to close replica connector: %w", err)
		}
		s.replica = nil
	}
	return nil
}

// InitSchema creates the schema and seeds the sync state. Idempotent;
// an existing database keeps its contents.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS config (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notebooks (
		guid TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		stack TEXT,
		usn INTEGER NOT NULL DEFAULT 0
	);

	-- Notes deliberately carry no foreign key to notebooks: a sync
	-- chunk may deliver a note before its notebook.
	CREATE TABLE IF NOT EXISTS notes (
		guid TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		notebook_guid TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		usn INTEGER NOT NULL DEFAULT 0,
		tag_guids TEXT,  -- JSON array
		created_at TEXT,
		updated_at TEXT,
		raw BLOB NOT NULL  -- zlib-compressed JSON document
	);

	CREATE TABLE IF NOT EXISTS tags (
		guid TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		parent_guid TEXT,
		usn INTEGER NOT NULL DEFAULT 0
	);

	-- Indexes for export and status queries
	CREATE INDEX IF NOT EXISTS idx_notes_notebook ON notes(notebook_guid);
	CREATE INDEX IF NOT EXISTS idx_notes_active ON notes(is_active);
	CREATE INDEX IF NOT EXISTS idx_notes_usn ON notes(usn);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	seed := `INSERT INTO config (name, value) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`
	if _, err := s.conn.ExecContext(ctx, seed, keySchemaVersion, strconv.Itoa(schemaVersion)); err != nil {
		return fmt.Errorf("failed to stamp schema version: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, seed, keyUSN, "0"); err != nil {
		return fmt.Errorf("failed to seed sync state: %w", err)
	}

	return nil
}

// initialized reports whether the schema exists.
func (s *Store) initialized(ctx context.Context) (bool, error) {
	var name string
	err := s.conn.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'config'").Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect schema: %w", err)
	}
	return true, nil
}

// checkSchemaVersion refuses databases written by a newer build.
func (s *Store) checkSchemaVersion(ctx context.Context) error {
	value, err := s.GetConfig(ctx, keySchemaVersion)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	version, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("config %s holds %q, not a number", keySchemaVersion, value)
	}
	if version > schemaVersion {
		return fmt.Errorf("%w: database is version %d, this build understands %d",
			ErrIncompatibleSchema, version, schemaVersion)
	}
	return nil
}

// GetConfig reads one config value. Returns ErrNotFound for unset
// names.
func (s *Store) GetConfig(ctx context.Context, name string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, "SELECT value FROM config WHERE name = ?", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("config %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read config %s: %w", name, err)
	}
	return value, nil
}

// SetConfig writes one config value.
func (s *Store) SetConfig(ctx context.Context, name, value string) error {
	query := `
	INSERT INTO config (name, value) VALUES (?, ?)
	ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`
	if _, err := s.conn.ExecContext(ctx, query, name, value); err != nil {
		return fmt.Errorf("failed to write config %s: %w", name, err)
	}
	return nil
}

// AuthToken returns the stored token, or ErrNotFound before first
// authentication.
func (s *Store) AuthToken(ctx context.Context) (string, error) {
	return s.GetConfig(ctx, keyAuthToken)
}

// SetAuthToken stores the token.
func (s *Store) SetAuthToken(ctx context.Context, token string) error {
	return s.SetConfig(ctx, keyAuthToken, token)
}

// Backend returns the backend name the database was initialized
// against.
func (s *Store) Backend(ctx context.Context) (string, error) {
	return s.GetConfig(ctx, keyBackend)
}

// SetBackend stores the backend name.
func (s *Store) SetBackend(ctx context.Context, name string) error {
	return s.SetConfig(ctx, keyBackend, name)
}

// SetAccount stores the account identity the database belongs to.
func (s *Store) SetAccount(ctx context.Context, username string, userID int64) error {
	if err := s.SetConfig(ctx, keyUsername, username); err != nil {
		return err
	}
	return s.SetConfig(ctx, keyUserID, strconv.FormatInt(userID, 10))
}

// Username returns the stored account name.
func (s *Store) Username(ctx context.Context) (string, error) {
	return s.GetConfig(ctx, keyUsername)
}

// NoteStoreURL returns the cached shard URL.
func (s *Store) NoteStoreURL(ctx context.Context) (string, error) {
	return s.GetConfig(ctx, keyNoteStoreURL)
}

// SetNoteStoreURL caches the shard URL so later runs skip the lookup.
func (s *Store) SetNoteStoreURL(ctx context.Context, url string) error {
	return s.SetConfig(ctx, keyNoteStoreURL, url)
}

// USN returns the sync watermark: every change numbered at or below it
// is already applied locally.
func (s *Store) USN(ctx context.Context) (int64, error) {
	value, err := s.GetConfig(ctx, keyUSN)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	usn, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config %s holds %q, not a number", keyUSN, value)
	}
	return usn, nil
}

// SetUSN stores the sync watermark outside a batch. Sync itself moves
// the watermark through ApplyBatch; this exists for repair tooling and
// tests.
func (s *Store) SetUSN(ctx context.Context, usn int64) error {
	return s.SetConfig(ctx, keyUSN, strconv.FormatInt(usn, 10))
}

// LastSync returns when the last successful sync finished, or the zero
// time if none has.
func (s *Store) LastSync(ctx context.Context) (time.Time, error) {
	value, err := s.GetConfig(ctx, keyLastSync)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("config %s holds %q, not a timestamp", keyLastSync, value)
	}
	return t, nil
}

// SetLastSync records when a sync finished.
func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	return s.SetConfig(ctx, keyLastSync, t.UTC().Format(time.RFC3339))
}

// Stats summarizes the database for status displays.
type Stats struct {
	Notebooks    int
	ActiveNotes  int
	TrashedNotes int
	Tags         int
	USN          int64
	LastSync     time.Time
	Username     string
	Backend      string
}

// Stats collects counts and sync state in one pass.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM notebooks", &st.Notebooks},
		{"SELECT COUNT(*) FROM notes WHERE is_active = 1", &st.ActiveNotes},
		{"SELECT COUNT(*) FROM notes WHERE is_active = 0", &st.TrashedNotes},
		{"SELECT COUNT(*) FROM tags", &st.Tags},
	}
	for _, c := range counts {
		if err := s.conn.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return Stats{}, fmt.Errorf("failed to count rows: %w", err)
		}
	}

	var err error
	if st.USN, err = s.USN(ctx); err != nil {
		return Stats{}, err
	}
	if st.LastSync, err = s.LastSync(ctx); err != nil {
		return Stats{}, err
	}
	if st.Username, err = s.Username(ctx); err != nil && !errors.Is(err, ErrNotFound) {
		return Stats{}, err
	}
	if st.Backend, err = s.Backend(ctx); err != nil && !errors.Is(err, ErrNotFound) {
		return Stats{}, err
	}

	return st, nil
}
