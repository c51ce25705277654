package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tursodatabase/go-libsql"
)

// replicaSyncer is the part of the libsql connector the store drives.
type replicaSyncer interface {
	Sync() (libsql.Replicated, error)
	Close() error
}

// OpenReplica opens the database as an embedded replica of a hosted
// libSQL primary. Reads hit the local file; writes go to the primary
// and flow back on the next replica sync. This backs mirror mode,
// where the backup lives on a database server as well as on disk.
//
// A positive syncInterval makes the connector pull frames in the
// background on top of the explicit SyncReplica calls after each run.
func OpenReplica(path, primaryURL, authToken string, syncInterval time.Duration) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	var opts []libsql.Option
	if authToken != "" {
		opts = append(opts, libsql.WithAuthToken(authToken))
	}
	if syncInterval > 0 {
		opts = append(opts, libsql.WithSyncInterval(syncInterval))
	}

	connector, err := libsql.NewEmbeddedReplicaConnector(path, primaryURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded replica: %w", err)
	}

	conn := sql.OpenDB(connector)
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		_ = connector.Close()
		return nil, fmt.Errorf("failed to ping replica: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, replica: connector}

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

// IsReplica reports whether this store mirrors a hosted primary.
func (s *Store) IsReplica() bool {
	return s.replica != nil
}

// SyncReplica exchanges frames with the primary and reports how many
// moved. No-op on plain local databases.
func (s *Store) SyncReplica() (int, error) {
	if s.replica == nil {
		return 0, nil
	}
	rep, err := s.replica.Sync()
	if err != nil {
		return 0, fmt.Errorf("failed to sync replica: %w", err)
	}
	return rep.FramesSynced, nil
}
