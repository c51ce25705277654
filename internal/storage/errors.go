package storage

import "errors"

var (
	// ErrNotInitialized means the database file or schema does not
	// exist yet. Running init-db fixes it.
	ErrNotInitialized = errors.New("database not initialized")

	// ErrIncompatibleSchema means the database was written by a newer
	// build of this tool.
	ErrIncompatibleSchema = errors.New("database schema is too new")

	// ErrLocked means another process holds the database lock.
	ErrLocked = errors.New("database is in use by another process")

	// ErrNotFound means the requested row or config value is not in
	// the database.
	ErrNotFound = errors.New("not found in local database")

	// ErrStaleBatch means a batch carried a watermark below the stored
	// one. The watermark only moves forward; re-applying the current
	// position is fine, moving backwards is not.
	ErrStaleBatch = errors.New("batch is older than the stored sync state")
)
