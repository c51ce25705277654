package storage

import (
	"fmt"
	"os"
)

// Lock is an exclusive cross-process lock guarding one database file.
// Sync and export mutate overlapping state, so only one invocation may
// hold a database at a time.
type Lock struct {
	f    *os.File
	path string
}

// AcquireLock takes the lock for the database at dbPath, failing fast
// with ErrLocked when another process holds it.
func AcquireLock(dbPath string) (*Lock, error) {
	return acquireLock(dbPath + ".lock")
}

// Release drops the lock. Safe to call once.
func (l *Lock) Release() error {
	if l.f == nil {
		return nil
	}
	err := releaseLock(l)
	l.f = nil
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.path, err)
	}
	return nil
}
