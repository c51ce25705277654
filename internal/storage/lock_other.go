//go:build !unix

package storage

import (
	"fmt"
	"os"
)

// acquireLock falls back to an O_EXCL sentinel file on platforms
// without flock. Unlike the flock variant, a crash leaves the file
// behind and the next run reports ErrLocked until it is removed.
func acquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("failed to create lock file %s: %w", path, err)
	}

	return &Lock{f: f, path: path}, nil
}

func releaseLock(l *Lock) error {
	if err := l.f.Close(); err != nil {
		_ = os.Remove(l.path)
		return err
	}
	return os.Remove(l.path)
}
