package export

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period between a database change and
// the re-export it triggers.
const DefaultDebounce = 500 * time.Millisecond

// Watch exports once, then re-exports whenever the archive database
// changes on disk. Re-exports always overwrite. Events are debounced
// so a burst of writes (a sync run, a WAL checkpoint) triggers a
// single run. Watch blocks until ctx is canceled.
func (e *Exporter) Watch(ctx context.Context, opts Options, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	opts.Overwrite = true

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dbPath, err := filepath.Abs(e.store.Path())
	if err != nil {
		return fmt.Errorf("failed to resolve database path: %w", err)
	}

	// Watch the directory, not the file: sqlite in WAL mode writes to
	// sibling -wal and -shm files, and some editors replace files by
	// rename.
	if err := watcher.Add(filepath.Dir(dbPath)); err != nil {
		return fmt.Errorf("failed to watch database directory: %w", err)
	}

	if _, err := e.Run(ctx, opts); err != nil {
		return err
	}
	e.logger.Printf("Watching %s for changes", dbPath)

	base := filepath.Base(dbPath)
	debouncer := time.NewTimer(debounce)
	debouncer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(event.Name), base) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			debouncer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Printf("WARNING: watch error: %v", err)

		case <-debouncer.C:
			result, err := e.Run(ctx, opts)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				e.logger.Printf("WARNING: re-export failed: %v", err)
				continue
			}
			e.logger.Printf("Re-exported %d notes to %s", result.Notes, opts.Dir)
		}
	}
}
