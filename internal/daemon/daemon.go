// Package daemon runs unattended periodic syncs of the note archive.
//
// The daemon:
// 1. Performs an initial sync on startup
// 2. Re-syncs on a fixed interval, one run at a time
// 3. Pushes the embedded replica after successful runs, when configured
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/notevault/notevault/internal/remote"
	"github.com/notevault/notevault/internal/storage"
	notesync "github.com/notevault/notevault/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// Interval is the time between sync runs.
	Interval time.Duration

	// Events receives run lifecycle notifications. Optional.
	Events Events

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval: 15 * time.Minute,
		Logger:   log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Events receives sync run lifecycle notifications. Implementations
// must return quickly; calls happen on the daemon's run loop.
type Events interface {
	// OnSyncStarted fires before each run.
	OnSyncStarted()
	// OnSyncCompleted fires after a successful run.
	OnSyncCompleted(result *notesync.Result)
	// OnSyncFailed fires after a failed run, fatal or not.
	OnSyncFailed(err error)
}

// Daemon drives periodic sync runs against one archive.
type Daemon struct {
	store  *storage.Store
	syncer notesync.Syncer
	config *Config

	mu       sync.Mutex
	fatalErr error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon with default configuration.
//
// Use Start() to begin syncing.
func New(store *storage.Store, syncer notesync.Syncer) (*Daemon, error) {
	return NewWithConfig(store, syncer, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(store *storage.Store, syncer notesync.Syncer, config *Config) (*Daemon, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:  store,
		syncer: syncer,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start begins periodic syncing. An immediate run happens first; the
// interval schedule follows.
//
// Start blocks until ctx is canceled or a fatal error (authentication,
// storage, sync inconsistency) stops the daemon. Transient network
// failures are logged and retried on the next tick.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Printf("Starting daemon, syncing every %s", d.config.Interval)

	if err := d.runOnce(); err != nil {
		return err
	}

	d.wg.Add(1)
	go d.syncLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		d.wg.Wait()
		return d.fatal()
	}
}

// Stop gracefully shuts down the daemon and reports any fatal error
// the sync loop hit.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return d.fatal()
}

func (d *Daemon) fatal() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fatalErr
}

func (d *Daemon) setFatal(err error) {
	d.mu.Lock()
	d.fatalErr = err
	d.mu.Unlock()
}

// syncLoop re-syncs on every tick until shutdown or a fatal error.
// Runs are serialized: the loop owns the syncer, and a tick that fires
// during a long run is dropped instead of queued.
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if err := d.runOnce(); err != nil {
				d.setFatal(err)
				d.cancel()
				return
			}
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// runOnce performs one sync run. Transient failures are logged and
// swallowed; the returned error is fatal to the daemon.
func (d *Daemon) runOnce() error {
	if d.config.Events != nil {
		d.config.Events.OnSyncStarted()
	}

	result, err := d.syncer.Run(d.ctx)
	if err != nil {
		// Shutdown mid-run is not a failure.
		if d.ctx.Err() != nil {
			return nil
		}
		if d.config.Events != nil {
			d.config.Events.OnSyncFailed(err)
		}
		if remote.IsRetryable(err) {
			d.config.Logger.Printf("WARNING: sync failed, will retry next tick: %v", err)
			return nil
		}
		return fmt.Errorf("sync failed: %w", err)
	}

	if d.config.Events != nil {
		d.config.Events.OnSyncCompleted(result)
	}

	if result.UpToDate {
		d.config.Logger.Printf("Up to date at USN %d", result.FinalUSN)
		return nil
	}

	d.config.Logger.Printf("Synced to USN %d: %d notebooks, %d notes, %d tags in %s",
		result.FinalUSN, result.Notebooks, result.Notes, result.Tags,
		result.Duration.Round(time.Millisecond))

	if d.store.IsReplica() {
		frames, err := d.store.SyncReplica()
		if err != nil {
			d.config.Logger.Printf("WARNING: replica push failed: %v", err)
		} else {
			d.config.Logger.Printf("Replica pushed, %d frames", frames)
		}
	}

	return nil
}
