package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/daemon"
	"github.com/notevault/notevault/internal/dashboard"
	"github.com/notevault/notevault/internal/storage"
	notesync "github.com/notevault/notevault/internal/sync"
	"github.com/notevault/notevault/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Sync on a schedule until interrupted (foreground)",
	Long: `Run in the foreground, syncing once immediately and then at a fixed
interval.

A pass that fails with a transient service error is logged and retried
at the next tick. Authentication and consistency failures stop the
daemon, since no amount of retrying fixes them.

With --dashboard-port, a WebSocket dashboard broadcasts live sync
activity to connected clients:
- sync_started: a pass began
- sync_progress: a chunk was applied
- sync_complete: a pass finished, with its counts
- sync_error: a pass failed
- stats: archive totals, refreshed after each pass

Example usage:
  nv daemon                          # sync every 15 minutes
  nv daemon --interval 5m            # custom interval
  nv daemon --dashboard-port 8080    # with live dashboard

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}

		interval, _ := cmd.Flags().GetDuration("interval")
		dashboardPort, _ := cmd.Flags().GetInt("dashboard-port")

		store, err := openArchive(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening archive: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		// One writer per archive, held for the daemon's lifetime.
		lock, err := storage.AcquireLock(store.Path())
		if err != nil {
			if errors.Is(err, storage.ErrLocked) {
				fmt.Fprintf(os.Stderr, "Error: archive %s is in use by another process\n", store.Path())
			} else {
				fmt.Fprintf(os.Stderr, "Error locking archive: %v\n", err)
			}
			os.Exit(1)
		}
		defer lock.Release()

		// Unlike the one-shot commands, the log is the daemon's output.
		sink := logSink(cfg)

		notes, err := noteStoreFor(ctx, cfg, store, log.New(sink, "[remote] ", log.LstdFlags))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		syncCfg := &notesync.Config{MaxChunkEntries: cfg.MaxChunkEntries}

		var events daemon.Events
		if dashboardPort > 0 {
			server := dashboard.NewServer(&dashboard.Config{
				Port:   dashboardPort,
				Stats:  archiveStats(store),
				Logger: log.New(sink, "[dashboard] ", log.LstdFlags),
			})
			if err := server.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			defer server.Stop()

			handler := dashboard.NewHandler(server, log.New(sink, "[dashboard] ", log.LstdFlags))
			events = handler
			syncCfg.OnProgress = handler.OnSyncProgress

			fmt.Printf("Dashboard: http://localhost:%d\n", dashboardPort)
			fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", dashboardPort)
		}

		syncer := notesync.New(store, notes, syncCfg, log.New(sink, "[sync] ", log.LstdFlags))

		d, err := daemon.NewWithConfig(store, syncer, &daemon.Config{
			Interval: interval,
			Events:   events,
			Logger:   log.New(sink, "[daemon] ", log.LstdFlags),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Syncing %s every %v\n", ui.RenderAccent("🔄"), store.Path(), interval)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		// Blocks until the context is canceled or a pass fails fatally.
		if err := d.Start(ctx); err != nil {
			exitSyncError(err)
		}

		fmt.Println("Daemon stopped")
	},
}

// archiveStats adapts archive statistics to the dashboard's snapshot
// supplier.
func archiveStats(store *storage.Store) func() (dashboard.StatsData, error) {
	return func() (dashboard.StatsData, error) {
		stats, err := store.Stats(context.Background())
		if err != nil {
			return dashboard.StatsData{}, err
		}
		return dashboard.StatsData{
			Notebooks:    stats.Notebooks,
			ActiveNotes:  stats.ActiveNotes,
			TrashedNotes: stats.TrashedNotes,
			Tags:         stats.Tags,
			USN:          stats.USN,
			LastSync:     stats.LastSync,
			Username:     stats.Username,
		}, nil
	}
}

func init() {
	daemonCmd.Flags().Duration("interval", 15*time.Minute, "Time between sync passes")
	daemonCmd.Flags().Int("dashboard-port", 0, "Serve the live dashboard on this port (0 disables it)")
	daemonCmd.Flags().Int("max-chunk-entries", 100, "Entries requested per sync chunk")
	rootCmd.AddCommand(daemonCmd)
}
