package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/remote"
	"github.com/notevault/notevault/internal/storage"
	notesync "github.com/notevault/notevault/internal/sync"
	"github.com/notevault/notevault/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull changes from the service into the archive",
	Long: `Run one incremental sync pass.

Only changes numbered after the archive's saved watermark are pulled,
in bounded chunks. Each chunk is applied in a single transaction
together with the watermark advance, so an interrupted run resumes
exactly where it stopped; rerunning after any failure is always safe.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}

		store, err := openArchive(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening archive: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		// One writer per archive.
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

		sink := quietSink(cfg)
		notes, err := noteStoreFor(ctx, cfg, store, log.New(sink, "[remote] ", log.LstdFlags))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		syncCfg := &notesync.Config{MaxChunkEntries: cfg.MaxChunkEntries}
		if cfg.Verbose {
			syncCfg.OnProgress = func(p notesync.Progress) {
				fmt.Printf("   chunk %d: USN %d of %d (%d notebooks, %d notes, %d tags)\n",
					p.Chunks, p.USN, p.UpdateCount, p.Notebooks, p.Notes, p.Tags)
			}
		}

		syncer := notesync.New(store, notes, syncCfg, log.New(sink, "[sync] ", log.LstdFlags))

		fmt.Printf("%s Syncing %s...\n", ui.RenderAccent("🔄"), store.Path())
		result, err := syncer.Run(ctx)
		if err != nil {
			exitSyncError(err)
		}

		printSyncResult(result)

		pushReplica(store)
	},
}

// exitSyncError prints a sync failure with recovery guidance and exits.
func exitSyncError(err error) {
	switch {
	case errors.Is(err, remote.ErrTokenExpired):
		fmt.Fprintf(os.Stderr, "Error: authentication token expired; run 'nv reauth'\n")
	case errors.Is(err, remote.ErrTokenInvalid), errors.Is(err, remote.ErrTokenMalformed):
		fmt.Fprintf(os.Stderr, "Error: authentication token rejected; run 'nv reauth'\n")
	case errors.Is(err, notesync.ErrSyncStateRegressed):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Run 'nv init-db --force' to rebuild the archive from the server.\n")
	case remote.IsRetryable(err):
		fmt.Fprintf(os.Stderr, "Error: service unreachable: %v\n", err)
		fmt.Fprintf(os.Stderr, "The next run resumes from the saved watermark.\n")
	default:
		fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
	}
	os.Exit(1)
}

// printSyncResult renders the run summary.
func printSyncResult(result *notesync.Result) {
	if result.UpToDate {
		fmt.Printf("%s Already up to date (USN %d)\n", ui.RenderPass("✓"), result.FinalUSN)
		return
	}

	fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), result.Duration.Round(time.Millisecond))
	fmt.Printf("   Watermark: %d to %d (%d chunks)\n", result.StartUSN, result.FinalUSN, result.Chunks)
	fmt.Printf("   Notebooks: %d\n", result.Notebooks)
	fmt.Printf("   Notes: %d\n", result.Notes)
	fmt.Printf("   Tags: %d\n", result.Tags)
	if result.ExpungedNotebooks > 0 || result.ExpungedNotes > 0 {
		fmt.Printf("   Expunged: %d notebooks, %d notes\n", result.ExpungedNotebooks, result.ExpungedNotes)
	}
	if len(result.SkippedNotes) > 0 {
		fmt.Printf("   %s Skipped %d unreadable notes: %s\n", ui.RenderWarn("⚠"),
			len(result.SkippedNotes), strings.Join(result.SkippedNotes, ", "))
	}
}

// pushReplica flushes committed frames to the replica's primary, when
// the archive is one.
func pushReplica(store *storage.Store) {
	if !store.IsReplica() {
		return
	}
	frames, err := store.SyncReplica()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: replica push failed: %v\n", err)
		return
	}
	if frames > 0 {
		fmt.Printf("   Replica: %d frames pushed\n", frames)
	}
}

func init() {
	syncCmd.Flags().Int("max-chunk-entries", 100, "Entries requested per sync chunk")
	rootCmd.AddCommand(syncCmd)
}
