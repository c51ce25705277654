package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/auth"
	"github.com/notevault/notevault/internal/backend"
	"github.com/notevault/notevault/internal/config"
	"github.com/notevault/notevault/internal/storage"
	"github.com/notevault/notevault/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show archive and credential status",
	Long: `Display what the archive holds and whether its token is still usable.

Token expiry is read from the token itself, so the default check needs
no network. With --remote the service is also asked for its current
update count, to show how many changes the next sync would pull.`,
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

		stats, err := store.Stats(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading archive: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Archive Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Database: %s\n", store.Path())
		if stats.Username != "" {
			backendName := stats.Backend
			if backendName == "" {
				backendName = backend.DefaultName
			}
			fmt.Printf("Account: %s (backend: %s)\n", stats.Username, backendName)
		}
		fmt.Printf("Notebooks: %d\n", stats.Notebooks)
		fmt.Printf("Notes: %d active, %d in trash\n", stats.ActiveNotes, stats.TrashedNotes)
		fmt.Printf("Tags: %d\n", stats.Tags)
		fmt.Printf("Watermark: USN %d\n", stats.USN)
		if stats.LastSync.IsZero() {
			fmt.Printf("Last sync: never\n")
		} else {
			fmt.Printf("Last sync: %s\n", stats.LastSync.Local().Format("2006-01-02 15:04:05"))
		}

		printTokenStatus(ctx, store)

		if remoteCheck, _ := cmd.Flags().GetBool("remote"); remoteCheck {
			printRemoteStatus(ctx, cfg, store, stats.USN)
		}
		fmt.Println()
	},
}

// printTokenStatus reports whether the stored token is still usable,
// from its embedded expiry alone.
func printTokenStatus(ctx context.Context, store *storage.Store) {
	raw, err := store.AuthToken(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Printf("Token: %s none stored; run 'nv init-db'\n", ui.RenderWarn("⚠"))
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading token: %v\n", err)
		os.Exit(1)
	}

	tok, err := auth.ParseToken(raw)
	if err != nil {
		fmt.Printf("Token: %s unreadable; run 'nv reauth'\n", ui.RenderFail("✗"))
		return
	}

	now := time.Now()
	if tok.IsExpired(now) {
		fmt.Printf("Token: %s expired %s; run 'nv reauth'\n",
			ui.RenderFail("✗"), tok.ExpiresAt.Local().Format("2006-01-02"))
		return
	}

	line := fmt.Sprintf("Token: %s valid until %s",
		ui.RenderPass("✓"), tok.ExpiresAt.Local().Format("2006-01-02"))
	if ttl := tok.TTL(now); ttl < 7*24*time.Hour {
		line += fmt.Sprintf(" %s", ui.RenderWarn(fmt.Sprintf("(expires in %d days)", int(ttl.Hours()/24))))
	}
	fmt.Println(line)
}

// printRemoteStatus asks the service for its update count and shows
// the gap to the local watermark.
func printRemoteStatus(ctx context.Context, cfg *config.Config, store *storage.Store, localUSN int64) {
	notes, err := noteStoreFor(ctx, cfg, store, log.New(quietSink(cfg), "[remote] ", log.LstdFlags))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	state, err := notes.GetSyncState(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error querying service: %v\n", err)
		os.Exit(1)
	}

	if pending := state.UpdateCount - localUSN; pending > 0 {
		fmt.Printf("Remote: %d changes pending (server USN %d)\n", pending, state.UpdateCount)
	} else {
		fmt.Printf("Remote: up to date (server USN %d)\n", state.UpdateCount)
	}
}

func init() {
	statusCmd.Flags().Bool("remote", false, "Also ask the service how many changes are pending")
	rootCmd.AddCommand(statusCmd)
}
