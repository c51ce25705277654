// Command nv keeps an incremental local backup of a note service
// account in a single SQLite archive, and exports it to ENEX or
// Markdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/notevault/notevault/internal/backend"
	"github.com/notevault/notevault/internal/config"
	"github.com/notevault/notevault/internal/remote"
	"github.com/notevault/notevault/internal/storage"
)

// version is overridden at release time via -ldflags.
var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "nv",
	Short: "Incremental local backup for a note service account",
	Long: `nv mirrors a note service account into a local SQLite archive.

Each sync pulls only the changes numbered after the archive's saved
watermark, so runs stay cheap no matter how large the account is. The
archive can be exported to ENEX or Markdown at any time, and 'nv
daemon' keeps it fresh unattended.

Typical session:
  nv init-db                 # create the archive and sign in
  nv sync                    # pull everything (then: only changes)
  nv export ~/notes-backup   # write ENEX files
  nv status                  # see where the archive stands`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("database", "", "Archive database path (default ~/.notevault/notevault.db)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default notevault.yaml in the user config dir)")
	rootCmd.PersistentFlags().String("backends-file", "", "TOML file overlaying the built-in backend registry")
	rootCmd.PersistentFlags().String("log-file", "", "Append component logs to this rotating file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Show component logs on stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// signalContext returns a context canceled by Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadConfig resolves configuration for one command invocation from
// defaults, the config file, NOTEVAULT_* environment variables, and
// the command's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file, _ := cmd.Flags().GetString("config")
	return config.Load(cmd.Flags(), file)
}

// logSink is where component logs go: the rotating log file when one
// is configured, stderr otherwise.
func logSink(cfg *config.Config) io.Writer {
	if cfg.LogFile != "" {
		return &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	return os.Stderr
}

// quietSink is logSink for one-shot commands, which print their own
// summaries: component logs are discarded unless a log file or
// --verbose asks for them.
func quietSink(cfg *config.Config) io.Writer {
	if cfg.LogFile != "" || cfg.Verbose {
		return logSink(cfg)
	}
	return io.Discard
}

// openArchive opens an initialized archive, as an embedded replica of
// a remote primary when one is configured.
func openArchive(ctx context.Context, cfg *config.Config) (*storage.Store, error) {
	if cfg.ReplicaURL != "" {
		store, err := storage.OpenReplica(cfg.Database, cfg.ReplicaURL, cfg.ReplicaToken, 0)
		if err != nil {
			return nil, err
		}
		// A fresh replica of a fresh primary has no schema yet; the
		// create is idempotent.
		if err := store.InitSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}
	return storage.OpenExisting(ctx, cfg.Database)
}

// newServiceClient builds the account-plane client for one backend
// deployment.
func newServiceClient(cfg *config.Config, backendName string, logger *log.Logger) (*remote.Client, error) {
	registry, err := backend.Load(cfg.BackendsFile)
	if err != nil {
		return nil, err
	}
	be, err := registry.Get(backendName)
	if err != nil {
		return nil, err
	}
	return remote.NewClient(&remote.Config{
		UserStoreURL: be.UserStoreURL,
		OAuthURL:     be.OAuthURL,
		Timeout:      cfg.Timeout,
		MaxAttempts:  cfg.MaxAttempts,
		Logger:       logger,
	}), nil
}

// noteStoreFor builds the note-plane client for the account the
// archive belongs to, from its stored token, backend, and shard URL.
// The shard URL is resolved once and cached in the archive.
func noteStoreFor(ctx context.Context, cfg *config.Config, store *storage.Store, logger *log.Logger) (remote.NoteStore, error) {
	token, err := store.AuthToken(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("archive has no credentials; run 'nv init-db' or 'nv reauth' first")
	}
	if err != nil {
		return nil, err
	}

	backendName, err := store.Backend(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	client, err := newServiceClient(cfg, backendName, logger)
	if err != nil {
		return nil, err
	}
	client.SetToken(token)

	serviceURL, err := store.NoteStoreURL(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		serviceURL, err = client.GetNoteStoreURL(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve note store URL: %w", err)
		}
		if err := store.SetNoteStoreURL(ctx, serviceURL); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return client.NoteStore(serviceURL), nil
}
