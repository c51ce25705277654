package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/auth"
	"github.com/notevault/notevault/internal/config"
	"github.com/notevault/notevault/internal/remote"
	"github.com/notevault/notevault/internal/storage"
	"github.com/notevault/notevault/internal/ui"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the archive and sign in",
	Long: `Create the archive database and authenticate against the service.

Authentication, in order of precedence:
  --token          store a pre-obtained token as-is
  --oauth-grant    complete an authorized OAuth grant (<token>:<verifier>)
  interactive      username/password login, with a one-time code when the
                   account has two-factor authentication enabled

Non-interactive password login takes the username from --user or
NOTEVAULT_USERNAME and the password from NOTEVAULT_PASSWORD (a .env
file in the working directory is read too).

Example usage:
  nv init-db                         # interactive login, production backend
  nv init-db --backend sandbox      # sign into the sandbox deployment
  nv init-db --token "S=s1:U=..."   # store an existing token`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}

		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(cfg.Database); err == nil {
			if !force {
				fmt.Fprintf(os.Stderr, "Error: archive %s already exists (rerun with --force to replace it)\n", cfg.Database)
				os.Exit(1)
			}
			for _, path := range []string{cfg.Database, cfg.Database + "-wal", cfg.Database + "-shm"} {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					fmt.Fprintf(os.Stderr, "Error removing %s: %v\n", path, err)
					os.Exit(1)
				}
			}
		}

		// Sign in before touching the filesystem so a failed login
		// leaves nothing behind.
		token, info, client, err := signIn(ctx, cmd, cfg, cfg.Backend)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		serviceURL, err := client.GetNoteStoreURL(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resolving note store URL: %v\n", err)
			os.Exit(1)
		}

		store, err := createArchive(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating archive: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		if err := store.SetAuthToken(ctx, token); err != nil {
			fmt.Fprintf(os.Stderr, "Error storing token: %v\n", err)
			os.Exit(1)
		}
		if err := store.SetBackend(ctx, cfg.Backend); err != nil {
			fmt.Fprintf(os.Stderr, "Error storing backend: %v\n", err)
			os.Exit(1)
		}
		if err := store.SetAccount(ctx, info.Username, info.UserID); err != nil {
			fmt.Fprintf(os.Stderr, "Error storing account: %v\n", err)
			os.Exit(1)
		}
		if err := store.SetNoteStoreURL(ctx, serviceURL); err != nil {
			fmt.Fprintf(os.Stderr, "Error storing note store URL: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Archive initialized at %s\n", ui.RenderPass("✓"), store.Path())
		fmt.Printf("   Account: %s (backend: %s)\n", info.Username, cfg.Backend)
		fmt.Printf("\nRun 'nv sync' to pull your notes.\n")
	},
}

var reauthCmd = &cobra.Command{
	Use:   "reauth",
	Short: "Re-authenticate an existing archive",
	Long: `Replace the stored authentication token without touching the notes.

Use this when 'nv sync' reports an expired or rejected token. The same
authentication methods as 'nv init-db' apply. The new token must belong
to the account the archive was initialized for.`,
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

		// Stick with the backend the archive was initialized against.
		backendName, err := store.Backend(ctx)
		if err != nil {
			backendName = cfg.Backend
		}

		token, info, _, err := signIn(ctx, cmd, cfg, backendName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		previous, err := store.Username(ctx)
		if err == nil && previous != "" && previous != info.Username {
			fmt.Fprintf(os.Stderr, "Error: token belongs to %s but the archive tracks %s\n", info.Username, previous)
			os.Exit(1)
		}

		if err := store.SetAuthToken(ctx, token); err != nil {
			fmt.Fprintf(os.Stderr, "Error storing token: %v\n", err)
			os.Exit(1)
		}
		if err := store.SetAccount(ctx, info.Username, info.UserID); err != nil {
			fmt.Fprintf(os.Stderr, "Error storing account: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Signed in as %s\n", ui.RenderPass("✓"), info.Username)
	},
}

// createArchive creates the archive database with its schema, locally
// or as an embedded replica when one is configured.
func createArchive(ctx context.Context, cfg *config.Config) (*storage.Store, error) {
	var (
		store *storage.Store
		err   error
	)
	if cfg.ReplicaURL != "" {
		store, err = storage.OpenReplica(cfg.Database, cfg.ReplicaURL, cfg.ReplicaToken, 0)
	} else {
		store, err = storage.Open(cfg.Database)
	}
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// signIn authenticates against the named backend and returns the
// validated token, the account it belongs to, and the client with the
// token installed for follow-up calls.
func signIn(ctx context.Context, cmd *cobra.Command, cfg *config.Config, backendName string) (string, remote.AccountInfo, *remote.Client, error) {
	logger := log.New(quietSink(cfg), "[auth] ", log.LstdFlags)

	client, err := newServiceClient(cfg, backendName, log.New(quietSink(cfg), "[remote] ", log.LstdFlags))
	if err != nil {
		return "", remote.AccountInfo{}, nil, err
	}

	// Refuse to authenticate against a server that no longer speaks
	// this client's protocol version.
	if err := client.CheckCompatibility(ctx); err != nil {
		return "", remote.AccountInfo{}, nil, err
	}

	token, _ := cmd.Flags().GetString("token")
	grant, _ := cmd.Flags().GetString("oauth-grant")
	if token != "" && grant != "" {
		return "", remote.AccountInfo{}, nil, fmt.Errorf("--token and --oauth-grant are mutually exclusive")
	}

	switch {
	case token != "":
		// Validated below, like any other token.

	case grant != "":
		tempToken, verifier, ok := strings.Cut(grant, ":")
		if !ok || tempToken == "" || verifier == "" {
			return "", remote.AccountInfo{}, nil, fmt.Errorf("--oauth-grant must look like <token>:<verifier>")
		}
		flow := auth.NewFlow(client, nil, logger)
		token, err = flow.CompleteOAuth(ctx, tempToken, verifier)
		if err != nil {
			return "", remote.AccountInfo{}, nil, err
		}

	default:
		// Prompting works only on a terminal; without one the flow
		// reports exactly which input it is missing.
		var prompter auth.Prompter
		if p, perr := auth.NewTerminalPrompter(); perr == nil {
			prompter = p
		}
		flow := auth.NewFlow(client, prompter, logger)
		token, err = flow.Login(ctx, cfg.Username, cfg.Password)
		if err != nil {
			return "", remote.AccountInfo{}, nil, err
		}
	}

	client.SetToken(token)

	flow := auth.NewFlow(client, nil, logger)
	info, err := flow.Validate(ctx, token)
	if err != nil {
		return "", remote.AccountInfo{}, nil, fmt.Errorf("token validation failed: %w", err)
	}
	return token, info, client, nil
}

func init() {
	initDBCmd.Flags().String("backend", "", "Service deployment to sign into (production, sandbox, china)")
	initDBCmd.Flags().String("token", "", "Store this pre-obtained token instead of logging in")
	initDBCmd.Flags().String("oauth-grant", "", "Complete an OAuth grant: <token>:<verifier>")
	initDBCmd.Flags().String("user", "", "Username for login (password via NOTEVAULT_PASSWORD)")
	initDBCmd.Flags().Bool("force", false, "Replace an existing archive")
	rootCmd.AddCommand(initDBCmd)

	reauthCmd.Flags().String("token", "", "Store this pre-obtained token instead of logging in")
	reauthCmd.Flags().String("oauth-grant", "", "Complete an OAuth grant: <token>:<verifier>")
	reauthCmd.Flags().String("user", "", "Username for login (password via NOTEVAULT_PASSWORD)")
	rootCmd.AddCommand(reauthCmd)
}
