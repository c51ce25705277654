// Package config resolves tool-wide settings from four layers:
// built-in defaults, an optional config file, NOTEVAULT_* environment
// variables (with a best-effort .env preload), and command-line flags.
// Later layers win.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/notevault/notevault/internal/backend"
)

const envPrefix = "NOTEVAULT"

// Config holds the resolved settings for one invocation.
type Config struct {
	// Database is the archive file path.
	Database string `mapstructure:"database"`

	// Backend names the service deployment from the backend registry.
	Backend string `mapstructure:"backend"`

	// BackendsFile optionally overlays the built-in backend registry.
	BackendsFile string `mapstructure:"backends_file"`

	// LogFile, when set, routes component logs to a rotating file.
	LogFile string `mapstructure:"log_file"`

	// Verbose surfaces component logs on stderr.
	Verbose bool `mapstructure:"verbose"`

	// Timeout bounds each HTTP request to the service.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxAttempts caps retries of transient service failures.
	MaxAttempts int `mapstructure:"max_attempts"`

	// MaxChunkEntries caps entries per sync chunk.
	MaxChunkEntries int `mapstructure:"max_chunk_entries"`

	// ReplicaURL switches the archive to an embedded replica of a
	// hosted libSQL primary. ReplicaToken authenticates against it.
	ReplicaURL   string `mapstructure:"replica_url"`
	ReplicaToken string `mapstructure:"replica_token"`

	// Username and Password feed non-interactive login. Password is
	// env/file only; there is deliberately no flag for it.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// flagKeys maps config keys to the command-line flags that set them.
var flagKeys = map[string]string{
	"database":          "database",
	"backend":           "backend",
	"backends_file":     "backends-file",
	"log_file":          "log-file",
	"verbose":           "verbose",
	"timeout":           "timeout",
	"max_attempts":      "max-attempts",
	"max_chunk_entries": "max-chunk-entries",
	"replica_url":       "replica-url",
	"replica_token":     "replica-token",
	"username":          "user",
}

// Load resolves the configuration. configFile, when non-empty, names an
// explicit config file and a missing one is an error; otherwise the
// standard locations are searched and absence is fine. flags may be nil.
func Load(flags *pflag.FlagSet, configFile string) (*Config, error) {
	// Values from a .env in the working directory join the environment
	// layer. Existing variables are not overridden.
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("database", DefaultDatabasePath())
	v.SetDefault("backend", backend.DefaultName)
	v.SetDefault("backends_file", "")
	v.SetDefault("log_file", "")
	v.SetDefault("verbose", false)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("max_attempts", 3)
	v.SetDefault("max_chunk_entries", 100)
	v.SetDefault("replica_url", "")
	v.SetDefault("replica_token", "")
	v.SetDefault("username", "")
	v.SetDefault("password", "")

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("notevault")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "notevault"))
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return &cfg, nil
}

// DefaultDatabasePath is the archive location used when none is
// configured.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "notevault.db"
	}
	return filepath.Join(home, ".notevault", "notevault.db")
}
