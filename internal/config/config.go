// Package config loads the ledger configuration from YAML with ${VAR}
// environment expansion and a few environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvUserID      = "LEDGER_USER_ID"
	EnvStoragePath = "LEDGER_STORAGE_PATH"
	EnvProjectID   = "GOOGLE_CLOUD_PROJECT"
	EnvAPIToken    = "LEDGER_API_TOKEN"
)

// DefaultSnapshotDebounce is the snapshot quiet period used when unset.
const DefaultSnapshotDebounce = 2 * time.Second

// Config is the complete ledger configuration.
type Config struct {
	UserID   string        `yaml:"user_id"`
	DeviceID string        `yaml:"device_id"`
	Storage  StorageConfig `yaml:"storage"`
	Remote   RemoteConfig  `yaml:"remote"`
	Sync     SyncConfig    `yaml:"sync"`
	Backup   BackupConfig  `yaml:"backup"`
	Archive  ArchiveConfig `yaml:"archive"`
	Server   ServerConfig  `yaml:"server"`
	Logging  LoggingConfig `yaml:"logging"`
}

// StorageConfig locates the local SQLite database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig selects the Firestore database used for sync.
type RemoteConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ProjectID  string `yaml:"project_id"`
	DatabaseID string `yaml:"database_id"`
}

// SyncConfig holds sync timing.
type SyncConfig struct {
	SnapshotDebounce    time.Duration `yaml:"-"`
	SnapshotDebounceRaw string        `yaml:"snapshot_debounce"`
}

// BackupConfig names the bucket used for gs:// exports.
type BackupConfig struct {
	Bucket string `yaml:"bucket"`
}

// ArchiveConfig selects the BigQuery dataset for the transaction archive.
type ArchiveConfig struct {
	ProjectID string `yaml:"project_id"`
	Dataset   string `yaml:"dataset"`
}

// ServerConfig holds the HTTP listen address and optional bearer token.
type ServerConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Path: DefaultStoragePath()},
		Sync:    SyncConfig{SnapshotDebounce: DefaultSnapshotDebounce},
		Server:  ServerConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// DefaultStoragePath is ~/.local/share/ledger/ledger.db, or ./ledger.db when
// the home directory is unknown.
func DefaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "ledger.db"
	}
	return filepath.Join(home, ".local", "share", "ledger", "ledger.db")
}

// Load reads the YAML file at path. An empty path, or a path that does not
// exist, yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or "" if unset.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvUserID); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv(EnvStoragePath); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv(EnvProjectID); v != "" {
		if cfg.Remote.ProjectID == "" {
			cfg.Remote.ProjectID = v
		}
		if cfg.Archive.ProjectID == "" {
			cfg.Archive.ProjectID = v
		}
	}
}

func parseDurations(cfg *Config) error {
	if cfg.Sync.SnapshotDebounceRaw != "" {
		d, err := time.ParseDuration(cfg.Sync.SnapshotDebounceRaw)
		if err != nil {
			return fmt.Errorf("parsing snapshot_debounce %q: %w", cfg.Sync.SnapshotDebounceRaw, err)
		}
		cfg.Sync.SnapshotDebounce = d
	}
	if cfg.Sync.SnapshotDebounce <= 0 {
		cfg.Sync.SnapshotDebounce = DefaultSnapshotDebounce
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Remote.Enabled && c.Remote.ProjectID == "" {
		return fmt.Errorf("remote.project_id is required when remote is enabled (or set %s)", EnvProjectID)
	}
	return nil
}

// RemoteEnabled reports whether a remote session can be opened.
func (c *Config) RemoteEnabled() bool {
	return c.Remote.Enabled && c.UserID != ""
}
