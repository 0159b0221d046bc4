// Package config loads the synchronizer's configuration from an optional
// YAML file with environment-variable overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can use "5m"/"30s" notation.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Mastodon configures the Mastodon side.
type Mastodon struct {
	// InstanceURL is the instance base URL; a bare hostname is accepted.
	InstanceURL string `yaml:"instance_url"`

	AccessToken string `yaml:"access_token"`

	// Attribution names the origin account in posts mirrored to Bluesky,
	// e.g. "@user@instance.example". Defaults to the authenticated
	// account when empty.
	Attribution string `yaml:"attribution"`

	// ArchivePath, when set, enables raw-post archival for this side.
	ArchivePath string `yaml:"archive_path"`
}

// Bluesky configures the Bluesky side.
type Bluesky struct {
	// PDS is the PDS base URL. Defaults to https://bsky.social.
	PDS string `yaml:"pds"`

	Identifier  string `yaml:"identifier"`
	AppPassword string `yaml:"app_password"`

	// Attribution names the origin account in posts mirrored to
	// Mastodon. Empty disables the attribution suffix in that direction.
	Attribution string `yaml:"attribution"`

	ArchivePath string `yaml:"archive_path"`
}

// Sync configures the cycle cadence and per-direction fetch windows.
type Sync struct {
	Interval       Duration `yaml:"interval"`
	MastodonWindow int      `yaml:"mastodon_window"`
	BlueskyWindow  int      `yaml:"bluesky_window"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// Ledger configures the idempotency store backend.
type Ledger struct {
	// Backend is "file" or "sqlite".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// Config holds all configuration for the synchronizer.
type Config struct {
	Mastodon Mastodon `yaml:"mastodon"`
	Bluesky  Bluesky  `yaml:"bluesky"`
	Sync     Sync     `yaml:"sync"`
	Ledger   Ledger   `yaml:"ledger"`
	LogLevel string   `yaml:"log_level"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides, fills defaults, and validates required fields.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Mastodon.InstanceURL, "MASTODON_INSTANCE_URL")
	setString(&cfg.Mastodon.AccessToken, "MASTODON_ACCESS_TOKEN")
	setString(&cfg.Mastodon.Attribution, "MASTODON_ATTRIBUTION")
	setString(&cfg.Bluesky.PDS, "BLUESKY_PDS")
	setString(&cfg.Bluesky.Identifier, "BLUESKY_USERNAME")
	setString(&cfg.Bluesky.AppPassword, "BLUESKY_PASSWORD")
	setString(&cfg.Bluesky.Attribution, "FROM_BLUESKY_AT")
	setString(&cfg.Ledger.Backend, "LEDGER_BACKEND")
	setString(&cfg.Ledger.Path, "LEDGER_PATH")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	// SYNC_INTERVAL is in seconds for compatibility with older deployments.
	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			cfg.Sync.Interval = Duration(time.Duration(seconds) * time.Second)
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Sync.Interval <= 0 {
		cfg.Sync.Interval = Duration(5 * time.Minute)
	}
	if cfg.Sync.MastodonWindow <= 0 {
		cfg.Sync.MastodonWindow = 20
	}
	if cfg.Sync.BlueskyWindow <= 0 {
		cfg.Sync.BlueskyWindow = 30
	}
	if cfg.Sync.RequestTimeout <= 0 {
		cfg.Sync.RequestTimeout = Duration(30 * time.Second)
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = "file"
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = "sync_status.json"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func validate(cfg *Config) error {
	if cfg.Mastodon.InstanceURL == "" {
		return fmt.Errorf("mastodon.instance_url (MASTODON_INSTANCE_URL) is required")
	}
	if cfg.Mastodon.AccessToken == "" {
		return fmt.Errorf("mastodon.access_token (MASTODON_ACCESS_TOKEN) is required")
	}
	if cfg.Bluesky.Identifier == "" {
		return fmt.Errorf("bluesky.identifier (BLUESKY_USERNAME) is required")
	}
	if cfg.Bluesky.AppPassword == "" {
		return fmt.Errorf("bluesky.app_password (BLUESKY_PASSWORD) is required")
	}
	if cfg.Ledger.Backend != "file" && cfg.Ledger.Backend != "sqlite" {
		return fmt.Errorf("ledger.backend must be \"file\" or \"sqlite\", got %q", cfg.Ledger.Backend)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log_level %q", name)
	}
}
