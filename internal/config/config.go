// Package config provides configuration file loading for the picbreeder host.
// The configuration file lives at ~/.picbreeder/config.toml by default, but can be
// overridden with the --config flag. Files ending in .yaml or .yml are parsed as YAML.
// CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	apperrors "github.com/picbreeder/host/internal/errors"
)

// Config represents the host configuration file structure.
type Config struct {
	// DataDir holds primary.db (sessions) and handles.db (folder handles).
	// Default: ~/.picbreeder
	DataDir string `toml:"data_dir" yaml:"data_dir"`

	// Addr is the host:port for the companion save server.
	// Default: 127.0.0.1:3001
	Addr string `toml:"addr" yaml:"addr"`

	// ImagesDir is where the companion server writes received images.
	// Default: <data_dir>/images
	ImagesDir string `toml:"images_dir" yaml:"images_dir"`

	// MirrorEndpoint is the base URL the network mirror posts to.
	// Default: http://localhost:3001
	MirrorEndpoint string `toml:"mirror_endpoint" yaml:"mirror_endpoint"`

	// MaxSessions is the session-count ceiling. Default: 50
	MaxSessions int `toml:"max_sessions" yaml:"max_sessions"`

	// CapacityBytes is the primary store capacity used both for quota
	// enforcement and the percentFull estimate. Default: 5 MiB
	CapacityBytes int64 `toml:"capacity_bytes" yaml:"capacity_bytes"`

	// QuotaPolicy selects what is evicted when a write exceeds capacity:
	// "halve-sessions" or "drop-oldest-session". Default: halve-sessions
	QuotaPolicy string `toml:"quota_policy" yaml:"quota_policy"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level" yaml:"log_level"`

	// MirrorWorkers is the number of goroutines running mirror writes. Default: 2
	MirrorWorkers int `toml:"mirror_workers" yaml:"mirror_workers"`

	// MirrorQueue bounds pending mirror jobs; jobs beyond it are dropped. Default: 64
	MirrorQueue int `toml:"mirror_queue" yaml:"mirror_queue"`

	// MirrorRate caps network mirror requests per second. Default: 20
	MirrorRate float64 `toml:"mirror_rate" yaml:"mirror_rate"`

	// MirrorTimeoutMs is the per-request network mirror timeout. Default: 5000
	MirrorTimeoutMs int `toml:"mirror_timeout_ms" yaml:"mirror_timeout_ms"`

	// DiskMirror enables mirroring into the configured images folder handle.
	// Nil means enabled.
	DiskMirror *bool `toml:"disk_mirror" yaml:"disk_mirror"`

	// NetworkMirror enables posting images to MirrorEndpoint.
	// Nil means enabled.
	NetworkMirror *bool `toml:"network_mirror" yaml:"network_mirror"`
}

// DefaultDataDir returns ~/.picbreeder.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".picbreeder"), nil
}

// DefaultConfigPath returns the default config file location: ~/.picbreeder/config.toml.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads a config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location.
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
//
// Defaults are not applied; call ApplyDefaults after flag overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	return cfg, nil
}

// ApplyDefaults fills every unset field. A leading "~/" in directory
// fields is expanded to the user's home directory.
func (c *Config) ApplyDefaults() error {
	if c.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return err
		}
		c.DataDir = dir
	}
	c.DataDir = expandHome(c.DataDir)
	if c.ImagesDir == "" {
		c.ImagesDir = filepath.Join(c.DataDir, "images")
	}
	c.ImagesDir = expandHome(c.ImagesDir)
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.MirrorEndpoint == "" {
		c.MirrorEndpoint = DefaultMirrorEndpoint
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.CapacityBytes == 0 {
		c.CapacityBytes = DefaultCapacityBytes
	}
	if c.QuotaPolicy == "" {
		c.QuotaPolicy = DefaultQuotaPolicy
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.MirrorWorkers == 0 {
		c.MirrorWorkers = DefaultMirrorWorkers
	}
	if c.MirrorQueue == 0 {
		c.MirrorQueue = DefaultMirrorQueue
	}
	if c.MirrorRate == 0 {
		c.MirrorRate = DefaultMirrorRate
	}
	if c.MirrorTimeoutMs == 0 {
		c.MirrorTimeoutMs = DefaultMirrorTimeoutMs
	}
	return nil
}

// Validate reports the first out-of-range value as a config.invalid error.
func (c *Config) Validate() error {
	switch {
	case c.MaxSessions < 1:
		return apperrors.ConfigInvalid("max_sessions", "must be at least 1")
	case c.CapacityBytes < 1:
		return apperrors.ConfigInvalid("capacity_bytes", "must be positive")
	case !slices.Contains(QuotaPolicies, c.QuotaPolicy):
		return apperrors.ConfigInvalid("quota_policy", fmt.Sprintf("unknown policy %q (want one of %s)", c.QuotaPolicy, strings.Join(QuotaPolicies, ", ")))
	case c.MirrorWorkers < 1:
		return apperrors.ConfigInvalid("mirror_workers", "must be at least 1")
	case c.MirrorQueue < 1:
		return apperrors.ConfigInvalid("mirror_queue", "must be at least 1")
	case c.MirrorRate <= 0:
		return apperrors.ConfigInvalid("mirror_rate", "must be positive")
	case c.MirrorTimeoutMs < 1:
		return apperrors.ConfigInvalid("mirror_timeout_ms", "must be positive")
	}
	return nil
}

// DiskMirrorEnabled reports whether the disk mirror should run.
func (c *Config) DiskMirrorEnabled() bool {
	return c.DiskMirror == nil || *c.DiskMirror
}

// NetworkMirrorEnabled reports whether the network mirror should run.
func (c *Config) NetworkMirrorEnabled() bool {
	return c.NetworkMirror == nil || *c.NetworkMirror
}

// PrimaryStorePath is the SQLite file holding the session history.
func (c *Config) PrimaryStorePath() string {
	return filepath.Join(c.DataDir, "primary.db")
}

// HandleStorePath is the SQLite file holding folder handles.
func (c *Config) HandleStorePath() string {
	return filepath.Join(c.DataDir, "handles.db")
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
