package profile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// configFileName is the user-profile settings file, a flat TOML document
// under the user's profile directory (spec.md §6.1). Unlike the teacher's
// drive-scoped config, this carries no per-dataset sections: dataset
// registry bindings live in tags.json (tags.go), not here.
const configFileName = "config.toml"

const (
	defaultTileSize          = 256
	defaultCacheRetentionDays = 5
	defaultAuthTimeout        = "30s"
)

// Config holds the handful of settings spec.md's core consults on its own
// behalf: the default tile edge length (§4.4), how long unused cache
// entries survive a sweep (§4.4.1/C.2), and the registry client's HTTP
// timeout (§4.6.5). Everything else the teacher's Config carries (transfer
// concurrency, bandwidth limits, sync polling, drive sections) belongs to
// the CLI-level override chain spec.md §1 treats as an external collaborator.
type Config struct {
	DefaultTileSize    int    `toml:"default_tile_size"`
	CacheRetentionDays int    `toml:"cache_retention_days"`
	AuthTimeout        string `toml:"auth_timeout"`
}

// DefaultConfig returns a Config populated with safe defaults, used both as
// the decode target (so unset keys keep their default) and as the result
// when no config.toml exists, mirroring the teacher's DefaultConfig/
// LoadOrDefault split.
func DefaultConfig() *Config {
	return &Config{
		DefaultTileSize:    defaultTileSize,
		CacheRetentionDays: defaultCacheRetentionDays,
		AuthTimeout:        defaultAuthTimeout,
	}
}

// LoadConfig reads config.toml from userDir, returning DefaultConfig when the
// file doesn't exist (the zero-config first-run path the teacher's
// LoadOrDefault also takes).
func LoadConfig(userDir string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	path := filepath.Join(userDir, configFileName)

	cfg := DefaultConfig()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("profile: config file not found, using defaults", "path", path)

		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("profile: parsing config file %s: %w", path, err)
	}

	logger.Debug("profile: config file parsed", "path", path)

	return cfg, nil
}

// CacheRetention returns CacheRetentionDays as a time.Duration for Sweep.
func (c *Config) CacheRetention() time.Duration {
	return time.Duration(c.CacheRetentionDays) * 24 * time.Hour
}

// AuthTimeoutDuration parses AuthTimeout, falling back to the default on a
// malformed value rather than failing the whole config load over one field.
func (c *Config) AuthTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.AuthTimeout)
	if err != nil {
		d, _ = time.ParseDuration(defaultAuthTimeout)
	}

	return d
}

// TileSizeOrDefault returns DefaultTileSize when unset or non-positive.
func (c *Config) TileSizeOrDefault() int {
	if c.DefaultTileSize <= 0 {
		return defaultTileSize
	}

	return c.DefaultTileSize
}
