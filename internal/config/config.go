// Package config loads and validates the custodian configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/custodian-dev/custodian/internal/domain"
	"github.com/custodian-dev/custodian/internal/hasher"
)

// Config is the complete custodian configuration
type Config struct {
	// Algorithm is the hash algorithm name (sha256, sha1, md5)
	Algorithm string `mapstructure:"algorithm"`

	// Workers overrides the profiled worker count when > 0
	Workers int `mapstructure:"workers"`

	// ChunkSizeKB overrides the profiled chunk size when > 0
	ChunkSizeKB int `mapstructure:"chunk_size_kb"`

	// FastMode reuses in-copy digests instead of re-reading the source
	// during copy-and-verify. Off by default.
	FastMode bool `mapstructure:"fast_mode"`

	// Include and Exclude are doublestar glob patterns applied to the
	// slash-form relative path
	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`

	// FollowSymlinks resolves symlinked files instead of skipping them
	FollowSymlinks bool `mapstructure:"follow_symlinks"`

	Log     LogConfig     `mapstructure:"log"`
	History HistoryConfig `mapstructure:"history"`
}

// LogConfig configures process logging
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`

	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// HistoryConfig configures the run-history database
type HistoryConfig struct {
	// Enabled turns on run recording
	Enabled bool `mapstructure:"enabled"`

	// Path of the sqlite database file; empty picks the default under
	// the user config directory
	Path string `mapstructure:"path"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Algorithm: string(hasher.SHA256),
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxAgeDays: 30,
			MaxBackups: 5,
		},
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Algorithm != "" && !hasher.IsSupported(hasher.Algorithm(c.Algorithm)) {
		return fmt.Errorf("%w: algorithm %q", domain.ErrUnsupportedAlgorithm, c.Algorithm)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers cannot be negative", domain.ErrConfigInvalid)
	}
	if c.ChunkSizeKB < 0 {
		return fmt.Errorf("%w: chunk_size_kb cannot be negative", domain.ErrConfigInvalid)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: log level %q", domain.ErrConfigInvalid, c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", domain.ErrConfigInvalid, c.Log.Format)
	}
	return nil
}

// HashAlgorithm returns the configured algorithm, defaulting to sha256
func (c *Config) HashAlgorithm() hasher.Algorithm {
	if c.Algorithm == "" {
		return hasher.SHA256
	}
	return hasher.Algorithm(c.Algorithm)
}

// ChunkSize converts the configured KB override to bytes
func (c *Config) ChunkSize() int {
	return c.ChunkSizeKB * 1024
}

// HistoryPath returns the configured history database path or the
// platform default
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return ExpandPath(c.History.Path)
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(configDir, "custodian", "history.db")
	}
	return "custodian-history.db"
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
				path = filepath.Join(home, path[2:])
			} else if len(path) == 1 {
				path = home
			}
		}
	}
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}
