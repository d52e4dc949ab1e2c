// Package config loads ditl settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// DirPrefix marks a store location as a directory store.
const DirPrefix = "dir:"

// Config holds environment settings. Command-line flags override them.
type Config struct {
	// Store is a SQLite database path, or DirPrefix followed by a directory.
	Store string `env:"DITL_STORE" envDefault:"ditl.db"`

	LogLevel string `env:"DITL_LOG_LEVEL" envDefault:"info"`

	// OTelEndpoint enables span export over OTLP/HTTP when set.
	OTelEndpoint string `env:"DITL_OTEL_ENDPOINT"`

	// SnapshotInterval, when positive, overrides the snapshot period of
	// written traces.
	SnapshotInterval int64 `env:"DITL_SNAPSHOT_INTERVAL"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	if c.Store == "" || c.Store == DirPrefix {
		return fmt.Errorf("store location is empty")
	}
	if c.SnapshotInterval < 0 {
		return fmt.Errorf("snapshot interval %d is negative", c.SnapshotInterval)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// StoreDir returns the directory of a directory store location.
func (c Config) StoreDir() (string, bool) {
	return strings.CutPrefix(c.Store, DirPrefix)
}
