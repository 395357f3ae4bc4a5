// Package config handles application configuration from an optional TOML
// file and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// DatabaseFile is the name of the gravity database inside the Pi-hole directory.
const DatabaseFile = "gravity.db"

// Defaults match a stock Pi-hole installation.
const (
	DefaultDatabaseDir = "/etc/pihole"
	DefaultDocument    = "gravity.yaml"
	DefaultLogLevel    = "info"
)

// Config holds the application configuration.
type Config struct {
	DatabaseDir string `toml:"database_dir"`
	Document    string `toml:"document"`
	LogLevel    string `toml:"log_level"`
	// MetricsFile, when set, receives Prometheus textfile metrics after each run.
	MetricsFile string `toml:"metrics_file"`
}

// Load builds the configuration from defaults, then the TOML file at path
// (skipped when path is empty), then GRAVITYYAML_* environment variables.
func Load(path string) (*Config, error) {
	cfg := &Config{
		DatabaseDir: DefaultDatabaseDir,
		Document:    DefaultDocument,
		LogLevel:    DefaultLogLevel,
	}

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	if v := os.Getenv("GRAVITYYAML_DATABASE_DIR"); v != "" {
		cfg.DatabaseDir = v
	}
	if v := os.Getenv("GRAVITYYAML_DOCUMENT"); v != "" {
		cfg.Document = v
	}
	if v := os.Getenv("GRAVITYYAML_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GRAVITYYAML_METRICS_FILE"); v != "" {
		cfg.MetricsFile = v
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}

	return cfg, nil
}

// DatabasePath returns the full path of gravity.db.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DatabaseDir, DatabaseFile)
}
