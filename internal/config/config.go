// Package config provides configuration loading and structs for the tsearch server and tools.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/tsearch/internal/textpipe"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool            `yaml:"debug"`
	LogLevel string          `yaml:"log_level"`
	Server   ServerConfig    `yaml:"server"`
	Index    IndexConfig     `yaml:"index"`
	Analysis textpipe.Config `yaml:"analysis"`
	Search   SearchConfig    `yaml:"search"`
	Source   SourceConfig    `yaml:"source"`
	Watch    WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	RequestTimeout int    `yaml:"request_timeout_seconds"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

// IndexConfig locates the index and tunes mutation.
type IndexConfig struct {
	Path           string `yaml:"path"`
	ClearChunkSize int    `yaml:"clear_chunk_size"`
}

// SearchConfig holds query settings.
type SearchConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`
	CacheSize   int `yaml:"cache_size"`
}

// SourceConfig describes the relational database posts are reindexed from.
type SourceConfig struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	Query     string `yaml:"query"`
	BatchSize int    `yaml:"batch_size"`
}

// WatchConfig holds spool directory settings. JSON modify requests dropped
// into a watched directory are applied and renamed.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
	DebounceMS  int      `yaml:"debounce_ms"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to false when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return false
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Index.Path = expandPath(cfg.Index.Path, configDir)
	if cfg.Source.Driver == "sqlite3" {
		cfg.Source.DSN = expandPath(cfg.Source.DSN, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := textpipe.New(c.Analysis); err != nil {
		return fmt.Errorf("invalid analysis config: %w", err)
	}
	switch c.Source.Driver {
	case "", "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported source driver %q", c.Source.Driver)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" is the home directory; other relative paths are left as given.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
