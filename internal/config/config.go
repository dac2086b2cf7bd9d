// Package config provides configuration loading for the memo CLI and server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Store     StoreConfig     `yaml:"store"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Recall    RecallConfig    `yaml:"recall"`
	Analyze   AnalyzeConfig   `yaml:"analyze"`
	Server    ServerConfig    `yaml:"server"`
	Watch     WatchConfig     `yaml:"watch"`
}

// StoreConfig selects the store base path and record table layout.
type StoreConfig struct {
	Base   string `yaml:"base"`
	Layout string `yaml:"layout"`
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	Type           string `yaml:"type"`
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
	EfSearch       int    `yaml:"ef_search"`
	Compress       *bool  `yaml:"compress"`
}

// CompressOrDefault returns whether index blobs are zstd-compressed; defaults to true when unset.
func (c *IndexConfig) CompressOrDefault() bool {
	if c.Compress != nil {
		return *c.Compress
	}
	return true
}

// EmbeddingConfig holds hash embedder settings.
type EmbeddingConfig struct {
	Dimensions int `yaml:"dimensions"`
	CacheSize  int `yaml:"cache_size"`
}

// RecallConfig holds recall defaults.
type RecallConfig struct {
	DefaultK   int      `yaml:"default_k"`
	MaxK       int      `yaml:"max_k"`
	ScoreFloor *float64 `yaml:"score_floor"`
}

// ScoreFloorOrDefault returns the configured floor, or -0.9 when unset.
func (c *RecallConfig) ScoreFloorOrDefault() float64 {
	if c.ScoreFloor != nil {
		return *c.ScoreFloor
	}
	return DefaultScoreFloor
}

// AnalyzeConfig holds analyze defaults.
type AnalyzeConfig struct {
	DefaultLimit int `yaml:"default_limit"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WatchConfig holds inbox watch settings.
type WatchConfig struct {
	Directory  string   `yaml:"directory"`
	Extensions []string `yaml:"extensions"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
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

	// Only paths written in the file are expanded; the default base stays
	// relative to the working directory.
	configDir := filepath.Dir(path)
	if cfg.Store.Base != "" {
		cfg.Store.Base = expandPath(cfg.Store.Base, configDir)
	}
	if cfg.Watch.Directory != "" {
		cfg.Watch.Directory = expandPath(cfg.Watch.Directory, configDir)
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		path = path[2:]
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
