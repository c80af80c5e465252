// Package config loads and validates the daemon configuration.
//
// Precedence: defaults, then the YAML file, then BLUEBAND_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/acgodson/blueband/internal/errors"
)

// Config is the complete daemon configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Store      StoreConfig      `yaml:"store"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Cache      CacheConfig      `yaml:"cache"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StoreConfig configures the durable store.
type StoreConfig struct {
	// DataDir holds the region database and the process lock.
	DataDir string `yaml:"data_dir"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the adapter: "http" or "static".
	Provider string `yaml:"provider"`
	// URL is the default embedding endpoint when a collection carries no
	// proxy URL.
	URL string `yaml:"url"`
	// TimeoutSeconds bounds one provider request.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// MaxRetries is the retry budget for transient failures.
	MaxRetries int `yaml:"max_retries"`
}

// CacheConfig configures the vector cache.
type CacheConfig struct {
	MaxEntries  int `yaml:"max_entries"`
	MaxMemoryMB int `yaml:"max_memory_mb"`
	TTLHours    int `yaml:"ttl_hours"`
}

// ServerConfig configures the daemon transport.
type ServerConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	FilePath  string `yaml:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
	Stderr    bool   `yaml:"stderr"`
}

// DefaultHomeDir returns the blueband home directory (~/.blueband).
func DefaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".blueband")
	}
	return filepath.Join(home, ".blueband")
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultHomeDir(), "config.yaml")
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	home := DefaultHomeDir()
	return &Config{
		Version: 1,
		Store:   StoreConfig{DataDir: filepath.Join(home, "data")},
		Embeddings: EmbeddingsConfig{
			Provider:       "http",
			TimeoutSeconds: 60,
			MaxRetries:     3,
		},
		Cache: CacheConfig{
			MaxEntries:  1000,
			MaxMemoryMB: 100,
			TTLHours:    24,
		},
		Server: ServerConfig{SocketPath: filepath.Join(home, "bluebandd.sock")},
		Logging: LoggingConfig{
			Level:     "info",
			FilePath:  filepath.Join(home, "logs", "bluebandd.log"),
			MaxSizeMB: 10,
			MaxFiles:  5,
			Stderr:    true,
		},
	}
}

// Load reads the config file (missing file means defaults), applies env
// overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults apply.
	case err != nil:
		return nil, errors.Wrap(errors.ErrCodeInternal, fmt.Errorf("read config %s: %w", path, err))
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.InvalidInput("config", fmt.Sprintf("parse %s: %v", path, err))
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers BLUEBAND_* variables over the loaded values.
func (c *Config) applyEnv() {
	if v := os.Getenv("BLUEBAND_DATA_DIR"); v != "" {
		c.Store.DataDir = v
	}
	if v := os.Getenv("BLUEBAND_EMBEDDINGS_URL"); v != "" {
		c.Embeddings.URL = v
	}
	if v := os.Getenv("BLUEBAND_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("BLUEBAND_SOCKET"); v != "" {
		c.Server.SocketPath = v
	}
	if v := os.Getenv("BLUEBAND_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BLUEBAND_CACHE_MAX_MEMORY_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.MaxMemoryMB = n
		}
	}
}

// Validate range-checks the configuration.
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case "http", "static":
	default:
		return errors.InvalidInput("embeddings.provider", "must be \"http\" or \"static\"")
	}
	if c.Embeddings.TimeoutSeconds <= 0 {
		return errors.InvalidInput("embeddings.timeout_seconds", "must be positive")
	}
	if c.Cache.MaxEntries <= 0 {
		return errors.InvalidInput("cache.max_entries", "must be positive")
	}
	if c.Cache.MaxMemoryMB <= 0 {
		return errors.InvalidInput("cache.max_memory_mb", "must be positive")
	}
	if c.Cache.TTLHours <= 0 {
		return errors.InvalidInput("cache.ttl_hours", "must be positive")
	}
	if c.Store.DataDir == "" {
		return errors.InvalidInput("store.data_dir", "must not be empty")
	}
	if c.Server.SocketPath == "" {
		return errors.InvalidInput("server.socket_path", "must not be empty")
	}
	return nil
}

// Save writes the config as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	return nil
}
