package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acgodson/blueband/internal/errors"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Embeddings.Provider)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, 100, cfg.Cache.MaxMemoryMB)
	assert.Equal(t, 24, cfg.Cache.TTLHours)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 1
embeddings:
  provider: static
  timeout_seconds: 30
cache:
  max_entries: 5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, 30, cfg.Embeddings.TimeoutSeconds)
	assert.Equal(t, 5, cfg.Cache.MaxEntries)
	// Untouched fields keep defaults
	assert.Equal(t, 100, cfg.Cache.MaxMemoryMB)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embeddings:\n  url: http://file.example\n"), 0o644))

	t.Setenv("BLUEBAND_EMBEDDINGS_URL", "http://env.example")
	t.Setenv("BLUEBAND_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env.example", cfg.Embeddings.URL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate_Rejections(t *testing.T) {
	mutations := []func(*Config){
		func(c *Config) { c.Embeddings.Provider = "carrier-pigeon" },
		func(c *Config) { c.Embeddings.TimeoutSeconds = 0 },
		func(c *Config) { c.Cache.MaxEntries = 0 },
		func(c *Config) { c.Cache.MaxMemoryMB = -1 },
		func(c *Config) { c.Store.DataDir = "" },
		func(c *Config) { c.Server.SocketPath = "" },
	}
	for i, mutate := range mutations {
		cfg := DefaultConfig()
		mutate(cfg)
		err := cfg.Validate()
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput), "mutation %d should fail validation", i)
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Cache.MaxEntries = 77
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 77, got.Cache.MaxEntries)
}
