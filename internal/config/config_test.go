package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig(WithLogger(zap.NewNop()))
	require.NoError(t, err)

	assert.Equal(t, ".cache/cinder", cfg.CacheDir)
	assert.Equal(t, BackendFile, cfg.Backend)
	assert.Equal(t, time.Hour, cfg.DefaultMaxAge)
	assert.Equal(t, 10*time.Minute, cfg.CleanupInterval)
	assert.Equal(t, 100, cfg.OpLogCapacity)
	assert.Equal(t, int64(32<<20), cfg.HotCacheSize)
	assert.False(t, cfg.PurgeOnDestroy)
	assert.NotNil(t, cfg.Registry)
	assert.Equal(t, 0.5, cfg.Health.MinHitRate)
}

func TestNewConfig_OptionErrors(t *testing.T) {
	_, err := NewConfig(WithShardCount(0))
	assert.ErrorIs(t, err, ErrShardCountZero)

	_, err = NewConfig(WithDefaultMaxAge(0))
	assert.ErrorIs(t, err, ErrInvalidMaxAge)

	_, err = NewConfig(WithRedis(nil, ""))
	assert.ErrorIs(t, err, ErrMissingRedisClient)

	_, err = NewConfig(WithCacheDir(""))
	assert.Error(t, err)
}

func TestWithFile(t *testing.T) {
	dir := t.TempDir()
	registryPath := filepath.Join(dir, "domains.yaml")
	require.NoError(t, os.WriteFile(registryPath, []byte(`
domains:
  - {name: status, key: status-data, maxAge: 1m, source: status, version: "3"}
`), 0o644))

	path := filepath.Join(dir, "cinder.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache_dir = "/var/cache/site"
compression = true
default_max_age = "90s"
cleanup_interval = "0s"
identity_fields = ["slug"]
registry_file = "`+filepath.ToSlash(registryPath)+`"

[health]
min_hit_rate = 0.7

[maintenance]
max_cleanup_age = "2h"
`), 0o644))

	cfg, err := NewConfig(WithLogger(zap.NewNop()), WithFile(path))
	require.NoError(t, err)

	assert.Equal(t, "/var/cache/site", cfg.CacheDir)
	assert.True(t, cfg.Compression)
	assert.Equal(t, 90*time.Second, cfg.DefaultMaxAge)
	assert.Zero(t, cfg.CleanupInterval)
	assert.Equal(t, []string{"slug"}, cfg.IdentityFields)
	assert.Equal(t, 0.7, cfg.Health.MinHitRate)
	assert.Equal(t, 0.2, cfg.Health.CriticalHitRate)
	assert.Equal(t, 2*time.Hour, cfg.Maintenance.MaxCleanupAge)

	d, err := cfg.Registry.Lookup("status")
	require.NoError(t, err)
	assert.Equal(t, "3", d.Version)
}

func TestLoadFile_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cinder.toml")
	require.NoError(t, os.WriteFile(path, []byte(`cache_dirr = "x"`), 0o644))

	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "unknown config keys")
}
