package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/redis/go-redis/v9"

	"goflare.io/cinder/internal/registry"
)

// Duration is a time.Duration read from strings such as "90s" or "1h30m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// File mirrors the TOML configuration file. Unset fields keep their defaults.
//
//	cache_dir = ".cache/cinder"
//	compression = true
//	default_max_age = "1h"
//	registry_file = "domains.yaml"
//
//	[redis]
//	addr = "localhost:6379"
//
//	[health]
//	min_hit_rate = 0.6
type File struct {
	CacheDir         string    `toml:"cache_dir"`
	Compression      *bool     `toml:"compression"`
	HotCacheSize     *int64    `toml:"hot_cache_size"`
	ShardCount       *uint64   `toml:"shard_count"`
	DefaultMaxAge    *Duration `toml:"default_max_age"`
	CleanupInterval  *Duration `toml:"cleanup_interval"`
	OpLogCapacity    *int      `toml:"oplog_capacity"`
	BatchConcurrency *int      `toml:"batch_concurrency"`
	PurgeOnDestroy   *bool     `toml:"purge_on_destroy"`
	IdentityFields   []string  `toml:"identity_fields"`
	RegistryFile     string    `toml:"registry_file"`

	Redis       *RedisFile       `toml:"redis"`
	Health      *HealthFile      `toml:"health"`
	Maintenance *MaintenanceFile `toml:"maintenance"`
}

// RedisFile selects the Redis backend.
type RedisFile struct {
	Addr      string `toml:"addr"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

// HealthFile overrides health thresholds.
type HealthFile struct {
	MinHitRate          *float64 `toml:"min_hit_rate"`
	CriticalHitRate     *float64 `toml:"critical_hit_rate"`
	MaxExpiredRatio     *float64 `toml:"max_expired_ratio"`
	MaxDiskBytes        *int64   `toml:"max_disk_bytes"`
	MaxFailureRate      *float64 `toml:"max_failure_rate"`
	CriticalFailureRate *float64 `toml:"critical_failure_rate"`
	MinSamples          *int64   `toml:"min_samples"`
}

// MaintenanceFile overrides maintenance triggers.
type MaintenanceFile struct {
	MaxExpiredRatio *float64  `toml:"max_expired_ratio"`
	MaxCleanupAge   *Duration `toml:"max_cleanup_age"`
}

// LoadFile decodes a TOML configuration file.
func LoadFile(path string) (*File, error) {
	var f File
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys: %v", undecoded)
	}
	return &f, nil
}

// WithFile applies the settings of a TOML configuration file.
func WithFile(path string) Option {
	return func(c *Config) error {
		f, err := LoadFile(path)
		if err != nil {
			return err
		}
		return f.Apply(c)
	}
}

// Apply copies every set field onto c.
func (f *File) Apply(c *Config) error {
	if f.CacheDir != "" {
		c.CacheDir = f.CacheDir
	}
	setIf(&c.Compression, f.Compression)
	setIf(&c.HotCacheSize, f.HotCacheSize)
	setIf(&c.ShardCount, f.ShardCount)
	setIf(&c.OpLogCapacity, f.OpLogCapacity)
	setIf(&c.BatchConcurrency, f.BatchConcurrency)
	setIf(&c.PurgeOnDestroy, f.PurgeOnDestroy)
	if f.DefaultMaxAge != nil {
		c.DefaultMaxAge = f.DefaultMaxAge.Duration
	}
	if f.CleanupInterval != nil {
		c.CleanupInterval = f.CleanupInterval.Duration
	}
	if f.IdentityFields != nil {
		c.IdentityFields = f.IdentityFields
	}

	if f.RegistryFile != "" {
		r, err := registry.LoadFile(f.RegistryFile)
		if err != nil {
			return err
		}
		c.Registry = r
	}

	if f.Redis != nil && f.Redis.Addr != "" {
		c.Backend = BackendRedis
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     f.Redis.Addr,
			Username: f.Redis.Username,
			Password: f.Redis.Password,
			DB:       f.Redis.DB,
		})
		if f.Redis.KeyPrefix != "" {
			c.RedisKeyPrefix = f.Redis.KeyPrefix
		}
	}

	if h := f.Health; h != nil {
		setIf(&c.Health.MinHitRate, h.MinHitRate)
		setIf(&c.Health.CriticalHitRate, h.CriticalHitRate)
		setIf(&c.Health.MaxExpiredRatio, h.MaxExpiredRatio)
		setIf(&c.Health.MaxDiskBytes, h.MaxDiskBytes)
		setIf(&c.Health.MaxFailureRate, h.MaxFailureRate)
		setIf(&c.Health.CriticalFailureRate, h.CriticalFailureRate)
		setIf(&c.Health.MinSamples, h.MinSamples)
	}

	if m := f.Maintenance; m != nil {
		setIf(&c.Maintenance.MaxExpiredRatio, m.MaxExpiredRatio)
		if m.MaxCleanupAge != nil {
			c.Maintenance.MaxCleanupAge = m.MaxCleanupAge.Duration
		}
	}
	return nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
