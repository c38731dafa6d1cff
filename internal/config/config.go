// Package config holds the settings shared by every cinder component.
package config

import (
	"errors"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/cinder/internal/health"
	"goflare.io/cinder/internal/merge"
	"goflare.io/cinder/internal/registry"
)

// Backend names the durable store.
type Backend string

const (
	BackendFile  Backend = "file"
	BackendRedis Backend = "redis"
)

// Config configures a cache instance.
type Config struct {
	// CacheDir is the directory holding one record per key for the file backend.
	CacheDir string
	// Filesystem overrides CacheDir with an arbitrary billy filesystem.
	Filesystem billy.Filesystem

	Backend        Backend
	Redis          redis.UniversalClient
	RedisKeyPrefix string

	Compression      bool
	HotCacheSize     int64
	ShardCount       uint64
	DefaultMaxAge    time.Duration
	CleanupInterval  time.Duration
	OpLogCapacity    int
	BatchConcurrency int
	PurgeOnDestroy   bool
	IdentityFields   []string

	Registry            *registry.Registry
	BloomFilterSettings BloomFilterConfig
	ResilienceConfig    ResilienceConfig
	Health              health.Thresholds
	Maintenance         MaintenanceConfig
	Logger              *zap.Logger

	// Prometheus receives the stats collector when set.
	Prometheus prometheus.Registerer
}

// BloomFilterConfig sizes the file store's negative-lookup filter.
type BloomFilterConfig struct {
	ExpectedItems     uint
	FalsePositiveRate float64
}

// ResilienceConfig guards calls to the Redis backend.
type ResilienceConfig struct {
	CircuitBreaker gobreaker.Settings
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	Jitter         float64
}

// MaintenanceConfig decides when scheduled maintenance has work to do.
type MaintenanceConfig struct {
	// MaxExpiredRatio of expired to live entries that triggers maintenance.
	MaxExpiredRatio float64
	// MaxCleanupAge since the last cleanup that triggers maintenance.
	MaxCleanupAge time.Duration
}

// Option configures a Config.
type Option func(*Config) error

var (
	ErrShardCountZero     = errors.New("shard count must be at least 1")
	ErrInvalidMaxAge      = errors.New("default max age must be positive")
	ErrInvalidInterval    = errors.New("cleanup interval must not be negative")
	ErrMissingRedisClient = errors.New("redis backend requires a client")
	ErrInvalidBackend     = errors.New("unknown backend")
)

// NewConfig creates a Config with defaults and applies options in order.
func NewConfig(options ...Option) (*Config, error) {
	cfg := &Config{
		CacheDir:        ".cache/cinder",
		Backend:         BackendFile,
		RedisKeyPrefix:  "cinder:",
		HotCacheSize:    32 << 20,
		ShardCount:      32,
		DefaultMaxAge:   time.Hour,
		CleanupInterval: 10 * time.Minute,
		OpLogCapacity:   100,
		IdentityFields:  merge.DefaultIdentityFields,
		Registry:        registry.Default(),
		BloomFilterSettings: BloomFilterConfig{
			ExpectedItems:     10000,
			FalsePositiveRate: 0.01,
		},
		ResilienceConfig: ResilienceConfig{
			CircuitBreaker: gobreaker.Settings{
				Name:        "cinder-redis",
				MaxRequests: 3,
				Interval:    60 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures > 5
				},
			},
			MaxRetries: 3,
			BaseDelay:  100 * time.Millisecond,
			MaxDelay:   time.Second,
			Multiplier: 2,
			Jitter:     0.2,
		},
		Health: health.DefaultThresholds(),
		Maintenance: MaintenanceConfig{
			MaxExpiredRatio: 0.2,
			MaxCleanupAge:   time.Hour,
		},
	}

	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, err
		}
		cfg.Logger = logger
	}
	return cfg, nil
}

// Validate checks the fields options cannot check on their own.
func (c *Config) Validate() error {
	switch {
	case c.ShardCount == 0:
		return ErrShardCountZero
	case c.DefaultMaxAge <= 0:
		return ErrInvalidMaxAge
	case c.CleanupInterval < 0:
		return ErrInvalidInterval
	}
	switch c.Backend {
	case BackendFile:
	case BackendRedis:
		if c.Redis == nil {
			return ErrMissingRedisClient
		}
	default:
		return ErrInvalidBackend
	}
	return nil
}

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithCacheDir sets the directory of the file backend.
func WithCacheDir(dir string) Option {
	return func(c *Config) error {
		if dir == "" {
			return errors.New("cache dir must not be empty")
		}
		c.CacheDir = dir
		return nil
	}
}

// WithFilesystem stores records in fs instead of CacheDir.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(c *Config) error {
		c.Filesystem = fs
		return nil
	}
}

// WithRedis switches the durable store to Redis.
func WithRedis(client redis.UniversalClient, keyPrefix string) Option {
	return func(c *Config) error {
		if client == nil {
			return ErrMissingRedisClient
		}
		c.Backend = BackendRedis
		c.Redis = client
		if keyPrefix != "" {
			c.RedisKeyPrefix = keyPrefix
		}
		return nil
	}
}

// WithCompression stores new records zstd-compressed.
func WithCompression(enabled bool) Option {
	return func(c *Config) error {
		c.Compression = enabled
		return nil
	}
}

// WithHotCacheSize sets the in-process tier size in bytes. Zero disables it.
func WithHotCacheSize(size int64) Option {
	return func(c *Config) error {
		if size < 0 {
			return errors.New("hot cache size must not be negative")
		}
		c.HotCacheSize = size
		return nil
	}
}

// WithShardCount sets the number of key lock stripes.
func WithShardCount(count uint64) Option {
	return func(c *Config) error {
		if count == 0 {
			return ErrShardCountZero
		}
		c.ShardCount = count
		return nil
	}
}

// WithDefaultMaxAge sets the max age used when a write carries none.
func WithDefaultMaxAge(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return ErrInvalidMaxAge
		}
		c.DefaultMaxAge = d
		return nil
	}
}

// WithCleanupInterval sets the expiry sweep period. Zero disables the sweeper.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return ErrInvalidInterval
		}
		c.CleanupInterval = d
		return nil
	}
}

// WithOpLogCapacity sets how many operation records are retained.
func WithOpLogCapacity(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return errors.New("operation log capacity must be positive")
		}
		c.OpLogCapacity = n
		return nil
	}
}

// WithBatchConcurrency bounds concurrent fetches in a batch. Zero is unbounded.
func WithBatchConcurrency(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return errors.New("batch concurrency must not be negative")
		}
		c.BatchConcurrency = n
		return nil
	}
}

// WithPurgeOnDestroy removes every persisted entry when the cache is destroyed.
func WithPurgeOnDestroy(purge bool) Option {
	return func(c *Config) error {
		c.PurgeOnDestroy = purge
		return nil
	}
}

// WithIdentityFields sets the fields used to match array elements when merging.
func WithIdentityFields(fields ...string) Option {
	return func(c *Config) error {
		c.IdentityFields = fields
		return nil
	}
}

// WithRegistry replaces the built-in domain registry.
func WithRegistry(r *registry.Registry) Option {
	return func(c *Config) error {
		if r == nil {
			return errors.New("registry must not be nil")
		}
		c.Registry = r
		return nil
	}
}

// WithHealthThresholds replaces the health thresholds.
func WithHealthThresholds(t health.Thresholds) Option {
	return func(c *Config) error {
		c.Health = t
		return nil
	}
}

// WithMaintenance replaces the maintenance triggers.
func WithMaintenance(m MaintenanceConfig) Option {
	return func(c *Config) error {
		c.Maintenance = m
		return nil
	}
}

// WithBloomFilter sizes the file store's key filter.
func WithBloomFilter(expectedItems uint, falsePositiveRate float64) Option {
	return func(c *Config) error {
		if expectedItems == 0 || falsePositiveRate <= 0 || falsePositiveRate >= 1 {
			return errors.New("invalid bloom filter settings")
		}
		c.BloomFilterSettings = BloomFilterConfig{ExpectedItems: expectedItems, FalsePositiveRate: falsePositiveRate}
		return nil
	}
}

// WithCircuitBreaker replaces the Redis circuit breaker settings.
func WithCircuitBreaker(s gobreaker.Settings) Option {
	return func(c *Config) error {
		c.ResilienceConfig.CircuitBreaker = s
		return nil
	}
}

// WithPrometheus exports cache statistics through reg.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(c *Config) error {
		c.Prometheus = reg
		return nil
	}
}
