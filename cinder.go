// Package cinder is a persistent TTL cache for content-site data. It keeps
// one record per key on disk or in Redis, detects and merges changes between
// successive fetches, and coalesces concurrent fetches of the same key.
package cinder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/go-github/v67/github"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/cinder/internal/codec"
	"goflare.io/cinder/internal/config"
	"goflare.io/cinder/internal/diff"
	"goflare.io/cinder/internal/fetch"
	"goflare.io/cinder/internal/health"
	"goflare.io/cinder/internal/manager"
	"goflare.io/cinder/internal/merge"
	"goflare.io/cinder/internal/metrics"
	"goflare.io/cinder/internal/models"
	"goflare.io/cinder/internal/registry"
	"goflare.io/cinder/internal/retrier"
	"goflare.io/cinder/internal/store"
	"goflare.io/cinder/internal/views"
	"goflare.io/cinder/pkg/value"
)

type (
	// Value is a JSON value with ordered object keys.
	Value = value.Value
	// DomainConfig is the expiry and provenance applied to a write.
	DomainConfig = registry.DomainConfig
	// Domain is a registered data domain.
	Domain = registry.Domain
	// Fetcher produces fresh data for a key.
	Fetcher = fetch.Fetcher
	// Result is the outcome of one domain in a batch.
	Result = fetch.Result
	// MergeConfig selects how MergeData combines values.
	MergeConfig = merge.Config
	// ChangeSet lists the paths that differ between two values.
	ChangeSet = diff.Result
	// Stats is a snapshot of cache statistics.
	Stats = models.CacheStats
	// Entry is a stored record.
	Entry = models.Entry
	// OperationRecord is one entry of the operation log.
	OperationRecord = models.OperationRecord
	// PerformanceMetrics is what OptimizeCache reports.
	PerformanceMetrics = models.PerformanceMetrics
	// HealthStatus is the result of a health check.
	HealthStatus = health.Status
	// HealthThresholds configures the health checks.
	HealthThresholds = health.Thresholds
	// MaintenanceReport describes one maintenance run.
	MaintenanceReport = fetch.MaintenanceReport
	// WarmReport describes one warming pass.
	WarmReport = fetch.WarmReport
	// Matcher selects keys to invalidate.
	Matcher = manager.Matcher
	// EntryInfo is the metadata kept for a stored key.
	EntryInfo = manager.EntryInfo
	// KeySet matches exactly the keys it holds.
	KeySet = manager.KeySet
	// BlogPost is a cached blog post.
	BlogPost = views.BlogPost
	// ServiceStatus is the last check of one monitored service.
	ServiceStatus = views.ServiceStatus
	// SiteStatus is the value cached for the status domain.
	SiteStatus = views.Status
)

// DecodeRepositories decodes a cached repositories value.
func DecodeRepositories(v Value) ([]*github.Repository, error) { return views.Repositories(v) }

// DecodeBlogPosts decodes a cached blog value.
func DecodeBlogPosts(v Value) ([]BlogPost, error) { return views.BlogPosts(v) }

// DecodeStatus decodes a cached status value.
func DecodeStatus(v Value) (SiteStatus, error) { return views.StatusOf(v) }

// GitHubRepositories returns a fetcher for the repositories domain listing
// every public repository of user.
func GitHubRepositories(client *github.Client, user string) Fetcher {
	return views.GitHubRepositories(client, user)
}

// Merge types and conflict resolutions.
const (
	MergeTypeMerge   = merge.TypeMerge
	MergeTypeReplace = merge.TypeReplace
	ResolveLatest    = merge.Latest
	ResolveOldest    = merge.Oldest
)

// Option configures a Cinder instance.
type Option func(*config.Config) error

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option { return Option(config.WithLogger(logger)) }

// WithCacheDir sets the directory of the file backend.
func WithCacheDir(dir string) Option { return Option(config.WithCacheDir(dir)) }

// WithFilesystem stores records in fs instead of CacheDir.
func WithFilesystem(fs billy.Filesystem) Option { return Option(config.WithFilesystem(fs)) }

// WithRedis stores records in Redis under keyPrefix.
func WithRedis(client redis.UniversalClient, keyPrefix string) Option {
	return Option(config.WithRedis(client, keyPrefix))
}

// WithCompression writes new records zstd-compressed.
func WithCompression(enabled bool) Option { return Option(config.WithCompression(enabled)) }

// WithHotCacheSize sizes the in-memory read tier in bytes. Zero disables it.
func WithHotCacheSize(size int64) Option { return Option(config.WithHotCacheSize(size)) }

// WithShardCount sets how many lock stripes guard per-key updates.
func WithShardCount(n uint64) Option { return Option(config.WithShardCount(n)) }

// WithDefaultMaxAge sets the lifetime of writes without a MaxAge.
func WithDefaultMaxAge(d time.Duration) Option { return Option(config.WithDefaultMaxAge(d)) }

// WithCleanupInterval sets the expiry sweep period. Zero disables the sweeper.
func WithCleanupInterval(d time.Duration) Option { return Option(config.WithCleanupInterval(d)) }

// WithOpLogCapacity sets how many operation records are retained.
func WithOpLogCapacity(n int) Option { return Option(config.WithOpLogCapacity(n)) }

// WithBatchConcurrency bounds parallel domains in BatchFetch.
func WithBatchConcurrency(n int) Option { return Option(config.WithBatchConcurrency(n)) }

// WithPurgeOnDestroy removes every entry on Close.
func WithPurgeOnDestroy(purge bool) Option { return Option(config.WithPurgeOnDestroy(purge)) }

// WithIdentityFields sets the fields that identify array elements during merges.
func WithIdentityFields(fields ...string) Option { return Option(config.WithIdentityFields(fields...)) }

// WithRegistry replaces the built-in domains.
func WithRegistry(r *registry.Registry) Option { return Option(config.WithRegistry(r)) }

// WithDomains replaces the built-in domains with domains.
func WithDomains(domains ...Domain) Option {
	return func(c *config.Config) error {
		r, err := registry.New(domains...)
		if err != nil {
			return err
		}
		c.Registry = r
		return nil
	}
}

// WithHealthThresholds replaces the health check thresholds.
func WithHealthThresholds(t HealthThresholds) Option { return Option(config.WithHealthThresholds(t)) }

// WithCircuitBreaker replaces the Redis circuit breaker settings.
func WithCircuitBreaker(s gobreaker.Settings) Option { return Option(config.WithCircuitBreaker(s)) }

// WithPrometheus exports cache statistics through reg.
func WithPrometheus(reg prometheus.Registerer) Option { return Option(config.WithPrometheus(reg)) }

// WithConfigFile applies a TOML configuration file.
func WithConfigFile(path string) Option { return Option(config.WithFile(path)) }

// Cinder ties the cache manager to fetch orchestration and maintenance.
type Cinder struct {
	manager  *manager.Manager
	fetcher  *fetch.CachedDataFetcher
	warmer   *fetch.CacheWarmer
	monitor  *fetch.CacheMonitor
	registry *registry.Registry
	logger   *zap.Logger

	mu    sync.Mutex
	stops []func()
}

// New opens the configured store and indexes the entries it already holds.
func New(ctx context.Context, opts ...Option) (*Cinder, error) {
	cfgOpts := make([]config.Option, len(opts))
	for i, opt := range opts {
		cfgOpts[i] = config.Option(opt)
	}
	cfg, err := config.NewConfig(cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mgr, err := manager.New(ctx, st, cfg)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize cache manager: %w", err)
	}

	fetcher, err := fetch.NewCachedDataFetcher(mgr, fetch.Config{
		Registry:         cfg.Registry,
		BatchConcurrency: cfg.BatchConcurrency,
		Logger:           cfg.Logger,
	})
	if err != nil {
		_ = mgr.Destroy(ctx)
		return nil, fmt.Errorf("failed to initialize fetcher: %w", err)
	}

	if cfg.Prometheus != nil {
		if _, err := metrics.Register(cfg.Prometheus, mgr); err != nil {
			_ = mgr.Destroy(ctx)
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return &Cinder{
		manager: mgr,
		fetcher: fetcher,
		warmer:  fetch.NewCacheWarmer(fetcher),
		monitor: fetch.NewCacheMonitor(mgr, fetch.MonitorConfig{
			MaxExpiredRatio: cfg.Maintenance.MaxExpiredRatio,
			MaxCleanupAge:   cfg.Maintenance.MaxCleanupAge,
			Registry:        cfg.Registry,
			Logger:          cfg.Logger,
		}),
		registry: cfg.Registry,
		logger:   cfg.Logger,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	codecs, err := codec.Default()
	if err != nil {
		return nil, fmt.Errorf("failed to create codecs: %w", err)
	}
	name := codec.JSONType
	if cfg.Compression {
		name = codec.ZstdType
	}
	primary, err := codecs.Lookup(name)
	if err != nil {
		return nil, err
	}

	var st store.Store
	switch cfg.Backend {
	case config.BackendRedis:
		rc := cfg.ResilienceConfig
		r, err := retrier.NewRetrier(rc.MaxRetries, rc.BaseDelay, rc.MaxDelay, rc.Multiplier, rc.Jitter,
			retrier.ExponentialBackoff, store.IsRetryableRedisError)
		if err != nil {
			return nil, fmt.Errorf("failed to create retrier: %w", err)
		}
		st, err = store.NewRedisStore(cfg.Redis, store.RedisStoreConfig{
			KeyPrefix: cfg.RedisKeyPrefix,
			Codec:     primary,
			Codecs:    codecs,
			Breaker:   rc.CircuitBreaker,
			Retrier:   r,
			Logger:    cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
	default:
		fs := cfg.Filesystem
		if fs == nil {
			fs = osfs.New(cfg.CacheDir)
		}
		st, err = store.NewFileStore(ctx, fs, store.FileStoreConfig{
			Codec:                  primary,
			Codecs:                 codecs,
			BloomExpectedItems:     cfg.BloomFilterSettings.ExpectedItems,
			BloomFalsePositiveRate: cfg.BloomFilterSettings.FalsePositiveRate,
			Logger:                 cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create file store: %w", err)
		}
	}

	if cfg.HotCacheSize > 0 {
		hot, err := store.NewHotStore(st, cfg.HotCacheSize, cfg.Logger)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		st = hot
	}
	return st, nil
}

// Get returns the fresh value stored under key.
func (c *Cinder) Get(ctx context.Context, key string) (Value, bool) {
	return c.manager.Get(ctx, key)
}

// Set stores v under key.
func (c *Cinder) Set(ctx context.Context, key string, v Value, dc DomainConfig) error {
	return c.manager.Set(ctx, key, v, dc)
}

// SetAny converts x through JSON and stores it under key.
func (c *Cinder) SetAny(ctx context.Context, key string, x any, dc DomainConfig) error {
	v, err := value.From(x)
	if err != nil {
		return err
	}
	return c.manager.Set(ctx, key, v, dc)
}

// GetEntry returns the stored record for key without counting a read.
func (c *Cinder) GetEntry(ctx context.Context, key string) (*Entry, bool) {
	return c.manager.GetEntry(ctx, key)
}

// GetOrFetch serves key from the cache or runs fetcher once for all
// concurrent callers and stores its result.
func (c *Cinder) GetOrFetch(ctx context.Context, key string, fetcher Fetcher, dc DomainConfig, forceRefresh bool) (Value, error) {
	return c.fetcher.GetOrFetch(ctx, key, fetcher, dc, forceRefresh)
}

// Fetch is GetOrFetch for a registered domain.
func (c *Cinder) Fetch(ctx context.Context, domain string, fetcher Fetcher, forceRefresh bool) (Value, error) {
	d, err := c.registry.Lookup(domain)
	if err != nil {
		return value.Null(), err
	}
	return c.fetcher.GetOrFetch(ctx, d.Key, fetcher, d.DomainConfig, forceRefresh)
}

// BatchFetch fetches every named domain in parallel.
func (c *Cinder) BatchFetch(ctx context.Context, fetchers map[string]Fetcher) map[string]Result {
	return c.fetcher.BatchFetch(ctx, fetchers)
}

// WarmAllCaches fills every registered domain that has a fetcher.
func (c *Cinder) WarmAllCaches(ctx context.Context, fetchers map[string]Fetcher) WarmReport {
	return c.warmer.WarmAllCaches(ctx, fetchers)
}

// DetectIncrementalChanges diffs candidate against the value stored under key.
func (c *Cinder) DetectIncrementalChanges(ctx context.Context, key string, candidate Value) ChangeSet {
	return c.manager.DetectIncrementalChanges(ctx, key, candidate)
}

// MergeData merges candidate into the value stored under key and stores the result.
func (c *Cinder) MergeData(ctx context.Context, key string, candidate Value, mc MergeConfig, dc DomainConfig) (Value, error) {
	return c.manager.MergeData(ctx, key, candidate, mc, dc)
}

// InvalidateCache removes every entry whose key matches pattern.
func (c *Cinder) InvalidateCache(ctx context.Context, pattern string) (int, error) {
	return c.manager.InvalidateCache(ctx, pattern)
}

// InvalidateMatching removes every entry whose key m accepts.
func (c *Cinder) InvalidateMatching(ctx context.Context, m Matcher) (int, error) {
	return c.manager.InvalidateMatching(ctx, m)
}

// InvalidateRelated removes every entry fetched from source.
func (c *Cinder) InvalidateRelated(ctx context.Context, source string) (int, error) {
	return c.fetcher.InvalidateRelated(ctx, source)
}

// GetStats returns a snapshot of the cache statistics.
func (c *Cinder) GetStats() Stats { return c.manager.GetStats() }

// GetHealthStatus scores the current statistics.
func (c *Cinder) GetHealthStatus() HealthStatus { return c.manager.GetHealthStatus() }

// GetRecentOperations returns up to n operations, most recent first.
func (c *Cinder) GetRecentOperations(n int) []OperationRecord {
	return c.manager.GetRecentOperations(n)
}

// Entries returns the metadata of every stored entry.
func (c *Cinder) Entries() []EntryInfo { return c.manager.Entries() }

// OptimizeCache evicts expired entries and reports performance figures.
func (c *Cinder) OptimizeCache(ctx context.Context) (PerformanceMetrics, error) {
	return c.manager.OptimizeCache(ctx)
}

// NeedsMaintenance reports whether PerformMaintenance is due.
func (c *Cinder) NeedsMaintenance() bool { return c.monitor.NeedsMaintenance() }

// PerformMaintenance optimizes the cache and removes outdated entries.
func (c *Cinder) PerformMaintenance(ctx context.Context) (MaintenanceReport, error) {
	return c.monitor.PerformMaintenance(ctx)
}

// StartMaintenance checks every interval whether maintenance is due and runs
// it. Close stops the schedule.
func (c *Cinder) StartMaintenance(ctx context.Context, interval time.Duration) {
	stop := c.monitor.Start(ctx, interval)
	c.mu.Lock()
	c.stops = append(c.stops, stop)
	c.mu.Unlock()
}

// View decodes the entry stored under key into the typed view of domain.
// An empty domain means the registered domain stored under key.
func (c *Cinder) View(ctx context.Context, key, domain string) (any, error) {
	if domain == "" {
		d, ok := c.registry.ByKey(key)
		if !ok {
			return nil, fmt.Errorf("%w: no domain is stored under %q", ErrNoView, key)
		}
		domain = d.Name
	}
	e, ok := c.manager.GetEntry(ctx, key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return views.Decode(domain, e.Value)
}

// Registry returns the domain registry in use.
func (c *Cinder) Registry() *registry.Registry { return c.registry }

// Close stops background work and releases the store. Entries stay
// persisted unless purging on destroy is enabled.
func (c *Cinder) Close(ctx context.Context) error {
	c.mu.Lock()
	stops := c.stops
	c.stops = nil
	c.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	return c.manager.Destroy(ctx)
}
