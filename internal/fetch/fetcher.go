// Package fetch orchestrates cache-or-fetch calls on top of the manager:
// coalesced single-key fetches, parallel domain batches, warming and
// scheduled maintenance.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"goflare.io/cinder/internal/registry"
	"goflare.io/cinder/pkg/value"
)

// Fetcher produces fresh data for a key. Its result is converted to a
// value.Value through JSON.
type Fetcher func(ctx context.Context) (any, error)

// Cache is the part of the manager the fetch layer relies on.
type Cache interface {
	Get(ctx context.Context, key string) (value.Value, bool)
	Set(ctx context.Context, key string, v value.Value, dc registry.DomainConfig) error
	InvalidateSource(ctx context.Context, source string) (int, error)
}

// Result is the outcome of fetching one domain in a batch.
type Result struct {
	Value value.Value
	Err   error
}

// Config configures a CachedDataFetcher.
type Config struct {
	Registry *registry.Registry
	// BatchConcurrency bounds parallel domains in a batch. Zero means unbounded.
	BatchConcurrency int
	Logger           *zap.Logger
}

// CachedDataFetcher serves keys from the cache and falls back to a fetcher,
// running at most one fetch per key at a time.
type CachedDataFetcher struct {
	cache       Cache
	registry    *registry.Registry
	concurrency int
	logger      *zap.Logger
	group       singleflight.Group
}

// NewCachedDataFetcher creates a fetcher over cache.
func NewCachedDataFetcher(cache Cache, cfg Config) (*CachedDataFetcher, error) {
	if cache == nil {
		return nil, errors.New("cache cannot be nil")
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BatchConcurrency < 0 {
		return nil, fmt.Errorf("batch concurrency must not be negative, got %d", cfg.BatchConcurrency)
	}

	return &CachedDataFetcher{
		cache:       cache,
		registry:    cfg.Registry,
		concurrency: cfg.BatchConcurrency,
		logger:      cfg.Logger,
	}, nil
}

// GetOrFetch returns the cached value for key, or runs fetcher and stores
// its result under dc. Concurrent callers for the same key share one fetch
// and see the same value or error. A failed fetch stores nothing.
//
// The fetcher runs detached from ctx: a caller giving up stops waiting but
// does not abort a fetch already in flight.
func (f *CachedDataFetcher) GetOrFetch(ctx context.Context, key string, fetcher Fetcher, dc registry.DomainConfig, forceRefresh bool) (value.Value, error) {
	if fetcher == nil {
		return value.Null(), errors.New("fetcher cannot be nil")
	}
	if !forceRefresh {
		if v, ok := f.cache.Get(ctx, key); ok {
			return v, nil
		}
	}

	ch := f.group.DoChan(key, func() (any, error) {
		return f.fetchAndStore(context.WithoutCancel(ctx), key, fetcher, dc)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return value.Null(), res.Err
		}
		if res.Shared {
			f.logger.Debug("Joined in-flight fetch", zap.String("key", key))
		}
		return res.Val.(value.Value), nil
	case <-ctx.Done():
		return value.Null(), ctx.Err()
	}
}

func (f *CachedDataFetcher) fetchAndStore(ctx context.Context, key string, fetcher Fetcher, dc registry.DomainConfig) (value.Value, error) {
	raw, err := fetcher(ctx)
	if err != nil {
		f.logger.Warn("Fetch failed", zap.String("key", key), zap.Error(err))
		return value.Null(), fmt.Errorf("failed to fetch %q: %w", key, err)
	}

	v, err := value.From(raw)
	if err != nil {
		return value.Null(), fmt.Errorf("failed to convert fetched data for %q: %w", key, err)
	}

	if err := f.cache.Set(ctx, key, v, dc); err != nil {
		f.logger.Warn("Failed to store fetched data", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

// BatchFetch runs GetOrFetch for every named domain in parallel. Names
// missing from the registry are cached under their own name with default
// settings. One domain failing never affects the others.
func (f *CachedDataFetcher) BatchFetch(ctx context.Context, fetchers map[string]Fetcher) map[string]Result {
	results := make(map[string]Result, len(fetchers))
	var mu sync.Mutex

	var g errgroup.Group
	if f.concurrency > 0 {
		g.SetLimit(f.concurrency)
	}

	for name, fetcher := range fetchers {
		g.Go(func() error {
			key, dc := f.resolve(name)
			v, err := f.GetOrFetch(ctx, key, fetcher, dc, false)

			mu.Lock()
			results[name] = Result{Value: v, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// InvalidateRelated drops every entry fetched from source.
func (f *CachedDataFetcher) InvalidateRelated(ctx context.Context, source string) (int, error) {
	n, err := f.cache.InvalidateSource(ctx, source)
	if err != nil {
		return n, fmt.Errorf("failed to invalidate source %q: %w", source, err)
	}
	f.logger.Info("Invalidated related entries", zap.String("source", source), zap.Int("removed", n))
	return n, nil
}

func (f *CachedDataFetcher) resolve(name string) (string, registry.DomainConfig) {
	d, err := f.registry.Lookup(name)
	if err != nil {
		return name, registry.DomainConfig{Source: name}
	}
	return d.Key, d.DomainConfig
}
