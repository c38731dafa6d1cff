package fetch

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// WarmReport lists what a warming pass did per domain.
type WarmReport struct {
	Warmed  []string         `json:"warmed"`
	Failed  map[string]error `json:"-"`
	Skipped []string         `json:"skipped"`
}

// CacheWarmer fills the cache for every registered domain.
type CacheWarmer struct {
	fetcher *CachedDataFetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a warmer on top of f.
func NewCacheWarmer(f *CachedDataFetcher) *CacheWarmer {
	return &CacheWarmer{fetcher: f, logger: f.logger}
}

// WarmAllCaches runs the fetcher of every registered domain that has one,
// in parallel, serving from the cache where it is still fresh. Failures are
// logged and reported, never returned.
func (w *CacheWarmer) WarmAllCaches(ctx context.Context, fetchers map[string]Fetcher) WarmReport {
	report := WarmReport{Failed: make(map[string]error)}

	selected := make(map[string]Fetcher, len(fetchers))
	for _, d := range w.fetcher.registry.Domains() {
		fn, ok := fetchers[d.Name]
		if !ok {
			report.Skipped = append(report.Skipped, d.Name)
			continue
		}
		selected[d.Name] = fn
	}
	for name := range fetchers {
		if _, ok := selected[name]; !ok {
			w.logger.Warn("Ignoring fetcher for unknown domain", zap.String("domain", name))
		}
	}

	for name, res := range w.fetcher.BatchFetch(ctx, selected) {
		if res.Err != nil {
			w.logger.Warn("Failed to warm cache", zap.String("domain", name), zap.Error(res.Err))
			report.Failed[name] = res.Err
			continue
		}
		report.Warmed = append(report.Warmed, name)
	}
	sort.Strings(report.Warmed)

	w.logger.Info("Cache warming finished",
		zap.Int("warmed", len(report.Warmed)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("skipped", len(report.Skipped)))
	return report
}
