package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"goflare.io/cinder/internal/health"
	"goflare.io/cinder/internal/manager"
	"goflare.io/cinder/internal/models"
	"goflare.io/cinder/internal/registry"
)

// Maintainer is the part of the manager maintenance works through.
type Maintainer interface {
	GetStats() models.CacheStats
	GetHealthStatus() health.Status
	Entries() []manager.EntryInfo
	OptimizeCache(ctx context.Context) (models.PerformanceMetrics, error)
	InvalidateMatching(ctx context.Context, m manager.Matcher) (int, error)
	CleanupTempFiles(ctx context.Context) (int, error)
}

// MonitorConfig configures a CacheMonitor.
type MonitorConfig struct {
	// MaxExpiredRatio is the share of stale entries that calls for maintenance.
	MaxExpiredRatio float64
	// MaxCleanupAge is the longest time allowed between cleanups.
	MaxCleanupAge time.Duration
	Registry      *registry.Registry
	Logger        *zap.Logger
}

// MaintenanceReport describes one maintenance run.
type MaintenanceReport struct {
	Duration         time.Duration             `json:"duration" yaml:"duration"`
	Before           models.CacheStats         `json:"before" yaml:"before"`
	After            models.CacheStats         `json:"after" yaml:"after"`
	Performance      models.PerformanceMetrics `json:"performance" yaml:"performance"`
	OutdatedRemoved  int                       `json:"outdatedRemoved" yaml:"outdatedRemoved"`
	TempFilesRemoved int                       `json:"tempFilesRemoved" yaml:"tempFilesRemoved"`
}

// CacheMonitor decides when the cache needs maintenance and performs it.
type CacheMonitor struct {
	cache    Maintainer
	cfg      MonitorConfig
	registry *registry.Registry
	logger   *zap.Logger
	now      func() time.Time
}

// NewCacheMonitor creates a monitor over cache.
func NewCacheMonitor(cache Maintainer, cfg MonitorConfig) *CacheMonitor {
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &CacheMonitor{
		cache:    cache,
		cfg:      cfg,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// NeedsMaintenance reports whether too many entries are stale, the last
// cleanup is too old or health is critical.
func (c *CacheMonitor) NeedsMaintenance() bool {
	now := c.now()

	entries := c.cache.Entries()
	if len(entries) > 0 && c.cfg.MaxExpiredRatio > 0 {
		stale := 0
		for _, e := range entries {
			if !now.Before(e.ExpiresAt) {
				stale++
			}
		}
		if float64(stale)/float64(len(entries)) > c.cfg.MaxExpiredRatio {
			return true
		}
	}

	if c.cfg.MaxCleanupAge > 0 {
		last := c.cache.GetStats().LastCleanup
		if last.IsZero() || now.Sub(last) > c.cfg.MaxCleanupAge {
			return true
		}
	}

	return c.cache.GetHealthStatus().Status == health.StateCritical
}

// PerformMaintenance optimizes the cache, removes entries written under an
// outdated domain version and clears leftover temp files. It keeps going
// after a failed step and returns every error at the end.
func (c *CacheMonitor) PerformMaintenance(ctx context.Context) (MaintenanceReport, error) {
	start := time.Now()
	report := MaintenanceReport{Before: c.cache.GetStats()}

	var errs []error
	pm, err := c.cache.OptimizeCache(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to optimize cache: %w", err))
	}
	report.Performance = pm

	if report.OutdatedRemoved, err = c.removeOutdated(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove outdated entries: %w", err))
	}
	if report.TempFilesRemoved, err = c.cache.CleanupTempFiles(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to clean up temp files: %w", err))
	}

	report.After = c.cache.GetStats()
	report.Duration = time.Since(start)

	c.logger.Info("Cache maintenance finished",
		zap.Duration("duration", report.Duration),
		zap.Int("expiredRemoved", pm.EntriesRemoved),
		zap.Int("outdatedRemoved", report.OutdatedRemoved),
		zap.Int("tempFilesRemoved", report.TempFilesRemoved))
	return report, errors.Join(errs...)
}

// Start runs PerformMaintenance every interval while NeedsMaintenance says
// so. The returned func stops the schedule and waits for a running pass.
func (c *CacheMonitor) Start(ctx context.Context, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if !c.NeedsMaintenance() {
					continue
				}
				if _, err := c.PerformMaintenance(ctx); err != nil && ctx.Err() == nil {
					c.logger.Warn("Scheduled maintenance failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (c *CacheMonitor) removeOutdated(ctx context.Context) (int, error) {
	outdated := make(manager.KeySet)
	for _, e := range c.cache.Entries() {
		domains := c.registry.BySource(e.Source)
		if len(domains) == 0 {
			continue
		}
		current := false
		for _, d := range domains {
			if d.Version == e.Version {
				current = true
				break
			}
		}
		if !current {
			outdated[e.Key] = struct{}{}
		}
	}

	if len(outdated) == 0 {
		return 0, nil
	}
	return c.cache.InvalidateMatching(ctx, outdated)
}
