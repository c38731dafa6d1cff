// Package manager implements the cache façade: TTL-governed reads and
// writes, change detection, merging, invalidation, statistics and health.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"goflare.io/cinder/internal/config"
	"goflare.io/cinder/internal/diff"
	"goflare.io/cinder/internal/health"
	"goflare.io/cinder/internal/merge"
	"goflare.io/cinder/internal/models"
	"goflare.io/cinder/internal/oplog"
	"goflare.io/cinder/internal/registry"
	"goflare.io/cinder/internal/store"
	"goflare.io/cinder/pkg/value"
)

// ErrEmptyKey is returned when writing an entry without a key.
var ErrEmptyKey = errors.New("cache key must not be empty")

// Manager owns a store and everything kept in memory about it.
type Manager struct {
	store   store.Store
	cfg     *config.Config
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *models.Metrics
	ops     *oplog.Log
	monitor *health.Monitor

	locks stripes
	index *index

	// hit counts are persisted lazily by OptimizeCache and Destroy
	hitMu       sync.Mutex
	pendingHits map[string]int64

	// footprint of the store at the last measurement
	diskBytes atomic.Int64

	stopSweep func()
	closeOnce sync.Once
	closed    atomic.Bool

	now func() time.Time
}

// New creates a Manager over st, indexes the entries already stored and
// starts the expiry sweeper.
func New(ctx context.Context, st store.Store, cfg *config.Config) (*Manager, error) {
	if st == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	m := &Manager{
		store:       st,
		cfg:         cfg,
		logger:      cfg.Logger,
		tracer:      otel.Tracer("goflare.io/cinder/manager"),
		metrics:     models.NewMetrics(),
		ops:         oplog.New(cfg.OpLogCapacity),
		monitor:     health.NewMonitor(cfg.Health),
		locks:       newStripes(cfg.ShardCount),
		index:       newIndex(),
		pendingHits: make(map[string]int64),
		now:         time.Now,
	}

	if err := m.loadIndex(ctx); err != nil {
		return nil, err
	}
	m.measureDisk(ctx)
	m.stopSweep = m.startSweeper(cfg.CleanupInterval)

	count, size := m.index.stats()
	m.logger.Info("Cache manager started", zap.Int("entries", count), zap.Int64("bytes", size))
	return m, nil
}

func (m *Manager) loadIndex(ctx context.Context) error {
	keys, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cached entries: %w", err)
	}
	for _, key := range keys {
		e, err := m.store.Read(ctx, key)
		if err != nil {
			m.logger.Warn("Skipping unreadable cache entry", zap.String("key", key), zap.Error(err))
			continue
		}
		m.index.put(infoOf(e))
	}
	return nil
}

// Set stores v under key with the expiry dc dictates. A zero MaxAge falls
// back to the configured default.
func (m *Manager) Set(ctx context.Context, key string, v value.Value, dc registry.DomainConfig) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if m.closed.Load() {
		return ErrClosed
	}

	start := time.Now()
	lock := m.locks.forKey(key)
	lock.Lock()
	_, err := m.writeLocked(ctx, key, v, dc)
	lock.Unlock()

	m.record(models.OpSet, key, start, err)
	if err != nil {
		span.RecordError(err)
		m.logger.Warn("Failed to set cache entry", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

// Get returns the value stored under key while it is fresh. Stale entries
// are removed on the spot and reported as absent.
func (m *Manager) Get(ctx context.Context, key string) (value.Value, bool) {
	ctx, span := m.tracer.Start(ctx, "Manager.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if m.closed.Load() {
		return value.Null(), false
	}

	start := time.Now()
	e, err := m.read(ctx, key)
	switch {
	case err == nil:
		m.metrics.Hits.Inc()
		m.addHits(key, 1)
		m.record(models.OpGet, key, start, nil)
		m.logger.Debug("Cache hit", zap.String("key", key))
		return e.Value, true
	case errors.Is(err, store.ErrNotFound):
		m.record(models.OpGet, key, start, nil)
	default:
		span.RecordError(err)
		m.logger.Warn("Failed to read cache entry", zap.String("key", key), zap.Error(err))
		m.record(models.OpGet, key, start, err)
	}

	m.metrics.Misses.Inc()
	m.logger.Debug("Cache miss", zap.String("key", key))
	return value.Null(), false
}

// GetEntry returns the stored entry for key, fresh or not, without touching
// hit counters. It is meant for diagnostics.
func (m *Manager) GetEntry(ctx context.Context, key string) (*models.Entry, bool) {
	if m.closed.Load() {
		return nil, false
	}

	lock := m.locks.forKey(key)
	lock.RLock()
	e, err := m.store.Read(ctx, key)
	lock.RUnlock()
	if err != nil {
		return nil, false
	}
	e.HitCount += m.pending(key)
	return e, true
}

// DetectIncrementalChanges diffs candidate against the fresh value stored
// under key. A missing or stale entry counts as an empty object.
func (m *Manager) DetectIncrementalChanges(ctx context.Context, key string, candidate value.Value) diff.Result {
	ctx, span := m.tracer.Start(ctx, "Manager.DetectIncrementalChanges", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	stored := value.Null()
	if !m.closed.Load() {
		lock := m.locks.forKey(key)
		lock.RLock()
		e, err := m.store.Read(ctx, key)
		lock.RUnlock()
		if err == nil && !e.IsExpired(m.now()) {
			stored = e.Value
		}
	}
	return diff.Detect(stored, candidate)
}

// MergeData combines the fresh value stored under key with candidate, stores
// the result as Set would and returns it. Unset merge fields take defaults.
func (m *Manager) MergeData(ctx context.Context, key string, candidate value.Value, mc merge.Config, dc registry.DomainConfig) (value.Value, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.MergeData", trace.WithAttributes(
		attribute.String("key", key),
		attribute.String("type", string(mc.Type)),
	))
	defer span.End()

	if m.closed.Load() {
		return value.Null(), ErrClosed
	}

	if mc.IdentityFields == nil {
		mc.IdentityFields = m.cfg.IdentityFields
	}
	mc = mc.WithDefaults()
	if err := mc.Validate(); err != nil {
		return value.Null(), err
	}

	start := time.Now()
	lock := m.locks.forKey(key)
	lock.Lock()
	merged, err := m.mergeLocked(ctx, key, candidate, mc, dc)
	lock.Unlock()

	m.record(models.OpMerge, key, start, err)
	if err != nil {
		span.RecordError(err)
		m.logger.Warn("Failed to merge cache entry", zap.String("key", key), zap.Error(err))
		return value.Null(), fmt.Errorf("failed to merge %q: %w", key, err)
	}
	return merged, nil
}

func (m *Manager) mergeLocked(ctx context.Context, key string, candidate value.Value, mc merge.Config, dc registry.DomainConfig) (value.Value, error) {
	stored := value.Null()
	e, err := m.store.Read(ctx, key)
	switch {
	case err == nil:
		if !e.IsExpired(m.now()) {
			stored = e.Value
		}
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrCorrupted):
	default:
		return value.Null(), err
	}

	merged := merge.Merge(stored, candidate, mc)
	if _, err := m.writeLocked(ctx, key, merged, dc); err != nil {
		return value.Null(), err
	}
	return merged, nil
}

// InvalidateCache removes every entry whose key matches pattern and returns
// how many were removed. See ParsePattern for the pattern syntax.
func (m *Manager) InvalidateCache(ctx context.Context, pattern string) (int, error) {
	matcher, err := ParsePattern(pattern)
	if err != nil {
		return 0, err
	}
	return m.InvalidateMatching(ctx, matcher)
}

// InvalidateMatching removes every entry whose key matcher accepts.
func (m *Manager) InvalidateMatching(ctx context.Context, matcher Matcher) (int, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.InvalidateMatching", trace.WithAttributes(attribute.String("pattern", matcher.String())))
	defer span.End()

	if m.closed.Load() {
		return 0, ErrClosed
	}

	start := time.Now()
	removed, err := m.invalidate(ctx, matcher)
	m.record(models.OpInvalidate, matcher.String(), start, err)
	if err != nil {
		span.RecordError(err)
		m.logger.Warn("Failed to invalidate cache entries", zap.String("pattern", matcher.String()), zap.Error(err))
	}
	m.logger.Info("Invalidated cache entries", zap.String("pattern", matcher.String()), zap.Int("removed", removed))
	return removed, err
}

// InvalidateSource removes every entry written for source.
func (m *Manager) InvalidateSource(ctx context.Context, source string) (int, error) {
	keys := make(map[string]struct{})
	for _, info := range m.index.snapshot() {
		if info.Source == source {
			keys[info.Key] = struct{}{}
		}
	}
	return m.InvalidateMatching(ctx, KeySet(keys))
}

func (m *Manager) invalidate(ctx context.Context, matcher Matcher) (int, error) {
	keys, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list cached entries: %w", err)
	}

	removed := 0
	var errs []error
	for _, key := range keys {
		if !matcher.Match(key) {
			continue
		}

		lock := m.locks.forKey(key)
		lock.Lock()
		err := m.store.Remove(ctx, key)
		if err == nil {
			m.index.remove(key)
			m.takeHits(key)
		}
		lock.Unlock()

		if err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// GetStats returns a snapshot of the cache statistics.
func (m *Manager) GetStats() models.CacheStats {
	count, size := m.index.stats()
	return models.CacheStats{
		TotalEntries:     count,
		TotalSize:        size,
		HitRate:          m.metrics.HitRate(),
		MissRate:         m.metrics.MissRate(),
		ExpiredEntries:   m.metrics.Expired.Load(),
		LastCleanup:      m.metrics.LastCleanup.Load(),
		Hits:             m.metrics.Hits.Load(),
		Misses:           m.metrics.Misses.Load(),
		TotalOperations:  m.metrics.TotalOperations.Load(),
		FailedOperations: m.metrics.FailedOperations.Load(),
		DiskBytes:        m.diskBytes.Load(),
	}
}

// GetRecentOperations returns up to n operations, most recent first.
func (m *Manager) GetRecentOperations(n int) []models.OperationRecord {
	return m.ops.Recent(n)
}

// GetHealthStatus scores the current statistics.
func (m *Manager) GetHealthStatus() health.Status {
	return m.monitor.Evaluate(m.GetStats())
}

// Entries returns the metadata of every stored entry, sorted by key.
func (m *Manager) Entries() []EntryInfo {
	infos := m.index.snapshot()
	for i := range infos {
		infos[i].HitCount += m.pending(infos[i].Key)
	}
	return infos
}

// CleanupTempFiles removes leftovers of interrupted writes when the store keeps any.
func (m *Manager) CleanupTempFiles(ctx context.Context) (int, error) {
	if tc, ok := m.store.(store.TempCleaner); ok {
		return tc.CleanupTempFiles(ctx)
	}
	return 0, nil
}

// OptimizeCache evicts every expired entry, persists buffered hit counts and
// reports performance figures.
func (m *Manager) OptimizeCache(ctx context.Context) (models.PerformanceMetrics, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.OptimizeCache")
	defer span.End()

	if m.closed.Load() {
		return models.PerformanceMetrics{}, ErrClosed
	}

	start := time.Now()
	removed, sweepErr := m.sweep(ctx)
	flushErr := m.flushHits(ctx)
	err := errors.Join(sweepErr, flushErr)

	pm := m.performance(ctx)
	pm.EntriesRemoved = removed

	m.record(models.OpOptimize, "", start, err)
	if err != nil {
		span.RecordError(err)
		m.logger.Warn("Cache optimization incomplete", zap.Error(err))
	}
	return pm, err
}

func (m *Manager) performance(ctx context.Context) models.PerformanceMetrics {
	var reads, writes int
	var readTotal, writeTotal time.Duration
	for _, op := range m.ops.Recent(0) {
		switch op.Type {
		case models.OpGet:
			reads++
			readTotal += op.Duration
		case models.OpSet, models.OpMerge:
			writes++
			writeTotal += op.Duration
		}
	}

	count, logical := m.index.stats()
	pm := models.PerformanceMetrics{
		CompressionRatio: 1,
		TotalEntries:     count,
		Timestamp:        m.now(),
	}
	if reads > 0 {
		pm.AvgReadLatency = readTotal / time.Duration(reads)
	}
	if writes > 0 {
		pm.AvgWriteLatency = writeTotal / time.Duration(writes)
	}

	disk := m.measureDisk(ctx)
	pm.DiskBytes = disk
	if m.cfg.Compression && disk > 0 {
		pm.CompressionRatio = float64(logical) / float64(disk)
	}
	if mr, ok := m.store.(store.MemoryReporter); ok {
		pm.MemoryBytes = mr.MemoryBytes()
	}
	return pm
}

// Destroy stops the sweeper, persists buffered hit counts and closes the
// store. Entries stay persisted unless PurgeOnDestroy is set. Later calls do nothing.
func (m *Manager) Destroy(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.stopSweep()

		var errs []error
		if e := m.flushHits(ctx); e != nil {
			errs = append(errs, fmt.Errorf("failed to flush hit counts: %w", e))
		}
		if m.cfg.PurgeOnDestroy {
			if _, e := m.invalidate(ctx, PrefixMatcher("")); e != nil {
				errs = append(errs, fmt.Errorf("failed to purge entries: %w", e))
			}
		}
		if e := m.store.Close(); e != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", e))
		}
		err = errors.Join(errs...)

		m.logger.Info("Cache manager destroyed", zap.Bool("purged", m.cfg.PurgeOnDestroy))
	})
	return err
}

func (m *Manager) read(ctx context.Context, key string) (*models.Entry, error) {
	lock := m.locks.forKey(key)
	lock.RLock()
	e, err := m.store.Read(ctx, key)
	lock.RUnlock()
	if err != nil {
		return nil, err
	}

	now := m.now()
	if !e.IsExpired(now) {
		return e, nil
	}

	lock.Lock()
	_, err = m.expireLocked(ctx, key, now, true)
	lock.Unlock()
	if err != nil {
		m.logger.Warn("Failed to remove expired entry", zap.String("key", key), zap.Error(err))
	}
	return nil, store.ErrNotFound
}

func (m *Manager) writeLocked(ctx context.Context, key string, v value.Value, dc registry.DomainConfig) (*models.Entry, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	maxAge := dc.MaxAge
	if maxAge <= 0 {
		maxAge = m.cfg.DefaultMaxAge
	}

	e := models.NewEntry(key, v, m.now(), maxAge, dc.Source, dc.Version)
	if info, ok := m.index.get(key); ok {
		e.HitCount = info.HitCount
	}
	hits := m.takeHits(key)
	e.HitCount += hits

	if err := m.store.Write(ctx, e); err != nil {
		m.addHits(key, hits)
		return nil, err
	}
	m.index.put(infoOf(e))
	return e, nil
}

// expireLocked removes key when its entry is stale at now. sawStale is set
// by readers that just observed a stale record, so untracked keys are
// removed too. The caller holds the key's stripe.
func (m *Manager) expireLocked(ctx context.Context, key string, now time.Time, sawStale bool) (bool, error) {
	info, ok := m.index.get(key)
	switch {
	case ok && now.Before(info.ExpiresAt):
		return false, nil
	case !ok && !sawStale:
		return false, nil
	}

	if err := m.store.Remove(ctx, key); err != nil {
		return false, err
	}
	m.index.remove(key)
	m.takeHits(key)
	m.metrics.Expired.Inc()
	return true, nil
}

func (m *Manager) sweep(ctx context.Context) (int, error) {
	now := m.now()
	removed := 0
	var errs []error

	for _, key := range m.index.expired(now) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		lock := m.locks.forKey(key)
		lock.Lock()
		ok, err := m.expireLocked(ctx, key, now, false)
		lock.Unlock()

		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
		}
	}

	m.metrics.LastCleanup.Store(now)
	if removed > 0 {
		m.logger.Info("Removed expired cache entries", zap.Int("count", removed))
	}
	return removed, errors.Join(errs...)
}

func (m *Manager) startSweeper(interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := m.sweep(ctx); err != nil && ctx.Err() == nil {
					m.logger.Warn("Expiry sweep failed", zap.Error(err))
				}
				m.measureDisk(ctx)
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

// measureDisk refreshes the stored footprint. A failed measurement keeps
// the previous figure.
func (m *Manager) measureDisk(ctx context.Context) int64 {
	size, err := m.store.Size(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("Failed to measure cache size", zap.Error(err))
		}
		return m.diskBytes.Load()
	}
	m.diskBytes.Store(size)
	return size
}

func (m *Manager) flushHits(ctx context.Context) error {
	m.hitMu.Lock()
	pending := m.pendingHits
	m.pendingHits = make(map[string]int64)
	m.hitMu.Unlock()

	var errs []error
	for key, n := range pending {
		lock := m.locks.forKey(key)
		lock.Lock()
		err := m.persistHitsLocked(ctx, key, n)
		lock.Unlock()

		if err != nil {
			m.addHits(key, n)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) persistHitsLocked(ctx context.Context, key string, n int64) error {
	e, err := m.store.Read(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrCorrupted):
		return nil
	case err != nil:
		return err
	}

	e.HitCount += n
	if err := m.store.Write(ctx, e); err != nil {
		return err
	}
	m.index.put(infoOf(e))
	return nil
}

func (m *Manager) addHits(key string, n int64) {
	if n == 0 {
		return
	}
	m.hitMu.Lock()
	m.pendingHits[key] += n
	m.hitMu.Unlock()
}

func (m *Manager) takeHits(key string) int64 {
	m.hitMu.Lock()
	defer m.hitMu.Unlock()
	n := m.pendingHits[key]
	delete(m.pendingHits, key)
	return n
}

func (m *Manager) pending(key string) int64 {
	m.hitMu.Lock()
	defer m.hitMu.Unlock()
	return m.pendingHits[key]
}

func (m *Manager) record(op models.OpType, key string, start time.Time, err error) {
	rec := models.OperationRecord{
		Type:      op,
		Key:       key,
		Success:   err == nil,
		Duration:  time.Since(start),
		Timestamp: start,
	}
	if err != nil {
		rec.Error = err.Error()
		m.metrics.FailedOperations.Inc()
	}
	m.metrics.TotalOperations.Inc()
	m.ops.Record(rec)
}
