package store

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"goflare.io/cinder/internal/models"
)

// HotStore keeps recently read entries in a ristretto cache in front of a
// durable store. Writes and removals go to the durable store and drop the
// cached copy.
type HotStore struct {
	Store
	cache  *ristretto.Cache
	logger *zap.Logger
}

// NewHotStore wraps inner with an in-process tier holding up to maxBytes of entries.
func NewHotStore(inner Store, maxBytes int64, logger *zap.Logger) (*HotStore, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("hot tier size must be positive, got %d", maxBytes)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// ristretto wants roughly ten counters per expected item; assume 1KB entries.
	numCounters := maxBytes / 1024 * 10
	if numCounters < 1000 {
		numCounters = 1000
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	return &HotStore{Store: inner, cache: c, logger: logger}, nil
}

// Read serves key from memory when possible.
func (h *HotStore) Read(ctx context.Context, key string) (*models.Entry, error) {
	if v, ok := h.cache.Get(key); ok {
		if e, ok := v.(*models.Entry); ok {
			return e.Clone(), nil
		}
		h.logger.Error("Invalid hot tier entry type", zap.String("key", key))
		h.cache.Del(key)
	}

	e, err := h.Store.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	h.cache.Set(key, e.Clone(), cost(e))
	return e, nil
}

// Write implements Store.
func (h *HotStore) Write(ctx context.Context, e *models.Entry) error {
	h.cache.Del(e.Key)
	return h.Store.Write(ctx, e)
}

// Remove implements Store.
func (h *HotStore) Remove(ctx context.Context, key string) error {
	h.cache.Del(key)
	return h.Store.Remove(ctx, key)
}

// CleanupTempFiles forwards to the durable store when it supports it.
func (h *HotStore) CleanupTempFiles(ctx context.Context) (int, error) {
	if tc, ok := h.Store.(TempCleaner); ok {
		return tc.CleanupTempFiles(ctx)
	}
	return 0, nil
}

// MemoryBytes estimates the bytes currently held in the hot tier.
func (h *HotStore) MemoryBytes() int64 {
	m := h.cache.Metrics
	if m == nil {
		return 0
	}
	added, evicted := m.CostAdded(), m.CostEvicted()
	if evicted > added {
		return 0
	}
	return int64(added - evicted)
}

// Close waits for buffered sets, releases the hot tier and closes the durable store.
func (h *HotStore) Close() error {
	h.cache.Wait()
	h.cache.Close()
	return h.Store.Close()
}

func cost(e *models.Entry) int64 {
	if e.SizeBytes > 0 {
		return e.SizeBytes
	}
	return 1
}
