package models

import "go.uber.org/atomic"

// Metrics holds the monotonic counters behind CacheStats.
type Metrics struct {
	Hits             atomic.Int64
	Misses           atomic.Int64
	Expired          atomic.Int64
	TotalOperations  atomic.Int64
	FailedOperations atomic.Int64
	LastCleanup      atomic.Time
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// HitRate returns hits / (hits + misses), or 0 before the first read.
func (m *Metrics) HitRate() float64 {
	hits, misses := m.Hits.Load(), m.Misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// MissRate returns misses / (hits + misses), or 0 before the first read.
func (m *Metrics) MissRate() float64 {
	hits, misses := m.Hits.Load(), m.Misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(misses) / float64(hits+misses)
}
