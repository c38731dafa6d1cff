package models

import (
	"time"

	"github.com/google/uuid"
)

// CacheStats is a snapshot of the cache's size and counters.
type CacheStats struct {
	TotalEntries     int       `json:"totalEntries" yaml:"totalEntries"`
	TotalSize        int64     `json:"totalSize" yaml:"totalSize"`
	DiskBytes        int64     `json:"diskBytes" yaml:"diskBytes"` // as last measured on the store
	HitRate          float64   `json:"hitRate" yaml:"hitRate"`
	MissRate         float64   `json:"missRate" yaml:"missRate"`
	ExpiredEntries   int64     `json:"expiredEntries" yaml:"expiredEntries"`
	LastCleanup      time.Time `json:"lastCleanup" yaml:"lastCleanup"`
	Hits             int64     `json:"hits" yaml:"hits"`
	Misses           int64     `json:"misses" yaml:"misses"`
	TotalOperations  int64     `json:"totalOperations" yaml:"totalOperations"`
	FailedOperations int64     `json:"failedOperations" yaml:"failedOperations"`
}

// OpType names the kind of a recorded cache operation.
type OpType string

// Operation types.
const (
	OpGet        OpType = "get"
	OpSet        OpType = "set"
	OpInvalidate OpType = "invalidate"
	OpMerge      OpType = "merge"
	OpOptimize   OpType = "optimize"
)

// OperationRecord describes one completed cache operation.
type OperationRecord struct {
	ID        uuid.UUID     `json:"id" yaml:"id"`
	Type      OpType        `json:"type" yaml:"type"`
	Key       string        `json:"key" yaml:"key"`
	Success   bool          `json:"success" yaml:"success"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// PerformanceMetrics is the result of an optimization pass.
type PerformanceMetrics struct {
	AvgReadLatency   time.Duration `json:"avgReadLatency" yaml:"avgReadLatency"`
	AvgWriteLatency  time.Duration `json:"avgWriteLatency" yaml:"avgWriteLatency"`
	CompressionRatio float64       `json:"compressionRatio" yaml:"compressionRatio"`
	MemoryBytes      int64         `json:"memoryBytes" yaml:"memoryBytes"`
	DiskBytes        int64         `json:"diskBytes" yaml:"diskBytes"`
	EntriesRemoved   int           `json:"entriesRemoved" yaml:"entriesRemoved"`
	TotalEntries     int           `json:"totalEntries" yaml:"totalEntries"`
	Timestamp        time.Time     `json:"timestamp" yaml:"timestamp"`
}
