// Package oplog keeps a bounded history of cache operations.
package oplog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"goflare.io/cinder/internal/models"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 100

// Log is a fixed-capacity ring of operation records. Once full, every new
// record overwrites the oldest one.
type Log struct {
	mu   sync.RWMutex
	buf  []models.OperationRecord
	next int
	size int
}

// New creates a Log holding at most capacity records.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{buf: make([]models.OperationRecord, capacity)}
}

// Record appends rec, filling in its ID and timestamp when unset.
func (l *Log) Record(rec models.OperationRecord) models.OperationRecord {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.buf[l.next] = rec
	l.next = (l.next + 1) % len(l.buf)
	if l.size < len(l.buf) {
		l.size++
	}
	l.mu.Unlock()
	return rec
}

// Recent returns up to n records, most recent first. n <= 0 returns all.
func (l *Log) Recent(n int) []models.OperationRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]models.OperationRecord, n)
	for i := 0; i < n; i++ {
		idx := (l.next - 1 - i + len(l.buf)) % len(l.buf)
		out[i] = l.buf[idx]
	}
	return out
}

// Len returns the number of records held.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Capacity returns the maximum number of records held.
func (l *Log) Capacity() int {
	return len(l.buf)
}
