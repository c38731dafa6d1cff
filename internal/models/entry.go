package models

import (
	"time"

	"goflare.io/cinder/pkg/value"
)

// Entry represents a cache entry.
type Entry struct {
	Key       string      `json:"key"`
	Value     value.Value `json:"value"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	SizeBytes int64       `json:"sizeBytes"`
	HitCount  int64       `json:"hitCount"`
}

// NewEntry creates a new Entry written at now that lives for maxAge.
func NewEntry(key string, v value.Value, now time.Time, maxAge time.Duration, source, version string) *Entry {
	return &Entry{
		Key:       key,
		Value:     v,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(maxAge),
		Source:    source,
		Version:   version,
		SizeBytes: int64(len(v.String())),
	}
}

// IsExpired reports whether the entry is no longer fresh at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Clone returns a copy of the entry. The value is shared since values are immutable.
func (e *Entry) Clone() *Entry {
	cp := *e
	return &cp
}
