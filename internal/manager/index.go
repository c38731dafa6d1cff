package manager

import (
	"sort"
	"sync"
	"time"

	"goflare.io/cinder/internal/models"
)

// EntryInfo is the metadata the manager keeps in memory for each stored key.
type EntryInfo struct {
	Key       string    `json:"key" yaml:"key"`
	Source    string    `json:"source" yaml:"source"`
	Version   string    `json:"version" yaml:"version"`
	ExpiresAt time.Time `json:"expiresAt" yaml:"expiresAt"`
	SizeBytes int64     `json:"sizeBytes" yaml:"sizeBytes"`
	HitCount  int64     `json:"hitCount" yaml:"hitCount"`
}

func infoOf(e *models.Entry) EntryInfo {
	return EntryInfo{
		Key:       e.Key,
		Source:    e.Source,
		Version:   e.Version,
		ExpiresAt: e.ExpiresAt,
		SizeBytes: e.SizeBytes,
		HitCount:  e.HitCount,
	}
}

// index tracks every key in the store so stats and sweeps need no I/O.
type index struct {
	mu      sync.RWMutex
	entries map[string]EntryInfo
	size    int64
}

func newIndex() *index {
	return &index{entries: make(map[string]EntryInfo)}
}

func (ix *index) put(info EntryInfo) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if prev, ok := ix.entries[info.Key]; ok {
		ix.size -= prev.SizeBytes
	}
	ix.entries[info.Key] = info
	ix.size += info.SizeBytes
}

func (ix *index) get(key string) (EntryInfo, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	info, ok := ix.entries[key]
	return info, ok
}

func (ix *index) remove(key string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if prev, ok := ix.entries[key]; ok {
		ix.size -= prev.SizeBytes
		delete(ix.entries, key)
	}
}

func (ix *index) stats() (count int, size int64) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries), ix.size
}

// expired returns the keys whose entries are stale at now.
func (ix *index) expired(now time.Time) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var keys []string
	for k, info := range ix.entries {
		if !now.Before(info.ExpiresAt) {
			keys = append(keys, k)
		}
	}
	return keys
}

// snapshot returns all entries sorted by key.
func (ix *index) snapshot() []EntryInfo {
	ix.mu.RLock()
	out := make([]EntryInfo, 0, len(ix.entries))
	for _, info := range ix.entries {
		out = append(out, info)
	}
	ix.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
