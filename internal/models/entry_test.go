package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"goflare.io/cinder/pkg/value"
)

func TestNewEntry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := NewEntry("status-data", value.MustParse(`{"ok":true}`), now, 5*time.Minute, "status", "1.0")

	assert.Equal(t, now, e.CreatedAt)
	assert.Equal(t, now, e.UpdatedAt)
	assert.Equal(t, now.Add(5*time.Minute), e.ExpiresAt)
	assert.Equal(t, int64(len(`{"ok":true}`)), e.SizeBytes)

	assert.False(t, e.IsExpired(now.Add(5*time.Minute-time.Nanosecond)))
	assert.True(t, e.IsExpired(now.Add(5*time.Minute)))
}

func TestMetrics_Rates(t *testing.T) {
	m := NewMetrics()
	assert.Zero(t, m.HitRate())
	assert.Zero(t, m.MissRate())

	m.Hits.Add(3)
	m.Misses.Inc()
	assert.InDelta(t, 0.75, m.HitRate(), 1e-9)
	assert.InDelta(t, 0.25, m.MissRate(), 1e-9)
}
