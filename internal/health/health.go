// Package health scores cache statistics against thresholds.
package health

import (
	"fmt"
	"time"

	"goflare.io/cinder/internal/models"
)

// State is the overall health verdict.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateCritical State = "critical"
)

// Severity grades a single issue.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IssueType identifies the check that raised an issue.
type IssueType string

const (
	IssueLowHitRate   IssueType = "low_hit_rate"
	IssueExpiredRatio IssueType = "high_expired_ratio"
	IssueDiskUsage    IssueType = "disk_usage"
	IssueFailureRate  IssueType = "failure_rate"
)

var recommendations = map[IssueType]string{
	IssueLowHitRate:   "Increase maxAge for frequently read domains or warm caches before peak traffic",
	IssueExpiredRatio: "Run cache maintenance more often or lower the cleanup interval",
	IssueDiskUsage:    "Enable compression or invalidate unused domains to reduce disk usage",
	IssueFailureRate:  "Check cache directory permissions and storage backend availability",
}

// Issue is a single finding.
type Issue struct {
	Type        IssueType `json:"type" yaml:"type"`
	Description string    `json:"description" yaml:"description"`
	Severity    Severity  `json:"severity" yaml:"severity"`
}

// Status is the result of a health check.
type Status struct {
	Status          State     `json:"status" yaml:"status"`
	Issues          []Issue   `json:"issues" yaml:"issues"`
	Recommendations []string  `json:"recommendations" yaml:"recommendations"`
	LastCheck       time.Time `json:"lastCheck" yaml:"lastCheck"`
}

// Thresholds configures when each check raises an issue.
type Thresholds struct {
	// MinHitRate below which hit rate is a medium issue, CriticalHitRate below which it is high.
	MinHitRate      float64
	CriticalHitRate float64
	// MaxExpiredRatio is the share of expired entries tolerated.
	MaxExpiredRatio float64
	// MaxDiskBytes caps the storage footprint of the records. Zero disables the check.
	MaxDiskBytes int64
	// MaxFailureRate above which failures are high, CriticalFailureRate above which critical.
	MaxFailureRate      float64
	CriticalFailureRate float64
	// MinSamples reads or operations are needed before rate checks apply.
	MinSamples int64
}

// DefaultThresholds returns the thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinHitRate:          0.5,
		CriticalHitRate:     0.2,
		MaxExpiredRatio:     0.3,
		MaxDiskBytes:        512 << 20,
		MaxFailureRate:      0.05,
		CriticalFailureRate: 0.25,
		MinSamples:          10,
	}
}

// Monitor evaluates statistics against fixed thresholds.
type Monitor struct {
	thresholds Thresholds
	now        func() time.Time
}

// NewMonitor creates a Monitor.
func NewMonitor(t Thresholds) *Monitor {
	return &Monitor{thresholds: t, now: time.Now}
}

// Evaluate derives a Status from stats. Any critical issue makes the cache
// critical, any other issue makes it degraded.
func (m *Monitor) Evaluate(stats models.CacheStats) Status {
	var issues []Issue
	add := func(t IssueType, sev Severity, format string, args ...any) {
		issues = append(issues, Issue{Type: t, Severity: sev, Description: fmt.Sprintf(format, args...)})
	}
	th := m.thresholds

	if reads := stats.Hits + stats.Misses; reads >= th.MinSamples && reads > 0 {
		switch {
		case stats.HitRate < th.CriticalHitRate:
			add(IssueLowHitRate, SeverityHigh, "hit rate %.1f%% is below %.1f%%", stats.HitRate*100, th.CriticalHitRate*100)
		case stats.HitRate < th.MinHitRate:
			add(IssueLowHitRate, SeverityMedium, "hit rate %.1f%% is below %.1f%%", stats.HitRate*100, th.MinHitRate*100)
		}
	}

	if seen := int64(stats.TotalEntries) + stats.ExpiredEntries; seen > 0 && th.MaxExpiredRatio > 0 {
		ratio := float64(stats.ExpiredEntries) / float64(seen)
		switch {
		case ratio >= 2*th.MaxExpiredRatio:
			add(IssueExpiredRatio, SeverityMedium, "%.1f%% of entries expired", ratio*100)
		case ratio > th.MaxExpiredRatio:
			add(IssueExpiredRatio, SeverityLow, "%.1f%% of entries expired", ratio*100)
		}
	}

	if th.MaxDiskBytes > 0 && stats.DiskBytes > th.MaxDiskBytes {
		sev := SeverityHigh
		if stats.DiskBytes > th.MaxDiskBytes+th.MaxDiskBytes/2 {
			sev = SeverityCritical
		}
		add(IssueDiskUsage, sev, "cache uses %d bytes of storage, cap is %d", stats.DiskBytes, th.MaxDiskBytes)
	}

	if ops := stats.TotalOperations; ops >= th.MinSamples && ops > 0 {
		rate := float64(stats.FailedOperations) / float64(ops)
		switch {
		case rate >= th.CriticalFailureRate:
			add(IssueFailureRate, SeverityCritical, "%.1f%% of operations failed", rate*100)
		case rate > th.MaxFailureRate:
			add(IssueFailureRate, SeverityHigh, "%.1f%% of operations failed", rate*100)
		}
	}

	return Status{
		Status:          overall(issues),
		Issues:          nonNil(issues),
		Recommendations: recommend(issues),
		LastCheck:       m.now(),
	}
}

func overall(issues []Issue) State {
	state := StateHealthy
	for _, is := range issues {
		if is.Severity == SeverityCritical {
			return StateCritical
		}
		state = StateDegraded
	}
	return state
}

func recommend(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	seen := make(map[IssueType]bool, len(issues))
	for _, is := range issues {
		if seen[is.Type] {
			continue
		}
		seen[is.Type] = true
		out = append(out, recommendations[is.Type])
	}
	return out
}

func nonNil(issues []Issue) []Issue {
	if issues == nil {
		return []Issue{}
	}
	return issues
}
