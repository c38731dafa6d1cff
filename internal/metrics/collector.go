// Package metrics exports cache statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"goflare.io/cinder/internal/health"
	"goflare.io/cinder/internal/models"
)

const namespace = "cinder"

// Source provides the statistics a Collector exports.
type Source interface {
	GetStats() models.CacheStats
	GetHealthStatus() health.Status
}

// Collector reads statistics from its source on every scrape.
type Collector struct {
	source Source

	entries   *prometheus.Desc
	sizeBytes *prometheus.Desc
	diskBytes *prometheus.Desc
	hits      *prometheus.Desc
	misses    *prometheus.Desc
	expired   *prometheus.Desc
	ops       *prometheus.Desc
	failed    *prometheus.Desc
	hitRate   *prometheus.Desc
	health    *prometheus.Desc
}

// NewCollector creates a Collector over source.
func NewCollector(source Source) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, labels, nil)
	}
	return &Collector{
		source:    source,
		entries:   desc("entries", "Number of stored cache entries."),
		sizeBytes: desc("size_bytes", "Serialized size of stored values."),
		diskBytes: desc("disk_bytes", "Storage footprint of the records at the last measurement."),
		hits:      desc("hits_total", "Reads served from the cache."),
		misses:    desc("misses_total", "Reads that found no fresh entry."),
		expired:   desc("expired_total", "Entries removed after expiring."),
		ops:       desc("operations_total", "Recorded cache operations."),
		failed:    desc("failed_operations_total", "Recorded cache operations that failed."),
		hitRate:   desc("hit_ratio", "Hits over all reads."),
		health:    desc("health_status", "1 for the current health state, 0 otherwise.", "status"),
	}
}

// Register creates a Collector over source and registers it with reg.
func Register(reg prometheus.Registerer, source Source) (*Collector, error) {
	c := NewCollector(source)
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.sizeBytes
	ch <- c.diskBytes
	ch <- c.hits
	ch <- c.misses
	ch <- c.expired
	ch <- c.ops
	ch <- c.failed
	ch <- c.hitRate
	ch <- c.health
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.GetStats()

	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(stats.TotalEntries))
	ch <- prometheus.MustNewConstMetric(c.sizeBytes, prometheus.GaugeValue, float64(stats.TotalSize))
	ch <- prometheus.MustNewConstMetric(c.diskBytes, prometheus.GaugeValue, float64(stats.DiskBytes))
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(c.expired, prometheus.CounterValue, float64(stats.ExpiredEntries))
	ch <- prometheus.MustNewConstMetric(c.ops, prometheus.CounterValue, float64(stats.TotalOperations))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(stats.FailedOperations))
	ch <- prometheus.MustNewConstMetric(c.hitRate, prometheus.GaugeValue, stats.HitRate)

	current := c.source.GetHealthStatus().Status
	for _, s := range []health.State{health.StateHealthy, health.StateDegraded, health.StateCritical} {
		v := 0.0
		if s == current {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.health, prometheus.GaugeValue, v, string(s))
	}
}
