package utils

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the cache and resilience core.
type Metrics struct {
	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	tierUsage    *prometheus.GaugeVec
	tierQuota    *prometheus.GaugeVec
	healthLevel  prometheus.Gauge
	breakerState *prometheus.GaugeVec
	retries      *prometheus.CounterVec
	fetchLatency prometheus.Histogram
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		cacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits by tier",
			},
			[]string{"tier"},
		),
		cacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses by tier",
			},
			[]string{"tier"},
		),
		tierUsage: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cache_tier_usage_bytes",
				Help: "Measured usage per cache tier in bytes",
			},
			[]string{"tier"},
		),
		tierQuota: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cache_tier_quota_bytes",
				Help: "Estimated quota per cache tier in bytes",
			},
			[]string{"tier"},
		),
		healthLevel: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "storage_health_level",
				Help: "Overall storage health (0 healthy .. 4 emergency)",
			},
		),
		breakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state per dependency (0 closed, 1 half-open, 2 open)",
			},
			[]string{"dependency"},
		),
		retries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilience_retries_total",
				Help: "Retry attempts per dependency",
			},
			[]string{"dependency"},
		),
		fetchLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cache_fetch_latency_ms",
				Help:    "Latency of source fetches on cache miss in milliseconds",
				Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
			},
		),
	}
}

// IncrementCacheHits increments the hit counter for a tier.
func (m *Metrics) IncrementCacheHits(tier string) {
	m.cacheHits.WithLabelValues(tier).Inc()
}

// IncrementCacheMisses increments the miss counter for a tier.
func (m *Metrics) IncrementCacheMisses(tier string) {
	m.cacheMisses.WithLabelValues(tier).Inc()
}

// SetTierUsage records a tier's measured usage.
func (m *Metrics) SetTierUsage(tier string, bytes int64) {
	m.tierUsage.WithLabelValues(tier).Set(float64(bytes))
}

// SetTierQuota records a tier's estimated quota.
func (m *Metrics) SetTierQuota(tier string, bytes int64) {
	m.tierQuota.WithLabelValues(tier).Set(float64(bytes))
}

// SetHealthLevel records the overall health severity rank.
func (m *Metrics) SetHealthLevel(rank int) {
	m.healthLevel.Set(float64(rank))
}

// SetBreakerState records a breaker's position.
func (m *Metrics) SetBreakerState(dependency, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.breakerState.WithLabelValues(dependency).Set(v)
}

// IncrementRetries counts one retry attempt for a dependency.
func (m *Metrics) IncrementRetries(dependency string) {
	m.retries.WithLabelValues(dependency).Inc()
}

// RecordFetchLatency records how long a source fetch took.
func (m *Metrics) RecordFetchLatency(d time.Duration) {
	m.fetchLatency.Observe(float64(d.Milliseconds()))
}
