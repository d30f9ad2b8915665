// Package cache provides metrics for cache operations.
package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricCacheHits           = "cache_hits_total"
	MetricCacheMisses         = "cache_misses_total"
	MetricCacheExpirations    = "cache_expirations_total"
	MetricCacheEncodeFailures = "cache_encode_failures_total"
	MetricCacheDecodeFailures = "cache_decode_failures_total"
)

// Metrics contains Prometheus metrics for cache operations.
// All operations are thread-safe. A nil *Metrics is valid and records nothing,
// so the cache can run unmetered in tests.
type Metrics struct {
	hits           prometheus.Counter
	misses         prometheus.Counter
	expirations    prometheus.Counter
	encodeFailures prometheus.Counter
	decodeFailures prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register them
// with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCacheHits,
			Help: "Total number of cache reads served from a live entry",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCacheMisses,
			Help: "Total number of cache reads that returned absent",
		}),
		expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCacheExpirations,
			Help: "Total number of entries deleted at read time after TTL expiry",
		}),
		encodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCacheEncodeFailures,
			Help: "Total number of Set calls dropped because the value failed to encode",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCacheDecodeFailures,
			Help: "Total number of Get calls degraded to a miss because the stored value failed to decode",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if any metric fails to register.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.hits,
		m.misses,
		m.expirations,
		m.encodeFailures,
		m.decodeFailures,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) expired() {
	if m != nil {
		m.expirations.Inc()
	}
}

func (m *Metrics) encodeFailure() {
	if m != nil {
		m.encodeFailures.Inc()
	}
}

func (m *Metrics) decodeFailure() {
	if m != nil {
		m.decodeFailures.Inc()
	}
}
