package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics tracks decision-engine operations.
type Metrics struct {
	checksTotal    *prometheus.CounterVec
	checkDuration  prometheus.Histogram
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	engineErrors   prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance with Prometheus collectors (singleton).
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		registry := prometheus.NewRegistry()

		metrics = &Metrics{
			registry: registry,

			checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "authz_engine_checks_total",
				Help: "Total number of check calls, labeled by aggregate effect",
			}, []string{"effect"}),
			checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "authz_engine_check_duration_seconds",
				Help:    "Duration of check calls in seconds",
				Buckets: prometheus.DefBuckets,
			}),
			cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "authz_engine_decision_cache_hits_total",
				Help: "Total number of decision cache hits",
			}),
			cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "authz_engine_decision_cache_misses_total",
				Help: "Total number of decision cache misses",
			}),
			engineErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "authz_engine_errors_total",
				Help: "Total number of catastrophic engine errors (implicit-deny fallback)",
			}),
		}

		registry.MustRegister(
			metrics.checksTotal,
			metrics.checkDuration,
			metrics.cacheHits,
			metrics.cacheMisses,
			metrics.engineErrors,
		)
	})

	return metrics
}

// RecordCheck records a completed check call's aggregate effect and duration.
func (m *Metrics) RecordCheck(effect string, duration time.Duration) {
	m.checksTotal.WithLabelValues(effect).Inc()
	m.checkDuration.Observe(duration.Seconds())
}

// RecordCacheHit increments the decision cache hit counter.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Inc()
}

// RecordCacheMiss increments the decision cache miss counter.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Inc()
}

// RecordEngineError increments the catastrophic-failure counter.
func (m *Metrics) RecordEngineError() {
	m.engineErrors.Inc()
}

// Registry returns the Prometheus registry backing these collectors, so a
// server binary can fold them into a combined /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
