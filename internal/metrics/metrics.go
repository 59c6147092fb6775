// Package metrics exposes Prometheus instrumentation for the offline layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "careerforge_offline"

// Metrics holds every collector the daemon records to. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups  *prometheus.CounterVec
	cacheFetches  *prometheus.CounterVec
	drainAttempts *prometheus.CounterVec
	drainDuration *prometheus.HistogramVec
	queueDepth    *prometheus.GaugeVec
	online        prometheus.Gauge
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Resource cache lookups by policy and outcome.",
		}, []string{"policy", "outcome"}),
		cacheFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "upstream_fetches_total",
			Help:      "Upstream fetches made by the resource cache by result.",
		}, []string{"result"}),
		drainAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "attempts_total",
			Help:      "Outbox replay attempts by tag and result.",
		}, []string{"tag", "result"}),
		drainDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "drain_duration_seconds",
			Help:      "Duration of outbox drain passes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tag"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "depth",
			Help:      "Pending entries per outbox queue after the last drain.",
		}, []string{"queue"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "remote_online",
			Help:      "1 when the last connectivity probe succeeded.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cacheLookups,
		m.cacheFetches,
		m.drainAttempts,
		m.drainDuration,
		m.queueDepth,
		m.online,
	)
	return m
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CacheLookup records a cache lookup. outcome is hit, miss, or fallback.
func (m *Metrics) CacheLookup(policy, outcome string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(policy, outcome).Inc()
}

// CacheFetch records an upstream fetch. result is ok or error.
func (m *Metrics) CacheFetch(result string) {
	if m == nil {
		return
	}
	m.cacheFetches.WithLabelValues(result).Inc()
}

// SyncAttempt records one replayed entry. result is synced or failed.
func (m *Metrics) SyncAttempt(tag, result string) {
	if m == nil {
		return
	}
	m.drainAttempts.WithLabelValues(tag, result).Inc()
}

// ObserveDrain records the duration of a drain pass in seconds.
func (m *Metrics) ObserveDrain(tag string, seconds float64) {
	if m == nil {
		return
	}
	m.drainDuration.WithLabelValues(tag).Observe(seconds)
}

// SetQueueDepth records the number of pending entries in a queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// SetOnline records the connectivity state.
func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
		return
	}
	m.online.Set(0)
}
