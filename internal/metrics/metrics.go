// Package metrics exposes Prometheus counters and histograms for pipeline
// execution and cache behaviour, served on a /metrics route of the same
// gin engine as the pipeline route.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the pipeline and cache plug-ins update.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	CacheEvictions  *prometheus.CounterVec
}

// New registers every collector against its own registry, so the metrics
// server can be stood up independently of the default global registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imaginator",
			Name:      "request_duration_seconds",
			Help:      "Time spent executing a pipeline for one HTTP request.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imaginator",
			Name:      "requests_total",
			Help:      "Total HTTP requests served, by response status.",
		}, []string{"status"}),
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imaginator",
			Name:      "cache_hits_total",
			Help:      "Cache lookups that found a stored entry, by cache name.",
		}, []string{"cache"}),
		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imaginator",
			Name:      "cache_misses_total",
			Help:      "Cache lookups that executed the sub-filter, by cache name.",
		}, []string{"cache"}),
		CacheEvictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imaginator",
			Name:      "cache_evictions_total",
			Help:      "Entries evicted to stay within a cache's byte capacity.",
		}, []string{"cache"}),
	}
}

// ObserveRequest records one finished HTTP request's status and latency.
func (m *Metrics) ObserveRequest(status int, dur time.Duration) {
	label := statusLabel(status)
	m.RequestDuration.WithLabelValues(label).Observe(dur.Seconds())
	m.RequestsTotal.WithLabelValues(label).Inc()
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
