package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by the provider clients, the
// meetup cache, and the page orchestrator.
type Metrics struct {
	ProviderRequests *prometheus.CounterVec   // labels: provider, outcome={success,not_found,failure}
	ProviderDuration *prometheus.HistogramVec // labels: provider
	CacheLookups     *prometheus.CounterVec   // labels: result={hit,miss}
	CacheEntries     prometheus.Gauge
	RegionsRendered  *prometheus.CounterVec // labels: region, status={ok,unavailable}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ProviderRequests,
		m.ProviderDuration,
		m.CacheLookups,
		m.CacheEntries,
		m.RegionsRendered,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "todayinmycity",
			Name:      "provider_requests_total",
			Help:      "Third-party provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "todayinmycity",
			Name:      "provider_request_duration_seconds",
			Help:      "Third-party provider request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "todayinmycity",
			Name:      "meetup_cache_lookups_total",
			Help:      "Meetup cache lookups by result.",
		}, []string{"result"}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "todayinmycity",
			Name:      "meetup_cache_entries",
			Help:      "Live entries in the meetup cache after the last purge.",
		}),
		RegionsRendered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "todayinmycity",
			Name:      "regions_rendered_total",
			Help:      "Page regions rendered by region and status.",
		}, []string{"region", "status"}),
	}
}
