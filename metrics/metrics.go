// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's collectors, registered against one registry so
// tests can use isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	CacheReads      *prometheus.CounterVec
	RefreshDuration *prometheus.HistogramVec
	RefreshFailures *prometheus.CounterVec
	FanoutFailures  *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		CacheReads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetgate",
			Name:      "cache_reads_total",
			Help:      "Payload reads served, labeled by endpoint and data source.",
		}, []string{"endpoint", "source"}),
		RefreshDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fleetgate",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of cache refresh attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		RefreshFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetgate",
			Name:      "refresh_failures_total",
			Help:      "Cache refresh attempts that failed outright.",
		}, []string{"endpoint"}),
		FanoutFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetgate",
			Name:      "fanout_entity_failures_total",
			Help:      "Per-entity detail fetches that failed during fan-out.",
		}, []string{"endpoint"}),
	}
}

// ObserveRefresh records one refresh attempt's duration and outcome.
func (m *Metrics) ObserveRefresh(endpoint string, elapsed time.Duration, err error) {
	m.RefreshDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
	if err != nil {
		m.RefreshFailures.WithLabelValues(endpoint).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
