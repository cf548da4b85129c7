// Package metrics exposes Prometheus counters and gauges for the resolution
// engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the engine.
type Metrics struct {
	registry              *prometheus.Registry
	resolvesTotal         *prometheus.CounterVec
	manifestsServedTotal  prometheus.Counter
	segmentRedirectsTotal prometheus.Counter
	segmentRejectsTotal   prometheus.Counter
	preloadRunsTotal      prometheus.Counter
	activeSessions        prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	resolvesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_resolves_total",
		Help: "Total number of resolution requests by outcome",
	}, []string{"outcome"})
	manifestsServedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_manifests_served_total",
		Help: "Total number of manifest responses served",
	})
	segmentRedirectsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_segment_redirects_total",
		Help: "Total number of segment requests redirected upstream",
	})
	segmentRejectsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_segment_rejects_total",
		Help: "Total number of segment requests refused by the host allowlist",
	})
	preloadRunsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_preload_runs_total",
		Help: "Total number of preload runs executed",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamgate_active_sessions",
		Help: "Number of unexpired resolved sessions",
	})

	registry.MustRegister(
		resolvesTotal,
		manifestsServedTotal,
		segmentRedirectsTotal,
		segmentRejectsTotal,
		preloadRunsTotal,
		activeSessions,
	)

	return &Metrics{
		registry:              registry,
		resolvesTotal:         resolvesTotal,
		manifestsServedTotal:  manifestsServedTotal,
		segmentRedirectsTotal: segmentRedirectsTotal,
		segmentRejectsTotal:   segmentRejectsTotal,
		preloadRunsTotal:      preloadRunsTotal,
		activeSessions:        activeSessions,
	}
}

// IncResolve increments the resolve counter for an outcome label, one of
// "hit", "resolved", "no_candidates" or "error".
func (m *Metrics) IncResolve(outcome string) {
	m.resolvesTotal.WithLabelValues(outcome).Inc()
}

// IncManifestsServed increments the manifests served counter.
func (m *Metrics) IncManifestsServed() {
	m.manifestsServedTotal.Inc()
}

// IncSegmentRedirects increments the segment redirect counter.
func (m *Metrics) IncSegmentRedirects() {
	m.segmentRedirectsTotal.Inc()
}

// IncSegmentRejects increments the segment reject counter.
func (m *Metrics) IncSegmentRejects() {
	m.segmentRejectsTotal.Inc()
}

// IncPreloadRuns increments the preload run counter.
func (m *Metrics) IncPreloadRuns() {
	m.preloadRunsTotal.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
