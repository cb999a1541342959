// Package metrics defines the Prometheus instruments of the service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	Registry *prometheus.Registry

	CatalogFetches      *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
	JobsSubmitted       *prometheus.CounterVec
	JobsCompleted       *prometheus.CounterVec
	JobsInFlight        prometheus.Gauge
	JobDuration         prometheus.Histogram
	ResultCache         *prometheus.CounterVec
	ImageFailures       prometheus.Counter
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// NewMetrics registers every instrument on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		CatalogFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lookalike_catalog_fetches_total",
			Help: "Catalog reads by outcome",
		}, []string{"outcome"}), // fresh_snapshot, remote, stale_fallback, empty
		CircuitBreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lookalike_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		JobsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lookalike_jobs_submitted_total",
			Help: "Job submissions, split by whether they joined an in-flight job",
		}, []string{"kind"}), // new, deduplicated
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lookalike_jobs_completed_total",
			Help: "Finished jobs by final state",
		}, []string{"state"}),
		JobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lookalike_jobs_in_flight",
			Help: "Jobs queued or running",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lookalike_job_duration_seconds",
			Help:    "Wall time of similarity jobs",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		ResultCache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lookalike_result_cache_total",
			Help: "Result cache lookups by outcome",
		}, []string{"outcome"}), // hit, miss
		ImageFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "lookalike_image_failures_total",
			Help: "Images that could not be fetched or decoded",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lookalike_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lookalike_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

func (m *Metrics) IncCatalogFetch(outcome string) {
	if m == nil {
		return
	}
	m.CatalogFetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(state)
}

func (m *Metrics) IncJobSubmitted(deduplicated bool) {
	if m == nil {
		return
	}
	kind := "new"
	if deduplicated {
		kind = "deduplicated"
	} else {
		m.JobsInFlight.Inc()
	}
	m.JobsSubmitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveJobCompleted(state string, seconds float64) {
	if m == nil {
		return
	}
	m.JobsInFlight.Dec()
	m.JobsCompleted.WithLabelValues(state).Inc()
	m.JobDuration.Observe(seconds)
}

func (m *Metrics) IncResultCache(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.ResultCache.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncImageFailure() {
	if m == nil {
		return
	}
	m.ImageFailures.Inc()
}

func (m *Metrics) ObserveHTTP(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPDuration.WithLabelValues(method, path, status).Observe(seconds)
}
