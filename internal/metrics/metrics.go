// Package metrics exposes Prometheus collectors for the checkout server.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ucp"

// Profile resolution sources and outcomes.
const (
	SourceInline = "inline"
	SourceHeader = "header"
	SourceNone   = "none"

	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
)

// Metrics owns a private registry so tests can create independent instances.
type Metrics struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	sessions      prometheus.Counter
	resolutions   *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	rateLimited   prometheus.Counter
}

// New registers all collectors, plus Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "transitions_total",
			Help:      "Checkout operations by operation and resulting status.",
		}, []string{"operation", "status"}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "sessions_created_total",
			Help:      "Checkout sessions created since start.",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "profile",
			Name:      "resolutions_total",
			Help:      "Platform profile resolutions by source and outcome.",
		}, []string{"source", "outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "profile",
			Name:      "fetch_duration_seconds",
			Help:      "Latency of platform profile network fetches.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}
	reg.MustRegister(
		m.transitions,
		m.sessions,
		m.resolutions,
		m.fetchDuration,
		m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveTransition(operation, status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) ObserveResolution(source, outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(d.Seconds())
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
