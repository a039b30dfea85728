// Package metrics owns the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "warden"

// Metrics groups the collectors. A nil *Metrics is valid and records
// nothing, so components can run without a registry in tests.
type Metrics struct {
	Registry *prometheus.Registry

	messages       *prometheus.CounterVec
	strikes        *prometheus.CounterVec
	timeouts       *prometheus.CounterVec
	backendDecline *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	canned         prometheus.Counter
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages by resolved context type.",
		}, []string{"context"}),
		strikes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strikes_total",
			Help:      "Strikes recorded by category.",
		}, []string{"category"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeouts_total",
			Help:      "Timeout attempts by result.",
		}, []string{"result"}),
		backendDecline: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_declines_total",
			Help:      "Generation backend declines by backend and reason.",
		}, []string{"backend", "reason"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_latency_seconds",
			Help:      "Generation backend call latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15},
		}, []string{"backend"}),
		canned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "canned_responses_total",
			Help:      "Replies served from the canned pool after every backend declined.",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messages, m.strikes, m.timeouts, m.backendDecline, m.backendLatency, m.canned,
	)
	return m
}

func (m *Metrics) Message(context string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(context).Inc()
}

func (m *Metrics) Strike(category string) {
	if m == nil {
		return
	}
	m.strikes.WithLabelValues(category).Inc()
}

// Timeout records a timeout attempt; result is "applied", "denied" or
// "failed".
func (m *Metrics) Timeout(result string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(result).Inc()
}

func (m *Metrics) BackendDecline(backend, reason string) {
	if m == nil {
		return
	}
	m.backendDecline.WithLabelValues(backend, reason).Inc()
}

func (m *Metrics) BackendLatency(backend string, seconds float64) {
	if m == nil {
		return
	}
	m.backendLatency.WithLabelValues(backend).Observe(seconds)
}

func (m *Metrics) Canned() {
	if m == nil {
		return
	}
	m.canned.Inc()
}
