// Package prometheus implements the varbus metrics interfaces on a
// Prometheus registry.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/varbus/pkg/metrics"
)

// requestMetrics implements metrics.RequestMetrics.
type requestMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	sessions *prometheus.GaugeVec
}

// NewRequestMetrics registers and returns the request-path collectors.
func NewRequestMetrics(reg prometheus.Registerer) metrics.RequestMetrics {
	m := &requestMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "varbus",
			Name:      "requests_total",
			Help:      "Completed requests by type, transport binding, and outcome code.",
		}, []string{"request", "transport", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "varbus",
			Name:      "request_duration_seconds",
			Help:      "Request handling latency by type and transport binding.",
			Buckets:   prometheus.ExponentialBuckets(10e-6, 4, 10),
		}, []string{"request", "transport"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "varbus",
			Name:      "sessions",
			Help:      "Open client sessions by transport binding.",
		}, []string{"transport"}),
	}
	reg.MustRegister(m.requests, m.duration, m.sessions)
	return m
}

func (m *requestMetrics) RecordRequest(request, transport string, d time.Duration, code string) {
	m.requests.WithLabelValues(request, transport, code).Inc()
	m.duration.WithLabelValues(request, transport).Observe(d.Seconds())
}

func (m *requestMetrics) RecordSessionOpen(transport string) {
	m.sessions.WithLabelValues(transport).Inc()
}

func (m *requestMetrics) RecordSessionClose(transport string) {
	m.sessions.WithLabelValues(transport).Dec()
}

// storeMetrics implements metrics.StoreMetrics.
type storeMetrics struct {
	variables prometheus.Gauge
	writes    *prometheus.CounterVec
}

// NewStoreMetrics registers and returns the variable-table collectors.
// The per-variable write counter is labeled by name; deployments with
// unbounded variable churn should front it with a relabeling rule.
func NewStoreMetrics(reg prometheus.Registerer) metrics.StoreMetrics {
	m := &storeMetrics{
		variables: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "varbus",
			Name:      "variables",
			Help:      "Live variables in the table.",
		}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "varbus",
			Name:      "variable_writes_total",
			Help:      "Committed value writes by variable name.",
		}, []string{"name"}),
	}
	reg.MustRegister(m.variables, m.writes)
	return m
}

func (m *storeMetrics) SetVariableCount(n int) { m.variables.Set(float64(n)) }

func (m *storeMetrics) RecordWrite(name string) { m.writes.WithLabelValues(name).Inc() }
