// Package metrics exposes dispatcher metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "garvis"

// Rejection reasons recorded by RejectionsTotal.
const (
	ReasonCapacity = "capacity"
	ReasonTimeout  = "timeout"
)

// Metrics holds the collectors for one process. All methods are safe on a nil receiver
// so callers can leave metrics unconfigured.
type Metrics struct {
	registry  *prometheus.Registry
	startTime time.Time

	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	InFlight          *prometheus.GaugeVec
	UnmatchedTotal    prometheus.Counter
	RejectionsTotal   *prometheus.CounterVec
	FailuresTotal     *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_executions_total",
				Help:      "Agent executions by response status.",
			},
			[]string{"agent", "status"},
		),
		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_execution_duration_seconds",
				Help:      "Wall time spent inside Agent.Execute.",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"agent"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "agent_in_flight",
				Help:      "Executions currently running per agent.",
			},
			[]string{"agent"},
		),
		UnmatchedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_unmatched_total",
				Help:      "Requests no agent could handle.",
			},
		),
		RejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_rejections_total",
				Help:      "Requests answered without a result from the agent.",
			},
			[]string{"agent", "reason"},
		),
		FailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_failures_total",
				Help:      "Errors that escaped Agent.Execute.",
			},
			[]string{"agent"},
		),
	}

	m.registry.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.InFlight,
		m.UnmatchedTotal,
		m.RejectionsTotal,
		m.FailuresTotal,
		collectors.NewGoCollector(),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since start in seconds.",
		}, func() float64 { return time.Since(m.startTime).Seconds() }),
	)
	return m
}

// ObserveExecution records one completed Agent.Execute call.
func (m *Metrics) ObserveExecution(agent, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(agent, status).Inc()
	m.ExecutionDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// SetInFlight publishes the current in-flight count for agent.
func (m *Metrics) SetInFlight(agent string, n int) {
	if m == nil {
		return
	}
	m.InFlight.WithLabelValues(agent).Set(float64(n))
}

func (m *Metrics) IncUnmatched() {
	if m == nil {
		return
	}
	m.UnmatchedTotal.Inc()
}

func (m *Metrics) IncRejected(agent, reason string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(agent, reason).Inc()
}

func (m *Metrics) IncFailed(agent string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(agent).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
