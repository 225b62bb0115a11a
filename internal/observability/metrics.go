// File: internal/observability/metrics.go
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "pagepilot"

// Metrics exposes the Prometheus collectors for engine and planner activity.
// All methods are safe to call on a nil receiver, which records nothing.
type Metrics struct {
	outcomes          *prometheus.CounterVec
	actionDuration    *prometheus.HistogramVec
	settleTimeouts    prometheus.Counter
	dedupDropped      prometheus.Counter
	deliveriesDropped prometheus.Counter
	queueDepth        prometheus.Gauge
	plannerRequests   *prometheus.CounterVec
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// MustNewMetrics creates the collectors and registers them with reg. Use a
// fresh registry per engine; registration errors panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "outcomes_total",
			Help:      "Action outcomes by intent kind and result.",
		}, []string{"kind", "result"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "action_duration_seconds",
			Help:      "Time from dispatch to outcome per intent kind.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		settleTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "settle_timeouts_total",
			Help:      "Navigations that were forced to settle by the timeout.",
		}),
		dedupDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "dedup_dropped_total",
			Help:      "Intents dropped at enqueue as duplicates of pending ones.",
		}),
		deliveriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "outcome_deliveries_dropped_total",
			Help:      "Outcome deliveries skipped because a subscriber was full.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "queue_depth",
			Help:      "Intents waiting in the engine queue.",
		}),
		plannerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "planner",
			Name:      "requests_total",
			Help:      "Planner model calls by status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.outcomes, m.actionDuration, m.settleTimeouts, m.dedupDropped,
			m.deliveriesDropped, m.queueDepth, m.plannerRequests)
	}
	return m
}

// ObserveOutcome records one finished action.
func (m *Metrics) ObserveOutcome(kind string, succeeded bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "failed"
	if succeeded {
		result = "succeeded"
	}
	m.outcomes.WithLabelValues(kind, result).Inc()
	m.actionDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) IncSettleTimeout() {
	if m != nil {
		m.settleTimeouts.Inc()
	}
}

func (m *Metrics) AddDedupDropped(n int) {
	if m != nil && n > 0 {
		m.dedupDropped.Add(float64(n))
	}
}

func (m *Metrics) IncDeliveryDropped() {
	if m != nil {
		m.deliveriesDropped.Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

// IncPlannerRequest counts a planner call with status "ok", "unparseable",
// "retry" or "error".
func (m *Metrics) IncPlannerRequest(status string) {
	if m != nil {
		m.plannerRequests.WithLabelValues(status).Inc()
	}
}
