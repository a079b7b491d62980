// Package metrics exposes Prometheus instrumentation for scenario execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates the engine's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so instrumentation stays optional in tests.
type Metrics struct {
	stepsTotal     *prometheus.CounterVec
	passesTotal    *prometheus.CounterVec
	suspendsTotal  prometheus.Counter
	timeoutsTotal  *prometheus.CounterVec
	handoversTotal prometheus.Counter
	unmatchedTotal prometheus.Counter
	passDuration   prometheus.Histogram
}

// New registers the engine collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "steps_executed_total",
			Help:      "Steps executed, by step type.",
		}, []string{"type"}),
		passesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "passes_total",
			Help:      "Execution passes, by outcome.",
		}, []string{"outcome"}),
		suspendsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "suspends_total",
			Help:      "Sessions suspended on input waits.",
		}),
		timeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "wait_timeouts_total",
			Help:      "Expired input waits, by resolution.",
		}, []string{"resolution"}),
		handoversTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "handovers_total",
			Help:      "Scenario to scenario handovers.",
		}),
		unmatchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "unmatched_input_total",
			Help:      "Inbound events rejected by a wait spec.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flowbot",
			Name:      "pass_duration_seconds",
			Help:      "Duration of one execution pass.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
	reg.MustRegister(
		m.stepsTotal, m.passesTotal, m.suspendsTotal,
		m.timeoutsTotal, m.handoversTotal, m.unmatchedTotal, m.passDuration,
	)
	return m
}

// Step records one executed step of the given type.
func (m *Metrics) Step(stepType string) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(stepType).Inc()
}

// Pass records a finished execution pass and its duration.
func (m *Metrics) Pass(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.passesTotal.WithLabelValues(outcome).Inc()
	m.passDuration.Observe(took.Seconds())
}

// Suspend records a session suspension.
func (m *Metrics) Suspend() {
	if m == nil {
		return
	}
	m.suspendsTotal.Inc()
}

// Timeout records one expired wait and how it was resolved.
func (m *Metrics) Timeout(resolution string) {
	if m == nil {
		return
	}
	m.timeoutsTotal.WithLabelValues(resolution).Inc()
}

// Handover records one scenario switch.
func (m *Metrics) Handover() {
	if m == nil {
		return
	}
	m.handoversTotal.Inc()
}

// Unmatched records one event rejected by a wait spec.
func (m *Metrics) Unmatched() {
	if m == nil {
		return
	}
	m.unmatchedTotal.Inc()
}
