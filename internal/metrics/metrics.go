// Package metrics exposes Prometheus collectors for batch dispatch.
//
// All Record methods are safe on a nil *Metrics, so components can take an
// optional metrics value without guarding every call.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "talazo"

// Metrics contains Prometheus metrics for a dispatch run.
type Metrics struct {
	registry *prometheus.Registry

	// Admission decisions
	admissions *prometheus.CounterVec

	// Attempt outcomes and latency
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec

	// Terminal records
	records *prometheus.CounterVec

	// Loop state
	inFlight prometheus.Gauge
	queued   prometheus.Gauge

	// Budgets
	budgetAvailable *prometheus.GaugeVec
	cooldowns       prometheus.Counter
	itemCost        prometheus.Histogram

	// Endpoint breaker
	breakerState *prometheus.GaugeVec
}

// Breaker states reported by SetBreakerState.
var breakerStates = []string{"closed", "half-open", "open"}

// New creates a Metrics instance registered on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		admissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admissions_total",
				Help:      "Admission decisions for the head-of-line item",
			},
			[]string{"result"},
		),

		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Completed attempts by outcome",
			},
			[]string{"outcome", "kind"},
		),

		attemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Duration of a single attempt in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
			[]string{"outcome"},
		),

		records: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Terminal result records by status",
			},
			[]string{"status"},
		),

		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "Attempts currently in flight",
		}),

		queued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_queue_length",
			Help:      "Items waiting in the retry queue",
		}),

		budgetAvailable: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "budget_available",
				Help:      "Available budget units",
			},
			[]string{"budget"},
		),

		cooldowns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_cooldowns_total",
			Help:      "Admission pauses triggered by rate-limit responses",
		}),

		itemCost: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_cost_units",
			Help:      "Estimated cost of each item",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 14), // 16 to 128K
		}),

		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "1 for the current endpoint circuit breaker state, 0 otherwise",
			},
			[]string{"state"},
		),
	}
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordAdmission records an admission decision ("admitted", "deferred",
// "breaker_open").
func (m *Metrics) RecordAdmission(result string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(result).Inc()
}

// RecordAttempt records a completed attempt.
func (m *Metrics) RecordAttempt(outcome, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome, kind).Inc()
	m.attemptDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordResult records a terminal record.
func (m *Metrics) RecordResult(status string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(status).Inc()
}

// RecordCooldown records a rate-limit pause.
func (m *Metrics) RecordCooldown() {
	if m == nil {
		return
	}
	m.cooldowns.Inc()
}

// RecordItemCost records the estimated cost of a newly read item.
func (m *Metrics) RecordItemCost(cost int) {
	if m == nil {
		return
	}
	m.itemCost.Observe(float64(cost))
}

// UpdateLoop updates the in-flight and queue gauges.
func (m *Metrics) UpdateLoop(inFlight, queued int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(inFlight))
	m.queued.Set(float64(queued))
}

// UpdateBudgets updates the available budget gauges.
func (m *Metrics) UpdateBudgets(requests, cost float64) {
	if m == nil {
		return
	}
	m.budgetAvailable.WithLabelValues("requests").Set(requests)
	m.budgetAvailable.WithLabelValues("cost").Set(cost)
}

// SetBreakerState marks state ("closed", "half-open" or "open") as the
// current breaker state.
func (m *Metrics) SetBreakerState(state string) {
	if m == nil {
		return
	}
	for _, s := range breakerStates {
		value := 0.0
		if s == state {
			value = 1
		}
		m.breakerState.WithLabelValues(s).Set(value)
	}
}
