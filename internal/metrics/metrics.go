// Package metrics exposes the Prometheus collectors for the health-cost
// service. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flockhealth"

// Metrics groups the collectors registered on a private registry.
type Metrics struct {
	registry         *prometheus.Registry
	actions          *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec
	costComputations *prometheus.CounterVec
	costDuration     prometheus.Histogram
	transitions      *prometheus.CounterVec
	repairs          *prometheus.CounterVec
}

// New builds and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Dispatched actions by name and result code.",
		}, []string{"action", "code"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Action handling latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		costComputations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_computations_total",
			Help:      "Batch cost computations by outcome.",
		}, []string{"outcome"}),
		costDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cost_computation_duration_seconds",
			Help:      "Batch cost computation latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "treatment_transitions_total",
			Help:      "Treatment lifecycle transitions by target status.",
		}, []string{"to"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_repairs_total",
			Help:      "Inconsistencies found by the reconciliation pass, by kind and whether they were applied.",
		}, []string{"kind", "applied"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.actions, m.actionDuration, m.costComputations, m.costDuration, m.transitions, m.repairs,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveAction records one dispatched action.
func (m *Metrics) ObserveAction(action, code string, d time.Duration) {
	if m == nil {
		return
	}
	if code == "" {
		code = "OK"
	}
	m.actions.WithLabelValues(action, code).Inc()
	m.actionDuration.WithLabelValues(action).Observe(d.Seconds())
}

// ObserveCostComputation records one cost aggregation.
func (m *Metrics) ObserveCostComputation(success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "error"
	if success {
		outcome = "success"
	}
	m.costComputations.WithLabelValues(outcome).Inc()
	m.costDuration.Observe(d.Seconds())
}

// ObserveTransition records a treatment status change.
func (m *Metrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

// ObserveRepair records an inconsistency found by reconciliation.
func (m *Metrics) ObserveRepair(kind string, applied bool) {
	if m == nil {
		return
	}
	label := "false"
	if applied {
		label = "true"
	}
	m.repairs.WithLabelValues(kind, label).Inc()
}
