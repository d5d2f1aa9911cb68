// Package metrics exposes Prometheus collectors for patch operations
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "deltapatch"

// Collector records patch activity. A nil *Collector records nothing.
type Collector struct {
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	outcomes    *prometheus.CounterVec
	rows        prometheus.Counter
	diagnostics *prometheus.CounterVec
	rollbacks   *prometheus.CounterVec
}

// NewCollector registers the patch collectors with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Patch operations by entry point and status",
		}, []string{"operation", "status"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Patch operation latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),

		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Committed record outcomes by model and kind",
		}, []string{"model", "kind"}),

		rows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_affected_total",
			Help:      "Rows written by committed patches",
		}),

		diagnostics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Skipped inputs by kind",
		}, []string{"kind"}),

		rollbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rolled back patches by reason",
		}, []string{"reason"}),
	}
}

// ObserveOperation records one finished operation
func (c *Collector) ObserveOperation(operation, status string, seconds float64) {
	if c == nil {
		return
	}
	c.operations.WithLabelValues(operation, status).Inc()
	c.duration.WithLabelValues(operation).Observe(seconds)
}

// ObserveOutcome records one committed record outcome
func (c *Collector) ObserveOutcome(model, kind string) {
	if c == nil {
		return
	}
	c.outcomes.WithLabelValues(model, kind).Inc()
}

// AddRows records rows written by a commit
func (c *Collector) AddRows(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.rows.Add(float64(n))
}

// ObserveDiagnostic records one skipped input
func (c *Collector) ObserveDiagnostic(kind string) {
	if c == nil {
		return
	}
	c.diagnostics.WithLabelValues(kind).Inc()
}

// ObserveRollback records one rolled back patch
func (c *Collector) ObserveRollback(reason string) {
	if c == nil {
		return
	}
	c.rollbacks.WithLabelValues(reason).Inc()
}
