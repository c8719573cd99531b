package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the ledger service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationsTotal *prometheus.CounterVec
	replayDuration  *prometheus.HistogramVec
	undoDepth       prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Total ledger operations processed, by operation and status.",
			},
			[]string{"operation", "status"},
		),
		replayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations including replay.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		undoDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledger_undo_stack_depth",
				Help: "Commands currently held on the undo stack.",
			},
		),
	}
}

// RecordOperation records one operation outcome and its duration.
func (m *Metrics) RecordOperation(operation string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.replayDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// SetUndoDepth updates the undo stack depth gauge.
func (m *Metrics) SetUndoDepth(n int) {
	m.undoDepth.Set(float64(n))
}
