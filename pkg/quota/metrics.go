package quota

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the ledger.
type Metrics struct {
	// Deduction outcomes
	deducts *prometheus.CounterVec

	// Credit grants from the checkout flow
	grants prometheus.Counter

	// Compare-and-save conflicts that triggered a retry
	casConflicts prometheus.Counter

	// Balance resets applied by the window policy
	resets prometheus.Counter

	// Records recreated after a deserialization failure
	malformedRecords prometheus.Counter

	// Store operation latency
	storeDuration *prometheus.HistogramVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// DefaultMetrics returns the process-wide Metrics instance, creating it on
// first use. Collectors register with the default Prometheus registry
// exactly once, so every Ledger in the process shares them.
func DefaultMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			deducts: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "exifquarter_ledger_deducts_total",
					Help: "Total deduction attempts by outcome",
				},
				[]string{"operation", "result"},
			),

			grants: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "exifquarter_ledger_credit_grants_total",
					Help: "Total credit top-ups applied",
				},
			),

			casConflicts: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "exifquarter_ledger_cas_conflicts_total",
					Help: "Total compare-and-save conflicts retried",
				},
			),

			resets: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "exifquarter_ledger_resets_total",
					Help: "Total balances reset to baseline by the window policy",
				},
			),

			malformedRecords: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "exifquarter_ledger_malformed_records_total",
					Help: "Total records recreated after a deserialization failure",
				},
			),

			storeDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "exifquarter_ledger_store_op_duration_seconds",
					Help:    "Duration of store operations in seconds",
					Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
				},
				[]string{"op"},
			),
		}
	})
	return metricsInstance
}

// RecordDeduct records a deduction attempt.
func (m *Metrics) RecordDeduct(operation string, result string) {
	m.deducts.WithLabelValues(operation, result).Inc()
}

// RecordGrant records a credit top-up.
func (m *Metrics) RecordGrant() {
	m.grants.Inc()
}

// RecordCASConflict records a compare-and-save conflict.
func (m *Metrics) RecordCASConflict() {
	m.casConflicts.Inc()
}

// RecordReset records a window-policy balance reset.
func (m *Metrics) RecordReset() {
	m.resets.Inc()
}

// RecordMalformed records a record recreated after a decode failure.
func (m *Metrics) RecordMalformed() {
	m.malformedRecords.Inc()
}

// ObserveStoreOp records the duration of a store operation.
func (m *Metrics) ObserveStoreOp(op string, seconds float64) {
	m.storeDuration.WithLabelValues(op).Observe(seconds)
}
