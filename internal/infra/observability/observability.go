// Package observability exposes Prometheus metrics for the credit core.
//
// Audit-write failures get their own counter because they are deliberately
// swallowed at the guard boundary: the metric is the only place they remain
// visible in aggregate.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for mutation counters.
const (
	OutcomeSuccess      = "success"
	OutcomeInsufficient = "insufficient_funds"
	OutcomeDuplicate    = "duplicate_request"
	OutcomeContended    = "operation_in_progress"
	OutcomeStoreError   = "store_error"
)

// Metrics holds the credit core's Prometheus collectors.
type Metrics struct {
	Deducts            *prometheus.CounterVec
	Refunds            *prometheus.CounterVec
	AuditWriteFailures prometheus.Counter
	LockContention     prometheus.Counter
	PayoutRequests     *prometheus.CounterVec
	AchievementUnlocks prometheus.Counter
	OperationDuration  *prometheus.HistogramVec
}

// New registers the credit core collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Deducts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_credit_deducts_total",
			Help: "Balance deduction attempts by outcome",
		}, []string{"outcome"}),
		Refunds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_credit_refunds_total",
			Help: "Balance refund attempts by outcome",
		}, []string{"outcome"}),
		AuditWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "verdict_audit_write_failures_total",
			Help: "Ledger appends that failed after a completed mutation (logged, never surfaced)",
		}),
		LockContention: factory.NewCounter(prometheus.CounterOpts{
			Name: "verdict_lock_contention_total",
			Help: "Mutations rejected because the account operation lock was held",
		}),
		PayoutRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_payout_requests_total",
			Help: "Payout requests by resulting status",
		}, []string{"status"}),
		AchievementUnlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "verdict_achievement_unlocks_total",
			Help: "Newly unlocked achievements",
		}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verdict_guard_operation_seconds",
			Help:    "Credit guard operation duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),
	}
}

// NewNop returns metrics bound to a throwaway registry, for tests and
// callers that do not scrape.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveOperation records one guard operation's duration. The caller
// computes elapsed with its own clock so injected test clocks stay
// consistent with what the histogram sees.
func (m *Metrics) ObserveOperation(op string, elapsed time.Duration) {
	m.OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}
