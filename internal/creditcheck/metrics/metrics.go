// Package metrics exposes Prometheus collectors for the purchase workflow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Purchase outcomes.
const (
	OutcomeSuccess       = "success"
	OutcomeDuplicate     = "duplicate"
	OutcomeLockTimeout   = "lock_timeout"
	OutcomePurchaseError = "purchase_error"
	OutcomePersistError  = "persist_error"
	OutcomeInvalid       = "invalid"
)

// Best-effort enrichment steps.
const (
	StepDetail = "detail"
	StepUpload = "upload"
	StepInfos  = "infos"
)

// Metrics groups the service collectors.
type Metrics struct {
	// PurchasesTotal counts PurchaseAndSave calls by outcome.
	PurchasesTotal *prometheus.CounterVec
	// EnrichmentFailuresTotal counts swallowed post-purchase failures by step.
	EnrichmentFailuresTotal *prometheus.CounterVec
	// LockWaitSeconds is the time spent waiting for the client lock.
	LockWaitSeconds prometheus.Histogram
	// PurchaseDurationSeconds is the end-to-end PurchaseAndSave latency,
	// which equals the lock hold time plus the wait.
	PurchaseDurationSeconds prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PurchasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditcheck",
			Subsystem: "purchase",
			Name:      "total",
			Help:      "Credit check purchase attempts by outcome",
		}, []string{"outcome"}),
		EnrichmentFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditcheck",
			Subsystem: "purchase",
			Name:      "enrichment_failures_total",
			Help:      "Post-purchase failures that were logged and skipped",
		}, []string{"step"}),
		LockWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "creditcheck",
			Subsystem: "purchase",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the per-client purchase lock",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
		}),
		PurchaseDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "creditcheck",
			Subsystem: "purchase",
			Name:      "duration_seconds",
			Help:      "End-to-end purchase latency",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.PurchasesTotal,
		m.EnrichmentFailuresTotal,
		m.LockWaitSeconds,
		m.PurchaseDurationSeconds,
	)
	return m
}

// ObservePurchase records one purchase outcome.
func (m *Metrics) ObservePurchase(outcome string) {
	m.PurchasesTotal.WithLabelValues(outcome).Inc()
}

// ObserveEnrichmentFailure records a swallowed failure in step.
func (m *Metrics) ObserveEnrichmentFailure(step string) {
	m.EnrichmentFailuresTotal.WithLabelValues(step).Inc()
}
