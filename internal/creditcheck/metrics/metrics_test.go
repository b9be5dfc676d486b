package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObservePurchase(OutcomeSuccess)
	m.ObservePurchase(OutcomeSuccess)
	m.ObservePurchase(OutcomeDuplicate)
	m.ObserveEnrichmentFailure(StepUpload)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PurchasesTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PurchasesTotal.WithLabelValues(OutcomeDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EnrichmentFailuresTotal.WithLabelValues(StepUpload)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EnrichmentFailuresTotal.WithLabelValues(StepDetail)))
}

func TestMetrics_RegisterTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	require.Panics(t, func() { New(reg) })
}
