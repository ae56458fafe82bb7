package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSimulation_SweepLeavesNoUnpaidCharges(t *testing.T) {
	tests := []struct {
		name string
		opts simOptions
	}{
		{"every webhook lost", simOptions{Orders: 12, WebhookLoss: 1, ReturnRate: 0, LogLevel: "error"}},
		{"everything delivered", simOptions{Orders: 12, WebhookLoss: 0, ReturnRate: 1, LogLevel: "error"}},
		{"mixed", simOptions{Orders: 12, WebhookLoss: 0.3, ReturnRate: 0.5, LogLevel: "error"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer

			report, err := runSimulation(t.Context(), &out, tt.opts)

			require.NoError(t, err, out.String())
			assert.Equal(t, tt.opts.Orders, report.Charged+report.Declined)
			assert.Equal(t, report.Charged, report.PaidAtCheckout+report.PhantomBefore)
			assert.Equal(t, report.Charged, report.PaidAfterSweep)
			assert.Zero(t, report.PhantomAfter)
			assert.Contains(t, out.String(), "--- sweep:")
		})
	}
}

func TestRunSimulation_NothingDeliveredMeansSweepDoesAllTheWork(t *testing.T) {
	report, err := runSimulation(t.Context(), &bytes.Buffer{}, simOptions{Orders: 8, WebhookLoss: 1, ReturnRate: 0, LogLevel: "error"})

	require.NoError(t, err)
	assert.Zero(t, report.PaidAtCheckout)
	assert.Equal(t, report.Charged, report.PhantomBefore)
}
