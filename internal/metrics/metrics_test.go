package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_AddsAllCollectorsWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { Register(reg) })

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, metricFamilies)
}

func TestCheckoutSessionsTotal_IncrementsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	CheckoutSessionsTotal.WithLabelValues("completed").Inc()

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() == "checkout_sessions_total" {
			found = true
		}
	}
	assert.True(t, found)
}
