// Copyright 2025 Certen Protocol

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestObserveVerification_IncrementsLabeledCounter(t *testing.T) {
	r := NewRegistry()
	r.ObserveVerification("inclusion", true)
	r.ObserveVerification("inclusion", false)
	r.ObserveVerification("inclusion", true)

	require.Equal(t, float64(2), counterValue(t, r.VerificationTotal.WithLabelValues("ok", "inclusion")))
	require.Equal(t, float64(1), counterValue(t, r.VerificationTotal.WithLabelValues("failed", "inclusion")))
}

func TestMustRegister_RegistersAllCollectors(t *testing.T) {
	r := NewRegistry()
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { r.MustRegister(reg) })

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
