package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveRead("polls")
	m.ObserveRead("polls")
	m.ObserveCoalesced("polls")
	m.ObserveMutation("vote", "confirmed")

	require.Equal(t, 2.0, testutil.ToFloat64(m.reads.WithLabelValues("polls")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.coalesced.WithLabelValues("polls")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("vote", "confirmed")))
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveRead("polls")
		m.ObserveMutation("vote", "rejected")
	})
}
