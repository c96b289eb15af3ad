package metrics_test

import (
	"testing"

	"github.com/jrsteele09/go-crm-session/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.Refresh("success")
	m.Refresh("success")
	m.Fetch("no_access")
	m.Connected(true)

	require.Equal(t, 2.0, testutil.ToFloat64(m.RefreshTotal.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("no_access")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.NotifyConnected))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.Refresh("success")
		m.CacheLookup("fresh")
		m.Fetch("error")
		m.Notification("role-changed")
		m.ForcedLogout("benign")
		m.Connected(false)
	})
}
