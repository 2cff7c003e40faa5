package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("inventory:verify_stock").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("inventory:verify_stock").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("inventory:verify_stock", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("inventory:verify_stock", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("inventory:verify_stock")))
	require.Greater(t, testutil.ToFloat64(m.lastOK.WithLabelValues("inventory:verify_stock")), 0.0)
}

func TestFindingsIgnoreEmptyCounts(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.AddFindings("arap:refresh_overdue", "acme", 0)
	m.AddFindings("arap:refresh_overdue", "acme", 3)
	m.AddFindings("arap:refresh_overdue", "", 2)

	require.Equal(t, 3.0, testutil.ToFloat64(m.findings.WithLabelValues("arap:refresh_overdue", "acme")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.findings.WithLabelValues("arap:refresh_overdue", "all")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddFindings("job", "acme", 1)
	require.NoError(t, m.Track("job").End(nil))
}
