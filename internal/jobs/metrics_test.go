package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerEndReturnsErrorUnchanged(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	boom := errors.New("boom")

	require.ErrorIs(t, m.Track("demo").End(boom), boom)
	require.InDelta(t, 1, testutil.ToFloat64(m.failures.WithLabelValues("demo")), 0.001)
	require.InDelta(t, 1, testutil.ToFloat64(m.runs.WithLabelValues("demo", "failure")), 0.001)

	require.NoError(t, m.Track("demo").End(nil))
	require.InDelta(t, 1, testutil.ToFloat64(m.runs.WithLabelValues("demo", "success")), 0.001)
}

func TestTrackerNilSafe(t *testing.T) {
	boom := errors.New("boom")

	var m *Metrics
	require.ErrorIs(t, m.Track("demo").End(boom), boom)

	var tracker *Tracker
	require.NoError(t, tracker.End(nil))
	require.ErrorIs(t, tracker.End(boom), boom)
}
