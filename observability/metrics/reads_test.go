package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestReadsCountsOutcomes(t *testing.T) {
	m := Reads()
	require.Same(t, m, Reads())

	before := testutil.ToFloat64(m.multicallBatches.WithLabelValues("error"))
	m.ObserveMulticall(3, 10*time.Millisecond, errors.New("boom"))
	require.Equal(t, before+1, testutil.ToFloat64(m.multicallBatches.WithLabelValues("error")))

	before = testutil.ToFloat64(m.subgraphQueries.WithLabelValues("unknown", "ok"))
	m.ObserveSubgraph("", time.Millisecond, nil)
	require.Equal(t, before+1, testutil.ToFloat64(m.subgraphQueries.WithLabelValues("unknown", "ok")))
}

func TestNilReadMetricsIsSafe(t *testing.T) {
	var m *ReadMetrics
	m.ObserveMulticall(1, time.Second, nil)
	m.ObserveSubgraph("GetProposal", time.Second, nil)
}
