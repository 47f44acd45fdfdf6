package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	m.FrameAccepted()
	m.FrameAccepted()
	m.FrameRejected("out_of_order")
	m.FrameDropped()
	m.MissedCycle(CauseDispatchTimeout)
	m.MissedCycle(CauseWorkerUnresponsive)
	m.Requeued()
	m.AlertDelivered("yawn")
	m.AlertDropped("duplicate")
	m.LateResult()

	c := m.Counters()
	assert.Equal(t, uint64(2), c.FramesAccepted)
	assert.Equal(t, uint64(1), c.FramesRejected)
	assert.Equal(t, uint64(1), c.FramesDropped)
	assert.Equal(t, uint64(2), c.MissedCycles)
	assert.Equal(t, uint64(1), c.Requeued)
	assert.Equal(t, uint64(1), c.AlertsDelivered)
	assert.Equal(t, uint64(1), c.AlertsDropped)
	assert.Equal(t, uint64(1), c.LateResults)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.missedCyclesTotal.WithLabelValues(CauseDispatchTimeout)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesAcceptedTotal))
}

func TestMetrics_Gauges(t *testing.T) {
	m := New(prometheus.NewRegistry())
	require.NoError(t, m.Register())

	m.SetActiveSessions(3)
	m.SetQueueDepth(5)
	m.SetWorkerLoad("w1", 2)
	m.ObserveInference(20 * time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.workerLoad.WithLabelValues("w1")))
	m.RemoveWorker("w1")
	assert.Equal(t, 0, testutil.CollectAndCount(m.workerLoad))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FrameAccepted()
		m.MissedCycle(CauseWorkerError)
		m.SetQueueDepth(1)
		_ = m.Register()
	})
	assert.Equal(t, Counters{}, m.Counters())
}

func TestReadHostStats(t *testing.T) {
	stats := ReadHostStats(context.Background())
	assert.Greater(t, stats.Goroutines, 0)
	assert.GreaterOrEqual(t, stats.MemoryPercent, 0.0)
}
