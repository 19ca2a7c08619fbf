package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersWithoutPanicking(t *testing.T) {
	m := New()
	require.NotNil(t, m.Registry())
}

func TestMetrics_ObserveFrameIncrementsCounter(t *testing.T) {
	m := New()
	m.ObserveFrame("cam-1", 0.01)
	m.ObserveFrame("cam-1", 0.02)

	assert.InDelta(t, 2, testutil.ToFloat64(m.FramesTotal.WithLabelValues("cam-1")), 1e-9)
}

func TestMetrics_TicketCountersByLabel(t *testing.T) {
	m := New()
	m.RecordTicketCreated("cam-1", "individual")
	m.RecordTicketCreated("cam-1", "group")
	m.RecordTicketEscalated("cam-1", "Maximum wait time exceeded")
	m.RecordTicketChecked("cam-1", "individual")

	assert.InDelta(t, 1, testutil.ToFloat64(m.TicketsCreated.WithLabelValues("cam-1", "individual")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TicketsCreated.WithLabelValues("cam-1", "group")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TicketsEscalated.WithLabelValues("cam-1", "Maximum wait time exceeded")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TicketsChecked.WithLabelValues("cam-1", "individual")), 1e-9)
}

func TestMetrics_GaugesSetDirectly(t *testing.T) {
	m := New()
	m.SetTrackGauges("cam-1", 5, 2, 1)
	m.SetQueueLength("cam-1", 3)

	assert.InDelta(t, 5, testutil.ToFloat64(m.TracksActive.WithLabelValues("cam-1")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(m.GuardsActive.WithLabelValues("cam-1")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.GroupsActive.WithLabelValues("cam-1")), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(m.QueueLength.WithLabelValues("cam-1")), 1e-9)
}

func TestMetrics_SnapshotDropsAndCheckCompleted(t *testing.T) {
	m := New()
	m.RecordSnapshotDrop("cam-1", "websocket")
	m.RecordCheckCompleted("cam-1")

	assert.InDelta(t, 1, testutil.ToFloat64(m.SnapshotDrops.WithLabelValues("cam-1", "websocket")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CheckCompletedTotal.WithLabelValues("cam-1")), 1e-9)
}
