// Package metrics exposes Prometheus instrumentation for the pipeline:
// frame processing latency, ticket lifecycle counters, and track churn.
//
// Grounded on the teacher's internal/escrow/metrics.go — one struct
// holding every promauto-registered metric plus Record* helpers, here
// carrying gate-supervisor labels (stream_id, kind, reason) instead of
// agent_id.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the pipeline emits.
type Metrics struct {
	registry *prometheus.Registry

	FrameDuration  *prometheus.HistogramVec
	FramesTotal    *prometheus.CounterVec
	SnapshotDrops  *prometheus.CounterVec

	TracksActive  *prometheus.GaugeVec
	TrackSpawned  *prometheus.CounterVec
	TrackDropped  *prometheus.CounterVec

	GuardsActive *prometheus.GaugeVec
	GroupsActive *prometheus.GaugeVec

	TicketsCreated   *prometheus.CounterVec
	TicketsEscalated *prometheus.CounterVec
	TicketsChecked   *prometheus.CounterVec
	QueueLength      *prometheus.GaugeVec

	CheckCompletedTotal *prometheus.CounterVec
}

// New creates and registers every metric against a fresh registry — one
// process hosts one Metrics instance shared across streams (labeled by
// stream_id), so a dedicated registry avoids collisions with whatever
// else an embedding application registers against the default one.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		FrameDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatesupervisor_frame_duration_seconds",
				Help:    "Wall-clock time to process one frame through the full pipeline",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"stream_id"},
		),
		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatesupervisor_frames_total",
				Help: "Total number of frames processed",
			},
			[]string{"stream_id"},
		),
		SnapshotDrops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatesupervisor_snapshot_drops_total",
				Help: "Total number of per-frame snapshots dropped under sink backpressure",
			},
			[]string{"stream_id", "sink"},
		),
		TracksActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gatesupervisor_tracks_active",
				Help: "Current number of confirmed tracks",
			},
			[]string{"stream_id"},
		),
		TrackSpawned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatesupervisor_tracks_spawned_total",
				Help: "Total number of tracks created by the tracker",
			},
			[]string{"stream_id"},
		),
		TrackDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatesupervisor_tracks_dropped_total",
				Help: "Total number of tracks aged out or deleted",
			},
			[]string{"stream_id"},
		),
		GuardsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gatesupervisor_guards_active",
				Help: "Current number of qualified guards",
			},
			[]string{"stream_id"},
		),
		GroupsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gatesupervisor_groups_active",
				Help: "Current number of materialized groups",
			},
			[]string{"stream_id"},
		),
		TicketsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatesupervisor_tickets_created_total",
				Help: "Total number of tickets created",
			},
			[]string{"stream_id", "kind"},
		),
		TicketsEscalated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatesupervisor_tickets_escalated_total",
				Help: "Total number of tickets escalated, by reason",
			},
			[]string{"stream_id", "reason"},
		),
		TicketsChecked: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatesupervisor_tickets_checked_total",
				Help: "Total number of tickets completed successfully",
			},
			[]string{"stream_id", "kind"},
		),
		QueueLength: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gatesupervisor_queue_length",
				Help: "Current length of the ticket FIFO queue",
			},
			[]string{"stream_id"},
		),
		CheckCompletedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatesupervisor_check_completed_total",
				Help: "Total number of PersonFSM CHECK_COMPLETED transitions",
			},
			[]string{"stream_id"},
		),
	}
}

// Registry returns the registry metrics were registered against, for
// wiring into a promhttp.HandlerFor in cmd/gatesupervisor.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveFrame records one frame's processing duration and increments
// the frame counter.
func (m *Metrics) ObserveFrame(streamID string, seconds float64) {
	m.FrameDuration.WithLabelValues(streamID).Observe(seconds)
	m.FramesTotal.WithLabelValues(streamID).Inc()
}

// RecordSnapshotDrop increments the drop counter for a given sink.
func (m *Metrics) RecordSnapshotDrop(streamID, sinkName string) {
	m.SnapshotDrops.WithLabelValues(streamID, sinkName).Inc()
}

// SetTrackGauges updates the active-track and guard/group gauges.
func (m *Metrics) SetTrackGauges(streamID string, tracksActive, guardsActive, groupsActive int) {
	m.TracksActive.WithLabelValues(streamID).Set(float64(tracksActive))
	m.GuardsActive.WithLabelValues(streamID).Set(float64(guardsActive))
	m.GroupsActive.WithLabelValues(streamID).Set(float64(groupsActive))
}

// RecordTrackSpawned increments the track-spawn counter.
func (m *Metrics) RecordTrackSpawned(streamID string) {
	m.TrackSpawned.WithLabelValues(streamID).Inc()
}

// RecordTrackDropped increments the track-drop counter.
func (m *Metrics) RecordTrackDropped(streamID string) {
	m.TrackDropped.WithLabelValues(streamID).Inc()
}

// RecordTicketCreated increments the ticket-created counter for kind
// ("individual" or "group").
func (m *Metrics) RecordTicketCreated(streamID, kind string) {
	m.TicketsCreated.WithLabelValues(streamID, kind).Inc()
}

// RecordTicketEscalated increments the escalation counter for reason.
func (m *Metrics) RecordTicketEscalated(streamID, reason string) {
	m.TicketsEscalated.WithLabelValues(streamID, reason).Inc()
}

// RecordTicketChecked increments the checked counter for kind.
func (m *Metrics) RecordTicketChecked(streamID, kind string) {
	m.TicketsChecked.WithLabelValues(streamID, kind).Inc()
}

// SetQueueLength updates the current queue-length gauge.
func (m *Metrics) SetQueueLength(streamID string, length int) {
	m.QueueLength.WithLabelValues(streamID).Set(float64(length))
}

// RecordCheckCompleted increments the CHECK_COMPLETED counter.
func (m *Metrics) RecordCheckCompleted(streamID string) {
	m.CheckCompletedTotal.WithLabelValues(streamID).Inc()
}
