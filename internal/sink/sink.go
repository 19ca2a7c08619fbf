// Package sink implements the §6.2 observer boundary: per-frame
// snapshot publication with newest-wins backpressure.
//
// Grounded on the teacher's internal/fabric/redis_event_bus.go (Redis
// pub/sub fan-out) and internal/fabric/websocket.go (gorilla/websocket
// connection handling), wrapped with the teacher's
// internal/circuitbreaker so a stalled observer trips the breaker
// instead of blocking the frame loop.
package sink

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ocx/gatesupervisor/internal/circuitbreaker"
	"github.com/ocx/gatesupervisor/internal/geometry"
)

// TrackView is one track's projection in a snapshot.
type TrackView struct {
	ID       uint64         `json:"id"`
	Role     string         `json:"role"`
	BBoxNorm geometry.BBox  `json:"bbox_norm"`
	InGate   bool           `json:"in_gate"`
	InAnchor bool           `json:"in_anchor"`
	Velocity geometry.Point `json:"velocity"`
}

// GroupView is one group's projection.
type GroupView struct {
	ID       uint64         `json:"id"`
	Members  []uint64       `json:"members"`
	Stable   bool           `json:"stable"`
	Centroid geometry.Point `json:"centroid"`
}

// GuardView is one guard's projection.
type GuardView struct {
	ID              uint64 `json:"id"`
	BackingTrackID  uint64 `json:"backing_track_id"`
	Qualified       bool   `json:"qualified"`
	CurrentTicketID uint64 `json:"current_ticket_id,omitempty"`
	HasTicket       bool   `json:"-"`
}

// TicketView is one ticket's projection.
type TicketView struct {
	ID                  uint64 `json:"id"`
	Kind                string `json:"kind"`
	Members             []uint64 `json:"members"`
	Status              string `json:"status"`
	ExaminationMode     string `json:"examination_mode"`
	AssignedGuardID     uint64 `json:"assigned_guard_id,omitempty"`
	HasAssignedGuard    bool   `json:"-"`
	ProximityDuration   time.Duration `json:"proximity_duration"`
	ExaminationDuration time.Duration `json:"examination_duration"`
	EscalationReason    string `json:"escalation_reason,omitempty"`
	ReadyAt             time.Time `json:"ready_at"`
	CompletedAt         time.Time `json:"completed_at,omitempty"`
}

// PersonView is one person's FSM projection.
type PersonView struct {
	TrackID          uint64        `json:"track_id"`
	State            string        `json:"state"`
	DwellInGA        time.Duration `json:"dwell_in_ga"`
	GuardOverlapTime time.Duration `json:"guard_overlap_time"`
	InteractionTime  time.Duration `json:"interaction_time"`
	Score            float64       `json:"score"`
	CooldownUntil    time.Time     `json:"cooldown_until,omitempty"`
}

// Counts are the per-stream rolling entry/exit counters.
type Counts struct {
	TotalDetected      int `json:"total_detected"`
	GateEntries        int `json:"gate_entries"`
	GateExits          int `json:"gate_exits"`
	AnchorEntries      int `json:"anchor_entries"`
	AnchorExits        int `json:"anchor_exits"`
	CurrentInGate      int `json:"current_in_gate"`
	CurrentInAnchor    int `json:"current_in_anchor"`
	TotalPassedThrough int `json:"total_passed_through"`
}

// Stats are the derived per-stream operational rollups.
type Stats struct {
	ActiveGuards     int           `json:"active_guards"`
	QueueLength      int           `json:"queue_length"`
	TotalProcessed   int           `json:"total_processed"`
	TotalEscalated   int           `json:"total_escalated"`
	AverageWaitTime  time.Duration `json:"average_wait_time"`
}

// Snapshot is the immutable per-frame projection handed to every Sink.
// It is built by copying, never by aliasing pipeline-owned state, per
// §5's shared-resource policy.
type Snapshot struct {
	StreamID    string    `json:"stream_id"`
	FrameID     uint64    `json:"frame_id"`
	MonotonicTS time.Time `json:"monotonic_ts"`

	Tracks  []TrackView  `json:"tracks"`
	Groups  []GroupView  `json:"groups"`
	Guards  []GuardView  `json:"guards"`
	Tickets []TicketView `json:"tickets"`
	Queue   []uint64     `json:"queue"`
	Persons []PersonView `json:"persons"`

	Counts Counts `json:"counts"`
	Stats  Stats  `json:"stats"`
}

// Sink is the §6.2 observer boundary. Publish must not block the
// frame loop for long; implementations that wrap a network call
// should apply their own timeout.
type Sink interface {
	Publish(ctx context.Context, snap Snapshot) error
	Close() error
}

// RedisPublisher is the minimal Redis dependency RedisSink needs,
// satisfied by *infra.GoRedisAdapter in production and a fake in
// tests. Mirrors the teacher's RedisPubSubClient narrowing pattern.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message []byte) error
}

// RedisSink publishes snapshots to a Redis pub/sub channel for
// downstream audit/report consumers. Grounded on
// internal/fabric/redis_event_bus.go and internal/infra/redis_adapter.go.
type RedisSink struct {
	client  RedisPublisher
	channel string
	breaker *circuitbreaker.CircuitBreaker
}

// NewRedisSink wraps client in a circuit breaker tuned for the
// newest-wins backpressure policy: a handful of failures in a short
// window trips it, so publish attempts fail fast instead of piling up.
func NewRedisSink(client RedisPublisher, channel string) *RedisSink {
	cfg := circuitbreaker.DefaultConfig("sink.redis")
	cfg.Timeout = 5 * time.Second
	cfg.ReadyToTrip = func(counts circuitbreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}
	return &RedisSink{client: client, channel: channel, breaker: circuitbreaker.New(cfg)}
}

func (r *RedisSink) Publish(ctx context.Context, snap Snapshot) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		data, err := json.Marshal(snap)
		if err != nil {
			return nil, err
		}
		return nil, r.client.Publish(ctx, r.channel, data)
	})
	if err != nil {
		slog.Warn("sink: redis publish dropped", "stream_id", snap.StreamID, "frame_id", snap.FrameID, "error", err)
	}
	return err
}

func (r *RedisSink) Close() error { return nil }

// WebSocketConn is the minimal connection dependency WebSocketSink
// needs, satisfied by *websocket.Conn in production.
type WebSocketConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// WebSocketSink pushes the same snapshot to a single connected
// observer (e.g. a local debugging UI) over a length-1 buffered
// channel: a fresh snapshot replaces any unsent one rather than
// queuing (§5 newest-wins). Grounded on
// internal/fabric/websocket.go's connection handling, stripped down
// to a pure one-way sink (no hub routing, no auth — out of scope).
type WebSocketSink struct {
	conn    WebSocketConn
	breaker *circuitbreaker.CircuitBreaker

	frames chan Snapshot
	done   chan struct{}
	drops  int
}

const websocketTextMessage = 1 // websocket.TextMessage, avoided as an import to keep this file gorilla-agnostic for tests

// NewWebSocketSink starts a background writer goroutine draining the
// length-1 frame channel. dropCounter, if non-nil, is invoked once per
// snapshot whose write fails (including writes refused by the open
// breaker); snapshots replaced in the channel by a newer one are not
// reported to it and are counted by Drops instead.
func NewWebSocketSink(conn WebSocketConn, dropCounter func()) *WebSocketSink {
	cfg := circuitbreaker.DefaultConfig("sink.websocket")
	cfg.Timeout = 5 * time.Second
	cfg.ReadyToTrip = func(counts circuitbreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}

	s := &WebSocketSink{
		conn:    conn,
		breaker: circuitbreaker.New(cfg),
		frames:  make(chan Snapshot, 1),
		done:    make(chan struct{}),
	}
	go s.run(dropCounter)
	return s
}

func (s *WebSocketSink) run(dropCounter func()) {
	for {
		select {
		case snap := <-s.frames:
			_, err := s.breaker.Execute(func() (interface{}, error) {
				data, err := json.Marshal(snap)
				if err != nil {
					return nil, err
				}
				return nil, s.conn.WriteMessage(websocketTextMessage, data)
			})
			if err != nil {
				slog.Warn("sink: websocket write failed", "stream_id", snap.StreamID, "frame_id", snap.FrameID, "error", err)
				if dropCounter != nil {
					dropCounter()
				}
			}
		case <-s.done:
			return
		}
	}
}

// Publish enqueues a snapshot for the writer goroutine, dropping
// whatever frame is currently pending if the goroutine hasn't caught
// up — the frame loop never blocks on a slow observer.
func (s *WebSocketSink) Publish(ctx context.Context, snap Snapshot) error {
	select {
	case s.frames <- snap:
		return nil
	default:
		select {
		case <-s.frames:
		default:
		}
		s.drops++
		select {
		case s.frames <- snap:
		default:
		}
		return nil
	}
}

// Drops returns the count of snapshots evicted by a newer one before
// the writer goroutine could send them.
func (s *WebSocketSink) Drops() int { return s.drops }

func (s *WebSocketSink) Close() error {
	close(s.done)
	return s.conn.Close()
}

// MultiSink fans one snapshot out to every wrapped Sink, continuing on
// individual failures so one dead observer never starves the others.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds a MultiSink over the given sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Publish(ctx context.Context, snap Snapshot) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, snap); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiSink) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
