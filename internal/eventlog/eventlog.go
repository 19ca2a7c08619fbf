// Package eventlog implements EventLog (§4.11): an append-only bounded
// ring of domain events plus an active-contact-session map keyed by
// (visitor_track_id, guard_track_id).
//
// Grounded on the retrieval pack's CloudEvent envelope
// (internal/events/bus.go's CloudEvent type) — events here carry the
// same {type, source, id, time, subject, data} shape, minus the
// Pub/Sub fan-out, since the core owns no transport of its own and
// hands finished envelopes to Sink.
package eventlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one domain occurrence, shaped like the retrieval pack's
// CloudEvent envelope (events.CloudEvent) with gate-supervisor fields
// substituted for the generic Subject/Data pair.
type Event struct {
	ID            string
	Type          string
	Time          time.Time
	TrackID       uint64
	HasRelated    bool
	RelatedTrackID uint64
	ZoneID        string
	Confidence    float64
	Metadata      map[string]interface{}
}

// ContactSession is the running statistics for one (visitor, guard)
// contact window (§3).
type ContactSession struct {
	Visitor   uint64
	Guard     uint64
	StartedAt time.Time
	EndedAt   time.Time
	Ended     bool

	MinDist float64
	MaxIoU  float64

	sumDist float64
	sumIoU  float64
	Samples int
}

// AvgDist is the running mean center distance over the session.
func (c *ContactSession) AvgDist() float64 {
	if c.Samples == 0 {
		return 0
	}
	return c.sumDist / float64(c.Samples)
}

// AvgIoU is the running mean IoU over the session.
func (c *ContactSession) AvgIoU() float64 {
	if c.Samples == 0 {
		return 0
	}
	return c.sumIoU / float64(c.Samples)
}

type contactKey struct {
	visitor uint64
	guard   uint64
}

// Log is the append-only ring plus contact-session map. Safe for
// concurrent use: the pipeline goroutine appends while a separate
// query/API goroutine reads.
type Log struct {
	mu sync.RWMutex

	capacity int
	buf      []Event // ring, oldest-first once full
	start    int     // index of oldest entry in buf
	size     int
	seq      uint64

	typeCounts map[string]int

	contacts map[contactKey]*ContactSession
}

// New creates a Log with the given minimum ring capacity (§4.11: "≥
// 2,000 events").
func New(capacity int) *Log {
	if capacity < 2000 {
		capacity = 2000
	}
	return &Log{
		capacity:   capacity,
		buf:        make([]Event, capacity),
		typeCounts: make(map[string]int),
		contacts:   make(map[contactKey]*ContactSession),
	}
}

// Append adds an event to the ring, evicting the oldest entry once
// full, and increments the type-count index.
func (l *Log) Append(e Event) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	idx := (l.start + l.size) % l.capacity
	if l.size < l.capacity {
		l.buf[idx] = e
		l.size++
	} else {
		l.buf[l.start] = e
		l.start = (l.start + 1) % l.capacity
	}
	l.typeCounts[e.Type]++
	return e
}

// Emit is a convenience wrapper building an Event from loose fields,
// mirroring the retrieval pack's EventBus.Emit helper.
func (l *Log) Emit(eventType string, trackID uint64, now time.Time, metadata map[string]interface{}) Event {
	return l.Append(Event{Type: eventType, Time: now, TrackID: trackID, Metadata: metadata})
}

// EmitRelated is Emit for event types carrying a related track (e.g.
// contact_started between a visitor and a guard).
func (l *Log) EmitRelated(eventType string, trackID, relatedTrackID uint64, now time.Time, metadata map[string]interface{}) Event {
	return l.Append(Event{Type: eventType, Time: now, TrackID: trackID, HasRelated: true, RelatedTrackID: relatedTrackID, Metadata: metadata})
}

// TimelineForTrack returns every event mentioning trackID either as
// subject or related track, oldest first.
func (l *Log) TimelineForTrack(trackID uint64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Event
	l.forEach(func(e Event) {
		if e.TrackID == trackID || (e.HasRelated && e.RelatedTrackID == trackID) {
			out = append(out, e)
		}
	})
	return out
}

// EventsInWindow returns every event with Time in [from, to], oldest
// first.
func (l *Log) EventsInWindow(from, to time.Time) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Event
	l.forEach(func(e Event) {
		if !e.Time.Before(from) && !e.Time.After(to) {
			out = append(out, e)
		}
	})
	return out
}

// forEach walks the ring oldest-first. Caller holds at least RLock.
func (l *Log) forEach(fn func(Event)) {
	for i := 0; i < l.size; i++ {
		fn(l.buf[(l.start+i)%l.capacity])
	}
}

// CountByType returns the incrementally-maintained count of events
// seen of a given type (including ones already evicted from the ring).
func (l *Log) CountByType(eventType string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.typeCounts[eventType]
}

// Len returns the number of events currently held in the ring.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// UpdateContact records one frame's contact predicate outcome for a
// (visitor, guard) pair, opening a session on the first true frame and
// closing it (emitting contact_ended) on the first false frame after
// one was open. Returns any events produced.
func (l *Log) UpdateContact(visitor, guard uint64, inContact bool, dist, iou float64, now time.Time) []Event {
	l.mu.Lock()
	key := contactKey{visitor: visitor, guard: guard}
	session, open := l.contacts[key]

	var toEmit []Event
	if inContact {
		if !open {
			session = &ContactSession{Visitor: visitor, Guard: guard, StartedAt: now, MinDist: dist, MaxIoU: iou}
			l.contacts[key] = session
			toEmit = append(toEmit, Event{Type: "contact_started", TrackID: visitor, HasRelated: true, RelatedTrackID: guard, Time: now})
		}
		if dist < session.MinDist {
			session.MinDist = dist
		}
		if iou > session.MaxIoU {
			session.MaxIoU = iou
		}
		session.sumDist += dist
		session.sumIoU += iou
		session.Samples++
	} else if open {
		session.Ended = true
		session.EndedAt = now
		delete(l.contacts, key)
		toEmit = append(toEmit, Event{
			Type: "contact_ended", TrackID: visitor, HasRelated: true, RelatedTrackID: guard, Time: now,
			Metadata: map[string]interface{}{
				"min_dist": session.MinDist,
				"max_iou":  session.MaxIoU,
				"avg_dist": session.AvgDist(),
				"avg_iou":  session.AvgIoU(),
				"samples":  session.Samples,
			},
		})
	}
	l.mu.Unlock()

	for _, e := range toEmit {
		l.Append(e)
	}
	return toEmit
}

// ActiveContacts returns a snapshot of every currently-open contact
// session.
func (l *Log) ActiveContacts() []ContactSession {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ContactSession, 0, len(l.contacts))
	for _, s := range l.contacts {
		out = append(out, *s)
	}
	return out
}

// ForgetTrack drops any open contact sessions involving trackID
// (pipeline cleanup when a track is dropped without a clean contact
// end, e.g. the person leaves the frame mid-contact).
func (l *Log) ForgetTrack(trackID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.contacts {
		if k.visitor == trackID || k.guard == trackID {
			delete(l.contacts, k)
		}
	}
}
