// Package ticket implements TicketManager (§4.10): ticket lifecycle,
// FIFO queue, guard assignment, progress evaluation, and SLA escalation.
//
// Grounded on the retrieval pack's queue/ticket orchestration pattern
// (Generativebots-ocx-backend-go-svc's escrow/ticket-style state
// machines track assigned counterparties by id and sweep for timeouts
// every tick); the same by-id ownership and sweep-per-frame shape is
// reused here instead of rewriting it from scratch.
package ticket

import (
	"sort"
	"time"

	"github.com/ocx/gatesupervisor/internal/config"
	"github.com/ocx/gatesupervisor/internal/geometry"
)

// Kind distinguishes individual from group tickets.
type Kind int

const (
	Individual Kind = iota
	Group
)

// Status is a ticket's lifecycle state.
type Status int

const (
	Waiting Status = iota
	Assigning
	InCheck  // individual examination in progress
	InBatch  // group examination in progress
	Checked
	Escalated
	Cancelled
)

// Terminal reports whether a status ends the ticket's lifecycle.
func (s Status) Terminal() bool {
	return s == Checked || s == Escalated || s == Cancelled
}

func (s Status) String() string {
	switch s {
	case Waiting:
		return "WAITING"
	case Assigning:
		return "ASSIGNING"
	case InCheck:
		return "IN_CHECK"
	case InBatch:
		return "IN_BATCH"
	case Checked:
		return "CHECKED"
	case Escalated:
		return "ESCALATED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Ticket is the queue-addressable unit of examination work (§3).
type Ticket struct {
	ID              uint64
	Kind            Kind
	Members         []uint64
	Status          Status
	ExaminationMode config.ExaminationMode

	AssignedGuardID uint64
	HasAssignedGuard bool

	CreatedAt time.Time
	ReadyAt   time.Time

	ProximityStart    time.Time
	HasProximityStart bool
	ProximityDuration time.Duration

	ExaminationStart    time.Time
	HasExaminationStart bool
	ExaminationDuration time.Duration

	CompletedAt    time.Time
	HasCompletedAt bool

	EscalationReason string

	WarnedSoft bool // T_WARN soft-warning event already emitted

	SplitFromGroupID  uint64
	HasSplitFromGroup bool

	groupID uint64 // originating group id, for group tickets only
}

// PersonMember is the per-frame state TicketManager consumes for each
// candidate individual ticket subject.
type PersonMember struct {
	TrackID   uint64
	InGateArea bool
	DwellInGA time.Duration
	Center    geometry.Point
	InStableGroup bool
}

// GroupMember is the per-frame state for a stable, ticketable group.
type GroupMember struct {
	GroupID  uint64
	Members  []uint64
	Centroid geometry.Point
	Stable   bool
}

// GuardMember is the per-frame qualified-guard state TicketManager
// assigns from.
type GuardMember struct {
	GuardID   uint64
	Qualified bool
	Center    geometry.Point
	HasTicket bool
}

// Event is an outcome TicketManager produces this frame, for EventLog.
type Event struct {
	Type     string
	TicketID uint64
	GuardID  uint64
	Reason   string
}

// Manager owns every Ticket and the FIFO queue (§3: "TicketManager owns
// Tickets and the queue").
type Manager struct {
	cfg                 config.QueueConfig
	dmax                float64
	proximityMin        time.Duration
	checkMinIndividual  time.Duration
	checkMinBatch       time.Duration
	presenceToCheckKnob time.Duration
	examinationMode     config.ExaminationMode

	tickets map[uint64]*Ticket
	queue   []uint64
	nextID  uint64

	memberTicket map[uint64]uint64 // person track_id -> non-terminal ticket id
	groupTicket  map[uint64]uint64 // group_id -> non-terminal ticket id
	guardTicket  map[uint64]uint64 // guard_id -> non-terminal ticket id
}

// New creates an empty Manager.
func New(queueCfg config.QueueConfig, groupCfg config.GroupConfig, presenceCfg config.PresenceConfig, examinationMode config.ExaminationMode) *Manager {
	return &Manager{
		cfg:                 queueCfg,
		dmax:                groupCfg.DMax,
		proximityMin:        presenceCfg.ProximityMin,
		checkMinIndividual:  presenceCfg.CheckMinIndividual,
		checkMinBatch:       presenceCfg.CheckMinBatch,
		presenceToCheckKnob: presenceCfg.PresenceToCheck,
		examinationMode:     examinationMode,
		tickets:             make(map[uint64]*Ticket),
		memberTicket:        make(map[uint64]uint64),
		groupTicket:         make(map[uint64]uint64),
		guardTicket:         make(map[uint64]uint64),
	}
}

// SetExaminationMode updates the mode newly-created group tickets use
// (§6.1 SetExaminationMode control command).
func (m *Manager) SetExaminationMode(mode config.ExaminationMode) {
	m.examinationMode = mode
}

// Get returns a ticket by id.
func (m *Manager) Get(id uint64) (*Ticket, bool) {
	t, ok := m.tickets[id]
	return t, ok
}

// Queue returns the current FIFO queue of non-terminal ticket ids.
func (m *Manager) Queue() []uint64 {
	out := make([]uint64, len(m.queue))
	copy(out, m.queue)
	return out
}

// All returns every ticket, sorted by id.
func (m *Manager) All() []*Ticket {
	out := make([]*Ticket, 0, len(m.tickets))
	for _, t := range m.tickets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) enqueue(t *Ticket) {
	m.queue = append(m.queue, t.ID)
}

func (m *Manager) dequeue(id uint64) {
	for i, qid := range m.queue {
		if qid == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

func (m *Manager) releaseGuard(t *Ticket) {
	if t.HasAssignedGuard {
		delete(m.guardTicket, t.AssignedGuardID)
		t.HasAssignedGuard = false
	}
}

func (m *Manager) finalize(t *Ticket, status Status, reason string, now time.Time) {
	t.Status = status
	if status == Escalated || status == Cancelled {
		t.EscalationReason = reason
	}
	if status == Checked {
		t.CompletedAt = now
		t.HasCompletedAt = true
	}
	m.releaseGuard(t)
	m.dequeue(t.ID)

	switch t.Kind {
	case Individual:
		if len(t.Members) == 1 {
			if cur, ok := m.memberTicket[t.Members[0]]; ok && cur == t.ID {
				delete(m.memberTicket, t.Members[0])
			}
		}
	case Group:
		if cur, ok := m.groupTicket[t.groupID]; ok && cur == t.ID {
			delete(m.groupTicket, t.groupID)
		}
	}
}

// CancelTicket cancels a ticket by id. Idempotent (§L2): cancelling an
// already-terminal ticket is a no-op.
func (m *Manager) CancelTicket(id uint64, reason string, now time.Time) bool {
	t, ok := m.tickets[id]
	if !ok || t.Status.Terminal() {
		return false
	}
	m.finalize(t, Cancelled, reason, now)
	return true
}

// Update runs one frame of TicketManager: creates new tickets, assigns
// guards, evaluates progress, and sweeps for escalation. Returns the
// events produced this frame.
func (m *Manager) Update(persons []PersonMember, groups []GroupMember, guards []GuardMember, now time.Time) []Event {
	var events []Event

	events = append(events, m.createIndividualTickets(persons, now)...)
	events = append(events, m.createGroupTickets(groups, now)...)
	events = append(events, m.assign(guards, now)...)
	events = append(events, m.progress(persons, guards, now)...)
	events = append(events, m.escalationSweep(now)...)

	return events
}

func personCenters(persons []PersonMember) map[uint64]PersonMember {
	out := make(map[uint64]PersonMember, len(persons))
	for _, p := range persons {
		out[p.TrackID] = p
	}
	return out
}

func (m *Manager) createIndividualTickets(persons []PersonMember, now time.Time) []Event {
	var events []Event
	for _, p := range persons {
		if p.InStableGroup || !p.InGateArea {
			continue
		}
		if _, has := m.memberTicket[p.TrackID]; has {
			continue
		}
		if p.DwellInGA < 0 {
			continue
		}
		if !(p.DwellInGA >= m.presenceToCheck()) {
			continue
		}

		m.nextID++
		t := &Ticket{
			ID:        m.nextID,
			Kind:      Individual,
			Members:   []uint64{p.TrackID},
			Status:    Waiting,
			CreatedAt: now,
			ReadyAt:   now,
		}
		m.tickets[t.ID] = t
		m.memberTicket[p.TrackID] = t.ID
		m.enqueue(t)
		events = append(events, Event{Type: "ticket_created", TicketID: t.ID})
	}
	return events
}

// presenceToCheck returns the PRESENCE_TO_CHECK threshold that a
// person's accumulated dwell (from PersonFSM) is compared against; the
// value is stored by New in presenceToCheckKnob.
func (m *Manager) presenceToCheck() time.Duration {
	return m.presenceToCheckKnob
}

func (m *Manager) createGroupTickets(groups []GroupMember, now time.Time) []Event {
	var events []Event
	for _, g := range groups {
		if !g.Stable {
			continue
		}
		if _, has := m.groupTicket[g.GroupID]; has {
			continue
		}

		m.nextID++
		t := &Ticket{
			ID:              m.nextID,
			Kind:            Group,
			Members:         append([]uint64{}, g.Members...),
			Status:          Waiting,
			ExaminationMode: m.examinationMode,
			CreatedAt:       now,
			ReadyAt:         now,
			groupID:         g.GroupID,
		}
		m.tickets[t.ID] = t
		m.groupTicket[g.GroupID] = t.ID
		m.enqueue(t)
		events = append(events, Event{Type: "ticket_created", TicketID: t.ID})
	}
	return events
}

func (m *Manager) assign(guards []GuardMember, now time.Time) []Event {
	var events []Event

	available := make([]GuardMember, 0, len(guards))
	for _, g := range guards {
		if g.Qualified && !g.HasTicket {
			if _, held := m.guardTicket[g.GuardID]; !held {
				available = append(available, g)
			}
		}
	}
	sort.Slice(available, func(i, j int) bool { return available[i].GuardID < available[j].GuardID })

	gi := 0
	for _, tid := range m.queue {
		if gi >= len(available) {
			break
		}
		t := m.tickets[tid]
		if t.Status != Waiting {
			continue
		}
		guard := available[gi]
		gi++

		t.AssignedGuardID = guard.GuardID
		t.HasAssignedGuard = true
		m.guardTicket[guard.GuardID] = t.ID
		t.Status = Assigning
		events = append(events, Event{Type: "ticket_assigned", TicketID: t.ID, GuardID: guard.GuardID})
	}
	return events
}

func (m *Manager) progress(persons []PersonMember, guards []GuardMember, now time.Time) []Event {
	var events []Event

	personByID := personCenters(persons)
	guardByID := make(map[uint64]GuardMember, len(guards))
	for _, g := range guards {
		guardByID[g.GuardID] = g
	}

	ids := make([]uint64, 0, len(m.tickets))
	for id := range m.tickets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		t := m.tickets[id]
		if t.Status != Assigning && t.Status != InCheck && t.Status != InBatch {
			continue
		}

		guard, guardStillQualified := guardByID[t.AssignedGuardID]
		if !t.HasAssignedGuard || !guardStillQualified || !guard.Qualified {
			m.finalize(t, Escalated, "Guard left during examination", now)
			events = append(events, Event{Type: "ticket_escalated", TicketID: t.ID, Reason: t.EscalationReason})
			continue
		}

		memberCenters, allPresent := resolveMemberCenters(t, personByID)

		proximity := false
		for _, c := range memberCenters {
			if geometry.Euclidean(guard.Center, c) <= m.dmax {
				proximity = true
				break
			}
		}

		if proximity {
			if !t.HasProximityStart {
				t.HasProximityStart = true
				t.ProximityStart = now
			}
			t.ProximityDuration = now.Sub(t.ProximityStart)

			if t.Status == Assigning && t.ProximityDuration >= m.proximityMin {
				if t.Kind == Individual {
					t.Status = InCheck
				} else {
					t.Status = InBatch
				}
				t.HasExaminationStart = true
				t.ExaminationStart = now
			}
		} else {
			t.HasProximityStart = false
			t.ProximityDuration = 0
		}

		if t.Status == InCheck || t.Status == InBatch {
			t.ExaminationDuration = now.Sub(t.ExaminationStart)

			required := m.checkMinIndividual
			if t.Kind == Group {
				required = m.checkMinBatch
			}

			if t.ExaminationDuration >= required {
				if allPresent {
					m.finalize(t, Checked, "", now)
					events = append(events, Event{Type: "ticket_checked", TicketID: t.ID})
				} else {
					m.finalize(t, Escalated, "Member left gate area during examination", now)
					events = append(events, Event{Type: "ticket_escalated", TicketID: t.ID, Reason: t.EscalationReason})
				}
			} else if !allPresent {
				m.finalize(t, Escalated, "Member left gate area during examination", now)
				events = append(events, Event{Type: "ticket_escalated", TicketID: t.ID, Reason: t.EscalationReason})
			}
		}
	}

	return events
}

func resolveMemberCenters(t *Ticket, persons map[uint64]PersonMember) (centers []geometry.Point, allPresent bool) {
	allPresent = true
	for _, mid := range t.Members {
		p, ok := persons[mid]
		if !ok || !p.InGateArea {
			allPresent = false
			continue
		}
		centers = append(centers, p.Center)
	}
	return centers, allPresent
}

func (m *Manager) escalationSweep(now time.Time) []Event {
	var events []Event
	for _, tid := range append([]uint64{}, m.queue...) {
		t := m.tickets[tid]
		if t.Status != Waiting {
			continue
		}
		age := now.Sub(t.ReadyAt)
		if !t.WarnedSoft && age > m.cfg.TWarn {
			t.WarnedSoft = true
			events = append(events, Event{Type: "ticket_warning", TicketID: t.ID})
		}
		if age >= m.cfg.TMaxWait {
			m.finalize(t, Escalated, "Maximum wait time exceeded", now)
			events = append(events, Event{Type: "ticket_escalated", TicketID: t.ID, Reason: t.EscalationReason})
		}
	}
	return events
}

// HandleGroupSplit cancels the group's non-terminal ticket (if any) and
// creates one WAITING individual ticket per former member, inheriting
// ready_at from the original (§4.6, §4.10).
func (m *Manager) HandleGroupSplit(groupID uint64, formerMembers []uint64, now time.Time) []Event {
	var events []Event

	readyAt := now
	if tid, ok := m.groupTicket[groupID]; ok {
		t := m.tickets[tid]
		readyAt = t.ReadyAt
		m.finalize(t, Cancelled, "Group split due to separation", now)
		events = append(events, Event{Type: "ticket_cancelled", TicketID: t.ID, Reason: t.EscalationReason})
	}

	for _, member := range formerMembers {
		if _, has := m.memberTicket[member]; has {
			continue
		}
		m.nextID++
		nt := &Ticket{
			ID:        m.nextID,
			Kind:      Individual,
			Members:   []uint64{member},
			Status:    Waiting,
			CreatedAt: now,
			ReadyAt:   readyAt,
		}
		nt.HasSplitFromGroup = true
		nt.SplitFromGroupID = groupID
		m.tickets[nt.ID] = nt
		m.memberTicket[member] = nt.ID
		m.enqueue(nt)
		events = append(events, Event{Type: "ticket_created", TicketID: nt.ID})
	}

	return events
}
