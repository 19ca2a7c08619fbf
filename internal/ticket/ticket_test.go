package ticket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gatesupervisor/internal/config"
	"github.com/ocx/gatesupervisor/internal/geometry"
)

func newManager() *Manager {
	cfg := config.Default()
	return New(cfg.Queue, cfg.Group, cfg.Presence, cfg.Zones.ExaminationMode)
}

func TestManager_CreatesIndividualTicketAtPresenceToCheck(t *testing.T) {
	m := newManager()
	now := time.Now()
	cfg := config.Default()

	events := m.Update([]PersonMember{
		{TrackID: 1, InGateArea: true, DwellInGA: cfg.Presence.PresenceToCheck, Center: geometry.Point{X: 0.5, Y: 0.5}},
	}, nil, nil, now)

	require.Len(t, events, 1)
	assert.Equal(t, "ticket_created", events[0].Type)

	tickets := m.All()
	require.Len(t, tickets, 1)
	assert.Equal(t, Individual, tickets[0].Kind)
	assert.Equal(t, Waiting, tickets[0].Status)
}

func TestManager_NoTicketBelowPresenceToCheck(t *testing.T) {
	m := newManager()
	cfg := config.Default()
	now := time.Now()

	events := m.Update([]PersonMember{
		{TrackID: 1, InGateArea: true, DwellInGA: cfg.Presence.PresenceToCheck - time.Millisecond, Center: geometry.Point{X: 0.5, Y: 0.5}},
	}, nil, nil, now)

	assert.Empty(t, events)
	assert.Empty(t, m.All())
}

func TestManager_NoDuplicateTicketForSameMember(t *testing.T) {
	m := newManager()
	cfg := config.Default()
	now := time.Now()

	p := PersonMember{TrackID: 1, InGateArea: true, DwellInGA: cfg.Presence.PresenceToCheck, Center: geometry.Point{X: 0.5, Y: 0.5}}
	m.Update([]PersonMember{p}, nil, nil, now)
	m.Update([]PersonMember{p}, nil, nil, now.Add(time.Second))

	assert.Len(t, m.All(), 1)
}

func TestManager_AssignsQualifiedGuardFIFO(t *testing.T) {
	m := newManager()
	cfg := config.Default()
	now := time.Now()

	m.Update([]PersonMember{
		{TrackID: 1, InGateArea: true, DwellInGA: cfg.Presence.PresenceToCheck, Center: geometry.Point{X: 0.5, Y: 0.5}},
	}, nil, nil, now)

	events := m.Update(nil, nil, []GuardMember{
		{GuardID: 9, Qualified: true, Center: geometry.Point{X: 0.9, Y: 0.9}},
	}, now.Add(time.Second))

	require.NotEmpty(t, events)
	found := false
	for _, e := range events {
		if e.Type == "ticket_assigned" {
			found = true
			assert.Equal(t, uint64(9), e.GuardID)
		}
	}
	assert.True(t, found)

	tickets := m.All()
	require.Len(t, tickets, 1)
	assert.Equal(t, Assigning, tickets[0].Status)
	assert.Equal(t, uint64(9), tickets[0].AssignedGuardID)
}

func TestManager_ProgressesThroughProximityAndExamination(t *testing.T) {
	m := newManager()
	cfg := config.Default()
	now := time.Now()

	personCenter := geometry.Point{X: 0.5, Y: 0.5}
	m.Update([]PersonMember{
		{TrackID: 1, InGateArea: true, DwellInGA: cfg.Presence.PresenceToCheck, Center: personCenter},
	}, nil, nil, now)

	now = now.Add(time.Second)
	m.Update([]PersonMember{
		{TrackID: 1, InGateArea: true, DwellInGA: cfg.Presence.PresenceToCheck + time.Second, Center: personCenter},
	}, nil, []GuardMember{
		{GuardID: 9, Qualified: true, Center: personCenter},
	}, now)

	tickets := m.All()
	require.Len(t, tickets, 1)
	require.Equal(t, Assigning, tickets[0].Status)

	// Proximity holds (guard co-located with person) for ProximityMin.
	now = now.Add(cfg.Presence.ProximityMin)
	m.Update([]PersonMember{
		{TrackID: 1, InGateArea: true, DwellInGA: cfg.Presence.PresenceToCheck + 2*cfg.Presence.ProximityMin, Center: personCenter},
	}, nil, []GuardMember{
		{GuardID: 9, Qualified: true, Center: personCenter, HasTicket: true},
	}, now)

	tickets = m.All()
	require.Equal(t, InCheck, tickets[0].Status)

	// Examination holds for CheckMinIndividual.
	now = now.Add(cfg.Presence.CheckMinIndividual)
	events := m.Update([]PersonMember{
		{TrackID: 1, InGateArea: true, DwellInGA: cfg.Presence.PresenceToCheck + 10*time.Second, Center: personCenter},
	}, nil, []GuardMember{
		{GuardID: 9, Qualified: true, Center: personCenter, HasTicket: true},
	}, now)

	tickets = m.All()
	require.Equal(t, Checked, tickets[0].Status)
	checkedEvent := false
	for _, e := range events {
		if e.Type == "ticket_checked" {
			checkedEvent = true
		}
	}
	assert.True(t, checkedEvent)
}

func TestManager_EscalatesOnMaxWait(t *testing.T) {
	m := newManager()
	cfg := config.Default()
	now := time.Now()

	m.Update([]PersonMember{
		{TrackID: 1, InGateArea: true, DwellInGA: cfg.Presence.PresenceToCheck, Center: geometry.Point{X: 0.5, Y: 0.5}},
	}, nil, nil, now)

	events := m.Update(nil, nil, nil, now.Add(cfg.Queue.TMaxWait-time.Millisecond))
	assert.Empty(t, ticketsWithStatus(events, "ticket_escalated"))

	events = m.Update(nil, nil, nil, now.Add(cfg.Queue.TMaxWait+time.Millisecond))
	escalated := ticketsWithStatus(events, "ticket_escalated")
	require.Len(t, escalated, 1)
	assert.Equal(t, Escalated, m.All()[0].Status)
	assert.Equal(t, "Maximum wait time exceeded", m.All()[0].EscalationReason)
}

func ticketsWithStatus(events []Event, typ string) []Event {
	var out []Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestManager_CancelTicketIsIdempotent(t *testing.T) {
	m := newManager()
	cfg := config.Default()
	now := time.Now()

	m.Update([]PersonMember{
		{TrackID: 1, InGateArea: true, DwellInGA: cfg.Presence.PresenceToCheck, Center: geometry.Point{X: 0.5, Y: 0.5}},
	}, nil, nil, now)

	id := m.All()[0].ID
	ok1 := m.CancelTicket(id, "operator cancel", now)
	ok2 := m.CancelTicket(id, "operator cancel", now)

	assert.True(t, ok1)
	assert.False(t, ok2)
	assert.Equal(t, Cancelled, m.All()[0].Status)
	assert.Empty(t, m.Queue())
}

func TestManager_HandleGroupSplitCancelsAndCreatesIndividualTickets(t *testing.T) {
	m := newManager()
	now := time.Now()

	m.Update(nil, []GroupMember{
		{GroupID: 5, Members: []uint64{1, 2, 3}, Stable: true, Centroid: geometry.Point{X: 0.5, Y: 0.5}},
	}, nil, now)

	groupTicket := m.All()[0]
	require.Equal(t, Waiting, groupTicket.Status)
	readyAt := groupTicket.ReadyAt

	events := m.HandleGroupSplit(5, []uint64{1, 2, 3}, now.Add(5*time.Second))

	cancelledFound := false
	createdCount := 0
	for _, e := range events {
		if e.Type == "ticket_cancelled" {
			cancelledFound = true
		}
		if e.Type == "ticket_created" {
			createdCount++
		}
	}
	assert.True(t, cancelledFound)
	assert.Equal(t, 3, createdCount)

	all := m.All()
	var individualCount int
	for _, tk := range all {
		if tk.Kind == Individual {
			individualCount++
			assert.True(t, tk.ReadyAt.Equal(readyAt), "ready_at must be inherited from the split group ticket")
		}
	}
	assert.Equal(t, 3, individualCount)
}

func TestManager_PersonInStableGroupDoesNotGetIndividualTicket(t *testing.T) {
	m := newManager()
	cfg := config.Default()
	now := time.Now()

	events := m.Update([]PersonMember{
		{TrackID: 1, InGateArea: true, DwellInGA: cfg.Presence.PresenceToCheck, InStableGroup: true, Center: geometry.Point{X: 0.5, Y: 0.5}},
	}, nil, nil, now)

	assert.Empty(t, events)
}
