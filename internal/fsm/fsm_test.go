package fsm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gatesupervisor/internal/config"
	"github.com/ocx/gatesupervisor/internal/geometry"
)

func driveIntoGateArea(e *Engine, trackID uint64, now time.Time, n int) time.Time {
	for i := 0; i < n; i++ {
		e.Update(trackID, Input{InGateArea: true, Now: now, Dt: 100 * time.Millisecond})
		now = now.Add(100 * time.Millisecond)
	}
	return now
}

func TestEngine_IdleToPresentRequiresMinConsensus(t *testing.T) {
	cfg := config.Default()
	e := New(cfg)
	now := time.Now()

	var last Transition
	for i := 0; i < cfg.Hysteresis.MinConsensus; i++ {
		last = e.Update(1, Input{InGateArea: true, Now: now, Dt: 100 * time.Millisecond})
		now = now.Add(100 * time.Millisecond)
	}

	assert.Equal(t, PresentInGA, last.To)
}

func TestEngine_SingleFrameGlitchDoesNotAdvanceFSM(t *testing.T) {
	cfg := config.Default()
	e := New(cfg)
	now := time.Now()

	e.Update(1, Input{InGateArea: true, Now: now, Dt: 100 * time.Millisecond})
	now = now.Add(100 * time.Millisecond)

	var last Transition
	for i := 0; i < 100; i++ {
		last = e.Update(1, Input{InGateArea: false, Now: now, Dt: 100 * time.Millisecond})
		now = now.Add(100 * time.Millisecond)
	}

	assert.Equal(t, Idle, last.To)
}

func TestEngine_GuardPresentAndInteractionWindowTransitions(t *testing.T) {
	cfg := config.Default()
	e := New(cfg)
	now := time.Now()

	now = driveIntoGateArea(e, 1, now, cfg.Hysteresis.MinConsensus)

	tr := e.Update(1, Input{InGateArea: true, HasGuard: true, GuardID: 7, Now: now, Dt: 100 * time.Millisecond})
	now = now.Add(100 * time.Millisecond)
	assert.Equal(t, GuardPresent, tr.To)

	for i := 0; i < cfg.Hysteresis.MinConsensus; i++ {
		tr = e.Update(1, Input{InGateArea: true, HasGuard: true, GuardID: 7, IsInContact: true, Now: now, Dt: 100 * time.Millisecond})
		now = now.Add(100 * time.Millisecond)
	}
	assert.Equal(t, InteractionWindow, tr.To)
}

func TestEngine_InteractionWindowDropsBackAfterSixNoContactFrames(t *testing.T) {
	cfg := config.Default()
	e := New(cfg)
	now := time.Now()

	now = driveIntoGateArea(e, 1, now, cfg.Hysteresis.MinConsensus)
	e.Update(1, Input{InGateArea: true, HasGuard: true, GuardID: 7, Now: now, Dt: 100 * time.Millisecond})
	now = now.Add(100 * time.Millisecond)
	var tr Transition
	for i := 0; i < cfg.Hysteresis.MinConsensus; i++ {
		tr = e.Update(1, Input{InGateArea: true, HasGuard: true, GuardID: 7, IsInContact: true, Now: now, Dt: 100 * time.Millisecond})
		now = now.Add(100 * time.Millisecond)
	}
	require.Equal(t, InteractionWindow, tr.To)

	for i := 0; i < 2*cfg.Hysteresis.MinConsensus; i++ {
		tr = e.Update(1, Input{InGateArea: true, HasGuard: true, GuardID: 7, IsInContact: false, Now: now, Dt: 100 * time.Millisecond})
		now = now.Add(100 * time.Millisecond)
	}
	assert.Equal(t, GuardPresent, tr.To)
}

func TestEngine_CompletionRequiresAllFourCriteria(t *testing.T) {
	cfg := config.Default()
	e := New(cfg)
	now := time.Now()

	now = driveIntoGateArea(e, 1, now, cfg.Hysteresis.MinConsensus)

	var tr Transition
	step := 250 * time.Millisecond
	for elapsed := time.Duration(0); elapsed <= cfg.Presence.PresenceToCheck+time.Second; elapsed += step {
		tr = e.Update(1, Input{
			InGateArea:   true,
			HasGuard:     true,
			GuardID:      7,
			IsInContact:  true,
			CenterDist:   0,
			PoseDetected: true,
			Now:          now,
			Dt:           step,
		})
		now = now.Add(step)
		if tr.Completed {
			break
		}
	}

	require.True(t, tr.Completed)
	assert.Equal(t, CheckCompleted, tr.To)

	s, ok := e.Get(1)
	require.True(t, ok)
	assert.GreaterOrEqual(t, s.Score, cfg.Score.Threshold)
	assert.True(t, s.CooldownUntil.After(now.Add(-step)))
}

func TestEngine_SessionTimeoutResetsAllTimers(t *testing.T) {
	cfg := config.Default()
	e := New(cfg)
	now := time.Now()

	now = driveIntoGateArea(e, 1, now, cfg.Hysteresis.MinConsensus)
	s, _ := e.Get(1)
	require.Greater(t, s.DwellInGA, time.Duration(0))

	laterNow := now.Add(cfg.Session.SessionTimeout + time.Second)
	e.Update(1, Input{InGateArea: false, Now: laterNow, Dt: 100 * time.Millisecond})

	s, _ = e.Get(1)
	assert.Equal(t, time.Duration(0), s.DwellInGA)
	assert.Equal(t, Idle, s.State)
}

func TestContact_TrueWithinCenterDistScale(t *testing.T) {
	person := geometry.BBox{X1: 0.4, Y1: 0.4, X2: 0.5, Y2: 0.8}
	guard := geometry.BBox{X1: 0.41, Y1: 0.4, X2: 0.51, Y2: 0.8}

	inContact, dist, _ := Contact(person, guard, 0.3, 0.02)
	assert.True(t, inContact)
	assert.Less(t, dist, 0.3)
}

func TestContact_TrueFromIoUAloneWhenFarCenters(t *testing.T) {
	a := geometry.BBox{X1: 0.0, Y1: 0.0, X2: 1.0, Y2: 1.0}
	b := geometry.BBox{X1: 0.9, Y1: 0.9, X2: 1.9, Y2: 1.9}

	inContact, _, iou := Contact(a, b, 0.0001, 0.001)
	assert.True(t, iou > 0)
	assert.True(t, inContact)
}

func TestContact_FalseWhenFarApart(t *testing.T) {
	a := geometry.BBox{X1: 0, Y1: 0, X2: 0.1, Y2: 0.1}
	b := geometry.BBox{X1: 0.9, Y1: 0.9, X2: 1.0, Y2: 1.0}

	inContact, _, _ := Contact(a, b, 0.3, 0.02)
	assert.False(t, inContact)
}
