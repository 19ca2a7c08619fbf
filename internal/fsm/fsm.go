// Package fsm implements PersonFSM (§4.8): one hysteresis-gated state
// machine per person track, plus the contact predicate it consumes.
//
// Grounded on the retrieval pack's HandshakeStateMachine
// (Generativebots-ocx-backend-go-svc/internal/federation or similar
// connection-lifecycle state machines in the pack), which advances a
// connection through states only after N consecutive confirming
// observations — the same consensus-gated pattern applied here to
// presence, contact, and guard-overlap predicates instead of network
// handshakes.
package fsm

import (
	"math"
	"time"

	"github.com/ocx/gatesupervisor/internal/config"
	"github.com/ocx/gatesupervisor/internal/geometry"
	"github.com/ocx/gatesupervisor/internal/score"
)

// State is one PersonFSM state.
type State int

const (
	Idle State = iota
	PresentInGA
	GuardPresent
	InteractionWindow
	CheckCompleted
)

func (s State) String() string {
	switch s {
	case PresentInGA:
		return "PRESENT_IN_GA"
	case GuardPresent:
		return "GUARD_PRESENT"
	case InteractionWindow:
		return "INTERACTION_WINDOW"
	case CheckCompleted:
		return "CHECK_COMPLETED"
	default:
		return "IDLE"
	}
}

// PersonState is the full per-track FSM record (§3).
type PersonState struct {
	TrackID uint64
	State   State

	DwellInGA       time.Duration
	GuardOverlapTime time.Duration
	InteractionTime time.Duration

	SessionStart time.Time
	LastUpdate   time.Time

	ConsecutiveInGA      int
	ConsecutiveOutGA     int
	ConsecutiveContact   int
	ConsecutiveNoContact int

	PoseReachCount int

	MinCenterDistance float64 // +Inf until first contact observation
	MaxIoU            float64

	GuardID    uint64
	HasGuard   bool

	Score float64

	CooldownUntil time.Time
}

// Transition describes a state change produced by one Update call.
type Transition struct {
	TrackID   uint64
	From      State
	To        State
	Completed bool
}

// Input is one frame's worth of externally-computed predicates for a
// single person track. The FSM itself never touches geometry; Contact
// is derived by the Contact helper below and passed in by the pipeline.
type Input struct {
	InGateArea    bool
	OccludedGrace bool // occlusion grace still holding dwell credit
	GuardID       uint64
	HasGuard      bool
	IsInContact   bool
	CenterDist    float64 // normalized center distance to selected guard
	IoU           float64
	PoseDetected  bool
	Now           time.Time
	Dt            time.Duration
}

// Engine holds running PersonState for every active track in one stream.
type Engine struct {
	presenceCfg   config.PresenceConfig
	guardCfg      config.GuardConfig
	hysteresisCfg config.HysteresisConfig
	sessionCfg    config.SessionConfig
	scoreCfg      config.ScoreConfig
	iouMin        float64

	states map[uint64]*PersonState
}

// New creates an Engine.
func New(cfg *config.Config) *Engine {
	return &Engine{
		presenceCfg:   cfg.Presence,
		guardCfg:      cfg.Guard,
		hysteresisCfg: cfg.Hysteresis,
		sessionCfg:    cfg.Session,
		scoreCfg:      cfg.Score,
		iouMin:        cfg.Group.IoUMin,
		states:        make(map[uint64]*PersonState),
	}
}

// Get returns a track's current state, if any.
func (e *Engine) Get(trackID uint64) (*PersonState, bool) {
	s, ok := e.states[trackID]
	return s, ok
}

// Forget drops state for a track_id no longer active (pipeline cleanup).
func (e *Engine) Forget(trackID uint64) {
	delete(e.states, trackID)
}

// clampDt enforces the spec's [1ms, 1s] delta clamp.
func clampDt(dt time.Duration) time.Duration {
	if dt < time.Millisecond {
		return time.Millisecond
	}
	if dt > time.Second {
		return time.Second
	}
	return dt
}

// Update advances one person track's FSM by one frame.
func (e *Engine) Update(trackID uint64, in Input) Transition {
	s, ok := e.states[trackID]
	if !ok {
		s = &PersonState{TrackID: trackID, State: Idle, MinCenterDistance: math.Inf(1), SessionStart: in.Now}
		e.states[trackID] = s
	}

	if !s.LastUpdate.IsZero() && in.Now.Sub(s.LastUpdate) > e.sessionCfg.SessionTimeout {
		e.resetSession(s, in.Now)
	}
	s.LastUpdate = in.Now

	dt := clampDt(in.Dt)
	minConsensus := e.hysteresisCfg.MinConsensus

	if in.InGateArea || in.OccludedGrace {
		s.ConsecutiveInGA++
		s.ConsecutiveOutGA = 0
	} else {
		s.ConsecutiveOutGA++
		s.ConsecutiveInGA = 0
	}

	if in.IsInContact {
		s.ConsecutiveContact++
		s.ConsecutiveNoContact = 0
	} else {
		s.ConsecutiveNoContact++
		s.ConsecutiveContact = 0
	}

	if in.InGateArea || in.OccludedGrace {
		s.DwellInGA += dt
	}
	if in.HasGuard {
		s.GuardOverlapTime += dt
		s.GuardID = in.GuardID
		s.HasGuard = true
	} else {
		s.HasGuard = false
	}
	if in.IsInContact {
		s.InteractionTime += dt
	}
	if in.PoseDetected {
		s.PoseReachCount++
	}

	if in.IsInContact {
		if in.CenterDist < s.MinCenterDistance {
			s.MinCenterDistance = in.CenterDist
		}
		if in.IoU > s.MaxIoU {
			s.MaxIoU = in.IoU
		}
	}

	s.Score = score.Compute(score.Inputs{
		MinCenterDistance: s.MinCenterDistance,
		MaxIoU:            s.MaxIoU,
		PoseReachCount:    s.PoseReachCount,
		SessionSeconds:    in.Now.Sub(s.SessionStart).Seconds(),
	}, e.scoreCfg, e.iouMin).Total

	from := s.State
	inCooldown := !s.CooldownUntil.IsZero() && in.Now.Before(s.CooldownUntil)

	switch s.State {
	case Idle:
		if s.ConsecutiveInGA >= minConsensus {
			s.State = PresentInGA
		}

	case PresentInGA:
		if s.ConsecutiveOutGA >= minConsensus {
			s.State = Idle
		} else if in.HasGuard {
			s.State = GuardPresent
		}

	case GuardPresent:
		if s.ConsecutiveOutGA >= minConsensus {
			s.State = Idle
		} else if !in.HasGuard {
			s.State = PresentInGA
		} else if s.ConsecutiveContact >= minConsensus || in.PoseDetected {
			s.State = InteractionWindow
		}

	case InteractionWindow:
		if s.ConsecutiveOutGA >= minConsensus {
			s.State = Idle
		} else if s.ConsecutiveNoContact >= minConsensus*2 {
			s.State = GuardPresent
		}

	case CheckCompleted:
		if !inCooldown {
			s.State = Idle
		}
	}

	completed := false
	if s.State == GuardPresent || s.State == InteractionWindow {
		if !inCooldown && completionCriteriaMet(s, e.presenceCfg, e.guardCfg, e.scoreCfg) {
			s.State = CheckCompleted
			s.CooldownUntil = in.Now.Add(e.sessionCfg.CheckCompletedCooldown)
			completed = true
		}
	}

	return Transition{TrackID: trackID, From: from, To: s.State, Completed: completed}
}

func completionCriteriaMet(s *PersonState, presence config.PresenceConfig, guard config.GuardConfig, score config.ScoreConfig) bool {
	return s.DwellInGA >= presence.PresenceToCheck &&
		s.GuardOverlapTime >= guard.GuardReady &&
		s.InteractionTime >= presence.InteractionMin &&
		s.Score >= score.Threshold
}

func (e *Engine) resetSession(s *PersonState, now time.Time) {
	s.State = Idle
	s.DwellInGA = 0
	s.GuardOverlapTime = 0
	s.InteractionTime = 0
	s.ConsecutiveInGA = 0
	s.ConsecutiveOutGA = 0
	s.ConsecutiveContact = 0
	s.ConsecutiveNoContact = 0
	s.PoseReachCount = 0
	s.MinCenterDistance = math.Inf(1)
	s.MaxIoU = 0
	s.Score = 0
	s.SessionStart = now
	s.CooldownUntil = time.Time{}
	s.HasGuard = false
}

// Contact computes the in-contact predicate between a person and a
// candidate guard: either the height-normalized center distance is
// within centerDistScale, or the bbox IoU clears iouMin.
func Contact(person, guard geometry.BBox, centerDistScale, iouMin float64) (inContact bool, centerDist, iou float64) {
	meanHeight := (person.Height() + guard.Height()) / 2
	if meanHeight < 1e-6 {
		centerDist = math.Inf(1)
	} else {
		centerDist = geometry.Euclidean(person.Center(), guard.Center()) / meanHeight
	}
	iou = geometry.IoU(person, guard)
	inContact = centerDist <= centerDistScale || iou >= iouMin
	return inContact, centerDist, iou
}
