// Package guard implements GuardClassifier (§4.7): promotion of a person
// track to guard role, and the configurable qualification logic that
// decides which guards are eligible for ticket assignment.
//
// Grounded on the retrieval pack's handshake-style state accumulation
// (Generativebots-ocx-backend-go-svc's HandshakeStateMachine keeps
// running presence counters before promoting a connection to
// "established"); guard promotion here follows the same
// accumulate-then-promote shape applied to anchor/gate dwell instead of
// handshake frames.
package guard

import (
	"sort"
	"time"

	"github.com/ocx/gatesupervisor/internal/config"
	"github.com/ocx/gatesupervisor/internal/geometry"
)

const locationHistoryWindow = 10 * time.Second

type locationSample struct {
	ts       time.Time
	inAnchor bool
	inGate   bool
}

// State is one track's running guard-classification state.
type State struct {
	TrackID uint64

	Role             string // not set by Update; the role is reported through Result.IsGuard and Classifier.IsGuard
	AnchorEntryTime  time.Time
	InAnchorSince    bool
	TotalAnchorTime  time.Duration
	lastUpdate       time.Time
	outOfAnchorSince time.Time
	outOfAnchor      bool
	isGuard          bool
	guardeeSince     time.Time // when classified as guard, for the 30s downgrade rule

	history []locationSample
}

// qualified reports whether this guard currently satisfies the
// configured anchor-logic qualification rule.
func (s *State) qualified(cfg config.GuardConfig, inAnchorNow, inGateNow bool) bool {
	switch cfg.AnchorLogic {
	case config.AnchorLogicStrict:
		return inAnchorNow && s.TotalAnchorTime+s.anchorDwell() >= cfg.GuardReady
	case config.AnchorLogicNone:
		return true
	default: // AnchorLogicEither
		return s.anchorDwell() >= cfg.GuardReady || s.gateDwell() >= cfg.GuardReady
	}
}

func (s *State) anchorDwell() time.Duration {
	if !s.InAnchorSince {
		return 0
	}
	return s.lastUpdate.Sub(s.AnchorEntryTime)
}

func (s *State) gateDwell() time.Duration {
	var total time.Duration
	if len(s.history) == 0 {
		return 0
	}
	for i := 1; i < len(s.history); i++ {
		if s.history[i-1].inGate {
			total += s.history[i].ts.Sub(s.history[i-1].ts)
		}
	}
	return total
}

// anchorTimeInWindow sums anchor-true duration over the trailing 10s
// location history, used for the dequalify-to-person downgrade rule.
func (s *State) anchorTimeInWindow(now time.Time) time.Duration {
	var total time.Duration
	for i := 1; i < len(s.history); i++ {
		if now.Sub(s.history[i].ts) > locationHistoryWindow {
			continue
		}
		if s.history[i-1].inAnchor {
			total += s.history[i].ts.Sub(s.history[i-1].ts)
		}
	}
	return total
}

func (s *State) anchorVisitsAndGateVisit(now time.Time) (anchorVisits int, gateVisit bool) {
	prevAnchor := false
	for _, sample := range s.history {
		if now.Sub(sample.ts) > locationHistoryWindow {
			continue
		}
		if sample.inAnchor && !prevAnchor {
			anchorVisits++
		}
		prevAnchor = sample.inAnchor
		if sample.inGate {
			gateVisit = true
		}
	}
	return anchorVisits, gateVisit
}

// Result is the per-track role/qualification outcome for one frame.
type Result struct {
	TrackID     uint64
	IsGuard     bool
	Qualified   bool
	Downgraded  bool // guard demoted back to person this frame
	Dequalified bool // guard lost qualification this frame (still guard role)
}

// Classifier holds running per-track guard state for one stream.
type Classifier struct {
	cfg    config.GuardConfig
	states map[uint64]*State
}

// New creates a Classifier.
func New(cfg config.GuardConfig) *Classifier {
	return &Classifier{cfg: cfg, states: make(map[uint64]*State)}
}

// Forget drops state for a track_id no longer active.
func (c *Classifier) Forget(trackID uint64) {
	delete(c.states, trackID)
}

// SetAnchorLogic updates the qualification rule future Update calls use
// (§6.1 SetAnchorLogic control command).
func (c *Classifier) SetAnchorLogic(logic config.GuardAnchorLogic) {
	c.cfg.AnchorLogic = logic
}

// IsGuard reports whether trackID currently carries the guard role.
func (c *Classifier) IsGuard(trackID uint64) bool {
	s, ok := c.states[trackID]
	return ok && s.isGuard
}

// Update advances one track's guard classification by one frame and
// returns its role/qualification result.
func (c *Classifier) Update(trackID uint64, inAnchor, inGate bool, now time.Time) Result {
	s, ok := c.states[trackID]
	if !ok {
		s = &State{TrackID: trackID}
		c.states[trackID] = s
	}

	wasGuard := s.isGuard

	if inAnchor {
		if !s.InAnchorSince {
			if s.outOfAnchor && now.Sub(s.outOfAnchorSince) > c.cfg.TRejoin {
				s.TotalAnchorTime = 0
			}
			s.InAnchorSince = true
			s.AnchorEntryTime = now
		}
		s.outOfAnchor = false
	} else {
		if s.InAnchorSince {
			s.TotalAnchorTime += now.Sub(s.AnchorEntryTime)
			s.InAnchorSince = false
		}
		if !s.outOfAnchor {
			s.outOfAnchor = true
			s.outOfAnchorSince = now
		}
	}

	s.history = append(s.history, locationSample{ts: now, inAnchor: inAnchor, inGate: inGate})
	cutoff := now.Add(-locationHistoryWindow)
	trimmed := s.history[:0]
	for _, sample := range s.history {
		if sample.ts.After(cutoff) {
			trimmed = append(trimmed, sample)
		}
	}
	s.history = trimmed
	s.lastUpdate = now

	if !wasGuard {
		anchorVisits, gateVisit := s.anchorVisitsAndGateVisit(now)
		mobilePattern := anchorVisits >= 2 && gateVisit
		if s.anchorDwell() >= c.cfg.GuardReady || mobilePattern {
			s.guardeeSince = now
			s.isGuard = true
			wasGuard = true
		}
	}

	result := Result{TrackID: trackID}
	if !wasGuard {
		return result
	}
	result.IsGuard = true

	var dequalified bool
	if s.outOfAnchor && now.Sub(s.outOfAnchorSince) > c.cfg.TVacate {
		dequalified = true
	}

	result.Qualified = !dequalified && s.qualified(c.cfg, inAnchor, inGate)
	result.Dequalified = dequalified

	if dequalified && now.Sub(s.guardeeSince) >= 30*time.Second && s.anchorTimeInWindow(now) < time.Second {
		delete(c.states, trackID)
		result.IsGuard = false
		result.Qualified = false
		result.Downgraded = true
		return result
	}

	return result
}

// Candidate is a currently-qualified guard the FSM can select from.
type Candidate struct {
	GuardID uint64
	Center  geometry.Point
}

// SelectGuard picks, among qualified candidates, the one with minimum
// center distance to personCenter; ties broken by lower guard id (§4.8).
func SelectGuard(candidates []Candidate, personCenter geometry.Point) (uint64, bool) {
	if len(candidates) == 0 {
		return 0, false
	}
	sorted := append([]Candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		di := geometry.Euclidean(sorted[i].Center, personCenter)
		dj := geometry.Euclidean(sorted[j].Center, personCenter)
		if di != dj {
			return di < dj
		}
		return sorted[i].GuardID < sorted[j].GuardID
	})
	return sorted[0].GuardID, true
}
