// Package pose is the optional per-track keypoint adapter (§4.5). It is
// consumed purely through the Source interface — a real pose estimator is
// explicitly out of scope (§1) — and degrades every predicate to false
// when no Source is configured, exactly as the spec requires.
//
// The keypoint layout follows the 17-point COCO convention, the same one
// MiFace's PoseData/Landmark types model for VTuber tracking; we keep the
// named-index style of that package rather than reinvent a layout.
package pose

import (
	"time"

	"github.com/ocx/gatesupervisor/internal/config"
	"github.com/ocx/gatesupervisor/internal/geometry"
)

// COCO keypoint indices.
const (
	Nose = iota
	LeftEye
	RightEye
	LeftEar
	RightEar
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	NumKeypoints
)

// Keypoint is one COCO landmark in normalized frame coordinates.
type Keypoint struct {
	Point      geometry.Point
	Visibility float64 // [0,1]
}

// Keypoints is a full 17-point COCO pose for one track in one frame.
type Keypoints [NumKeypoints]Keypoint

const visibilityThreshold = 0.3

func (k Keypoints) visible(idx int) bool {
	return k[idx].Visibility >= visibilityThreshold
}

// Source supplies per-track keypoints for the current frame. A real
// implementation wraps an external pose estimator; tests and frame
// sources without pose support simply omit a Source (nil), which the
// Adapter treats as "always absent".
type Source interface {
	Keypoints(trackID uint64) (Keypoints, bool)
}

type historyEntry struct {
	kp Keypoints
	ts time.Time
}

const historyWindow = 5

// Adapter attaches keypoints to tracks and derives the contact/reach
// predicates the FSM consumes. One Adapter belongs to one stream.
type Adapter struct {
	cfg     config.PoseConfig
	source  Source
	history map[uint64][]historyEntry
}

// NewAdapter creates an Adapter. source may be nil, disabling pose entirely.
func NewAdapter(cfg config.PoseConfig, source Source) *Adapter {
	return &Adapter{cfg: cfg, source: source, history: make(map[uint64][]historyEntry)}
}

// Available reports whether a pose source is configured at all.
func (a *Adapter) Available() bool { return a.source != nil }

// Update fetches this frame's keypoints for trackID (if available) and
// appends them to the track's rolling history. Returns ok=false when no
// source is configured or the source has nothing for this track.
func (a *Adapter) Update(trackID uint64, now time.Time) (Keypoints, bool) {
	if a.source == nil {
		return Keypoints{}, false
	}
	kp, ok := a.source.Keypoints(trackID)
	if !ok {
		return Keypoints{}, false
	}

	hist := append(a.history[trackID], historyEntry{kp: kp, ts: now})
	if len(hist) > historyWindow {
		hist = hist[len(hist)-historyWindow:]
	}
	a.history[trackID] = hist
	return kp, true
}

// Forget drops pose history for a track_id no longer in the active set
// (pipeline step 10 cleanup).
func (a *Adapter) Forget(trackID uint64) {
	delete(a.history, trackID)
}

// torsoBBox estimates a guard's torso from shoulder+hip keypoints, falling
// back to the upper 10-60% of the guard's bounding box when pose is
// unavailable or those landmarks aren't visible.
func torsoBBox(guard Keypoints, haveGuardPose bool, guardBBox geometry.BBox) geometry.BBox {
	if haveGuardPose &&
		guard.visible(LeftShoulder) && guard.visible(RightShoulder) &&
		guard.visible(LeftHip) && guard.visible(RightHip) {

		pts := []geometry.Point{
			guard[LeftShoulder].Point, guard[RightShoulder].Point,
			guard[LeftHip].Point, guard[RightHip].Point,
		}
		bb := geometry.BBox{X1: pts[0].X, Y1: pts[0].Y, X2: pts[0].X, Y2: pts[0].Y}
		for _, p := range pts[1:] {
			if p.X < bb.X1 {
				bb.X1 = p.X
			}
			if p.X > bb.X2 {
				bb.X2 = p.X
			}
			if p.Y < bb.Y1 {
				bb.Y1 = p.Y
			}
			if p.Y > bb.Y2 {
				bb.Y2 = p.Y
			}
		}
		return bb
	}

	h := guardBBox.Height()
	return geometry.BBox{
		X1: guardBBox.X1, X2: guardBBox.X2,
		Y1: guardBBox.Y1 + 0.10*h,
		Y2: guardBBox.Y1 + 0.60*h,
	}
}

// HandToTorso reports whether either wrist of the visitor is within
// margin·guard_height of the guard's torso (§4.5). Returns false if the
// visitor has no visible wrist keypoints.
func (a *Adapter) HandToTorso(visitor Keypoints, haveVisitor bool, guard Keypoints, haveGuard bool, guardBBox geometry.BBox) bool {
	if !haveVisitor {
		return false
	}
	torso := torsoBBox(guard, haveGuard, guardBBox)
	threshold := a.cfg.HandToTorsoMargin * guardBBox.Height()

	for _, idx := range [...]int{LeftWrist, RightWrist} {
		if !visitor.visible(idx) {
			continue
		}
		if geometry.DistanceToBBox(visitor[idx].Point, torso) <= threshold {
			return true
		}
	}
	return false
}

// ReachGesture reports whether, over the track's last historyWindow pose
// frames, either wrist closed in on the guard's torso centroid at or
// above velocityThresh, sustained for at least minDuration (§4.5).
func (a *Adapter) ReachGesture(visitorTrackID uint64, guardCentroid geometry.Point) bool {
	hist := a.history[visitorTrackID]
	if len(hist) < 2 {
		return false
	}

	for _, idx := range [...]int{LeftWrist, RightWrist} {
		if sustainedApproach(hist, idx, guardCentroid, a.cfg.ReachVelocityThresh, a.cfg.ReachMinDuration) {
			return true
		}
	}
	return false
}

func sustainedApproach(hist []historyEntry, wristIdx int, target geometry.Point, velocityThresh float64, minDuration time.Duration) bool {
	var sustained time.Duration
	for i := 1; i < len(hist); i++ {
		prev, cur := hist[i-1], hist[i]
		if !prev.kp.visible(wristIdx) || !cur.kp.visible(wristIdx) {
			sustained = 0
			continue
		}
		dt := cur.ts.Sub(prev.ts)
		if dt <= 0 {
			continue
		}
		dPrev := geometry.Euclidean(prev.kp[wristIdx].Point, target)
		dCur := geometry.Euclidean(cur.kp[wristIdx].Point, target)
		radialVelocity := (dCur - dPrev) / dt.Seconds()

		if radialVelocity <= -velocityThresh {
			sustained += dt
			if sustained >= minDuration {
				return true
			}
		} else {
			sustained = 0
		}
	}
	return false
}
