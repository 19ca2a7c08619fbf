// Package tracker implements the two-pass, ByteTrack-like multi-object
// tracker (§4.3): it turns a per-frame list of detections into a stable
// set of Track identities with velocity, confirmation, and age tracking.
//
// Grounded on the retrieval pack's own object-tracking reference
// (go-coffee's internal/object-detection/infrastructure/tracking.Tracker)
// for the hit-streak / time-since-update / IoU+distance cost shape, and on
// MiFace's jitter-smoothing split between raw and filtered position.
package tracker

import (
	"time"

	"github.com/ocx/gatesupervisor/internal/filter"
	"github.com/ocx/gatesupervisor/internal/geometry"
)

// Role is a track's current promotion state.
type Role int

const (
	RoleUnknown Role = iota
	RolePerson
	RoleGuard
)

func (r Role) String() string {
	switch r {
	case RolePerson:
		return "person"
	case RoleGuard:
		return "guard"
	default:
		return "unknown"
	}
}

// Detection is one per-frame object-detector output, in pixel space.
type Detection struct {
	ClassID    int
	Confidence float64
	BBoxPx     geometry.BBox
}

const (
	maxPositionHistory = 30
	maxVelocityHistory = 10
	velocityWindow     = 5
)

// Track is one tracked identity, stable across frames (§3).
type Track struct {
	ID              uint64
	BBoxNorm        geometry.BBox
	Center          geometry.Point // smoothed, feeds zone/proximity
	RawCenter       geometry.Point
	Confidence      float64
	ClassID         int
	Age             int
	Hits            int
	TimeSinceUpdate int
	FirstSeenTS     time.Time
	LastSeenTS      time.Time
	Confirmed       bool
	Deleted         bool
	Role            Role

	PositionHistory []geometry.Point
	VelocityHistory []geometry.Point

	smoother *filter.Smoother
}

// Velocity returns the average per-frame center delta over the most
// recent velocityWindow positions, zero until at least 2 positions exist.
func (t *Track) Velocity() geometry.Point {
	n := len(t.VelocityHistory)
	if n == 0 {
		return geometry.Point{}
	}
	start := n - velocityWindow
	if start < 0 {
		start = 0
	}
	var sumX, sumY float64
	count := 0
	for i := start; i < n; i++ {
		sumX += t.VelocityHistory[i].X
		sumY += t.VelocityHistory[i].Y
		count++
	}
	return geometry.Point{X: sumX / float64(count), Y: sumY / float64(count)}
}

// PredictedBBox projects BBoxNorm forward by one frame of velocity.
func (t *Track) PredictedBBox() geometry.BBox {
	v := t.Velocity()
	return t.BBoxNorm.Shift(v.X, v.Y)
}

func (t *Track) pushPosition(center geometry.Point) {
	if len(t.PositionHistory) > 0 {
		prev := t.PositionHistory[len(t.PositionHistory)-1]
		delta := geometry.Point{X: center.X - prev.X, Y: center.Y - prev.Y}
		t.VelocityHistory = append(t.VelocityHistory, delta)
		if len(t.VelocityHistory) > maxVelocityHistory {
			t.VelocityHistory = t.VelocityHistory[len(t.VelocityHistory)-maxVelocityHistory:]
		}
	}

	t.PositionHistory = append(t.PositionHistory, center)
	if len(t.PositionHistory) > maxPositionHistory {
		t.PositionHistory = t.PositionHistory[len(t.PositionHistory)-maxPositionHistory:]
	}
}
