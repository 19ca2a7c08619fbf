// Package zone holds the two named spatial zones — gate area and guard
// anchor — and classifies a track's smoothed center against them (§4.4).
//
// Zones are configuration, not pipeline state: changing a polygon is a
// control-plane operation (UpdateZones, §6.1), validated here and applied
// atomically at the next frame boundary.
package zone

import (
	"github.com/ocx/gatesupervisor/internal/config"
	"github.com/ocx/gatesupervisor/internal/geometry"
)

// Classification is the per-track zone membership result for one frame.
type Classification struct {
	InGateArea    bool
	InGuardAnchor bool
}

// Model holds the two normalized zone polygons for one stream.
type Model struct {
	gateArea    []geometry.Point
	guardAnchor []geometry.Point
}

// NewModel builds a Model from config points, ignoring either polygon if
// it fails validation (a misconfigured stream starts with an empty zone
// rather than crashing; every classification simply reports false).
func NewModel(gateArea, guardAnchor []config.Point) *Model {
	m := &Model{}
	if pts := toGeometry(gateArea); geometry.ValidPolygon(pts) {
		m.gateArea = pts
	}
	if pts := toGeometry(guardAnchor); geometry.ValidPolygon(pts) {
		m.guardAnchor = pts
	}
	return m
}

func toGeometry(pts []config.Point) []geometry.Point {
	out := make([]geometry.Point, len(pts))
	for i, p := range pts {
		out[i] = geometry.Point{X: p.X, Y: p.Y}
	}
	return out
}

// Classify reports whether a normalized point is inside the gate area
// and/or the guard anchor.
func (m *Model) Classify(center geometry.Point) Classification {
	return Classification{
		InGateArea:    m.gateArea != nil && geometry.PointInPolygon(center, m.gateArea),
		InGuardAnchor: m.guardAnchor != nil && geometry.PointInPolygon(center, m.guardAnchor),
	}
}

// TryUpdate validates and, on success, replaces both polygons atomically.
// On failure it leaves the previous polygons untouched and reports false
// along with which polygon was rejected, per §7.2.
func (m *Model) TryUpdate(gateArea, guardAnchor []config.Point) (ok bool, rejectReason string) {
	gaPts := toGeometry(gateArea)
	anchorPts := toGeometry(guardAnchor)

	if !geometry.ValidPolygon(gaPts) {
		return false, "gate_area_polygon invalid"
	}
	if !geometry.ValidPolygon(anchorPts) {
		return false, "guard_anchor_polygon invalid"
	}

	m.gateArea = gaPts
	m.guardAnchor = anchorPts
	return true, ""
}

// GateArea returns the current gate-area polygon (nil if unset).
func (m *Model) GateArea() []geometry.Point { return m.gateArea }

// GuardAnchor returns the current guard-anchor polygon (nil if unset).
func (m *Model) GuardAnchor() []geometry.Point { return m.guardAnchor }
