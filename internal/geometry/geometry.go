// Package geometry provides the pure spatial primitives shared by every
// stage of the perception pipeline: bounding boxes, points, polygons, and
// the distance/overlap metrics the tracker and zone model are built on.
//
// Everything here is a free function over value types — no state, no
// allocation beyond what the caller passes in. That keeps the tracker's
// hot per-frame cost loop allocation-free.
package geometry

import "math"

// Point is a normalized (or pixel, depending on caller) 2D coordinate.
type Point struct {
	X, Y float64
}

// BBox is an axis-aligned bounding box, (x1, y1) top-left, (x2, y2) bottom-right.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Width returns the box width. Degenerate boxes (X2 < X1) report zero.
func (b BBox) Width() float64 {
	if b.X2 <= b.X1 {
		return 0
	}
	return b.X2 - b.X1
}

// Height returns the box height. Degenerate boxes (Y2 < Y1) report zero.
func (b BBox) Height() float64 {
	if b.Y2 <= b.Y1 {
		return 0
	}
	return b.Y2 - b.Y1
}

// Area returns width*height, zero for degenerate boxes.
func (b BBox) Area() float64 {
	return b.Width() * b.Height()
}

// Center returns the box's geometric center.
func (b BBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Shift translates a box by (dx, dy), used to project a track's predicted
// position forward by one frame of velocity.
func (b BBox) Shift(dx, dy float64) BBox {
	return BBox{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// Normalize maps a pixel-space box into [0,1] given frame dimensions.
func (b BBox) Normalize(frameW, frameH float64) BBox {
	if frameW <= 0 || frameH <= 0 {
		return b
	}
	return BBox{
		X1: b.X1 / frameW, Y1: b.Y1 / frameH,
		X2: b.X2 / frameW, Y2: b.Y2 / frameH,
	}
}

// IoU returns the intersection-over-union of two boxes, in [0,1]. Returns
// 0 for non-overlapping boxes rather than a negative or NaN value.
func IoU(a, b BBox) float64 {
	ix1 := math.Max(a.X1, b.X1)
	iy1 := math.Max(a.Y1, b.Y1)
	ix2 := math.Min(a.X2, b.X2)
	iy2 := math.Min(a.Y2, b.Y2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Euclidean returns the straight-line distance between two points.
func Euclidean(p, q Point) float64 {
	dx := p.X - q.X
	dy := p.Y - q.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// BBoxWorldArea estimates the real-world footprint share of a normalized
// box given the frame dimensions it was normalized against — used only for
// diagnostics, never for a decision path.
func BBoxWorldArea(bboxNorm BBox, frameW, frameH float64) float64 {
	return bboxNorm.Area() * frameW * frameH
}

// PointInPolygon applies the ray-casting algorithm. A point exactly on a
// polygon edge counts as inside, matching the spec's boundary-inclusive
// rule for zone membership (a guard standing exactly on the anchor line is
// in the anchor).
func PointInPolygon(pt Point, poly []Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[i], poly[j]

		if onSegment(pt, a, b) {
			return true
		}

		if (a.Y > pt.Y) != (b.Y > pt.Y) {
			xIntersect := (b.X-a.X)*(pt.Y-a.Y)/(b.Y-a.Y) + a.X
			if pt.X < xIntersect {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(pt, a, b Point) bool {
	const eps = 1e-9
	cross := (b.X-a.X)*(pt.Y-a.Y) - (b.Y-a.Y)*(pt.X-a.X)
	if math.Abs(cross) > eps {
		return false
	}
	if pt.X < math.Min(a.X, b.X)-eps || pt.X > math.Max(a.X, b.X)+eps {
		return false
	}
	if pt.Y < math.Min(a.Y, b.Y)-eps || pt.Y > math.Max(a.Y, b.Y)+eps {
		return false
	}
	return true
}

// PolygonSignedArea returns the shoelace signed area of a polygon. A
// collinear polygon reports zero area, which UpdateZones treats as a
// rejection. Self-intersection is not detected: the lobes of a
// self-intersecting polygon partly cancel, and the result is zero only
// when they cancel exactly.
func PolygonSignedArea(poly []Point) float64 {
	n := len(poly)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += poly[i].X*poly[j].Y - poly[j].X*poly[i].Y
	}
	return sum / 2
}

// DistanceToBBox returns the distance from p to the nearest point of b,
// zero if p is inside (or on the boundary of) b.
func DistanceToBBox(p Point, b BBox) float64 {
	dx := 0.0
	if p.X < b.X1 {
		dx = b.X1 - p.X
	} else if p.X > b.X2 {
		dx = p.X - b.X2
	}
	dy := 0.0
	if p.Y < b.Y1 {
		dy = b.Y1 - p.Y
	} else if p.Y > b.Y2 {
		dy = p.Y - b.Y2
	}
	return math.Sqrt(dx*dx + dy*dy)
}

// ValidPolygon reports whether poly is usable as a zone boundary: at least
// 3 points and non-zero signed area.
func ValidPolygon(poly []Point) bool {
	if len(poly) < 3 {
		return false
	}
	const minArea = 1e-6
	return math.Abs(PolygonSignedArea(poly)) >= minArea
}
