// Package group implements GroupDetector (§4.6): it clusters persons in
// the gate area into candidate groups by proximity/overlap and recency,
// materializes stable groups, and detects split-apart.
//
// Grounded on the retrieval pack's clustering-by-proximity pattern
// (go-coffee's tracking reassignment cost shape) adapted from pairwise
// cost-matrix matching to simple transitive-closure formation, since the
// spec calls for an unbounded-size group rather than a 1:1 assignment.
package group

import (
	"sort"
	"time"

	"github.com/ocx/gatesupervisor/internal/config"
	"github.com/ocx/gatesupervisor/internal/geometry"
)

// Member is the per-person input GroupDetector clusters over.
type Member struct {
	TrackID   uint64
	Center    geometry.Point
	BBoxNorm  geometry.BBox
	FirstSeen time.Time
}

// Group is a materialized cluster of ≥2 persons.
type Group struct {
	ID          uint64
	Members     []uint64 // sorted ascending
	Centroid    geometry.Point
	CreatedAt   time.Time
	LastUpdated time.Time

	spreadSince time.Time // when pairwise spread last exceeded 1.5*D_MAX continuously
	spreadBad   bool
}

// Age reports how long the group has existed as of now.
func (g *Group) Age(now time.Time) time.Duration { return now.Sub(g.CreatedAt) }

// Stable reports whether the group has existed for at least T_LOCK.
func (g *Group) Stable(now time.Time, tLock time.Duration) bool {
	return g.Age(now) >= tLock
}

// SplitEvent describes a group that broke apart this frame.
type SplitEvent struct {
	GroupID       uint64
	FormerMembers []uint64
}

// Detector holds all active groups for one stream.
type Detector struct {
	cfg    config.GroupConfig
	groups map[uint64]*Group
	nextID uint64
}

// New creates an empty Detector.
func New(cfg config.GroupConfig) *Detector {
	return &Detector{cfg: cfg, groups: make(map[uint64]*Group)}
}

// Groups returns all active groups, sorted by id.
func (d *Detector) Groups() []*Group {
	out := make([]*Group, 0, len(d.groups))
	for _, g := range d.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the group containing trackID, if any.
func (d *Detector) Get(trackID uint64) (*Group, bool) {
	for _, g := range d.groups {
		for _, m := range g.Members {
			if m == trackID {
				return g, true
			}
		}
	}
	return nil, false
}

// Update runs one frame of GroupDetector: re-derives membership for
// existing groups, forms new groups among unassigned members, and
// detects splits. Returns the split events produced this frame (if
// any), for TicketManager to react to.
func (d *Detector) Update(members []Member, now time.Time) []SplitEvent {
	byID := make(map[uint64]Member, len(members))
	for _, m := range members {
		byID[m.TrackID] = m
	}

	var splits []SplitEvent
	for _, g := range d.groups {
		active := active(g, byID)
		if len(active) < len(g.Members) {
			g.LastUpdated = now
		}
		g.Members = active
		if len(active) >= 2 {
			g.Centroid = centroid(active, byID)
		}

		if len(active) < 2 {
			delete(d.groups, g.ID)
			continue
		}

		if spreadExceeds(active, byID, 1.5*d.cfg.DMax) {
			if !g.spreadBad {
				g.spreadBad = true
				g.spreadSince = now
			} else if now.Sub(g.spreadSince) >= d.cfg.TBreak {
				splits = append(splits, SplitEvent{GroupID: g.ID, FormerMembers: append([]uint64{}, g.Members...)})
				delete(d.groups, g.ID)
			}
		} else {
			g.spreadBad = false
		}
	}

	assigned := make(map[uint64]bool)
	for _, g := range d.groups {
		for _, m := range g.Members {
			assigned[m] = true
		}
	}

	d.form(members, byID, assigned, now)

	sort.Slice(splits, func(i, j int) bool { return splits[i].GroupID < splits[j].GroupID })
	return splits
}

func active(g *Group, byID map[uint64]Member) []uint64 {
	out := make([]uint64, 0, len(g.Members))
	for _, m := range g.Members {
		if _, ok := byID[m]; ok {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func centroid(ids []uint64, byID map[uint64]Member) geometry.Point {
	var sx, sy float64
	for _, id := range ids {
		c := byID[id].Center
		sx += c.X
		sy += c.Y
	}
	n := float64(len(ids))
	return geometry.Point{X: sx / n, Y: sy / n}
}

func spreadExceeds(ids []uint64, byID map[uint64]Member, limit float64) bool {
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if geometry.Euclidean(byID[ids[i]].Center, byID[ids[j]].Center) > limit {
				return true
			}
		}
	}
	return false
}

// form clusters unassigned members into new candidate/materialized
// groups. Formation is frame-local: a person joins the forming cluster
// of the nearest already-unassigned peer satisfying the join predicate.
// Ties on centroid distance are broken by lower (forming) group index,
// which corresponds to scan order here since clusters are built in a
// single left-to-right pass.
func (d *Detector) form(members []Member, byID map[uint64]Member, assigned map[uint64]bool, now time.Time) {
	ordered := make([]Member, 0, len(members))
	for _, m := range members {
		if !assigned[m.TrackID] {
			ordered = append(ordered, m)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].TrackID < ordered[j].TrackID })

	type cluster struct {
		ids      []uint64
		centroid geometry.Point
	}
	var clusters []*cluster
	placed := make(map[uint64]bool)

	for _, p1 := range ordered {
		if placed[p1.TrackID] {
			continue
		}

		var best *cluster
		bestDist := -1.0
		for _, c := range clusters {
			if !joinable(p1, byID, c.ids, d.cfg) {
				continue
			}
			dist := geometry.Euclidean(p1.Center, c.centroid)
			if best == nil || dist < bestDist {
				best = c
				bestDist = dist
			}
		}

		if best != nil {
			best.ids = append(best.ids, p1.TrackID)
			best.centroid = centroid(best.ids, byID)
			placed[p1.TrackID] = true
			continue
		}

		c := &cluster{ids: []uint64{p1.TrackID}, centroid: p1.Center}
		clusters = append(clusters, c)
		placed[p1.TrackID] = true

		for _, p2 := range ordered {
			if placed[p2.TrackID] || p2.TrackID == p1.TrackID {
				continue
			}
			if joinable(p2, byID, c.ids, d.cfg) {
				c.ids = append(c.ids, p2.TrackID)
				c.centroid = centroid(c.ids, byID)
				placed[p2.TrackID] = true
			}
		}
	}

	for _, c := range clusters {
		if len(c.ids) < 2 {
			continue
		}
		sort.Slice(c.ids, func(i, j int) bool { return c.ids[i] < c.ids[j] })
		d.nextID++
		d.groups[d.nextID] = &Group{
			ID:          d.nextID,
			Members:     c.ids,
			Centroid:    c.centroid,
			CreatedAt:   now,
			LastUpdated: now,
		}
	}
}

// joinable reports whether candidate p satisfies the pairwise join
// predicate against every current member of a forming cluster: distance
// or IoU proximity, AND a bounded first-seen gap.
func joinable(p Member, byID map[uint64]Member, clusterIDs []uint64, cfg config.GroupConfig) bool {
	for _, id := range clusterIDs {
		other := byID[id]
		close := geometry.Euclidean(p.Center, other.Center) <= cfg.DMax ||
			geometry.IoU(p.BBoxNorm, other.BBoxNorm) >= cfg.IoUMin
		if !close {
			return false
		}
		gap := p.FirstSeen.Sub(other.FirstSeen)
		if gap < 0 {
			gap = -gap
		}
		if gap > cfg.TGroup {
			return false
		}
	}
	return true
}
