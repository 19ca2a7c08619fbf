package tracker

import (
	"sort"
	"time"

	"github.com/ocx/gatesupervisor/internal/config"
	"github.com/ocx/gatesupervisor/internal/filter"
	"github.com/ocx/gatesupervisor/internal/geometry"
)

// Tracker assigns stable track ids across frames via a two-pass
// high/low-confidence matching cascade (§4.3). One Tracker instance
// belongs to exactly one stream; it is not safe for concurrent use.
type Tracker struct {
	cfg    config.TrackingConfig
	window int

	tracks map[uint64]*Track
	nextID uint64
	now    time.Time
}

// New creates a Tracker for one stream.
func New(cfg config.TrackingConfig, jitterWindow int) *Tracker {
	return &Tracker{
		cfg:    cfg,
		window: jitterWindow,
		tracks: make(map[uint64]*Track),
	}
}

type pair struct {
	trackID  uint64
	detIdx   int
	cost     float64
	distance float64
}

// Update runs one frame of detections through the matcher and returns all
// currently confirmed, non-deleted tracks, sorted by id for determinism.
// frameW/frameH normalize pixel-space detections into [0,1].
func (tr *Tracker) Update(dets []Detection, frameW, frameH float64, now time.Time) []*Track {
	tr.now = now
	var high, low []int
	for i, d := range dets {
		switch {
		case d.Confidence >= tr.cfg.HighConf:
			high = append(high, i)
		case d.Confidence >= tr.cfg.LowConf:
			low = append(low, i)
		}
	}

	matchedTracks := make(map[uint64]bool)
	matchedDets := make(map[int]bool)

	// Pass 1: high-confidence detections vs all current tracks.
	tr.assign(dets, high, frameW, frameH, tr.cfg.IoUThreshold, matchedTracks, matchedDets)

	// Pass 2: remaining tracks vs low-confidence detections.
	tr.assign(dets, low, frameW, frameH, tr.cfg.LowIoUThreshold, matchedTracks, matchedDets)

	// Unmatched high-confidence detections spawn new tracks.
	var newIDs []int
	for _, i := range high {
		if !matchedDets[i] {
			newIDs = append(newIDs, i)
		}
	}
	sort.Ints(newIDs)
	for _, i := range newIDs {
		tr.spawn(dets[i], frameW, frameH, now)
	}

	// Age unmatched tracks, delete stale ones.
	for id, t := range tr.tracks {
		if matchedTracks[id] {
			continue
		}
		t.Age++
		t.TimeSinceUpdate++
		if t.TimeSinceUpdate > tr.cfg.MaxAgeFrames {
			t.Deleted = true
		}
	}
	for id, t := range tr.tracks {
		if t.Deleted {
			delete(tr.tracks, id)
		}
	}

	var out []*Track
	for _, t := range tr.tracks {
		if t.Confirmed && !t.Deleted {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// assign performs one greedy matching pass: ascending cost, ties broken by
// lower center distance then lower track id, accepting pairs whose IoU
// clears iouThreshold.
func (tr *Tracker) assign(dets []Detection, candidates []int, frameW, frameH, iouThreshold float64, matchedTracks map[uint64]bool, matchedDets map[int]bool) {
	var candTrackIDs []uint64
	for id, t := range tr.tracks {
		if !matchedTracks[id] {
			candTrackIDs = append(candTrackIDs, id)
		}
	}

	var pairs []pair
	for _, id := range candTrackIDs {
		t := tr.tracks[id]
		predicted := t.PredictedBBox()
		for _, di := range candidates {
			if matchedDets[di] {
				continue
			}
			detBBox := dets[di].BBoxPx.Normalize(frameW, frameH)
			iou := geometry.IoU(predicted, detBBox)
			dist := geometry.Euclidean(predicted.Center(), detBBox.Center())
			cost := (1 - iou) + tr.cfg.CenterDistWeight*dist
			pairs = append(pairs, pair{trackID: id, detIdx: di, cost: cost, distance: dist})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].cost != pairs[j].cost {
			return pairs[i].cost < pairs[j].cost
		}
		if pairs[i].distance != pairs[j].distance {
			return pairs[i].distance < pairs[j].distance
		}
		return pairs[i].trackID < pairs[j].trackID
	})

	for _, p := range pairs {
		if matchedTracks[p.trackID] || matchedDets[p.detIdx] {
			continue
		}
		t := tr.tracks[p.trackID]
		predicted := t.PredictedBBox()
		detBBox := dets[p.detIdx].BBoxPx.Normalize(frameW, frameH)
		if geometry.IoU(predicted, detBBox) < iouThreshold {
			continue
		}
		tr.applyMatch(t, dets[p.detIdx], frameW, frameH)
		matchedTracks[p.trackID] = true
		matchedDets[p.detIdx] = true
	}
}

func (tr *Tracker) applyMatch(t *Track, d Detection, frameW, frameH float64) {
	bbox := d.BBoxPx.Normalize(frameW, frameH)
	t.BBoxNorm = bbox
	t.Confidence = d.Confidence
	t.ClassID = d.ClassID
	t.Hits++
	t.Age++
	t.TimeSinceUpdate = 0

	raw := bbox.Center()
	t.RawCenter = raw
	t.pushPosition(raw)
	t.Center = t.smoother.Push(raw)
	t.LastSeenTS = tr.now

	if t.Hits >= tr.cfg.MinHits {
		t.Confirmed = true
	}
}

func (tr *Tracker) spawn(d Detection, frameW, frameH float64, now time.Time) *Track {
	tr.nextID++
	bbox := d.BBoxPx.Normalize(frameW, frameH)
	raw := bbox.Center()

	t := &Track{
		ID:          tr.nextID,
		BBoxNorm:    bbox,
		ClassID:     d.ClassID,
		Confidence:  d.Confidence,
		Age:         1,
		Hits:        1,
		FirstSeenTS: now,
		LastSeenTS:  now,
		smoother:    filter.NewSmoother(tr.window),
	}
	t.RawCenter = raw
	t.pushPosition(raw)
	t.Center = t.smoother.Push(raw)
	if t.Hits >= tr.cfg.MinHits {
		t.Confirmed = true
	}

	tr.tracks[t.ID] = t
	return t
}

// Get returns a track by id regardless of confirmation state, for
// looking up a track found in a previous frame's output.
func (tr *Tracker) Get(id uint64) (*Track, bool) {
	t, ok := tr.tracks[id]
	return t, ok
}

// All returns every live (non-deleted) track including unconfirmed ones.
func (tr *Tracker) All() []*Track {
	out := make([]*Track, 0, len(tr.tracks))
	for _, t := range tr.tracks {
		if !t.Deleted {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
