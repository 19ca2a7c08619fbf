package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gatesupervisor/internal/config"
	"github.com/ocx/gatesupervisor/internal/geometry"
)

func box(x1, y1, x2, y2 float64) geometry.BBox {
	return geometry.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func TestTracker_NewTrackNotConfirmedUntilMinHits(t *testing.T) {
	cfg := config.Default().Tracking
	tr := New(cfg, 5)
	now := time.Now()

	out := tr.Update([]Detection{{ClassID: 0, Confidence: 0.9, BBoxPx: box(10, 10, 20, 20)}}, 100, 100, now)
	require.Empty(t, out, "a single hit must not be confirmed yet")

	all := tr.All()
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].Hits)
	assert.False(t, all[0].Confirmed)
}

func TestTracker_ConfirmsAfterMinHits(t *testing.T) {
	cfg := config.Default().Tracking
	tr := New(cfg, 5)
	now := time.Now()

	var out []*Track
	for i := 0; i < 3; i++ {
		out = tr.Update([]Detection{{ClassID: 0, Confidence: 0.9, BBoxPx: box(10, 10, 20, 20)}}, 100, 100, now)
		now = now.Add(33 * time.Millisecond)
	}
	require.Len(t, out, 1)
	assert.True(t, out[0].Confirmed)
	assert.Equal(t, 3, out[0].Hits)
	assert.Equal(t, uint64(1), out[0].ID)
}

func TestTracker_StableIDAcrossFramesWithSmallMotion(t *testing.T) {
	cfg := config.Default().Tracking
	tr := New(cfg, 5)
	now := time.Now()

	x := 10.0
	var lastID uint64
	for i := 0; i < 5; i++ {
		out := tr.Update([]Detection{{ClassID: 0, Confidence: 0.9, BBoxPx: box(x, 10, x+10, 20)}}, 100, 100, now)
		if len(out) > 0 {
			if lastID == 0 {
				lastID = out[0].ID
			}
			assert.Equal(t, lastID, out[0].ID, "track id must remain stable across small motion")
		}
		x += 1
		now = now.Add(33 * time.Millisecond)
	}
}

func TestTracker_DeletesAfterMaxAge(t *testing.T) {
	cfg := config.Default().Tracking
	cfg.MaxAgeFrames = 2
	tr := New(cfg, 5)
	now := time.Now()

	for i := 0; i < 3; i++ {
		tr.Update([]Detection{{ClassID: 0, Confidence: 0.9, BBoxPx: box(10, 10, 20, 20)}}, 100, 100, now)
	}
	require.Len(t, tr.All(), 1)

	// three empty frames: time_since_update goes 1, 2, 3 > MaxAgeFrames(2)
	tr.Update(nil, 100, 100, now)
	tr.Update(nil, 100, 100, now)
	tr.Update(nil, 100, 100, now)

	assert.Empty(t, tr.All(), "track must be deleted once time_since_update exceeds max age")
}

func TestTracker_LowConfidenceDetectionUsesStricterIoU(t *testing.T) {
	cfg := config.Default().Tracking
	tr := New(cfg, 5)
	now := time.Now()

	for i := 0; i < 3; i++ {
		tr.Update([]Detection{{ClassID: 0, Confidence: 0.9, BBoxPx: box(10, 10, 20, 20)}}, 100, 100, now)
	}
	require.Len(t, tr.All(), 1)

	// Low confidence detection with IoU 1/3 against the track: enough for
	// the high-confidence threshold (0.3) but not the low one (0.4), so it
	// does not match and the track ages instead.
	tr.Update([]Detection{{ClassID: 0, Confidence: 0.3, BBoxPx: box(15, 10, 25, 20)}}, 100, 100, now)
	all := tr.All()
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].TimeSinceUpdate)
}

func TestTrack_VelocityZeroUntilTwoPositions(t *testing.T) {
	cfg := config.Default().Tracking
	tr := New(cfg, 5)
	now := time.Now()

	tr.Update([]Detection{{ClassID: 0, Confidence: 0.9, BBoxPx: box(10, 10, 20, 20)}}, 100, 100, now)
	all := tr.All()
	require.Len(t, all, 1)
	v := all[0].Velocity()
	assert.Equal(t, 0.0, v.X)
	assert.Equal(t, 0.0, v.Y)
}
