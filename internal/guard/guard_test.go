package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gatesupervisor/internal/config"
	"github.com/ocx/gatesupervisor/internal/geometry"
)

func testCfg() config.GuardConfig {
	return config.Default().Guard
}

func TestClassifier_PromotesAfterContinuousAnchorPresence(t *testing.T) {
	cfg := testCfg()
	c := New(cfg)
	now := time.Now()

	var last Result
	step := 500 * time.Millisecond
	for elapsed := time.Duration(0); elapsed <= cfg.GuardReady; elapsed += step {
		last = c.Update(1, true, false, now.Add(elapsed))
	}

	assert.True(t, last.IsGuard)
	assert.True(t, last.Qualified)
}

func TestClassifier_NotPromotedBeforeGuardReady(t *testing.T) {
	cfg := testCfg()
	c := New(cfg)
	now := time.Now()

	r := c.Update(1, true, false, now)
	assert.False(t, r.IsGuard)

	r = c.Update(1, true, false, now.Add(cfg.GuardReady/2))
	assert.False(t, r.IsGuard)
}

func TestClassifier_MobilePatternPromotes(t *testing.T) {
	cfg := testCfg()
	c := New(cfg)
	now := time.Now()

	// Two short anchor visits plus one gate visit within 10s, each visit
	// too short on its own to satisfy continuous GUARD_READY presence.
	c.Update(1, true, false, now)
	c.Update(1, false, false, now.Add(200*time.Millisecond))
	c.Update(1, false, true, now.Add(400*time.Millisecond))
	c.Update(1, false, false, now.Add(600*time.Millisecond))
	r := c.Update(1, true, false, now.Add(800*time.Millisecond))

	assert.True(t, r.IsGuard)
}

func TestClassifier_DequalifiesAfterTVacate(t *testing.T) {
	cfg := testCfg()
	c := New(cfg)
	now := time.Now()

	step := 500 * time.Millisecond
	for elapsed := time.Duration(0); elapsed <= cfg.GuardReady; elapsed += step {
		c.Update(1, true, false, now.Add(elapsed))
	}
	base := now.Add(cfg.GuardReady)

	r := c.Update(1, false, false, base.Add(cfg.TVacate/2))
	require.True(t, r.IsGuard)
	assert.False(t, r.Dequalified)

	// outOfAnchorSince was set at base+TVacate/2; dequalification needs a
	// full TVacate to elapse since then.
	r = c.Update(1, false, false, base.Add(cfg.TVacate/2+cfg.TVacate+time.Millisecond))
	assert.True(t, r.IsGuard)
	assert.True(t, r.Dequalified)
	assert.False(t, r.Qualified)
}

func TestClassifier_StrictAnchorRequiresCurrentlyInAnchor(t *testing.T) {
	cfg := testCfg()
	cfg.AnchorLogic = config.AnchorLogicStrict
	c := New(cfg)
	now := time.Now()

	step := 500 * time.Millisecond
	for elapsed := time.Duration(0); elapsed <= cfg.GuardReady; elapsed += step {
		c.Update(1, true, false, now.Add(elapsed))
	}
	base := now.Add(cfg.GuardReady)

	r := c.Update(1, false, true, base.Add(time.Millisecond))
	assert.True(t, r.IsGuard)
	assert.False(t, r.Qualified, "strict_anchor requires currently in anchor")
}

func TestClassifier_StrictAnchorQualifiesWhileContinuouslyPresent(t *testing.T) {
	cfg := testCfg()
	cfg.AnchorLogic = config.AnchorLogicStrict
	c := New(cfg)
	now := time.Now()

	step := 500 * time.Millisecond
	var last Result
	for elapsed := time.Duration(0); elapsed <= cfg.GuardReady; elapsed += step {
		last = c.Update(1, true, false, now.Add(elapsed))
	}

	assert.True(t, last.IsGuard)
	assert.True(t, last.Qualified, "strict_anchor must qualify a guard who has dwelled GUARD_READY and is still in anchor")
}

func TestClassifier_NoAnchorAlwaysQualifiesExistingGuard(t *testing.T) {
	cfg := testCfg()
	cfg.AnchorLogic = config.AnchorLogicNone
	c := New(cfg)
	now := time.Now()

	step := 500 * time.Millisecond
	for elapsed := time.Duration(0); elapsed <= cfg.GuardReady; elapsed += step {
		c.Update(1, true, false, now.Add(elapsed))
	}
	base := now.Add(cfg.GuardReady)

	r := c.Update(1, false, false, base.Add(time.Millisecond))
	assert.True(t, r.Qualified)
}

func TestClassifier_DowngradesToPersonAfter30sNoAnchorActivity(t *testing.T) {
	cfg := testCfg()
	c := New(cfg)
	now := time.Now()

	step := 500 * time.Millisecond
	for elapsed := time.Duration(0); elapsed <= cfg.GuardReady; elapsed += step {
		c.Update(1, true, false, now.Add(elapsed))
	}
	base := now.Add(cfg.GuardReady)

	// Stay out of anchor and gate for >30s straight.
	var last Result
	for elapsed := cfg.TVacate + time.Second; elapsed <= 31*time.Second; elapsed += time.Second {
		last = c.Update(1, false, false, base.Add(elapsed))
		if last.Downgraded {
			break
		}
	}

	assert.True(t, last.Downgraded)
	assert.False(t, last.IsGuard)
}

func TestSelectGuard_PicksNearestWithIDTiebreak(t *testing.T) {
	candidates := []Candidate{
		{GuardID: 2, Center: geometry.Point{X: 0.5, Y: 0.5}},
		{GuardID: 1, Center: geometry.Point{X: 0.5, Y: 0.5}},
		{GuardID: 3, Center: geometry.Point{X: 0.9, Y: 0.9}},
	}
	id, ok := SelectGuard(candidates, geometry.Point{X: 0.5, Y: 0.5})
	require.True(t, ok)
	assert.Equal(t, uint64(1), id, "equal distance ties broken by lower guard_id")
}

func TestSelectGuard_EmptyCandidates(t *testing.T) {
	_, ok := SelectGuard(nil, geometry.Point{})
	assert.False(t, ok)
}
