package score

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ocx/gatesupervisor/internal/config"
)

func TestCompute_BaseOnlyWhenNoInteractionObserved(t *testing.T) {
	cfg := config.Default().Score
	b := Compute(Inputs{MinCenterDistance: math.Inf(1), MaxIoU: 0, PoseReachCount: 0, SessionSeconds: 0}, cfg, 0.02)

	assert.Equal(t, 0.0, b.ContactConfidence)
	assert.Equal(t, 0.0, b.PoseConfidence)
	assert.InDelta(t, cfg.Base, b.Total, 1e-9)
}

func TestCompute_ContactConfidenceFromCenterDistance(t *testing.T) {
	cfg := config.Default().Score
	b := Compute(Inputs{MinCenterDistance: 0, MaxIoU: 0, PoseReachCount: 0, SessionSeconds: 0}, cfg, 0.02)

	assert.InDelta(t, 1.0, b.ContactConfidence, 1e-9)
	assert.InDelta(t, cfg.Base+cfg.ContactBonus, b.Total, 1e-9)
}

func TestCompute_ContactConfidenceFromIoU(t *testing.T) {
	cfg := config.Default().Score
	iouMin := 0.02
	b := Compute(Inputs{MinCenterDistance: math.Inf(1), MaxIoU: 3 * iouMin, PoseReachCount: 0, SessionSeconds: 0}, cfg, iouMin)

	assert.InDelta(t, 1.0, b.ContactConfidence, 1e-9)
}

func TestCompute_PoseConfidenceCapsAtTenReaches(t *testing.T) {
	cfg := config.Default().Score
	b := Compute(Inputs{MinCenterDistance: math.Inf(1), PoseReachCount: 20, SessionSeconds: 0}, cfg, 0.02)
	assert.Equal(t, 1.0, b.PoseConfidence)
}

func TestCompute_PersistTermCapsAtTenSeconds(t *testing.T) {
	cfg := config.Default().Score
	b1 := Compute(Inputs{MinCenterDistance: math.Inf(1), SessionSeconds: 5}, cfg, 0.02)
	b2 := Compute(Inputs{MinCenterDistance: math.Inf(1), SessionSeconds: 30}, cfg, 0.02)

	assert.InDelta(t, cfg.PersistBonus*0.5, b1.PersistTerm, 1e-9)
	assert.InDelta(t, cfg.PersistBonus, b2.PersistTerm, 1e-9)
}

func TestCompute_NeverExceedsOneOrGoesBelowZero(t *testing.T) {
	cfg := config.Default().Score
	b := Compute(Inputs{MinCenterDistance: 0, MaxIoU: 1, PoseReachCount: 100, SessionSeconds: 1000}, cfg, 0.02)
	assert.LessOrEqual(t, b.Total, 1.0)
	assert.GreaterOrEqual(t, b.Total, 0.0)
}
