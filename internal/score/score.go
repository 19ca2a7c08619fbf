// Package score implements ScoreEngine (§4.9): the explainable
// contact/pose/persistence score PersonFSM checks against SCORE_THRESHOLD.
//
// Grounded on the retrieval pack's escrow risk-scoring pattern
// (Generativebots-ocx-backend-go-svc/internal/escrow's additive,
// independently-attributable bonus terms) — the same closed-form,
// audit-friendly shape applied here to examination confidence instead
// of escrow risk.
package score

import (
	"math"

	"github.com/ocx/gatesupervisor/internal/config"
)

// Inputs are the running per-session metrics the score is derived from.
type Inputs struct {
	MinCenterDistance float64 // +Inf if no contact ever observed
	MaxIoU            float64
	PoseReachCount    int
	SessionSeconds    float64
}

// Breakdown is the fully-attributed score: each term is independently
// computable so an audit can explain why a score crossed the threshold.
type Breakdown struct {
	Base              float64
	ContactConfidence float64
	ContactTerm       float64
	PoseConfidence    float64
	PoseTerm          float64
	PersistTerm       float64
	Total             float64
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Compute derives the explainable score (§4.9). iouMin is the group/contact
// IOU_MIN knob the contact_confidence term is scaled against (3·IOU_MIN).
func Compute(in Inputs, cfg config.ScoreConfig, iouMin float64) Breakdown {
	b := Breakdown{Base: cfg.Base}

	contactConfidence := 0.0
	if !math.IsInf(in.MinCenterDistance, 1) || in.MaxIoU > 0 {
		distConf := clamp01(1 - in.MinCenterDistance/cfg.CenterDistScale)
		iouConf := 0.0
		if iouMin > 0 {
			iouConf = clamp01(in.MaxIoU / (3 * iouMin))
		}
		contactConfidence = math.Max(distConf, iouConf)
	}
	b.ContactConfidence = contactConfidence
	b.ContactTerm = cfg.ContactBonus * contactConfidence

	poseConfidence := math.Min(1, float64(in.PoseReachCount)/10)
	b.PoseConfidence = poseConfidence
	b.PoseTerm = cfg.PoseBonus * poseConfidence

	b.PersistTerm = cfg.PersistBonus * math.Min(1, in.SessionSeconds/10)

	total := b.Base + b.ContactTerm + b.PoseTerm + b.PersistTerm
	b.Total = clamp01(total)
	return b
}
