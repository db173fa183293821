// Package scoring reduces a session's counters and violations into an
// integrity score and recommendation band.
package scoring

import (
	"math"

	"github.com/okian/proctor/internal/domain/model"
)

const (
	maxScore          = 100
	visibilityFloor   = 95 // percent of frames with a face before a penalty applies
	visibilityWeight  = 0.5
	attentionFloor    = 90 // percent attentive before a penalty applies
	attentionWeight   = 0.3
	passedBand        = 90
	passedNotesBand   = 70
	flaggedBand       = 50
	scoreRoundingUnit = 100
)

// Input abstracts the session state needed for scoring.
type Input struct {
	FramesSeen     int
	FramesWithFace int
	Violations     []model.Violation
}

// Result is the reduction of an Input.
type Result struct {
	Metrics        model.Metrics
	Counts         map[model.Kind]int
	Total          int
	Critical       int
	Recommendation model.Recommendation
	ReviewRequired bool
}

// Score computes the integrity score. It has no side effects and gives the
// same Result for the same Input at any point in a session.
func Score(in Input) Result {
	res := Result{Counts: make(map[model.Kind]int), Total: len(in.Violations)}

	var penalty float64
	lookingAway := 0
	for _, v := range in.Violations {
		res.Counts[v.Kind]++
		penalty += v.Severity.Penalty()
		if v.Severity == model.SeverityCritical {
			res.Critical++
		}
		if v.Kind == model.KindLookingAway {
			lookingAway++
		}
	}

	// Percentages come from integer counts so equal counts give equal floats.
	var visibilityPct float64
	if in.FramesSeen > 0 {
		visibilityPct = float64(in.FramesWithFace*100) / float64(in.FramesSeen)
	}
	attentionPct := 100 - float64(lookingAway*100)/float64(max(in.FramesSeen, 1))

	score := float64(maxScore) -
		math.Max(0, visibilityFloor-visibilityPct)*visibilityWeight -
		math.Max(0, attentionFloor-attentionPct)*attentionWeight -
		penalty
	score = clamp(score, 0, maxScore)

	res.Metrics = model.Metrics{
		FaceVisibilityRatio: visibilityPct / 100,
		AttentionRatio:      attentionPct / 100,
		IntegrityScore:      math.Round(score*scoreRoundingUnit) / scoreRoundingUnit,
	}
	// Banding uses the exact score; rounding is for display only.
	res.Recommendation = Recommend(score)
	res.ReviewRequired = res.Critical > 0
	return res
}

// Recommend maps a score onto its band.
func Recommend(score float64) model.Recommendation {
	switch {
	case score >= passedBand:
		return model.RecommendationPassed
	case score >= passedNotesBand:
		return model.RecommendationPassedWithNotes
	case score >= flaggedBand:
		return model.RecommendationFlagged
	default:
		return model.RecommendationFailed
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
