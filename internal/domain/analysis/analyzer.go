// Package analysis turns one detection into the signals the violation
// tracker consumes. Everything here is pure: identical inputs always produce
// identical observations.
package analysis

import (
	"github.com/okian/proctor/internal/domain/model"
)

// Centered-face window in frame-relative units.
const (
	centerMinX = 0.3
	centerMaxX = 0.7
	centerMinY = 0.2
	centerMaxY = 0.8
)

// Input bundles what Analyze needs for one frame.
type Input struct {
	Detection model.Detection
	Profile   model.Profile
	// Reference is the enrolled embedding. Nil disables identity checks.
	Reference []float64
	// WantIdentity asks for an identity comparison on this frame.
	WantIdentity bool
}

// Analyze computes face presence, gaze bucket, head pose and identity
// similarity for one frame.
func Analyze(in Input) model.Observation {
	var obs model.Observation

	count, primary := CountFaces(in.Detection.Faces, in.Profile.FaceConfidence)
	obs.FaceCount = count
	if count == 0 {
		return obs
	}
	obs.PrimaryConfidence = primary.Confidence
	obs.FaceCentered = IsCentered(primary.Box)

	if lm := in.Detection.Landmarks; lm != nil {
		obs.Gaze, obs.GazeRatio = GazeBucket(*lm)
		if pose, err := EstimateHeadPose(lm.Pose, in.Detection.Width, in.Detection.Height); err == nil {
			obs.HeadPose = &pose
			obs.HeadAway = IsTurnedAway(pose, in.Profile.HeadPoseDegrees)
		}
	}

	if in.WantIdentity && len(in.Reference) > 0 && len(in.Detection.Embedding) > 0 {
		if sim, err := CosineSimilarity(in.Detection.Embedding, in.Reference); err == nil {
			obs.Identity = &model.IdentityCheck{Similarity: sim, Match: Matches(sim)}
		}
	}
	return obs
}

// CountFaces returns the number of faces at or above minConfidence and the
// most confident of them.
func CountFaces(faces []model.Face, minConfidence float64) (int, model.Face) {
	var (
		n       int
		primary model.Face
	)
	for _, f := range faces {
		if f.Confidence < minConfidence {
			continue
		}
		if n == 0 || f.Confidence > primary.Confidence {
			primary = f
		}
		n++
	}
	return n, primary
}

// IsCentered reports whether the box center lies in the central window.
func IsCentered(b model.Box) bool {
	cx := b.X + b.W/2
	cy := b.Y + b.H/2
	return cx >= centerMinX && cx <= centerMaxX && cy >= centerMinY && cy <= centerMaxY
}
