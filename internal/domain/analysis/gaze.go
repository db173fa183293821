package analysis

import (
	"math"

	"github.com/okian/proctor/internal/domain/model"
)

// EyeRatio is the iris position across one eye: 0 at the leftmost corner,
// 1 at the rightmost. A zero-width eye reads as centered.
func EyeRatio(e model.Eye) float64 {
	left := math.Min(e.Inner.X, e.Outer.X)
	width := math.Abs(e.Outer.X - e.Inner.X)
	if width == 0 {
		return 0.5
	}
	return (e.Iris.X - left) / width
}

// GazeBucket averages both eyes and buckets the result.
func GazeBucket(lm model.Landmarks) (model.Gaze, float64) {
	ratio := (EyeRatio(lm.LeftEye) + EyeRatio(lm.RightEye)) / 2
	switch {
	case ratio < model.GazeLeftBound:
		return model.GazeLeft, ratio
	case ratio > model.GazeRightBound:
		return model.GazeRight, ratio
	default:
		return model.GazeCenter, ratio
	}
}
