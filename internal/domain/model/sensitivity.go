package model

import (
	"fmt"
	"strings"
)

// Sensitivity selects the threshold profile of a session. Fixed at creation.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// Thresholds shared by every sensitivity level.
const (
	// LookingAwayFrames is the consecutive off-center gaze tolerance.
	LookingAwayFrames = 20
	// GazeLeftBound and GazeRightBound split the normalized iris position.
	GazeLeftBound  = 0.35
	GazeRightBound = 0.65
	// IdentityMatchThreshold: a face matches the reference iff similarity is strictly above it.
	IdentityMatchThreshold = 0.6
)

// Profile is the bundle of thresholds a Sensitivity stands for.
type Profile struct {
	// FaceConfidence is the minimum detector confidence for a box to count as a face.
	FaceConfidence float64
	// HeadPoseDegrees bounds |yaw| and |pitch| before a pose counts as turned away.
	HeadPoseDegrees float64
	// NoFaceFrames is the consecutive face-absent tolerance.
	NoFaceFrames int
	// HeadPoseFrames is the consecutive turned-away tolerance.
	HeadPoseFrames int
}

var profiles = map[Sensitivity]Profile{
	SensitivityLow:    {FaceConfidence: 0.7, HeadPoseDegrees: 40, NoFaceFrames: 60, HeadPoseFrames: 30},
	SensitivityMedium: {FaceConfidence: 0.6, HeadPoseDegrees: 30, NoFaceFrames: 30, HeadPoseFrames: 20},
	SensitivityHigh:   {FaceConfidence: 0.5, HeadPoseDegrees: 25, NoFaceFrames: 15, HeadPoseFrames: 10},
}

// ParseSensitivity accepts the level names case-insensitively.
func ParseSensitivity(s string) (Sensitivity, error) {
	v := Sensitivity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := profiles[v]; !ok {
		return "", fmt.Errorf("%w: sensitivity %q", ErrUnknownValue, s)
	}
	return v, nil
}

// Valid reports whether s is one of the three recognized levels.
func (s Sensitivity) Valid() bool {
	_, ok := profiles[s]
	return ok
}

// Profile returns the thresholds for s. Unknown values yield the zero Profile.
func (s Sensitivity) Profile() Profile {
	return profiles[s]
}

// Sensitivities lists the recognized levels from least to most strict.
func Sensitivities() []Sensitivity {
	return []Sensitivity{SensitivityLow, SensitivityMedium, SensitivityHigh}
}
