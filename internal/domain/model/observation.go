package model

// Gaze is the horizontal gaze bucket of the primary face.
type Gaze string

const (
	GazeUnknown Gaze = ""
	GazeLeft    Gaze = "left"
	GazeCenter  Gaze = "center"
	GazeRight   Gaze = "right"
)

// HeadPose holds Euler angles in degrees relative to a camera-facing head.
type HeadPose struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// IdentityCheck is the outcome of comparing a frame embedding to the reference.
type IdentityCheck struct {
	Similarity float64 `json:"similarity"`
	Match      bool    `json:"match"`
}

// Observation is the per-frame signal set produced by the analyzer.
type Observation struct {
	FaceCount         int
	PrimaryConfidence float64
	FaceCentered      bool
	Gaze              Gaze
	// GazeRatio is the averaged normalized iris position, 0.5 is center.
	GazeRatio float64
	HeadPose  *HeadPose
	HeadAway  bool
	Identity  *IdentityCheck
	// DetectorFailed marks a frame with no usable detection.
	DetectorFailed bool
}

// FacePresent reports whether at least one face passed the confidence filter.
func (o Observation) FacePresent() bool { return o.FaceCount > 0 }
