package model

import "context"

// Point is a pixel position in the frame, origin top-left, y down.
type Point struct {
	X float64 `json:"x" cbor:"x"`
	Y float64 `json:"y" cbor:"y"`
}

// Box is a face bounding box in frame-relative units (0..1).
type Box struct {
	X float64 `json:"x" cbor:"x"`
	Y float64 `json:"y" cbor:"y"`
	W float64 `json:"w" cbor:"w"`
	H float64 `json:"h" cbor:"h"`
}

// Face is one detector hit.
type Face struct {
	Box        Box     `json:"box" cbor:"box"`
	Confidence float64 `json:"confidence" cbor:"confidence"`
}

// Eye carries the corner and iris landmarks of one eye.
type Eye struct {
	Inner Point `json:"inner" cbor:"inner"`
	Outer Point `json:"outer" cbor:"outer"`
	Iris  Point `json:"iris" cbor:"iris"`
}

// Pose landmark order, matching the canonical 3D face model.
const (
	PoseNose = iota
	PoseChin
	PoseLeftEye
	PoseRightEye
	PoseLeftMouth
	PoseRightMouth
	PosePoints
)

// Landmarks describe the primary face.
type Landmarks struct {
	Pose     [PosePoints]Point `json:"pose" cbor:"pose"`
	LeftEye  Eye               `json:"left_eye" cbor:"left_eye"`
	RightEye Eye               `json:"right_eye" cbor:"right_eye"`
}

// Detection is the fixed-shape output of a Detection Provider for one frame.
type Detection struct {
	Width  int    `json:"width" cbor:"width"`
	Height int    `json:"height" cbor:"height"`
	Faces  []Face `json:"faces" cbor:"faces"`
	// Landmarks belong to the face with the highest confidence. Nil when absent.
	Landmarks *Landmarks `json:"landmarks,omitempty" cbor:"landmarks,omitempty"`
	// Embedding of the primary face, present only when requested.
	Embedding []float64 `json:"embedding,omitempty" cbor:"embedding,omitempty"`
}

// Frame is a validated, decoded image ready for detection.
type Frame struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// DetectionProvider wraps a face detector, landmark model and embedding network.
// Implementations must be safe to call from the single worker that owns them.
type DetectionProvider interface {
	Detect(ctx context.Context, frame Frame, wantEmbedding bool) (Detection, error)
}

// DetectRequest is an analysis job handed to the worker pool.
type DetectRequest struct {
	SessionID     string
	Image         []byte
	WantEmbedding bool
	// Reply receives exactly one response. Must be buffered.
	Reply chan DetectResponse
}

// DetectResponse is the worker's answer to a DetectRequest.
type DetectResponse struct {
	Detection Detection
	Err       error
}
