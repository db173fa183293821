package model

// FrameResult is the response to one submitted frame.
type FrameResult struct {
	FrameNumber    int         `json:"frame_number"`
	FaceDetected   bool        `json:"face_detected"`
	FaceCount      int         `json:"face_count"`
	FaceCentered   bool        `json:"face_centered"`
	Gaze           Gaze        `json:"gaze,omitempty"`
	HeadPose       *HeadPose   `json:"head_pose,omitempty"`
	PersonVerified *bool       `json:"person_verified,omitempty"`
	Violations     []Violation `json:"violations"`
	Alerts         []string    `json:"alerts"`
	Duplicate      bool        `json:"duplicate,omitempty"`
}

// EventResult is the response to one client-reported event.
type EventResult struct {
	Violation *Violation `json:"violation,omitempty"`
	Duplicate bool       `json:"duplicate,omitempty"`
}
