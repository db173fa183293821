package session

import "errors"

// Sentinel kinds for session operations. Transports map these onto their
// own status codes.
var (
	ErrInvalidConfig            = errors.New("invalid session configuration")
	ErrNotFound                 = errors.New("session not found")
	ErrSessionNotActive         = errors.New("session not active")
	ErrSessionNotStarted        = errors.New("session not started")
	ErrDecode                   = errors.New("image decode error")
	ErrNoFaceInReference        = errors.New("no face in reference image")
	ErrMultipleFacesInReference = errors.New("multiple faces in reference image")
	ErrReferenceAlreadySet      = errors.New("reference already set")
	ErrBusy                     = errors.New("analysis capacity exhausted")
	ErrDetectorFailure          = errors.New("detection provider failure")
	ErrInvalidEvent             = errors.New("invalid client event")
)
