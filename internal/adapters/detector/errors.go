package detector

import "errors"

// Sentinel kinds for detection providers.
var (
	ErrUnavailable = errors.New("detection provider not configured")
	ErrSidecar     = errors.New("detection sidecar error")
	ErrFrameSize   = errors.New("frame dimensions out of range")
)
