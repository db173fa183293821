package model

import "errors"

// Sentinel kinds for model parsing and detection.
var (
	ErrUnknownValue = errors.New("unknown value")
	// ErrImageDecode marks a payload that is not a decodable image.
	ErrImageDecode = errors.New("image decode failed")
	// ErrDetector marks a detection provider error or timeout.
	ErrDetector = errors.New("detection provider failed")
	// ErrNotAnalyzed marks a job that left the pool without reaching the
	// provider, e.g. during shutdown. The frame carries no observation.
	ErrNotAnalyzed = errors.New("frame not analyzed")
)
