package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/proctor/internal/domain/session"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrFrameTooLarge = errors.New("frame too large")
	ErrUnavailable   = errors.New("live stream unavailable")
)

// statusClientClosed is written when the caller went away mid-request.
const statusClientClosed = 499

// apiError is a mapped failure: HTTP status plus the stable code clients switch on.
type apiError struct {
	status int
	code   string
}

// errorTable is checked in order; the first matching sentinel wins.
var errorTable = []struct {
	target error
	apiError
}{
	{session.ErrNotFound, apiError{http.StatusNotFound, "not_found"}},
	{session.ErrInvalidConfig, apiError{http.StatusBadRequest, "invalid_config"}},
	{session.ErrDecode, apiError{http.StatusBadRequest, "decode_error"}},
	{session.ErrInvalidEvent, apiError{http.StatusBadRequest, "invalid_event"}},
	{ErrBadRequest, apiError{http.StatusBadRequest, "bad_request"}},
	{ErrFrameTooLarge, apiError{http.StatusRequestEntityTooLarge, "frame_too_large"}},
	{session.ErrSessionNotActive, apiError{http.StatusConflict, "session_not_active"}},
	{session.ErrSessionNotStarted, apiError{http.StatusConflict, "session_not_started"}},
	{session.ErrReferenceAlreadySet, apiError{http.StatusConflict, "reference_already_set"}},
	{session.ErrNoFaceInReference, apiError{http.StatusUnprocessableEntity, "no_face_in_reference"}},
	{session.ErrMultipleFacesInReference, apiError{http.StatusUnprocessableEntity, "multiple_faces_in_reference"}},
	{session.ErrBusy, apiError{http.StatusTooManyRequests, "busy"}},
	{session.ErrDetectorFailure, apiError{http.StatusBadGateway, "detector_failure"}},
	{ErrUnavailable, apiError{http.StatusServiceUnavailable, "unavailable"}},
	{context.Canceled, apiError{statusClientClosed, "client_closed"}},
}

func classify(err error) apiError {
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			return e.apiError
		}
	}
	return apiError{http.StatusInternalServerError, "internal"}
}
