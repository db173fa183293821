package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/proctor/internal/domain/session"
)

const eventBodyLimit = 16 << 10

type eventRequest struct {
	SessionID string `json:"session_id"`
	EventType string `json:"event_type"`
	Detail    string `json:"detail"`
	EventID   string `json:"event_id"`
}

func (e eventRequest) validate() error {
	switch {
	case strings.TrimSpace(e.SessionID) == "":
		return fmt.Errorf("%w: missing session_id", ErrBadRequest)
	case strings.TrimSpace(e.EventType) == "":
		return fmt.Errorf("%w: missing event_type", ErrBadRequest)
	}
	return nil
}

// handleEvent serves both /proctoring/event and the legacy /proctoring/tab-switch.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(w, r, eventBodyLimit, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.proctor.SubmitEvent(r.Context(), session.EventRequest{
		SessionID: req.SessionID,
		EventType: req.EventType,
		Detail:    req.Detail,
		EventID:   req.EventID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
