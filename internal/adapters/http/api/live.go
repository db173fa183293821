package api

import (
	"net/http"

	"github.com/okian/proctor/pkg/logger"
)

// handleLive upgrades to a websocket that streams the session's notices.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.proctor.Info(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	if s.live == nil {
		s.fail(w, r, ErrUnavailable)
		return
	}
	if err := s.live.Serve(w, r, id); err != nil {
		// The upgrader has already written the failure response.
		s.logger.Warn(r.Context(), "live upgrade failed", logger.SessionID(id), logger.Error(err))
	}
}
