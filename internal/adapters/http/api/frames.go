package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/proctor/internal/domain/session"
)

type frameRequest struct {
	SessionID    string `json:"session_id"`
	Frame        string `json:"frame"`
	VerifyPerson bool   `json:"verify_person"`
	FrameID      string `json:"frame_id"`
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	var req frameRequest
	limit := int64(base64.StdEncoding.EncodedLen(s.maxFrameBytes)) + multipartOverhead
	if err := decodeJSON(w, r, limit, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		s.fail(w, r, fmt.Errorf("%w: missing session_id", ErrBadRequest))
		return
	}
	image, err := s.decodeFrame(req.Frame)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.proctor.SubmitFrame(r.Context(), session.FrameRequest{
		SessionID:    req.SessionID,
		Image:        image,
		VerifyPerson: req.VerifyPerson,
		FrameID:      req.FrameID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decodeFrame accepts bare base64 or a data URL such as
// "data:image/jpeg;base64,...".
func (s *Server) decodeFrame(frame string) ([]byte, error) {
	payload := strings.TrimSpace(frame)
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 || !strings.HasSuffix(payload[:comma], ";base64") {
			return nil, fmt.Errorf("%w: malformed data url", session.ErrDecode)
		}
		payload = payload[comma+1:]
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > s.maxFrameBytes+2 {
		return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrFrameTooLarge, s.maxFrameBytes)
	}
	image, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %w", session.ErrDecode, err)
	}
	return image, nil
}
