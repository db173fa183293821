package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/session"
	"github.com/okian/proctor/pkg/logger"
)

const (
	startBodyLimit    = 16 << 10
	multipartOverhead = 64 << 10
)

// startRequest creates a session. RequireReference keeps it in created until
// a reference is enrolled or begin is called.
type startRequest struct {
	Sensitivity      string      `json:"sensitivity"`
	InterviewRef     string      `json:"interview_ref"`
	InterviewID      json.Number `json:"interview_id"`
	RequireReference bool        `json:"require_reference"`
}

type startResponse struct {
	model.SessionInfo
	Status            string          `json:"status"`
	FeaturesAvailable map[string]bool `json:"features_available"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(w, r, startBodyLimit, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Sensitivity) == "" {
		req.Sensitivity = string(model.SensitivityMedium)
	}
	ref := req.InterviewRef
	if ref == "" {
		ref = req.InterviewID.String()
	}

	info, err := s.proctor.Create(r.Context(), session.CreateRequest{
		Sensitivity:  req.Sensitivity,
		InterviewRef: ref,
		Begin:        !req.RequireReference,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := "monitoring"
	if info.State == model.StateCreated {
		status = "awaiting_reference"
	}
	s.logger.Info(r.Context(), "session started", logger.SessionID(info.SessionID), logger.String("status", status))
	writeJSON(w, http.StatusCreated, startResponse{
		SessionInfo:       info,
		Status:            status,
		FeaturesAvailable: s.features(r),
	})
}

func (s *Server) handleReference(w http.ResponseWriter, r *http.Request) {
	image, err := s.readPhoto(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	info, err := s.proctor.SetReference(r.Context(), r.PathValue("id"), image)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// readPhoto accepts a multipart "photo" field or the raw request body.
func (s *Server) readPhoto(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := int64(s.maxFrameBytes)
	body := http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var src io.Reader = body
	if strings.HasPrefix(mediaType, "multipart/") {
		r.Body = body
		if err := r.ParseMultipartForm(limit); err != nil {
			return nil, s.sizeOr(err, "parse multipart")
		}
		f, _, err := r.FormFile("photo")
		if err != nil {
			return nil, fmt.Errorf("%w: missing photo field: %w", ErrBadRequest, err)
		}
		defer f.Close()
		src = f
	}

	data, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		return nil, s.sizeOr(err, "read photo")
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: photo exceeds %d bytes", ErrFrameTooLarge, limit)
	}
	return data, nil
}

func (s *Server) sizeOr(err error, op string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: %s: body exceeds %d bytes", ErrFrameTooLarge, op, s.maxFrameBytes)
	}
	return fmt.Errorf("%w: %s: %w", ErrBadRequest, op, err)
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	info, err := s.proctor.Begin(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	report, err := s.proctor.End(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.proctor.Report(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
