package api

import (
	"context"
	"net/http"
	"time"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
)

const probeTimeout = 2 * time.Second

type statusResponse struct {
	Available         bool                `json:"available"`
	Detector          string              `json:"detector"`
	Features          map[string]bool     `json:"features"`
	SensitivityLevels []model.Sensitivity `json:"sensitivity_levels"`
	LiveStream        bool                `json:"live_stream"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	features := s.features(r)
	detector := "up"
	if !features["face_detection"] {
		detector = "down"
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Available:         true,
		Detector:          detector,
		Features:          features,
		SensitivityLevels: model.Sensitivities(),
		LiveStream:        s.live != nil,
	})
}

// features reports which checks can currently run. Client events never
// depend on the detector.
func (s *Server) features(r *http.Request) map[string]bool {
	up := s.detectorUp(r.Context())
	return map[string]bool{
		"face_detection":          up,
		"multiple_face_detection": up,
		"gaze_tracking":           up,
		"head_pose":               up,
		"person_verification":     up,
		"tab_switch_detection":    true,
	}
}

func (s *Server) detectorUp(ctx context.Context) bool {
	if s.prober == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := s.prober.Probe(ctx); err != nil {
		s.logger.Warn(ctx, "detector probe failed", logger.Error(err))
		return false
	}
	return true
}
