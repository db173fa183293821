// Package api exposes the proctoring engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/session"
	"github.com/okian/proctor/pkg/logger"
)

// defaultMaxFrameBytes bounds the decoded size of a single frame or reference photo.
const defaultMaxFrameBytes = 4 << 20

// Proctor is the session engine behind the handlers.
type Proctor interface {
	Create(ctx context.Context, req session.CreateRequest) (model.SessionInfo, error)
	Info(ctx context.Context, id string) (model.SessionInfo, error)
	Begin(ctx context.Context, id string) (model.SessionInfo, error)
	SetReference(ctx context.Context, id string, image []byte) (model.SessionInfo, error)
	SubmitFrame(ctx context.Context, req session.FrameRequest) (model.FrameResult, error)
	SubmitEvent(ctx context.Context, req session.EventRequest) (model.EventResult, error)
	End(ctx context.Context, id string) (model.Report, error)
	Report(ctx context.Context, id string) (model.Report, error)
}

// LiveServer upgrades a request into a per-session notice stream.
type LiveServer interface {
	Serve(w http.ResponseWriter, r *http.Request, sessionID string) error
}

// Prober reports whether the detection backend is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Server wires HTTP routes for the proctoring API.
type Server struct {
	proctor       Proctor
	live          LiveServer
	prober        Prober
	guard         func(http.Handler) http.Handler
	maxFrameBytes int
	logger        logger.Logger

	healthHandler *HealthHandler
	statsHandler  *StatsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(proctor Proctor, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		proctor:       proctor,
		maxFrameBytes: defaultMaxFrameBytes,
		logger:        logger.Get().Named("api"),
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	s.handle(mux, "GET /proctoring/status", "status", s.handleStatus)
	s.handle(mux, "POST /proctoring/session/start", "session_start", s.handleStart)
	s.handle(mux, "POST /proctoring/session/{id}/reference", "session_reference", s.handleReference)
	s.handle(mux, "POST /proctoring/session/{id}/begin", "session_begin", s.handleBegin)
	s.handle(mux, "POST /proctoring/session/{id}/end", "session_end", s.handleEnd)
	s.handle(mux, "GET /proctoring/session/{id}/report", "session_report", s.handleReport)
	s.handle(mux, "GET /proctoring/session/{id}/live", "session_live", s.handleLive)
	s.handle(mux, "POST /proctoring/analyze-frame", "analyze_frame", s.handleFrame)
	s.handle(mux, "POST /proctoring/event", "event", s.handleEvent)
	s.handle(mux, "POST /proctoring/tab-switch", "tab_switch", s.handleEvent)
}

func (s *Server) handle(mux *http.ServeMux, pattern, endpoint string, h http.HandlerFunc) {
	var next http.Handler = h
	if s.guard != nil {
		next = s.guard(next)
	}
	mux.HandleFunc(pattern, MetricsMiddleware(next.ServeHTTP, endpoint))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	if rw, ok := w.(*responseWriter); ok {
		rw.code = code
	}
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// fail maps err onto the error table and logs server-side failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.String("code", e.code),
			logger.Error(err))
	}
	writeError(w, e.status, e.code, err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: body exceeds %d bytes", ErrFrameTooLarge, tooLarge.Limit)
		}
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}
