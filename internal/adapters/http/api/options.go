package api

import (
	"net/http"

	"github.com/okian/proctor/pkg/logger"
)

// Option configures the Server.
type Option func(*Server)

// WithLive serves the websocket stream through l.
func WithLive(l LiveServer) Option {
	return func(s *Server) {
		s.live = l
	}
}

// WithProber reports detector health on the status endpoint.
func WithProber(p Prober) Option {
	return func(s *Server) {
		s.prober = p
	}
}

// WithGuard wraps every /proctoring route, typically with token validation.
func WithGuard(g func(http.Handler) http.Handler) Option {
	return func(s *Server) {
		s.guard = g
	}
}

// WithMaxFrameBytes bounds decoded frame and reference sizes.
func WithMaxFrameBytes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxFrameBytes = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
