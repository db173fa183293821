package realtime

import (
	"strings"

	"github.com/okian/proctor/pkg/logger"
)

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithBridge relays notices through b.
func WithBridge(b Bridge) Option {
	return func(h *Hub) {
		h.bridge = b
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithAllowedOrigins lists the browser origins ("https://exam.example.com")
// allowed to open live streams. "*" allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(h *Hub) {
		for _, o := range origins {
			o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
			if o != "" {
				h.origins = append(h.origins, o)
			}
		}
	}
}
