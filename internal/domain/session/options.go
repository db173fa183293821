package session

import (
	"time"

	"github.com/okian/proctor/internal/domain/dedupe"
	"github.com/okian/proctor/pkg/clock"
	"github.com/okian/proctor/pkg/logger"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithDeduper replaces the default in-memory request ID tracker.
func WithDeduper(d dedupe.Deduper) Option {
	return func(m *Manager) {
		if d != nil {
			m.deduper = d
		}
	}
}

// WithPublisher streams violations and end notices to live subscribers.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithArchiver persists ended sessions in the background.
func WithArchiver(a Archiver) Option {
	return func(m *Manager) {
		m.archiver = a
	}
}

// WithClock sets the time source for timestamps.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithIDGenerator replaces uuid-based session IDs.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// WithIdentityInterval schedules an identity check every n frames. Zero
// leaves identity checks to the client's verify flag.
func WithIdentityInterval(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.identityInterval = n
		}
	}
}

// WithAnalysisTimeout bounds the wait for one detection, queue time
// included. Keep it above the workers' detect timeout so a slow provider is
// reported by the worker rather than read as a full pool.
func WithAnalysisTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.analysisTimeout = d
		}
	}
}

// WithArchiveTimeout bounds one background archive upload.
func WithArchiveTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.archiveTimeout = d
		}
	}
}
