package service

import (
	"time"

	workerpool "github.com/okian/proctor/internal/adapters/mq/worker"
	"github.com/okian/proctor/internal/domain/session"
	"github.com/okian/proctor/pkg/clock"
	"github.com/okian/proctor/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of analysis workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the analysis queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many frame and event ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithShardCount sets the number of session registry shards.
func WithShardCount(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.shardCount = n
		}
	}
}

// WithIdentityInterval re-verifies identity every n frames; 0 disables.
func WithIdentityInterval(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.identityInterval = n
		}
	}
}

// WithAnalysisTimeout bounds one frame's round trip through the pool.
func WithAnalysisTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.analysisTimeout = d
		}
	}
}

// WithRetention keeps ended sessions queryable for d.
func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithSweepInterval sets how often ended sessions are evicted.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithDetector analyzes frames through the inference sidecar at url.
func WithDetector(url string, timeout time.Duration) Option {
	return func(s *Service) {
		s.detectorURL = url
		if timeout > 0 {
			s.detectorTimeout = timeout
		}
	}
}

// WithProviderFactory replaces how worker providers are built.
func WithProviderFactory(f workerpool.ProviderFactory) Option {
	return func(s *Service) {
		if f != nil {
			s.factory = f
		}
	}
}

// WithPublisher streams notices to live subscribers.
func WithPublisher(p session.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithArchiver persists ended sessions.
func WithArchiver(a session.Archiver) Option {
	return func(s *Service) {
		s.archiver = a
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
