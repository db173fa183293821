// Package service assembles the proctoring engine: session registry,
// analysis queue, worker pool and session manager.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/proctor/internal/adapters/detector"
	"github.com/okian/proctor/internal/adapters/mq/queue"
	workerpool "github.com/okian/proctor/internal/adapters/mq/worker"
	"github.com/okian/proctor/internal/adapters/repository"
	"github.com/okian/proctor/internal/domain/dedupe"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/session"
	"github.com/okian/proctor/pkg/clock"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

// ErrNotStarted is returned by accessors used before Start.
var ErrNotStarted = errors.New("service not started")

// prober is implemented by providers that can report their own health.
type prober interface {
	Probe(ctx context.Context) error
}

// Service owns the engine's components and their lifecycle.
type Service struct {
	mu sync.RWMutex

	// Configuration
	workerCount      int
	queueSize        int
	dedupeSize       int
	shardCount       int
	identityInterval int
	analysisTimeout  time.Duration
	retention        time.Duration
	sweepInterval    time.Duration
	detectorURL      string
	detectorTimeout  time.Duration
	factory          workerpool.ProviderFactory
	publisher        session.Publisher
	archiver         session.Archiver
	clock            clock.Clock

	// Components
	store   *repository.ShardedStore[*session.Session]
	queue   *queue.InMemoryQueue
	pool    *workerpool.Pool
	manager *session.Manager
	probe   prober

	// State
	started bool
	cancel  context.CancelFunc
	swept   chan struct{}

	logger logger.Logger
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:      runtime.NumCPU(),
		queueSize:        1024,
		dedupeSize:       50_000,
		shardCount:       64,
		identityInterval: 30,
		analysisTimeout:  5 * time.Second,
		retention:        time.Hour,
		sweepInterval:    time.Minute,
		detectorTimeout:  3 * time.Second,
		clock:            clock.Real(),
		logger:           logger.Get().Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components and launches the workers and the sweeper.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	factory := s.providerFactory()
	s.store = repository.NewShardedStore[*session.Session](
		repository.WithShardCount(s.shardCount),
		repository.WithName("sessions"),
	)
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	pool, err := workerpool.NewPool(s.workerCount, s.queue, func(i int) (model.DetectionProvider, error) {
		p, err := factory(i)
		if err == nil && i == 0 {
			if pr, ok := p.(prober); ok {
				s.probe = pr
			}
		}
		return p, err
	}, workerpool.WithDetectTimeout(s.detectorTimeout))
	if err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	s.pool = pool

	opts := []session.Option{
		session.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))),
		session.WithIdentityInterval(s.identityInterval),
		session.WithAnalysisTimeout(s.analysisTimeout),
		session.WithClock(s.clock),
		session.WithLogger(s.logger.Named("session")),
	}
	if s.publisher != nil {
		opts = append(opts, session.WithPublisher(s.publisher))
	}
	if s.archiver != nil {
		opts = append(opts, session.WithArchiver(s.archiver))
	}
	s.manager = session.NewManager(s.store, s.queue, opts...)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.swept = make(chan struct{})
	s.pool.Start(runCtx)
	go s.sweepLoop(runCtx)

	s.started = true
	s.logger.Info(ctx, "proctor service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
		logger.Bool("detector", s.detectorURL != ""),
	)
	return nil
}

// providerFactory picks the sidecar when configured and otherwise a
// provider that fails every call, so frames degrade to no observation.
func (s *Service) providerFactory() workerpool.ProviderFactory {
	if s.factory != nil {
		return s.factory
	}
	if s.detectorURL == "" {
		return func(int) (model.DetectionProvider, error) { return detector.Unavailable{}, nil }
	}
	return func(int) (model.DetectionProvider, error) {
		return detector.NewSidecar(s.detectorURL, detector.WithTimeout(s.detectorTimeout)), nil
	}
}

// Stop drains the pool and waits for pending archive uploads.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping proctor service...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.cancel()
	<-s.swept
	if err := s.manager.Wait(ctx); err != nil {
		errs = append(errs, err)
	}

	s.started = false
	s.logger.Info(ctx, "proctor service stopped")
	return errors.Join(errs...)
}

func (s *Service) sweepLoop(ctx context.Context) {
	defer close(s.swept)
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.manager.Sweep(ctx, s.retention)
		}
	}
}

// Manager returns the session manager. Nil before Start.
func (s *Service) Manager() *session.Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manager
}

// Probe reports detector health through the first worker's provider.
func (s *Service) Probe(ctx context.Context) error {
	s.mu.RLock()
	p := s.probe
	started := s.started
	s.mu.RUnlock()
	switch {
	case !started:
		return ErrNotStarted
	case p == nil:
		return nil
	}
	return p.Probe(ctx)
}

// Sweep evicts expired ended sessions now.
func (s *Service) Sweep(ctx context.Context) int {
	m := s.Manager()
	if m == nil {
		return 0
	}
	return m.Sweep(ctx, s.retention)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":      s.started,
		"worker_count": s.workerCount,
		"queue_size":   s.queueSize,
		"dedupe_size":  s.dedupeSize,
	}
	if !s.started {
		return stats
	}

	queueLen := s.queue.Len(context.Background())
	stats["queue_length"] = queueLen
	stats["sessions"] = s.manager.Stats()
	metrics.UpdateQueueSize(queueLen)
	metrics.UpdateWorkerCount(s.pool.Size())
	return stats
}
