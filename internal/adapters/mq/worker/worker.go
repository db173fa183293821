// Package worker runs the analysis pool: each worker owns one Detection
// Provider instance, decodes queued images and answers the submitter.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/proctor/internal/adapters/detector"
	"github.com/okian/proctor/internal/adapters/mq/queue"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultDetectTimeout = 3 * time.Second
	poolShutdownTimeout  = 30 * time.Second
)

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// ProviderFactory builds the provider owned by worker index i.
type ProviderFactory func(i int) (model.DetectionProvider, error)

// Decoder turns raw image bytes into a frame.
type Decoder func(data []byte) (model.Frame, error)

// Worker drains analysis jobs until stopped.
type Worker interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for one provider instance.
type InMemoryWorker struct {
	queue         Queue
	provider      model.DetectionProvider
	decode        Decoder
	detectTimeout time.Duration
	name          string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, provider model.DetectionProvider, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:         q,
		provider:      provider,
		decode:        detector.Decode,
		detectTimeout: defaultDetectTimeout,
		name:          "worker",
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
		logger:        logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run blocks until ctx ends, Shutdown is called, or the queue closes.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			w.process(ctx, job)
		}
	}
}

// Shutdown stops the loop after the in-flight job.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process answers exactly one response on the job's reply channel.
func (w *InMemoryWorker) process(ctx context.Context, job queue.Job) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	resp := w.analyze(ctx, job)
	if resp.Err != nil {
		kind := "detector"
		if errors.Is(resp.Err, model.ErrImageDecode) {
			kind = "decode"
		}
		metrics.RecordErrorByComponent("worker", kind)
		w.logger.Debug(ctx, "analysis failed", logger.SessionID(job.SessionID), logger.Error(resp.Err))
	}

	select {
	case job.Reply <- resp:
	default:
		w.logger.Warn(ctx, "reply channel full, dropping response", logger.SessionID(job.SessionID))
	}
}

func (w *InMemoryWorker) analyze(ctx context.Context, job queue.Job) model.DetectResponse {
	frame, err := w.decode(job.Image)
	if err != nil {
		if !errors.Is(err, model.ErrImageDecode) {
			err = fmt.Errorf("%w: %w", model.ErrImageDecode, err)
		}
		return model.DetectResponse{Err: err}
	}

	dctx, cancel := context.WithTimeout(ctx, w.detectTimeout)
	defer cancel()
	det, err := w.provider.Detect(dctx, frame, job.WantEmbedding)
	if err != nil {
		if ctx.Err() != nil {
			// The pool is stopping; the provider was interrupted, not broken.
			return model.DetectResponse{Err: fmt.Errorf("%w: %w", model.ErrNotAnalyzed, err)}
		}
		return model.DetectResponse{Err: fmt.Errorf("%w: %w", model.ErrDetector, err)}
	}
	if det.Width == 0 || det.Height == 0 {
		det.Width, det.Height = frame.Width, frame.Height
	}
	return model.DetectResponse{Detection: det}
}

// Pool owns the workers that share one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates workerCount workers, each with its own provider from factory.
// Options are applied to every worker.
func NewPool(workerCount int, q Queue, factory ProviderFactory, opts ...Option) (*Pool, error) {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		provider, err := factory(i)
		if err != nil {
			return nil, fmt.Errorf("create provider for worker %d: %w", i, err)
		}
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, provider, workerOpts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool, nil
}

// Size is the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start launches one goroutine per worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut int
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut++
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut > 0 {
		return fmt.Errorf("%d workers did not stop: %w", timedOut, shutdownCtx.Err())
	}
	return nil
}
