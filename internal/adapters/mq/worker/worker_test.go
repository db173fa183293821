package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/proctor/internal/adapters/detector/detectortest"
	queue "github.com/okian/proctor/internal/adapters/mq/queue"
	worker "github.com/okian/proctor/internal/adapters/mq/worker"
	"github.com/okian/proctor/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// slowProvider blocks until its context ends.
type slowProvider struct{}

func (slowProvider) Detect(ctx context.Context, _ model.Frame, _ bool) (model.Detection, error) {
	<-ctx.Done()
	return model.Detection{}, ctx.Err()
}

// blockingProvider signals entry and then blocks until its context ends.
type blockingProvider struct{ entered chan struct{} }

func (p blockingProvider) Detect(ctx context.Context, _ model.Frame, _ bool) (model.Detection, error) {
	close(p.entered)
	<-ctx.Done()
	return model.Detection{}, ctx.Err()
}

func submit(q *queue.InMemoryQueue, image []byte, wantEmbedding bool) chan model.DetectResponse {
	reply := make(chan model.DetectResponse, 1)
	So(q.Enqueue(context.Background(), queue.Job{SessionID: "s1", Image: image, WantEmbedding: wantEmbedding, Reply: reply}), ShouldBeTrue)
	return reply
}

func await(reply chan model.DetectResponse) model.DetectResponse {
	select {
	case r := <-reply:
		return r
	case <-time.After(2 * time.Second):
		return model.DetectResponse{Err: errors.New("timed out waiting for worker")}
	}
}

func TestInMemoryWorker(t *testing.T) {
	Convey("Given a worker with a scripted provider", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		provider := detectortest.NewScripted()
		w := worker.NewInMemoryWorker(q, provider, worker.WithName("test-worker"))
		go w.Run(ctx)

		Convey("When a valid frame is queued", func() {
			provider.Push(detectortest.Frontal(detectortest.WithEmbedding(detectortest.ReferenceEmbedding())))
			resp := await(submit(q, detectortest.JPEG(), true))

			Convey("Then the detection is returned with the embedding", func() {
				So(resp.Err, ShouldBeNil)
				So(resp.Detection.Faces, ShouldHaveLength, 1)
				So(resp.Detection.Embedding, ShouldNotBeEmpty)
				So(provider.Frames()[0].Format, ShouldEqual, "jpeg")
			})
		})

		Convey("When the payload is not an image", func() {
			resp := await(submit(q, []byte("nope"), false))

			Convey("Then a decode error is returned without calling the provider", func() {
				So(errors.Is(resp.Err, model.ErrImageDecode), ShouldBeTrue)
				So(provider.Calls(), ShouldEqual, 0)
			})
		})

		Convey("When the provider fails", func() {
			provider.PushError(errors.New("model crashed"))
			resp := await(submit(q, detectortest.JPEG(), false))

			Convey("Then a detector error is returned", func() {
				So(errors.Is(resp.Err, model.ErrDetector), ShouldBeTrue)
				So(resp.Err.Error(), ShouldContainSubstring, "model crashed")
			})
		})

		Convey("When the worker is shut down", func() {
			So(w.Shutdown(context.Background()), ShouldBeNil)
		})
	})

	Convey("Given a provider that never answers", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := queue.NewInMemoryQueue(queue.WithCapacity(1))
		w := worker.NewInMemoryWorker(q, slowProvider{}, worker.WithDetectTimeout(20*time.Millisecond))
		go w.Run(ctx)

		resp := await(submit(q, detectortest.JPEG(), false))

		Convey("Then the call times out as a detector error", func() {
			So(errors.Is(resp.Err, model.ErrDetector), ShouldBeTrue)
			So(errors.Is(resp.Err, context.DeadlineExceeded), ShouldBeTrue)
		})
	})
}

func TestWorkerStopping(t *testing.T) {
	Convey("Given a worker whose provider is mid-call", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		q := queue.NewInMemoryQueue(queue.WithCapacity(1))
		provider := blockingProvider{entered: make(chan struct{})}
		w := worker.NewInMemoryWorker(q, provider, worker.WithDetectTimeout(time.Minute))
		go w.Run(ctx)

		reply := submit(q, detectortest.JPEG(), false)
		<-provider.entered

		Convey("When the pool context is canceled", func() {
			cancel()
			resp := await(reply)

			Convey("Then the frame is reported as not analyzed, not as a detector failure", func() {
				So(errors.Is(resp.Err, model.ErrNotAnalyzed), ShouldBeTrue)
				So(errors.Is(resp.Err, model.ErrDetector), ShouldBeFalse)
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	Convey("Given a pool of four workers", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := queue.NewInMemoryQueue(queue.WithCapacity(64))

		var mu sync.Mutex
		built := map[int]bool{}
		pool, err := worker.NewPool(4, q, func(i int) (model.DetectionProvider, error) {
			mu.Lock()
			built[i] = true
			mu.Unlock()
			return detectortest.NewScripted(), nil
		})
		So(err, ShouldBeNil)
		pool.Start(ctx)

		Convey("Then each worker owns its own provider", func() {
			So(pool.Size(), ShouldEqual, 4)
			So(built, ShouldHaveLength, 4)
		})

		Convey("When many jobs are queued", func() {
			replies := make([]chan model.DetectResponse, 40)
			for i := range replies {
				replies[i] = submit(q, detectortest.JPEG(), false)
			}

			Convey("Then every job is answered", func() {
				for _, r := range replies {
					So(await(r).Err, ShouldBeNil)
				}
				So(pool.Shutdown(context.Background()), ShouldBeNil)
				So(q.IsClosed(), ShouldBeTrue)
			})
		})
	})

	Convey("Given a provider factory that fails", t, func() {
		q := queue.NewInMemoryQueue()
		_, err := worker.NewPool(2, q, func(i int) (model.DetectionProvider, error) {
			if i == 1 {
				return nil, errors.New("no gpu")
			}
			return detectortest.NewScripted(), nil
		})

		Convey("Then the pool is not created", func() {
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "worker 1")
		})
	})
}
