package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

func job(id string) Job {
	return Job{SessionID: id, Image: []byte(id), Reply: make(chan model.DetectResponse, 1)}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, job("s1")) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.SessionID != "s1" {
		t.Errorf("expected s1, got %v", got.SessionID)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, job("s1")) || !q.Enqueue(ctx, job("s2")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, job("s3")) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
	if c := q.Capacity(); c != 2 {
		t.Errorf("expected capacity 2, got %d", c)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1000))
	ctx := context.Background()
	producers, perProducer := 10, 100

	done := make(chan bool, producers)
	for i := 0; i < producers; i++ {
		go func(id int) {
			for j := 0; j < perProducer; j++ {
				if !q.Enqueue(ctx, job(fmt.Sprintf("p%d-%d", id, j))) {
					t.Errorf("enqueue failed for producer %d", id)
				}
			}
			done <- true
		}(i)
	}
	for i := 0; i < producers; i++ {
		<-done
	}

	out := q.Dequeue(ctx)
	for i := 0; i < producers*perProducer; i++ {
		select {
		case <-out:
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d jobs", i)
		}
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if !q.Enqueue(ctx, job("s1")) {
		t.Fatal("expected enqueue to succeed")
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to report closed")
	}
	if q.Enqueue(ctx, job("s2")) {
		t.Error("expected enqueue to fail after close")
	}

	out := q.Dequeue(ctx)
	if j, ok := <-out; !ok || j.SessionID != "s1" {
		t.Errorf("expected buffered job to drain, got %v %v", j.SessionID, ok)
	}
	if _, ok := <-out; ok {
		t.Error("expected dequeue channel to close")
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if q.Enqueue(ctx, job("s1")) {
		t.Error("expected enqueue to fail with a cancelled context")
	}
}

func TestReject(t *testing.T) {
	j := job("s1")
	reject(j)
	resp := <-j.Reply
	if !errors.Is(resp.Err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", resp.Err)
	}
	if !errors.Is(resp.Err, model.ErrNotAnalyzed) {
		t.Errorf("expected a not-analyzed frame, got %v", resp.Err)
	}
	// A second rejection must not block on the full reply buffer.
	reject(j)
	reject(Job{})
}
