package eventbus

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBus_DispatchesToSubscriber(t *testing.T) {
	b := New(testLogger(), WithWorkers(2))

	var got atomic.Value
	done := make(chan struct{}, 1)
	b.Subscribe("bucket.status_change", func(ctx context.Context, event any) error {
		got.Store(event)
		done <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.Publish("bucket.status_change", "GENERATING")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked within timeout")
	}

	if got.Load() != "GENERATING" {
		t.Fatalf("handler received %v, want GENERATING", got.Load())
	}
}

func TestBus_OverflowIsRejectedNotBlocking(t *testing.T) {
	b := New(testLogger(), WithQueueSize(1), WithWorkers(0))

	b.Publish("x", 1)
	// With zero workers nothing drains the queue; a second publish must
	// not block the caller even though the queue is now full.
	done := make(chan struct{})
	go func() {
		b.Publish("x", 2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}
