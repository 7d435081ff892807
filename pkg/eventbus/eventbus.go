// Package eventbus provides the in-process event bus used to fan out
// BucketStatusChange events to subscribers (notably the file-generation
// trigger) on a bounded worker pool, per §4.6/§9: publication is
// non-blocking and back-pressure is handled by rejecting and logging on
// queue overflow rather than blocking the publisher.
package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	defaultQueueSize  = 100
	defaultMinWorkers = 5
	defaultMaxWorkers = 10
)

// Handler reacts to one published event. A Handler error is logged and
// never propagated to the publisher (§5).
type Handler func(ctx context.Context, event any) error

type job struct {
	eventType string
	event     any
}

// Bus is a typed publish/subscribe dispatcher backed by a bounded worker
// pool.
type Bus struct {
	logger  *slog.Logger
	queue   chan job
	workers int

	mu          sync.RWMutex
	subscribers map[string][]Handler
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithQueueSize overrides the default bounded queue capacity (100).
func WithQueueSize(n int) Option {
	return func(b *Bus) { b.queue = make(chan job, n) }
}

// WithWorkers overrides the default worker pool size (10).
func WithWorkers(n int) Option {
	return func(b *Bus) { b.workers = n }
}

// New builds a Bus. Call Run to start its worker pool.
func New(logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		logger:      logger,
		queue:       make(chan job, defaultQueueSize),
		workers:     defaultMaxWorkers,
		subscribers: make(map[string][]Handler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for eventType. Subscription must happen
// before Run is called to avoid a race with Publish.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish enqueues event for dispatch to eventType's subscribers.
// Non-blocking: if the bounded queue is full, the event is dropped and
// logged rather than blocking the caller.
func (b *Bus) Publish(eventType string, event any) {
	select {
	case b.queue <- job{eventType: eventType, event: event}:
	default:
		b.logger.Error("event bus queue full, dropping event", "event_type", eventType)
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// in-flight handlers have returned.
func (b *Bus) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < b.workers; i++ {
		g.Go(func() error {
			b.work(ctx)
			return nil
		})
	}

	<-ctx.Done()
	return g.Wait()
}

func (b *Bus) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-b.queue:
			b.dispatch(ctx, j)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, j job) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[j.eventType]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, j.event); err != nil {
			b.logger.Error("event handler failed", "event_type", j.eventType, "error", err)
		}
	}
}
