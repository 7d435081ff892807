package changefeed

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/hypoth/edi835/internal/telemetry"
)

// Consumer polls a Store for new DataChange records and dispatches them to
// per-table handlers. A single polling cycle is ever in flight at a time
// (§4.1, §5): the reentrancy guard is a CAS boolean, not a mutex, so a
// cycle that is still running when the scheduler fires again is simply
// skipped rather than queued.
type Consumer struct {
	ConsumerID string
	BatchSize  int

	store    Store
	cache    IdempotencyCache
	handlers map[string]Handler
	logger   *slog.Logger

	running atomic.Bool
}

// NewConsumer builds a Consumer reading from store, deduplicating via
// cache, and dispatching to handlers registered with RegisterHandler.
func NewConsumer(consumerID string, batchSize int, store Store, cache IdempotencyCache, logger *slog.Logger) *Consumer {
	return &Consumer{
		ConsumerID: consumerID,
		BatchSize:  batchSize,
		store:      store,
		cache:      cache,
		handlers:   make(map[string]Handler),
		logger:     logger,
	}
}

// RegisterHandler binds a Handler to a source table name. This is the
// ChangeFeedHandler registration map that lets C1 dispatch to C4's intake
// path without importing it directly.
func (c *Consumer) RegisterHandler(tableName string, h Handler) {
	c.handlers[tableName] = h
}

// ReplayFrom rewinds the consumer's checkpoint.
func (c *Consumer) ReplayFrom(ctx context.Context, feedVersion, sequenceNumber int64) error {
	return c.store.ReplayFrom(ctx, c.ConsumerID, feedVersion, sequenceNumber)
}

// RunCycle polls one batch and dispatches it. It is safe to call
// concurrently with itself: a call arriving while one is already in
// progress is a no-op. Intended to be registered with scheduler.Scheduler
// as a fixed-delay task.
func (c *Consumer) RunCycle(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	defer c.running.Store(false)

	if err := c.runCycle(ctx); err != nil {
		c.logger.Error("change feed cycle failed", "consumer_id", c.ConsumerID, "error", err)
	}
}

func (c *Consumer) runCycle(ctx context.Context) error {
	batch, err := c.store.Poll(ctx, c.ConsumerID, c.BatchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	allSucceeded := true

	for _, change := range batch {
		telemetry.ChangeFeedEventsConsumed.WithLabelValues(change.TableName).Inc()

		alreadySeen, err := c.cache.IsSeen(ctx, change.TableName, change.RowID, change.NewValues)
		if err != nil {
			c.logger.Warn("idempotency check failed, processing anyway", "error", err)
		}
		if alreadySeen {
			telemetry.ChangeFeedDuplicatesSkipped.WithLabelValues(change.TableName).Inc()
			if err := c.store.RecordOutcome(ctx, change.ID, nil); err != nil {
				c.logger.Error("recording duplicate-skip outcome failed", "error", err)
			}
			continue
		}

		handler, ok := c.handlers[change.TableName]
		if !ok {
			// No registered handler for this table: treat as a no-op
			// success so unrelated triggers don't stall the checkpoint.
			if err := c.store.RecordOutcome(ctx, change.ID, nil); err != nil {
				c.logger.Error("recording unhandled-table outcome failed", "error", err)
			}
			continue
		}

		handlerErr := handler(ctx, change)
		if err := c.store.RecordOutcome(ctx, change.ID, handlerErr); err != nil {
			c.logger.Error("recording handler outcome failed", "error", err)
		}
		if handlerErr != nil {
			c.logger.Error("change feed handler failed", "table", change.TableName, "row_id", change.RowID, "error", handlerErr)
			allSucceeded = false
		} else {
			// Only mark the idempotency key once the handler has actually
			// succeeded — marking on the earlier cache miss would let a
			// batch-level failure's redelivery skip a record that was
			// never successfully handled.
			c.cache.MarkSeen(ctx, change.TableName, change.RowID, change.NewValues)
		}
	}

	if !allSucceeded {
		// Batch-level failure: do not advance the checkpoint. The next
		// poll redelivers the whole batch, which is why handlers must be
		// idempotent (§4.1).
		return nil
	}

	last := batch[len(batch)-1]
	return c.store.Advance(ctx, c.ConsumerID, last)
}
