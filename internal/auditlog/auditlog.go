// Package auditlog provides an async, buffered writer for the audit_log
// table (check lifecycle entries go to check_audit_log through
// pkg/checkpay's own store instead), adapted from the teacher's request
// audit writer: entries are queued on a channel and flushed in batches on
// a ticker rather than written synchronously on the hot path.
package auditlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	flushInterval = 2 * time.Second
	flushBatch    = 32
	bufferSize    = 1024
)

// Entry is one audit record. Detail is marshaled to JSONB on flush.
type Entry struct {
	EntityType string
	EntityID   uuid.UUID
	Action     string
	Actor      string
	Detail     map[string]any
	OccurredAt time.Time
}

// Writer batches Entry values and flushes them to the audit_log table.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

// NewWriter builds a Writer. Call Start to begin flushing and Close to
// drain and stop it.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start launches the background flush loop.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Close stops accepting new entries and waits for the flush loop to drain.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an entry without blocking. If the buffer is full, the entry
// is dropped and a warning is logged.
func (w *Writer) Log(e Entry) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	select {
	case w.entries <- e:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"entity_type", e.EntityType, "entity_id", e.EntityID, "action", e.Action)
	}
}

func (w *Writer) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.insertBatch(ctx, batch); err != nil {
			w.logger.Error("audit log flush failed", "error", err, "count", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}

func (w *Writer) insertBatch(ctx context.Context, batch []Entry) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, e := range batch {
		detail, err := json.Marshal(e.Detail)
		if err != nil {
			w.logger.Error("audit log detail marshal failed", "error", err)
			continue
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO audit_log (entity_type, entity_id, action, actor, detail, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.EntityType, e.EntityID, e.Action, e.Actor, detail, e.OccurredAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
