package changefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hypoth/edi835/internal/db"
)

// Store is the persistence contract C1's consumer depends on. The
// production implementation is backed by Postgres tables populated by
// AFTER INSERT/UPDATE/DELETE triggers on raw_ncpdp_claims, claims, and
// buckets (§4.1's "trigger-side contract").
type Store interface {
	Poll(ctx context.Context, consumerID string, maxBatch int) ([]DataChange, error)
	Advance(ctx context.Context, consumerID string, last DataChange) error
	ReplayFrom(ctx context.Context, consumerID string, feedVersion, sequenceNumber int64) error
	RecordOutcome(ctx context.Context, id uuid.UUID, handlerErr error) error
}

// PostgresStore implements Store on top of data_changes/changefeed_checkpoint.
type PostgresStore struct {
	dbtx db.DBTX
}

// NewPostgresStore builds a Store bound to dbtx (a pool or an open
// transaction).
func NewPostgresStore(dbtx db.DBTX) *PostgresStore {
	return &PostgresStore{dbtx: dbtx}
}

// Poll returns up to maxBatch records strictly after the consumer's stored
// checkpoint, ordered by (feed_version, sequence_number). A missing
// checkpoint row is treated as "start from the beginning".
func (s *PostgresStore) Poll(ctx context.Context, consumerID string, maxBatch int) ([]DataChange, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT dc.id, dc.feed_version, dc.sequence_number, dc.table_name, dc.operation,
		       dc.row_id, dc.old_values, dc.new_values, dc.changed_at,
		       dc.processed, dc.processed_at, dc.error_message
		FROM data_changes dc
		WHERE (dc.feed_version, dc.sequence_number) > (
			SELECT COALESCE(
				(SELECT (feed_version, sequence_number) FROM changefeed_checkpoint WHERE consumer_id = $1),
				(0, 0)
			)
		)
		ORDER BY dc.feed_version, dc.sequence_number
		LIMIT $2`, consumerID, maxBatch)
	if err != nil {
		return nil, fmt.Errorf("polling change feed for consumer %q: %w", consumerID, err)
	}
	defer rows.Close()

	var out []DataChange
	for rows.Next() {
		var c DataChange
		if err := rows.Scan(&c.ID, &c.FeedVersion, &c.SequenceNumber, &c.TableName, &c.Operation,
			&c.RowID, &c.OldValues, &c.NewValues, &c.ChangedAt,
			&c.Processed, &c.ProcessedAt, &c.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scanning data_changes row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating data_changes rows: %w", err)
	}
	return out, nil
}

// Advance persists the consumer's checkpoint to last's position.
func (s *PostgresStore) Advance(ctx context.Context, consumerID string, last DataChange) error {
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO changefeed_checkpoint (consumer_id, feed_version, sequence_number, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (consumer_id) DO UPDATE
		SET feed_version = EXCLUDED.feed_version,
		    sequence_number = EXCLUDED.sequence_number,
		    updated_at = EXCLUDED.updated_at`,
		consumerID, last.FeedVersion, last.SequenceNumber, time.Now())
	if err != nil {
		return fmt.Errorf("advancing checkpoint for consumer %q: %w", consumerID, err)
	}
	return nil
}

// ReplayFrom rewinds the consumer's checkpoint so the next poll returns
// records strictly after (feedVersion, sequenceNumber). No data is mutated
// to effect the replay.
func (s *PostgresStore) ReplayFrom(ctx context.Context, consumerID string, feedVersion, sequenceNumber int64) error {
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO changefeed_checkpoint (consumer_id, feed_version, sequence_number, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (consumer_id) DO UPDATE
		SET feed_version = EXCLUDED.feed_version,
		    sequence_number = EXCLUDED.sequence_number,
		    updated_at = EXCLUDED.updated_at`,
		consumerID, feedVersion, sequenceNumber, time.Now())
	if err != nil {
		return fmt.Errorf("replaying checkpoint for consumer %q: %w", consumerID, err)
	}
	return nil
}

// RecordOutcome stamps the change row as processed or records the handler
// error, per §4.1's failure semantics.
func (s *PostgresStore) RecordOutcome(ctx context.Context, id uuid.UUID, handlerErr error) error {
	now := time.Now()
	if handlerErr == nil {
		_, err := s.dbtx.Exec(ctx, `
			UPDATE data_changes SET processed = true, processed_at = $2, error_message = NULL
			WHERE id = $1`, id, now)
		if err != nil {
			return fmt.Errorf("recording success outcome for change %s: %w", id, err)
		}
		return nil
	}

	_, err := s.dbtx.Exec(ctx, `
		UPDATE data_changes SET processed = false, processed_at = $2, error_message = $3
		WHERE id = $1`, id, now, handlerErr.Error())
	if err != nil {
		return fmt.Errorf("recording failure outcome for change %s: %w", id, err)
	}
	return nil
}
