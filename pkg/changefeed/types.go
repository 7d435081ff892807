// Package changefeed implements the change-feed consumer (C1): a durable,
// append-only, totally ordered log of row-level data changes, with
// poll/advance/replayFrom semantics and at-least-once delivery to
// registered handlers.
package changefeed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Operation is the row-level mutation kind that produced a DataChange.
type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// DataChange is one row-level change record (§4.1, §6). Ordering is
// lexicographic on (FeedVersion, SequenceNumber); records are immutable and
// a given (FeedVersion, SequenceNumber) pair is never reused.
type DataChange struct {
	ID             uuid.UUID
	FeedVersion    int64
	SequenceNumber int64
	TableName      string
	Operation      Operation
	RowID          string
	OldValues      json.RawMessage
	NewValues      json.RawMessage
	ChangedAt      time.Time
	Processed      bool
	ProcessedAt    *time.Time
	ErrorMessage   string
}

// Checkpoint is a single consumer's position in the feed.
type Checkpoint struct {
	ConsumerID     string
	FeedVersion    int64
	SequenceNumber int64
}

// Handler processes one DataChange. Handlers must be idempotent on
// (TableName, RowID, hash(NewValues)) since the same record may be
// redelivered after a batch-level failure.
type Handler func(ctx context.Context, change DataChange) error
