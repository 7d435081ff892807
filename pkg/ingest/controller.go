package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hypoth/edi835/internal/auditlog"
	"github.com/hypoth/edi835/internal/telemetry"
	"github.com/hypoth/edi835/pkg/claim"
	"github.com/hypoth/edi835/pkg/ncpdp"
)

// ClaimSink is the bucket aggregator's intake surface (C5), kept as a
// narrow interface so the ingestion controller does not import pkg/bucket
// directly.
type ClaimSink interface {
	AddClaim(ctx context.Context, c *claim.Claim) error
}

// Config bounds the controller's scheduling and retry policy (§4.4, §6).
type Config struct {
	BatchSize             int
	MaxRetries            int
	StuckThreshold        time.Duration
}

// Controller drives RawNcpdpClaim rows through parse → map → forward and
// exposes the health/metric counters §4.4 names.
type Controller struct {
	store  Store
	sink   ClaimSink
	audit  *auditlog.Writer
	logger *slog.Logger
	cfg    Config

	totalProcessed atomic.Int64
	successCount   atomic.Int64
	failureCount   atomic.Int64
	lastProcessing atomic.Int64 // unix nanos
	isProcessing   atomic.Bool
}

// NewController builds a Controller.
func NewController(store Store, sink ClaimSink, audit *auditlog.Writer, logger *slog.Logger, cfg Config) *Controller {
	return &Controller{store: store, sink: sink, audit: audit, logger: logger, cfg: cfg}
}

// Stats is a snapshot of the controller's health/metric counters.
type Stats struct {
	TotalProcessed     int64
	SuccessCount       int64
	FailureCount       int64
	LastProcessingTime time.Time
	IsProcessing       bool
}

// Snapshot returns the current Stats.
func (c *Controller) Snapshot() Stats {
	return Stats{
		TotalProcessed:     c.totalProcessed.Load(),
		SuccessCount:       c.successCount.Load(),
		FailureCount:       c.failureCount.Load(),
		LastProcessingTime: time.Unix(0, c.lastProcessing.Load()),
		IsProcessing:       c.isProcessing.Load(),
	}
}

// ProcessPending is the "process pending" scheduled task (§4.4 task 1):
// reads up to BatchSize PENDING rows oldest-first and drives each through
// parse → map → forward.
func (c *Controller) ProcessPending(ctx context.Context) {
	c.isProcessing.Store(true)
	defer c.isProcessing.Store(false)

	rows, err := c.store.PendingFIFO(ctx, c.cfg.BatchSize)
	if err != nil {
		c.logger.Error("listing pending raw ncpdp claims failed", "error", err)
		return
	}

	for _, row := range rows {
		c.ProcessOne(ctx, row.ID)
	}
}

// ProcessOne drives a single row through the pipeline if it is still
// PENDING. The CAS transition to PROCESSING precludes double-processing
// when both the scheduled sweep and a change-feed-triggered call race on
// the same row.
func (c *Controller) ProcessOne(ctx context.Context, id string) {
	claimed, err := c.store.TryMarkProcessing(ctx, id)
	if err != nil {
		c.logger.Error("claiming raw ncpdp claim failed", "id", id, "error", err)
		return
	}
	if !claimed {
		return
	}

	c.lastProcessing.Store(time.Now().UnixNano())
	c.totalProcessed.Add(1)

	row, err := c.store.Get(ctx, id)
	if err != nil {
		c.logger.Error("fetching claimed raw ncpdp claim failed", "id", id, "error", err)
		return
	}

	c.process(ctx, row)
}

// process is the parse→map→forward pipeline for a single claimed row.
func (c *Controller) process(ctx context.Context, row RawNcpdpClaim) {
	txn, err := ncpdp.Parse(row.RawContent)
	if err != nil {
		c.fail(ctx, row, classifyParseError(err))
		return
	}

	mapped, err := claim.MapTransaction(txn)
	if err != nil {
		c.fail(ctx, row, classifyValidationError(err))
		return
	}

	if err := c.sink.AddClaim(ctx, mapped); err != nil {
		c.fail(ctx, row, "forwarding error: "+err.Error())
		return
	}

	if err := c.store.MarkProcessed(ctx, row.ID, mapped.ID); err != nil {
		c.logger.Error("marking raw ncpdp claim processed failed", "id", row.ID, "error", err)
		return
	}

	c.successCount.Add(1)
	telemetry.NCPDPClaimsIngested.WithLabelValues(row.TransactionType).Inc()
	c.audit.Log(auditlog.Entry{
		EntityType: "raw_ncpdp_claim",
		Action:     "PROCESSED",
		Detail:     map[string]any{"claim_id": mapped.ID},
	})
}

func (c *Controller) fail(ctx context.Context, row RawNcpdpClaim, message string) {
	if err := c.store.MarkFailed(ctx, row.ID, message); err != nil {
		c.logger.Error("marking raw ncpdp claim failed failed", "id", row.ID, "error", err)
	}
	c.failureCount.Add(1)
	telemetry.NCPDPClaimsFailed.WithLabelValues(errorCategory(message)).Inc()
	c.audit.Log(auditlog.Entry{
		EntityType: "raw_ncpdp_claim",
		Action:     "FAILED",
		Detail:     map[string]any{"reason": message},
	})
}

// RetryFailed is the "retry failed" scheduled task (§4.4 task 2).
func (c *Controller) RetryFailed(ctx context.Context) {
	n, err := c.store.RetryFailed(ctx, c.cfg.MaxRetries)
	if err != nil {
		c.logger.Error("retrying failed raw ncpdp claims failed", "error", err)
		return
	}
	if n > 0 {
		c.logger.Info("reset failed raw ncpdp claims for retry", "count", n)
	}
}

// DetectStuck is the "detect stuck" scheduled task (§4.4 task 3).
func (c *Controller) DetectStuck(ctx context.Context) {
	n, err := c.store.DetectStuck(ctx, c.cfg.StuckThreshold)
	if err != nil {
		c.logger.Error("detecting stuck raw ncpdp claims failed", "error", err)
		return
	}
	if n > 0 {
		telemetry.NCPDPClaimsStuck.Add(float64(n))
		c.logger.Warn("reset stuck raw ncpdp claims", "count", n)
	}
}

func classifyParseError(err error) string {
	var perr *ncpdp.ParseError
	if errors.As(err, &perr) {
		return fmt.Sprintf("parse error [%s line %d]: %s", perr.SegmentID, perr.LineNumber, perr.Message)
	}
	return "parse error: " + err.Error()
}

func classifyValidationError(err error) string {
	var verr *claim.ValidationError
	if errors.As(err, &verr) {
		return "validation error [" + verr.Field + "]: " + verr.Message
	}
	return "validation error: " + err.Error()
}

func errorCategory(message string) string {
	switch {
	case len(message) >= 12 && message[:12] == "parse error ":
		return "parse"
	case len(message) >= 17 && message[:17] == "validation error ":
		return "validation"
	case len(message) >= 10 && message[:10] == "forwarding":
		return "forwarding"
	default:
		return "other"
	}
}
