package filegen

import (
	"context"
	"log/slog"

	"github.com/hypoth/edi835/internal/telemetry"
)

// Deliverer is C7's delivery half: a scheduler.Task-shaped retry loop that
// polls file_generation_history for undelivered rows and attempts SFTP
// upload, applying linear retry backoff tied to the polling cadence rather
// than per-file (§4.7).
type Deliverer struct {
	history    Store
	configs    ConfigStore
	sessions   *CachingSessionFactory
	maxRetries int
	logger     *slog.Logger
}

// NewDeliverer wires Deliverer's collaborators. maxRetries bounds
// file_generation_history.retryCount before a row is marked FAILED
// (fileGeneration.maxRetries, §6).
func NewDeliverer(history Store, configs ConfigStore, sessions *CachingSessionFactory, maxRetries int, logger *slog.Logger) *Deliverer {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Deliverer{history: history, configs: configs, sessions: sessions, maxRetries: maxRetries, logger: logger}
}

// Run matches scheduler.Task's signature: one poll-and-attempt-delivery
// pass, registered on a fixed-delay schedule by the composition root. A
// failed attempt only ever moves a row to RETRY or FAILED here, never the
// owning bucket's own status — §4.7's "SFTP error → FileGenerationHistory
// only, bucket remains COMPLETED".
func (d *Deliverer) Run(ctx context.Context) {
	rows, err := d.history.ListPendingOrRetry(ctx, d.maxRetries)
	if err != nil {
		d.logger.Error("listing deliverable file generation history failed", "error", err)
		return
	}
	for _, row := range rows {
		if err := d.deliverOne(ctx, row); err != nil {
			d.logger.Error("file delivery attempt failed", "file_id", row.FileID, "error", err)
		}
	}
}

func (d *Deliverer) deliverOne(ctx context.Context, row FileGenerationHistory) error {
	payer, err := d.configs.Payer(ctx, row.PayerID)
	if err != nil {
		return err
	}
	if payer == nil {
		_, err := d.history.MarkFailed(ctx, row.FileID, "payer configuration no longer exists")
		return err
	}

	client, err := d.sessions.Acquire(ctx, *payer)
	if err != nil {
		return d.recordFailure(ctx, row, &DeliveryError{HistoryID: row.FileID, Cause: err})
	}

	if err := client.Upload(ctx, row.FilePath, row.Content); err != nil {
		client.Close()
		return d.recordFailure(ctx, row, &DeliveryError{HistoryID: row.FileID, Cause: err})
	}

	d.sessions.Release(*payer, client)
	_, err = d.history.MarkDelivered(ctx, row.FileID)
	if err == nil {
		telemetry.FileDeliveryAttemptsTotal.WithLabelValues("success").Inc()
	}
	return err
}

// recordFailure applies §4.7's increment-and-classify rule: once
// retryCount reaches maxRetries the row is terminally FAILED, otherwise it
// is set to RETRY for the next polling cycle to pick up.
func (d *Deliverer) recordFailure(ctx context.Context, row FileGenerationHistory, cause error) error {
	if row.RetryCount+1 >= d.maxRetries {
		telemetry.FileDeliveryAttemptsTotal.WithLabelValues("failed").Inc()
		_, err := d.history.MarkFailed(ctx, row.FileID, cause.Error())
		return err
	}
	telemetry.FileDeliveryAttemptsTotal.WithLabelValues("retry").Inc()
	_, err := d.history.MarkRetry(ctx, row.FileID, cause.Error())
	return err
}
