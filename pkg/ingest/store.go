package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hypoth/edi835/internal/db"
)

// Store is the persistence contract the ingestion controller depends on.
type Store interface {
	Get(ctx context.Context, id string) (RawNcpdpClaim, error)
	PendingFIFO(ctx context.Context, batchSize int) ([]RawNcpdpClaim, error)
	TryMarkProcessing(ctx context.Context, id string) (bool, error)
	MarkProcessed(ctx context.Context, id, claimID string) error
	MarkFailed(ctx context.Context, id, errMessage string) error
	RetryFailed(ctx context.Context, maxRetries int) (int64, error)
	DetectStuck(ctx context.Context, stuckThreshold time.Duration) (int64, error)
}

// PostgresStore implements Store against the raw_ncpdp_claims table.
type PostgresStore struct {
	dbtx db.DBTX
}

// NewPostgresStore builds a Store bound to dbtx.
func NewPostgresStore(dbtx db.DBTX) *PostgresStore {
	return &PostgresStore{dbtx: dbtx}
}

// Get fetches a single row by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (RawNcpdpClaim, error) {
	row := s.dbtx.QueryRow(ctx, `
		SELECT id, payer_id, pharmacy_id, transaction_id, raw_content, transaction_type,
		       service_date, patient_id, prescription_number, status, created_date,
		       processing_started_date, processed_date, claim_id, error_message, retry_count
		FROM raw_ncpdp_claims
		WHERE id = $1`, id)

	var r RawNcpdpClaim
	if err := row.Scan(&r.ID, &r.PayerID, &r.PharmacyID, &r.TransactionID, &r.RawContent,
		&r.TransactionType, &r.ServiceDate, &r.PatientID, &r.PrescriptionNumber, &r.Status,
		&r.CreatedDate, &r.ProcessingStartedDate, &r.ProcessedDate, &r.ClaimID,
		&r.ErrorMessage, &r.RetryCount); err != nil {
		return RawNcpdpClaim{}, fmt.Errorf("fetching raw ncpdp claim %s: %w", id, err)
	}
	return r, nil
}

// PendingFIFO returns up to batchSize PENDING rows oldest-first (§4.4).
func (s *PostgresStore) PendingFIFO(ctx context.Context, batchSize int) ([]RawNcpdpClaim, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT id, payer_id, pharmacy_id, transaction_id, raw_content, transaction_type,
		       service_date, patient_id, prescription_number, status, created_date,
		       processing_started_date, processed_date, claim_id, error_message, retry_count
		FROM raw_ncpdp_claims
		WHERE status = 'PENDING'
		ORDER BY created_date ASC
		LIMIT $1`, batchSize)
	if err != nil {
		return nil, fmt.Errorf("listing pending raw ncpdp claims: %w", err)
	}
	defer rows.Close()

	var out []RawNcpdpClaim
	for rows.Next() {
		var r RawNcpdpClaim
		if err := rows.Scan(&r.ID, &r.PayerID, &r.PharmacyID, &r.TransactionID, &r.RawContent,
			&r.TransactionType, &r.ServiceDate, &r.PatientID, &r.PrescriptionNumber, &r.Status,
			&r.CreatedDate, &r.ProcessingStartedDate, &r.ProcessedDate, &r.ClaimID,
			&r.ErrorMessage, &r.RetryCount); err != nil {
			return nil, fmt.Errorf("scanning raw ncpdp claim row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TryMarkProcessing atomically transitions id from PENDING to PROCESSING,
// returning false if another worker already claimed it (§4.4's compare-
// and-set transition).
func (s *PostgresStore) TryMarkProcessing(ctx context.Context, id string) (bool, error) {
	tag, err := s.dbtx.Exec(ctx, `
		UPDATE raw_ncpdp_claims
		SET status = 'PROCESSING', processing_started_date = $2
		WHERE id = $1 AND status = 'PENDING'`, id, time.Now())
	if err != nil {
		return false, fmt.Errorf("claiming raw ncpdp claim %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkProcessed transitions id to PROCESSED with the mapped claim id.
func (s *PostgresStore) MarkProcessed(ctx context.Context, id, claimID string) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE raw_ncpdp_claims
		SET status = 'PROCESSED', claim_id = $2, processed_date = $3, error_message = NULL
		WHERE id = $1`, id, claimID, time.Now())
	if err != nil {
		return fmt.Errorf("marking raw ncpdp claim %s processed: %w", id, err)
	}
	s.logAttempt(ctx, id, "PROCESSED", "")
	return nil
}

// MarkFailed transitions id to FAILED with errMessage.
func (s *PostgresStore) MarkFailed(ctx context.Context, id, errMessage string) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE raw_ncpdp_claims
		SET status = 'FAILED', error_message = $2
		WHERE id = $1`, id, errMessage)
	if err != nil {
		return fmt.Errorf("marking raw ncpdp claim %s failed: %w", id, err)
	}
	s.logAttempt(ctx, id, errorOutcome(errMessage), errMessage)
	return nil
}

// RetryFailed resets FAILED rows under the retry cap back to PENDING,
// incrementing their retry count (§4.4 task 2).
func (s *PostgresStore) RetryFailed(ctx context.Context, maxRetries int) (int64, error) {
	tag, err := s.dbtx.Exec(ctx, `
		UPDATE raw_ncpdp_claims
		SET status = 'PENDING', error_message = NULL, retry_count = retry_count + 1
		WHERE status = 'FAILED' AND retry_count < $1`, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("retrying failed raw ncpdp claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DetectStuck resets PROCESSING rows whose processing_started_date is
// older than stuckThreshold back to PENDING (§4.4 task 3).
func (s *PostgresStore) DetectStuck(ctx context.Context, stuckThreshold time.Duration) (int64, error) {
	cutoff := time.Now().Add(-stuckThreshold)
	tag, err := s.dbtx.Exec(ctx, `
		UPDATE raw_ncpdp_claims
		SET status = 'PENDING', error_message = 'Reset from stuck PROCESSING state'
		WHERE status = 'PROCESSING' AND processing_started_date < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("detecting stuck raw ncpdp claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

// logAttempt appends an ncpdp_processing_log row. Failures to log are
// swallowed: the row's own status transition already succeeded and is the
// source of truth, this is a best-effort audit trail alongside it.
func (s *PostgresStore) logAttempt(ctx context.Context, rawClaimID, outcome, errMessage string) {
	_, _ = s.dbtx.Exec(ctx, `
		INSERT INTO ncpdp_processing_log (raw_claim_id, outcome, error_message, occurred_at)
		VALUES ($1, $2, NULLIF($3, ''), now())`, rawClaimID, outcome, errMessage)
}

func errorOutcome(errMessage string) string {
	switch {
	case strings.HasPrefix(errMessage, "parse error"):
		return "PARSE_FAILED"
	default:
		return "VALIDATION_FAILED"
	}
}
