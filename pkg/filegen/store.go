package filegen

import (
	"context"
	"errors"
	"fmt"

	"github.com/hypoth/edi835/internal/db"
)

// Store persists FileGenerationHistory rows (§3/§6).
type Store interface {
	Create(ctx context.Context, h FileGenerationHistory) (*FileGenerationHistory, error)
	Get(ctx context.Context, fileID string) (*FileGenerationHistory, error)

	// ListPendingOrRetry returns rows eligible for a delivery attempt:
	// deliveryStatus in (PENDING, RETRY) and retryCount < maxRetries.
	ListPendingOrRetry(ctx context.Context, maxRetries int) ([]FileGenerationHistory, error)

	MarkDelivered(ctx context.Context, fileID string) (*FileGenerationHistory, error)
	MarkRetry(ctx context.Context, fileID string, errMessage string) (*FileGenerationHistory, error)
	MarkFailed(ctx context.Context, fileID string, errMessage string) (*FileGenerationHistory, error)
}

// PostgresStore implements Store against file_generation_history.
type PostgresStore struct{ dbtx db.DBTX }

func NewPostgresStore(dbtx db.DBTX) *PostgresStore { return &PostgresStore{dbtx: dbtx} }

const historyColumns = `
	file_id, bucket_id, payer_id, file_name, file_path, file_size_bytes, claim_count, total_amount_cents,
	content, generated_at, delivery_status, delivered_at, retry_count, COALESCE(error_message, '')`

func scanHistory(row interface {
	Scan(dest ...any) error
}) (*FileGenerationHistory, error) {
	var h FileGenerationHistory
	if err := row.Scan(&h.FileID, &h.BucketID, &h.PayerID, &h.FileName, &h.FilePath, &h.FileSizeBytes, &h.ClaimCount,
		&h.TotalAmount, &h.Content, &h.GeneratedAt, &h.DeliveryStatus, &h.DeliveredAt, &h.RetryCount, &h.ErrorMessage); err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *PostgresStore) Create(ctx context.Context, h FileGenerationHistory) (*FileGenerationHistory, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO file_generation_history (
			file_id, bucket_id, payer_id, file_name, file_path, file_size_bytes, claim_count, total_amount_cents,
			content, generated_at, delivery_status, retry_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), $10, 0)
		RETURNING `+historyColumns,
		h.FileID, h.BucketID, h.PayerID, h.FileName, h.FilePath, h.FileSizeBytes, h.ClaimCount, h.TotalAmount,
		h.Content, DeliveryPending)

	created, err := scanHistory(row)
	if err != nil {
		return nil, fmt.Errorf("recording file generation history for bucket %s: %w", h.BucketID, err)
	}
	return created, nil
}

func (s *PostgresStore) Get(ctx context.Context, fileID string) (*FileGenerationHistory, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+historyColumns+` FROM file_generation_history WHERE file_id = $1`, fileID)
	h, err := scanHistory(row)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching file generation history %s: %w", fileID, err)
	}
	return h, nil
}

func (s *PostgresStore) ListPendingOrRetry(ctx context.Context, maxRetries int) ([]FileGenerationHistory, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT `+historyColumns+`
		FROM file_generation_history
		WHERE delivery_status IN ($1, $2) AND retry_count < $3
		ORDER BY generated_at`, DeliveryPending, DeliveryRetry, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("listing deliverable file generation history: %w", err)
	}
	defer rows.Close()

	var out []FileGenerationHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file_generation_history row: %w", err)
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, fileID string) (*FileGenerationHistory, error) {
	row := s.dbtx.QueryRow(ctx, `
		UPDATE file_generation_history
		SET delivery_status = $2, delivered_at = now()
		WHERE file_id = $1
		RETURNING `+historyColumns, fileID, DeliveryDelivered)
	updated, err := scanHistory(row)
	if err != nil {
		return nil, fmt.Errorf("marking file generation history %s delivered: %w", fileID, err)
	}
	return updated, nil
}

func (s *PostgresStore) MarkRetry(ctx context.Context, fileID string, errMessage string) (*FileGenerationHistory, error) {
	row := s.dbtx.QueryRow(ctx, `
		UPDATE file_generation_history
		SET delivery_status = $2, retry_count = retry_count + 1, error_message = $3
		WHERE file_id = $1
		RETURNING `+historyColumns, fileID, DeliveryRetry, errMessage)
	updated, err := scanHistory(row)
	if err != nil {
		return nil, fmt.Errorf("marking file generation history %s for retry: %w", fileID, err)
	}
	return updated, nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, fileID string, errMessage string) (*FileGenerationHistory, error) {
	row := s.dbtx.QueryRow(ctx, `
		UPDATE file_generation_history
		SET delivery_status = $2, retry_count = retry_count + 1, error_message = $3
		WHERE file_id = $1
		RETURNING `+historyColumns, fileID, DeliveryFailed, errMessage)
	updated, err := scanHistory(row)
	if err != nil {
		return nil, fmt.Errorf("marking file generation history %s failed: %w", fileID, err)
	}
	return updated, nil
}

// PostgresConfigStore implements ConfigStore against the payers/payees
// tables bucket.PostgresConfigStore also reads (it only needs existence
// checks; generation needs the full SFTP/naming record).
type PostgresConfigStore struct{ dbtx db.DBTX }

func NewPostgresConfigStore(dbtx db.DBTX) *PostgresConfigStore { return &PostgresConfigStore{dbtx: dbtx} }

func (s *PostgresConfigStore) Payer(ctx context.Context, payerID string) (*PayerConfig, error) {
	row := s.dbtx.QueryRow(ctx, `
		SELECT id, name, COALESCE(edi_sender_id, ''), COALESCE(sftp_host, ''), COALESCE(sftp_port, 0),
		       COALESCE(sftp_username, ''), COALESCE(sftp_path_template, ''), COALESCE(sftp_encrypted_password, ''),
		       COALESCE(naming_template, ''), is_active
		FROM payers WHERE id = $1`, payerID)

	var p PayerConfig
	if err := row.Scan(&p.ID, &p.Name, &p.EDISenderID, &p.SFTPHost, &p.SFTPPort, &p.SFTPUsername,
		&p.SFTPPathTemplate, &p.SFTPEncryptedPassword, &p.NamingTemplate, &p.IsActive); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching payer %s: %w", payerID, err)
	}
	return &p, nil
}

func (s *PostgresConfigStore) Payee(ctx context.Context, payeeID string) (*PayeeConfig, error) {
	row := s.dbtx.QueryRow(ctx, `
		SELECT id, name, COALESCE(pharmacy_npi, ''), COALESCE(remittance_email, ''), is_active
		FROM payees WHERE id = $1`, payeeID)

	var p PayeeConfig
	if err := row.Scan(&p.ID, &p.Name, &p.PharmacyNPI, &p.RemittanceEmail, &p.IsActive); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching payee %s: %w", payeeID, err)
	}
	return &p, nil
}
