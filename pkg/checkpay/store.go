package checkpay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hypoth/edi835/internal/db"
)

// Store is C8's persistence contract.
type Store interface {
	// OldestActiveReservation returns the oldest ACTIVE reservation for
	// payerID, or nil if none remain.
	OldestActiveReservation(ctx context.Context, payerID string) (*CheckReservation, error)
	GetReservation(ctx context.Context, reservationID string) (*CheckReservation, error)

	// IncrementChecksUsed atomically bumps checksUsed by one (flipping
	// status to EXHAUSTED when it reaches totalChecks) and returns the
	// updated reservation. ok=false means the reservation was already
	// exhausted/cancelled by a concurrent assignment.
	IncrementChecksUsed(ctx context.Context, reservationID string) (ok bool, updated *CheckReservation, err error)

	CreatePayment(ctx context.Context, p CheckPayment) (*CheckPayment, error)
	GetPayment(ctx context.Context, id string) (*CheckPayment, error)
	GetPaymentByBucket(ctx context.Context, bucketID string) (*CheckPayment, error)

	// UpdatePaymentStatus performs a compare-and-set transition, mirroring
	// bucket.Store's UpdateStatus pattern.
	UpdatePaymentStatus(ctx context.Context, id string, fromStatuses []CheckPaymentStatus, mutate func(*CheckPayment)) (ok bool, updated *CheckPayment, err error)

	AppendAuditLog(ctx context.Context, entry CheckAuditLog) error
}

// PostgresStore implements Store against check_reservations/check_payments/
// check_audit_log.
type PostgresStore struct{ dbtx db.DBTX }

func NewPostgresStore(dbtx db.DBTX) *PostgresStore { return &PostgresStore{dbtx: dbtx} }

const reservationColumns = `
	id, payer_id, check_number_start, check_number_end, total_checks, checks_used,
	COALESCE(bank_name, ''), COALESCE(routing_number, ''), COALESCE(account_last4, ''), status, created_at`

func scanReservation(row interface {
	Scan(dest ...any) error
}) (*CheckReservation, error) {
	var r CheckReservation
	if err := row.Scan(&r.ID, &r.PayerID, &r.CheckNumberStart, &r.CheckNumberEnd, &r.TotalChecks, &r.ChecksUsed,
		&r.BankName, &r.RoutingNumber, &r.AccountLast4, &r.Status, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) OldestActiveReservation(ctx context.Context, payerID string) (*CheckReservation, error) {
	row := s.dbtx.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM check_reservations
		WHERE payer_id = $1 AND status = $2
		ORDER BY created_at ASC LIMIT 1`, payerID, ReservationActive)
	r, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding oldest active reservation for payer %s: %w", payerID, err)
	}
	return r, nil
}

func (s *PostgresStore) GetReservation(ctx context.Context, reservationID string) (*CheckReservation, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM check_reservations WHERE id = $1`, reservationID)
	r, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching reservation %s: %w", reservationID, err)
	}
	return r, nil
}

// IncrementChecksUsed is the one-statement CAS at the heart of assignAuto's
// transactional requirement (§4.8): the UPDATE only applies while the
// reservation is still ACTIVE, so two concurrent auto-assignments against
// the same reservation cannot both succeed for the same check number.
func (s *PostgresStore) IncrementChecksUsed(ctx context.Context, reservationID string) (bool, *CheckReservation, error) {
	row := s.dbtx.QueryRow(ctx, `
		UPDATE check_reservations
		SET checks_used = checks_used + 1,
		    status = CASE WHEN checks_used + 1 >= total_checks THEN $2 ELSE status END
		WHERE id = $1 AND status = $3
		RETURNING `+reservationColumns, reservationID, ReservationExhausted, ReservationActive)

	updated, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("incrementing checks_used for reservation %s: %w", reservationID, err)
	}
	return true, updated, nil
}

const paymentColumns = `
	id, bucket_id, check_number, check_amount_cents, check_date,
	COALESCE(bank_name, ''), COALESCE(routing_number, ''), COALESCE(account_last4, ''),
	status, COALESCE(reservation_id, ''), issued_at, created_at, updated_at`

func scanPayment(row interface {
	Scan(dest ...any) error
}) (*CheckPayment, error) {
	var p CheckPayment
	if err := row.Scan(&p.ID, &p.BucketID, &p.CheckNumber, &p.CheckAmount, &p.CheckDate,
		&p.BankName, &p.RoutingNumber, &p.AccountLast4, &p.Status, &p.ReservationID,
		&p.IssuedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) CreatePayment(ctx context.Context, p CheckPayment) (*CheckPayment, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO check_payments (
			id, bucket_id, check_number, check_amount_cents, check_date,
			bank_name, routing_number, account_last4, status, reservation_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), now(), now())
		RETURNING `+paymentColumns,
		p.ID, p.BucketID, p.CheckNumber, p.CheckAmount, p.CheckDate,
		p.BankName, p.RoutingNumber, p.AccountLast4, p.Status, p.ReservationID)

	created, err := scanPayment(row)
	if err != nil {
		return nil, fmt.Errorf("creating check payment for bucket %s: %w", p.BucketID, err)
	}
	return created, nil
}

func (s *PostgresStore) GetPayment(ctx context.Context, id string) (*CheckPayment, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM check_payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching check payment %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) GetPaymentByBucket(ctx context.Context, bucketID string) (*CheckPayment, error) {
	row := s.dbtx.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM check_payments
		WHERE bucket_id = $1 AND status NOT IN ($2, $3)
		ORDER BY created_at DESC LIMIT 1`, bucketID, CheckVoid, CheckCancelled)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching check payment for bucket %s: %w", bucketID, err)
	}
	return p, nil
}

func (s *PostgresStore) UpdatePaymentStatus(ctx context.Context, id string, fromStatuses []CheckPaymentStatus, mutate func(*CheckPayment)) (bool, *CheckPayment, error) {
	current, err := s.GetPayment(ctx, id)
	if err != nil {
		return false, nil, err
	}
	if current == nil {
		return false, nil, &CheckPaymentNotFoundError{ID: id}
	}
	allowed := false
	for _, st := range fromStatuses {
		if current.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, current, nil
	}

	next := *current
	mutate(&next)

	statusList := make([]string, len(fromStatuses))
	for i, st := range fromStatuses {
		statusList[i] = string(st)
	}

	row := s.dbtx.QueryRow(ctx, `
		UPDATE check_payments
		SET status = $2, issued_at = $3, updated_at = now()
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+paymentColumns, id, next.Status, next.IssuedAt, statusList)

	updated, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return false, current, nil
		}
		return false, nil, fmt.Errorf("updating check payment %s status: %w", id, err)
	}
	return true, updated, nil
}

func (s *PostgresStore) AppendAuditLog(ctx context.Context, entry CheckAuditLog) error {
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("marshaling check audit log detail for check %s: %w", entry.CheckID, err)
	}
	_, err = s.dbtx.Exec(ctx, `
		INSERT INTO check_audit_log (id, check_id, action, actor, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		entry.ID, entry.CheckID, entry.Action, entry.Actor, detail)
	if err != nil {
		return fmt.Errorf("appending check audit log for check %s: %w", entry.CheckID, err)
	}
	return nil
}
