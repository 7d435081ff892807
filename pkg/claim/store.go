package claim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hypoth/edi835/internal/db"
	"github.com/hypoth/edi835/pkg/ncpdp"
)

// Store persists the canonical Claim record (§3's `claims` table).
type Store interface {
	// Save inserts c, or is a no-op if c.ID already exists (a claim is
	// immutable once emitted to the bucket aggregator).
	Save(ctx context.Context, c *Claim) error
	Get(ctx context.Context, id string) (*Claim, error)
	// ListByIDs loads every claim named in ids, in no particular order;
	// used by C7 to assemble the claims-of-bucket input to the serializer.
	ListByIDs(ctx context.Context, ids []string) ([]Claim, error)
}

// PostgresStore implements Store against the claims table.
type PostgresStore struct{ dbtx db.DBTX }

// NewPostgresStore builds a Store bound to dbtx.
func NewPostgresStore(dbtx db.DBTX) *PostgresStore { return &PostgresStore{dbtx: dbtx} }

func (s *PostgresStore) Save(ctx context.Context, c *Claim) error {
	serviceLines, err := json.Marshal(c.ServiceLines)
	if err != nil {
		return fmt.Errorf("marshaling service lines for claim %s: %w", c.ID, err)
	}
	adjustments, err := json.Marshal(c.Adjustments)
	if err != nil {
		return fmt.Errorf("marshaling adjustments for claim %s: %w", c.ID, err)
	}

	_, err = s.dbtx.Exec(ctx, `
		INSERT INTO claims (
			id, payer_id, payee_id, claim_number, patient_id, patient_name,
			bin_number, pcn_number, service_date, total_charge_amount_cents,
			paid_amount_cents, patient_responsibility_amount_cents, adjustment_amount_cents,
			status, status_reason, service_lines, adjustments, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12, $13, $14, $15, $16, $17, now(), now())
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.PayerID, c.PayeeID, c.ClaimNumber, c.PatientID, c.PatientName,
		c.BinNumber, c.PcnNumber, c.ServiceDate, int64(c.TotalChargeAmount),
		int64(c.PaidAmount), int64(c.PatientResponsibilityAmount), int64(c.AdjustmentAmount),
		c.Status, c.StatusReason, serviceLines, adjustments)
	if err != nil {
		return fmt.Errorf("saving claim %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Claim, error) {
	row := s.dbtx.QueryRow(ctx, claimSelectSQL+` WHERE id = $1`, id)
	c, err := scanClaim(row)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching claim %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) ListByIDs(ctx context.Context, ids []string) ([]Claim, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.dbtx.Query(ctx, claimSelectSQL+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("listing claims by id: %w", err)
	}
	defer rows.Close()

	var out []Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning claim row: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

const claimSelectSQL = `
	SELECT id, payer_id, payee_id, claim_number, patient_id, patient_name,
	       COALESCE(bin_number, ''), COALESCE(pcn_number, ''), service_date,
	       total_charge_amount_cents, paid_amount_cents, patient_responsibility_amount_cents,
	       adjustment_amount_cents, status, status_reason, service_lines, adjustments,
	       created_at, updated_at
	FROM claims`

func scanClaim(row interface {
	Scan(dest ...any) error
}) (*Claim, error) {
	var c Claim
	var total, paid, patientResp, adjustmentTotal int64
	var serviceLines, adjustments []byte
	if err := row.Scan(&c.ID, &c.PayerID, &c.PayeeID, &c.ClaimNumber, &c.PatientID, &c.PatientName,
		&c.BinNumber, &c.PcnNumber, &c.ServiceDate, &total, &paid, &patientResp, &adjustmentTotal,
		&c.Status, &c.StatusReason, &serviceLines, &adjustments, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.TotalChargeAmount = ncpdp.Amount(total)
	c.PaidAmount = ncpdp.Amount(paid)
	c.PatientResponsibilityAmount = ncpdp.Amount(patientResp)
	c.AdjustmentAmount = ncpdp.Amount(adjustmentTotal)
	if len(serviceLines) > 0 {
		if err := json.Unmarshal(serviceLines, &c.ServiceLines); err != nil {
			return nil, fmt.Errorf("unmarshaling service lines for claim %s: %w", c.ID, err)
		}
	}
	if len(adjustments) > 0 {
		if err := json.Unmarshal(adjustments, &c.Adjustments); err != nil {
			return nil, fmt.Errorf("unmarshaling adjustments for claim %s: %w", c.ID, err)
		}
	}
	return &c, nil
}
