// Package claim defines the canonical Claim structure and the pure
// NcpdpTransaction → Claim mapping (C3).
package claim

import (
	"time"

	"github.com/google/uuid"
	"github.com/hypoth/edi835/pkg/ncpdp"
)

// Status is the claim lifecycle status (§3).
type Status string

const (
	StatusProcessed Status = "PROCESSED"
	StatusPaid      Status = "PAID"
	StatusDenied    Status = "DENIED"
	StatusAdjusted  Status = "ADJUSTED"
	StatusPending   Status = "PENDING"
)

// ServiceLine is one dispensed item on a claim.
type ServiceLine struct {
	ProcedureCode string
	Units         int64
	ChargedAmount ncpdp.Amount
	ServiceDate   time.Time
}

// AdjustmentGroupCode classifies a ClaimAdjustment per standard remittance
// group codes.
type AdjustmentGroupCode string

const (
	AdjustmentGroupPatientResponsibility AdjustmentGroupCode = "PR"
	AdjustmentGroupContractualObligation AdjustmentGroupCode = "CO"
)

// ClaimAdjustment is one claim-level adjustment reason/amount pair.
type ClaimAdjustment struct {
	GroupCode  AdjustmentGroupCode
	ReasonCode string
	Amount     ncpdp.Amount
}

// Claim is the canonical internal claim record (§3), produced by C3 or an
// external producer and immutable once emitted to the bucket aggregator.
type Claim struct {
	ID                          string
	PayerID                     string
	PayeeID                     string
	ClaimNumber                 string
	PatientID                   string
	PatientName                 string
	BinNumber                   string
	PcnNumber                   string
	ServiceDate                 time.Time
	TotalChargeAmount           ncpdp.Amount
	PaidAmount                  ncpdp.Amount
	PatientResponsibilityAmount ncpdp.Amount
	AdjustmentAmount            ncpdp.Amount
	Status                      Status
	StatusReason                string
	ServiceLines                []ServiceLine
	Adjustments                 []ClaimAdjustment
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// randomSuffix generates an opaque claim identifier suffix. It is the only
// non-deterministic input to MapTransaction, per the §8 round-trip law.
func randomSuffix() string {
	return uuid.New().String()[:8]
}
