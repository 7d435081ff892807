// Package ingest implements the NCPDP ingestion controller (C4): it drives
// RawNcpdpClaim rows from PENDING through parse → map → forward, managing
// per-row status, retry, and stuck-row detection.
package ingest

import "time"

// Status is the RawNcpdpClaim lifecycle status (§3).
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
	StatusFailed     Status = "FAILED"
)

// RawNcpdpClaim is one raw pharmacy transaction awaiting ingestion (§3).
type RawNcpdpClaim struct {
	ID                     string
	PayerID                string
	PharmacyID             string
	TransactionID          string
	RawContent             string
	TransactionType        string
	ServiceDate            time.Time
	PatientID              string
	PrescriptionNumber     string
	Status                 Status
	CreatedDate            time.Time
	ProcessingStartedDate  *time.Time
	ProcessedDate          *time.Time
	ClaimID                string
	ErrorMessage           string
	RetryCount             int
}
