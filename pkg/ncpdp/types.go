// Package ncpdp parses NCPDP D.0 pharmacy claim transactions: segmented,
// delimited text bounded by STX/SE framing, into a typed Transaction.
package ncpdp

import "time"

// HeaderSegment is AM01.
type HeaderSegment struct {
	VersionCode string
	PharmacyID  string
}

// InsuranceSegment is AM04, carried through for completeness; the mapper
// does not currently consume it.
type InsuranceSegment struct {
	Elements []string
}

// PatientSegment is AM07.
type PatientSegment struct {
	CarrierID     string
	BinNumber     string
	PatientID     string
	FirstName     string
	MiddleInitial string
	LastName      string
}

// PrescriberSegment is AM11.
type PrescriberSegment struct {
	PrescriberID string
	Elements     []string
}

// ClaimSegment is AM13.
type ClaimSegment struct {
	DateOfService      string
	PrescriptionNumber string
	FillNumber         string
	NDC                string
	QuantityDispensed   string
	UnitOfMeasure       string
	DaysSupply          string
	DiagnosisCode       string
}

// CompoundSegment is AM14, optional.
type CompoundSegment struct {
	Elements []string
}

// PricingSegment is AM15 or AM17: a variable-length sequence of
// (code, value) pairs. Pointer fields distinguish "absent" from "zero".
type PricingSegment struct {
	NDC                     string
	IngredientCostSubmitted *Amount
	IngredientCostPaid      *Amount
	DispensingFeeSubmitted  *Amount
	DispensingFeePaid       *Amount
	TaxAmount               *Amount
	GrossAmountDue          *Amount
}

// PriorAuthorizationSegment is AM19, optional.
type PriorAuthorizationSegment struct {
	Elements []string
}

// ClinicalSegment is AM20, optional.
type ClinicalSegment struct {
	Elements []string
}

// AdditionalDocumentationSegment is AM21, optional.
type AdditionalDocumentationSegment struct {
	Elements []string
}

// ResponseStatusSegment is AN02, optional.
type ResponseStatusSegment struct {
	Message string
	Status  string // "A" approved, "R" rejected, "P" paid, other = processed-without-adjudication
}

// ResponsePaymentSegment is AN23, optional: the same amount-code table as
// PricingSegment, interpreted as paid/response amounts.
type ResponsePaymentSegment struct {
	IngredientCostPaid *Amount
	DispensingFeePaid  *Amount
	PatientPayAmount   *Amount
	TotalAmountPaid    *Amount
}

// ResponseMessageSegment is AN25, optional.
type ResponseMessageSegment struct {
	Elements []string
}

// Transaction is the full parsed NCPDP D.0 transaction aggregate (§4.2).
type Transaction struct {
	TransactionID string
	RawContent    string

	Header                  *HeaderSegment
	Insurance               *InsuranceSegment
	Patient                 *PatientSegment
	Prescriber              *PrescriberSegment
	Claim                   *ClaimSegment
	Compound                *CompoundSegment
	Pricing                 *PricingSegment
	PriorAuthorization      *PriorAuthorizationSegment
	Clinical                *ClinicalSegment
	AdditionalDocumentation *AdditionalDocumentationSegment
	ResponseStatus          *ResponseStatusSegment
	ResponsePayment         *ResponsePaymentSegment
	ResponseMessage         *ResponseMessageSegment
}

// ParseDate parses an NCPDP yyyyMMdd date string. Parse failure is a
// validation error, never a silent substitution (§4.2).
func ParseDate(raw string) (time.Time, error) {
	return time.Parse("20060102", raw)
}

// ParseTime parses an NCPDP HHmmss time string.
func ParseTime(raw string) (time.Time, error) {
	return time.Parse("150405", raw)
}
