package claim

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hypoth/edi835/pkg/ncpdp"
)

// MapTransaction projects a parsed NcpdpTransaction into the canonical
// Claim structure. It is a pure function except for the generated id
// suffix: mapping the same transaction twice yields Claims that differ
// only in that suffix (§4.3, §8).
func MapTransaction(txn *ncpdp.Transaction) (*Claim, error) {
	if txn.Header == nil {
		return nil, newValidationError("header", "required header segment missing")
	}
	if txn.Patient == nil {
		return nil, newValidationError("patient", "required patient segment missing")
	}
	if txn.Claim == nil {
		return nil, newValidationError("claim", "required claim segment missing")
	}
	if txn.Pricing == nil {
		return nil, newValidationError("pricing", "required pricing segment missing")
	}

	serviceDate, err := ncpdp.ParseDate(txn.Claim.DateOfService)
	if err != nil {
		return nil, newValidationError("claim.dateOfService", "parsing %q: %v", txn.Claim.DateOfService, err)
	}

	payerID := "UNKNOWN"
	if txn.Patient.CarrierID != "" {
		payerID = NormalizeIdentifier(txn.Patient.CarrierID)
	}
	payeeID := txn.Header.PharmacyID
	claimNumber := txn.Claim.PrescriptionNumber

	totalCharge := totalChargeAmount(txn.Pricing)
	paid := paidAmount(txn)
	patientResp := patientResponsibilityAmount(txn, totalCharge, paid)
	adjustment := adjustmentAmount(totalCharge, paid, patientResp)

	status, statusReason := claimStatus(txn)

	line, err := buildServiceLine(txn, serviceDate)
	if err != nil {
		return nil, err
	}

	adjustments := buildAdjustments(txn, totalCharge, adjustment)

	id := fmt.Sprintf("NCPDP-%s-%s-%s-%s", payeeID, claimNumber, serviceDate.Format("20060102"), randomSuffix())

	return &Claim{
		ID:                          id,
		PayerID:                     payerID,
		PayeeID:                     payeeID,
		ClaimNumber:                 claimNumber,
		PatientID:                   txn.Patient.PatientID,
		PatientName:                 patientName(txn.Patient),
		BinNumber:                   txn.Patient.BinNumber,
		PcnNumber:                   "",
		ServiceDate:                 serviceDate,
		TotalChargeAmount:           totalCharge,
		PaidAmount:                  paid,
		PatientResponsibilityAmount: patientResp,
		AdjustmentAmount:            adjustment,
		Status:                      status,
		StatusReason:                statusReason,
		ServiceLines:                []ServiceLine{line},
		Adjustments:                 adjustments,
	}, nil
}

func patientName(p *ncpdp.PatientSegment) string {
	parts := make([]string, 0, 3)
	if p.FirstName != "" {
		parts = append(parts, p.FirstName)
	}
	if p.MiddleInitial != "" {
		parts = append(parts, p.MiddleInitial)
	}
	if p.LastName != "" {
		parts = append(parts, p.LastName)
	}
	return strings.Join(parts, " ")
}

func totalChargeAmount(p *ncpdp.PricingSegment) ncpdp.Amount {
	if p.GrossAmountDue != nil {
		return *p.GrossAmountDue
	}
	var total ncpdp.Amount
	if p.IngredientCostSubmitted != nil {
		total = total.Add(*p.IngredientCostSubmitted)
	}
	if p.DispensingFeeSubmitted != nil {
		total = total.Add(*p.DispensingFeeSubmitted)
	}
	if p.TaxAmount != nil {
		total = total.Add(*p.TaxAmount)
	}
	return total
}

func paidAmount(txn *ncpdp.Transaction) ncpdp.Amount {
	if txn.ResponsePayment != nil {
		rp := txn.ResponsePayment
		if rp.TotalAmountPaid != nil {
			return *rp.TotalAmountPaid
		}
		var sum ncpdp.Amount
		if rp.IngredientCostPaid != nil {
			sum = sum.Add(*rp.IngredientCostPaid)
		}
		if rp.DispensingFeePaid != nil {
			sum = sum.Add(*rp.DispensingFeePaid)
		}
		return sum
	}

	status := ""
	if txn.ResponseStatus != nil {
		status = txn.ResponseStatus.Status
	}

	switch status {
	case "A", "P":
		var sum ncpdp.Amount
		if txn.Pricing.IngredientCostPaid != nil {
			sum = sum.Add(*txn.Pricing.IngredientCostPaid)
		}
		if txn.Pricing.DispensingFeePaid != nil {
			sum = sum.Add(*txn.Pricing.DispensingFeePaid)
		}
		return sum
	case "R":
		return 0
	default:
		var sum ncpdp.Amount
		if txn.Pricing.IngredientCostPaid != nil {
			sum = sum.Add(*txn.Pricing.IngredientCostPaid)
		}
		if txn.Pricing.DispensingFeePaid != nil {
			sum = sum.Add(*txn.Pricing.DispensingFeePaid)
		}
		return sum
	}
}

func patientResponsibilityAmount(txn *ncpdp.Transaction, totalCharge, paid ncpdp.Amount) ncpdp.Amount {
	if txn.ResponsePayment != nil && txn.ResponsePayment.PatientPayAmount != nil {
		return *txn.ResponsePayment.PatientPayAmount
	}
	return totalCharge.Sub(paid).MaxZero()
}

func adjustmentAmount(totalCharge, paid, patientResp ncpdp.Amount) ncpdp.Amount {
	return totalCharge.Sub(paid).Sub(patientResp).MaxZero()
}

func claimStatus(txn *ncpdp.Transaction) (Status, string) {
	if txn.ResponseStatus == nil {
		return StatusProcessed, ""
	}
	switch txn.ResponseStatus.Status {
	case "A":
		return StatusPaid, ""
	case "R":
		return StatusDenied, "rejected by adjudication"
	case "P":
		return StatusPaid, ""
	default:
		return StatusProcessed, "processed without adjudication"
	}
}

func buildServiceLine(txn *ncpdp.Transaction, serviceDate time.Time) (ServiceLine, error) {
	procedureCode := txn.Claim.NDC
	if txn.Pricing.NDC != "" {
		procedureCode = txn.Pricing.NDC
	}

	var units int64
	if txn.Claim.QuantityDispensed != "" {
		qty, err := strconv.ParseFloat(txn.Claim.QuantityDispensed, 64)
		if err != nil {
			return ServiceLine{}, newValidationError("claim.quantityDispensed", "parsing %q: %v", txn.Claim.QuantityDispensed, err)
		}
		units = int64(math.Floor(qty))
	}

	charged := totalChargeAmount(txn.Pricing)

	return ServiceLine{
		ProcedureCode: procedureCode,
		Units:         units,
		ChargedAmount: charged,
		ServiceDate:   serviceDate,
	}, nil
}

func buildAdjustments(txn *ncpdp.Transaction, totalCharge, adjustmentAmt ncpdp.Amount) []ClaimAdjustment {
	var adjustments []ClaimAdjustment

	if txn.ResponseStatus != nil && txn.ResponseStatus.Status == "R" {
		adjustments = append(adjustments, ClaimAdjustment{
			GroupCode:  AdjustmentGroupPatientResponsibility,
			ReasonCode: "REJECTED",
			Amount:     totalCharge,
		})
	}

	if adjustmentAmt > 0 {
		adjustments = append(adjustments, ClaimAdjustment{
			GroupCode:  AdjustmentGroupContractualObligation,
			ReasonCode: "45",
			Amount:     adjustmentAmt,
		})
	}

	return adjustments
}
