package ncpdp

import (
	"strings"
)

const (
	tagSTX = "STX"
	tagSE  = "SE"
	tagAMC1 = "AMC1"
)

// Parse parses a single NCPDP D.0 transaction block. Segment lines may be
// delimited by '~' or newline; elements within a segment are delimited by
// '*'. Parsing is single-pass and stateless per input (§4.2).
func Parse(raw string) (*Transaction, error) {
	lines := splitSegments(raw)
	if len(lines) == 0 {
		return nil, newParseError(tagSTX, 0, "empty input")
	}

	txn := &Transaction{RawContent: raw}

	sawSTX := false
	sawSE := false

	for i, line := range lines {
		lineNo := i + 1
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		tag, elements := splitElements(line)

		switch tag {
		case tagSTX:
			sawSTX = true
			if len(elements) < 2 {
				return nil, newParseError(tagSTX, lineNo, "expected at least 2 elements, got %d", len(elements))
			}
			txn.TransactionID = elements[1]
		case tagSE:
			sawSE = true
			if len(elements) < 1 {
				return nil, newParseError(tagSE, lineNo, "missing transaction id")
			}
			if txn.TransactionID != "" && elements[0] != txn.TransactionID {
				return nil, newParseError(tagSE, lineNo, "trailer transaction id %q does not match header %q", elements[0], txn.TransactionID)
			}
		case tagAMC1:
			// trailer marker, no data carried
		case "AM01":
			if len(elements) < 2 {
				return nil, newParseError(tag, lineNo, "expected at least 2 elements")
			}
			txn.Header = &HeaderSegment{VersionCode: elements[0], PharmacyID: elements[1]}
		case "AM04":
			txn.Insurance = &InsuranceSegment{Elements: elements}
		case "AM07":
			if len(elements) < 3 {
				return nil, newParseError(tag, lineNo, "expected at least 3 elements")
			}
			seg := &PatientSegment{CarrierID: elements[0], BinNumber: elements[1], PatientID: elements[2]}
			if len(elements) > 3 {
				seg.FirstName = elements[3]
			}
			if len(elements) > 4 {
				seg.MiddleInitial = elements[4]
			}
			if len(elements) > 5 {
				seg.LastName = elements[5]
			}
			txn.Patient = seg
		case "AM11":
			seg := &PrescriberSegment{Elements: elements}
			if len(elements) > 0 {
				seg.PrescriberID = elements[0]
			}
			txn.Prescriber = seg
		case "AM13":
			if len(elements) < 4 {
				return nil, newParseError(tag, lineNo, "expected at least 4 elements")
			}
			seg := &ClaimSegment{
				DateOfService:      elements[0],
				PrescriptionNumber: elements[1],
				FillNumber:         elements[2],
				NDC:                elements[3],
			}
			if len(elements) > 4 {
				seg.QuantityDispensed = elements[4]
			}
			if len(elements) > 5 {
				seg.UnitOfMeasure = elements[5]
			}
			if len(elements) > 6 {
				seg.DaysSupply = elements[6]
			}
			if len(elements) > 7 {
				seg.DiagnosisCode = elements[7]
			}
			txn.Claim = seg
		case "AM14":
			txn.Compound = &CompoundSegment{Elements: elements}
		case "AM15":
			pricing, err := parsePricingSegment(tag, lineNo, elements)
			if err != nil {
				return nil, err
			}
			if len(elements) > 0 {
				pricing.NDC = elements[0]
			}
			txn.Pricing = mergePricing(txn.Pricing, pricing)
		case "AM17":
			pricing, err := parsePricingSegment(tag, lineNo, elements)
			if err != nil {
				return nil, err
			}
			txn.Pricing = mergePricing(txn.Pricing, pricing)
		case "AM19":
			txn.PriorAuthorization = &PriorAuthorizationSegment{Elements: elements}
		case "AM20":
			txn.Clinical = &ClinicalSegment{Elements: elements}
		case "AM21":
			txn.AdditionalDocumentation = &AdditionalDocumentationSegment{Elements: elements}
		case "AN02":
			seg := &ResponseStatusSegment{}
			if len(elements) > 0 {
				seg.Message = elements[0]
			}
			if len(elements) > 1 {
				seg.Status = elements[1]
			}
			txn.ResponseStatus = seg
		case "AN23":
			resp, err := parseResponsePaymentSegment(tag, lineNo, elements)
			if err != nil {
				return nil, err
			}
			txn.ResponsePayment = resp
		case "AN25":
			txn.ResponseMessage = &ResponseMessageSegment{Elements: elements}
		default:
			// Unrecognized tags are ignored rather than rejected — the
			// format is extensible and the core only needs the segments
			// that drive bucketing and remittance totals.
		}
	}

	if !sawSTX {
		return nil, newParseError(tagSTX, 0, "missing STX header")
	}
	if !sawSE {
		return nil, newParseError(tagSE, len(lines), "missing SE trailer")
	}
	if txn.Header == nil {
		return nil, newParseError("AM01", 0, "required header segment missing")
	}
	if txn.Patient == nil {
		return nil, newParseError("AM07", 0, "required patient segment missing")
	}
	if txn.Claim == nil {
		return nil, newParseError("AM13", 0, "required claim segment missing")
	}
	if txn.Pricing == nil {
		return nil, newParseError("AM15/AM17", 0, "required pricing segment missing")
	}

	return txn, nil
}

// splitSegments splits raw input into segment lines on '~' or newline.
func splitSegments(raw string) []string {
	normalized := strings.ReplaceAll(raw, "~", "\n")
	rawLines := strings.Split(normalized, "\n")
	lines := make([]string, 0, len(rawLines))
	for _, l := range rawLines {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// splitElements splits a segment line into its leading tag and the
// '*'-delimited elements that follow, discarding a trailing empty element
// produced by a trailing delimiter.
func splitElements(line string) (tag string, elements []string) {
	parts := strings.Split(strings.TrimSpace(line), "*")
	tag = parts[0]
	rest := parts[1:]
	if len(rest) > 0 && rest[len(rest)-1] == "" {
		rest = rest[:len(rest)-1]
	}
	return tag, rest
}

// parsePricingSegment parses an amount-coded (code, value) pair sequence
// shared by AM15/AM17 into a PricingSegment.
func parsePricingSegment(tag string, lineNo int, elements []string) (*PricingSegment, error) {
	seg := &PricingSegment{}
	codes, err := parseAmountCodePairs(tag, lineNo, elements)
	if err != nil {
		return nil, err
	}
	for code, amt := range codes {
		amt := amt
		switch code {
		case "01":
			seg.IngredientCostSubmitted = &amt
		case "02":
			seg.IngredientCostPaid = &amt
		case "03":
			seg.DispensingFeeSubmitted = &amt
		case "04":
			seg.DispensingFeePaid = &amt
		case "05":
			seg.TaxAmount = &amt
		case "11":
			seg.GrossAmountDue = &amt
		}
	}
	return seg, nil
}

// parseResponsePaymentSegment parses AN23 into a ResponsePaymentSegment.
func parseResponsePaymentSegment(tag string, lineNo int, elements []string) (*ResponsePaymentSegment, error) {
	seg := &ResponsePaymentSegment{}
	codes, err := parseAmountCodePairs(tag, lineNo, elements)
	if err != nil {
		return nil, err
	}
	for code, amt := range codes {
		amt := amt
		switch code {
		case "01":
			seg.IngredientCostPaid = &amt
		case "02":
			seg.DispensingFeePaid = &amt
		case "03":
			seg.PatientPayAmount = &amt
		case "05":
			seg.TotalAmountPaid = &amt
		}
	}
	return seg, nil
}

// parseAmountCodePairs parses a flat (code, value, code, value, ...)
// element sequence into a code → amount map.
func parseAmountCodePairs(tag string, lineNo int, elements []string) (map[string]Amount, error) {
	if len(elements)%2 != 0 {
		return nil, newParseError(tag, lineNo, "amount-coded segment has an odd element count: %d", len(elements))
	}
	out := make(map[string]Amount, len(elements)/2)
	for i := 0; i < len(elements); i += 2 {
		code := elements[i]
		amt, present, err := ParseAmount(elements[i+1])
		if err != nil {
			return nil, newParseError(tag, lineNo, "parsing amount for code %q: %v", code, err)
		}
		if !present {
			continue
		}
		out[code] = amt
	}
	return out, nil
}

// mergePricing combines two partial pricing segments (AM15 and AM17 may
// both be present), with non-nil fields from the more recently parsed
// segment taking precedence.
func mergePricing(existing, incoming *PricingSegment) *PricingSegment {
	if existing == nil {
		return incoming
	}
	if incoming.NDC != "" {
		existing.NDC = incoming.NDC
	}
	if incoming.IngredientCostSubmitted != nil {
		existing.IngredientCostSubmitted = incoming.IngredientCostSubmitted
	}
	if incoming.IngredientCostPaid != nil {
		existing.IngredientCostPaid = incoming.IngredientCostPaid
	}
	if incoming.DispensingFeeSubmitted != nil {
		existing.DispensingFeeSubmitted = incoming.DispensingFeeSubmitted
	}
	if incoming.DispensingFeePaid != nil {
		existing.DispensingFeePaid = incoming.DispensingFeePaid
	}
	if incoming.TaxAmount != nil {
		existing.TaxAmount = incoming.TaxAmount
	}
	if incoming.GrossAmountDue != nil {
		existing.GrossAmountDue = incoming.GrossAmountDue
	}
	return existing
}
