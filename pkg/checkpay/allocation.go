package checkpay

import (
	"fmt"
	"strconv"
)

// NextCheckNumber computes the check number at offset checksUsedBefore past
// start, per §9's resolution of the check-number allocation open question:
// "lexicographic successor on a fixed-width numeric suffix; the source
// assumes all ranges are <prefix><padded-number> with identical padding."
// checksUsedBefore is the reservation's checksUsed value *before* this
// assignment (so the first check allocated is start itself, matching §4.8's
// "start + (checksUsed − 1)" once checksUsed has already been incremented).
func NextCheckNumber(start string, checksUsedBefore int64) (string, error) {
	prefix, digits, width, err := splitFixedWidthSuffix(start)
	if err != nil {
		return "", err
	}
	base, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return "", fmt.Errorf("check number %q has non-numeric suffix: %w", start, err)
	}
	next := base + checksUsedBefore
	rendered := strconv.FormatInt(next, 10)
	if len(rendered) > width {
		return "", fmt.Errorf("check number %q allocation overflowed %d-digit suffix", start, width)
	}
	return fmt.Sprintf("%s%0*d", prefix, width, next), nil
}

// splitFixedWidthSuffix separates a check number into its non-numeric
// prefix and fixed-width numeric suffix, rejecting shapes that are not
// <prefix><padded-number> with a uniform digit run at the end.
func splitFixedWidthSuffix(checkNumber string) (prefix, digits string, width int, err error) {
	i := len(checkNumber)
	for i > 0 && checkNumber[i-1] >= '0' && checkNumber[i-1] <= '9' {
		i--
	}
	if i == len(checkNumber) {
		return "", "", 0, fmt.Errorf("check number %q has no numeric suffix", checkNumber)
	}
	return checkNumber[:i], checkNumber[i:], len(checkNumber) - i, nil
}

// WithinRange reports whether candidate (as an absolute numeric value) is
// still inside [start, end] for the reservation's range. AssignAuto uses it
// to check each allocated number; start, end and candidate must share a
// prefix and width.
func WithinRange(start, end, candidate string) (bool, error) {
	sp, sd, sw, err := splitFixedWidthSuffix(start)
	if err != nil {
		return false, err
	}
	ep, _, ew, err := splitFixedWidthSuffix(end)
	if err != nil {
		return false, err
	}
	if sp != ep || sw != ew {
		return false, fmt.Errorf("reservation range %s..%s does not share a uniform <prefix><padded-number> shape", start, end)
	}
	cp, cd, cw, err := splitFixedWidthSuffix(candidate)
	if err != nil {
		return false, err
	}
	if cp != sp || cw != sw {
		return false, fmt.Errorf("check number %q does not match reservation shape", candidate)
	}

	startN, _ := strconv.ParseInt(sd, 10, 64)
	endN, _ := strconv.ParseInt(end[len(ep):], 10, 64)
	candN, _ := strconv.ParseInt(cd, 10, 64)
	return candN >= startN && candN <= endN, nil
}
