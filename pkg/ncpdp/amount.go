package ncpdp

import (
	"fmt"
	"strconv"
	"strings"
)

// Amount is a fixed-point monetary value stored as integer cents, avoiding
// the float rounding error that would otherwise creep into bucket totals
// accumulated across thousands of claims.
type Amount int64

// ParseAmount parses a free-form decimal string ("102.50", "102.5", "102")
// into cents. An empty string means "absent", not zero, per §4.2 — callers
// must check present before using the zero value.
func ParseAmount(raw string) (amount Amount, present bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}

	neg := false
	if strings.HasPrefix(raw, "-") {
		neg = true
		raw = raw[1:]
	}

	parts := strings.SplitN(raw, ".", 2)
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}

	wholeVal, err := strconv.ParseInt(whole, 10, 63)
	if err != nil {
		return 0, true, fmt.Errorf("parsing amount %q: %w", raw, err)
	}
	fracVal, err := strconv.ParseInt(frac, 10, 63)
	if err != nil {
		return 0, true, fmt.Errorf("parsing amount %q: %w", raw, err)
	}

	cents := wholeVal*100 + fracVal
	if neg {
		cents = -cents
	}
	return Amount(cents), true, nil
}

// String renders the amount as a decimal string with two fractional digits.
func (a Amount) String() string {
	neg := a < 0
	v := int64(a)
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%d.%02d", v/100, v%100)
	if neg {
		s = "-" + s
	}
	return s
}

// Add returns the sum of two amounts.
func (a Amount) Add(b Amount) Amount { return a + b }

// Sub returns a minus b.
func (a Amount) Sub(b Amount) Amount { return a - b }

// MaxZero returns a if positive, else zero — used throughout the mapper's
// "max(0, ...)" rules.
func (a Amount) MaxZero() Amount {
	if a < 0 {
		return 0
	}
	return a
}
