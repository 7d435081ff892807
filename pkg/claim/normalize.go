package claim

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var nonIdentifierChar = regexp.MustCompile(`[^A-Z0-9_]`)
var repeatedUnderscore = regexp.MustCompile(`_+`)

// NormalizeIdentifier upper-cases raw, replaces any character outside
// [A-Z0-9_] with '_', collapses runs of '_', and trims leading/trailing
// '_' (§4.3).
func NormalizeIdentifier(raw string) string {
	s := strings.ToUpper(raw)
	s = nonIdentifierChar.ReplaceAllString(s, "_")
	s = repeatedUnderscore.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	return s
}

// NormalizeISASender applies NormalizeIdentifier, then additionally strips
// '_', truncates to 15 characters, and substitutes a generated placeholder
// if the result is empty — the ISA-sender variant used by file naming
// (§4.3, §4.7).
func NormalizeISASender(raw string, now time.Time) string {
	s := NormalizeIdentifier(raw)
	s = strings.ReplaceAll(s, "_", "")
	if len(s) > 15 {
		s = s[:15]
	}
	if s == "" {
		ms := now.UnixMilli()
		last4 := ms % 10000
		s = fmt.Sprintf("PAYER%04d", last4)
	}
	return s
}
