package ncpdp

import "fmt"

// ParseError reports a structural or semantic failure while parsing an
// NCPDP D.0 transaction block, carrying enough context for C4 to classify
// and surface it on the raw row (§4.2, §4.4).
type ParseError struct {
	SegmentID  string
	LineNumber int
	Message    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ncpdp parse error at %s line %d: %s", e.SegmentID, e.LineNumber, e.Message)
}

func newParseError(segmentID string, line int, format string, args ...any) *ParseError {
	return &ParseError{SegmentID: segmentID, LineNumber: line, Message: fmt.Sprintf(format, args...)}
}
