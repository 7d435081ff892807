package claim

import "fmt"

// ValidationError reports semantically invalid data encountered while
// mapping an NcpdpTransaction to a Claim (§4.3, §7).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("claim validation error on %s: %s", e.Field, e.Message)
}

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
