package bucket

import "fmt"

// ConfigKind names the configuration entity missing for MissingConfiguration.
type ConfigKind string

const (
	ConfigKindPayer ConfigKind = "Payer"
	ConfigKindPayee ConfigKind = "Payee"
)

// MissingConfigurationError is raised when a GENERATING attempt finds the
// referenced Payer or Payee record absent (§4.6, §7).
type MissingConfigurationError struct {
	Kind ConfigKind
	ID   string
}

func (e *MissingConfigurationError) Error() string {
	return fmt.Sprintf("missing configuration: %s %s", e.Kind, e.ID)
}

// PaymentRequiredError is raised at the →GENERATING gate when the linked
// CheckPaymentWorkflowConfig requires an assigned (and possibly
// acknowledged) check payment that does not yet exist (§4.6, §7).
type PaymentRequiredError struct {
	BucketID string
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("payment required before generation for bucket %s", e.BucketID)
}

// InvalidStateError reports an operation attempted against a bucket in a
// status that does not permit it.
type InvalidStateError struct {
	Operation      string
	CurrentStatus  Status
	RequiredStatus Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: bucket is %s, requires %s", e.Operation, e.CurrentStatus, e.RequiredStatus)
}
