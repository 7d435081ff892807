package checkpay

import "github.com/go-playground/validator/v10"

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateManualDetails rejects operator-supplied check detail that is
// structurally incomplete (e.g. a truncated routing number) before it ever
// reaches the store, using ManualDetails' struct tags.
func validateManualDetails(d ManualDetails) error {
	if err := validate.Struct(d); err != nil {
		return &InvalidManualDetailsError{Cause: err}
	}
	return nil
}
