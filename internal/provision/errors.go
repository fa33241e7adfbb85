package provision

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")

	// ErrProvisioningRejected means the platform refused the discount (for
	// example the code already exists on the shop). Retrying will not help.
	ErrProvisioningRejected = errors.New("provisioning rejected")
)

// RejectedError carries the platform's message for a refused discount.
type RejectedError struct {
	Step    string
	Message string
	Err     error
}

func (e *RejectedError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("provisioning rejected: %s", e.Message)
	}
	return fmt.Sprintf("provisioning rejected at %s: %s", e.Step, e.Message)
}

func (e *RejectedError) Is(target error) bool { return target == ErrProvisioningRejected }

func (e *RejectedError) Unwrap() error { return e.Err }

// RejectionMessage returns the platform message when err is a rejection.
func RejectionMessage(err error) (string, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Message, true
	}
	return "", false
}
