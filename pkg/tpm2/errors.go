package tpm2

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSRKHandle is returned when the configured SRK handle is
	// outside the persistent range.
	ErrInvalidSRKHandle = errors.New("tpm2: invalid SRK persistent handle")

	// ErrNotConnected is returned when an operation requires an open TPM
	// session and none exists.
	ErrNotConnected = errors.New("tpm2: no open TPM session")
)

// ProvisioningError is a failure in the provisioning sequence itself:
// power-up, session open, TPM startup, or SRK creation / persistence.
// Callers classify these separately from environmental runtime failures.
type ProvisioningError struct {
	// Msg describes the provisioning step that failed.
	Msg string
	// Err is the underlying cause, possibly nil for protocol-level
	// failures reported without a wrapped error.
	Err error
}

func (e *ProvisioningError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// NewProvisioningError wraps err as a provisioning failure with the given
// message.
func NewProvisioningError(msg string, err error) *ProvisioningError {
	return &ProvisioningError{Msg: msg, Err: err}
}

// IsProvisioningError reports whether any error in err's chain is a
// ProvisioningError.
func IsProvisioningError(err error) bool {
	var pe *ProvisioningError
	return errors.As(err, &pe)
}
