package device

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a device link or entity was not found
	ErrNotFound = errors.New("device not found")

	// ErrValidation indicates a settings value failed schema validation.
	// Never retried, never partially applied.
	ErrValidation = errors.New("validation error")

	// ErrDeviceUnreachable indicates a transport failure or timeout.
	// The caller may retry; cached settings are preserved.
	ErrDeviceUnreachable = errors.New("device unreachable")

	// ErrDeviceRejected indicates the device answered but refused the write
	ErrDeviceRejected = errors.New("device rejected request")

	// ErrLinkClosed indicates the device link has been torn down
	ErrLinkClosed = errors.New("device link closed")

	// ErrDuplicate indicates a device link for the same host already exists
	ErrDuplicate = errors.New("device already configured")
)

// ValidationError reports which settings key failed validation.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// RejectedError carries the device's refusal verbatim.
type RejectedError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *RejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("device rejected %s: status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("device rejected %s: status %d: %s", e.Endpoint, e.Status, e.Body)
}

// Unwrap lets errors.Is match ErrDeviceRejected.
func (e *RejectedError) Unwrap() error {
	return ErrDeviceRejected
}
