package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrCaptureCancelled means the user abandoned PIN entry. The pipeline aborts silently.
	ErrCaptureCancelled = errors.New("pin capture cancelled")
	// ErrBusy is returned when a pipeline is already running or the loading phase is not idle.
	ErrBusy = errors.New("a transaction is already in progress")
	// ErrPINLocked is returned once PIN attempts are exhausted.
	ErrPINLocked = errors.New("too many incorrect PIN attempts")
	// ErrInvalidPIN is returned by PIN authenticators for a wrong PIN.
	ErrInvalidPIN = errors.New("invalid transaction PIN")
	// ErrPINNotSet is returned by PIN authenticators when no PIN has been created.
	ErrPINNotSet = errors.New("transaction PIN is not set")
)

// ValidationError is a local, pre-flight failure tied to one input field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// OperationError is a failure of the external operation executor. Message is
// safe to show to the user.
type OperationError struct {
	Message    string
	Code       string
	StatusCode int
	Err        error
}

func (e *OperationError) Error() string {
	return e.Message
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// AsOperationError converts any error into an OperationError, keeping an
// existing one untouched.
func AsOperationError(err error) *OperationError {
	if err == nil {
		return nil
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr
	}
	return &OperationError{Message: err.Error(), Err: err}
}

// NotificationDispatchError wraps a failed best-effort notification. It is
// logged and never surfaced to the user.
type NotificationDispatchError struct {
	EventType string
	Err       error
}

func (e *NotificationDispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.EventType, e.Err)
}

func (e *NotificationDispatchError) Unwrap() error {
	return e.Err
}
