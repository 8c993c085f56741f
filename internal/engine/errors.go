package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/laurels/internal/store"
)

// RejectCode categorizes why an event was rejected during validation.
type RejectCode string

const (
	// RejectInvalidShape indicates missing or malformed event fields.
	RejectInvalidShape RejectCode = "INVALID_SHAPE"

	// RejectUnknownType indicates an event type with no route.
	RejectUnknownType RejectCode = "UNKNOWN_TYPE"

	// RejectUnknownUser indicates a user the directory does not know.
	RejectUnknownUser RejectCode = "UNKNOWN_USER"
)

// RejectionError describes a validation failure. It is reported through
// Outcome.Rejection rather than returned: a rejected event is a terminal
// outcome, not a failure.
type RejectionError struct {
	Code    RejectCode
	EventID string
	Message string
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("%s: %s (event=%s)", e.Code, e.Message, e.EventID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TransientStoreError wraps a store failure that may succeed on retry:
// lock timeouts and busy or locked databases.
type TransientStoreError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying store error.
func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a TransientStoreError.
// Uses errors.As to handle wrapped errors.
func IsTransient(err error) bool {
	var te *TransientStoreError
	return errors.As(err, &te)
}

// classifyStoreError marks lock conflicts as transient.
func classifyStoreError(op string, err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	if store.IsBusy(err) {
		return &TransientStoreError{Op: op, Err: err}
	}
	return err
}
