package models

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for conditions with no extra structure.
var (
	// ErrNotFound signals an unknown booking id.
	ErrNotFound = errors.New("booking not found")
	// ErrConflict signals a lost race on a state transition, e.g. a second
	// accept on an already-assigned booking.
	ErrConflict = errors.New("booking already taken")
	// ErrTimeout signals a store operation that exceeded its deadline.
	ErrTimeout = errors.New("store operation timed out")
)

// ValidationError reports malformed or missing input fields.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, ", ")
}

// NewValidationError builds a ValidationError naming the offending fields.
func NewValidationError(fields ...string) *ValidationError {
	return &ValidationError{Fields: fields}
}

// AuthorizationError reports an actor not permitted to perform an operation.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return e.Reason
}

// InvalidStateError reports a lifecycle transition not allowed from the
// booking's current status.
type InvalidStateError struct {
	Op     string
	Status string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s booking in status %q", e.Op, e.Status)
}

// DeliveryError reports a notification transport failure. It is surfaced as
// part of a response, never propagated as a fatal error.
type DeliveryError struct {
	Transport string
	Message   string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed: %s", e.Transport, e.Message)
}

// IsDomainError reports whether err belongs to the domain taxonomy, as
// opposed to an infrastructure fault.
func IsDomainError(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrTimeout) {
		return true
	}
	var (
		ve *ValidationError
		ae *AuthorizationError
		se *InvalidStateError
		de *DeliveryError
	)
	return errors.As(err, &ve) || errors.As(err, &ae) || errors.As(err, &se) || errors.As(err, &de)
}
