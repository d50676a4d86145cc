package services

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutCartNotReady indicates there is no cart with purchasable items to order.
	ErrCheckoutCartNotReady = errors.New("checkout: cart not ready")
	// ErrSubmissionInProgress indicates another submission for the session has not settled.
	ErrSubmissionInProgress = errors.New("checkout: submission in progress")
	// ErrSubmissionFailed indicates the order was not placed.
	ErrSubmissionFailed = errors.New("checkout: submission failed")
	// ErrSessionClosed indicates the checkout session was torn down.
	ErrSessionClosed = errors.New("checkout: session closed")
	// ErrSessionNotFound indicates no live session matches the identifier.
	ErrSessionNotFound = errors.New("checkout: session not found")
)

// ValidationError carries field-level problems for both address records. It never reaches the
// network: submission stops before a payload is built.
type ValidationError struct {
	Billing  map[string]string
	Shipping map[string]string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Billing)+len(e.Shipping))
	for field := range e.Billing {
		fields = append(fields, "billing."+field)
	}
	for field := range e.Shipping {
		fields = append(fields, "shipping."+field)
	}
	sort.Strings(fields)
	return fmt.Sprintf("checkout: invalid address fields [%s]", strings.Join(fields, ", "))
}

// Unwrap classifies validation failures as invalid input.
func (e *ValidationError) Unwrap() error { return ErrCheckoutInvalidInput }

// Fields returns a merged copy of the errors keyed by "slot.field".
func (e *ValidationError) Fields() map[string]string {
	out := make(map[string]string, len(e.Billing)+len(e.Shipping))
	for field, msg := range e.Billing {
		out["billing."+field] = msg
	}
	for field, msg := range e.Shipping {
		out["shipping."+field] = msg
	}
	return out
}

func newValidationError(billing, shipping map[string]string) *ValidationError {
	return &ValidationError{Billing: maps.Clone(billing), Shipping: maps.Clone(shipping)}
}

// SubmissionError is the single user-facing message for a failed attempt. Err holds the cause
// for logging and classification.
type SubmissionError struct {
	AttemptID string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *SubmissionError) Error() string {
	return fmt.Sprintf("checkout: attempt %s failed: %s", e.AttemptID, e.Message)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *SubmissionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSubmissionFailed}
	}
	return []error{ErrSubmissionFailed, e.Err}
}

// RegionLookupError records a failed region lookup. The slot degrades to an empty region set and
// the state field becomes free text; it is never surfaced as a field error.
type RegionLookupError struct {
	Slot    string
	Country string
	Err     error
}

// Error implements the error interface.
func (e *RegionLookupError) Error() string {
	return fmt.Sprintf("checkout: region lookup for %s %s: %v", e.Slot, e.Country, e.Err)
}

// Unwrap returns the underlying cause.
func (e *RegionLookupError) Unwrap() error { return e.Err }
