/*
errors.go - Centralized error taxonomy for the points engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages (rewards, pickup) return these errors directly or wrap
  them with fmt.Errorf("...: %w"). The HTTP layer maps them to status
  codes via KindOf.

ERROR CATEGORIES:
  1. Validation     - malformed input or a rule violation (negative balance)
  2. NotFound       - referenced record missing or inactive
  3. SoldOut        - reward cap reached or item out of stock
  4. Insufficient   - balance below the cost of a spend
  5. Transition     - state machine move not allowed
  6. StoreUnavailable - persistence failure or lock timeout (retryable)

USAGE:
  if errors.Is(err, ledger.ErrInsufficientPoints) {
      var ip *ledger.InsufficientPointsError
      errors.As(err, &ip)
      ...
  }

SEE ALSO:
  - ledger.go: returns negative_balance validation errors
  - api/errors.go: HTTP status mapping
*/
package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when input is malformed or would violate a
	// ledger rule.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSoldOut is returned when a reward reached its redemption cap or an
	// eco-store item is out of stock.
	ErrSoldOut = errors.New("sold out")

	// ErrInsufficientPoints is returned when a spend exceeds the balance.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrInvalidTransition is returned when a state machine move is not allowed.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrStoreUnavailable is returned when the store fails or a lock cannot be
	// acquired in time. Callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError provides details about a validation failure.
type ValidationError struct {
	Code    string // e.g. "invalid_entry", "negative_balance"
	Message string
	Fields  []FieldError
}

func NewValidationError(code, message string, fields ...FieldError) *ValidationError {
	return &ValidationError{Code: code, Message: message, Fields: fields}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// InsufficientPointsError provides details about a balance shortage.
type InsufficientPointsError struct {
	UserID    UserID
	Available Points
	Required  Points
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: available %d, required %d, shortfall %d",
		e.Available, e.Required, e.Shortfall())
}

func (e *InsufficientPointsError) Shortfall() Points {
	return e.Required - e.Available
}

func (e *InsufficientPointsError) Unwrap() error {
	return ErrInsufficientPoints
}

// InvalidTransitionError names the attempted move.
type InvalidTransitionError struct {
	Resource string
	From     string
	To       string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Resource, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// StoreError wraps a persistence failure. It matches both
// ErrStoreUnavailable and the underlying cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// WrapStore wraps err as a StoreError unless it is nil or already carries
// a domain classification.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindInternal {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// ErrorKind classifies an error for transport mapping.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindNotFound          ErrorKind = "not_found"
	KindSoldOut           ErrorKind = "sold_out"
	KindInsufficient      ErrorKind = "insufficient_points"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindStoreUnavailable  ErrorKind = "store_unavailable"
	KindInternal          ErrorKind = "internal"
)

// KindOf returns the taxonomy bucket of err.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrSoldOut):
		return KindSoldOut
	case errors.Is(err, ErrInsufficientPoints):
		return KindInsufficient
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	}
	return KindInternal
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindSoldOut, KindInsufficient, KindInvalidTransition:
		return true
	}
	return false
}
