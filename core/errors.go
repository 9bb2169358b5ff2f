/*
errors.go - Centralized error types for the shift and earnings engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every rejected operation carries a machine-readable code so the API can
  return it verbatim.

ERROR CATEGORIES:
  1. ValidationError - bad input or a failed precondition (outside the start
     window, second shift the same day, out-of-range percentage). No state
     is mutated.
  2. ConflictError - a concurrent writer won the (processor, shift_date)
     uniqueness race.
  3. NotFoundError - unknown shift, deposit, rule or motivation.
  4. ConditionParseError - a motivation payload could not be parsed; the
     motivation is skipped, the computation continues.

Sweep failures are not errors: they are itemized in shift.SweepResult.

SEE ALSO:
  - store.go: stores return ConflictError / NotFoundError
  - api/handlers.go: maps these to HTTP statuses
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")

	// ErrDuplicateIdempotencyKey is returned by ledger appends when an entry
	// with the same key exists. Callers treat it as "already recorded".
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicateShift is returned by stores when (processor, shift_date)
	// already has an instance.
	ErrDuplicateShift = errors.New("shift already exists for processor and day")

	ErrConditionParse = errors.New("motivation condition parse failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError rejects an operation synchronously.
type ValidationError struct {
	Code    string
	Message string
}

func NewValidationError(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return e.Code + ": " + e.Message }
func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError reports a lost uniqueness race.
type ConflictError struct {
	Code    string
	Message string
	Err     error
}

func (e *ConflictError) Error() string { return e.Code + ": " + e.Message }

func (e *ConflictError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConflict, e.Err}
	}
	return []error{ErrConflict}
}

// NotFoundError reports a missing shift, deposit, rule or motivation.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Kind + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NotFound(kind string, id any) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// ConditionParseError describes an unparseable motivation condition.
type ConditionParseError struct {
	MotivationID MotivationID
	Payload      string
	Err          error
}

func (e *ConditionParseError) Error() string {
	return fmt.Sprintf("motivation %s: cannot parse condition %q: %v", e.MotivationID, e.Payload, e.Err)
}

func (e *ConditionParseError) Unwrap() []error { return []error{ErrConditionParse, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// ErrorCode returns the machine-readable reason for err.
func ErrorCode(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Code
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return "not_found"
	}
	return "internal"
}
