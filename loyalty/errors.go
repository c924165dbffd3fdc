/*
errors.go - Centralized error types for the loyalty engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps these to status codes with errors.Is; rule-level
  soft failures are additionally surfaced as ProcessingError entries in
  the response.

ERROR CATEGORIES:
  1. Input errors - Validation and duplicate submission (client faults)
  2. Rule errors - Unknown facts/operators in a rule leaf (rule skipped)
  3. Calculation errors - Unknown formula type or missing numeric operand
  4. Infrastructure errors - Store failures and deadline expiry

USAGE:
  if errors.Is(err, loyalty.ErrDuplicateEvent) {
      // respond 409, nothing was persisted
  }

SEE ALSO:
  - processor.go: Produces these errors along the pipeline
  - api/handlers.go: Maps them to HTTP statuses
*/
package loyalty

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when the submitted event is structurally
	// invalid. Nothing is persisted.
	ErrValidation = errors.New("invalid event input")

	// ErrDuplicateEvent is returned when the eventId already exists in
	// history. Resubmission never mutates state.
	ErrDuplicateEvent = errors.New("duplicate event id")

	// ErrUnknownFact is returned when a rule leaf references a fact that is
	// not in the catalog. The rule is skipped, the run continues.
	ErrUnknownFact = errors.New("unknown fact")

	// ErrUnknownOperator is returned when a rule leaf uses an operator
	// outside the supported set. The rule is skipped, the run continues.
	ErrUnknownOperator = errors.New("unknown operator")

	// ErrCalculation is returned when a matched rule event cannot be turned
	// into points (unknown calculation type, missing numeric amount). The
	// entry contributes zero points.
	ErrCalculation = errors.New("calculation failed")

	// ErrStore is returned when the persistence layer fails during a write.
	// Any balance update of the current event is rolled back.
	ErrStore = errors.New("store failure")

	// ErrTimeout is returned when the request deadline expires before the
	// commit point. No partial state is written.
	ErrTimeout = errors.New("deadline exceeded before commit")

	// ErrConsumerNotFound is returned by store reads for consumers that
	// were never written. Callers treat this as a fresh zero-state record.
	ErrConsumerNotFound = errors.New("consumer not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports which field of the input failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event input: field %q %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DuplicateEventError reports the offending idempotency key.
type DuplicateEventError struct {
	EventID string
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("duplicate event id %q", e.EventID)
}

func (e *DuplicateEventError) Unwrap() error { return ErrDuplicateEvent }

// UnknownFactError reports a leaf referencing an unregistered fact.
type UnknownFactError struct {
	Fact string
}

func (e *UnknownFactError) Error() string {
	return fmt.Sprintf("unknown fact %q", e.Fact)
}

func (e *UnknownFactError) Unwrap() error { return ErrUnknownFact }

// UnknownOperatorError reports a leaf using an unsupported operator.
type UnknownOperatorError struct {
	Operator string
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("unknown operator %q", e.Operator)
}

func (e *UnknownOperatorError) Unwrap() error { return ErrUnknownOperator }

// CalculationError reports a formula that could not produce points.
type CalculationError struct {
	RuleName        string
	CalculationType string
	Reason          string
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("calculation %q failed for rule %q: %s",
		e.CalculationType, e.RuleName, e.Reason)
}

func (e *CalculationError) Unwrap() error { return ErrCalculation }

// TimeoutError reports where in the pipeline the deadline expired.
type TimeoutError struct {
	Stage string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("deadline exceeded before commit (stage: %s)", e.Stage)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// StoreError wraps an underlying persistence failure with the operation
// that hit it. Unwrap exposes both ErrStore and the cause, so errors.Is
// classifies it and the original driver error stays reachable.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store failure during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateEvent)
}

// IsRuleError returns true for per-rule soft failures that skip the rule
// but keep the run going.
func IsRuleError(err error) bool {
	return errors.Is(err, ErrUnknownFact) ||
		errors.Is(err, ErrUnknownOperator)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConsumerNotFound)
}
