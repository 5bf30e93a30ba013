/*
errors.go - Error taxonomy of the ledger engine

ERROR CATEGORIES:
  1. Invalid movement      - bad client input, nothing written
  2. No effective change   - every line was zero, nothing to persist
  3. Persistence failure   - the store rejected a read or write; retryable
  4. Inconsistent carryover - stored state is corrupt; fatal, never clamped

USAGE:
  rows, err := engine.Upsert(ctx, batch)
  switch {
  case ledger.IsNoEffectiveChange(err):
      // nothing to do
  case ledger.IsClientError(err):
      // 400
  case ledger.IsRetryable(err):
      // storage error, retry later
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidMovement is returned for negative quantities or malformed batches.
	ErrInvalidMovement = errors.New("invalid movement")

	// ErrRowNotFound is returned by UpdateRow when no row exists for (store, item, date).
	ErrRowNotFound = errors.New("ledger row not found")

	// ErrNoEffectiveChange is returned when every submitted line has zero movement.
	ErrNoEffectiveChange = errors.New("no effective change: all lines were zero")

	// ErrPersistence is returned when the underlying store fails.
	ErrPersistence = errors.New("persistence failure")

	// ErrInconsistentCarryover is returned when stored bucket state is invalid.
	ErrInconsistentCarryover = errors.New("inconsistent carryover")

	errReaderRequired = errors.New("store does not support key listing")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidMovementError describes a rejected input.
type InvalidMovementError struct {
	ItemID   ItemID
	Received int64
	Sold     int64
	Reason   string
}

func (e *InvalidMovementError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("invalid movement: %s", e.Reason)
	}
	return fmt.Sprintf("invalid movement for item %s (received %d, sold %d): %s",
		e.ItemID, e.Received, e.Sold, e.Reason)
}

func (e *InvalidMovementError) Unwrap() error { return ErrInvalidMovement }

// InconsistentCarryoverError reports stored state that cannot be valid.
type InconsistentCarryoverError struct {
	Key     Key
	Date    Date
	Buckets Buckets
	Reason  string
}

func (e *InconsistentCarryoverError) Error() string {
	return fmt.Sprintf("inconsistent carryover for %s on %s (fresh %d, aged %d): %s",
		e.Key, e.Date, e.Buckets.Fresh, e.Buckets.Aged, e.Reason)
}

func (e *InconsistentCarryoverError) Unwrap() error { return ErrInconsistentCarryover }

// PersistenceError wraps a store failure. It matches both ErrPersistence and the cause.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// Persistence wraps err as a PersistenceError unless it already carries a ledger error kind.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) || errors.Is(err, ErrInvalidMovement) ||
		errors.Is(err, ErrNoEffectiveChange) || errors.Is(err, ErrInconsistentCarryover) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true for errors caused by the submitted input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidMovement) || errors.Is(err, ErrNoEffectiveChange)
}

// IsNoEffectiveChange returns true when the submission was a no-op.
func IsNoEffectiveChange(err error) bool { return errors.Is(err, ErrNoEffectiveChange) }

// IsRetryable returns true if the error might succeed on retry. Only storage errors qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence) && !errors.Is(err, ErrInconsistentCarryover)
}

// Error codes reported to clients and metrics.
const (
	CodeInvalidMovement       = "invalid_movement"
	CodeNoEffectiveChange     = "no_effective_change"
	CodePersistenceFailure    = "persistence_failure"
	CodeInconsistentCarryover = "inconsistent_carryover"
)

// ErrorCode classifies err. nil yields "ok"; anything unrecognized is a persistence failure.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInconsistentCarryover):
		return CodeInconsistentCarryover
	case errors.Is(err, ErrInvalidMovement):
		return CodeInvalidMovement
	case errors.Is(err, ErrNoEffectiveChange):
		return CodeNoEffectiveChange
	default:
		return CodePersistenceFailure
	}
}
