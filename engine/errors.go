/*
errors.go - Centralized error taxonomy for the visit engine

PURPOSE:
  All engine error categories in one place. Domain packages wrap these
  with additional context; the API layer maps them to HTTP statuses.

ERROR CATEGORIES:
  GuardViolation        - wrong status or insufficient permission; the
                          command has no effect at all
  StaleState            - optimistic-concurrency loss; re-fetch and retry
  ValidationBlocking    - a validator produced a hard rejection
  ConflictDetected      - the proposed slot overlaps an existing booking
  ValidationUnavailable - a dependent lookup (quota, schedule) failed or
                          timed out; surfaced as an advisory, never
                          silently treated as "no issue"
  NotFound              - referenced appointment/occurrence doesn't exist

USAGE:
  if errors.Is(err, engine.ErrStaleState) {
      // re-read the appointment and retry the command
  }

SEE ALSO:
  - issue.go: Non-fatal warnings travel as Issues, not errors
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrGuardViolation is returned when a command is attempted from a
	// status it is not allowed from, or by an actor without permission.
	// The appointment is left untouched and nothing is written to the ledger.
	ErrGuardViolation = errors.New("guard violation")

	// ErrStaleState is returned when the appointment changed between guard
	// evaluation and the write. The loser of a concurrent update race gets
	// this instead of silently overwriting.
	ErrStaleState = errors.New("stale appointment state")

	// ErrValidationBlocking is returned when a validator produced a hard
	// rejection (e.g. corrected end time before start time).
	ErrValidationBlocking = errors.New("validation blocked the command")

	// ErrConflictDetected is returned when a booking command would overlap
	// an existing appointment and the caller did not force-override.
	ErrConflictDetected = errors.New("scheduling conflict detected")

	// ErrValidationUnavailable is returned when a dependent lookup failed.
	ErrValidationUnavailable = errors.New("validation lookup unavailable")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// GuardViolationError explains which guard failed.
type GuardViolationError struct {
	Command string
	Status  string // current status that disallows the command, if relevant
	Reason  string
}

func (e *GuardViolationError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s not allowed from status %q: %s", e.Command, e.Status, e.Reason)
	}
	return fmt.Sprintf("%s not allowed: %s", e.Command, e.Reason)
}

func (e *GuardViolationError) Unwrap() error { return ErrGuardViolation }

// StaleStateError reports an optimistic-concurrency loss.
type StaleStateError struct {
	AppointmentID   string
	ExpectedVersion int64
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("appointment %s changed since read (expected version %d)",
		e.AppointmentID, e.ExpectedVersion)
}

func (e *StaleStateError) Unwrap() error { return ErrStaleState }

// BlockingValidationError carries the blocking issues that rejected a command.
type BlockingValidationError struct {
	Issues []Issue
}

func (e *BlockingValidationError) Error() string {
	if len(e.Issues) == 0 {
		return ErrValidationBlocking.Error()
	}
	return fmt.Sprintf("validation blocked: %s", e.Issues[0].Message)
}

func (e *BlockingValidationError) Unwrap() error { return ErrValidationBlocking }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the command might succeed if retried after
// re-reading current state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleState)
}

// IsClientError returns true if the error is the caller's fault rather
// than an engine/storage failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrGuardViolation) ||
		errors.Is(err, ErrValidationBlocking) ||
		errors.Is(err, ErrConflictDetected)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
