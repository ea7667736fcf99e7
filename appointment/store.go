/*
store.go - Persistence interfaces consumed by the state machine

PURPOSE:
  Defines what the StateMachine needs from storage. Implementations live
  under store/ (memory for tests, sqlite for single-binary deployments,
  postgres for shared deployments). Schedule and quota read models have
  their own narrow interfaces in their packages; the concrete stores
  implement all of them.

OPTIMISTIC CONCURRENCY:
  Update and ApplyTransition compare-and-swap on Version. The store must
  atomically verify the stored version matches expectedVersion, write the
  new row with Version+1, and return a StaleStateError on mismatch. Two
  concurrent starts on the same appointment therefore produce exactly one
  in_progress transition and one StaleState loser.

BOOKING LOCK:
  Commands that conflict-check and then write (book, reschedule,
  reassign) run inside WithBookingLock so no booking for the same
  team/client/date can be inserted between check and commit. Lock keys
  must be acquired in the caller-provided (sorted) order to avoid
  deadlock between concurrent bookings touching the same parties.
  The memory and sqlite stores serialize with a process-wide mutex; the
  postgres store takes per-key transaction-scoped advisory locks.
*/
package appointment

import (
	"context"
	"sort"

	"github.com/warp/visit-engine/engine"
	"github.com/warp/visit-engine/nemt"
)

// =============================================================================
// BOOKING LOCK KEYS
// =============================================================================

// BookingLockKey identifies one (party, date) booking stream.
type BookingLockKey struct {
	PartyID string
	Date    engine.Date
}

// LockKeysFor builds the sorted lock key set for a proposed slot. Sorting
// gives all writers a consistent acquisition order.
func LockKeysFor(date engine.Date, teamID, clientID string) []BookingLockKey {
	var keys []BookingLockKey
	if teamID != "" {
		keys = append(keys, BookingLockKey{PartyID: teamID, Date: date})
	}
	if clientID != "" {
		keys = append(keys, BookingLockKey{PartyID: clientID, Date: date})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].PartyID < keys[j].PartyID })
	return keys
}

// =============================================================================
// STORE
// =============================================================================

// Store persists appointments and the records the machine must consult.
type Store interface {
	// Get returns the appointment or an error wrapping engine.ErrNotFound.
	Get(ctx context.Context, id string) (*Appointment, error)

	// Create persists a new appointment, atomically with its initial
	// ledger entry when entry is non-nil.
	Create(ctx context.Context, a *Appointment, entry *HistoryEntry) error

	// Update compare-and-swaps the appointment on expectedVersion.
	// Returns a StaleStateError when the stored version differs. On
	// success the store sets a.Version to expectedVersion+1 and bumps
	// a.UpdatedAt.
	Update(ctx context.Context, a *Appointment, expectedVersion int64) error

	// ApplyTransition compare-and-swaps the appointment and appends the
	// ledger entry in one atomic unit. entry may be nil (delete has no
	// ledger effect). On CAS failure nothing is written, including the entry.
	ApplyTransition(ctx context.Context, a *Appointment, expectedVersion int64, entry *HistoryEntry) error

	// GetOccurrence returns the NEMT occurrence or engine.ErrNotFound.
	GetOccurrence(ctx context.Context, id string) (*nemt.Occurrence, error)

	// AppointmentForOccurrence returns the non-cancelled, non-deleted
	// appointment currently holding the occurrence, or nil when unlinked.
	AppointmentForOccurrence(ctx context.Context, occurrenceID string) (*Appointment, error)

	// WithBookingLock runs fn while holding the booking locks for keys,
	// acquired in the given order.
	WithBookingLock(ctx context.Context, keys []BookingLockKey, fn func() error) error
}
