/*
Package appointment implements the appointment lifecycle.

PURPOSE:
  This is the orchestrating package: it owns the Appointment model, the
  closed status enum with its central transition table, the append-only
  assignment history ledger, and the StateMachine that applies guarded
  commands. Every mutation of an appointment in the system flows through
  the StateMachine - other packages receive appointments by value and
  never write them.

KEY INVARIANTS:
  1. units_required is always derived from duration_minutes (never stored
     independently - it's a method, so it cannot drift).
  2. Appointments are never hard-deleted; "delete" is the terminal
     `deleted` status.
  3. Status changes only along the transition table (transitions.go);
     anything else is a guard violation with zero effect.
  4. Status writes are compare-and-swapped on Version; concurrent losers
     get StaleState, never a silent overwrite.
  5. Ledger entries are append-only; corrections arrive as new
     time_override entries carrying the field diff.

SEE ALSO:
  - transitions.go: Command set and the status transition table
  - machine.go:     The StateMachine command implementations
  - ledger.go:      Assignment history entries
  - store.go:       Persistence interfaces
*/
package appointment

import (
	"time"

	"github.com/warp/visit-engine/engine"
	"github.com/warp/visit-engine/quota"
)

// =============================================================================
// STATUS - Closed enum; transitions only via the table in transitions.go
// =============================================================================

type Status string

const (
	StatusUnassigned         Status = "unassigned"
	StatusScheduled          Status = "scheduled"
	StatusConfirmed          Status = "confirmed"
	StatusPending            Status = "pending"
	StatusInProgress         Status = "in_progress"
	StatusCompleted          Status = "completed"
	StatusCancelled          Status = "cancelled"
	StatusNoShow             Status = "no_show"
	StatusRejected           Status = "rejected"
	StatusLate               Status = "late"
	StatusTerminatedByClient Status = "terminated_by_client"
	StatusTerminatedByStaff  Status = "terminated_by_staff"
	StatusDeleted            Status = "deleted"
)

// AllStatuses enumerates the closed status set.
var AllStatuses = []Status{
	StatusUnassigned, StatusScheduled, StatusConfirmed, StatusPending,
	StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow,
	StatusRejected, StatusLate, StatusTerminatedByClient,
	StatusTerminatedByStaff, StatusDeleted,
}

var terminalStatuses = map[Status]bool{
	StatusCompleted:          true,
	StatusCancelled:          true,
	StatusNoShow:             true,
	StatusRejected:           true,
	StatusTerminatedByClient: true,
	StatusTerminatedByStaff:  true,
	StatusDeleted:            true,
}

func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends the lifecycle.
func (s Status) Terminal() bool { return terminalStatuses[s] }

// CountsAsBooked reports whether the appointment still occupies its time
// slot for conflict purposes. Cancelled and deleted appointments free the
// slot; everything else keeps it.
func (s Status) CountsAsBooked() bool {
	return s != StatusCancelled && s != StatusDeleted
}

// =============================================================================
// LOCATION
// =============================================================================

type LocationType string

const (
	LocationHome      LocationType = "home"
	LocationCommunity LocationType = "community"
	LocationFacility  LocationType = "facility"
)

// Address is the visit address snapshotted onto the appointment at booking
// time, so later client-record edits don't rewrite history.
type Address struct {
	Street string
	City   string
	State  string
	Zip    string
	Lat    *float64
	Lon    *float64
}

// =============================================================================
// APPOINTMENT
// =============================================================================

// Appointment is the aggregate the StateMachine owns.
type Appointment struct {
	ID           string
	ClientID     string
	TeamID       string // empty = open shift awaiting self-assignment
	SpecialityID string

	Date            engine.Date
	ScheduledStart  engine.ClockTime
	DurationMinutes int

	LocationType LocationType
	Address      Address

	Notes           string
	CompletionNotes string

	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time

	CancellationReason string
	NEMTOccurrenceID   string

	Status  Status
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduledEnd is derived from start + duration.
func (a *Appointment) ScheduledEnd() engine.ClockTime {
	return a.ScheduledStart.Add(a.DurationMinutes)
}

// Window is the half-open scheduled interval used for conflict checks.
func (a *Appointment) Window() engine.Interval {
	return engine.NewInterval(a.ScheduledStart, a.DurationMinutes)
}

// UnitsRequired is always ceil(duration / 15). Derived, never stored.
func (a *Appointment) UnitsRequired() int {
	return quota.UnitsFor(a.DurationMinutes)
}

// PlannedMinutes is the planned length in whole billable units, used as the
// baseline for duration-drift checks on time corrections.
func (a *Appointment) PlannedMinutes() int {
	return a.UnitsRequired() * quota.MinutesPerUnit
}

// OpenShift reports whether the appointment has no assigned team member.
func (a *Appointment) OpenShift() bool { return a.TeamID == "" }

// Clone returns a deep-enough copy safe to mutate before a CAS write.
func (a *Appointment) Clone() *Appointment {
	cp := *a
	if a.StartedAt != nil {
		t := *a.StartedAt
		cp.StartedAt = &t
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		cp.CompletedAt = &t
	}
	if a.CancelledAt != nil {
		t := *a.CancelledAt
		cp.CancelledAt = &t
	}
	if a.Address.Lat != nil {
		v := *a.Address.Lat
		cp.Address.Lat = &v
	}
	if a.Address.Lon != nil {
		v := *a.Address.Lon
		cp.Address.Lon = &v
	}
	return &cp
}
