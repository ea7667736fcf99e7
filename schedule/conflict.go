/*
Package schedule detects booking conflicts and resolves bookable slots.

PURPOSE:
  Two read-only validators over the same data:
  - Detector finds overlapping appointments for a team member and/or a
    client on one date (conflict.go).
  - Resolver produces the bookable start times for a team member on one
    date, given their weekly working hours (availability.go).

OVERLAP RULE:
  All windows are half-open [start, end). Two windows conflict iff
  existing.start < proposed.end AND proposed.start < existing.end.
  Touching endpoints never conflict: a visit ending 10:00 and one
  starting 10:00 are back-to-back, which is exactly how field schedules
  are built.

CONSISTENCY:
  The detector itself only reads. Commands that will write based on a
  conflict check run it inside the store's booking lock so the team and
  client reads come from the same snapshot and no booking can slip in
  between check and commit.
*/
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/visit-engine/engine"
)

// =============================================================================
// BOOKING SOURCE - Read model over existing appointments
// =============================================================================

// Booking is one existing non-cancelled, non-deleted appointment window.
type Booking struct {
	AppointmentID string
	Window        engine.Interval
}

// BookingSource returns existing bookings for a party on a date.
// Implementations must already exclude cancelled and deleted appointments
// and the excludeID (used when editing an appointment's own slot).
type BookingSource interface {
	TeamBookings(ctx context.Context, teamID string, date engine.Date, excludeID string) ([]Booking, error)
	ClientBookings(ctx context.Context, clientID string, date engine.Date, excludeID string) ([]Booking, error)
}

// =============================================================================
// CONFLICT DETECTION
// =============================================================================

type ConflictType string

const (
	TeamConflict   ConflictType = "team_conflict"
	ClientConflict ConflictType = "client_conflict"
)

// Conflict is one overlap with an existing appointment.
type Conflict struct {
	Type                     ConflictType `json:"type"`
	ConflictingAppointmentID string       `json:"conflicting_appointment_id"`
	Message                  string       `json:"message"`
}

// CheckRequest is a proposed slot to test.
type CheckRequest struct {
	Date            engine.Date
	Start           engine.ClockTime
	DurationMinutes int
	TeamID          string // optional; empty skips the team check
	ClientID        string
	ExcludeID       string // appointment being edited, if any
}

// Detector finds overlapping appointments for either party of a proposal.
type Detector struct {
	Source BookingSource
	// Timeout bounds the booking lookups. Zero means no extra deadline.
	Timeout time.Duration
}

// Check runs the team check (if a team is given) and the client check
// independently and returns every overlap found. An empty slice means the
// proposed slot is free for both parties.
func (d *Detector) Check(ctx context.Context, req CheckRequest) ([]Conflict, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	proposed := engine.NewInterval(req.Start, req.DurationMinutes)
	var conflicts []Conflict

	if req.TeamID != "" {
		existing, err := d.Source.TeamBookings(ctx, req.TeamID, req.Date, req.ExcludeID)
		if err != nil {
			return nil, fmt.Errorf("%w: team bookings: %v", engine.ErrValidationUnavailable, err)
		}
		conflicts = append(conflicts, overlaps(TeamConflict, "team member", proposed, existing)...)
	}

	if req.ClientID != "" {
		existing, err := d.Source.ClientBookings(ctx, req.ClientID, req.Date, req.ExcludeID)
		if err != nil {
			return nil, fmt.Errorf("%w: client bookings: %v", engine.ErrValidationUnavailable, err)
		}
		conflicts = append(conflicts, overlaps(ClientConflict, "client", proposed, existing)...)
	}

	return conflicts, nil
}

func overlaps(typ ConflictType, party string, proposed engine.Interval, existing []Booking) []Conflict {
	var out []Conflict
	for _, b := range existing {
		if proposed.Overlaps(b.Window) {
			out = append(out, Conflict{
				Type:                     typ,
				ConflictingAppointmentID: b.AppointmentID,
				Message: fmt.Sprintf("%s already has an appointment %s overlapping the proposed %s",
					party, b.Window, proposed),
			})
		}
	}
	return out
}
