/*
availability.go - Bookable slot resolution for a team member

PURPOSE:
  Given a team member, a date, and a visit duration, produce the start
  times the booking wizard may offer. Slots are generated at a fixed
  15-minute granularity across the member's configured working hours for
  that weekday, then any slot whose implied [start, start+duration)
  window would overlap an existing booking is removed - the same
  half-open rule the conflict detector uses.

OPEN SHIFTS:
  Booking without a team member yields the default 07:00-20:00 slot grid
  with no conflict filtering; whoever later self-assigns gets checked at
  that point.
*/
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/visit-engine/engine"
)

// SlotGranularityMinutes is the spacing between candidate start times.
const SlotGranularityMinutes = 15

// Default slot window used when no team member is specified (open shifts).
var (
	DefaultDayStart = engine.Clock(7, 0)
	DefaultDayEnd   = engine.Clock(20, 0)
)

// =============================================================================
// WORKING HOURS
// =============================================================================

// DayHours is one weekday's configured working window for a team member.
type DayHours struct {
	Working bool
	Start   engine.ClockTime
	End     engine.ClockTime
}

// HoursSource reads the weekly working-hours configuration owned by the
// team-management side of the product.
type HoursSource interface {
	WorkingHours(ctx context.Context, teamID string, weekday time.Weekday) (DayHours, error)
}

// =============================================================================
// RESOLVER
// =============================================================================

// Availability is the slot set offered for one (team, date, duration) query.
type Availability struct {
	HasAvailability bool
	Slots           []engine.ClockTime
}

// Resolver produces bookable start-time slots.
type Resolver struct {
	Hours    HoursSource
	Bookings BookingSource
	// Timeout bounds the external lookups. Zero means no extra deadline.
	Timeout time.Duration
}

// Resolve returns the bookable slots for the team member on the date.
// teamID == "" returns the unfiltered default grid for open-shift creation.
// excludeID removes the appointment being edited from the busy set.
func (r *Resolver) Resolve(ctx context.Context, teamID string, date engine.Date, durationMinutes int, excludeID string) (Availability, error) {
	if durationMinutes <= 0 {
		return Availability{}, fmt.Errorf("duration must be positive, got %d", durationMinutes)
	}

	if teamID == "" {
		return Availability{
			HasAvailability: true,
			Slots:           slotGrid(DefaultDayStart, DefaultDayEnd, durationMinutes, nil),
		}, nil
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	hours, err := r.Hours.WorkingHours(ctx, teamID, date.Weekday())
	if err != nil {
		return Availability{}, fmt.Errorf("%w: working hours for team %s: %v",
			engine.ErrValidationUnavailable, teamID, err)
	}
	if !hours.Working {
		return Availability{HasAvailability: false}, nil
	}

	busy, err := r.Bookings.TeamBookings(ctx, teamID, date, excludeID)
	if err != nil {
		return Availability{}, fmt.Errorf("%w: team bookings for %s: %v",
			engine.ErrValidationUnavailable, teamID, err)
	}

	slots := slotGrid(hours.Start, hours.End, durationMinutes, busy)
	return Availability{HasAvailability: len(slots) > 0, Slots: slots}, nil
}

// slotGrid generates candidate starts every SlotGranularityMinutes within
// [dayStart, dayEnd] such that the whole visit fits, skipping candidates
// whose window overlaps a busy booking.
func slotGrid(dayStart, dayEnd engine.ClockTime, durationMinutes int, busy []Booking) []engine.ClockTime {
	var slots []engine.ClockTime
	for start := dayStart; !start.Add(durationMinutes).After(dayEnd); start = start.Add(SlotGranularityMinutes) {
		candidate := engine.NewInterval(start, durationMinutes)
		if overlapsBusy(candidate, busy) {
			continue
		}
		slots = append(slots, start)
	}
	return slots
}

func overlapsBusy(candidate engine.Interval, busy []Booking) bool {
	for _, b := range busy {
		if candidate.Overlaps(b.Window) {
			return true
		}
	}
	return false
}
