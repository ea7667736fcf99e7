/*
Package quota projects unit-balance impact for proposed appointments.

PURPOSE:
  Clients are authorized a number of billable units per (speciality,
  month) by their payer. One unit is a 15-minute increment of service.
  This package reads the month's balance from the external quota system
  of record and projects what booking a visit of a given duration would
  leave. It never mutates the balance and never blocks a booking on its
  own - insufficiency is an advisory the caller may override upstream
  with justification.

WHY DECIMAL?
  Payer allocations can be fractional (hour-based authorizations convert
  to 4.0 units per hour but partial-hour carryovers happen). decimal
  arithmetic keeps projections exact; float accumulation error in a
  billing-adjacent number is not acceptable.

INVARIANT:
  total_remaining = total_allocated - total_used is owned and enforced by
  the quota system. This package only reads the record and computes a
  projection on top of it.
*/
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/visit-engine/engine"
)

// MinutesPerUnit is the billable increment: one unit = 15 minutes.
const MinutesPerUnit = 15

// =============================================================================
// BALANCE - The external system of record's per-month quota row
// =============================================================================

type Balance struct {
	ClientID       string
	SpecialityID   string
	Month          string // "2006-01" quota-month key
	TotalAllocated decimal.Decimal
	TotalUsed      decimal.Decimal
	TotalRemaining decimal.Decimal
}

// Source looks up the month's balance record. Returns an error wrapping
// engine.ErrNotFound when the client has no allocation for the month.
type Source interface {
	UnitBalance(ctx context.Context, clientID, specialityID, month string) (*Balance, error)
}

// =============================================================================
// PROJECTION
// =============================================================================

// Projection reports the quota impact of a proposed appointment duration.
type Projection struct {
	Available    decimal.Decimal // remaining units before the proposed visit
	Required     int             // units the proposed duration consumes
	Projected    decimal.Decimal // remaining units after the proposed visit
	Insufficient bool            // projected < 0
}

// UnitsFor converts a duration to billable units: ceil(minutes / 15).
func UnitsFor(durationMinutes int) int {
	if durationMinutes <= 0 {
		return 0
	}
	return (durationMinutes + MinutesPerUnit - 1) / MinutesPerUnit
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator projects balances against the external quota source.
type Calculator struct {
	Source Source
	// Timeout bounds the external lookup. Zero means no extra deadline.
	Timeout time.Duration
}

// Project looks up the quota month derived from date and computes the
// post-booking balance. Lookup failures come back wrapping
// engine.ErrValidationUnavailable so the caller can surface "could not
// check" instead of silently treating it as fine.
func (c *Calculator) Project(ctx context.Context, clientID, specialityID string, date engine.Date, durationMinutes int) (*Projection, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	bal, err := c.Source.UnitBalance(ctx, clientID, specialityID, date.MonthKey())
	if err != nil {
		return nil, fmt.Errorf("%w: unit balance for client %s, speciality %s, month %s: %v",
			engine.ErrValidationUnavailable, clientID, specialityID, date.MonthKey(), err)
	}

	required := UnitsFor(durationMinutes)
	projected := bal.TotalRemaining.Sub(decimal.NewFromInt(int64(required)))

	return &Projection{
		Available:    bal.TotalRemaining,
		Required:     required,
		Projected:    projected,
		Insufficient: projected.IsNegative(),
	}, nil
}
