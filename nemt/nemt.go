/*
Package nemt models Non-Emergency Medical Transportation occurrences and
the rule that matches a pickup window to an appointment.

PURPOSE:
  A transportation leg is brokered separately from the visit itself. The
  engine only decides whether a given occurrence's pickup window is
  compatible with an appointment's start time; PDF request generation and
  broker communication live outside this module.

MATCHING RULE:
  An appointment start is compatible when it falls within
  [pickup_from - 1 hour, pickup_to], inclusive on both ends, on the same
  calendar date as the transportation. A missing pickup_to defaults to
  pickup_from. The one-hour pre-window exists because brokers routinely
  drop clients off early; a visit that starts up to an hour before the
  scheduled pickup window still lines up with the same transport leg.

LINKAGE:
  At most one non-cancelled appointment may hold an occurrence at a time.
  That 1:1 constraint is enforced by the state machine at link time (it
  owns appointment writes), not here - this package stays pure.
*/
package nemt

import (
	"fmt"

	"github.com/warp/visit-engine/engine"
)

// PreWindowMinutes is how far before pickup_from an appointment may start
// and still be considered matched to the occurrence.
const PreWindowMinutes = 60

// =============================================================================
// OCCURRENCE
// =============================================================================

type OccurrenceStatus string

const (
	OccurrencePending   OccurrenceStatus = "pending"
	OccurrenceConfirmed OccurrenceStatus = "confirmed"
	OccurrenceCancelled OccurrenceStatus = "cancelled"
)

// Occurrence is one scheduled transportation leg from the NEMT broker.
type Occurrence struct {
	ID                 string
	TransportationDate engine.Date
	PickupFrom         engine.ClockTime
	PickupTo           *engine.ClockTime // nil = point pickup, defaults to PickupFrom
	ReturnFrom         *engine.ClockTime
	ReturnTo           *engine.ClockTime
	Broker             string
	Status             OccurrenceStatus
	AppointmentID      string // currently linked appointment, empty if unlinked
}

// PickupWindowEnd returns the effective end of the pickup window.
func (o Occurrence) PickupWindowEnd() engine.ClockTime {
	if o.PickupTo != nil {
		return *o.PickupTo
	}
	return o.PickupFrom
}

// =============================================================================
// LINK VALIDATION
// =============================================================================

// LinkDecision is the outcome of matching an occurrence to an appointment.
type LinkDecision struct {
	Valid  bool
	Reason string
}

// ValidateLink checks whether an appointment on the given date starting at
// the given time matches the occurrence's pickup window. Pure; mutates nothing.
func ValidateLink(occ Occurrence, date engine.Date, start engine.ClockTime) LinkDecision {
	if !date.Equal(occ.TransportationDate) {
		return LinkDecision{
			Valid: false,
			Reason: fmt.Sprintf("appointment date %s does not match transportation date %s",
				date, occ.TransportationDate),
		}
	}

	earliest := occ.PickupFrom.Add(-PreWindowMinutes)
	latest := occ.PickupWindowEnd()

	if start.Before(earliest) || start.After(latest) {
		return LinkDecision{
			Valid: false,
			Reason: fmt.Sprintf("appointment start %s is outside pickup window %s-%s (incl. %d min pre-window)",
				start, occ.PickupFrom, latest, PreWindowMinutes),
		}
	}

	return LinkDecision{Valid: true, Reason: "appointment start matches pickup window"}
}
