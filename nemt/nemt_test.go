package nemt_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/visit-engine/engine"
	"github.com/warp/visit-engine/nemt"
)

func occurrence(pickupFrom, pickupTo engine.ClockTime) nemt.Occurrence {
	return nemt.Occurrence{
		ID:                 "occ-1",
		TransportationDate: engine.NewDate(2026, time.March, 10),
		PickupFrom:         pickupFrom,
		PickupTo:           &pickupTo,
		Status:             nemt.OccurrenceConfirmed,
	}
}

// =============================================================================
// PICKUP WINDOW MATCHING - [pickup_from - 1h, pickup_to], inclusive
// =============================================================================

func TestValidateLink_WithinWindow(t *testing.T) {
	// GIVEN: Pickup window 09:00-09:30
	// WHEN: The visit starts 08:05 (inside the one-hour pre-window)
	// THEN: Valid

	occ := occurrence(engine.Clock(9, 0), engine.Clock(9, 30))
	d := nemt.ValidateLink(occ, occ.TransportationDate, engine.Clock(8, 5))
	assert.True(t, d.Valid)
}

func TestValidateLink_BeforePreWindow(t *testing.T) {
	// 07:59 is one minute outside [08:00, 09:30].
	occ := occurrence(engine.Clock(9, 0), engine.Clock(9, 30))
	d := nemt.ValidateLink(occ, occ.TransportationDate, engine.Clock(7, 59))
	assert.False(t, d.Valid)
}

func TestValidateLink_WindowBoundsInclusive(t *testing.T) {
	occ := occurrence(engine.Clock(9, 0), engine.Clock(9, 30))

	earliest := nemt.ValidateLink(occ, occ.TransportationDate, engine.Clock(8, 0))
	assert.True(t, earliest.Valid, "exactly one hour before pickup_from is in-window")

	latest := nemt.ValidateLink(occ, occ.TransportationDate, engine.Clock(9, 30))
	assert.True(t, latest.Valid, "exactly pickup_to is in-window")

	late := nemt.ValidateLink(occ, occ.TransportationDate, engine.Clock(9, 31))
	assert.False(t, late.Valid)
}

func TestValidateLink_MissingPickupTo_DefaultsToPickupFrom(t *testing.T) {
	occ := nemt.Occurrence{
		ID:                 "occ-2",
		TransportationDate: engine.NewDate(2026, time.March, 10),
		PickupFrom:         engine.Clock(9, 0),
		Status:             nemt.OccurrencePending,
	}
	assert.Equal(t, engine.Clock(9, 0), occ.PickupWindowEnd())

	ok := nemt.ValidateLink(occ, occ.TransportationDate, engine.Clock(9, 0))
	assert.True(t, ok.Valid)

	late := nemt.ValidateLink(occ, occ.TransportationDate, engine.Clock(9, 1))
	assert.False(t, late.Valid)
}

func TestValidateLink_DateMismatch(t *testing.T) {
	occ := occurrence(engine.Clock(9, 0), engine.Clock(9, 30))
	d := nemt.ValidateLink(occ, engine.NewDate(2026, time.March, 11), engine.Clock(9, 0))
	assert.False(t, d.Valid)
	assert.Contains(t, d.Reason, "does not match transportation date")
}
