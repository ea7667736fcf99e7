package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/visit-engine/engine"
)

// =============================================================================
// DATE TESTS
// =============================================================================

func TestParseDate(t *testing.T) {
	d, err := engine.ParseDate("2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, 2026, d.Year())
	assert.Equal(t, time.March, d.Month())
	assert.Equal(t, 10, d.Day())
	assert.Equal(t, "2026-03-10", d.String())

	_, err = engine.ParseDate("03/10/2026")
	assert.Error(t, err)
}

func TestDateMonthKey(t *testing.T) {
	d := engine.NewDate(2026, time.March, 31)
	assert.Equal(t, "2026-03", d.MonthKey())
}

func TestDateAt(t *testing.T) {
	d := engine.NewDate(2026, time.March, 10)
	ts := d.At(engine.Clock(14, 30))
	assert.Equal(t, time.Date(2026, time.March, 10, 14, 30, 0, 0, time.UTC), ts)
}

// =============================================================================
// CLOCK TIME TESTS
// =============================================================================

func TestParseClock(t *testing.T) {
	c, err := engine.ParseClock("09:45")
	require.NoError(t, err)
	assert.Equal(t, engine.Clock(9, 45), c)
	assert.Equal(t, "09:45", c.String())

	_, err = engine.ParseClock("9:45 AM")
	assert.Error(t, err)
}

func TestClockArithmetic(t *testing.T) {
	c := engine.Clock(10, 0)
	assert.Equal(t, engine.Clock(10, 45), c.Add(45))
	assert.Equal(t, 60, engine.Clock(11, 0).Sub(c))
	assert.True(t, c.Before(engine.Clock(10, 1)))
	assert.True(t, c.After(engine.Clock(9, 59)))
}

// =============================================================================
// INTERVAL OVERLAP - The half-open rule every conflict check depends on
// =============================================================================

func TestIntervalOverlap_TouchingEndpointsDoNotConflict(t *testing.T) {
	// GIVEN: A visit 09:00-10:00
	// WHEN: Another visit starts exactly at 10:00
	// THEN: No overlap - back-to-back scheduling is legal

	existing := engine.NewInterval(engine.Clock(9, 0), 60)
	backToBack := engine.NewInterval(engine.Clock(10, 0), 60)

	assert.False(t, existing.Overlaps(backToBack))
	assert.False(t, backToBack.Overlaps(existing))
}

func TestIntervalOverlap_OneMinuteIntrusionConflicts(t *testing.T) {
	// GIVEN: A visit 09:00-10:00
	// WHEN: Another visit starts 09:59
	// THEN: Overlap

	existing := engine.NewInterval(engine.Clock(9, 0), 60)
	intruding := engine.NewInterval(engine.Clock(9, 59), 60)

	assert.True(t, existing.Overlaps(intruding))
	assert.True(t, intruding.Overlaps(existing))
}

func TestIntervalOverlap_Containment(t *testing.T) {
	outer := engine.NewInterval(engine.Clock(9, 0), 180)
	inner := engine.NewInterval(engine.Clock(10, 0), 30)

	assert.True(t, outer.Overlaps(inner))
	assert.True(t, inner.Overlaps(outer))
}

func TestIntervalDuration(t *testing.T) {
	iv := engine.NewInterval(engine.Clock(9, 0), 75)
	assert.Equal(t, 75, iv.Duration())
	assert.Equal(t, "09:00-10:15", iv.String())
}

// =============================================================================
// LOCATION VERIFICATION
// =============================================================================

func TestHaversineMeters(t *testing.T) {
	// 0.009 degrees of latitude is just over a kilometer.
	d := engine.HaversineMeters(40.7128, -74.0060, 40.7218, -74.0060)
	assert.InDelta(t, 1000.8, d, 5)

	assert.Zero(t, engine.HaversineMeters(40.7128, -74.0060, 40.7128, -74.0060))
}

func TestVerifyLocation_CustomRadius(t *testing.T) {
	// ~1km apart: fails the 250m default, passes an expanded radius.
	check := engine.VerifyLocation(40.7128, -74.0060, 40.7218, -74.0060, 1100)
	assert.True(t, check.Verified)
	assert.InDelta(t, 1000.8, check.DistanceMeters, 5)
}

func TestVerifyLocation(t *testing.T) {
	// ~111m per 0.001 degrees of latitude.
	check := engine.VerifyLocation(40.7128, -74.0060, 40.7128, -74.0060, 0)
	assert.True(t, check.Verified)
	assert.InDelta(t, 0, check.DistanceMeters, 0.01)

	far := engine.VerifyLocation(40.7128, -74.0060, 40.7228, -74.0060, 0)
	assert.False(t, far.Verified)
	assert.Greater(t, far.DistanceMeters, 1000.0)
}
