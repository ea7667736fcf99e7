package override_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/visit-engine/engine"
	"github.com/warp/visit-engine/override"
)

func clock(h, m int) *engine.ClockTime {
	c := engine.Clock(h, m)
	return &c
}

// =============================================================================
// RULE CASCADE - First match wins, exactly one issue per validation
// =============================================================================

func TestValidate_CleanCorrection(t *testing.T) {
	issues := override.Validate(override.Input{
		Start:          engine.Clock(9, 0),
		End:            clock(10, 0),
		PlannedMinutes: 60,
	})
	assert.Empty(t, issues)
}

func TestValidate_EndBeforeStart_Blocks(t *testing.T) {
	// GIVEN: A correction where the end precedes the start
	// THEN: The single blocking rejection, nothing else

	issues := override.Validate(override.Input{
		Start:          engine.Clock(11, 0),
		End:            clock(10, 30),
		PlannedMinutes: 60,
	})
	require.Len(t, issues, 1)
	assert.Equal(t, engine.SeverityBlocking, issues[0].Severity)
	assert.Equal(t, override.CodeEndBeforeStart, issues[0].Code)
	assert.True(t, issues.HasBlocking())
}

func TestValidate_NightOverride_SuppressesLaterRules(t *testing.T) {
	// GIVEN: 21:30-22:00 against a 60-minute plan
	// THEN: Only the night-override strong warning fires. The evening-start
	// and duration rules never run - rule order is first-match-wins.

	issues := override.Validate(override.Input{
		Start:          engine.Clock(21, 30),
		End:            clock(22, 0),
		PlannedMinutes: 60,
	})
	require.Len(t, issues, 1)
	assert.Equal(t, engine.SeverityStrong, issues[0].Severity)
	assert.Equal(t, override.CodeNightOverride, issues[0].Code)
	assert.False(t, issues.HasBlocking())
}

func TestValidate_NightOverride_EndOnly(t *testing.T) {
	// An end at/after 21:00 triggers the night rule even with a daytime start.
	issues := override.Validate(override.Input{
		Start: engine.Clock(20, 0),
		End:   clock(21, 0),
	})
	require.Len(t, issues, 1)
	assert.Equal(t, override.CodeNightOverride, issues[0].Code)
}

func TestValidate_AMPMConfusion(t *testing.T) {
	// 11:00 start "ending" 10:30 would be end-before-start (rule 1).
	// The AM/PM signature needs rule 1 to pass: a 12:xx start ending later
	// in the afternoon.
	issues := override.Validate(override.Input{
		Start: engine.Clock(12, 15),
		End:   clock(13, 30),
	})
	require.Len(t, issues, 1)
	assert.Equal(t, engine.SeverityStrong, issues[0].Severity)
	assert.Equal(t, override.CodeAMPMConfusion, issues[0].Code)
}

func TestValidate_EveningStart_Advisory(t *testing.T) {
	issues := override.Validate(override.Input{
		Start: engine.Clock(18, 0),
		End:   clock(19, 0),
	})
	require.Len(t, issues, 1)
	assert.Equal(t, engine.SeverityAdvisory, issues[0].Severity)
	assert.Equal(t, override.CodeEveningStart, issues[0].Code)
}

func TestValidate_EarlyStart_Advisory(t *testing.T) {
	issues := override.Validate(override.Input{
		Start: engine.Clock(6, 30),
		End:   clock(7, 30),
	})
	require.Len(t, issues, 1)
	assert.Equal(t, override.CodeEarlyStart, issues[0].Code)
}

func TestValidate_DurationDrift_Advisory(t *testing.T) {
	// GIVEN: A 120-minute actual against a 60-minute plan (2x > 1.5x)
	issues := override.Validate(override.Input{
		Start:          engine.Clock(9, 0),
		End:            clock(11, 0),
		PlannedMinutes: 60,
	})
	require.Len(t, issues, 1)
	assert.Equal(t, override.CodeDurationDrift, issues[0].Code)
}

func TestValidate_DurationWithinDriftFactor(t *testing.T) {
	// Exactly 1.5x the plan is not "beyond" it.
	issues := override.Validate(override.Input{
		Start:          engine.Clock(9, 0),
		End:            clock(10, 30),
		PlannedMinutes: 60,
	})
	assert.Empty(t, issues)
}

// =============================================================================
// MISSING END TIME - Start-only corrections on in-progress visits
// =============================================================================

func TestValidate_MissingEnd_SkipsEndRules(t *testing.T) {
	// No end time: rules 1, the end half of 2, 3 and 6 are skipped.
	issues := override.Validate(override.Input{
		Start:          engine.Clock(9, 0),
		PlannedMinutes: 60,
	})
	assert.Empty(t, issues)
}

func TestValidate_MissingEnd_StartRulesStillFire(t *testing.T) {
	issues := override.Validate(override.Input{
		Start: engine.Clock(21, 5),
	})
	require.Len(t, issues, 1)
	assert.Equal(t, override.CodeNightOverride, issues[0].Code)
}
