/*
Package override validates backdated time corrections on appointments.

PURPOSE:
  When an administrator corrects the actual start/end clock times of a
  historical visit, this package produces the blocking errors and the
  warnings the correction triggers. It is a pure function over the
  proposed times - no storage, no side effects.

RULE ORDER MATTERS:
  The checks below form an ordered first-match-wins cascade. Exactly one
  rule fires per validation (or none). Reordering the rules changes
  behavior: a 21:30-22:00 correction yields only the night-override
  warning, never additionally the duration-drift warning, because rule 2
  matches before rule 6 is ever evaluated. Keep the order fixed.

SEVERITIES:
  Rule 1 is the only hard block. Rules 2-3 are "strong" warnings: the UI
  styles them like errors and asks for re-confirmation, but submission is
  still permitted. Rules 4-6 are plain advisories.

MISSING END TIME:
  An in-progress visit may get a start-only correction. Every rule that
  needs the end time is skipped in that case.
*/
package override

import (
	"fmt"

	"github.com/warp/visit-engine/engine"
)

// Issue codes produced by Validate.
const (
	CodeEndBeforeStart = "end_before_start"
	CodeNightOverride  = "night_override"
	CodeAMPMConfusion  = "ampm_confusion"
	CodeEveningStart   = "evening_start"
	CodeEarlyStart     = "early_start"
	CodeDurationDrift  = "duration_drift"
)

// Threshold clock times for the heuristic rules.
var (
	nightCutoff   = engine.Clock(21, 0)
	eveningCutoff = engine.Clock(18, 0)
	earlyCutoff   = engine.Clock(7, 0)
)

// driftFactor: actual duration beyond 1.5x the planned minutes is suspicious.
const driftFactor = 1.5

// Input is a proposed time correction for one appointment.
type Input struct {
	Start engine.ClockTime
	// End is nil when only the start of an in-progress visit is corrected.
	End *engine.ClockTime
	// PlannedMinutes is the scheduled visit length (units_required * 15).
	PlannedMinutes int
}

// Validate runs the ordered rule cascade and returns at most one issue.
// An empty list means the correction is clean.
func Validate(in Input) engine.IssueList {
	// Rule 1: end before start. The only hard rejection.
	if in.End != nil && in.End.Before(in.Start) {
		return engine.IssueList{engine.Blocking(CodeEndBeforeStart,
			fmt.Sprintf("end time %s is before start time %s", *in.End, in.Start))}
	}

	// Rule 2: night-time override. Strong warning, needs re-confirmation.
	if !in.Start.Before(nightCutoff) || (in.End != nil && !in.End.Before(nightCutoff)) {
		return engine.IssueList{engine.Strong(CodeNightOverride,
			"corrected times fall at or after 21:00; confirm this night-time visit is intentional")}
	}

	// Rule 3: probable AM/PM entry error. An 11:xx start "ending" earlier the
	// same day, or a 12:xx start ending after 12, is the classic signature of
	// a 12-hour clock mix-up.
	if in.End != nil {
		startHour, endHour := in.Start.Hour(), in.End.Hour()
		if (startHour == 11 && endHour < 11) || (startHour == 12 && endHour > 12) {
			return engine.IssueList{engine.Strong(CodeAMPMConfusion,
				"start/end hours look like an AM/PM entry mix-up; re-check the corrected times")}
		}
	}

	// Rule 4: evening start.
	if !in.Start.Before(eveningCutoff) {
		return engine.IssueList{engine.Advisory(CodeEveningStart,
			"corrected start is 18:00 or later; confirm this evening visit is intentional")}
	}

	// Rule 5: very early start.
	if in.Start.Before(earlyCutoff) {
		return engine.IssueList{engine.Advisory(CodeEarlyStart,
			"corrected start is before 07:00; confirm this early visit is intentional")}
	}

	// Rule 6: actual duration far beyond plan.
	if in.End != nil && in.PlannedMinutes > 0 {
		actual := in.End.Sub(in.Start)
		if float64(actual) > driftFactor*float64(in.PlannedMinutes) {
			return engine.IssueList{engine.Advisory(CodeDurationDrift,
				fmt.Sprintf("corrected duration %d min significantly exceeds the planned %d min",
					actual, in.PlannedMinutes))}
		}
	}

	return nil
}
