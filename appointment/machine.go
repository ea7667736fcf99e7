/*
machine.go - Guarded lifecycle commands

PURPOSE:
  The StateMachine is the only writer of appointments. Each command:
    1. loads the appointment,
    2. evaluates its guard (permission predicate AND status predicate -
       either failing yields GuardViolation with zero effect),
    3. runs the validators it needs, collecting issues instead of
       failing fast,
    4. compare-and-swaps the new state and appends the ledger entry in
       one atomic store call.

  Advisory and strong issues ride back on the CommandResult; only
  GuardViolation, StaleState, an unforced conflict, or a blocking
  validation item halt a command.

CONCURRENCY:
  Every write CASes on the version read in step 1. Two concurrent starts
  on the same scheduled appointment produce exactly one in_progress
  transition; the loser gets StaleState and should re-fetch and retry.
  Booking-shaped commands additionally run their conflict check inside
  the store's per-(party, date) booking lock so the check and the insert
  see the same snapshot.

SEE ALSO:
  - transitions.go: The status half of every guard
  - store.go:       ApplyTransition/WithBookingLock contracts
*/
package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/visit-engine/engine"
	"github.com/warp/visit-engine/nemt"
	"github.com/warp/visit-engine/override"
	"github.com/warp/visit-engine/quota"
	"github.com/warp/visit-engine/schedule"
)

// =============================================================================
// STATE MACHINE
// =============================================================================

// StateMachine orchestrates appointment lifecycle commands.
type StateMachine struct {
	Store     Store
	Ledger    Ledger
	Conflicts *schedule.Detector
	Quota     *quota.Calculator // optional; nil skips quota advisories
	Logger    zerolog.Logger

	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

// CommandResult is the authoritative post-command state plus every
// non-fatal issue the validators raised. The caller reconciles its own
// view from this; the engine keeps no client-side optimistic state.
type CommandResult struct {
	Appointment *Appointment
	Warnings    engine.IssueList
}

func (m *StateMachine) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

// ConflictError is returned when a booking-shaped command would overlap
// existing appointments and the caller did not force-override.
type ConflictError struct {
	Conflicts []schedule.Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%d scheduling conflict(s) detected", len(e.Conflicts))
}

func (e *ConflictError) Unwrap() error { return engine.ErrConflictDetected }

// =============================================================================
// BOOK - Create an appointment (the booking wizard's commit step)
// =============================================================================

// BookingRequest is a proposed new appointment.
type BookingRequest struct {
	ClientID        string
	TeamID          string // empty creates an open shift
	SpecialityID    string
	Date            engine.Date
	Start           engine.ClockTime
	DurationMinutes int
	LocationType    LocationType
	Address         Address
	Notes           string
	// Force books over detected conflicts. The override is recorded in
	// the ledger; it is the caller's decision, not the engine's.
	Force bool
}

// Book creates the appointment in status unassigned (no team) or
// scheduled (team pre-assigned). The conflict check and the insert run
// under the booking lock for both parties; quota shortfall is advisory.
func (m *StateMachine) Book(ctx context.Context, actor engine.ActorContext, req BookingRequest) (*CommandResult, error) {
	if req.ClientID == "" {
		return nil, &engine.GuardViolationError{Command: string(CommandBook), Reason: "client is required"}
	}
	if req.DurationMinutes <= 0 {
		return nil, &engine.GuardViolationError{Command: string(CommandBook), Reason: "duration must be positive"}
	}
	if req.Date.IsZero() {
		return nil, &engine.GuardViolationError{Command: string(CommandBook), Reason: "date is required"}
	}
	if !actor.IsManager() {
		// Field staff may only book their own visits or open shifts.
		if !actor.IsStaff() || (req.TeamID != "" && !actor.IsAssignedTo(req.TeamID)) {
			return nil, &engine.GuardViolationError{Command: string(CommandBook),
				Reason: "only admins may book for other team members"}
		}
	}

	warnings := m.quotaAdvisory(ctx, req.ClientID, req.SpecialityID, req.Date, req.DurationMinutes)

	now := m.now()
	a := &Appointment{
		ID:              uuid.NewString(),
		ClientID:        req.ClientID,
		TeamID:          req.TeamID,
		SpecialityID:    req.SpecialityID,
		Date:            req.Date,
		ScheduledStart:  req.Start,
		DurationMinutes: req.DurationMinutes,
		LocationType:    req.LocationType,
		Address:         req.Address,
		Notes:           req.Notes,
		Status:          StatusUnassigned,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.TeamID != "" {
		a.Status = StatusScheduled
	}

	keys := LockKeysFor(req.Date, req.TeamID, req.ClientID)
	err := m.Store.WithBookingLock(ctx, keys, func() error {
		conflicts, err := m.Conflicts.Check(ctx, schedule.CheckRequest{
			Date:            req.Date,
			Start:           req.Start,
			DurationMinutes: req.DurationMinutes,
			TeamID:          req.TeamID,
			ClientID:        req.ClientID,
		})
		if err != nil {
			// The conflict check gates a write: an unavailable lookup is a
			// hard failure here, not an advisory.
			return err
		}
		if len(conflicts) > 0 && !req.Force {
			return &ConflictError{Conflicts: conflicts}
		}

		var entry *HistoryEntry
		if req.TeamID != "" {
			entry = m.newEntry(a.ID, actor, ActionAssigned, "", nil, nil)
		}
		if err := m.Store.Create(ctx, a, entry); err != nil {
			return err
		}

		if len(conflicts) > 0 {
			// Force-override: annotate the ledger in the time_override style
			// so the audit trail shows the caller's decision.
			annotation := m.newEntry(a.ID, actor, ActionTimeOverride,
				fmt.Sprintf("booked over %d scheduling conflict(s) by caller override", len(conflicts)),
				conflictDiffs(conflicts), nil)
			if err := m.Ledger.Append(ctx, annotation); err != nil {
				return err
			}
			for _, c := range conflicts {
				warnings = append(warnings, engine.Advisory("conflict_overridden", c.Message))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logCommand(CommandBook, a, warnings)
	return &CommandResult{Appointment: a, Warnings: warnings}, nil
}

// =============================================================================
// START / COMPLETE
// =============================================================================

// Start moves a scheduled appointment to in_progress and records the
// caller-supplied EVV outcome on the ledger entry.
func (m *StateMachine) Start(ctx context.Context, actor engine.ActorContext, id string, loc *engine.LocationCheck) (*CommandResult, error) {
	a, err := m.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(CommandStart, a); err != nil {
		return nil, err
	}
	if a.OpenShift() {
		return nil, &engine.GuardViolationError{Command: string(CommandStart),
			Status: string(a.Status), Reason: "open shift has no team member to start it"}
	}
	if !actor.IsManager() && !actor.IsAssignedTo(a.TeamID) {
		return nil, &engine.GuardViolationError{Command: string(CommandStart),
			Reason: "only the assigned team member or an admin may start the visit"}
	}

	now := m.now()
	next := a.Clone()
	next.Status = StatusInProgress
	next.StartedAt = &now

	entry := m.newEntry(a.ID, actor, ActionStarted, "", nil, loc)
	if err := m.Store.ApplyTransition(ctx, next, a.Version, entry); err != nil {
		return nil, err
	}

	m.logCommand(CommandStart, next, nil)
	return &CommandResult{Appointment: next}, nil
}

// Complete moves an in_progress appointment to completed.
func (m *StateMachine) Complete(ctx context.Context, actor engine.ActorContext, id, notes string, loc *engine.LocationCheck) (*CommandResult, error) {
	a, err := m.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(CommandComplete, a); err != nil {
		return nil, err
	}
	if !actor.IsManager() && !actor.IsAssignedTo(a.TeamID) {
		return nil, &engine.GuardViolationError{Command: string(CommandComplete),
			Reason: "only the assigned team member or an admin may complete the visit"}
	}

	now := m.now()
	next := a.Clone()
	next.Status = StatusCompleted
	next.CompletedAt = &now
	next.CompletionNotes = notes

	entry := m.newEntry(a.ID, actor, ActionCompleted, "", nil, loc)
	if err := m.Store.ApplyTransition(ctx, next, a.Version, entry); err != nil {
		return nil, err
	}

	m.logCommand(CommandComplete, next, nil)
	return &CommandResult{Appointment: next}, nil
}

// =============================================================================
// CANCEL / ASSIGN / DELETE
// =============================================================================

// Cancel is an admin action and always requires a reason.
func (m *StateMachine) Cancel(ctx context.Context, actor engine.ActorContext, id, reason string) (*CommandResult, error) {
	a, err := m.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(CommandCancel, a); err != nil {
		return nil, err
	}
	if !actor.IsManager() {
		return nil, &engine.GuardViolationError{Command: string(CommandCancel),
			Reason: "cancelling requires admin or superadmin"}
	}
	if reason == "" {
		return nil, &engine.GuardViolationError{Command: string(CommandCancel),
			Reason: "a cancellation reason is required"}
	}

	now := m.now()
	next := a.Clone()
	next.Status = StatusCancelled
	next.CancelledAt = &now
	next.CancellationReason = reason

	entry := m.newEntry(a.ID, actor, ActionCancelled, reason, nil, nil)
	if err := m.Store.ApplyTransition(ctx, next, a.Version, entry); err != nil {
		return nil, err
	}

	m.logCommand(CommandCancel, next, nil)
	return &CommandResult{Appointment: next}, nil
}

// AssignToSelf lets a staff member claim an open shift.
func (m *StateMachine) AssignToSelf(ctx context.Context, actor engine.ActorContext, id string) (*CommandResult, error) {
	a, err := m.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(CommandAssignSelf, a); err != nil {
		return nil, err
	}
	if !a.OpenShift() {
		return nil, &engine.GuardViolationError{Command: string(CommandAssignSelf),
			Status: string(a.Status), Reason: "appointment already has a team member"}
	}
	if !actor.IsStaff() || actor.TeamID == "" {
		return nil, &engine.GuardViolationError{Command: string(CommandAssignSelf),
			Reason: "only field staff with a team identity may self-assign"}
	}

	next := a.Clone()
	next.TeamID = actor.TeamID
	next.Status = StatusScheduled

	entry := m.newEntry(a.ID, actor, ActionAssigned, "", nil, nil)
	if err := m.Store.ApplyTransition(ctx, next, a.Version, entry); err != nil {
		return nil, err
	}

	m.logCommand(CommandAssignSelf, next, nil)
	return &CommandResult{Appointment: next}, nil
}

// Delete marks the appointment deleted. Appointments are never hard-deleted.
func (m *StateMachine) Delete(ctx context.Context, actor engine.ActorContext, id string) (*CommandResult, error) {
	a, err := m.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(CommandDelete, a); err != nil {
		return nil, err
	}
	if !actor.IsManager() {
		return nil, &engine.GuardViolationError{Command: string(CommandDelete),
			Reason: "deleting requires admin or superadmin"}
	}

	next := a.Clone()
	next.Status = StatusDeleted

	if err := m.Store.ApplyTransition(ctx, next, a.Version, nil); err != nil {
		return nil, err
	}

	m.logCommand(CommandDelete, next, nil)
	return &CommandResult{Appointment: next}, nil
}

// =============================================================================
// TIME OVERRIDE
// =============================================================================

// OverrideTimes replaces the actual start/end timestamps of a historical
// appointment after running the correction through the override rules.
// newEnd may be nil for start-only corrections on in-progress visits.
func (m *StateMachine) OverrideTimes(ctx context.Context, actor engine.ActorContext, id string, newStart engine.ClockTime, newEnd *engine.ClockTime, reason string) (*CommandResult, error) {
	a, err := m.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(CommandOverrideTimes, a); err != nil {
		return nil, err
	}
	if !actor.IsManager() {
		return nil, &engine.GuardViolationError{Command: string(CommandOverrideTimes),
			Reason: "time corrections require admin or superadmin"}
	}
	if reason == "" {
		return nil, &engine.GuardViolationError{Command: string(CommandOverrideTimes),
			Reason: "a correction reason is required"}
	}

	issues := override.Validate(override.Input{
		Start:          newStart,
		End:            newEnd,
		PlannedMinutes: a.PlannedMinutes(),
	})
	if issues.HasBlocking() {
		return nil, &engine.BlockingValidationError{Issues: issues.Blocking()}
	}

	next := a.Clone()
	var diffs []FieldDiff

	startedAt := a.Date.At(newStart)
	if a.StartedAt == nil || !a.StartedAt.Equal(startedAt) {
		diffs = append(diffs, FieldDiff{
			Field:  "started_at",
			Before: formatTime(a.StartedAt),
			After:  startedAt.Format(time.RFC3339),
		})
		next.StartedAt = &startedAt
	}
	if newEnd != nil {
		completedAt := a.Date.At(*newEnd)
		if a.CompletedAt == nil || !a.CompletedAt.Equal(completedAt) {
			diffs = append(diffs, FieldDiff{
				Field:  "completed_at",
				Before: formatTime(a.CompletedAt),
				After:  completedAt.Format(time.RFC3339),
			})
			next.CompletedAt = &completedAt
		}
	}

	entry := m.newEntry(a.ID, actor, ActionTimeOverride, reason, diffs, nil)
	if err := m.Store.ApplyTransition(ctx, next, a.Version, entry); err != nil {
		return nil, err
	}

	m.logCommand(CommandOverrideTimes, next, issues)
	return &CommandResult{Appointment: next, Warnings: issues}, nil
}

// =============================================================================
// RESCHEDULE / REASSIGN
// =============================================================================

// RescheduleRequest moves an appointment's slot.
type RescheduleRequest struct {
	Date            engine.Date
	Start           engine.ClockTime
	DurationMinutes int
	Force           bool
}

// Reschedule moves the slot of a not-yet-active appointment with the same
// conflict discipline as Book. The move is recorded with a field diff.
func (m *StateMachine) Reschedule(ctx context.Context, actor engine.ActorContext, id string, req RescheduleRequest) (*CommandResult, error) {
	a, err := m.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(CommandReschedule, a); err != nil {
		return nil, err
	}
	if !actor.IsManager() && !actor.IsAssignedTo(a.TeamID) {
		return nil, &engine.GuardViolationError{Command: string(CommandReschedule),
			Reason: "only admins or the assigned team member may reschedule"}
	}
	if req.DurationMinutes <= 0 {
		return nil, &engine.GuardViolationError{Command: string(CommandReschedule),
			Reason: "duration must be positive"}
	}

	warnings := m.quotaAdvisory(ctx, a.ClientID, a.SpecialityID, req.Date, req.DurationMinutes)

	next := a.Clone()
	var diffs []FieldDiff
	if !a.Date.Equal(req.Date) {
		diffs = append(diffs, FieldDiff{Field: "date", Before: a.Date.String(), After: req.Date.String()})
		next.Date = req.Date
	}
	if a.ScheduledStart != req.Start {
		diffs = append(diffs, FieldDiff{Field: "scheduled_start", Before: a.ScheduledStart.String(), After: req.Start.String()})
		next.ScheduledStart = req.Start
	}
	if a.DurationMinutes != req.DurationMinutes {
		diffs = append(diffs, FieldDiff{
			Field:  "duration_minutes",
			Before: fmt.Sprintf("%d", a.DurationMinutes),
			After:  fmt.Sprintf("%d", req.DurationMinutes),
		})
		next.DurationMinutes = req.DurationMinutes
	}
	if len(diffs) == 0 {
		return &CommandResult{Appointment: a, Warnings: warnings}, nil
	}

	keys := LockKeysFor(req.Date, a.TeamID, a.ClientID)
	err = m.Store.WithBookingLock(ctx, keys, func() error {
		conflicts, err := m.Conflicts.Check(ctx, schedule.CheckRequest{
			Date:            req.Date,
			Start:           req.Start,
			DurationMinutes: req.DurationMinutes,
			TeamID:          a.TeamID,
			ClientID:        a.ClientID,
			ExcludeID:       a.ID,
		})
		if err != nil {
			return err
		}
		if len(conflicts) > 0 && !req.Force {
			return &ConflictError{Conflicts: conflicts}
		}
		if len(conflicts) > 0 {
			for _, c := range conflicts {
				warnings = append(warnings, engine.Advisory("conflict_overridden", c.Message))
			}
		}

		entry := m.newEntry(a.ID, actor, ActionTimeOverride, "rescheduled", diffs, nil)
		return m.Store.ApplyTransition(ctx, next, a.Version, entry)
	})
	if err != nil {
		return nil, err
	}

	m.logCommand(CommandReschedule, next, warnings)
	return &CommandResult{Appointment: next, Warnings: warnings}, nil
}

// Reassign switches the appointment to a different team member.
func (m *StateMachine) Reassign(ctx context.Context, actor engine.ActorContext, id, newTeamID string) (*CommandResult, error) {
	a, err := m.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(CommandReassign, a); err != nil {
		return nil, err
	}
	if !actor.IsManager() {
		return nil, &engine.GuardViolationError{Command: string(CommandReassign),
			Reason: "reassigning requires admin or superadmin"}
	}
	if newTeamID == "" {
		return nil, &engine.GuardViolationError{Command: string(CommandReassign),
			Reason: "a team member is required"}
	}
	if newTeamID == a.TeamID {
		return &CommandResult{Appointment: a}, nil
	}

	next := a.Clone()
	next.TeamID = newTeamID
	diffs := []FieldDiff{{Field: "team_id", Before: a.TeamID, After: newTeamID}}

	keys := LockKeysFor(a.Date, newTeamID, "")
	err = m.Store.WithBookingLock(ctx, keys, func() error {
		conflicts, err := m.Conflicts.Check(ctx, schedule.CheckRequest{
			Date:            a.Date,
			Start:           a.ScheduledStart,
			DurationMinutes: a.DurationMinutes,
			TeamID:          newTeamID,
			ExcludeID:       a.ID,
		})
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &ConflictError{Conflicts: conflicts}
		}

		entry := m.newEntry(a.ID, actor, ActionTeamSwitch, "", diffs, nil)
		return m.Store.ApplyTransition(ctx, next, a.Version, entry)
	})
	if err != nil {
		return nil, err
	}

	m.logCommand(CommandReassign, next, nil)
	return &CommandResult{Appointment: next}, nil
}

// =============================================================================
// TRANSPORTATION LINKAGE
// =============================================================================

// LinkTransportation attaches a NEMT occurrence after validating the
// pickup window and the 1:1 linkage constraint.
func (m *StateMachine) LinkTransportation(ctx context.Context, actor engine.ActorContext, id, occurrenceID string) (*CommandResult, error) {
	a, err := m.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(CommandLinkNEMT, a); err != nil {
		return nil, err
	}

	occ, err := m.Store.GetOccurrence(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}
	if occ.Status == nemt.OccurrenceCancelled {
		return nil, &engine.BlockingValidationError{Issues: []engine.Issue{
			engine.Blocking("occurrence_cancelled", "transportation occurrence has been cancelled"),
		}}
	}

	holder, err := m.Store.AppointmentForOccurrence(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}
	if holder != nil && holder.ID != a.ID {
		return nil, &engine.GuardViolationError{Command: string(CommandLinkNEMT),
			Reason: fmt.Sprintf("occurrence already linked to appointment %s", holder.ID)}
	}

	decision := nemt.ValidateLink(*occ, a.Date, a.ScheduledStart)
	if !decision.Valid {
		return nil, &engine.BlockingValidationError{Issues: []engine.Issue{
			engine.Blocking("nemt_window_mismatch", decision.Reason),
		}}
	}

	next := a.Clone()
	next.NEMTOccurrenceID = occ.ID
	if err := m.Store.Update(ctx, next, a.Version); err != nil {
		return nil, err
	}

	m.logCommand(CommandLinkNEMT, next, nil)
	return &CommandResult{Appointment: next}, nil
}

// UnlinkTransportation detaches the NEMT occurrence. Allowed from any status.
func (m *StateMachine) UnlinkTransportation(ctx context.Context, actor engine.ActorContext, id string) (*CommandResult, error) {
	a, err := m.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(CommandUnlinkNEMT, a); err != nil {
		return nil, err
	}

	next := a.Clone()
	next.NEMTOccurrenceID = ""
	if err := m.Store.Update(ctx, next, a.Version); err != nil {
		return nil, err
	}

	m.logCommand(CommandUnlinkNEMT, next, nil)
	return &CommandResult{Appointment: next}, nil
}

// =============================================================================
// HISTORY
// =============================================================================

// History returns the appointment's ledger, newest first.
func (m *StateMachine) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	if _, err := m.Store.Get(ctx, id); err != nil {
		return nil, err
	}
	return m.Ledger.List(ctx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *StateMachine) quotaAdvisory(ctx context.Context, clientID, specialityID string, date engine.Date, durationMinutes int) engine.IssueList {
	if m.Quota == nil {
		return nil
	}
	proj, err := m.Quota.Project(ctx, clientID, specialityID, date, durationMinutes)
	if err != nil {
		// "Could not check" must be visible; it is never the same as "fine".
		return engine.IssueList{engine.Advisory("quota_unavailable",
			fmt.Sprintf("unit balance could not be checked: %v", err))}
	}
	if proj.Insufficient {
		return engine.IssueList{engine.Advisory("insufficient_units",
			fmt.Sprintf("booking requires %d units but only %s remain for %s (projected %s)",
				proj.Required, proj.Available.String(), date.MonthKey(), proj.Projected.String()))}
	}
	return nil
}

func (m *StateMachine) newEntry(appointmentID string, actor engine.ActorContext, action HistoryAction, reason string, diffs []FieldDiff, loc *engine.LocationCheck) *HistoryEntry {
	actorType := ActorUser
	switch {
	case actor.UserID == "system":
		actorType = ActorSystem
	case actor.IsStaff() && !actor.IsManager():
		actorType = ActorTeam
	}
	return &HistoryEntry{
		ID:            uuid.NewString(),
		AppointmentID: appointmentID,
		Timestamp:     m.now(),
		ActorID:       actor.UserID,
		ActorType:     actorType,
		Action:        action,
		Reason:        reason,
		Diff:          diffs,
		Location:      loc,
	}
}

func (m *StateMachine) logCommand(cmd Command, a *Appointment, warnings engine.IssueList) {
	m.Logger.Info().
		Str("command", string(cmd)).
		Str("appointment_id", a.ID).
		Str("status", string(a.Status)).
		Int("warnings", len(warnings)).
		Msg("command applied")
}

func conflictDiffs(conflicts []schedule.Conflict) []FieldDiff {
	diffs := make([]FieldDiff, len(conflicts))
	for i, c := range conflicts {
		diffs[i] = FieldDiff{Field: string(c.Type), After: c.ConflictingAppointmentID}
	}
	return diffs
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
