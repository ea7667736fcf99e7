package appointment_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/visit-engine/appointment"
	"github.com/warp/visit-engine/engine"
	"github.com/warp/visit-engine/nemt"
	"github.com/warp/visit-engine/override"
	"github.com/warp/visit-engine/quota"
	"github.com/warp/visit-engine/schedule"
	"github.com/warp/visit-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	admin = engine.ActorContext{UserID: "admin-1", Roles: []engine.Role{engine.RoleAdmin}}
	staff = engine.ActorContext{UserID: "user-1", TeamID: "team-1", Roles: []engine.Role{engine.RoleStaff}}

	tuesday = engine.NewDate(2026, time.March, 10)
)

func newMachine(t *testing.T) (*appointment.StateMachine, *memory.Store) {
	t.Helper()
	store := memory.New()

	// A strictly monotonic clock keeps ledger ordering deterministic.
	base := time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC)
	var tick int64
	m := &appointment.StateMachine{
		Store:     store,
		Ledger:    store,
		Conflicts: &schedule.Detector{Source: store},
		Now: func() time.Time {
			return base.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Second)
		},
	}
	return m, store
}

func bookScheduled(t *testing.T, m *appointment.StateMachine, teamID string) *appointment.Appointment {
	t.Helper()
	res, err := m.Book(context.Background(), admin, appointment.BookingRequest{
		ClientID:        "client-1",
		TeamID:          teamID,
		SpecialityID:    "nursing",
		Date:            tuesday,
		Start:           engine.Clock(9, 0),
		DurationMinutes: 60,
	})
	require.NoError(t, err)
	return res.Appointment
}

// =============================================================================
// BOOK
// =============================================================================

func TestBook_WithTeam_StartsScheduled(t *testing.T) {
	m, store := newMachine(t)

	a := bookScheduled(t, m, "team-1")
	assert.Equal(t, appointment.StatusScheduled, a.Status)
	assert.Equal(t, int64(1), a.Version)
	assert.Equal(t, 4, a.UnitsRequired())

	// Booking with a team writes an "assigned" ledger entry.
	entries, err := store.List(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, appointment.ActionAssigned, entries[0].Action)
}

func TestBook_WithoutTeam_StartsUnassigned(t *testing.T) {
	m, store := newMachine(t)

	a := bookScheduled(t, m, "")
	assert.Equal(t, appointment.StatusUnassigned, a.Status)
	assert.True(t, a.OpenShift())

	// Open shifts have no assignment to record yet.
	entries, err := store.List(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBook_MissingClient_GuardViolation(t *testing.T) {
	m, _ := newMachine(t)
	_, err := m.Book(context.Background(), admin, appointment.BookingRequest{
		Date: tuesday, Start: engine.Clock(9, 0), DurationMinutes: 60,
	})
	assert.ErrorIs(t, err, engine.ErrGuardViolation)
}

func TestBook_StaffCannotBookForOthers(t *testing.T) {
	m, _ := newMachine(t)
	_, err := m.Book(context.Background(), staff, appointment.BookingRequest{
		ClientID: "client-1", TeamID: "team-2",
		Date: tuesday, Start: engine.Clock(9, 0), DurationMinutes: 60,
	})
	assert.ErrorIs(t, err, engine.ErrGuardViolation)
}

func TestBook_OverlappingSlot_Rejected(t *testing.T) {
	// GIVEN: team-1 already has 09:00-10:00
	// WHEN: Booking 09:30 for the same team
	// THEN: ConflictError; nothing created

	m, _ := newMachine(t)
	bookScheduled(t, m, "team-1")

	_, err := m.Book(context.Background(), admin, appointment.BookingRequest{
		ClientID: "client-2", TeamID: "team-1",
		Date: tuesday, Start: engine.Clock(9, 30), DurationMinutes: 60,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrConflictDetected)

	var conflictErr *appointment.ConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.Len(t, conflictErr.Conflicts, 1)
	assert.Equal(t, schedule.TeamConflict, conflictErr.Conflicts[0].Type)
}

func TestBook_BackToBack_Allowed(t *testing.T) {
	m, _ := newMachine(t)
	bookScheduled(t, m, "team-1")

	res, err := m.Book(context.Background(), admin, appointment.BookingRequest{
		ClientID: "client-2", TeamID: "team-1",
		Date: tuesday, Start: engine.Clock(10, 0), DurationMinutes: 60,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
}

func TestBook_Forced_RecordsOverrideOnLedger(t *testing.T) {
	// GIVEN: A conflicting slot
	// WHEN: Booking with Force
	// THEN: Created, advisory warnings returned, and the override annotated
	// on the ledger with the conflicting appointment ids

	m, store := newMachine(t)
	first := bookScheduled(t, m, "team-1")

	res, err := m.Book(context.Background(), admin, appointment.BookingRequest{
		ClientID: "client-2", TeamID: "team-1",
		Date: tuesday, Start: engine.Clock(9, 30), DurationMinutes: 60,
		Force: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Warnings.Has("conflict_overridden"))

	entries, err := store.List(context.Background(), res.Appointment.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var annotation *appointment.HistoryEntry
	for i := range entries {
		if entries[i].Action == appointment.ActionTimeOverride {
			annotation = &entries[i]
		}
	}
	require.NotNil(t, annotation)
	require.Len(t, annotation.Diff, 1)
	assert.Equal(t, first.ID, annotation.Diff[0].After)
}

func TestBook_QuotaShortfall_AdvisoryOnly(t *testing.T) {
	m, store := newMachine(t)
	m.Quota = &quota.Calculator{Source: store}

	require.NoError(t, store.SaveUnitBalance(context.Background(), &quota.Balance{
		ClientID: "client-1", SpecialityID: "nursing", Month: "2026-03",
		TotalAllocated: decimal.NewFromInt(8),
		TotalUsed:      decimal.NewFromInt(6),
		TotalRemaining: decimal.NewFromInt(2),
	}))

	// 60 minutes needs 4 units against 2 remaining: booked anyway.
	res, err := m.Book(context.Background(), admin, appointment.BookingRequest{
		ClientID: "client-1", TeamID: "team-1", SpecialityID: "nursing",
		Date: tuesday, Start: engine.Clock(9, 0), DurationMinutes: 60,
	})
	require.NoError(t, err)
	assert.True(t, res.Warnings.Has("insufficient_units"))
	assert.Equal(t, appointment.StatusScheduled, res.Appointment.Status)
}

func TestBook_QuotaLookupFailure_SurfacedNotSwallowed(t *testing.T) {
	m, store := newMachine(t)
	m.Quota = &quota.Calculator{Source: store}

	// No balance seeded: the lookup fails, the booking proceeds with a
	// "could not check" advisory rather than a silent pass.
	res, err := m.Book(context.Background(), admin, appointment.BookingRequest{
		ClientID: "client-1", TeamID: "team-1", SpecialityID: "nursing",
		Date: tuesday, Start: engine.Clock(9, 0), DurationMinutes: 60,
	})
	require.NoError(t, err)
	assert.True(t, res.Warnings.Has("quota_unavailable"))
}

// =============================================================================
// TRANSITION GUARDS - Illegal commands leave state untouched
// =============================================================================

func TestGuards_IllegalCommandsLeaveStateUnchanged(t *testing.T) {
	m, store := newMachine(t)
	a := bookScheduled(t, m, "team-1")

	// Complete from scheduled: must start first.
	_, err := m.Complete(context.Background(), staff, a.ID, "", nil)
	assert.ErrorIs(t, err, engine.ErrGuardViolation)

	// AssignToSelf on an already-assigned appointment.
	_, err = m.AssignToSelf(context.Background(), staff, a.ID)
	assert.ErrorIs(t, err, engine.ErrGuardViolation)

	current, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusScheduled, current.Status)
	assert.Equal(t, int64(1), current.Version, "failed guards must not bump the version")

	entries, err := store.List(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "failed guards must not write ledger entries")
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, appointment.Allowed(appointment.CommandStart, appointment.StatusScheduled))
	assert.False(t, appointment.Allowed(appointment.CommandStart, appointment.StatusUnassigned))
	assert.False(t, appointment.Allowed(appointment.CommandStart, appointment.StatusCompleted))

	assert.True(t, appointment.Allowed(appointment.CommandComplete, appointment.StatusInProgress))
	assert.False(t, appointment.Allowed(appointment.CommandComplete, appointment.StatusScheduled))

	assert.True(t, appointment.Allowed(appointment.CommandCancel, appointment.StatusScheduled))
	assert.True(t, appointment.Allowed(appointment.CommandCancel, appointment.StatusUnassigned))
	assert.False(t, appointment.Allowed(appointment.CommandCancel, appointment.StatusInProgress))

	// Delete is forbidden from the active and most terminal statuses.
	assert.False(t, appointment.Allowed(appointment.CommandDelete, appointment.StatusInProgress))
	assert.False(t, appointment.Allowed(appointment.CommandDelete, appointment.StatusCompleted))
	assert.False(t, appointment.Allowed(appointment.CommandDelete, appointment.StatusCancelled))
	assert.False(t, appointment.Allowed(appointment.CommandDelete, appointment.StatusDeleted))
	assert.True(t, appointment.Allowed(appointment.CommandDelete, appointment.StatusUnassigned))

	assert.True(t, appointment.Allowed(appointment.CommandOverrideTimes, appointment.StatusCompleted))
	assert.False(t, appointment.Allowed(appointment.CommandOverrideTimes, appointment.StatusScheduled))

	// Unlinking transportation is legal from every status, terminal included.
	for _, s := range appointment.AllStatuses {
		assert.True(t, appointment.Allowed(appointment.CommandUnlinkNEMT, s), string(s))
	}
}

// =============================================================================
// START / COMPLETE
// =============================================================================

func TestStartComplete_FullLifecycle(t *testing.T) {
	m, store := newMachine(t)
	a := bookScheduled(t, m, "team-1")

	loc := &engine.LocationCheck{Verified: true, DistanceMeters: 42}
	started, err := m.Start(context.Background(), staff, a.ID, loc)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusInProgress, started.Appointment.Status)
	require.NotNil(t, started.Appointment.StartedAt)

	completed, err := m.Complete(context.Background(), staff, a.ID, "visit went fine", nil)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, completed.Appointment.Status)
	assert.Equal(t, "visit went fine", completed.Appointment.CompletionNotes)

	entries, err := store.List(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3) // assigned, started, completed
	assert.Equal(t, appointment.ActionCompleted, entries[0].Action)

	var startEntry *appointment.HistoryEntry
	for i := range entries {
		if entries[i].Action == appointment.ActionStarted {
			startEntry = &entries[i]
		}
	}
	require.NotNil(t, startEntry)
	require.NotNil(t, startEntry.Location)
	assert.True(t, startEntry.Location.Verified)
}

func TestStart_OnlyAssignedStaffOrAdmin(t *testing.T) {
	m, _ := newMachine(t)
	a := bookScheduled(t, m, "team-1")

	otherStaff := engine.ActorContext{UserID: "user-2", TeamID: "team-2", Roles: []engine.Role{engine.RoleStaff}}
	_, err := m.Start(context.Background(), otherStaff, a.ID, nil)
	assert.ErrorIs(t, err, engine.ErrGuardViolation)

	_, err = m.Start(context.Background(), admin, a.ID, nil)
	assert.NoError(t, err)
}

func TestStart_ConcurrentRace_OneWinner(t *testing.T) {
	// GIVEN: One scheduled appointment
	// WHEN: Two concurrent Start commands race
	// THEN: Exactly one succeeds; the loser gets StaleState

	m, store := newMachine(t)
	a := bookScheduled(t, m, "team-1")

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Start(context.Background(), admin, a.ID, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, losers int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, engine.ErrStaleState) || errors.Is(err, engine.ErrGuardViolation):
			// The loser fails on the CAS, or on the status guard if it
			// read after the winner committed.
			losers++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, losers)

	current, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusInProgress, current.Status)
}

// =============================================================================
// CANCEL / DELETE / ASSIGN
// =============================================================================

func TestCancel_RequiresAdminAndReason(t *testing.T) {
	m, _ := newMachine(t)
	a := bookScheduled(t, m, "team-1")

	_, err := m.Cancel(context.Background(), staff, a.ID, "client called off")
	assert.ErrorIs(t, err, engine.ErrGuardViolation)

	_, err = m.Cancel(context.Background(), admin, a.ID, "")
	assert.ErrorIs(t, err, engine.ErrGuardViolation)

	res, err := m.Cancel(context.Background(), admin, a.ID, "client called off")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, res.Appointment.Status)
	assert.Equal(t, "client called off", res.Appointment.CancellationReason)
	require.NotNil(t, res.Appointment.CancelledAt)
}

func TestCancelled_FreesTheSlot(t *testing.T) {
	m, _ := newMachine(t)
	a := bookScheduled(t, m, "team-1")

	_, err := m.Cancel(context.Background(), admin, a.ID, "sick")
	require.NoError(t, err)

	// The exact same slot can be rebooked.
	_, err = m.Book(context.Background(), admin, appointment.BookingRequest{
		ClientID: "client-1", TeamID: "team-1",
		Date: tuesday, Start: engine.Clock(9, 0), DurationMinutes: 60,
	})
	assert.NoError(t, err)
}

func TestDelete_CompletedFails_UnassignedSucceeds(t *testing.T) {
	m, _ := newMachine(t)

	done := bookScheduled(t, m, "team-1")
	_, err := m.Start(context.Background(), admin, done.ID, nil)
	require.NoError(t, err)
	_, err = m.Complete(context.Background(), admin, done.ID, "", nil)
	require.NoError(t, err)

	_, err = m.Delete(context.Background(), admin, done.ID)
	assert.ErrorIs(t, err, engine.ErrGuardViolation, "completed appointments are audit records")

	open := bookScheduled(t, m, "")
	res, err := m.Delete(context.Background(), admin, open.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusDeleted, res.Appointment.Status)
}

func TestAssignToSelf(t *testing.T) {
	m, store := newMachine(t)
	open := bookScheduled(t, m, "")

	res, err := m.AssignToSelf(context.Background(), staff, open.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusScheduled, res.Appointment.Status)
	assert.Equal(t, "team-1", res.Appointment.TeamID)

	entries, err := store.List(context.Background(), open.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, appointment.ActionAssigned, entries[0].Action)
	assert.Equal(t, appointment.ActorTeam, entries[0].ActorType)
}

// =============================================================================
// TIME OVERRIDE
// =============================================================================

func TestOverrideTimes_RecordsDiff(t *testing.T) {
	m, store := newMachine(t)
	a := bookScheduled(t, m, "team-1")
	_, err := m.Start(context.Background(), admin, a.ID, nil)
	require.NoError(t, err)
	_, err = m.Complete(context.Background(), admin, a.ID, "", nil)
	require.NoError(t, err)

	end := engine.Clock(10, 30)
	res, err := m.OverrideTimes(context.Background(), admin, a.ID, engine.Clock(9, 15), &end, "forgot to clock in")
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	entries, err := store.List(context.Background(), a.ID)
	require.NoError(t, err)
	correction := entries[0]
	assert.Equal(t, appointment.ActionTimeOverride, correction.Action)
	assert.Equal(t, "forgot to clock in", correction.Reason)
	require.Len(t, correction.Diff, 2)
	assert.Equal(t, "started_at", correction.Diff[0].Field)
	assert.Equal(t, "completed_at", correction.Diff[1].Field)
}

func TestOverrideTimes_EndBeforeStart_Blocks(t *testing.T) {
	m, store := newMachine(t)
	a := bookScheduled(t, m, "team-1")
	_, err := m.Start(context.Background(), admin, a.ID, nil)
	require.NoError(t, err)
	_, err = m.Complete(context.Background(), admin, a.ID, "", nil)
	require.NoError(t, err)

	before, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)

	end := engine.Clock(8, 0)
	_, err = m.OverrideTimes(context.Background(), admin, a.ID, engine.Clock(9, 0), &end, "typo")
	assert.ErrorIs(t, err, engine.ErrValidationBlocking)

	after, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version, "blocked corrections must not write")
}

func TestOverrideTimes_StrongWarningDoesNotBlock(t *testing.T) {
	m, _ := newMachine(t)
	a := bookScheduled(t, m, "team-1")
	_, err := m.Start(context.Background(), admin, a.ID, nil)
	require.NoError(t, err)
	_, err = m.Complete(context.Background(), admin, a.ID, "", nil)
	require.NoError(t, err)

	end := engine.Clock(22, 0)
	res, err := m.OverrideTimes(context.Background(), admin, a.ID, engine.Clock(21, 30), &end, "late visit")
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, engine.SeverityStrong, res.Warnings[0].Severity)
	assert.Equal(t, override.CodeNightOverride, res.Warnings[0].Code)
}

// =============================================================================
// RESCHEDULE / REASSIGN
// =============================================================================

func TestReschedule_MovesSlotWithDiff(t *testing.T) {
	m, store := newMachine(t)
	a := bookScheduled(t, m, "team-1")

	res, err := m.Reschedule(context.Background(), admin, a.ID, appointment.RescheduleRequest{
		Date: tuesday.AddDays(1), Start: engine.Clock(14, 0), DurationMinutes: 90,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.Clock(14, 0), res.Appointment.ScheduledStart)
	assert.Equal(t, 90, res.Appointment.DurationMinutes)

	entries, err := store.List(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.ActionTimeOverride, entries[0].Action)
	assert.Len(t, entries[0].Diff, 3) // date, scheduled_start, duration_minutes
}

func TestReschedule_NoChange_NoLedgerEntry(t *testing.T) {
	m, store := newMachine(t)
	a := bookScheduled(t, m, "team-1")

	res, err := m.Reschedule(context.Background(), admin, a.ID, appointment.RescheduleRequest{
		Date: tuesday, Start: engine.Clock(9, 0), DurationMinutes: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, a.Version, res.Appointment.Version)

	entries, err := store.List(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReschedule_IntoConflict_Rejected(t *testing.T) {
	m, _ := newMachine(t)
	bookScheduled(t, m, "team-1")

	second, err := m.Book(context.Background(), admin, appointment.BookingRequest{
		ClientID: "client-2", TeamID: "team-1",
		Date: tuesday, Start: engine.Clock(11, 0), DurationMinutes: 60,
	})
	require.NoError(t, err)

	_, err = m.Reschedule(context.Background(), admin, second.Appointment.ID, appointment.RescheduleRequest{
		Date: tuesday, Start: engine.Clock(9, 30), DurationMinutes: 60,
	})
	assert.ErrorIs(t, err, engine.ErrConflictDetected)
}

func TestReschedule_OwnSlotExcluded(t *testing.T) {
	// Shifting a visit 15 minutes must not conflict with itself.
	m, _ := newMachine(t)
	a := bookScheduled(t, m, "team-1")

	_, err := m.Reschedule(context.Background(), admin, a.ID, appointment.RescheduleRequest{
		Date: tuesday, Start: engine.Clock(9, 15), DurationMinutes: 60,
	})
	assert.NoError(t, err)
}

func TestReassign_SwitchesTeamWithLedgerEntry(t *testing.T) {
	m, store := newMachine(t)
	a := bookScheduled(t, m, "team-1")

	res, err := m.Reassign(context.Background(), admin, a.ID, "team-2")
	require.NoError(t, err)
	assert.Equal(t, "team-2", res.Appointment.TeamID)

	entries, err := store.List(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.ActionTeamSwitch, entries[0].Action)
	require.Len(t, entries[0].Diff, 1)
	assert.Equal(t, "team-1", entries[0].Diff[0].Before)
	assert.Equal(t, "team-2", entries[0].Diff[0].After)
}

func TestReassign_TargetBusy_Rejected(t *testing.T) {
	m, _ := newMachine(t)
	a := bookScheduled(t, m, "team-1")

	_, err := m.Book(context.Background(), admin, appointment.BookingRequest{
		ClientID: "client-2", TeamID: "team-2",
		Date: tuesday, Start: engine.Clock(9, 0), DurationMinutes: 60,
	})
	require.NoError(t, err)

	_, err = m.Reassign(context.Background(), admin, a.ID, "team-2")
	assert.ErrorIs(t, err, engine.ErrConflictDetected)
}

// =============================================================================
// TRANSPORTATION LINKAGE
// =============================================================================

func seedOccurrence(t *testing.T, store *memory.Store, status nemt.OccurrenceStatus) *nemt.Occurrence {
	t.Helper()
	to := engine.Clock(9, 30)
	occ := &nemt.Occurrence{
		ID:                 "occ-1",
		TransportationDate: tuesday,
		PickupFrom:         engine.Clock(9, 0),
		PickupTo:           &to,
		Broker:             "metro-transit",
		Status:             status,
	}
	require.NoError(t, store.SaveOccurrence(context.Background(), occ))
	return occ
}

func TestLinkTransportation_HappyPath(t *testing.T) {
	m, store := newMachine(t)
	a := bookScheduled(t, m, "team-1") // starts 09:00, inside the window
	seedOccurrence(t, store, nemt.OccurrenceConfirmed)

	res, err := m.LinkTransportation(context.Background(), admin, a.ID, "occ-1")
	require.NoError(t, err)
	assert.Equal(t, "occ-1", res.Appointment.NEMTOccurrenceID)
}

func TestLinkTransportation_WindowMismatch_Blocks(t *testing.T) {
	m, store := newMachine(t)
	seedOccurrence(t, store, nemt.OccurrenceConfirmed)

	// 11:00 start is outside [08:00, 09:30].
	res, err := m.Book(context.Background(), admin, appointment.BookingRequest{
		ClientID: "client-1", TeamID: "team-1",
		Date: tuesday, Start: engine.Clock(11, 0), DurationMinutes: 60,
	})
	require.NoError(t, err)

	_, err = m.LinkTransportation(context.Background(), admin, res.Appointment.ID, "occ-1")
	assert.ErrorIs(t, err, engine.ErrValidationBlocking)
}

func TestLinkTransportation_CancelledOccurrence_Blocks(t *testing.T) {
	m, store := newMachine(t)
	a := bookScheduled(t, m, "team-1")
	seedOccurrence(t, store, nemt.OccurrenceCancelled)

	_, err := m.LinkTransportation(context.Background(), admin, a.ID, "occ-1")
	assert.ErrorIs(t, err, engine.ErrValidationBlocking)
}

func TestLinkTransportation_OneToOne(t *testing.T) {
	// GIVEN: occ-1 already linked to one appointment
	// WHEN: A second appointment tries to link it
	// THEN: Guard violation until the first unlinks

	m, store := newMachine(t)
	first := bookScheduled(t, m, "team-1")
	seedOccurrence(t, store, nemt.OccurrenceConfirmed)

	_, err := m.LinkTransportation(context.Background(), admin, first.ID, "occ-1")
	require.NoError(t, err)

	second, err := m.Book(context.Background(), admin, appointment.BookingRequest{
		ClientID: "client-2", TeamID: "team-2",
		Date: tuesday, Start: engine.Clock(9, 0), DurationMinutes: 30,
	})
	require.NoError(t, err)

	_, err = m.LinkTransportation(context.Background(), admin, second.Appointment.ID, "occ-1")
	assert.ErrorIs(t, err, engine.ErrGuardViolation)

	_, err = m.UnlinkTransportation(context.Background(), admin, first.ID)
	require.NoError(t, err)

	_, err = m.LinkTransportation(context.Background(), admin, second.Appointment.ID, "occ-1")
	assert.NoError(t, err)
}

func TestUnlinkTransportation_AfterCancellation(t *testing.T) {
	// The transport leg must be releasable even once the visit is cancelled,
	// or the occurrence stays stuck on a dead appointment.
	m, store := newMachine(t)
	a := bookScheduled(t, m, "team-1")
	seedOccurrence(t, store, nemt.OccurrenceConfirmed)

	_, err := m.LinkTransportation(context.Background(), admin, a.ID, "occ-1")
	require.NoError(t, err)
	_, err = m.Cancel(context.Background(), admin, a.ID, "client moved")
	require.NoError(t, err)

	res, err := m.UnlinkTransportation(context.Background(), admin, a.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Appointment.NEMTOccurrenceID)
}

func TestLinkTransportation_UnknownOccurrence(t *testing.T) {
	m, _ := newMachine(t)
	a := bookScheduled(t, m, "team-1")

	_, err := m.LinkTransportation(context.Background(), admin, a.ID, "occ-missing")
	assert.True(t, engine.IsNotFound(err))
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistory_NewestFirst(t *testing.T) {
	now := time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC)
	m, _ := newMachine(t)
	m.Now = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}

	a := bookScheduled(t, m, "team-1")
	_, err := m.Start(context.Background(), admin, a.ID, nil)
	require.NoError(t, err)
	_, err = m.Complete(context.Background(), admin, a.ID, "", nil)
	require.NoError(t, err)

	entries, err := m.History(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, appointment.ActionCompleted, entries[0].Action)
	assert.Equal(t, appointment.ActionStarted, entries[1].Action)
	assert.Equal(t, appointment.ActionAssigned, entries[2].Action)
	assert.True(t, entries[0].Timestamp.After(entries[1].Timestamp))
}

func TestHistory_UnknownAppointment(t *testing.T) {
	m, _ := newMachine(t)
	_, err := m.History(context.Background(), "missing")
	assert.True(t, engine.IsNotFound(err))
}
