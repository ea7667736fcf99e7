/*
Package memory provides an in-memory store implementation (tests/dev).

Implements every storage interface the engine consumes:
appointment.Store, appointment.Ledger, schedule.BookingSource,
schedule.HoursSource, and quota.Source. The booking lock is a single
process-wide mutex - correct, and plenty for the workloads this backend
is meant for.
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/visit-engine/appointment"
	"github.com/warp/visit-engine/engine"
	"github.com/warp/visit-engine/nemt"
	"github.com/warp/visit-engine/quota"
	"github.com/warp/visit-engine/schedule"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu           sync.RWMutex
	bookingMu    sync.Mutex
	appointments map[string]*appointment.Appointment
	history      map[string][]appointment.HistoryEntry
	occurrences  map[string]*nemt.Occurrence
	hours        map[hoursKey]schedule.DayHours
	balances     map[balanceKey]*quota.Balance
}

type hoursKey struct {
	TeamID  string
	Weekday time.Weekday
}

type balanceKey struct {
	ClientID     string
	SpecialityID string
	Month        string
}

func New() *Store {
	return &Store{
		appointments: make(map[string]*appointment.Appointment),
		history:      make(map[string][]appointment.HistoryEntry),
		occurrences:  make(map[string]*nemt.Occurrence),
		hours:        make(map[hoursKey]schedule.DayHours),
		balances:     make(map[balanceKey]*quota.Balance),
	}
}

// =============================================================================
// APPOINTMENT STORE
// =============================================================================

func (s *Store) Get(_ context.Context, id string) (*appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment %s: %w", id, engine.ErrNotFound)
	}
	return a.Clone(), nil
}

func (s *Store) Create(_ context.Context, a *appointment.Appointment, entry *appointment.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.appointments[a.ID]; exists {
		return fmt.Errorf("appointment %s already exists", a.ID)
	}
	s.appointments[a.ID] = a.Clone()
	if entry != nil {
		s.history[a.ID] = append(s.history[a.ID], *entry)
	}
	return nil
}

func (s *Store) Update(_ context.Context, a *appointment.Appointment, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.casLocked(a, expectedVersion)
}

func (s *Store) ApplyTransition(_ context.Context, a *appointment.Appointment, expectedVersion int64, entry *appointment.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.casLocked(a, expectedVersion); err != nil {
		return err
	}
	if entry != nil {
		s.history[a.ID] = append(s.history[a.ID], *entry)
	}
	return nil
}

// casLocked re-checks the stored version immediately before the write.
func (s *Store) casLocked(a *appointment.Appointment, expectedVersion int64) error {
	current, ok := s.appointments[a.ID]
	if !ok {
		return fmt.Errorf("appointment %s: %w", a.ID, engine.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return &engine.StaleStateError{AppointmentID: a.ID, ExpectedVersion: expectedVersion}
	}
	a.Version = expectedVersion + 1
	a.UpdatedAt = time.Now().UTC()
	s.appointments[a.ID] = a.Clone()
	return nil
}

func (s *Store) AppointmentForOccurrence(_ context.Context, occurrenceID string) (*appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.appointments {
		if a.NEMTOccurrenceID == occurrenceID && a.Status != appointment.StatusCancelled && a.Status != appointment.StatusDeleted {
			return a.Clone(), nil
		}
	}
	return nil, nil
}

func (s *Store) WithBookingLock(_ context.Context, _ []appointment.BookingLockKey, fn func() error) error {
	s.bookingMu.Lock()
	defer s.bookingMu.Unlock()
	return fn()
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) Append(_ context.Context, e *appointment.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[e.AppointmentID] = append(s.history[e.AppointmentID], *e)
	return nil
}

func (s *Store) List(_ context.Context, appointmentID string) ([]appointment.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]appointment.HistoryEntry, len(s.history[appointmentID]))
	copy(entries, s.history[appointmentID])
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries, nil
}

// =============================================================================
// BOOKING SOURCE
// =============================================================================

func (s *Store) TeamBookings(_ context.Context, teamID string, date engine.Date, excludeID string) ([]schedule.Booking, error) {
	return s.bookings(date, excludeID, func(a *appointment.Appointment) bool {
		return a.TeamID == teamID
	}), nil
}

func (s *Store) ClientBookings(_ context.Context, clientID string, date engine.Date, excludeID string) ([]schedule.Booking, error) {
	return s.bookings(date, excludeID, func(a *appointment.Appointment) bool {
		return a.ClientID == clientID
	}), nil
}

func (s *Store) bookings(date engine.Date, excludeID string, match func(*appointment.Appointment) bool) []schedule.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []schedule.Booking
	for _, a := range s.appointments {
		if a.ID == excludeID || !a.Date.Equal(date) || !a.Status.CountsAsBooked() || !match(a) {
			continue
		}
		out = append(out, schedule.Booking{AppointmentID: a.ID, Window: a.Window()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Window.Start < out[j].Window.Start })
	return out
}

// =============================================================================
// NEMT OCCURRENCES
// =============================================================================

func (s *Store) GetOccurrence(_ context.Context, id string) (*nemt.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	occ, ok := s.occurrences[id]
	if !ok {
		return nil, fmt.Errorf("occurrence %s: %w", id, engine.ErrNotFound)
	}
	cp := *occ
	return &cp, nil
}

func (s *Store) SaveOccurrence(_ context.Context, occ *nemt.Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *occ
	s.occurrences[occ.ID] = &cp
	return nil
}

// =============================================================================
// WORKING HOURS / UNIT BALANCES (read models fed by the surrounding system)
// =============================================================================

func (s *Store) WorkingHours(_ context.Context, teamID string, weekday time.Weekday) (schedule.DayHours, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.hours[hoursKey{TeamID: teamID, Weekday: weekday}], nil
}

func (s *Store) SaveWorkingHours(_ context.Context, teamID string, weekday time.Weekday, h schedule.DayHours) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hours[hoursKey{TeamID: teamID, Weekday: weekday}] = h
	return nil
}

func (s *Store) UnitBalance(_ context.Context, clientID, specialityID, month string) (*quota.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.balances[balanceKey{ClientID: clientID, SpecialityID: specialityID, Month: month}]
	if !ok {
		return nil, fmt.Errorf("unit balance for %s/%s/%s: %w", clientID, specialityID, month, engine.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) SaveUnitBalance(_ context.Context, b *quota.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *b
	s.balances[balanceKey{ClientID: b.ClientID, SpecialityID: b.SpecialityID, Month: b.Month}] = &cp
	return nil
}
