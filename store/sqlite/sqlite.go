/*
Package sqlite provides the SQLite-backed store for single-binary deployments.

PURPOSE:
  Implements every persistence interface the engine consumes using one
  SQLite file: appointment.Store, appointment.Ledger,
  schedule.BookingSource, schedule.HoursSource, and quota.Source.

APPEND-ONLY ENFORCEMENT:
  The appointment_history table has no UPDATE or DELETE statement anywhere
  in this package. Corrections arrive as new time_override rows.

OPTIMISTIC CONCURRENCY:
  Appointment writes are compare-and-swapped on the version column:
  UPDATE ... WHERE id = ? AND version = ?. Zero rows affected with an
  existing row means another writer committed first - StaleStateError.

BOOKING LOCK:
  SQLite has a single writer anyway; a process-wide mutex serializes the
  check-then-insert section of booking commands. The postgres store does
  the same job with advisory locks instead.

WAL MODE:
  Opened with WAL so history/availability reads don't block command writes.

MIGRATION:
  Schema is auto-migrated on New(). For shared deployments use the
  postgres store with versioned migrations.

USAGE:
  store, err := sqlite.New("./data/visits.db")   // ":memory:" for tests
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - appointment/store.go: interface contracts (CAS + booking lock)
  - store/memory:   map-backed equivalent for tests
  - store/postgres: pgx-backed equivalent for shared deployments
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/visit-engine/appointment"
	"github.com/warp/visit-engine/engine"
	"github.com/warp/visit-engine/nemt"
	"github.com/warp/visit-engine/quota"
	"github.com/warp/visit-engine/schedule"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db        *sql.DB
	bookingMu sync.Mutex
}

// New opens (or creates) the database and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		team_id TEXT NOT NULL DEFAULT '',
		speciality_id TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		scheduled_start INTEGER NOT NULL,
		duration_minutes INTEGER NOT NULL,
		location_type TEXT NOT NULL DEFAULT '',
		street TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		zip TEXT NOT NULL DEFAULT '',
		lat REAL,
		lon REAL,
		notes TEXT NOT NULL DEFAULT '',
		completion_notes TEXT NOT NULL DEFAULT '',
		started_at TEXT,
		completed_at TEXT,
		cancelled_at TEXT,
		cancellation_reason TEXT NOT NULL DEFAULT '',
		nemt_occurrence_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Conflict detection reads by (party, date): keep these hot.
	CREATE INDEX IF NOT EXISTS idx_appointments_team_date
		ON appointments(team_id, date);
	CREATE INDEX IF NOT EXISTS idx_appointments_client_date
		ON appointments(client_id, date);
	CREATE INDEX IF NOT EXISTS idx_appointments_occurrence
		ON appointments(nemt_occurrence_id) WHERE nemt_occurrence_id != '';

	-- Append-only: no UPDATE/DELETE on this table anywhere in this package.
	CREATE TABLE IF NOT EXISTS appointment_history (
		id TEXT PRIMARY KEY,
		appointment_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		actor_type TEXT NOT NULL,
		action TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		diff_json TEXT,
		loc_verified INTEGER,
		loc_distance REAL
	);

	CREATE INDEX IF NOT EXISTS idx_history_appointment
		ON appointment_history(appointment_id, ts DESC);

	CREATE TABLE IF NOT EXISTS nemt_occurrences (
		id TEXT PRIMARY KEY,
		transportation_date TEXT NOT NULL,
		pickup_from INTEGER NOT NULL,
		pickup_to INTEGER,
		return_from INTEGER,
		return_to INTEGER,
		broker TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		appointment_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS working_hours (
		team_id TEXT NOT NULL,
		weekday INTEGER NOT NULL,
		working INTEGER NOT NULL,
		start_minutes INTEGER NOT NULL DEFAULT 0,
		end_minutes INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (team_id, weekday)
	);

	CREATE TABLE IF NOT EXISTS unit_balances (
		client_id TEXT NOT NULL,
		speciality_id TEXT NOT NULL,
		month TEXT NOT NULL,
		total_allocated TEXT NOT NULL,
		total_used TEXT NOT NULL,
		total_remaining TEXT NOT NULL,
		PRIMARY KEY (client_id, speciality_id, month)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// APPOINTMENT STORE
// =============================================================================

const appointmentColumns = `id, client_id, team_id, speciality_id, date, scheduled_start,
	duration_minutes, location_type, street, city, state, zip, lat, lon, notes,
	completion_notes, started_at, completed_at, cancelled_at, cancellation_reason,
	nemt_occurrence_id, status, version, created_at, updated_at`

func (s *Store) Get(ctx context.Context, id string) (*appointment.Appointment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id)
	a, err := scanAppointment(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("appointment %s: %w", id, engine.ErrNotFound)
	}
	return a, err
}

func (s *Store) Create(ctx context.Context, a *appointment.Appointment, entry *appointment.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertAppointment(ctx, tx, a); err != nil {
		return err
	}
	if entry != nil {
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Update(ctx context.Context, a *appointment.Appointment, expectedVersion int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := casUpdate(ctx, tx, a, expectedVersion); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ApplyTransition(ctx context.Context, a *appointment.Appointment, expectedVersion int64, entry *appointment.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := casUpdate(ctx, tx, a, expectedVersion); err != nil {
		return err
	}
	if entry != nil {
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) AppointmentForOccurrence(ctx context.Context, occurrenceID string) (*appointment.Appointment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments
		 WHERE nemt_occurrence_id = ? AND status NOT IN ('cancelled', 'deleted')
		 LIMIT 1`, occurrenceID)
	a, err := scanAppointment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *Store) WithBookingLock(_ context.Context, _ []appointment.BookingLockKey, fn func() error) error {
	s.bookingMu.Lock()
	defer s.bookingMu.Unlock()
	return fn()
}

func insertAppointment(ctx context.Context, tx *sql.Tx, a *appointment.Appointment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ClientID, a.TeamID, a.SpecialityID, a.Date.String(), int(a.ScheduledStart),
		a.DurationMinutes, string(a.LocationType), a.Address.Street, a.Address.City,
		a.Address.State, a.Address.Zip, a.Address.Lat, a.Address.Lon, a.Notes,
		a.CompletionNotes, nullTime(a.StartedAt), nullTime(a.CompletedAt),
		nullTime(a.CancelledAt), a.CancellationReason, a.NEMTOccurrenceID,
		string(a.Status), a.Version, a.CreatedAt.Format(time.RFC3339Nano),
		a.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert appointment: %w", err)
	}
	return nil
}

// casUpdate writes the row only if the stored version still matches.
func casUpdate(ctx context.Context, tx *sql.Tx, a *appointment.Appointment, expectedVersion int64) error {
	updatedAt := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE appointments SET
			client_id = ?, team_id = ?, speciality_id = ?, date = ?,
			scheduled_start = ?, duration_minutes = ?, location_type = ?,
			street = ?, city = ?, state = ?, zip = ?, lat = ?, lon = ?,
			notes = ?, completion_notes = ?, started_at = ?, completed_at = ?,
			cancelled_at = ?, cancellation_reason = ?, nemt_occurrence_id = ?,
			status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		a.ClientID, a.TeamID, a.SpecialityID, a.Date.String(), int(a.ScheduledStart),
		a.DurationMinutes, string(a.LocationType), a.Address.Street, a.Address.City,
		a.Address.State, a.Address.Zip, a.Address.Lat, a.Address.Lon, a.Notes,
		a.CompletionNotes, nullTime(a.StartedAt), nullTime(a.CompletedAt),
		nullTime(a.CancelledAt), a.CancellationReason, a.NEMTOccurrenceID,
		string(a.Status), updatedAt.Format(time.RFC3339Nano), a.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM appointments WHERE id = ?)`, a.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("appointment %s: %w", a.ID, engine.ErrNotFound)
		}
		return &engine.StaleStateError{AppointmentID: a.ID, ExpectedVersion: expectedVersion}
	}

	a.Version = expectedVersion + 1
	a.UpdatedAt = updatedAt
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (*appointment.Appointment, error) {
	var (
		a                              appointment.Appointment
		dateStr, locType, status       string
		start                          int
		lat, lon                       sql.NullFloat64
		startedAt, completedAt, cancAt sql.NullString
		createdAt, updatedAt           string
	)
	err := row.Scan(&a.ID, &a.ClientID, &a.TeamID, &a.SpecialityID, &dateStr, &start,
		&a.DurationMinutes, &locType, &a.Address.Street, &a.Address.City,
		&a.Address.State, &a.Address.Zip, &lat, &lon, &a.Notes,
		&a.CompletionNotes, &startedAt, &completedAt, &cancAt,
		&a.CancellationReason, &a.NEMTOccurrenceID, &status, &a.Version,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	a.Date, err = engine.ParseDate(dateStr)
	if err != nil {
		return nil, err
	}
	a.ScheduledStart = engine.ClockTime(start)
	a.LocationType = appointment.LocationType(locType)
	a.Status = appointment.Status(status)
	if lat.Valid {
		a.Address.Lat = &lat.Float64
	}
	if lon.Valid {
		a.Address.Lon = &lon.Float64
	}
	if a.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if a.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if a.CancelledAt, err = parseNullTime(cancAt); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) Append(ctx context.Context, e *appointment.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertHistory(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) List(ctx context.Context, appointmentID string) ([]appointment.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, appointment_id, ts, actor_id, actor_type, action, reason,
			diff_json, loc_verified, loc_distance
		FROM appointment_history
		WHERE appointment_id = ?
		ORDER BY ts DESC`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []appointment.HistoryEntry
	for rows.Next() {
		var (
			e           appointment.HistoryEntry
			ts          string
			actorType   string
			action      string
			diffJSON    sql.NullString
			locVerified sql.NullBool
			locDistance sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.AppointmentID, &ts, &e.ActorID, &actorType,
			&action, &e.Reason, &diffJSON, &locVerified, &locDistance); err != nil {
			return nil, err
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, err
		}
		e.ActorType = appointment.ActorType(actorType)
		e.Action = appointment.HistoryAction(action)
		if diffJSON.Valid && diffJSON.String != "" {
			if err := json.Unmarshal([]byte(diffJSON.String), &e.Diff); err != nil {
				return nil, err
			}
		}
		if locVerified.Valid {
			e.Location = &engine.LocationCheck{
				Verified:       locVerified.Bool,
				DistanceMeters: locDistance.Float64,
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func insertHistory(ctx context.Context, tx *sql.Tx, e *appointment.HistoryEntry) error {
	var diffJSON any
	if len(e.Diff) > 0 {
		b, err := json.Marshal(e.Diff)
		if err != nil {
			return err
		}
		diffJSON = string(b)
	}
	var locVerified, locDistance any
	if e.Location != nil {
		locVerified = e.Location.Verified
		locDistance = e.Location.DistanceMeters
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO appointment_history
			(id, appointment_id, ts, actor_id, actor_type, action, reason,
			 diff_json, loc_verified, loc_distance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AppointmentID, e.Timestamp.Format(time.RFC3339Nano), e.ActorID,
		string(e.ActorType), string(e.Action), e.Reason, diffJSON, locVerified, locDistance)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// =============================================================================
// BOOKING SOURCE
// =============================================================================

func (s *Store) TeamBookings(ctx context.Context, teamID string, date engine.Date, excludeID string) ([]schedule.Booking, error) {
	return s.queryBookings(ctx, "team_id", teamID, date, excludeID)
}

func (s *Store) ClientBookings(ctx context.Context, clientID string, date engine.Date, excludeID string) ([]schedule.Booking, error) {
	return s.queryBookings(ctx, "client_id", clientID, date, excludeID)
}

func (s *Store) queryBookings(ctx context.Context, column, partyID string, date engine.Date, excludeID string) ([]schedule.Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scheduled_start, duration_minutes FROM appointments
		WHERE `+column+` = ? AND date = ? AND id != ?
			AND status NOT IN ('cancelled', 'deleted')
		ORDER BY scheduled_start`, partyID, date.String(), excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Booking
	for rows.Next() {
		var (
			id       string
			start    int
			duration int
		)
		if err := rows.Scan(&id, &start, &duration); err != nil {
			return nil, err
		}
		out = append(out, schedule.Booking{
			AppointmentID: id,
			Window:        engine.NewInterval(engine.ClockTime(start), duration),
		})
	}
	return out, rows.Err()
}

// =============================================================================
// NEMT OCCURRENCES
// =============================================================================

func (s *Store) GetOccurrence(ctx context.Context, id string) (*nemt.Occurrence, error) {
	var (
		occ                      nemt.Occurrence
		dateStr, status          string
		pickupFrom               int
		pickupTo, retFrom, retTo sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, transportation_date, pickup_from, pickup_to, return_from,
			return_to, broker, status, appointment_id
		FROM nemt_occurrences WHERE id = ?`, id).
		Scan(&occ.ID, &dateStr, &pickupFrom, &pickupTo, &retFrom, &retTo,
			&occ.Broker, &status, &occ.AppointmentID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("occurrence %s: %w", id, engine.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if occ.TransportationDate, err = engine.ParseDate(dateStr); err != nil {
		return nil, err
	}
	occ.PickupFrom = engine.ClockTime(pickupFrom)
	occ.PickupTo = nullClock(pickupTo)
	occ.ReturnFrom = nullClock(retFrom)
	occ.ReturnTo = nullClock(retTo)
	occ.Status = nemt.OccurrenceStatus(status)
	return &occ, nil
}

// SaveOccurrence upserts an occurrence row. Occurrence data is synced in
// from the transportation broker integration, not managed by the engine.
func (s *Store) SaveOccurrence(ctx context.Context, occ *nemt.Occurrence) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nemt_occurrences
			(id, transportation_date, pickup_from, pickup_to, return_from,
			 return_to, broker, status, appointment_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			transportation_date = excluded.transportation_date,
			pickup_from = excluded.pickup_from,
			pickup_to = excluded.pickup_to,
			return_from = excluded.return_from,
			return_to = excluded.return_to,
			broker = excluded.broker,
			status = excluded.status,
			appointment_id = excluded.appointment_id`,
		occ.ID, occ.TransportationDate.String(), int(occ.PickupFrom),
		clockValue(occ.PickupTo), clockValue(occ.ReturnFrom), clockValue(occ.ReturnTo),
		occ.Broker, string(occ.Status), occ.AppointmentID)
	return err
}

// =============================================================================
// WORKING HOURS / UNIT BALANCES (read models fed by the surrounding system)
// =============================================================================

func (s *Store) WorkingHours(ctx context.Context, teamID string, weekday time.Weekday) (schedule.DayHours, error) {
	var (
		working    bool
		start, end int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT working, start_minutes, end_minutes FROM working_hours
		WHERE team_id = ? AND weekday = ?`, teamID, int(weekday)).
		Scan(&working, &start, &end)
	if err == sql.ErrNoRows {
		// Not configured means not working that day.
		return schedule.DayHours{}, nil
	}
	if err != nil {
		return schedule.DayHours{}, err
	}
	return schedule.DayHours{
		Working: working,
		Start:   engine.ClockTime(start),
		End:     engine.ClockTime(end),
	}, nil
}

func (s *Store) SaveWorkingHours(ctx context.Context, teamID string, weekday time.Weekday, h schedule.DayHours) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO working_hours (team_id, weekday, working, start_minutes, end_minutes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(team_id, weekday) DO UPDATE SET
			working = excluded.working,
			start_minutes = excluded.start_minutes,
			end_minutes = excluded.end_minutes`,
		teamID, int(weekday), h.Working, int(h.Start), int(h.End))
	return err
}

func (s *Store) UnitBalance(ctx context.Context, clientID, specialityID, month string) (*quota.Balance, error) {
	var allocated, used, remaining string
	err := s.db.QueryRowContext(ctx, `
		SELECT total_allocated, total_used, total_remaining FROM unit_balances
		WHERE client_id = ? AND speciality_id = ? AND month = ?`,
		clientID, specialityID, month).
		Scan(&allocated, &used, &remaining)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("unit balance for %s/%s/%s: %w", clientID, specialityID, month, engine.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	b := &quota.Balance{ClientID: clientID, SpecialityID: specialityID, Month: month}
	if b.TotalAllocated, err = decimal.NewFromString(allocated); err != nil {
		return nil, err
	}
	if b.TotalUsed, err = decimal.NewFromString(used); err != nil {
		return nil, err
	}
	if b.TotalRemaining, err = decimal.NewFromString(remaining); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) SaveUnitBalance(ctx context.Context, b *quota.Balance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unit_balances
			(client_id, speciality_id, month, total_allocated, total_used, total_remaining)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id, speciality_id, month) DO UPDATE SET
			total_allocated = excluded.total_allocated,
			total_used = excluded.total_used,
			total_remaining = excluded.total_remaining`,
		b.ClientID, b.SpecialityID, b.Month,
		b.TotalAllocated.String(), b.TotalUsed.String(), b.TotalRemaining.String())
	return err
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullClock(v sql.NullInt64) *engine.ClockTime {
	if !v.Valid {
		return nil
	}
	c := engine.ClockTime(v.Int64)
	return &c
}

func clockValue(c *engine.ClockTime) any {
	if c == nil {
		return nil
	}
	return int(*c)
}
