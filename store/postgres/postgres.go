/*
Package postgres provides the pgx-backed store for shared deployments.

PURPOSE:
  Same interface surface as store/sqlite (appointment.Store,
  appointment.Ledger, schedule.BookingSource, schedule.HoursSource,
  quota.Source) backed by a pgxpool connection pool.

BOOKING LOCK:
  Instead of a process mutex, WithBookingLock opens a transaction and
  takes pg_advisory_xact_lock on a 64-bit hash of each "partyID|date"
  key, in the caller-provided sorted order. Locks release on commit, so
  two engine instances booking the same team/day serialize correctly.

OPTIMISTIC CONCURRENCY:
  Identical CAS contract to the other stores: UPDATE ... WHERE id = $n
  AND version = $m, zero rows on an existing id means StaleStateError.

MIGRATION:
  Schema is auto-migrated on New. For production clusters run the same
  DDL through your migration tooling and skip the auto path.
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/visit-engine/appointment"
	"github.com/warp/visit-engine/engine"
	"github.com/warp/visit-engine/nemt"
	"github.com/warp/visit-engine/quota"
	"github.com/warp/visit-engine/schedule"
)

// Store implements all storage interfaces on a PostgreSQL pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects, pings, and migrates the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Ping reports connectivity for readiness checks.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		team_id TEXT NOT NULL DEFAULT '',
		speciality_id TEXT NOT NULL DEFAULT '',
		date DATE NOT NULL,
		scheduled_start INTEGER NOT NULL,
		duration_minutes INTEGER NOT NULL,
		location_type TEXT NOT NULL DEFAULT '',
		street TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		zip TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION,
		lon DOUBLE PRECISION,
		notes TEXT NOT NULL DEFAULT '',
		completion_notes TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ,
		cancellation_reason TEXT NOT NULL DEFAULT '',
		nemt_occurrence_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		version BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_appointments_team_date
		ON appointments(team_id, date);
	CREATE INDEX IF NOT EXISTS idx_appointments_client_date
		ON appointments(client_id, date);
	CREATE INDEX IF NOT EXISTS idx_appointments_occurrence
		ON appointments(nemt_occurrence_id) WHERE nemt_occurrence_id != '';

	CREATE TABLE IF NOT EXISTS appointment_history (
		id TEXT PRIMARY KEY,
		appointment_id TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		actor_id TEXT NOT NULL,
		actor_type TEXT NOT NULL,
		action TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		diff_json JSONB,
		loc_verified BOOLEAN,
		loc_distance DOUBLE PRECISION
	);

	CREATE INDEX IF NOT EXISTS idx_history_appointment
		ON appointment_history(appointment_id, ts DESC);

	CREATE TABLE IF NOT EXISTS nemt_occurrences (
		id TEXT PRIMARY KEY,
		transportation_date DATE NOT NULL,
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
		working BOOLEAN NOT NULL,
		start_minutes INTEGER NOT NULL DEFAULT 0,
		end_minutes INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (team_id, weekday)
	);

	CREATE TABLE IF NOT EXISTS unit_balances (
		client_id TEXT NOT NULL,
		speciality_id TEXT NOT NULL,
		month TEXT NOT NULL,
		total_allocated NUMERIC NOT NULL,
		total_used NUMERIC NOT NULL,
		total_remaining NUMERIC NOT NULL,
		PRIMARY KEY (client_id, speciality_id, month)
	);
	`
	_, err := s.pool.Exec(ctx, schema)
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
	row := s.pool.QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("appointment %s: %w", id, engine.ErrNotFound)
	}
	return a, err
}

func (s *Store) Create(ctx context.Context, a *appointment.Appointment, entry *appointment.HistoryEntry) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertAppointment(ctx, tx, a); err != nil {
			return err
		}
		if entry != nil {
			return insertHistory(ctx, tx, entry)
		}
		return nil
	})
}

func (s *Store) Update(ctx context.Context, a *appointment.Appointment, expectedVersion int64) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return casUpdate(ctx, tx, a, expectedVersion)
	})
}

func (s *Store) ApplyTransition(ctx context.Context, a *appointment.Appointment, expectedVersion int64, entry *appointment.HistoryEntry) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := casUpdate(ctx, tx, a, expectedVersion); err != nil {
			return err
		}
		if entry != nil {
			return insertHistory(ctx, tx, entry)
		}
		return nil
	})
}

func (s *Store) AppointmentForOccurrence(ctx context.Context, occurrenceID string) (*appointment.Appointment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments
		 WHERE nemt_occurrence_id = $1 AND status NOT IN ('cancelled', 'deleted')
		 LIMIT 1`, occurrenceID)
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// WithBookingLock serializes via transaction-scoped advisory locks, one per
// key, taken in the caller's sorted order. The locks release on commit.
func (s *Store) WithBookingLock(ctx context.Context, keys []appointment.BookingLockKey, fn func() error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin lock transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, k := range keys {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockID(k)); err != nil {
			return fmt.Errorf("failed to acquire booking lock: %w", err)
		}
	}
	if err := fn(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func lockID(k appointment.BookingLockKey) int64 {
	h := fnv.New64a()
	h.Write([]byte(k.PartyID))
	h.Write([]byte("|"))
	h.Write([]byte(k.Date.String()))
	return int64(h.Sum64())
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertAppointment(ctx context.Context, tx pgx.Tx, a *appointment.Appointment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		a.ID, a.ClientID, a.TeamID, a.SpecialityID, a.Date.Time(), int(a.ScheduledStart),
		a.DurationMinutes, string(a.LocationType), a.Address.Street, a.Address.City,
		a.Address.State, a.Address.Zip, a.Address.Lat, a.Address.Lon, a.Notes,
		a.CompletionNotes, a.StartedAt, a.CompletedAt, a.CancelledAt,
		a.CancellationReason, a.NEMTOccurrenceID, string(a.Status), a.Version,
		a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert appointment: %w", err)
	}
	return nil
}

func casUpdate(ctx context.Context, tx pgx.Tx, a *appointment.Appointment, expectedVersion int64) error {
	updatedAt := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE appointments SET
			client_id = $1, team_id = $2, speciality_id = $3, date = $4,
			scheduled_start = $5, duration_minutes = $6, location_type = $7,
			street = $8, city = $9, state = $10, zip = $11, lat = $12, lon = $13,
			notes = $14, completion_notes = $15, started_at = $16,
			completed_at = $17, cancelled_at = $18, cancellation_reason = $19,
			nemt_occurrence_id = $20, status = $21, version = version + 1,
			updated_at = $22
		WHERE id = $23 AND version = $24`,
		a.ClientID, a.TeamID, a.SpecialityID, a.Date.Time(), int(a.ScheduledStart),
		a.DurationMinutes, string(a.LocationType), a.Address.Street, a.Address.City,
		a.Address.State, a.Address.Zip, a.Address.Lat, a.Address.Lon, a.Notes,
		a.CompletionNotes, a.StartedAt, a.CompletedAt, a.CancelledAt,
		a.CancellationReason, a.NEMTOccurrenceID, string(a.Status), updatedAt,
		a.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM appointments WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
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

func scanAppointment(row pgx.Row) (*appointment.Appointment, error) {
	var (
		out             appointment.Appointment
		date            time.Time
		locType, status string
		start           int
	)
	err := row.Scan(&out.ID, &out.ClientID, &out.TeamID, &out.SpecialityID, &date,
		&start, &out.DurationMinutes, &locType, &out.Address.Street,
		&out.Address.City, &out.Address.State, &out.Address.Zip,
		&out.Address.Lat, &out.Address.Lon, &out.Notes, &out.CompletionNotes,
		&out.StartedAt, &out.CompletedAt, &out.CancelledAt,
		&out.CancellationReason, &out.NEMTOccurrenceID, &status, &out.Version,
		&out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, err
	}

	out.Date = engine.DateOf(date)
	out.ScheduledStart = engine.ClockTime(start)
	out.LocationType = appointment.LocationType(locType)
	out.Status = appointment.Status(status)
	return &out, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) Append(ctx context.Context, e *appointment.HistoryEntry) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return insertHistory(ctx, tx, e)
	})
}

func (s *Store) List(ctx context.Context, appointmentID string) ([]appointment.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, appointment_id, ts, actor_id, actor_type, action, reason,
			diff_json, loc_verified, loc_distance
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY ts DESC`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []appointment.HistoryEntry
	for rows.Next() {
		var (
			e           appointment.HistoryEntry
			actorType   string
			action      string
			diffJSON    []byte
			locVerified *bool
			locDistance *float64
		)
		if err := rows.Scan(&e.ID, &e.AppointmentID, &e.Timestamp, &e.ActorID,
			&actorType, &action, &e.Reason, &diffJSON, &locVerified, &locDistance); err != nil {
			return nil, err
		}
		e.ActorType = appointment.ActorType(actorType)
		e.Action = appointment.HistoryAction(action)
		if len(diffJSON) > 0 {
			if err := json.Unmarshal(diffJSON, &e.Diff); err != nil {
				return nil, err
			}
		}
		if locVerified != nil {
			lc := &engine.LocationCheck{Verified: *locVerified}
			if locDistance != nil {
				lc.DistanceMeters = *locDistance
			}
			e.Location = lc
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func insertHistory(ctx context.Context, tx pgx.Tx, e *appointment.HistoryEntry) error {
	var diffJSON []byte
	if len(e.Diff) > 0 {
		b, err := json.Marshal(e.Diff)
		if err != nil {
			return err
		}
		diffJSON = b
	}
	var locVerified *bool
	var locDistance *float64
	if e.Location != nil {
		locVerified = &e.Location.Verified
		locDistance = &e.Location.DistanceMeters
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_history
			(id, appointment_id, ts, actor_id, actor_type, action, reason,
			 diff_json, loc_verified, loc_distance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.AppointmentID, e.Timestamp, e.ActorID, string(e.ActorType),
		string(e.Action), e.Reason, diffJSON, locVerified, locDistance)
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
	rows, err := s.pool.Query(ctx, `
		SELECT id, scheduled_start, duration_minutes FROM appointments
		WHERE `+column+` = $1 AND date = $2 AND id != $3
			AND status NOT IN ('cancelled', 'deleted')
		ORDER BY scheduled_start`, partyID, date.Time(), excludeID)
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
		date                     time.Time
		status                   string
		pickupFrom               int
		pickupTo, retFrom, retTo *int
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, transportation_date, pickup_from, pickup_to, return_from,
			return_to, broker, status, appointment_id
		FROM nemt_occurrences WHERE id = $1`, id).
		Scan(&occ.ID, &date, &pickupFrom, &pickupTo, &retFrom, &retTo,
			&occ.Broker, &status, &occ.AppointmentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("occurrence %s: %w", id, engine.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	occ.TransportationDate = engine.DateOf(date)
	occ.PickupFrom = engine.ClockTime(pickupFrom)
	occ.PickupTo = clockPtr(pickupTo)
	occ.ReturnFrom = clockPtr(retFrom)
	occ.ReturnTo = clockPtr(retTo)
	occ.Status = nemt.OccurrenceStatus(status)
	return &occ, nil
}

// SaveOccurrence upserts an occurrence row. Occurrence data is synced in
// from the transportation broker integration, not managed by the engine.
func (s *Store) SaveOccurrence(ctx context.Context, occ *nemt.Occurrence) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO nemt_occurrences
			(id, transportation_date, pickup_from, pickup_to, return_from,
			 return_to, broker, status, appointment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			transportation_date = EXCLUDED.transportation_date,
			pickup_from = EXCLUDED.pickup_from,
			pickup_to = EXCLUDED.pickup_to,
			return_from = EXCLUDED.return_from,
			return_to = EXCLUDED.return_to,
			broker = EXCLUDED.broker,
			status = EXCLUDED.status,
			appointment_id = EXCLUDED.appointment_id`,
		occ.ID, occ.TransportationDate.Time(), int(occ.PickupFrom),
		intPtr(occ.PickupTo), intPtr(occ.ReturnFrom), intPtr(occ.ReturnTo),
		occ.Broker, string(occ.Status), occ.AppointmentID)
	return err
}

// =============================================================================
// WORKING HOURS / UNIT BALANCES
// =============================================================================

func (s *Store) WorkingHours(ctx context.Context, teamID string, weekday time.Weekday) (schedule.DayHours, error) {
	var (
		working    bool
		start, end int
	)
	err := s.pool.QueryRow(ctx, `
		SELECT working, start_minutes, end_minutes FROM working_hours
		WHERE team_id = $1 AND weekday = $2`, teamID, int(weekday)).
		Scan(&working, &start, &end)
	if errors.Is(err, pgx.ErrNoRows) {
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO working_hours (team_id, weekday, working, start_minutes, end_minutes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (team_id, weekday) DO UPDATE SET
			working = EXCLUDED.working,
			start_minutes = EXCLUDED.start_minutes,
			end_minutes = EXCLUDED.end_minutes`,
		teamID, int(weekday), h.Working, int(h.Start), int(h.End))
	return err
}

func (s *Store) UnitBalance(ctx context.Context, clientID, specialityID, month string) (*quota.Balance, error) {
	b := &quota.Balance{ClientID: clientID, SpecialityID: specialityID, Month: month}
	err := s.pool.QueryRow(ctx, `
		SELECT total_allocated, total_used, total_remaining FROM unit_balances
		WHERE client_id = $1 AND speciality_id = $2 AND month = $3`,
		clientID, specialityID, month).
		Scan(&b.TotalAllocated, &b.TotalUsed, &b.TotalRemaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("unit balance for %s/%s/%s: %w", clientID, specialityID, month, engine.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) SaveUnitBalance(ctx context.Context, b *quota.Balance) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO unit_balances
			(client_id, speciality_id, month, total_allocated, total_used, total_remaining)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (client_id, speciality_id, month) DO UPDATE SET
			total_allocated = EXCLUDED.total_allocated,
			total_used = EXCLUDED.total_used,
			total_remaining = EXCLUDED.total_remaining`,
		b.ClientID, b.SpecialityID, b.Month,
		b.TotalAllocated, b.TotalUsed, b.TotalRemaining)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func clockPtr(v *int) *engine.ClockTime {
	if v == nil {
		return nil
	}
	c := engine.ClockTime(*v)
	return &c
}

func intPtr(c *engine.ClockTime) *int {
	if c == nil {
		return nil
	}
	v := int(*c)
	return &v
}
