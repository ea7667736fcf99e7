/*
handlers.go - HTTP API handlers for the appointment engine

PURPOSE:
  Exposes the appointment lifecycle engine via REST API. Handles HTTP
  request/response, JSON serialization and input validation, and
  delegates every decision to the domain packages.

ENDPOINTS:
  Appointments:
    POST /api/appointments                           Book
    GET  /api/appointments/{id}                      Fetch
    POST /api/appointments/{id}/start                Start (EVV capture)
    POST /api/appointments/{id}/complete             Complete
    POST /api/appointments/{id}/cancel               Cancel (reason required)
    POST /api/appointments/{id}/assign-self          Claim an open shift
    POST /api/appointments/{id}/delete               Soft delete
    POST /api/appointments/{id}/reschedule           Move the slot
    POST /api/appointments/{id}/reassign             Switch team member
    POST /api/appointments/{id}/override-times       Correct actual times
    POST /api/appointments/{id}/link-transportation  Attach NEMT occurrence
    POST /api/appointments/{id}/unlink-transportation
    GET  /api/appointments/{id}/history              Ledger, newest first
    POST /api/appointments/check-conflicts           Dry-run conflict check

  Read models:
    GET  /api/clients/{id}/unit-balance              Quota projection
    GET  /api/team/{id}/availability                 Bookable slots

ACTOR IDENTITY:
  The upstream auth proxy injects X-Actor-ID, X-Actor-Team and
  X-Actor-Roles (comma-separated). Handlers parse these into an
  engine.ActorContext; token verification is not this service's job.

ERROR MAPPING:
  400: Malformed input (bad JSON, bad date/time, failed validation tags)
  404: Appointment/occurrence not found
  409: Guard violation, stale state (retryable=true), scheduling conflict
  422: Blocking validation issue
  502: Dependent lookup unavailable
  500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - appointment/machine.go: The commands these handlers delegate to
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/warp/visit-engine/appointment"
	"github.com/warp/visit-engine/engine"
	"github.com/warp/visit-engine/quota"
	"github.com/warp/visit-engine/schedule"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Machine      *appointment.StateMachine
	Conflicts    *schedule.Detector
	Availability *schedule.Resolver
	Quota        *quota.Calculator
	Logger       zerolog.Logger

	validate *validator.Validate
}

// NewHandler wires a handler over the state machine and read models.
func NewHandler(machine *appointment.StateMachine, conflicts *schedule.Detector, availability *schedule.Resolver, q *quota.Calculator, logger zerolog.Logger) *Handler {
	return &Handler{
		Machine:      machine,
		Conflicts:    conflicts,
		Availability: availability,
		Quota:        q,
		Logger:       logger,
		validate:     validator.New(),
	}
}

// actorFrom parses the proxy-injected identity headers.
func actorFrom(r *http.Request) engine.ActorContext {
	actor := engine.ActorContext{
		UserID: r.Header.Get("X-Actor-ID"),
		TeamID: r.Header.Get("X-Actor-Team"),
	}
	for _, raw := range strings.Split(r.Header.Get("X-Actor-Roles"), ",") {
		role := strings.TrimSpace(raw)
		if role != "" {
			actor.Roles = append(actor.Roles, engine.Role(role))
		}
	}
	return actor
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// =============================================================================
// COMMAND HANDLERS
// =============================================================================

// Book creates an appointment.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if !h.decode(w, r, &req) {
		return
	}

	date, err := engine.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	start, err := engine.ParseClock(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start time", err)
		return
	}

	res, err := h.Machine.Book(r.Context(), actorFrom(r), appointment.BookingRequest{
		ClientID:        req.ClientID,
		TeamID:          req.TeamID,
		SpecialityID:    req.SpecialityID,
		Date:            date,
		Start:           start,
		DurationMinutes: req.DurationMinutes,
		LocationType:    appointment.LocationType(req.LocationType),
		Address: appointment.Address{
			Street: req.Address.Street,
			City:   req.Address.City,
			State:  req.Address.State,
			Zip:    req.Address.Zip,
			Lat:    req.Address.Lat,
			Lon:    req.Address.Lon,
		},
		Notes: req.Notes,
		Force: req.Force,
	})
	if err != nil {
		h.writeCommandError(w, appointment.CommandBook, err)
		return
	}
	commandsApplied.WithLabelValues(string(appointment.CommandBook)).Inc()
	writeJSON(w, http.StatusCreated, toCommandResponse(res))
}

// Get returns a single appointment.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.Machine.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeCommandError(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentDTO(a))
}

// Start moves a scheduled appointment to in_progress.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	h.runCommand(w, appointment.CommandStart, func() (*appointment.CommandResult, error) {
		return h.Machine.Start(r.Context(), actorFrom(r), id, h.locationCheck(r.Context(), id, req.Location))
	})
}

// Complete moves an in_progress appointment to completed.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	h.runCommand(w, appointment.CommandComplete, func() (*appointment.CommandResult, error) {
		return h.Machine.Complete(r.Context(), actorFrom(r), id, req.Notes, h.locationCheck(r.Context(), id, req.Location))
	})
}

// Cancel marks the appointment cancelled.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.runCommand(w, appointment.CommandCancel, func() (*appointment.CommandResult, error) {
		return h.Machine.Cancel(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.Reason)
	})
}

// AssignSelf claims an open shift for the calling staff member.
func (h *Handler) AssignSelf(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, appointment.CommandAssignSelf, func() (*appointment.CommandResult, error) {
		return h.Machine.AssignToSelf(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	})
}

// Delete soft-deletes the appointment.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, appointment.CommandDelete, func() (*appointment.CommandResult, error) {
		return h.Machine.Delete(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	})
}

// Reschedule moves the appointment's slot.
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req RescheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := engine.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	start, err := engine.ParseClock(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start time", err)
		return
	}
	h.runCommand(w, appointment.CommandReschedule, func() (*appointment.CommandResult, error) {
		return h.Machine.Reschedule(r.Context(), actorFrom(r), chi.URLParam(r, "id"), appointment.RescheduleRequest{
			Date:            date,
			Start:           start,
			DurationMinutes: req.DurationMinutes,
			Force:           req.Force,
		})
	})
}

// Reassign switches the assigned team member.
func (h *Handler) Reassign(w http.ResponseWriter, r *http.Request) {
	var req ReassignRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.runCommand(w, appointment.CommandReassign, func() (*appointment.CommandResult, error) {
		return h.Machine.Reassign(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.TeamID)
	})
}

// OverrideTimes corrects the actual start/end clock times.
func (h *Handler) OverrideTimes(w http.ResponseWriter, r *http.Request) {
	var req OverrideTimesRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := engine.ParseClock(req.StartedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid started_at time", err)
		return
	}
	var end *engine.ClockTime
	if req.CompletedAt != "" {
		c, err := engine.ParseClock(req.CompletedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid completed_at time", err)
			return
		}
		end = &c
	}
	h.runCommand(w, appointment.CommandOverrideTimes, func() (*appointment.CommandResult, error) {
		return h.Machine.OverrideTimes(r.Context(), actorFrom(r), chi.URLParam(r, "id"), start, end, req.Reason)
	})
}

// LinkTransportation attaches a NEMT occurrence.
func (h *Handler) LinkTransportation(w http.ResponseWriter, r *http.Request) {
	var req LinkTransportationRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.runCommand(w, appointment.CommandLinkNEMT, func() (*appointment.CommandResult, error) {
		return h.Machine.LinkTransportation(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.OccurrenceID)
	})
}

// UnlinkTransportation detaches the NEMT occurrence.
func (h *Handler) UnlinkTransportation(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, appointment.CommandUnlinkNEMT, func() (*appointment.CommandResult, error) {
		return h.Machine.UnlinkTransportation(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	})
}

// History returns the appointment's ledger, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Machine.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeCommandError(w, "history", err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTOs(entries))
}

// =============================================================================
// READ-MODEL HANDLERS
// =============================================================================

// CheckConflicts dry-runs the conflict detector for a proposed slot.
func (h *Handler) CheckConflicts(w http.ResponseWriter, r *http.Request) {
	var req CheckConflictsRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := engine.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	start, err := engine.ParseClock(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start time", err)
		return
	}

	conflicts, err := h.Conflicts.Check(r.Context(), schedule.CheckRequest{
		Date:            date,
		Start:           start,
		DurationMinutes: req.DurationMinutes,
		TeamID:          req.TeamID,
		ClientID:        req.ClientID,
		ExcludeID:       req.ExcludeAppointmentID,
	})
	if err != nil {
		h.writeCommandError(w, "check_conflicts", err)
		return
	}
	if conflicts == nil {
		conflicts = []schedule.Conflict{}
	}
	writeJSON(w, http.StatusOK, ConflictResultDTO{
		HasConflicts: len(conflicts) > 0,
		Conflicts:    conflicts,
	})
}

// UnitBalance projects the quota impact of a proposed booking.
func (h *Handler) UnitBalance(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")
	specialityID := r.URL.Query().Get("speciality_id")
	date, err := engine.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	duration, ok := positiveIntQuery(w, r, "duration_minutes")
	if !ok {
		return
	}

	proj, err := h.Quota.Project(r.Context(), clientID, specialityID, date, duration)
	if err != nil {
		h.writeCommandError(w, "unit_balance", err)
		return
	}
	writeJSON(w, http.StatusOK, UnitBalanceDTO{
		ClientID:     clientID,
		SpecialityID: specialityID,
		Month:        date.MonthKey(),
		Available:    proj.Available.String(),
		Required:     proj.Required,
		Projected:    proj.Projected.String(),
		Insufficient: proj.Insufficient,
	})
}

// TeamAvailability returns the bookable start slots for a team member.
func (h *Handler) TeamAvailability(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "id")
	date, err := engine.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	duration, ok := positiveIntQuery(w, r, "duration_minutes")
	if !ok {
		return
	}
	excludeID := r.URL.Query().Get("exclude_appointment_id")

	avail, err := h.Availability.Resolve(r.Context(), teamID, date, duration, excludeID)
	if err != nil {
		h.writeCommandError(w, "availability", err)
		return
	}

	slots := make([]string, len(avail.Slots))
	for i, s := range avail.Slots {
		slots[i] = s.String()
	}
	writeJSON(w, http.StatusOK, AvailabilityDTO{
		HasAvailability: avail.HasAvailability,
		Slots:           slots,
	})
}

// =============================================================================
// SHARED PLUMBING
// =============================================================================

func (h *Handler) runCommand(w http.ResponseWriter, cmd appointment.Command, fn func() (*appointment.CommandResult, error)) {
	res, err := fn()
	if err != nil {
		h.writeCommandError(w, cmd, err)
		return
	}
	commandsApplied.WithLabelValues(string(cmd)).Inc()
	writeJSON(w, http.StatusOK, toCommandResponse(res))
}

// locationCheck verifies a GPS capture against the appointment's geocoded
// address. An address without coordinates yields an unverified record; the
// capture is still logged on the ledger entry.
func (h *Handler) locationCheck(ctx context.Context, id string, req *LocationCheckRequest) *engine.LocationCheck {
	if req == nil {
		return nil
	}
	a, err := h.Machine.Store.Get(ctx, id)
	if err != nil || a.Address.Lat == nil || a.Address.Lon == nil {
		return &engine.LocationCheck{Verified: false}
	}
	check := engine.VerifyLocation(req.Lat, req.Lon, *a.Address.Lat, *a.Address.Lon, 0)
	return &check
}

// writeCommandError maps domain errors onto HTTP statuses.
func (h *Handler) writeCommandError(w http.ResponseWriter, cmd appointment.Command, err error) {
	var conflictErr *appointment.ConflictError
	var blockingErr *engine.BlockingValidationError

	switch {
	case errors.As(err, &conflictErr):
		conflictsDetected.Inc()
		writeJSONError(w, http.StatusConflict, ErrorResponse{
			Error:     "scheduling conflict",
			Detail:    err.Error(),
			Conflicts: conflictErr.Conflicts,
		})
	case errors.As(err, &blockingErr):
		writeJSONError(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  "validation blocked the command",
			Detail: err.Error(),
			Issues: blockingErr.Issues,
		})
	case errors.Is(err, engine.ErrStaleState):
		staleLosses.Inc()
		writeJSONError(w, http.StatusConflict, ErrorResponse{
			Error:     "appointment changed since read",
			Detail:    err.Error(),
			Retryable: true,
		})
	case errors.Is(err, engine.ErrGuardViolation):
		guardViolations.WithLabelValues(string(cmd)).Inc()
		writeJSONError(w, http.StatusConflict, ErrorResponse{
			Error:  "command not allowed",
			Detail: err.Error(),
		})
	case engine.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, ErrorResponse{
			Error:  "not found",
			Detail: err.Error(),
		})
	case errors.Is(err, engine.ErrValidationUnavailable):
		writeJSONError(w, http.StatusBadGateway, ErrorResponse{
			Error:  "dependent lookup unavailable",
			Detail: err.Error(),
		})
	default:
		h.Logger.Error().Err(err).Str("command", string(cmd)).Msg("command failed")
		writeJSONError(w, http.StatusInternalServerError, ErrorResponse{
			Error: "internal error",
		})
	}
}

func positiveIntQuery(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		writeError(w, http.StatusBadRequest, name+" must be a positive integer", err)
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, status int, body ErrorResponse) {
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := ErrorResponse{Error: message}
	if err != nil {
		body.Detail = err.Error()
	}
	writeJSON(w, status, body)
}
