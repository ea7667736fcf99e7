/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

CONVENTIONS:
  Dates are "YYYY-MM-DD", clock times are "HH:MM" (24-hour), timestamps
  are RFC3339. Validator tags on request types are enforced in the
  handlers before any domain call.

WARNINGS:
  Every 2xx command response carries a "warnings" array of issues with
  explicit severity, so a client can render advisory and strong warnings
  without a second round trip.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/issue.go: The Issue/severity model warnings serialize from
*/
package api

import (
	"time"

	"github.com/warp/visit-engine/appointment"
	"github.com/warp/visit-engine/engine"
	"github.com/warp/visit-engine/schedule"
)

// =============================================================================
// APPOINTMENT
// =============================================================================

// AddressDTO mirrors the snapshotted visit address.
type AddressDTO struct {
	Street string   `json:"street,omitempty"`
	City   string   `json:"city,omitempty"`
	State  string   `json:"state,omitempty"`
	Zip    string   `json:"zip,omitempty"`
	Lat    *float64 `json:"lat,omitempty"`
	Lon    *float64 `json:"lon,omitempty"`
}

// AppointmentDTO represents an appointment in API responses.
type AppointmentDTO struct {
	ID                 string     `json:"id"`
	ClientID           string     `json:"client_id"`
	TeamID             string     `json:"team_id,omitempty"`
	SpecialityID       string     `json:"speciality_id,omitempty"`
	Date               string     `json:"date"`
	ScheduledStart     string     `json:"scheduled_start"`
	ScheduledEnd       string     `json:"scheduled_end"`
	DurationMinutes    int        `json:"duration_minutes"`
	UnitsRequired      int        `json:"units_required"`
	LocationType       string     `json:"location_type,omitempty"`
	Address            AddressDTO `json:"address"`
	Notes              string     `json:"notes,omitempty"`
	CompletionNotes    string     `json:"completion_notes,omitempty"`
	StartedAt          *string    `json:"started_at,omitempty"`
	CompletedAt        *string    `json:"completed_at,omitempty"`
	CancelledAt        *string    `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	NEMTOccurrenceID   string     `json:"nemt_occurrence_id,omitempty"`
	Status             string     `json:"status"`
	Version            int64      `json:"version"`
	CreatedAt          string     `json:"created_at"`
	UpdatedAt          string     `json:"updated_at"`
}

// CommandResponse wraps the post-command appointment plus warnings.
type CommandResponse struct {
	Appointment AppointmentDTO `json:"appointment"`
	Warnings    []engine.Issue `json:"warnings"`
}

// =============================================================================
// COMMAND REQUESTS
// =============================================================================

// BookRequest is the request to create an appointment.
type BookRequest struct {
	ClientID        string     `json:"client_id" validate:"required"`
	TeamID          string     `json:"team_id"`
	SpecialityID    string     `json:"speciality_id"`
	Date            string     `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime       string     `json:"start_time" validate:"required"`
	DurationMinutes int        `json:"duration_minutes" validate:"required,gt=0"`
	LocationType    string     `json:"location_type" validate:"omitempty,oneof=home community facility"`
	Address         AddressDTO `json:"address"`
	Notes           string     `json:"notes"`
	Force           bool       `json:"force"`
}

// LocationCheckRequest is a GPS capture attached to start/complete.
type LocationCheckRequest struct {
	Lat float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"required,gte=-180,lte=180"`
}

// StartRequest carries the optional EVV capture.
type StartRequest struct {
	Location *LocationCheckRequest `json:"location,omitempty"`
}

// CompleteRequest carries completion notes and the optional EVV capture.
type CompleteRequest struct {
	Notes    string                `json:"notes"`
	Location *LocationCheckRequest `json:"location,omitempty"`
}

// CancelRequest requires an explicit reason.
type CancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// RescheduleRequest moves an appointment's slot.
type RescheduleRequest struct {
	Date            string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime       string `json:"start_time" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,gt=0"`
	Force           bool   `json:"force"`
}

// ReassignRequest switches the assigned team member.
type ReassignRequest struct {
	TeamID string `json:"team_id" validate:"required"`
}

// OverrideTimesRequest corrects the actual start/end clock times.
type OverrideTimesRequest struct {
	StartedAt   string `json:"started_at" validate:"required"`
	CompletedAt string `json:"completed_at"`
	Reason      string `json:"reason" validate:"required"`
}

// LinkTransportationRequest attaches a NEMT occurrence.
type LinkTransportationRequest struct {
	OccurrenceID string `json:"occurrence_id" validate:"required"`
}

// =============================================================================
// READ MODELS
// =============================================================================

// CheckConflictsRequest is a proposed slot to test without booking.
type CheckConflictsRequest struct {
	Date                 string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime            string `json:"start_time" validate:"required"`
	DurationMinutes      int    `json:"duration_minutes" validate:"required,gt=0"`
	TeamID               string `json:"team_id"`
	ClientID             string `json:"client_id"`
	ExcludeAppointmentID string `json:"exclude_appointment_id"`
}

// ConflictResultDTO reports every overlap found for a proposed slot.
type ConflictResultDTO struct {
	HasConflicts bool                `json:"has_conflicts"`
	Conflicts    []schedule.Conflict `json:"conflicts"`
}

// UnitBalanceDTO is the quota projection for a proposed booking.
type UnitBalanceDTO struct {
	ClientID     string `json:"client_id"`
	SpecialityID string `json:"speciality_id"`
	Month        string `json:"month"`
	Available    string `json:"available"`
	Required     int    `json:"required"`
	Projected    string `json:"projected"`
	Insufficient bool   `json:"insufficient"`
}

// AvailabilityDTO is the slot set for one (team, date, duration) query.
type AvailabilityDTO struct {
	HasAvailability bool     `json:"has_availability"`
	Slots           []string `json:"slots"`
}

// HistoryEntryDTO is one assignment-history ledger record.
type HistoryEntryDTO struct {
	ID            string                  `json:"id"`
	AppointmentID string                  `json:"appointment_id"`
	Timestamp     string                  `json:"timestamp"`
	ActorID       string                  `json:"actor_id"`
	ActorType     string                  `json:"actor_type"`
	Action        string                  `json:"action"`
	Reason        string                  `json:"reason,omitempty"`
	Diff          []appointment.FieldDiff `json:"diff,omitempty"`
	Location      *engine.LocationCheck   `json:"location,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error     string         `json:"error"`
	Detail    string         `json:"detail,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
	Issues    []engine.Issue `json:"issues,omitempty"`
	// Conflicts is present on 409 conflict rejections so the client can
	// render what the slot collided with.
	Conflicts []schedule.Conflict `json:"conflicts,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toAppointmentDTO(a *appointment.Appointment) AppointmentDTO {
	return AppointmentDTO{
		ID:              a.ID,
		ClientID:        a.ClientID,
		TeamID:          a.TeamID,
		SpecialityID:    a.SpecialityID,
		Date:            a.Date.String(),
		ScheduledStart:  a.ScheduledStart.String(),
		ScheduledEnd:    a.ScheduledEnd().String(),
		DurationMinutes: a.DurationMinutes,
		UnitsRequired:   a.UnitsRequired(),
		LocationType:    string(a.LocationType),
		Address: AddressDTO{
			Street: a.Address.Street,
			City:   a.Address.City,
			State:  a.Address.State,
			Zip:    a.Address.Zip,
			Lat:    a.Address.Lat,
			Lon:    a.Address.Lon,
		},
		Notes:              a.Notes,
		CompletionNotes:    a.CompletionNotes,
		StartedAt:          formatTimePtr(a.StartedAt),
		CompletedAt:        formatTimePtr(a.CompletedAt),
		CancelledAt:        formatTimePtr(a.CancelledAt),
		CancellationReason: a.CancellationReason,
		NEMTOccurrenceID:   a.NEMTOccurrenceID,
		Status:             string(a.Status),
		Version:            a.Version,
		CreatedAt:          a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          a.UpdatedAt.Format(time.RFC3339),
	}
}

func toCommandResponse(res *appointment.CommandResult) CommandResponse {
	warnings := []engine.Issue(res.Warnings)
	if warnings == nil {
		warnings = []engine.Issue{}
	}
	return CommandResponse{
		Appointment: toAppointmentDTO(res.Appointment),
		Warnings:    warnings,
	}
}

func toHistoryDTOs(entries []appointment.HistoryEntry) []HistoryEntryDTO {
	dtos := make([]HistoryEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = HistoryEntryDTO{
			ID:            e.ID,
			AppointmentID: e.AppointmentID,
			Timestamp:     e.Timestamp.Format(time.RFC3339),
			ActorID:       e.ActorID,
			ActorType:     string(e.ActorType),
			Action:        string(e.Action),
			Reason:        e.Reason,
			Diff:          e.Diff,
			Location:      e.Location,
		}
	}
	return dtos
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
