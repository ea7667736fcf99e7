/*
ledger.go - Append-only assignment history

PURPOSE:
  Every lifecycle event on an appointment lands here: who did what, when,
  with what reason, and - for corrections - the exact before/after field
  diff. The ledger is the audit trail the rest of the dashboard renders.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: no update, no delete. Ever.
  2. Corrections are represented as NEW time_override entries carrying
     the diff, never as edits to existing entries.
  3. The ledger for an appointment is the concatenation of entries in
     arrival order; List returns them timestamp-descending for display,
     but storage order is arrival order.
*/
package appointment

import (
	"context"
	"time"

	"github.com/warp/visit-engine/engine"
)

// =============================================================================
// HISTORY ENTRY
// =============================================================================

// HistoryAction is the closed set of ledger event kinds.
type HistoryAction string

const (
	ActionAssigned     HistoryAction = "assigned"
	ActionStarted      HistoryAction = "started"
	ActionCompleted    HistoryAction = "completed"
	ActionCancelled    HistoryAction = "cancelled"
	ActionTimeOverride HistoryAction = "time_override"
	ActionTeamSwitch   HistoryAction = "team_switch"
)

// ActorType records what kind of principal produced the entry.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorTeam   ActorType = "team"
	ActorSystem ActorType = "system"
)

// FieldDiff is one before/after pair on a time_override or team_switch entry.
type FieldDiff struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// HistoryEntry is one immutable ledger record.
type HistoryEntry struct {
	ID            string
	AppointmentID string
	Timestamp     time.Time
	ActorID       string
	ActorType     ActorType
	Action        HistoryAction
	Reason        string
	Diff          []FieldDiff
	Location      *engine.LocationCheck
}

// =============================================================================
// LEDGER - Append and list; nothing else exists
// =============================================================================

// Ledger is the append-only history sink. There is deliberately no update
// or delete operation in this interface.
type Ledger interface {
	// Append persists one entry. The entry's arrival position is final.
	Append(ctx context.Context, e *HistoryEntry) error

	// List returns the appointment's entries ordered by timestamp descending.
	List(ctx context.Context, appointmentID string) ([]HistoryEntry, error)
}
