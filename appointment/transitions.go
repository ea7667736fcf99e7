/*
transitions.go - The central command/status transition table

PURPOSE:
  One table decides which command is legal from which status. Call sites
  never compare raw status strings; they ask the table. Adding a command
  or a status means editing this file and nothing else.

  Permission predicates (who may issue the command) live with the command
  implementations in machine.go - this table only answers the status
  half of each guard.
*/
package appointment

import "github.com/warp/visit-engine/engine"

// Command names every state-changing operation the machine supports.
type Command string

const (
	CommandBook          Command = "book"
	CommandStart         Command = "start"
	CommandComplete      Command = "complete"
	CommandCancel        Command = "cancel"
	CommandAssignSelf    Command = "assign_to_self"
	CommandDelete        Command = "delete"
	CommandOverrideTimes Command = "override_times"
	CommandReschedule    Command = "reschedule"
	CommandReassign      Command = "reassign"
	CommandLinkNEMT      Command = "link_transportation"
	CommandUnlinkNEMT    Command = "unlink_transportation"
)

// allowedFrom is the authoritative transition table. A command missing a
// status here is rejected with a guard violation, leaving state unchanged.
var allowedFrom = map[Command]map[Status]bool{
	CommandStart: {
		StatusScheduled: true,
	},
	CommandComplete: {
		StatusInProgress: true,
	},
	CommandCancel: {
		StatusScheduled:  true,
		StatusUnassigned: true,
	},
	CommandAssignSelf: {
		StatusUnassigned: true,
	},
	// delete: any status except completed, in_progress, cancelled,
	// rejected, no_show, deleted. Listed positively so a new status must
	// be deliberately added here before it becomes deletable.
	CommandDelete: {
		StatusUnassigned:         true,
		StatusScheduled:          true,
		StatusConfirmed:          true,
		StatusPending:            true,
		StatusLate:               true,
		StatusTerminatedByClient: true,
		StatusTerminatedByStaff:  true,
	},
	CommandOverrideTimes: {
		StatusInProgress:         true,
		StatusCompleted:          true,
		StatusTerminatedByClient: true,
		StatusTerminatedByStaff:  true,
	},
	// reschedule moves the slot of a not-yet-active appointment.
	CommandReschedule: {
		StatusUnassigned: true,
		StatusScheduled:  true,
		StatusConfirmed:  true,
		StatusPending:    true,
	},
	CommandReassign: {
		StatusScheduled: true,
		StatusConfirmed: true,
		StatusPending:   true,
	},
	// link: any non-terminal status.
	CommandLinkNEMT: {
		StatusUnassigned: true,
		StatusScheduled:  true,
		StatusConfirmed:  true,
		StatusPending:    true,
		StatusInProgress: true,
		StatusLate:       true,
	},
	// unlink: any status.
	CommandUnlinkNEMT: allStatusSet(),
}

func allStatusSet() map[Status]bool {
	set := make(map[Status]bool, len(AllStatuses))
	for _, s := range AllStatuses {
		set[s] = true
	}
	return set
}

// Allowed reports whether the command may be applied from the status.
func Allowed(cmd Command, from Status) bool {
	return allowedFrom[cmd][from]
}

// guardStatus returns a GuardViolationError when the command is not legal
// from the current status.
func guardStatus(cmd Command, a *Appointment) error {
	if !Allowed(cmd, a.Status) {
		return &engine.GuardViolationError{
			Command: string(cmd),
			Status:  string(a.Status),
			Reason:  "status does not permit this command",
		}
	}
	return nil
}
