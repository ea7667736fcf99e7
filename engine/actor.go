/*
actor.go - Explicit actor identity for permission guards

PURPOSE:
  Every state machine command receives the acting user as an explicit
  ActorContext value. There is no ambient "current user" global - the
  caller (HTTP layer, job, test) constructs the context and passes it in.

ROLES:
  staff:      Field team member. May start/complete own visits and
              self-assign open shifts.
  admin:      Office administrator. May cancel, delete, reassign and
              correct times.
  superadmin: Tenant owner. Superset of admin.

  Token issuance and verification are the upstream proxy's concern; this
  package only models the already-authenticated identity.
*/
package engine

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleStaff      Role = "staff"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// =============================================================================
// ACTOR CONTEXT
// =============================================================================

// ActorContext identifies who is performing a command.
type ActorContext struct {
	UserID string
	TeamID string // team-member ID when the actor is field staff; empty otherwise
	Roles  []Role
}

func (a ActorContext) HasRole(r Role) bool {
	for _, have := range a.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// IsManager reports whether the actor holds admin or superadmin.
// Guards in the transition table that say "admin/superadmin" check this.
func (a ActorContext) IsManager() bool {
	return a.HasRole(RoleAdmin) || a.HasRole(RoleSuperadmin)
}

func (a ActorContext) IsStaff() bool { return a.HasRole(RoleStaff) }

// IsAssignedTo reports whether the actor is the assigned team member.
func (a ActorContext) IsAssignedTo(teamID string) bool {
	return a.TeamID != "" && a.TeamID == teamID
}

// SystemActor is used for engine-internal ledger entries (e.g. seed data).
func SystemActor() ActorContext {
	return ActorContext{UserID: "system", Roles: []Role{RoleSuperadmin}}
}
