package auth

import (
	"fmt"

	"permitline/internal/domain"
)

// OwnsOrIsPrivileged reports whether actor may touch this particular
// application, ignoring its status.
func OwnsOrIsPrivileged(actor domain.Actor, app domain.Application) bool {
	switch {
	case actor.Role.Privileged():
		return true
	case actor.Role == domain.RoleApplicant:
		return app.ApplicantID != "" && app.ApplicantID == actor.ID
	case actor.Role.Staff():
		return app.AssignedOfficerID == nil || *app.AssignedOfficerID == "" || *app.AssignedOfficerID == actor.ID
	default:
		return false
	}
}

// CheckOwnership is the ownership step of Authorize on its own.
func CheckOwnership(actor domain.Actor, app domain.Application) Decision {
	if OwnsOrIsPrivileged(actor, app) {
		return allow()
	}
	return deny(ReasonOwnershipViolation, "%s", ownershipMessage(actor.Role))
}

func ownershipMessage(role domain.Role) string {
	switch {
	case role == domain.RoleApplicant:
		return fmt.Sprintf("Role %s can only access their own applications", role)
	case role.Staff():
		return fmt.Sprintf("Role %s can only access applications assigned to them", role)
	default:
		return fmt.Sprintf("Role %s cannot access applications", role)
	}
}
