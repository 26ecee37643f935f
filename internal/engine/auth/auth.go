package auth

import (
	"fmt"
	"strings"

	"permitline/internal/domain"
)

// Reason is a machine-readable decision code.
type Reason string

const (
	ReasonAllowed                Reason = "ALLOWED"
	ReasonAuthenticationRequired Reason = "AUTHENTICATION_REQUIRED"
	ReasonOwnershipViolation     Reason = "OWNERSHIP_VIOLATION"
	ReasonRoleNotPermitted       Reason = "ROLE_NOT_PERMITTED"
	ReasonIllegalTransition      Reason = "ILLEGAL_TRANSITION"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  Reason
	Message string
}

func allow() Decision {
	return Decision{Allowed: true, Reason: ReasonAllowed}
}

func deny(reason Reason, format string, args ...any) Decision {
	return Decision{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Err converts a denial into a DeniedError; it returns nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return DeniedError{Reason: d.Reason, Message: d.Message}
}

// DeniedError carries a denied decision through error returns.
type DeniedError struct {
	Reason  Reason
	Message string
}

func (e DeniedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return strings.ToLower(strings.ReplaceAll(string(e.Reason), "_", " "))
}

// Authorizer composes the ownership policy with a permission table.
type Authorizer struct {
	Table Table
}

func NewAuthorizer(table Table) Authorizer {
	return Authorizer{Table: table}
}

// Authorize decides whether actor may perform action on app. target is only
// consulted for TRANSITION; when nil the check is capability-level.
func (a Authorizer) Authorize(actor *domain.Actor, action domain.Action, app domain.Application, target *domain.Status) Decision {
	if actor == nil || strings.TrimSpace(actor.ID) == "" {
		return deny(ReasonAuthenticationRequired, "authentication required")
	}
	if d := CheckOwnership(*actor, app); !d.Allowed {
		return d
	}
	entry := a.Table.Lookup(app.Status)
	switch action {
	case domain.ActionView:
		if actor.Role.Privileged() || entry.CanView(actor.Role) {
			return allow()
		}
		return deny(ReasonRoleNotPermitted, "Role %s cannot view applications in %s status", actor.Role, app.Status)
	case domain.ActionEdit:
		if entry.CanEdit(actor.Role) {
			return allow()
		}
		return deny(ReasonRoleNotPermitted, "Role %s cannot edit applications in %s status", actor.Role, app.Status)
	case domain.ActionTransition:
		targets, ok := entry.TargetsFor(actor.Role)
		if !ok {
			return deny(ReasonRoleNotPermitted, "Role %s cannot transition applications from %s status", actor.Role, app.Status)
		}
		if target == nil {
			return allow()
		}
		for _, t := range targets {
			if t == *target {
				return allow()
			}
		}
		return deny(ReasonIllegalTransition, "Role %s cannot transition applications from %s to %s", actor.Role, app.Status, *target)
	default:
		return deny(ReasonRoleNotPermitted, "Role %s cannot perform %s", actor.Role, action)
	}
}

// Targets lists the statuses actor may move app to, or nil when none.
func (a Authorizer) Targets(actor domain.Actor, app domain.Application) []domain.Status {
	if !OwnsOrIsPrivileged(actor, app) {
		return nil
	}
	targets, _ := a.Table.Lookup(app.Status).TargetsFor(actor.Role)
	return targets
}
