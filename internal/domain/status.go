package domain

import "fmt"

// Role identifies the kind of actor acting on an application.
type Role string

const (
	RoleApplicant     Role = "OEM"
	RoleOfficer       Role = "OFFICER"
	RoleCommittee     Role = "COMMITTEE"
	RoleFieldVerifier Role = "FIELD_VERIFIER"
	RoleDealingHand   Role = "DEALING_HAND"
	RoleAdmin         Role = "ADMIN"
	RoleSuperAdmin    Role = "SUPER_ADMIN"
)

var allRoles = []Role{
	RoleApplicant,
	RoleOfficer,
	RoleCommittee,
	RoleFieldVerifier,
	RoleDealingHand,
	RoleAdmin,
	RoleSuperAdmin,
}

// Roles returns every role in declaration order.
func Roles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// Privileged reports whether the role bypasses ownership checks.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Staff reports whether the role is an internal reviewer bound by officer assignment.
func (r Role) Staff() bool {
	switch r {
	case RoleOfficer, RoleCommittee, RoleFieldVerifier, RoleDealingHand:
		return true
	}
	return false
}

func (r Role) Valid() bool {
	for _, known := range allRoles {
		if r == known {
			return true
		}
	}
	return false
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Status is the workflow position of an application.
type Status string

const (
	StatusDraft                 Status = "DRAFT"
	StatusSubmitted             Status = "SUBMITTED"
	StatusUnderReview           Status = "UNDER_REVIEW"
	StatusQueried               Status = "QUERIED"
	StatusResubmitted           Status = "RESUBMITTED"
	StatusCommitteeReview       Status = "COMMITTEE_REVIEW"
	StatusCommitteeQueried      Status = "COMMITTEE_QUERIED"
	StatusFieldVerification     Status = "FIELD_VERIFICATION"
	StatusLabTesting            Status = "LAB_TESTING"
	StatusFinalReview           Status = "FINAL_REVIEW"
	StatusApproved              Status = "APPROVED"
	StatusProvisionallyApproved Status = "PROVISIONALLY_APPROVED"
	StatusRejected              Status = "REJECTED"
	StatusWithdrawn             Status = "WITHDRAWN"
	StatusRenewalPending        Status = "RENEWAL_PENDING"
	StatusExpired               Status = "EXPIRED"
	StatusSuspended             Status = "SUSPENDED"
	StatusBlacklisted           Status = "BLACKLISTED"
)

// workflow order
var allStatuses = []Status{
	StatusDraft,
	StatusSubmitted,
	StatusUnderReview,
	StatusQueried,
	StatusResubmitted,
	StatusCommitteeReview,
	StatusCommitteeQueried,
	StatusFieldVerification,
	StatusLabTesting,
	StatusFinalReview,
	StatusApproved,
	StatusProvisionallyApproved,
	StatusRejected,
	StatusWithdrawn,
	StatusRenewalPending,
	StatusExpired,
	StatusSuspended,
	StatusBlacklisted,
}

// Statuses returns every status in workflow order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown application status %q", s)
	}
	return st, nil
}

// Action is the kind of operation an actor wants to perform.
type Action string

const (
	ActionView       Action = "VIEW"
	ActionEdit       Action = "EDIT"
	ActionTransition Action = "TRANSITION"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionView, ActionEdit, ActionTransition:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Actor is an authenticated identity.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}
