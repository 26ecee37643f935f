package auth

import "permitline/internal/domain"

// TransitionRule lists the statuses a role may move an application to.
type TransitionRule struct {
	Role    domain.Role
	Targets []domain.Status
}

// PermissionEntry is the access matrix for one status.
type PermissionEntry struct {
	View        []domain.Role
	Edit        []domain.Role
	Transitions []TransitionRule
}

func (p PermissionEntry) CanView(role domain.Role) bool {
	return containsRole(p.View, role)
}

func (p PermissionEntry) CanEdit(role domain.Role) bool {
	return containsRole(p.Edit, role)
}

// TargetsFor returns the union of targets over every rule for role, and
// whether any rule for role exists at all.
func (p PermissionEntry) TargetsFor(role domain.Role) ([]domain.Status, bool) {
	var (
		targets []domain.Status
		found   bool
	)
	seen := map[domain.Status]bool{}
	for _, rule := range p.Transitions {
		if rule.Role != role {
			continue
		}
		found = true
		for _, t := range rule.Targets {
			if !seen[t] {
				seen[t] = true
				targets = append(targets, t)
			}
		}
	}
	return targets, found
}

func (p PermissionEntry) clone() PermissionEntry {
	out := PermissionEntry{
		View: append([]domain.Role(nil), p.View...),
		Edit: append([]domain.Role(nil), p.Edit...),
	}
	for _, rule := range p.Transitions {
		out.Transitions = append(out.Transitions, TransitionRule{
			Role:    rule.Role,
			Targets: append([]domain.Status(nil), rule.Targets...),
		})
	}
	return out
}

// Table maps statuses to permission entries. It is never mutated after
// construction and may be shared across goroutines.
type Table struct {
	entries map[domain.Status]PermissionEntry
}

// NewTable copies entries into a new immutable table.
func NewTable(entries map[domain.Status]PermissionEntry) Table {
	t := Table{entries: make(map[domain.Status]PermissionEntry, len(entries))}
	for status, entry := range entries {
		t.entries[status] = entry.clone()
	}
	return t
}

// Lookup returns the entry for status, or the restrictive default when the
// status is not mapped.
func (t Table) Lookup(status domain.Status) PermissionEntry {
	if entry, ok := t.entries[status]; ok {
		return entry.clone()
	}
	return DefaultEntry()
}

// Has reports whether status is explicitly mapped.
func (t Table) Has(status domain.Status) bool {
	_, ok := t.entries[status]
	return ok
}

// DefaultEntry is used for statuses absent from the table.
func DefaultEntry() PermissionEntry {
	return PermissionEntry{
		View: []domain.Role{domain.RoleAdmin, domain.RoleSuperAdmin},
	}
}

func containsRole(roles []domain.Role, role domain.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func roles(rs ...domain.Role) []domain.Role { return rs }

func to(role domain.Role, targets ...domain.Status) TransitionRule {
	return TransitionRule{Role: role, Targets: targets}
}

// DefaultTable returns the permit workflow matrix.
func DefaultTable() Table {
	const (
		oem   = domain.RoleApplicant
		off   = domain.RoleOfficer
		com   = domain.RoleCommittee
		fv    = domain.RoleFieldVerifier
		dh    = domain.RoleDealingHand
		admin = domain.RoleAdmin
		super = domain.RoleSuperAdmin
	)
	return NewTable(map[domain.Status]PermissionEntry{
		domain.StatusDraft: {
			View: roles(oem, admin, super),
			Edit: roles(oem),
			Transitions: []TransitionRule{
				to(oem, domain.StatusSubmitted, domain.StatusWithdrawn),
			},
		},
		domain.StatusSubmitted: {
			View: roles(oem, off, dh, admin, super),
			Transitions: []TransitionRule{
				to(off, domain.StatusUnderReview, domain.StatusQueried),
				to(dh, domain.StatusUnderReview),
				to(admin, domain.StatusUnderReview, domain.StatusQueried, domain.StatusRejected),
				to(super, domain.StatusUnderReview, domain.StatusQueried, domain.StatusRejected),
			},
		},
		domain.StatusUnderReview: {
			View: roles(oem, off, dh, com, admin, super),
			Edit: roles(off, admin, super),
			Transitions: []TransitionRule{
				to(off, domain.StatusQueried, domain.StatusCommitteeReview, domain.StatusRejected),
				to(admin, domain.StatusQueried, domain.StatusCommitteeReview, domain.StatusRejected),
				to(super, domain.StatusQueried, domain.StatusCommitteeReview, domain.StatusRejected),
			},
		},
		domain.StatusQueried: {
			View: roles(oem, off, dh, admin, super),
			Edit: roles(oem),
			Transitions: []TransitionRule{
				to(oem, domain.StatusResubmitted, domain.StatusWithdrawn),
				to(admin, domain.StatusRejected),
				to(super, domain.StatusRejected),
			},
		},
		domain.StatusResubmitted: {
			View: roles(oem, off, dh, admin, super),
			Transitions: []TransitionRule{
				to(off, domain.StatusUnderReview, domain.StatusQueried, domain.StatusCommitteeReview),
				to(dh, domain.StatusUnderReview),
				to(admin, domain.StatusUnderReview, domain.StatusQueried, domain.StatusCommitteeReview, domain.StatusRejected),
				to(super, domain.StatusUnderReview, domain.StatusQueried, domain.StatusCommitteeReview, domain.StatusRejected),
			},
		},
		domain.StatusCommitteeReview: {
			View: roles(oem, off, com, admin, super),
			Edit: roles(com),
			Transitions: []TransitionRule{
				to(com, domain.StatusCommitteeQueried, domain.StatusFieldVerification, domain.StatusRejected),
				to(admin, domain.StatusCommitteeQueried, domain.StatusFieldVerification, domain.StatusRejected),
				to(super, domain.StatusCommitteeQueried, domain.StatusFieldVerification, domain.StatusRejected),
			},
		},
		domain.StatusCommitteeQueried: {
			View: roles(oem, off, com, admin, super),
			Edit: roles(oem),
			Transitions: []TransitionRule{
				to(oem, domain.StatusCommitteeReview),
				to(com, domain.StatusCommitteeReview),
				to(admin, domain.StatusCommitteeReview, domain.StatusRejected),
				to(super, domain.StatusCommitteeReview, domain.StatusRejected),
			},
		},
		domain.StatusFieldVerification: {
			View: roles(oem, off, com, fv, admin, super),
			Edit: roles(fv),
			Transitions: []TransitionRule{
				to(fv, domain.StatusLabTesting, domain.StatusFinalReview),
				to(admin, domain.StatusLabTesting, domain.StatusFinalReview, domain.StatusRejected),
				to(super, domain.StatusLabTesting, domain.StatusFinalReview, domain.StatusRejected),
			},
		},
		domain.StatusLabTesting: {
			View: roles(oem, off, fv, admin, super),
			Edit: roles(off),
			Transitions: []TransitionRule{
				to(off, domain.StatusFinalReview),
				to(admin, domain.StatusFinalReview, domain.StatusRejected),
				to(super, domain.StatusFinalReview, domain.StatusRejected),
			},
		},
		domain.StatusFinalReview: {
			View: roles(oem, off, com, admin, super),
			Edit: roles(off),
			Transitions: []TransitionRule{
				to(off, domain.StatusQueried),
				to(admin, domain.StatusApproved, domain.StatusProvisionallyApproved, domain.StatusRejected, domain.StatusQueried),
				to(super, domain.StatusApproved, domain.StatusProvisionallyApproved, domain.StatusRejected, domain.StatusQueried),
			},
		},
		domain.StatusApproved: {
			View: roles(oem, off, com, fv, dh, admin, super),
			Transitions: []TransitionRule{
				to(admin, domain.StatusSuspended, domain.StatusRenewalPending, domain.StatusExpired),
				to(super, domain.StatusSuspended, domain.StatusRenewalPending, domain.StatusExpired, domain.StatusBlacklisted),
			},
		},
		domain.StatusProvisionallyApproved: {
			View: roles(oem, off, com, admin, super),
			Transitions: []TransitionRule{
				to(admin, domain.StatusApproved, domain.StatusSuspended, domain.StatusExpired),
				to(super, domain.StatusApproved, domain.StatusSuspended, domain.StatusExpired, domain.StatusBlacklisted),
			},
		},
		domain.StatusRejected: {
			View: roles(oem, off, admin, super),
		},
		domain.StatusWithdrawn: {
			View: roles(oem, admin, super),
		},
		domain.StatusRenewalPending: {
			View: roles(oem, off, admin, super),
			Edit: roles(oem),
			Transitions: []TransitionRule{
				to(off, domain.StatusUnderReview),
				to(admin, domain.StatusApproved, domain.StatusExpired),
				to(super, domain.StatusApproved, domain.StatusExpired),
			},
		},
		domain.StatusExpired: {
			View: roles(oem, off, admin, super),
			Transitions: []TransitionRule{
				to(oem, domain.StatusRenewalPending),
				to(admin, domain.StatusRenewalPending),
				to(super, domain.StatusRenewalPending),
			},
		},
		domain.StatusSuspended: {
			View: roles(oem, off, admin, super),
			Transitions: []TransitionRule{
				to(admin, domain.StatusApproved),
				to(super, domain.StatusApproved, domain.StatusBlacklisted),
			},
		},
		domain.StatusBlacklisted: {
			View: roles(off, admin, super),
		},
	})
}
