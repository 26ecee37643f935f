// Package lifecycle validates status changes and turns them into
// transitions ready to be committed. Nothing here performs I/O.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"permitline/internal/domain"
	"permitline/internal/engine/auth"
)

// InvalidTransitionError reports a structurally illegal status change.
type InvalidTransitionError struct {
	From    domain.Status
	To      domain.Status
	Message string
}

func (e *InvalidTransitionError) Error() string { return e.Message }

// IncompleteApplicationError carries every completeness violation.
type IncompleteApplicationError struct {
	Violations []string
}

func (e *IncompleteApplicationError) Error() string {
	return fmt.Sprintf("application is incomplete: %s", strings.Join(e.Violations, "; "))
}

// Validator is the completeness check consulted on submission.
type Validator interface {
	Validate(app domain.Application) []string
}

type Lifecycle struct {
	Validator Validator
	Now       func() time.Time
	NewID     func() string
	// RevalidateOnResubmit runs the completeness rules again when an
	// applicant answers a query.
	RevalidateOnResubmit bool
}

func New(v Validator) Lifecycle {
	return Lifecycle{
		Validator:            v,
		Now:                  time.Now,
		NewID:                func() string { return uuid.NewString() },
		RevalidateOnResubmit: true,
	}
}

func (l Lifecycle) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l Lifecycle) newID() string {
	if l.NewID != nil {
		return l.NewID()
	}
	return uuid.NewString()
}

// Submit moves a complete DRAFT application to SUBMITTED.
func (l Lifecycle) Submit(app domain.Application, actor domain.Actor) (domain.Transition, error) {
	if app.Status != domain.StatusDraft {
		return domain.Transition{}, invalid(app.Status, domain.StatusSubmitted, "only draft applications can be submitted")
	}
	if actor.ID == "" || actor.ID != app.ApplicantID {
		return domain.Transition{}, auth.DeniedError{
			Reason:  auth.ReasonOwnershipViolation,
			Message: "only the applicant can submit this application",
		}
	}
	if err := l.checkComplete(app); err != nil {
		return domain.Transition{}, err
	}
	return l.transition(app, domain.StatusSubmitted, actor, ""), nil
}

// Resubmit answers an officer query.
func (l Lifecycle) Resubmit(app domain.Application, actor domain.Actor) (domain.Transition, error) {
	if err := requireOwnership(actor, app); err != nil {
		return domain.Transition{}, err
	}
	if app.Status != domain.StatusQueried {
		return domain.Transition{}, invalid(app.Status, domain.StatusResubmitted, "only queried applications can be resubmitted")
	}
	if l.RevalidateOnResubmit {
		if err := l.checkComplete(app); err != nil {
			return domain.Transition{}, err
		}
	}
	return l.transition(app, domain.StatusResubmitted, actor, ""), nil
}

// Withdraw abandons a DRAFT or QUERIED application.
func (l Lifecycle) Withdraw(app domain.Application, actor domain.Actor, reason string) (domain.Transition, error) {
	if err := requireOwnership(actor, app); err != nil {
		return domain.Transition{}, err
	}
	if app.Status != domain.StatusDraft && app.Status != domain.StatusQueried {
		return domain.Transition{}, invalid(app.Status, domain.StatusWithdrawn,
			"applications can only be withdrawn from DRAFT or QUERIED status")
	}
	return l.transition(app, domain.StatusWithdrawn, actor, reason), nil
}

// ChangeStatus is the officer/admin path. Which (role, from, to) triples are
// legal is decided by the authorizer, not here.
func (l Lifecycle) ChangeStatus(app domain.Application, to domain.Status, actor domain.Actor, remarks string) (domain.Transition, error) {
	if !to.Valid() {
		return domain.Transition{}, invalid(app.Status, to, fmt.Sprintf("unknown application status %q", to))
	}
	if to == app.Status {
		return domain.Transition{}, invalid(app.Status, to, "status already set to this value")
	}
	return l.transition(app, to, actor, remarks), nil
}

func (l Lifecycle) checkComplete(app domain.Application) error {
	if l.Validator == nil {
		return nil
	}
	if violations := l.Validator.Validate(app); len(violations) > 0 {
		return &IncompleteApplicationError{Violations: violations}
	}
	return nil
}

// transition is the only place a Transition is built.
func (l Lifecycle) transition(app domain.Application, to domain.Status, actor domain.Actor, remarks string) domain.Transition {
	at := l.now()
	remarks = strings.TrimSpace(remarks)
	tr := domain.Transition{
		ApplicationID: app.ID,
		From:          app.Status,
		To:            to,
		At:            at,
		History: domain.StatusHistory{
			ID:            l.newID(),
			ApplicationID: app.ID,
			FromStatus:    app.Status,
			ToStatus:      to,
			ActorID:       actor.ID,
			ActorRole:     actor.Role,
			Remarks:       remarks,
			CreatedAt:     at,
		},
	}
	switch to {
	case domain.StatusSubmitted:
		tr.Stamps.SubmittedAt = &at
	case domain.StatusApproved:
		tr.Stamps.ApprovedAt = &at
	case domain.StatusRejected:
		tr.Stamps.RejectedAt = &at
		tr.Stamps.RejectionReason = &remarks
	case domain.StatusQueried:
		tr.Stamps.LastQueriedAt = &at
	}
	return tr
}

func requireOwnership(actor domain.Actor, app domain.Application) error {
	if auth.OwnsOrIsPrivileged(actor, app) {
		return nil
	}
	return auth.DeniedError{
		Reason:  auth.ReasonOwnershipViolation,
		Message: fmt.Sprintf("Role %s does not own application %s", actor.Role, app.ID),
	}
}

func invalid(from, to domain.Status, msg string) *InvalidTransitionError {
	return &InvalidTransitionError{From: from, To: to, Message: msg}
}
