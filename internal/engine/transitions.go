package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"permitline/internal/domain"
	"permitline/internal/engine/auth"
	"permitline/internal/engine/lifecycle"
	"permitline/internal/events"
	"permitline/internal/repo"
)

// Submit moves the actor's DRAFT application to SUBMITTED once it passes
// every completeness rule.
func (e Engine) Submit(ctx context.Context, actor *domain.Actor, id string) (domain.Application, error) {
	return e.applicantTransition(ctx, actor, id, func(lc lifecycle.Lifecycle, app domain.Application, a domain.Actor) (domain.Transition, error) {
		return lc.Submit(app, a)
	})
}

// Resubmit answers an officer query.
func (e Engine) Resubmit(ctx context.Context, actor *domain.Actor, id string) (domain.Application, error) {
	return e.applicantTransition(ctx, actor, id, func(lc lifecycle.Lifecycle, app domain.Application, a domain.Actor) (domain.Transition, error) {
		return lc.Resubmit(app, a)
	})
}

// Withdraw abandons a DRAFT or QUERIED application.
func (e Engine) Withdraw(ctx context.Context, actor *domain.Actor, id, reason string) (domain.Application, error) {
	return e.applicantTransition(ctx, actor, id, func(lc lifecycle.Lifecycle, app domain.Application, a domain.Actor) (domain.Transition, error) {
		return lc.Withdraw(app, a, reason)
	})
}

type transitionFunc func(lifecycle.Lifecycle, domain.Application, domain.Actor) (domain.Transition, error)

// applicantTransition checks ownership, lets the lifecycle judge the status,
// then asks the permission table about the resulting edge.
func (e Engine) applicantTransition(ctx context.Context, actor *domain.Actor, id string, fn transitionFunc) (domain.Application, error) {
	a, err := requireActor(actor)
	if err != nil {
		return domain.Application{}, err
	}
	app, err := e.Repo.LoadForCompleteness(ctx, id)
	if err != nil {
		return domain.Application{}, err
	}
	if d := auth.CheckOwnership(a, app); !d.Allowed {
		e.Metrics.RecordDecision(string(domain.ActionTransition), string(d.Reason))
		return domain.Application{}, d.Err()
	}
	tr, err := fn(e.lc(), app, a)
	if err != nil {
		var incomplete *lifecycle.IncompleteApplicationError
		if errors.As(err, &incomplete) {
			e.Metrics.RecordIncomplete()
			e.logger().WithFields(logrus.Fields{
				"application_id": app.ID,
				"violations":     len(incomplete.Violations),
			}).Info("submission refused: application incomplete")
		}
		return domain.Application{}, err
	}
	if err := e.decide(&a, domain.ActionTransition, app, &tr.To).Err(); err != nil {
		return domain.Application{}, err
	}
	return e.commit(ctx, a, app, tr)
}

// ChangeStatus is the reviewer path. Edges that belong to the applicant
// operations are routed through them so completeness is never skipped.
func (e Engine) ChangeStatus(ctx context.Context, actor *domain.Actor, id string, to domain.Status, remarks string) (domain.Application, error) {
	a, err := requireActor(actor)
	if err != nil {
		return domain.Application{}, err
	}
	app, err := e.Repo.LoadForCompleteness(ctx, id)
	if err != nil {
		return domain.Application{}, err
	}
	if !to.Valid() {
		return domain.Application{}, &lifecycle.InvalidTransitionError{From: app.Status, To: to, Message: fmt.Sprintf("unknown application status %q", to)}
	}
	if to == app.Status {
		return domain.Application{}, &lifecycle.InvalidTransitionError{From: app.Status, To: to, Message: "status already set to this value"}
	}
	switch {
	case app.Status == domain.StatusDraft && to == domain.StatusSubmitted:
		return e.Submit(ctx, actor, id)
	case app.Status == domain.StatusQueried && to == domain.StatusResubmitted:
		return e.Resubmit(ctx, actor, id)
	case to == domain.StatusWithdrawn && a.Role == domain.RoleApplicant:
		return e.Withdraw(ctx, actor, id, remarks)
	}
	if err := e.decide(&a, domain.ActionTransition, app, &to).Err(); err != nil {
		return domain.Application{}, err
	}
	tr, err := e.lc().ChangeStatus(app, to, a, remarks)
	if err != nil {
		return domain.Application{}, err
	}
	return e.commit(ctx, a, app, tr)
}

// commit persists the status change, its history row and the outbox event
// in one transaction.
func (e Engine) commit(ctx context.Context, actor domain.Actor, app domain.Application, tr domain.Transition) (domain.Application, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.CommitTransitionTx(ctx, tx, tr); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			e.Metrics.RecordConflict()
			e.logger().WithError(err).WithField("application_id", app.ID).Warn("transition lost a race")
		}
		return domain.Application{}, err
	}
	payload := events.Payload{
		"from":       tr.From,
		"to":         tr.To,
		"history_id": tr.History.ID,
		"actor_role": actor.Role,
	}
	if tr.History.Remarks != "" {
		payload["remarks"] = tr.History.Remarks
	}
	if err := e.writer().Append(ctx, tx, events.Event{
		Type:          events.TypeApplicationTransitioned,
		ApplicationID: app.ID,
		EntityKind:    "application",
		EntityID:      app.ID,
		ActorID:       actor.ID,
		Payload:       payload,
	}); err != nil {
		return domain.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}

	e.Metrics.RecordTransition(string(tr.From), string(tr.To))
	e.logger().WithFields(logrus.Fields{
		"application_id": app.ID,
		"from":           tr.From,
		"to":             tr.To,
		"actor_id":       actor.ID,
	}).Info("application transitioned")
	return tr.Apply(app), nil
}
