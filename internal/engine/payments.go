package engine

import (
	"context"
	"fmt"

	"permitline/internal/domain"
	"permitline/internal/events"
	"permitline/internal/repo"
)

// RecordPayment sets the status of one payment after it has been reconciled.
// Only privileged roles confirm payments.
func (e Engine) RecordPayment(ctx context.Context, actor *domain.Actor, id, paymentID string, status domain.PaymentStatus) (domain.Application, error) {
	a, err := requirePrivileged(actor, "record payments")
	if err != nil {
		return domain.Application{}, err
	}
	if !status.Valid() {
		return domain.Application{}, fmt.Errorf("%w: unknown payment status %q", ErrInvalidInput, status)
	}
	app, err := e.Repo.LoadForCompleteness(ctx, id)
	if err != nil {
		return domain.Application{}, err
	}
	var prev *domain.Payment
	for i := range app.Payments {
		if app.Payments[i].ID == paymentID {
			prev = &app.Payments[i]
			break
		}
	}
	if prev == nil {
		return domain.Application{}, fmt.Errorf("payment %s of application %s: %w", paymentID, app.ID, repo.ErrNotFound)
	}
	now := e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.SetPaymentStatus(ctx, tx, app.ID, paymentID, status, now); err != nil {
		return domain.Application{}, err
	}
	if err := e.writer().Append(ctx, tx, events.Event{
		Type:          events.TypePaymentRecorded,
		ApplicationID: app.ID,
		EntityKind:    "payment",
		EntityID:      paymentID,
		ActorID:       a.ID,
		Payload: events.Payload{
			"payment_type":    prev.Type,
			"status":          status,
			"previous_status": prev.Status,
		},
	}); err != nil {
		return domain.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}
	e.logger().WithField("application_id", app.ID).WithField("payment_id", paymentID).
		WithField("status", status).Info("payment recorded")
	return e.Repo.LoadForCompleteness(ctx, app.ID)
}
