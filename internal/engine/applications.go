package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"permitline/internal/domain"
	"permitline/internal/engine/auth"
	"permitline/internal/events"
	"permitline/internal/repo"
)

// ApplicationInput carries a new draft. ApplicantID is only honoured for
// privileged callers filing on behalf of an applicant.
type ApplicationInput struct {
	ID          string
	ApplicantID string
	Details     domain.Details
}

// CreateApplication files a DRAFT. No history row is written: history only
// records transitions.
func (e Engine) CreateApplication(ctx context.Context, actor *domain.Actor, in ApplicationInput) (domain.Application, error) {
	a, err := requireActor(actor)
	if err != nil {
		return domain.Application{}, err
	}
	applicant := a.ID
	switch {
	case a.Role == domain.RoleApplicant:
		if in.ApplicantID != "" && in.ApplicantID != a.ID {
			return domain.Application{}, auth.DeniedError{
				Reason:  auth.ReasonOwnershipViolation,
				Message: "Role OEM can only create applications for themselves",
			}
		}
	case a.Role.Privileged():
		applicant = strings.TrimSpace(in.ApplicantID)
		if applicant == "" {
			return domain.Application{}, fmt.Errorf("%w: applicant_id is required", ErrInvalidInput)
		}
	default:
		return domain.Application{}, auth.DeniedError{
			Reason:  auth.ReasonRoleNotPermitted,
			Message: fmt.Sprintf("Role %s cannot create applications", a.Role),
		}
	}
	details, err := e.normalizeDetails(in.Details)
	if err != nil {
		return domain.Application{}, err
	}
	if a.Role == domain.RoleApplicant {
		details = applicantDetails(details, nil)
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = e.newID()
	}
	now := e.now()
	app := domain.Application{
		ID:          id,
		ApplicantID: applicant,
		Status:      domain.StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
		Details:     details,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertApplication(ctx, tx, app); err != nil {
		return domain.Application{}, err
	}
	if err := e.writer().Append(ctx, tx, events.Event{
		Type:          events.TypeApplicationCreated,
		ApplicationID: app.ID,
		EntityKind:    "application",
		EntityID:      app.ID,
		ActorID:       a.ID,
		Payload:       events.Payload{"applicant_id": applicant, "status": app.Status},
	}); err != nil {
		return domain.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}
	e.logger().WithField("application_id", app.ID).WithField("applicant_id", applicant).Info("application created")
	return app, nil
}

// UpdateApplication replaces the completeness aggregates. The write only
// lands if the status is unchanged since the EDIT decision.
func (e Engine) UpdateApplication(ctx context.Context, actor *domain.Actor, id string, d domain.Details) (domain.Application, error) {
	a, err := requireActor(actor)
	if err != nil {
		return domain.Application{}, err
	}
	app, err := e.Repo.LoadForCompleteness(ctx, id)
	if err != nil {
		return domain.Application{}, err
	}
	if err := e.decide(&a, domain.ActionEdit, app, nil).Err(); err != nil {
		return domain.Application{}, err
	}
	details, err := e.normalizeDetails(d)
	if err != nil {
		return domain.Application{}, err
	}
	if a.Role == domain.RoleApplicant {
		details = applicantDetails(details, app.Payments)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.ReplaceDetails(ctx, tx, app.ID, app.Status, details, e.now()); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			e.Metrics.RecordConflict()
		}
		return domain.Application{}, err
	}
	if err := e.writer().Append(ctx, tx, events.Event{
		Type:          events.TypeApplicationUpdated,
		ApplicationID: app.ID,
		EntityKind:    "application",
		EntityID:      app.ID,
		ActorID:       a.ID,
		Payload:       events.Payload{"status": app.Status},
	}); err != nil {
		return domain.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}
	e.logger().WithField("application_id", app.ID).Info("application updated")
	return e.Repo.LoadForCompleteness(ctx, app.ID)
}

// GetApplication returns the full application when actor may view it.
func (e Engine) GetApplication(ctx context.Context, actor *domain.Actor, id string) (domain.Application, error) {
	app, err := e.viewable(ctx, actor, id)
	if err != nil {
		return domain.Application{}, err
	}
	return e.Repo.LoadForCompleteness(ctx, app.ID)
}

type ListOptions struct {
	Statuses []domain.Status
	Limit    int
}

// ListApplications returns the headers actor is allowed to view.
func (e Engine) ListApplications(ctx context.Context, actor *domain.Actor, opts ListOptions) ([]domain.Application, error) {
	a, err := requireActor(actor)
	if err != nil {
		return nil, err
	}
	f := repo.ApplicationFilters{Statuses: opts.Statuses, Limit: opts.Limit}
	if a.Role == domain.RoleApplicant {
		f.ApplicantID = a.ID
	}
	apps, err := e.Repo.ListApplications(ctx, f)
	if err != nil {
		return nil, err
	}
	visible := make([]domain.Application, 0, len(apps))
	for _, app := range apps {
		if e.Authorizer.Authorize(&a, domain.ActionView, app, nil).Allowed {
			visible = append(visible, app)
		}
	}
	return visible, nil
}

// History returns the status history, oldest first.
func (e Engine) History(ctx context.Context, actor *domain.Actor, id string) ([]domain.StatusHistory, error) {
	app, err := e.viewable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListHistory(ctx, app.ID)
}

// AssignOfficer sets the reviewer an application is routed to. An empty
// officerID clears the assignment. Status is untouched, so no history row.
func (e Engine) AssignOfficer(ctx context.Context, actor *domain.Actor, id, officerID string) (domain.Application, error) {
	a, err := requirePrivileged(actor, "assign applications")
	if err != nil {
		return domain.Application{}, err
	}
	app, err := e.Repo.LoadForAuthorization(ctx, id)
	if err != nil {
		return domain.Application{}, err
	}
	var assignee *string
	officerID = strings.TrimSpace(officerID)
	if officerID != "" {
		rec, err := e.Repo.GetActor(ctx, officerID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Application{}, fmt.Errorf("%w: actor %s is not registered", ErrInvalidInput, officerID)
		}
		if err != nil {
			return domain.Application{}, err
		}
		if !rec.Role.Staff() {
			return domain.Application{}, fmt.Errorf("%w: actor %s has role %s, not a reviewing role", ErrInvalidInput, officerID, rec.Role)
		}
		assignee = &officerID
	}
	now := e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.AssignOfficer(ctx, tx, app.ID, assignee, now); err != nil {
		return domain.Application{}, err
	}
	payload := events.Payload{"officer_id": officerID}
	if app.AssignedOfficerID != nil {
		payload["previous_officer_id"] = *app.AssignedOfficerID
	}
	if err := e.writer().Append(ctx, tx, events.Event{
		Type:          events.TypeApplicationAssigned,
		ApplicationID: app.ID,
		EntityKind:    "application",
		EntityID:      app.ID,
		ActorID:       a.ID,
		Payload:       payload,
	}); err != nil {
		return domain.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}
	app.AssignedOfficerID = assignee
	app.UpdatedAt = now
	e.logger().WithField("application_id", app.ID).WithField("officer_id", officerID).Info("officer assigned")
	return app, nil
}

// normalizeDetails fills generated ids and rejects values no rule could
// make sense of.
func (e Engine) normalizeDetails(d domain.Details) (domain.Details, error) {
	seen := map[string]bool{}
	attachments := make([]domain.Attachment, len(d.Attachments))
	for i, att := range d.Attachments {
		if strings.TrimSpace(string(att.DocumentType)) == "" {
			return d, fmt.Errorf("%w: attachment %d has no document type", ErrInvalidInput, i)
		}
		if att.ID == "" {
			att.ID = e.newID()
		}
		if seen[att.ID] {
			return d, fmt.Errorf("%w: duplicate attachment id %s", ErrInvalidInput, att.ID)
		}
		seen[att.ID] = true
		attachments[i] = att
	}
	payments := make([]domain.Payment, len(d.Payments))
	for i, p := range d.Payments {
		if p.Amount.IsNegative() {
			return d, fmt.Errorf("%w: payment %d has a negative amount", ErrInvalidInput, i)
		}
		if p.ID == "" {
			p.ID = e.newID()
		}
		if seen[p.ID] {
			return d, fmt.Errorf("%w: duplicate payment id %s", ErrInvalidInput, p.ID)
		}
		seen[p.ID] = true
		payments[i] = p
	}
	if d.Attachments != nil {
		d.Attachments = attachments
	}
	if d.Payments != nil {
		d.Payments = payments
	}
	return d, nil
}

// applicantDetails drops what an applicant cannot vouch for. Payment status
// only moves through RecordPayment, so a payment keeps its stored status
// while its type and amount are unchanged and is PENDING otherwise.
// Geo-tag validity follows the coordinates.
func applicantDetails(d domain.Details, stored []domain.Payment) domain.Details {
	known := make(map[string]domain.Payment, len(stored))
	for _, p := range stored {
		known[p.ID] = p
	}
	for i, p := range d.Payments {
		status := domain.PaymentPending
		if prev, ok := known[p.ID]; ok && prev.Type == p.Type && prev.Amount.Equal(p.Amount) {
			status = prev.Status
		}
		d.Payments[i].Status = status
	}
	for i, att := range d.Attachments {
		d.Attachments[i].HasValidGeoTag = att.GeoTagged()
	}
	return d
}
