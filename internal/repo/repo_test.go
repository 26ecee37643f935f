package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permitline/internal/db"
	"permitline/internal/domain"
	"permitline/internal/migrate"
	"permitline/internal/repo"
	"permitline/internal/testfixture"
)

func openRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}, context.Background()
}

func insert(t *testing.T, r repo.Repo, ctx context.Context, app domain.Application) {
	t.Helper()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, r.InsertApplication(ctx, tx, app))
	require.NoError(t, tx.Commit())
}

func submitted(app domain.Application, at time.Time) domain.Transition {
	return domain.Transition{
		ApplicationID: app.ID,
		From:          domain.StatusDraft,
		To:            domain.StatusSubmitted,
		At:            at,
		Stamps:        domain.StatusStamps{SubmittedAt: &at},
		History: domain.StatusHistory{
			ID:            "hist-1",
			ApplicationID: app.ID,
			FromStatus:    domain.StatusDraft,
			ToStatus:      domain.StatusSubmitted,
			ActorID:       app.ApplicantID,
			ActorRole:     domain.RoleApplicant,
			CreatedAt:     at,
		},
	}
}

func TestLoadForCompletenessRoundTrip(t *testing.T) {
	r, ctx := openRepo(t)
	app := testfixture.CompleteApplication("app-1", "oem-1")
	insert(t, r, ctx, app)

	got, err := r.LoadForCompleteness(ctx, "app-1")
	require.NoError(t, err)

	assert.Equal(t, app.ID, got.ID)
	assert.Equal(t, domain.StatusDraft, got.Status)
	assert.Equal(t, app.Profile, got.Profile)
	assert.Equal(t, app.Contacts, got.Contacts)
	assert.Equal(t, app.APCDSelections, got.APCDSelections)
	assert.Equal(t, app.Installations, got.Installations)
	assert.Equal(t, app.Staff, got.Staff)
	assert.Equal(t, app.ISO, got.ISO)
	assert.True(t, got.DeclarationAccepted)
	require.True(t, got.Turnover.Complete())
	assert.True(t, app.Turnover.Year3.Decimal.Equal(got.Turnover.Year3.Decimal))
	require.Len(t, got.Attachments, len(app.Attachments))
	assert.True(t, got.Attachments[8].HasValidGeoTag)
	require.NotNil(t, got.Attachments[8].Latitude)
	assert.InDelta(t, *app.Attachments[8].Latitude, *got.Attachments[8].Latitude, 1e-9)
	require.Len(t, got.Payments, 1)
	assert.True(t, app.Payments[0].Amount.Equal(got.Payments[0].Amount))
	assert.Equal(t, domain.PaymentCompleted, got.Payments[0].Status)
}

func TestLoadForAuthorizationHeaderOnly(t *testing.T) {
	r, ctx := openRepo(t)
	app := testfixture.CompleteApplication("app-1", "oem-1")
	officer := "off-1"
	app.AssignedOfficerID = &officer
	insert(t, r, ctx, app)

	got, err := r.LoadForAuthorization(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, "oem-1", got.ApplicantID)
	require.NotNil(t, got.AssignedOfficerID)
	assert.Equal(t, "off-1", *got.AssignedOfficerID)
	assert.Nil(t, got.Profile)
	assert.Empty(t, got.Attachments)

	_, err = r.LoadForAuthorization(ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = r.LoadForCompleteness(ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCommitTransition(t *testing.T) {
	r, ctx := openRepo(t)
	app := testfixture.CompleteApplication("app-1", "oem-1")
	insert(t, r, ctx, app)
	at := time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC)

	got, err := r.CommitTransition(ctx, submitted(app, at))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, got.Status)
	require.NotNil(t, got.SubmittedAt)
	assert.True(t, at.Equal(*got.SubmittedAt))
	assert.True(t, at.Equal(got.UpdatedAt))

	history, err := r.ListHistory(ctx, "app-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusDraft, history[0].FromStatus)
	assert.Equal(t, domain.StatusSubmitted, history[0].ToStatus)
	assert.True(t, at.Equal(history[0].CreatedAt))
}

func TestCommitTransitionStaleStatus(t *testing.T) {
	r, ctx := openRepo(t)
	app := testfixture.CompleteApplication("app-1", "oem-1")
	insert(t, r, ctx, app)
	at := time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC)

	_, err := r.CommitTransition(ctx, submitted(app, at))
	require.NoError(t, err)

	// the same transition computed from the old snapshot must not apply twice
	stale := submitted(app, at)
	stale.History.ID = "hist-2"
	_, err = r.CommitTransition(ctx, stale)
	assert.ErrorIs(t, err, repo.ErrConflict)

	history, err := r.ListHistory(ctx, "app-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	missing := submitted(domain.Application{ID: "nope", ApplicantID: "oem-1"}, at)
	_, err = r.CommitTransition(ctx, missing)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestStatusHistoryIsAppendOnly(t *testing.T) {
	r, ctx := openRepo(t)
	app := testfixture.CompleteApplication("app-1", "oem-1")
	insert(t, r, ctx, app)
	_, err := r.CommitTransition(ctx, submitted(app, time.Now()))
	require.NoError(t, err)

	_, err = r.DB.ExecContext(ctx, `UPDATE status_history SET remarks='edited'`)
	assert.Error(t, err)
	_, err = r.DB.ExecContext(ctx, `DELETE FROM status_history`)
	assert.Error(t, err)
}

func TestReplaceDetails(t *testing.T) {
	r, ctx := openRepo(t)
	app := testfixture.CompleteApplication("app-1", "oem-1")
	insert(t, r, ctx, app)

	details := testfixture.CompleteDetails()
	details.Profile = nil
	details.Staff = details.Staff[:1]

	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.ReplaceDetails(ctx, tx, "app-1", domain.StatusDraft, details, time.Now()))
	require.NoError(t, tx.Commit())

	got, err := r.LoadForCompleteness(ctx, "app-1")
	require.NoError(t, err)
	assert.Nil(t, got.Profile)
	assert.Len(t, got.Staff, 1)
	assert.Len(t, got.Attachments, len(details.Attachments))

	tx, err = r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	err = r.ReplaceDetails(ctx, tx, "app-1", domain.StatusQueried, details, time.Now())
	assert.ErrorIs(t, err, repo.ErrConflict)
}

func TestChildIDsAreScopedToApplication(t *testing.T) {
	r, ctx := openRepo(t)
	insert(t, r, ctx, testfixture.CompleteApplication("app-1", "oem-1"))
	insert(t, r, ctx, testfixture.CompleteApplication("app-2", "oem-2"))

	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.SetPaymentStatus(ctx, tx, "app-2", "pay-1", domain.PaymentFailed, time.Now()))
	require.NoError(t, tx.Commit())

	first, err := r.LoadForCompleteness(ctx, "app-1")
	require.NoError(t, err)
	second, err := r.LoadForCompleteness(ctx, "app-2")
	require.NoError(t, err)
	assert.Equal(t, first.Attachments, second.Attachments)
	assert.Equal(t, domain.PaymentCompleted, first.Payments[0].Status)
	assert.Equal(t, domain.PaymentFailed, second.Payments[0].Status)

	tx, err = r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	err = r.SetPaymentStatus(ctx, tx, "app-1", "pay-9", domain.PaymentFailed, time.Now())
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestListApplicationsFilters(t *testing.T) {
	r, ctx := openRepo(t)
	a1 := testfixture.CompleteApplication("app-1", "oem-1")
	a2 := testfixture.CompleteApplication("app-2", "oem-2")
	a2.Details = domain.Details{}
	a2.CreatedAt = a1.CreatedAt.Add(time.Hour)
	insert(t, r, ctx, a1)
	insert(t, r, ctx, a2)

	all, err := r.ListApplications(ctx, repo.ApplicationFilters{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "app-2", all[0].ID)

	mine, err := r.ListApplications(ctx, repo.ApplicationFilters{ApplicantID: "oem-1"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "app-1", mine[0].ID)

	none, err := r.ListApplications(ctx, repo.ApplicationFilters{Statuses: []domain.Status{domain.StatusApproved, domain.StatusRejected}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAPIKeys(t *testing.T) {
	r, ctx := openRepo(t)
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.InsertAPIKey(ctx, tx, domain.APIKey{
		ID: "key-1", ActorID: "svc-1", Role: domain.RoleDealingHand, Name: "intake", KeyHash: repo.HashAPIKey("secret"),
	}))
	require.Error(t, r.InsertAPIKey(ctx, tx, domain.APIKey{ID: "key-2", ActorID: "svc-1", Role: "NOPE", KeyHash: "x"}))
	require.NoError(t, tx.Commit())

	key, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(" secret "))
	require.NoError(t, err)
	assert.Equal(t, domain.RoleDealingHand, key.Role)

	keys, err := r.ListAPIKeys(ctx, "svc-1")
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	tx, err = r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.DeleteAPIKey(ctx, tx, "key-1"))
	assert.ErrorIs(t, r.DeleteAPIKey(ctx, tx, "key-1"), repo.ErrNotFound)
	require.NoError(t, tx.Commit())

	_, err = r.GetAPIKeyByHash(ctx, repo.HashAPIKey("secret"))
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestActors(t *testing.T) {
	r, ctx := openRepo(t)
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.UpsertActor(ctx, tx, domain.ActorRecord{ID: "off-1", Role: domain.RoleOfficer, CreatedAt: "2024-01-01T00:00:00Z"}))
	require.NoError(t, r.UpsertActor(ctx, tx, domain.ActorRecord{ID: "off-1", Role: domain.RoleCommittee, DisplayName: "Dr. K", CreatedAt: "2024-01-02T00:00:00Z"}))
	require.NoError(t, tx.Commit())

	a, err := r.GetActor(ctx, "off-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCommittee, a.Role)
	assert.Equal(t, "2024-01-01T00:00:00Z", a.CreatedAt)

	_, err = r.GetActor(ctx, "ghost")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	officers, err := r.ListActors(ctx, domain.RoleOfficer)
	require.NoError(t, err)
	assert.Empty(t, officers)
}

func TestEventsCursor(t *testing.T) {
	r, ctx := openRepo(t)
	for _, typ := range []string{"a", "b", "c"} {
		_, err := r.DB.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,actor_id) VALUES (?,?,?,?)`,
			"2024-01-01T00:00:00Z", typ, "application", "x")
		require.NoError(t, err)
	}
	latest, err := r.LatestEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest)

	after, err := r.EventsAfter(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "b", after[0].Type)
	assert.Equal(t, "{}", after[0].Payload)

	recent, err := r.LatestEvents(ctx, repo.EventFilters{Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "c", recent[0].Type)

	var n int
	require.NoError(t, r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n))
	assert.Equal(t, 3, n)
}
