package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"permitline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the row changed between load and commit.
	ErrConflict = errors.New("concurrent modification")
)

// fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (r Repo) x() *sqlx.DB {
	return sqlx.NewDb(r.DB, "sqlite")
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const applicationColumns = `id,applicant_id,status,assigned_officer_id,company_name,registration_number,gstin,address,
turnover_year1,turnover_year2,turnover_year3,iso_9001,iso_14001,iso_45001,declaration_accepted,
submitted_at,approved_at,rejected_at,rejection_reason,last_queried_at,created_at,updated_at`

type applicationRow struct {
	ID                  string              `db:"id"`
	ApplicantID         string              `db:"applicant_id"`
	Status              string              `db:"status"`
	AssignedOfficerID   sql.NullString      `db:"assigned_officer_id"`
	CompanyName         sql.NullString      `db:"company_name"`
	RegistrationNumber  string              `db:"registration_number"`
	GSTIN               string              `db:"gstin"`
	Address             string              `db:"address"`
	TurnoverYear1       decimal.NullDecimal `db:"turnover_year1"`
	TurnoverYear2       decimal.NullDecimal `db:"turnover_year2"`
	TurnoverYear3       decimal.NullDecimal `db:"turnover_year3"`
	ISO9001             bool                `db:"iso_9001"`
	ISO14001            bool                `db:"iso_14001"`
	ISO45001            bool                `db:"iso_45001"`
	DeclarationAccepted bool                `db:"declaration_accepted"`
	SubmittedAt         sql.NullString      `db:"submitted_at"`
	ApprovedAt          sql.NullString      `db:"approved_at"`
	RejectedAt          sql.NullString      `db:"rejected_at"`
	RejectionReason     string              `db:"rejection_reason"`
	LastQueriedAt       sql.NullString      `db:"last_queried_at"`
	CreatedAt           string              `db:"created_at"`
	UpdatedAt           string              `db:"updated_at"`
}

func (row applicationRow) header() domain.Application {
	app := domain.Application{
		ID:              row.ID,
		ApplicantID:     row.ApplicantID,
		Status:          domain.Status(row.Status),
		SubmittedAt:     parseTimePtr(row.SubmittedAt),
		ApprovedAt:      parseTimePtr(row.ApprovedAt),
		RejectedAt:      parseTimePtr(row.RejectedAt),
		RejectionReason: row.RejectionReason,
		LastQueriedAt:   parseTimePtr(row.LastQueriedAt),
		CreatedAt:       parseTime(row.CreatedAt),
		UpdatedAt:       parseTime(row.UpdatedAt),
	}
	if row.AssignedOfficerID.Valid {
		officer := row.AssignedOfficerID.String
		app.AssignedOfficerID = &officer
	}
	return app
}

func (row applicationRow) scalars(d *domain.Details) {
	if row.CompanyName.Valid {
		d.Profile = &domain.CompanyProfile{
			CompanyName:        row.CompanyName.String,
			RegistrationNumber: row.RegistrationNumber,
			GSTIN:              row.GSTIN,
			Address:            row.Address,
		}
	}
	d.Turnover = domain.Turnover{Year1: row.TurnoverYear1, Year2: row.TurnoverYear2, Year3: row.TurnoverYear3}
	d.ISO = domain.ISOCertifications{ISO9001: row.ISO9001, ISO14001: row.ISO14001, ISO45001: row.ISO45001}
	d.DeclarationAccepted = row.DeclarationAccepted
}

func (r Repo) getRow(ctx context.Context, id string) (applicationRow, error) {
	var row applicationRow
	err := r.x().GetContext(ctx, &row, `SELECT `+applicationColumns+` FROM applications WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return row, ErrNotFound
	}
	return row, err
}

// LoadForAuthorization returns the application header: identity, status,
// ownership and lifecycle stamps. Completeness aggregates are left empty.
func (r Repo) LoadForAuthorization(ctx context.Context, id string) (domain.Application, error) {
	row, err := r.getRow(ctx, id)
	if err != nil {
		return domain.Application{}, err
	}
	return row.header(), nil
}

// LoadForCompleteness returns the header plus every aggregate the
// completeness rules read.
func (r Repo) LoadForCompleteness(ctx context.Context, id string) (domain.Application, error) {
	row, err := r.getRow(ctx, id)
	if err != nil {
		return domain.Application{}, err
	}
	app := row.header()
	row.scalars(&app.Details)

	db := r.x()
	if err := db.SelectContext(ctx, &app.Contacts,
		`SELECT name,designation,email,phone FROM contacts WHERE application_id=? ORDER BY position`, id); err != nil {
		return domain.Application{}, fmt.Errorf("load contacts: %w", err)
	}
	if err := db.SelectContext(ctx, &app.APCDSelections,
		`SELECT apcd_type,seeking_empanelment FROM apcd_selections WHERE application_id=? ORDER BY position`, id); err != nil {
		return domain.Application{}, fmt.Errorf("load apcd selections: %w", err)
	}
	if err := db.SelectContext(ctx, &app.Installations,
		`SELECT client_name,apcd_type,location,year FROM installations WHERE application_id=? ORDER BY position`, id); err != nil {
		return domain.Application{}, fmt.Errorf("load installations: %w", err)
	}
	if err := db.SelectContext(ctx, &app.Staff,
		`SELECT name,designation,qualification FROM staff WHERE application_id=? ORDER BY position`, id); err != nil {
		return domain.Application{}, fmt.Errorf("load staff: %w", err)
	}
	if err := db.SelectContext(ctx, &app.Attachments,
		`SELECT id,document_type,file_name,has_valid_geo_tag,latitude,longitude FROM attachments WHERE application_id=? ORDER BY position`, id); err != nil {
		return domain.Application{}, fmt.Errorf("load attachments: %w", err)
	}
	if err := db.SelectContext(ctx, &app.Payments,
		`SELECT id,payment_type,status,amount FROM payments WHERE application_id=? ORDER BY position`, id); err != nil {
		return domain.Application{}, fmt.Errorf("load payments: %w", err)
	}
	return app, nil
}

// InsertApplication stores a new application with its details.
func (r Repo) InsertApplication(ctx context.Context, tx *sql.Tx, app domain.Application) error {
	profile := profileColumns(app.Profile)
	_, err := tx.ExecContext(ctx, `INSERT INTO applications(id,applicant_id,status,assigned_officer_id,company_name,registration_number,gstin,address,
turnover_year1,turnover_year2,turnover_year3,iso_9001,iso_14001,iso_45001,declaration_accepted,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		app.ID, app.ApplicantID, app.Status, nullableStringPtr(app.AssignedOfficerID),
		profile[0], profile[1], profile[2], profile[3],
		app.Turnover.Year1, app.Turnover.Year2, app.Turnover.Year3,
		app.ISO.ISO9001, app.ISO.ISO14001, app.ISO.ISO45001, app.DeclarationAccepted,
		formatTime(app.CreatedAt), formatTime(app.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return insertChildren(ctx, tx, app.ID, app.Details)
}

// ReplaceDetails overwrites every completeness aggregate, provided the
// application is still in the expected status.
func (r Repo) ReplaceDetails(ctx context.Context, tx *sql.Tx, id string, expected domain.Status, d domain.Details, at time.Time) error {
	profile := profileColumns(d.Profile)
	res, err := tx.ExecContext(ctx, `UPDATE applications SET company_name=?,registration_number=?,gstin=?,address=?,
turnover_year1=?,turnover_year2=?,turnover_year3=?,iso_9001=?,iso_14001=?,iso_45001=?,declaration_accepted=?,updated_at=?
WHERE id=? AND status=?`,
		profile[0], profile[1], profile[2], profile[3],
		d.Turnover.Year1, d.Turnover.Year2, d.Turnover.Year3,
		d.ISO.ISO9001, d.ISO.ISO14001, d.ISO.ISO45001, d.DeclarationAccepted,
		formatTime(at), id, expected)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return missingOrConflict(ctx, tx, id, expected)
	}
	for _, table := range []string{"contacts", "apcd_selections", "installations", "staff", "attachments", "payments"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE application_id=?`, id); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return insertChildren(ctx, tx, id, d)
}

// AssignOfficer sets or clears the assigned officer.
func (r Repo) AssignOfficer(ctx context.Context, tx *sql.Tx, id string, officerID *string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE applications SET assigned_officer_id=?,updated_at=? WHERE id=?`,
		nullableStringPtr(officerID), formatTime(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPaymentStatus updates one payment of an application.
func (r Repo) SetPaymentStatus(ctx context.Context, tx *sql.Tx, applicationID, paymentID string, status domain.PaymentStatus, at time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE payments SET status=? WHERE application_id=? AND id=?`, status, applicationID, paymentID)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `UPDATE applications SET updated_at=? WHERE id=?`, formatTime(at), applicationID); err != nil {
		return fmt.Errorf("touch application: %w", err)
	}
	return nil
}

// CommitTransitionTx applies tr with a compare-and-swap on the status it was
// computed from and appends its history row. Callers own tx.
func (r Repo) CommitTransitionTx(ctx context.Context, tx *sql.Tx, tr domain.Transition) error {
	res, err := tx.ExecContext(ctx, `UPDATE applications SET status=?,
submitted_at=COALESCE(?,submitted_at),approved_at=COALESCE(?,approved_at),rejected_at=COALESCE(?,rejected_at),
rejection_reason=COALESCE(?,rejection_reason),last_queried_at=COALESCE(?,last_queried_at),updated_at=?
WHERE id=? AND status=?`,
		tr.To,
		formatTimePtr(tr.Stamps.SubmittedAt), formatTimePtr(tr.Stamps.ApprovedAt), formatTimePtr(tr.Stamps.RejectedAt),
		nullableStringPtr(tr.Stamps.RejectionReason), formatTimePtr(tr.Stamps.LastQueriedAt), formatTime(tr.At),
		tr.ApplicationID, tr.From)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missingOrConflict(ctx, tx, tr.ApplicationID, tr.From)
	}
	h := tr.History
	_, err = tx.ExecContext(ctx, `INSERT INTO status_history(id,application_id,from_status,to_status,actor_id,actor_role,remarks,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		h.ID, h.ApplicationID, h.FromStatus, h.ToStatus, h.ActorID, h.ActorRole, h.Remarks, formatTime(h.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

// CommitTransition is the self-contained commit for callers that do not
// write an outbox event: it runs CommitTransitionTx in its own transaction
// and returns the updated header. Engine uses CommitTransitionTx directly so
// the event joins the same transaction.
func (r Repo) CommitTransition(ctx context.Context, tr domain.Transition) (domain.Application, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()
	if err := r.CommitTransitionTx(ctx, tx, tr); err != nil {
		return domain.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}
	return r.LoadForAuthorization(ctx, tr.ApplicationID)
}

func missingOrConflict(ctx context.Context, q rowQuerier, id string, expected domain.Status) error {
	var current string
	err := q.QueryRowContext(ctx, `SELECT status FROM applications WHERE id=?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: application %s is %s, expected %s", ErrConflict, id, current, expected)
}

type ApplicationFilters struct {
	ApplicantID       string
	AssignedOfficerID string
	Statuses          []domain.Status
	Limit             int
}

// ListApplications returns headers, newest first.
func (r Repo) ListApplications(ctx context.Context, f ApplicationFilters) ([]domain.Application, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ApplicantID != "" {
		clauses = append(clauses, "applicant_id=?")
		args = append(args, f.ApplicantID)
	}
	if f.AssignedOfficerID != "" {
		clauses = append(clauses, "assigned_officer_id=?")
		args = append(args, f.AssignedOfficerID)
	}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN (?"+strings.Repeat(",?", len(f.Statuses)-1)+")")
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM applications WHERE %s ORDER BY created_at DESC, id ASC LIMIT ?`,
		applicationColumns, strings.Join(clauses, " AND "))
	var rows []applicationRow
	if err := r.x().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	res := make([]domain.Application, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.header())
	}
	return res, nil
}

type historyRow struct {
	ID            string `db:"id"`
	ApplicationID string `db:"application_id"`
	FromStatus    string `db:"from_status"`
	ToStatus      string `db:"to_status"`
	ActorID       string `db:"actor_id"`
	ActorRole     string `db:"actor_role"`
	Remarks       string `db:"remarks"`
	CreatedAt     string `db:"created_at"`
}

// ListHistory returns the status history of an application, oldest first.
func (r Repo) ListHistory(ctx context.Context, applicationID string) ([]domain.StatusHistory, error) {
	var rows []historyRow
	err := r.x().SelectContext(ctx, &rows, `SELECT id,application_id,from_status,to_status,actor_id,actor_role,remarks,created_at
FROM status_history WHERE application_id=? ORDER BY created_at ASC, rowid ASC`, applicationID)
	if err != nil {
		return nil, err
	}
	res := make([]domain.StatusHistory, 0, len(rows))
	for _, row := range rows {
		res = append(res, domain.StatusHistory{
			ID:            row.ID,
			ApplicationID: row.ApplicationID,
			FromStatus:    domain.Status(row.FromStatus),
			ToStatus:      domain.Status(row.ToStatus),
			ActorID:       row.ActorID,
			ActorRole:     domain.Role(row.ActorRole),
			Remarks:       row.Remarks,
			CreatedAt:     parseTime(row.CreatedAt),
		})
	}
	return res, nil
}

type EventFilters struct {
	Limit         int
	Cursor        int64
	ApplicationID string
	Type          string
}

// LatestEvents returns events newest first; Cursor pages backwards.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ApplicationID != "" {
		clauses = append(clauses, "application_id=?")
		args = append(args, f.ApplicationID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT id,ts,type,application_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,application_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`,
		cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var (
			e               domain.Event
			appID, entityID sql.NullString
			payload         sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &appID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.ApplicationID = appID.String
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func insertChildren(ctx context.Context, tx *sql.Tx, id string, d domain.Details) error {
	for i, c := range d.Contacts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO contacts(application_id,position,name,designation,email,phone) VALUES (?,?,?,?,?,?)`,
			id, i, c.Name, c.Designation, c.Email, c.Phone); err != nil {
			return fmt.Errorf("insert contact: %w", err)
		}
	}
	for i, s := range d.APCDSelections {
		if _, err := tx.ExecContext(ctx, `INSERT INTO apcd_selections(application_id,position,apcd_type,seeking_empanelment) VALUES (?,?,?,?)`,
			id, i, s.APCDType, s.SeekingEmpanelment); err != nil {
			return fmt.Errorf("insert apcd selection: %w", err)
		}
	}
	for i, in := range d.Installations {
		if _, err := tx.ExecContext(ctx, `INSERT INTO installations(application_id,position,client_name,apcd_type,location,year) VALUES (?,?,?,?,?,?)`,
			id, i, in.ClientName, in.APCDType, in.Location, in.Year); err != nil {
			return fmt.Errorf("insert installation: %w", err)
		}
	}
	for i, s := range d.Staff {
		if _, err := tx.ExecContext(ctx, `INSERT INTO staff(application_id,position,name,designation,qualification) VALUES (?,?,?,?,?)`,
			id, i, s.Name, s.Designation, s.Qualification); err != nil {
			return fmt.Errorf("insert staff: %w", err)
		}
	}
	for i, a := range d.Attachments {
		if _, err := tx.ExecContext(ctx, `INSERT INTO attachments(id,application_id,position,document_type,file_name,has_valid_geo_tag,latitude,longitude) VALUES (?,?,?,?,?,?,?,?)`,
			a.ID, id, i, a.DocumentType, a.FileName, a.HasValidGeoTag, nullableFloatPtr(a.Latitude), nullableFloatPtr(a.Longitude)); err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}
	for i, p := range d.Payments {
		if _, err := tx.ExecContext(ctx, `INSERT INTO payments(id,application_id,position,payment_type,status,amount) VALUES (?,?,?,?,?,?)`,
			p.ID, id, i, p.Type, p.Status, p.Amount.String()); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
	}
	return nil
}

func profileColumns(p *domain.CompanyProfile) [4]any {
	if p == nil {
		return [4]any{nil, "", "", ""}
	}
	return [4]any{p.CompanyName, p.RegistrationNumber, p.GSTIN, p.Address}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
