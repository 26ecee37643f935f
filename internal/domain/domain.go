package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Application is a permit application snapshot. Header fields are always
// loaded; the completeness aggregates are only populated by full loads.
type Application struct {
	ID                string     `json:"id"`
	ApplicantID       string     `json:"applicant_id"`
	Status            Status     `json:"status"`
	AssignedOfficerID *string    `json:"assigned_officer_id,omitempty"`
	SubmittedAt       *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	RejectedAt        *time.Time `json:"rejected_at,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`
	LastQueriedAt     *time.Time `json:"last_queried_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	Details
}

// Details holds everything the completeness rules look at.
type Details struct {
	Profile             *CompanyProfile          `json:"company_profile,omitempty"`
	Contacts            []ContactPerson          `json:"contacts,omitempty"`
	Turnover            Turnover                 `json:"turnover"`
	ISO                 ISOCertifications        `json:"iso"`
	APCDSelections      []APCDSelection          `json:"apcd_selections,omitempty"`
	Installations       []InstallationExperience `json:"installations,omitempty"`
	Staff               []StaffMember            `json:"staff,omitempty"`
	Attachments         []Attachment             `json:"attachments,omitempty"`
	Payments            []Payment                `json:"payments,omitempty"`
	DeclarationAccepted bool                     `json:"declaration_accepted"`
}

type CompanyProfile struct {
	CompanyName        string `json:"company_name" db:"company_name"`
	RegistrationNumber string `json:"registration_number,omitempty" db:"registration_number"`
	GSTIN              string `json:"gstin,omitempty" db:"gstin"`
	Address            string `json:"address,omitempty" db:"address"`
}

type ContactPerson struct {
	Name        string `json:"name" db:"name"`
	Designation string `json:"designation,omitempty" db:"designation"`
	Email       string `json:"email,omitempty" db:"email"`
	Phone       string `json:"phone,omitempty" db:"phone"`
}

// Turnover carries the three most recent financial years, newest first.
type Turnover struct {
	Year1 decimal.NullDecimal `json:"year1"`
	Year2 decimal.NullDecimal `json:"year2"`
	Year3 decimal.NullDecimal `json:"year3"`
}

func (t Turnover) Complete() bool {
	return t.Year1.Valid && t.Year2.Valid && t.Year3.Valid
}

type ISOCertifications struct {
	ISO9001  bool `json:"iso_9001"`
	ISO14001 bool `json:"iso_14001"`
	ISO45001 bool `json:"iso_45001"`
}

func (c ISOCertifications) Any() bool {
	return c.ISO9001 || c.ISO14001 || c.ISO45001
}

type APCDSelection struct {
	APCDType           string `json:"apcd_type" db:"apcd_type"`
	SeekingEmpanelment bool   `json:"seeking_empanelment" db:"seeking_empanelment"`
}

type InstallationExperience struct {
	ClientName string `json:"client_name" db:"client_name"`
	APCDType   string `json:"apcd_type,omitempty" db:"apcd_type"`
	Location   string `json:"location,omitempty" db:"location"`
	Year       int    `json:"year,omitempty" db:"year"`
}

type StaffMember struct {
	Name          string `json:"name" db:"name"`
	Designation   string `json:"designation,omitempty" db:"designation"`
	Qualification string `json:"qualification" db:"qualification"`
}

type DocumentType string

const (
	DocCompanyRegistration DocumentType = "COMPANY_REGISTRATION"
	DocGSTCertificate      DocumentType = "GST_CERTIFICATE"
	DocPANCard             DocumentType = "PAN_CARD"
	DocAuditedBalanceSheet DocumentType = "AUDITED_BALANCE_SHEET"
	DocISOCertificate      DocumentType = "ISO_CERTIFICATE"
	DocProductDatasheet    DocumentType = "PRODUCT_DATASHEET"
	DocInstallationProof   DocumentType = "INSTALLATION_PROOF"
	DocAuthorizationLetter DocumentType = "AUTHORIZATION_LETTER"
	DocGeoTaggedPhoto      DocumentType = "GEO_TAGGED_PHOTO"
)

type Attachment struct {
	ID             string       `json:"id" db:"id"`
	DocumentType   DocumentType `json:"document_type" db:"document_type"`
	FileName       string       `json:"file_name,omitempty" db:"file_name"`
	HasValidGeoTag bool         `json:"has_valid_geo_tag" db:"has_valid_geo_tag"`
	Latitude       *float64     `json:"latitude,omitempty" db:"latitude"`
	Longitude      *float64     `json:"longitude,omitempty" db:"longitude"`
}

// GeoTagged reports whether the attachment carries usable GPS coordinates.
func (a Attachment) GeoTagged() bool {
	if a.Latitude == nil || a.Longitude == nil {
		return false
	}
	lat, lng := *a.Latitude, *a.Longitude
	if lat == 0 && lng == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

type PaymentType string

const (
	PaymentApplicationFee PaymentType = "APPLICATION_FEE"
	PaymentEmpanelmentFee PaymentType = "EMPANELMENT_FEE"
	PaymentRenewalFee     PaymentType = "RENEWAL_FEE"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentVerified  PaymentStatus = "VERIFIED"
	PaymentFailed    PaymentStatus = "FAILED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentVerified, PaymentFailed:
		return true
	}
	return false
}

// Settled reports whether the payment counts as received.
func (s PaymentStatus) Settled() bool {
	return s == PaymentCompleted || s == PaymentVerified
}

type Payment struct {
	ID     string          `json:"id" db:"id"`
	Type   PaymentType     `json:"payment_type" db:"payment_type"`
	Status PaymentStatus   `json:"status" db:"status"`
	Amount decimal.Decimal `json:"amount" db:"amount"`
}

// StatusHistory is an immutable record of one status change.
type StatusHistory struct {
	ID            string    `json:"id" db:"id"`
	ApplicationID string    `json:"application_id" db:"application_id"`
	FromStatus    Status    `json:"from_status" db:"from_status"`
	ToStatus      Status    `json:"to_status" db:"to_status"`
	ActorID       string    `json:"actor_id" db:"actor_id"`
	ActorRole     Role      `json:"actor_role" db:"actor_role"`
	Remarks       string    `json:"remarks,omitempty" db:"remarks"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// StatusStamps are the per-status fields set on entry to a status.
type StatusStamps struct {
	SubmittedAt     *time.Time
	ApprovedAt      *time.Time
	RejectedAt      *time.Time
	RejectionReason *string
	LastQueriedAt   *time.Time
}

// Transition is a validated, not-yet-committed status change.
type Transition struct {
	ApplicationID string
	From          Status
	To            Status
	Stamps        StatusStamps
	History       StatusHistory
	At            time.Time
}

// Apply returns a copy of app with the transition applied.
func (t Transition) Apply(app Application) Application {
	app.Status = t.To
	if t.Stamps.SubmittedAt != nil {
		app.SubmittedAt = t.Stamps.SubmittedAt
	}
	if t.Stamps.ApprovedAt != nil {
		app.ApprovedAt = t.Stamps.ApprovedAt
	}
	if t.Stamps.RejectedAt != nil {
		app.RejectedAt = t.Stamps.RejectedAt
	}
	if t.Stamps.RejectionReason != nil {
		app.RejectionReason = *t.Stamps.RejectionReason
	}
	if t.Stamps.LastQueriedAt != nil {
		app.LastQueriedAt = t.Stamps.LastQueriedAt
	}
	app.UpdatedAt = t.At
	return app
}

type Event struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	Type          string `json:"type"`
	ApplicationID string `json:"application_id,omitempty"`
	EntityKind    string `json:"entity_kind"`
	EntityID      string `json:"entity_id,omitempty"`
	ActorID       string `json:"actor_id"`
	Payload       string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      Role   `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ActorRecord is a registered user of the workflow.
type ActorRecord struct {
	ID          string `json:"id" db:"id"`
	Role        Role   `json:"role" db:"role"`
	DisplayName string `json:"display_name,omitempty" db:"display_name"`
	CreatedAt   string `json:"created_at" db:"created_at" format:"date-time"`
}

func (a ActorRecord) Actor() Actor {
	return Actor{ID: a.ID, Role: a.Role}
}
