package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"permitline/internal/domain"
	"permitline/internal/engine"
)

var validate = validator.New()

// Request payloads

type CompanyProfileBody struct {
	CompanyName        string `json:"company_name" validate:"required"`
	RegistrationNumber string `json:"registration_number,omitempty"`
	GSTIN              string `json:"gstin,omitempty" validate:"omitempty,len=15,alphanum"`
	Address            string `json:"address,omitempty"`
}

type ContactBody struct {
	Name        string `json:"name" validate:"required"`
	Designation string `json:"designation,omitempty"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	Phone       string `json:"phone,omitempty"`
}

// TurnoverBody carries decimal strings, newest year first.
type TurnoverBody struct {
	Year1 *string `json:"year1,omitempty" example:"12500000.00"`
	Year2 *string `json:"year2,omitempty"`
	Year3 *string `json:"year3,omitempty"`
}

type ISOBody struct {
	ISO9001  bool `json:"iso_9001" required:"false"`
	ISO14001 bool `json:"iso_14001" required:"false"`
	ISO45001 bool `json:"iso_45001" required:"false"`
}

type APCDSelectionBody struct {
	APCDType           string `json:"apcd_type" validate:"required"`
	SeekingEmpanelment bool   `json:"seeking_empanelment" required:"false"`
}

type InstallationBody struct {
	ClientName string `json:"client_name" validate:"required"`
	APCDType   string `json:"apcd_type,omitempty"`
	Location   string `json:"location,omitempty"`
	Year       int    `json:"year,omitempty" validate:"omitempty,gte=1900,lte=2100"`
}

type StaffBody struct {
	Name          string `json:"name" validate:"required"`
	Designation   string `json:"designation,omitempty"`
	Qualification string `json:"qualification" required:"false"`
}

type AttachmentBody struct {
	ID             string   `json:"id,omitempty"`
	DocumentType   string   `json:"document_type" validate:"required"`
	FileName       string   `json:"file_name,omitempty"`
	HasValidGeoTag bool     `json:"has_valid_geo_tag" required:"false" doc:"Derived from the coordinates when an applicant writes"`
	Latitude       *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude      *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
}

type PaymentBody struct {
	ID          string `json:"id,omitempty"`
	PaymentType string `json:"payment_type" validate:"required" enum:"APPLICATION_FEE,EMPANELMENT_FEE,RENEWAL_FEE"`
	Status      string `json:"status" validate:"required" enum:"PENDING,COMPLETED,VERIFIED,FAILED" doc:"Applicant writes keep the recorded status"`
	Amount      string `json:"amount" validate:"required" example:"25000.00"`
}

type ApplicationDetailsBody struct {
	CompanyProfile      *CompanyProfileBody `json:"company_profile,omitempty" validate:"omitempty"`
	Contacts            []ContactBody       `json:"contacts,omitempty" validate:"dive"`
	Turnover            TurnoverBody        `json:"turnover" required:"false"`
	ISO                 ISOBody             `json:"iso" required:"false"`
	APCDSelections      []APCDSelectionBody `json:"apcd_selections,omitempty" validate:"dive"`
	Installations       []InstallationBody  `json:"installations,omitempty" validate:"dive"`
	Staff               []StaffBody         `json:"staff,omitempty" validate:"dive"`
	Attachments         []AttachmentBody    `json:"attachments,omitempty" validate:"dive"`
	Payments            []PaymentBody       `json:"payments,omitempty" validate:"dive"`
	DeclarationAccepted bool                `json:"declaration_accepted" required:"false"`
}

type CreateApplicationRequest struct {
	ID          string                 `json:"id,omitempty"`
	ApplicantID string                 `json:"applicant_id,omitempty" doc:"Only honoured for ADMIN and SUPER_ADMIN"`
	Details     ApplicationDetailsBody `json:"details" required:"false"`
}

type ChangeStatusRequest struct {
	Status  string `json:"status" minLength:"1"`
	Remarks string `json:"remarks,omitempty"`
}

type WithdrawRequest struct {
	Reason string `json:"reason,omitempty"`
}

type AssignOfficerRequest struct {
	OfficerID string `json:"officer_id" doc:"Empty clears the assignment"`
}

type RecordPaymentRequest struct {
	Status string `json:"status" enum:"PENDING,COMPLETED,VERIFIED,FAILED"`
}

type AuthorizeRequest struct {
	Action       string  `json:"action" enum:"VIEW,EDIT,TRANSITION"`
	TargetStatus *string `json:"target_status,omitempty"`
}

type RegisterActorRequest struct {
	ID          string `json:"id" minLength:"1"`
	Role        string `json:"role" minLength:"1"`
	DisplayName string `json:"display_name,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id" minLength:"1"`
	Role    string `json:"role" minLength:"1"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID    string `json:"actor_id" minLength:"1"`
	Role       string `json:"role" minLength:"1"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// Response payloads

type ApplicationResponse struct {
	ID                string                 `json:"id"`
	ApplicantID       string                 `json:"applicant_id"`
	Status            domain.Status          `json:"status"`
	AssignedOfficerID *string                `json:"assigned_officer_id,omitempty"`
	SubmittedAt       *time.Time             `json:"submitted_at,omitempty"`
	ApprovedAt        *time.Time             `json:"approved_at,omitempty"`
	RejectedAt        *time.Time             `json:"rejected_at,omitempty"`
	RejectionReason   string                 `json:"rejection_reason,omitempty"`
	LastQueriedAt     *time.Time             `json:"last_queried_at,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
	Details           *ApplicationDetailsBody `json:"details,omitempty"`
}

type ApplicationListResponse struct {
	Items []ApplicationResponse `json:"items"`
}

type ValidationResponse struct {
	Complete   bool     `json:"complete"`
	Violations []string `json:"violations"`
}

type HistoryResponse struct {
	Items []domain.StatusHistory `json:"items"`
}

type DecisionResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

type CapabilitiesResponse = engine.Capabilities

type EventResponse struct {
	ID            int64          `json:"id"`
	TS            string         `json:"ts" format:"date-time"`
	Type          string         `json:"type"`
	ApplicationID string         `json:"application_id,omitempty"`
	EntityKind    string         `json:"entity_kind"`
	EntityID      string         `json:"entity_id,omitempty"`
	ActorID       string         `json:"actor_id"`
	Payload       map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type APIKeyResponse struct {
	ID        string      `json:"id"`
	ActorID   string      `json:"actor_id"`
	Role      domain.Role `json:"role"`
	Name      string      `json:"name,omitempty"`
	CreatedAt string      `json:"created_at" format:"date-time"`
}

type CreateAPIKeyResponse struct {
	Key    APIKeyResponse `json:"key"`
	Secret string         `json:"secret" doc:"Shown once"`
}

type WhoAmIResponse struct {
	ActorID string      `json:"actor_id"`
	Role    domain.Role `json:"role"`
	Source  string      `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Conversion helpers

func (b ApplicationDetailsBody) toDomain() (domain.Details, error) {
	var d domain.Details
	if b.CompanyProfile != nil {
		d.Profile = &domain.CompanyProfile{
			CompanyName:        b.CompanyProfile.CompanyName,
			RegistrationNumber: b.CompanyProfile.RegistrationNumber,
			GSTIN:              b.CompanyProfile.GSTIN,
			Address:            b.CompanyProfile.Address,
		}
	}
	for _, c := range b.Contacts {
		d.Contacts = append(d.Contacts, domain.ContactPerson(c))
	}
	var err error
	if d.Turnover.Year1, err = parseNullDecimal("turnover.year1", b.Turnover.Year1); err != nil {
		return d, err
	}
	if d.Turnover.Year2, err = parseNullDecimal("turnover.year2", b.Turnover.Year2); err != nil {
		return d, err
	}
	if d.Turnover.Year3, err = parseNullDecimal("turnover.year3", b.Turnover.Year3); err != nil {
		return d, err
	}
	d.ISO = domain.ISOCertifications(b.ISO)
	for _, s := range b.APCDSelections {
		d.APCDSelections = append(d.APCDSelections, domain.APCDSelection(s))
	}
	for _, in := range b.Installations {
		d.Installations = append(d.Installations, domain.InstallationExperience(in))
	}
	for _, s := range b.Staff {
		d.Staff = append(d.Staff, domain.StaffMember(s))
	}
	for _, a := range b.Attachments {
		d.Attachments = append(d.Attachments, domain.Attachment{
			ID:             a.ID,
			DocumentType:   domain.DocumentType(a.DocumentType),
			FileName:       a.FileName,
			HasValidGeoTag: a.HasValidGeoTag,
			Latitude:       a.Latitude,
			Longitude:      a.Longitude,
		})
	}
	for i, p := range b.Payments {
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			return d, fmt.Errorf("%w: payments[%d].amount is not a decimal", engine.ErrInvalidInput, i)
		}
		d.Payments = append(d.Payments, domain.Payment{
			ID:     p.ID,
			Type:   domain.PaymentType(p.PaymentType),
			Status: domain.PaymentStatus(p.Status),
			Amount: amount,
		})
	}
	d.DeclarationAccepted = b.DeclarationAccepted
	return d, nil
}

func parseNullDecimal(field string, raw *string) (decimal.NullDecimal, error) {
	if raw == nil || *raw == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(*raw)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%w: %s is not a decimal", engine.ErrInvalidInput, field)
	}
	return decimal.NewNullDecimal(v), nil
}

func detailsBody(d domain.Details) *ApplicationDetailsBody {
	b := &ApplicationDetailsBody{
		Contacts:            []ContactBody{},
		ISO:                 ISOBody(d.ISO),
		APCDSelections:      []APCDSelectionBody{},
		Installations:       []InstallationBody{},
		Staff:               []StaffBody{},
		Attachments:         []AttachmentBody{},
		Payments:            []PaymentBody{},
		DeclarationAccepted: d.DeclarationAccepted,
		Turnover: TurnoverBody{
			Year1: decimalString(d.Turnover.Year1),
			Year2: decimalString(d.Turnover.Year2),
			Year3: decimalString(d.Turnover.Year3),
		},
	}
	if d.Profile != nil {
		b.CompanyProfile = &CompanyProfileBody{
			CompanyName:        d.Profile.CompanyName,
			RegistrationNumber: d.Profile.RegistrationNumber,
			GSTIN:              d.Profile.GSTIN,
			Address:            d.Profile.Address,
		}
	}
	for _, c := range d.Contacts {
		b.Contacts = append(b.Contacts, ContactBody(c))
	}
	for _, s := range d.APCDSelections {
		b.APCDSelections = append(b.APCDSelections, APCDSelectionBody(s))
	}
	for _, in := range d.Installations {
		b.Installations = append(b.Installations, InstallationBody(in))
	}
	for _, s := range d.Staff {
		b.Staff = append(b.Staff, StaffBody(s))
	}
	for _, a := range d.Attachments {
		b.Attachments = append(b.Attachments, AttachmentBody{
			ID:             a.ID,
			DocumentType:   string(a.DocumentType),
			FileName:       a.FileName,
			HasValidGeoTag: a.HasValidGeoTag,
			Latitude:       a.Latitude,
			Longitude:      a.Longitude,
		})
	}
	for _, p := range d.Payments {
		b.Payments = append(b.Payments, PaymentBody{
			ID:          p.ID,
			PaymentType: string(p.Type),
			Status:      string(p.Status),
			Amount:      p.Amount.StringFixed(2),
		})
	}
	return b
}

func decimalString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.StringFixed(2)
	return &s
}

func applicationResponse(app domain.Application, withDetails bool) ApplicationResponse {
	res := ApplicationResponse{
		ID:                app.ID,
		ApplicantID:       app.ApplicantID,
		Status:            app.Status,
		AssignedOfficerID: app.AssignedOfficerID,
		SubmittedAt:       app.SubmittedAt,
		ApprovedAt:        app.ApprovedAt,
		RejectedAt:        app.RejectedAt,
		RejectionReason:   app.RejectionReason,
		LastQueriedAt:     app.LastQueriedAt,
		CreatedAt:         app.CreatedAt,
		UpdatedAt:         app.UpdatedAt,
	}
	if withDetails {
		res.Details = detailsBody(app.Details)
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	payload := map[string]any{}
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:            e.ID,
		TS:            e.TS,
		Type:          e.Type,
		ApplicationID: e.ApplicationID,
		EntityKind:    e.EntityKind,
		EntityID:      e.EntityID,
		ActorID:       e.ActorID,
		Payload:       payload,
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Role: k.Role, Name: k.Name, CreatedAt: k.CreatedAt}
}
