// Package testfixture builds application snapshots shared by tests.
package testfixture

import (
	"time"

	"github.com/shopspring/decimal"

	"permitline/internal/domain"
)

// CompleteDetails satisfies every completeness rule with the default rule set:
// one APCD type, three installations, two B.Tech/M.Tech staff, every mandatory
// document, two tagged photos and a completed application fee.
func CompleteDetails() domain.Details {
	lat, lng := 28.6139, 77.2090
	return domain.Details{
		Profile: &domain.CompanyProfile{
			CompanyName:        "Acme Filtration Pvt Ltd",
			RegistrationNumber: "U29220DL2010PTC123456",
			GSTIN:              "07AAACA1234A1Z5",
			Address:            "Plot 4, Okhla Phase II, New Delhi",
		},
		Contacts: []domain.ContactPerson{
			{Name: "R. Mehta", Designation: "Director", Email: "mehta@acme.example", Phone: "+91-9800000000"},
		},
		Turnover: domain.Turnover{
			Year1: decimal.NewNullDecimal(decimal.RequireFromString("12500000.00")),
			Year2: decimal.NewNullDecimal(decimal.RequireFromString("11000000.00")),
			Year3: decimal.NewNullDecimal(decimal.RequireFromString("9800000.50")),
		},
		ISO: domain.ISOCertifications{ISO9001: true},
		APCDSelections: []domain.APCDSelection{
			{APCDType: "BAG_FILTER", SeekingEmpanelment: true},
		},
		Installations: []domain.InstallationExperience{
			{ClientName: "Steel Works A", APCDType: "BAG_FILTER", Location: "Bhilai", Year: 2021},
			{ClientName: "Cement Plant B", APCDType: "BAG_FILTER", Location: "Satna", Year: 2022},
			{ClientName: "Power Station C", APCDType: "BAG_FILTER", Location: "Korba", Year: 2023},
		},
		Staff: []domain.StaffMember{
			{Name: "A. Singh", Designation: "Design Engineer", Qualification: "B.Tech Mechanical"},
			{Name: "P. Rao", Designation: "Process Lead", Qualification: "M.Tech (Environmental)"},
			{Name: "K. Das", Designation: "Supervisor", Qualification: "Diploma"},
		},
		Attachments: []domain.Attachment{
			{ID: "doc-1", DocumentType: domain.DocCompanyRegistration, FileName: "coi.pdf"},
			{ID: "doc-2", DocumentType: domain.DocGSTCertificate, FileName: "gst.pdf"},
			{ID: "doc-3", DocumentType: domain.DocPANCard, FileName: "pan.pdf"},
			{ID: "doc-4", DocumentType: domain.DocAuditedBalanceSheet, FileName: "balance.pdf"},
			{ID: "doc-5", DocumentType: domain.DocISOCertificate, FileName: "iso9001.pdf"},
			{ID: "doc-6", DocumentType: domain.DocProductDatasheet, FileName: "datasheet.pdf"},
			{ID: "doc-7", DocumentType: domain.DocInstallationProof, FileName: "work-orders.pdf"},
			{ID: "doc-8", DocumentType: domain.DocAuthorizationLetter, FileName: "authorization.pdf"},
			{ID: "photo-1", DocumentType: domain.DocGeoTaggedPhoto, FileName: "site-1.jpg", HasValidGeoTag: true, Latitude: &lat, Longitude: &lng},
			{ID: "photo-2", DocumentType: domain.DocGeoTaggedPhoto, FileName: "site-2.jpg", HasValidGeoTag: true, Latitude: &lat, Longitude: &lng},
		},
		Payments: []domain.Payment{
			{ID: "pay-1", Type: domain.PaymentApplicationFee, Status: domain.PaymentCompleted, Amount: decimal.RequireFromString("25000")},
		},
		DeclarationAccepted: true,
	}
}

// CompleteApplication is a DRAFT owned by applicantID whose details pass
// validation.
func CompleteApplication(id, applicantID string) domain.Application {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return domain.Application{
		ID:          id,
		ApplicantID: applicantID,
		Status:      domain.StatusDraft,
		CreatedAt:   created,
		UpdatedAt:   created,
		Details:     CompleteDetails(),
	}
}

// WithoutAttachment drops every attachment with the given ID.
func WithoutAttachment(d domain.Details, id string) domain.Details {
	out := make([]domain.Attachment, 0, len(d.Attachments))
	for _, a := range d.Attachments {
		if a.ID != id {
			out = append(out, a)
		}
	}
	d.Attachments = out
	return d
}
