// Package completeness checks whether an application snapshot is ready for
// its first submission. Every rule runs; failures are reported together.
package completeness

import (
	"fmt"
	"regexp"
	"strings"

	"permitline/internal/domain"
)

// DocumentRequirement names a mandatory attachment type and the label shown
// to applicants when it is missing.
type DocumentRequirement struct {
	Type  domain.DocumentType `yaml:"type" json:"type" validate:"required"`
	Label string              `yaml:"label" json:"label" validate:"required"`
}

// Rules is the configurable data behind the checks.
type Rules struct {
	MandatoryDocuments    []DocumentRequirement
	QualificationPatterns []string
	QualificationLabel    string
	MinQualifiedStaff     int
	InstallationsPerAPCD  int
	MinGeoTaggedPhotos    int
	GeoTaggedPhotoType    domain.DocumentType
	FeePaymentType        domain.PaymentType
}

// DefaultRules returns the stock rule set.
func DefaultRules() Rules {
	return Rules{
		MandatoryDocuments: []DocumentRequirement{
			{Type: domain.DocCompanyRegistration, Label: "Company Registration Certificate (Field 3)"},
			{Type: domain.DocGSTCertificate, Label: "GST Registration Certificate (Field 4)"},
			{Type: domain.DocPANCard, Label: "PAN Card (Field 5)"},
			{Type: domain.DocAuditedBalanceSheet, Label: "Audited Balance Sheets for the last three years (Field 6)"},
			{Type: domain.DocISOCertificate, Label: "ISO Certificate (Field 7)"},
			{Type: domain.DocProductDatasheet, Label: "Product Datasheet / Brochure (Field 9)"},
			{Type: domain.DocInstallationProof, Label: "Installation Work Orders / Completion Certificates (Field 10)"},
			{Type: domain.DocAuthorizationLetter, Label: "Authorization Letter for Contact Person (Field 2)"},
		},
		QualificationPatterns: []string{`b\.tech`, `m\.tech`},
		QualificationLabel:    "B.Tech/M.Tech",
		MinQualifiedStaff:     2,
		InstallationsPerAPCD:  3,
		MinGeoTaggedPhotos:    2,
		GeoTaggedPhotoType:    domain.DocGeoTaggedPhoto,
		FeePaymentType:        domain.PaymentApplicationFee,
	}
}

// Validator evaluates Rules against snapshots. It holds no mutable state.
type Validator struct {
	rules          Rules
	qualifications []*regexp.Regexp
}

// New compiles rules into a Validator.
func New(rules Rules) (*Validator, error) {
	v := &Validator{rules: rules}
	v.rules.MandatoryDocuments = append([]DocumentRequirement(nil), rules.MandatoryDocuments...)
	for _, p := range rules.QualificationPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("qualification pattern %q: %w", p, err)
		}
		v.qualifications = append(v.qualifications, re)
	}
	if v.rules.QualificationLabel == "" {
		v.rules.QualificationLabel = "an engineering"
	}
	return v, nil
}

// MustNew is New for rule sets known to be valid.
func MustNew(rules Rules) *Validator {
	v, err := New(rules)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *Validator) Rules() Rules {
	r := v.rules
	r.MandatoryDocuments = append([]DocumentRequirement(nil), v.rules.MandatoryDocuments...)
	return r
}

// Validate returns every violated rule, in evaluation order. An empty result
// means the application may be submitted.
func (v *Validator) Validate(app domain.Application) []string {
	var out []string
	add := func(format string, args ...any) {
		out = append(out, fmt.Sprintf(format, args...))
	}

	if app.Profile == nil {
		add("Company profile is required (Field 1)")
	}
	if len(app.Contacts) == 0 {
		add("At least one contact person is required (Field 2)")
	}
	if !app.Turnover.Complete() {
		add("Turnover for all three financial years is required (Field 6)")
	}
	if !app.ISO.Any() {
		add("At least one ISO certification (ISO 9001, ISO 14001 or ISO 45001) is required (Field 7)")
	}

	seeking := 0
	for _, sel := range app.APCDSelections {
		if sel.SeekingEmpanelment {
			seeking++
		}
	}
	if seeking == 0 {
		add("At least one APCD type must be selected for empanelment (Field 9)")
	}
	if required := v.rules.InstallationsPerAPCD * seeking; len(app.Installations) < required {
		add("At least %d installation experiences are required for %d APCD type(s) (found %d) (Field 10)",
			required, seeking, len(app.Installations))
	}

	if qualified := v.qualifiedStaff(app.Staff); qualified < v.rules.MinQualifiedStaff {
		add("At least %d staff members with %s qualification are required (found %d) (Field 12)",
			v.rules.MinQualifiedStaff, v.rules.QualificationLabel, qualified)
	}

	present := map[domain.DocumentType]bool{}
	for _, a := range app.Attachments {
		present[a.DocumentType] = true
	}
	for _, req := range v.rules.MandatoryDocuments {
		if !present[req.Type] {
			add("Mandatory document missing: %s", req.Label)
		}
	}

	photos, untagged := 0, 0
	for _, a := range app.Attachments {
		if a.DocumentType != v.rules.GeoTaggedPhotoType {
			continue
		}
		photos++
		if !a.HasValidGeoTag {
			untagged++
		}
	}
	if photos < v.rules.MinGeoTaggedPhotos {
		add("At least %d geo-tagged photographs are required (Field 19)", v.rules.MinGeoTaggedPhotos)
	}
	if untagged > 0 {
		add("%d geo-tagged photograph(s) missing valid GPS tag (Field 19)", untagged)
	}

	if !v.feePaid(app.Payments) {
		add("Application fee payment must be completed (Field 20)")
	}
	if !app.DeclarationAccepted {
		add("Declaration must be accepted (Field 21)")
	}
	return out
}

func (v *Validator) qualifiedStaff(staff []domain.StaffMember) int {
	n := 0
	for _, s := range staff {
		q := strings.TrimSpace(s.Qualification)
		for _, re := range v.qualifications {
			if re.MatchString(q) {
				n++
				break
			}
		}
	}
	return n
}

func (v *Validator) feePaid(payments []domain.Payment) bool {
	for _, p := range payments {
		if p.Type == v.rules.FeePaymentType && p.Status.Settled() {
			return true
		}
	}
	return false
}
