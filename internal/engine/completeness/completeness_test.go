package completeness_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permitline/internal/domain"
	"permitline/internal/engine/completeness"
	"permitline/internal/testfixture"
)

func TestValidateCompleteApplication(t *testing.T) {
	v := completeness.MustNew(completeness.DefaultRules())
	app := testfixture.CompleteApplication("app-1", "oem-1")

	assert.Empty(t, v.Validate(app))
}

func TestValidateSingleGeoTaggedPhoto(t *testing.T) {
	v := completeness.MustNew(completeness.DefaultRules())
	app := testfixture.CompleteApplication("app-1", "oem-1")
	app.Details = testfixture.WithoutAttachment(app.Details, "photo-2")

	assert.Equal(t, []string{"At least 2 geo-tagged photographs are required (Field 19)"}, v.Validate(app))
}

func TestValidateRulesAreIndependent(t *testing.T) {
	v := completeness.MustNew(completeness.DefaultRules())

	tests := []struct {
		name   string
		mutate func(d *domain.Details)
		want   string
	}{
		{
			name:   "missing company profile",
			mutate: func(d *domain.Details) { d.Profile = nil },
			want:   "Company profile is required (Field 1)",
		},
		{
			name:   "no contacts",
			mutate: func(d *domain.Details) { d.Contacts = nil },
			want:   "At least one contact person is required (Field 2)",
		},
		{
			name:   "missing third turnover year",
			mutate: func(d *domain.Details) { d.Turnover.Year3 = decimal.NullDecimal{} },
			want:   "Turnover for all three financial years is required (Field 6)",
		},
		{
			name:   "no ISO certification",
			mutate: func(d *domain.Details) { d.ISO = domain.ISOCertifications{} },
			want:   "At least one ISO certification (ISO 9001, ISO 14001 or ISO 45001) is required (Field 7)",
		},
		{
			name: "no APCD type sought",
			mutate: func(d *domain.Details) {
				d.APCDSelections[0].SeekingEmpanelment = false
			},
			want: "At least one APCD type must be selected for empanelment (Field 9)",
		},
		{
			name:   "too few installations",
			mutate: func(d *domain.Details) { d.Installations = d.Installations[:2] },
			want:   "At least 3 installation experiences are required for 1 APCD type(s) (found 2) (Field 10)",
		},
		{
			name: "installations scale with APCD selections",
			mutate: func(d *domain.Details) {
				d.APCDSelections = append(d.APCDSelections, domain.APCDSelection{APCDType: "ESP", SeekingEmpanelment: true})
			},
			want: "At least 6 installation experiences are required for 2 APCD type(s) (found 3) (Field 10)",
		},
		{
			name: "too few qualified staff",
			mutate: func(d *domain.Details) {
				d.Staff[1].Qualification = "MBA"
			},
			want: "At least 2 staff members with B.Tech/M.Tech qualification are required (found 1) (Field 12)",
		},
		{
			name:   "missing mandatory document",
			mutate: func(d *domain.Details) { *d = testfixture.WithoutAttachment(*d, "doc-3") },
			want:   "Mandatory document missing: PAN Card (Field 5)",
		},
		{
			name:   "photo without GPS tag",
			mutate: func(d *domain.Details) { d.Attachments[9].HasValidGeoTag = false },
			want:   "1 geo-tagged photograph(s) missing valid GPS tag (Field 19)",
		},
		{
			name: "fee only pending",
			mutate: func(d *domain.Details) {
				d.Payments[0].Status = domain.PaymentPending
			},
			want: "Application fee payment must be completed (Field 20)",
		},
		{
			name: "only a non-fee payment settled",
			mutate: func(d *domain.Details) {
				d.Payments[0].Type = domain.PaymentEmpanelmentFee
			},
			want: "Application fee payment must be completed (Field 20)",
		},
		{
			name:   "declaration not accepted",
			mutate: func(d *domain.Details) { d.DeclarationAccepted = false },
			want:   "Declaration must be accepted (Field 21)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := testfixture.CompleteApplication("app-1", "oem-1")
			tt.mutate(&app.Details)
			assert.Equal(t, []string{tt.want}, v.Validate(app))
		})
	}
}

func TestValidateReportsEveryViolationInOrder(t *testing.T) {
	v := completeness.MustNew(completeness.DefaultRules())
	app := domain.Application{ID: "app-1", ApplicantID: "oem-1", Status: domain.StatusDraft}

	got := v.Validate(app)

	// zero APCD selections means zero installations are required
	require.Len(t, got, 17)
	assert.Equal(t, "Company profile is required (Field 1)", got[0])
	assert.Equal(t, "At least one APCD type must be selected for empanelment (Field 9)", got[4])
	assert.Equal(t, "At least 2 staff members with B.Tech/M.Tech qualification are required (found 0) (Field 12)", got[5])
	assert.Equal(t, "Mandatory document missing: Company Registration Certificate (Field 3)", got[6])
	assert.Equal(t, "Mandatory document missing: Authorization Letter for Contact Person (Field 2)", got[13])
	assert.Equal(t, "At least 2 geo-tagged photographs are required (Field 19)", got[14])
	assert.Equal(t, "Declaration must be accepted (Field 21)", got[len(got)-1])
}

func TestValidateUntaggedPhotosAggregate(t *testing.T) {
	v := completeness.MustNew(completeness.DefaultRules())
	app := testfixture.CompleteApplication("app-1", "oem-1")
	app.Attachments[8].HasValidGeoTag = false
	app.Attachments[9].HasValidGeoTag = false

	assert.Equal(t, []string{"2 geo-tagged photograph(s) missing valid GPS tag (Field 19)"}, v.Validate(app))
}

func TestQualificationMatchIsCaseInsensitive(t *testing.T) {
	v := completeness.MustNew(completeness.DefaultRules())
	app := testfixture.CompleteApplication("app-1", "oem-1")
	app.Staff = []domain.StaffMember{
		{Name: "a", Qualification: "b.tech"},
		{Name: "b", Qualification: "  M.TECH  "},
	}

	assert.Empty(t, v.Validate(app))
}

func TestCustomRules(t *testing.T) {
	rules := completeness.DefaultRules()
	rules.MandatoryDocuments = []completeness.DocumentRequirement{
		{Type: domain.DocGSTCertificate, Label: "GST"},
	}
	rules.QualificationPatterns = []string{`ph\.?d`}
	rules.QualificationLabel = "PhD"
	rules.MinQualifiedStaff = 1

	v, err := completeness.New(rules)
	require.NoError(t, err)

	app := testfixture.CompleteApplication("app-1", "oem-1")
	assert.Equal(t, []string{"At least 1 staff members with PhD qualification are required (found 0) (Field 12)"}, v.Validate(app))

	app.Staff = append(app.Staff, domain.StaffMember{Name: "Dr. N", Qualification: "PhD Chemistry"})
	assert.Empty(t, v.Validate(app))
}

func TestNewRejectsBadPattern(t *testing.T) {
	rules := completeness.DefaultRules()
	rules.QualificationPatterns = []string{"("}

	_, err := completeness.New(rules)
	assert.Error(t, err)
}

func TestValidateDoesNotMutateSnapshot(t *testing.T) {
	v := completeness.MustNew(completeness.DefaultRules())
	app := testfixture.CompleteApplication("app-1", "oem-1")
	before := testfixture.CompleteApplication("app-1", "oem-1")

	v.Validate(app)

	assert.Equal(t, before, app)
}
