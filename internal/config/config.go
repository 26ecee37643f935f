package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"permitline/internal/domain"
	"permitline/internal/engine/completeness"
)

// Config models permitline.yml.
type Config struct {
	Completeness CompletenessConfig `yaml:"completeness"`
	Workflow     WorkflowConfig     `yaml:"workflow"`
	Webhooks     []WebhookConfig    `yaml:"webhooks,omitempty" validate:"dive"`
}

type CompletenessConfig struct {
	MandatoryDocuments    []completeness.DocumentRequirement `yaml:"mandatory_documents" validate:"required,min=1,dive"`
	QualificationPatterns []string                           `yaml:"qualification_patterns" validate:"required,min=1,dive,required"`
	QualificationLabel    string                             `yaml:"qualification_label" validate:"required"`
	MinQualifiedStaff     int                                `yaml:"min_qualified_staff" validate:"gte=0"`
	InstallationsPerAPCD  int                                `yaml:"installations_per_apcd" validate:"gte=0"`
	MinGeoTaggedPhotos    int                                `yaml:"min_geo_tagged_photos" validate:"gte=0"`
	GeoTaggedPhotoType    domain.DocumentType                `yaml:"geo_tagged_photo_type" validate:"required"`
	FeePaymentType        domain.PaymentType                 `yaml:"fee_payment_type" validate:"required"`
}

type WorkflowConfig struct {
	// RevalidateOnResubmit defaults to true when omitted.
	RevalidateOnResubmit *bool `yaml:"revalidate_on_resubmit,omitempty"`
}

type WebhookConfig struct {
	Name           string   `yaml:"name,omitempty"`
	URL            string   `yaml:"url" validate:"required,url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" validate:"gte=0"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

var validate = validator.New()

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := map[domain.DocumentType]bool{}
	for _, doc := range c.Completeness.MandatoryDocuments {
		if seen[doc.Type] {
			return fmt.Errorf("completeness.mandatory_documents lists %s twice", doc.Type)
		}
		seen[doc.Type] = true
	}
	if _, err := completeness.New(c.Rules()); err != nil {
		return fmt.Errorf("completeness: %w", err)
	}
	for _, hook := range c.Webhooks {
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("webhook %s has empty event type", hook.URL)
			}
		}
	}
	return nil
}

// Rules converts the completeness section into validator rules.
func (c *Config) Rules() completeness.Rules {
	cc := c.Completeness
	return completeness.Rules{
		MandatoryDocuments:    append([]completeness.DocumentRequirement(nil), cc.MandatoryDocuments...),
		QualificationPatterns: append([]string(nil), cc.QualificationPatterns...),
		QualificationLabel:    cc.QualificationLabel,
		MinQualifiedStaff:     cc.MinQualifiedStaff,
		InstallationsPerAPCD:  cc.InstallationsPerAPCD,
		MinGeoTaggedPhotos:    cc.MinGeoTaggedPhotos,
		GeoTaggedPhotoType:    cc.GeoTaggedPhotoType,
		FeePaymentType:        cc.FeePaymentType,
	}
}

func (c *Config) RevalidateOnResubmit() bool {
	if c.Workflow.RevalidateOnResubmit == nil {
		return true
	}
	return *c.Workflow.RevalidateOnResubmit
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "permitline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with permitline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Sections left
// out of the document keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Webhooks = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

const defaultTemplate = `completeness:
  mandatory_documents:
    - type: COMPANY_REGISTRATION
      label: "Company Registration Certificate (Field 3)"
    - type: GST_CERTIFICATE
      label: "GST Registration Certificate (Field 4)"
    - type: PAN_CARD
      label: "PAN Card (Field 5)"
    - type: AUDITED_BALANCE_SHEET
      label: "Audited Balance Sheets for the last three years (Field 6)"
    - type: ISO_CERTIFICATE
      label: "ISO Certificate (Field 7)"
    - type: PRODUCT_DATASHEET
      label: "Product Datasheet / Brochure (Field 9)"
    - type: INSTALLATION_PROOF
      label: "Installation Work Orders / Completion Certificates (Field 10)"
    - type: AUTHORIZATION_LETTER
      label: "Authorization Letter for Contact Person (Field 2)"
  qualification_patterns: ['b\.tech', 'm\.tech']
  qualification_label: "B.Tech/M.Tech"
  min_qualified_staff: 2
  installations_per_apcd: 3
  min_geo_tagged_photos: 2
  geo_tagged_photo_type: GEO_TAGGED_PHOTO
  fee_payment_type: APPLICATION_FEE

workflow:
  revalidate_on_resubmit: true
`
