package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const DefaultImageWidth = 200

// AirtableConfig identifies the table a template reads records from. The
// three values are required together; a template either has all of them or
// none.
type AirtableConfig struct {
	APIKey    string `json:"api_key"`
	BaseID    string `json:"base_id"`
	TableName string `json:"table_name"`
}

func (c *AirtableConfig) IsZero() bool {
	return c == nil || (strings.TrimSpace(c.APIKey) == "" &&
		strings.TrimSpace(c.BaseID) == "" &&
		strings.TrimSpace(c.TableName) == "")
}

func (c *AirtableConfig) IsComplete() bool {
	return c != nil && c.missing() == nil
}

// Validate reports every missing key as a configuration error.
func (c *AirtableConfig) Validate() error {
	if c == nil {
		c = &AirtableConfig{}
	}
	if missing := c.missing(); len(missing) > 0 {
		return NewConfigurationError(missing...)
	}
	return nil
}

func (c *AirtableConfig) missing() []FieldError {
	var errs []FieldError
	if strings.TrimSpace(c.APIKey) == "" {
		errs = append(errs, FieldError{Field: "api_key", Message: "API key is required"})
	}
	if strings.TrimSpace(c.BaseID) == "" {
		errs = append(errs, FieldError{Field: "base_id", Message: "base ID is required"})
	}
	if strings.TrimSpace(c.TableName) == "" {
		errs = append(errs, FieldError{Field: "table_name", Message: "table name is required"})
	}
	return errs
}

type TemplateSettings struct {
	ImageWidth      int  `gorm:"default:200" json:"image_width"`
	EnableLineItems bool `json:"enable_line_items"`
}

type Template struct {
	ID             string           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name           string           `gorm:"type:varchar(255);not null;index" json:"name"`
	Description    string           `gorm:"type:text" json:"description"`
	AirtableConfig *AirtableConfig  `gorm:"-" json:"airtable_config,omitempty"`
	SealedConfig   string           `gorm:"column:airtable_config;type:text" json:"-"`
	GoogleDocURL   string           `gorm:"type:text" json:"google_doc_url"`
	Settings       TemplateSettings `gorm:"embedded;embeddedPrefix:setting_" json:"settings"`
	FieldMappings  []FieldMapping   `gorm:"foreignKey:TemplateID" json:"field_mappings"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (Template) TableName() string {
	return "templates"
}

// FieldMapping ties one document placeholder to one Airtable field. Within
// a template the placeholder is the identity.
type FieldMapping struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"-"`
	TemplateID     string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_field_mappings_placeholder,priority:1" json:"template_id,omitempty"`
	Position       int       `gorm:"not null;default:0" json:"position"`
	DocPlaceholder string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_field_mappings_placeholder,priority:2" json:"doc_placeholder"`
	TargetField    string    `gorm:"type:varchar(255)" json:"target_field"`
	FieldType      FieldType `gorm:"type:varchar(32);not null;default:'text'" json:"field_type"`
	IsLineItem     bool      `json:"is_line_item"`
}

func (FieldMapping) TableName() string {
	return "field_mappings"
}

func (m FieldMapping) IsMapped() bool {
	return strings.TrimSpace(m.TargetField) != ""
}

// TemplateStage is how far a template has progressed through the wizard.
type TemplateStage string

const (
	StageDraft          TemplateStage = "draft"
	StageConnected      TemplateStage = "connected"
	StageDocumentLinked TemplateStage = "document_linked"
	StageMapped         TemplateStage = "mapped"
	StageSaved          TemplateStage = "saved"
)

// Stage is a read-only view of how far the current data gets through the
// wizard. It is not stored and never drives an edit: a template whose
// document link is cleared still holds its mappings, and Stage only
// reports what the fields now contain.
func (t *Template) Stage() TemplateStage {
	switch {
	case !t.AirtableConfig.IsComplete():
		return StageDraft
	case strings.TrimSpace(t.GoogleDocURL) == "":
		return StageConnected
	case !t.HasMappedField():
		return StageDocumentLinked
	case t.ID == "" || strings.TrimSpace(t.Name) == "":
		return StageMapped
	default:
		return StageSaved
	}
}

func (t *Template) HasMappedField() bool {
	for _, m := range t.FieldMappings {
		if m.IsMapped() {
			return true
		}
	}
	return false
}

func (t *Template) Mapping(placeholder string) (FieldMapping, bool) {
	for _, m := range t.FieldMappings {
		if m.DocPlaceholder == placeholder {
			return m, true
		}
	}
	return FieldMapping{}, false
}

// ValidateConnection guards the connected boundary.
func (t *Template) ValidateConnection() error {
	return t.AirtableConfig.Validate()
}

// ValidateStep checks the data a wizard step needs before the wizard may
// advance past it.
func (t *Template) ValidateStep(step int) error {
	switch step {
	case 1:
		return t.ValidateConnection()
	case 2:
		return ValidateGoogleDocURL(t.GoogleDocURL)
	case 3:
		if len(t.FieldMappings) == 0 {
			return NewValidationError("field_mappings", "at least one field mapping is required")
		}
		return validateMappings(t.FieldMappings)
	case 4:
		if strings.TrimSpace(t.Name) == "" {
			return NewValidationError("name", "template name is required")
		}
		return nil
	default:
		return NewValidationError("step", fmt.Sprintf("unknown wizard step %d", step))
	}
}

// ValidateForSave guards the saved boundary: a name is required, a partial
// data-source config is rejected, everything else may be empty.
func (t *Template) ValidateForSave() error {
	if !t.AirtableConfig.IsZero() {
		if err := t.AirtableConfig.Validate(); err != nil {
			return err
		}
	}

	var errs []FieldError
	if strings.TrimSpace(t.Name) == "" {
		errs = append(errs, FieldError{Field: "name", Message: "template name is required"})
	}
	if t.Settings.ImageWidth < 0 {
		errs = append(errs, FieldError{Field: "settings.image_width", Message: "must be a positive integer"})
	}
	if err := validateMappings(t.FieldMappings); err != nil {
		if ve, ok := err.(*ValidationError); ok {
			errs = append(errs, ve.Errors...)
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Kind: ErrValidation, Errors: errs}
	}
	return nil
}

// CheckReady reports why the template cannot generate documents yet.
func (t *Template) CheckReady() error {
	var errs []FieldError
	if !t.AirtableConfig.IsComplete() {
		errs = append(errs, FieldError{Field: "airtable_config", Message: "data source is not configured"})
	}
	if strings.TrimSpace(t.GoogleDocURL) == "" {
		errs = append(errs, FieldError{Field: "google_doc_url", Message: "template document is not linked"})
	}
	if !t.HasMappedField() {
		errs = append(errs, FieldError{Field: "field_mappings", Message: "no placeholder is mapped to a field"})
	}
	if len(errs) > 0 {
		return &ValidationError{Kind: ErrValidation, Errors: errs}
	}
	return nil
}

func (t *Template) ReadyToGenerate() bool {
	return t.CheckReady() == nil
}

// Normalize trims input, applies defaults and numbers the mappings in the
// order given.
func (t *Template) Normalize() {
	t.Name = strings.TrimSpace(t.Name)
	t.Description = strings.TrimSpace(t.Description)
	t.GoogleDocURL = strings.TrimSpace(t.GoogleDocURL)
	if t.AirtableConfig.IsZero() {
		t.AirtableConfig = nil
	} else {
		t.AirtableConfig.APIKey = strings.TrimSpace(t.AirtableConfig.APIKey)
		t.AirtableConfig.BaseID = strings.TrimSpace(t.AirtableConfig.BaseID)
		t.AirtableConfig.TableName = strings.TrimSpace(t.AirtableConfig.TableName)
	}
	if t.Settings.ImageWidth == 0 {
		t.Settings.ImageWidth = DefaultImageWidth
	}
	NormalizeMappings(t.FieldMappings)
}

// NormalizeMappings numbers mappings in the order given and defaults
// unknown field types to text.
func NormalizeMappings(mappings []FieldMapping) {
	for i := range mappings {
		mappings[i].Position = i
		mappings[i].DocPlaceholder = strings.TrimSpace(mappings[i].DocPlaceholder)
		mappings[i].TargetField = strings.TrimSpace(mappings[i].TargetField)
		if !mappings[i].FieldType.IsValid() {
			mappings[i].FieldType = FieldTypeText
		}
	}
}

// ValidateMappings rejects empty and duplicate placeholders.
func ValidateMappings(mappings []FieldMapping) error {
	return validateMappings(mappings)
}

func validateMappings(mappings []FieldMapping) error {
	var errs []FieldError
	seen := make(map[string]bool, len(mappings))
	for i, m := range mappings {
		field := fmt.Sprintf("field_mappings[%d].doc_placeholder", i)
		if strings.TrimSpace(m.DocPlaceholder) == "" {
			errs = append(errs, FieldError{Field: field, Message: "placeholder is required"})
			continue
		}
		if seen[m.DocPlaceholder] {
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("duplicate placeholder %s", m.DocPlaceholder)})
		}
		seen[m.DocPlaceholder] = true
	}
	if len(errs) > 0 {
		return &ValidationError{Kind: ErrValidation, Errors: errs}
	}
	return nil
}

// ValidateGoogleDocURL accepts absolute URLs pointing at docs.google.com.
func ValidateGoogleDocURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return NewValidationError("google_doc_url", "Google Docs URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" || !strings.Contains(raw, "docs.google.com") {
		return NewValidationError("google_doc_url", "must be a valid Google Docs link")
	}
	return nil
}
