package models

import (
	"fmt"
	"strings"
	"time"
)

type GenerationStatus string

const (
	GenerationPending   GenerationStatus = "pending"
	GenerationCompleted GenerationStatus = "completed"
	GenerationFailed    GenerationStatus = "failed"
)

var generationTransitions = map[GenerationStatus][]GenerationStatus{
	GenerationPending: {GenerationCompleted, GenerationFailed},
}

func (s GenerationStatus) IsValid() bool {
	switch s {
	case GenerationPending, GenerationCompleted, GenerationFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status can no longer change.
func (s GenerationStatus) IsTerminal() bool {
	return s == GenerationCompleted || s == GenerationFailed
}

func (s GenerationStatus) CanTransition(to GenerationStatus) bool {
	for _, next := range generationTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Generation records one attempt to render a template against one record.
// It keeps a snapshot of the template name and has no foreign key to the
// template, so deleting a template leaves its history intact.
type Generation struct {
	ID           string           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TemplateID   string           `gorm:"type:varchar(36);not null;index" json:"template_id"`
	TemplateName string           `gorm:"type:varchar(255)" json:"template_name"`
	RecordID     string           `gorm:"type:varchar(64);not null" json:"record_id"`
	Status       GenerationStatus `gorm:"type:varchar(16);not null;index;default:'pending'" json:"status"`
	PDFURL       string           `gorm:"column:pdf_url;type:text" json:"pdf_url,omitempty"`
	Filename     string           `gorm:"type:varchar(512)" json:"filename,omitempty"`
	Size         int64            `json:"size,omitempty"`
	Pages        int              `json:"pages,omitempty"`
	ErrorMessage string           `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func (Generation) TableName() string {
	return "generations"
}

// GenerationOutcome carries the data written alongside a status change.
type GenerationOutcome struct {
	PDFURL       string `json:"pdf_url"`
	Filename     string `json:"filename"`
	Size         int64  `json:"size"`
	Pages        int    `json:"pages"`
	ErrorMessage string `json:"error_message"`
}

// CheckTransition validates a status change from the current status and
// normalises the outcome: completed needs an artifact, failed clears it.
func CheckTransition(from, to GenerationStatus, outcome *GenerationOutcome) error {
	if !to.IsValid() {
		return NewValidationError("status", fmt.Sprintf("unknown status %q", to))
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	switch to {
	case GenerationCompleted:
		if strings.TrimSpace(outcome.PDFURL) == "" {
			return NewValidationError("pdf_url", "a completed generation needs an artifact reference")
		}
		outcome.ErrorMessage = ""
	case GenerationFailed:
		outcome.PDFURL = ""
		outcome.Filename = ""
		outcome.Size = 0
		outcome.Pages = 0
	}
	return nil
}

// GenerationFilter narrows a history listing. Zero values mean no filter.
type GenerationFilter struct {
	Status     GenerationStatus
	TemplateID string
	Limit      int
	Offset     int
}
