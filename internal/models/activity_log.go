package models

import (
	"time"

	"gorm.io/gorm"
)

// ActivityLog is one API request as seen by the request-logging middleware.
type ActivityLog struct {
	ID           string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Method       string         `gorm:"type:varchar(10);not null;index" json:"method"`
	Path         string         `gorm:"type:varchar(255);not null" json:"path"`
	TemplateID   string         `gorm:"type:varchar(36);index" json:"template_id,omitempty"`
	UserAgent    string         `gorm:"type:text" json:"user_agent"`
	IPAddress    string         `gorm:"type:varchar(45)" json:"ip_address"`
	RequestBody  string         `gorm:"type:text" json:"request_body,omitempty"`
	QueryParams  string         `gorm:"type:text" json:"query_params,omitempty"`
	StatusCode   int            `gorm:"not null" json:"status_code"`
	ResponseTime int64          `gorm:"not null" json:"response_time"` // milliseconds
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (ActivityLog) TableName() string {
	return "activity_logs"
}

// ActivityLogFilter selects log entries. Method matches exactly, Path is a
// substring match.
type ActivityLogFilter struct {
	Method string
	Path   string
	Limit  int
	Offset int
}

type ActivityLogStats struct {
	TotalRequests int64          `json:"total_requests"`
	Methods       map[string]int `json:"methods"`
	Paths         map[string]int `json:"paths"`
	StatusCodes   map[int]int    `json:"status_codes"`
}
