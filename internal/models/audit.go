package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audited actions
const (
	ActionStowIngest = "stow.ingest"
	ActionStowClient = "client.stow"
	ActionRetrieve   = "client.retrieve"
)

// Audit statuses
const (
	AuditSuccess = "success"
	AuditFailure = "failure"
)

// AuditLog represents an audit log entry
type AuditLog struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Action       string    `gorm:"type:varchar(100);not null;index" json:"action"`
	Server       string    `gorm:"type:varchar(255);index" json:"server,omitempty"`
	ResourceUID  string    `gorm:"type:varchar(255);index" json:"resource_uid"`
	Instances    int       `json:"instances"`
	IPAddress    string    `gorm:"type:varchar(45)" json:"ip_address"`
	UserAgent    string    `gorm:"type:text" json:"user_agent"`
	Status       string    `gorm:"type:varchar(20);index" json:"status"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	Duration     int64     `json:"duration_ms"`
	CreatedAt    time.Time `gorm:"index" json:"timestamp"`
}

// TableName overrides the table name
func (AuditLog) TableName() string {
	return "audit_logs"
}

// BeforeCreate hook
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
