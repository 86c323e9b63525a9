package models

import "time"

// AuditLog is the system-wide compliance log. Writes are best effort.
type AuditLog struct {
	ID           uint      `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	UserID       string    `gorm:"size:64;index;column:user_id" json:"user_id"`
	Actor        string    `gorm:"size:64;column:actor" json:"actor"`
	Action       string    `gorm:"size:48;not null;column:action" json:"action"`
	ResourceType string    `gorm:"size:32;column:resource_type" json:"resource_type"`
	ResourceID   string    `gorm:"size:64;column:resource_id" json:"resource_id"`
	Outcome      string    `gorm:"size:32;column:outcome" json:"outcome"`
	Detail       string    `gorm:"type:text;column:detail" json:"detail,omitempty"`
	RequestID    string    `gorm:"size:64;column:request_id" json:"request_id,omitempty"`
	CreatedAt    time.Time `gorm:"index;column:created_at" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "kyc_audit_logs"
}

// AllModels lists the tables managed by AutoMigrate on non-postgres dialects.
func AllModels() []any {
	return []any{&DocumentCategory{}, &Document{}, &DocumentEvent{}, &AuditLog{}}
}
