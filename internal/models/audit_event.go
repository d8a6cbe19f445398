package models

import (
	"time"
)

// ReasonBlacklist is the only eviction reason the scanner records.
const ReasonBlacklist = "blacklist"

// AuditEvent records one eviction for display to the owning user.
type AuditEvent struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	EventID     string    `json:"event_id" gorm:"size:36;uniqueIndex;not null"`
	OwnerUserID string    `json:"owner_user_id" gorm:"size:64;index"`
	GroupID     string    `json:"group_id" gorm:"size:100;index;not null"`
	Phone       string    `json:"phone" gorm:"size:50;not null"`
	Reason      string    `json:"reason" gorm:"size:32;not null"`
	NoticeSent  bool      `json:"notice_sent"`
	CreatedAt   time.Time `json:"timestamp" gorm:"index"`
}

// TableName specifies the table name for AuditEvent
func (AuditEvent) TableName() string {
	return "audit_events"
}
