package models

import (
	"time"
)

// GroupBinding ties a WhatsApp group to the user that owns its blacklist.
// Only bindings with a group JID are scanned.
type GroupBinding struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	OwnerUserID string    `json:"owner_user_id" gorm:"size:64;not null;index"`
	GroupJID    string    `json:"group_jid" gorm:"column:group_jid;size:100;uniqueIndex"`
	Name        string    `json:"name" gorm:"size:255"`
	Active      bool      `json:"active" gorm:"default:true"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for GroupBinding
func (GroupBinding) TableName() string {
	return "group_bindings"
}
