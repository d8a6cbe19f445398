package models

import (
	"time"
)

// BlacklistEntry is one phone number an owner wants kept out of their groups.
type BlacklistEntry struct {
	ID              uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	OwnerUserID     string    `json:"owner_user_id" gorm:"size:64;not null;index;uniqueIndex:idx_blacklist_owner_phone"`
	RawPhone        string    `json:"raw_phone" gorm:"size:50;not null"`
	NormalizedPhone string    `json:"normalized_phone" gorm:"size:32;index;uniqueIndex:idx_blacklist_owner_phone"`
	Reason          string    `json:"reason,omitempty" gorm:"size:500"`
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for BlacklistEntry
func (BlacklistEntry) TableName() string {
	return "blacklist_entries"
}

// BlacklistRequest is the body accepted when adding a number.
type BlacklistRequest struct {
	Phone  string `json:"phone"`
	Reason string `json:"reason"`
}
