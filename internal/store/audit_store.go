package store

import (
	"context"
	"time"

	"wa_guard/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditStore is the append-only eviction log.
type AuditStore struct {
	db *gorm.DB
}

func NewAuditStore(db *gorm.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Append stores one event, assigning an id and timestamp when missing.
func (s *AuditStore) Append(ctx context.Context, event models.AuditEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(&event).Error
}

// ListByOwner returns the owner's most recent events first.
func (s *AuditStore) ListByOwner(ctx context.Context, ownerUserID string, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []models.AuditEvent
	err := s.db.WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
