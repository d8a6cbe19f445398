package store

import (
	"context"
	"fmt"

	"wa_guard/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BlacklistStore is the authoritative owner-scoped blacklist.
type BlacklistStore struct {
	db        *gorm.DB
	normalize func(string) string
}

// NewBlacklistStore creates a store that normalizes phones with normalize.
func NewBlacklistStore(db *gorm.DB, normalize func(string) string) *BlacklistStore {
	return &BlacklistStore{db: db, normalize: normalize}
}

// ListBlacklist returns every entry owned by ownerUserID.
func (s *BlacklistStore) ListBlacklist(ctx context.Context, ownerUserID string) ([]models.BlacklistEntry, error) {
	var entries []models.BlacklistEntry
	if err := s.db.WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("id").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list blacklist for %s: %w", ownerUserID, err)
	}
	return entries, nil
}

// Add inserts a number, or refreshes the reason of an existing entry for the same person.
func (s *BlacklistStore) Add(ctx context.Context, ownerUserID, rawPhone, reason string) (*models.BlacklistEntry, error) {
	normalized := s.normalize(rawPhone)
	if normalized == "" {
		return nil, fmt.Errorf("phone %q has no digits", rawPhone)
	}

	entry := models.BlacklistEntry{
		OwnerUserID:     ownerUserID,
		RawPhone:        rawPhone,
		NormalizedPhone: normalized,
		Reason:          reason,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_user_id"}, {Name: "normalized_phone"}},
		DoUpdates: clause.AssignmentColumns([]string{"raw_phone", "reason"}),
	}).Create(&entry).Error
	if err != nil {
		return nil, fmt.Errorf("failed to add blacklist entry: %w", err)
	}
	return &entry, nil
}

// Remove deletes the entry matching rawPhone after normalization.
func (s *BlacklistStore) Remove(ctx context.Context, ownerUserID, rawPhone string) error {
	res := s.db.WithContext(ctx).
		Where("owner_user_id = ? AND normalized_phone = ?", ownerUserID, s.normalize(rawPhone)).
		Delete(&models.BlacklistEntry{})
	if res.Error != nil {
		return fmt.Errorf("failed to remove blacklist entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
