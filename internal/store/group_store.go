package store

import (
	"context"
	"fmt"

	"wa_guard/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GroupStore holds the groups that are enforced, and who owns each.
type GroupStore struct {
	db *gorm.DB
}

func NewGroupStore(db *gorm.DB) *GroupStore {
	return &GroupStore{db: db}
}

// ListActive returns bindings that are active and carry a group identifier.
func (s *GroupStore) ListActive(ctx context.Context) ([]models.GroupBinding, error) {
	var bindings []models.GroupBinding
	if err := s.db.WithContext(ctx).
		Where("active = ? AND group_jid <> ''", true).
		Order("id").
		Find(&bindings).Error; err != nil {
		return nil, fmt.Errorf("failed to list group bindings: %w", err)
	}
	return bindings, nil
}

// ListByOwner returns every binding of one owner, active or not.
func (s *GroupStore) ListByOwner(ctx context.Context, ownerUserID string) ([]models.GroupBinding, error) {
	var bindings []models.GroupBinding
	if err := s.db.WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("id").
		Find(&bindings).Error; err != nil {
		return nil, fmt.Errorf("failed to list group bindings for %s: %w", ownerUserID, err)
	}
	return bindings, nil
}

// Bind registers (or re-activates) a group for an owner.
func (s *GroupStore) Bind(ctx context.Context, binding models.GroupBinding) error {
	binding.Active = true
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_jid"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner_user_id", "name", "active", "updated_at"}),
	}).Create(&binding).Error
}

// Unbind stops enforcement on a group without deleting its history.
func (s *GroupStore) Unbind(ctx context.Context, ownerUserID, groupJID string) error {
	res := s.db.WithContext(ctx).
		Model(&models.GroupBinding{}).
		Where("owner_user_id = ? AND group_jid = ?", ownerUserID, groupJID).
		Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
