package store

import (
	"context"
	"time"

	"wa_guard/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StateStore upserts one row per actor role.
type StateStore struct {
	db *gorm.DB
}

func NewStateStore(db *gorm.DB) *StateStore {
	return &StateStore{db: db}
}

// Record writes the actor's current state. Each actor owns its own role key.
func (s *StateStore) Record(ctx context.Context, state models.ActorState) error {
	state.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "role"}},
		UpdateAll: true,
	}).Create(&state).Error
}

// Load reads one actor row. Only used at cold start and by observers.
func (s *StateStore) Load(ctx context.Context, role string) (*models.ActorState, error) {
	var state models.ActorState
	if err := s.db.WithContext(ctx).Where("role = ?", role).First(&state).Error; err != nil {
		return nil, translate(err)
	}
	return &state, nil
}

// List returns every actor row ordered by role.
func (s *StateStore) List(ctx context.Context) ([]models.ActorState, error) {
	var states []models.ActorState
	if err := s.db.WithContext(ctx).Order("role").Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}
