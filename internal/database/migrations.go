package database

import (
	"fmt"

	"wa_guard/internal/models"

	"gorm.io/gorm"
)

// BackfillNormalizedPhones fills normalized_phone for blacklist rows written
// before the column existed (or by tools that skip normalization).
func BackfillNormalizedPhones(db *gorm.DB, normalize func(string) string) (int, error) {
	if !db.Migrator().HasColumn(&models.BlacklistEntry{}, "NormalizedPhone") {
		return 0, fmt.Errorf("blacklist_entries.normalized_phone is missing, run Migrate first")
	}

	var pending []models.BlacklistEntry
	if err := db.Where("normalized_phone IS NULL OR normalized_phone = ''").Find(&pending).Error; err != nil {
		return 0, fmt.Errorf("failed to load rows to backfill: %w", err)
	}

	updated := 0
	for _, entry := range pending {
		normalized := normalize(entry.RawPhone)
		if normalized == "" {
			continue
		}
		if err := db.Model(&models.BlacklistEntry{}).
			Where("id = ?", entry.ID).
			Update("normalized_phone", normalized).Error; err != nil {
			return updated, fmt.Errorf("failed to backfill blacklist entry %d: %w", entry.ID, err)
		}
		updated++
	}
	return updated, nil
}
