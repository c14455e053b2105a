package database

import (
	"errors"
	"strings"
	"time"

	"github.com/reelnotes/reelnotes/internal/videostore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeTagNames = "2026-08-10_normalize_tag_names"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeTagNames, apply: normalizeTagNames},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeTagNames lowercases pre-existing tag rows, folding duplicates that
// differ only in case into the lowercase row.
func normalizeTagNames(db *gorm.DB) error {
	var tags []videostore.TagRecord
	if err := db.Find(&tags).Error; err != nil {
		return err
	}

	canonical := make(map[string]int64, len(tags))
	for _, tag := range tags {
		lowered := strings.ToLower(strings.TrimSpace(tag.Name))
		if lowered == tag.Name {
			canonical[lowered] = tag.ID
		}
	}

	for _, tag := range tags {
		lowered := strings.ToLower(strings.TrimSpace(tag.Name))
		if lowered == tag.Name {
			continue
		}
		if keepID, ok := canonical[lowered]; ok {
			// Drop links that would collide with an existing link to the
			// surviving row before repointing the rest.
			if err := db.
				Where("tag_id = ? AND video_id IN (?)", tag.ID,
					db.Model(&videostore.VideoTagRecord{}).Select("video_id").Where("tag_id = ?", keepID)).
				Delete(&videostore.VideoTagRecord{}).Error; err != nil {
				return err
			}
			if err := db.Model(&videostore.VideoTagRecord{}).
				Where("tag_id = ?", tag.ID).
				Update("tag_id", keepID).Error; err != nil {
				return err
			}
			if err := db.Delete(&videostore.TagRecord{}, tag.ID).Error; err != nil {
				return err
			}
			continue
		}
		if err := db.Model(&videostore.TagRecord{}).
			Where("id = ?", tag.ID).
			Update("name", lowered).Error; err != nil {
			return err
		}
		canonical[lowered] = tag.ID
	}
	return nil
}
