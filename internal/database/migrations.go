package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkline-hq/inkline/backend/internal/documents"
)

const migrationBackfillVersionHashes = "2026-03-01_backfill_version_hashes"

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
		{name: migrationBackfillVersionHashes, apply: backfillVersionHashes},
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

// backfillVersionHashes computes content hashes for version rows written
// before hashing existed. Idempotent edit detection needs every row hashed.
func backfillVersionHashes(db *gorm.DB) error {
	var versions []documents.Version
	if err := db.Where("hash = ''").Find(&versions).Error; err != nil {
		return err
	}
	for _, version := range versions {
		hash := documents.ContentHash(documents.Content{HTML: version.HTML, Text: version.Text})
		if err := db.Model(&documents.Version{}).
			Where("version_id = ?", version.VersionID).
			Update("hash", hash).Error; err != nil {
			return err
		}
	}
	return nil
}
