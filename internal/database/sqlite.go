package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkline-hq/inkline/backend/internal/access"
	"github.com/inkline-hq/inkline/backend/internal/audit"
	"github.com/inkline-hq/inkline/backend/internal/documents"
	"github.com/inkline-hq/inkline/backend/internal/identity"
	"github.com/inkline-hq/inkline/backend/internal/sharing"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&documents.Document{},
		&documents.Version{},
		&access.Grant{},
		&sharing.ShareLink{},
		&sharing.QRLink{},
		&audit.Event{},
		&identity.Actor{},
		&identity.Group{},
		&identity.Membership{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
