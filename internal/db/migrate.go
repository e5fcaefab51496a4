package db

import (
	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Match{},
		&models.Participant{},
		&models.PlatformFill{},
		&models.AttributedFill{},
		&models.SymbolFlow{},
		&models.Violation{},
		&models.Payout{},
	)
}
