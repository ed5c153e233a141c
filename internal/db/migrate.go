package db

import (
	"fmt"

	"github.com/zulandar/junction/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Session{},
		&models.Task{},
		&models.Result{},
		&models.IntegrationReport{},
		&models.ArchivedTask{},
		&models.ArchivedResult{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
