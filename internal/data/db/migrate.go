package db

import (
	"fmt"

	"github.com/subgate-microservice/subgate-sub000/internal/data/repos"
	"gorm.io/gorm"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(repos.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
