package db

import (
	"errors"
	"fmt"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultProjectName names the project created on first start.
const DefaultProjectName = "Default"

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Project{},
		&models.Agent{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// EnsureProject makes sure a project with the given id exists, creating it
// with name when absent. Existing rows are left untouched.
func EnsureProject(db *gorm.DB, id uint, name string) (*models.Project, error) {
	if name == "" {
		name = DefaultProjectName
	}
	p := models.Project{ID: id, Name: name}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error; err != nil {
		return nil, fmt.Errorf("db: ensure project %d: %w", id, err)
	}
	if db.Dialector.Name() == "postgres" {
		// Explicit ids do not advance the serial sequence.
		if err := db.Exec("SELECT setval(pg_get_serial_sequence('projects', 'id'), (SELECT MAX(id) FROM projects))").Error; err != nil {
			return nil, fmt.Errorf("db: ensure project %d: reset sequence: %w", id, err)
		}
	}
	var got models.Project
	if err := db.First(&got, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("db: ensure project %d: not created", id)
		}
		return nil, fmt.Errorf("db: ensure project %d: %w", id, err)
	}
	return &got, nil
}
