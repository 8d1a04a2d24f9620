// Package sqlite implements the repository ports against a SQLite database
// via gorm: pure-Go driver (glebarez/sqlite, no cgo), open-then-AutoMigrate
// shape.
package sqlite

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens (and creates, if absent) the SQLite database at path and
// auto-migrates every table this package owns.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	if err := db.AutoMigrate(
		&jobRow{},
		&robotRow{},
		&workflowRow{},
		&scheduleRow{},
		&triggerRow{},
		&assignmentRow{},
		&overrideRow{},
		&auditRow{},
	); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return db, nil
}
