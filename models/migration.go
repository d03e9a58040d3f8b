package models

import (
	"gorm.io/gorm"
)

// MigrateTable creates or updates every table owned by this service.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Case{},
		&ComplianceDocument{}, &DocumentVersion{},
		&AssessmentTest{}, &Activity{},
		&IdempotencyKey{},
	)
}
