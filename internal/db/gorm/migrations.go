// Package gorm provides GORM-based database operations for strand.
package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Core tables (Session, Message)
		{
			ID: "001_core_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Session{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&Message{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("sessions", "messages")
			},
		},

		// Migration 002: Generated artifacts with the (session, platform)
		// unique key the upsert depends on.
		{
			ID: "002_generated_artifacts",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&GeneratedArtifact{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("generated_artifacts")
			},
		},

		// Migration 003: Source contents (read-side table for prompt context).
		{
			ID: "003_source_contents",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&SourceContent{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("source_contents")
			},
		},
	})

	return m.Migrate()
}
