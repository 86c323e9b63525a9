package config

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"kyc-document-api/models"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrate brings the schema up to date. Postgres runs the embedded SQL migrations;
// other dialects fall back to GORM AutoMigrate.
func Migrate(db *gorm.DB, log *zap.Logger) error {
	if db.Dialector.Name() != "postgres" {
		if err := db.AutoMigrate(models.AllModels()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		log.Info("schema auto-migrated", zap.String("dialect", db.Dialector.Name()))
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migrate driver: %w", err)
	}
	src, err := iofs.New(embeddedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	version, dirty, _ := m.Version()
	log.Info("schema migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}
