package postgres

import (
	"embed"
	"errors"

	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// NewMigrator builds a migrator over the embedded schema files
func NewMigrator(db *DB) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to load embedded migrations").
			Mark(ierr.ErrSystem)
	}

	driver, err := migratepg.WithInstance(db.DB.DB, &migratepg.Config{})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to initialise migration driver").
			Mark(ierr.ErrDatabase)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to initialise migrator").
			Mark(ierr.ErrDatabase)
	}
	return m, nil
}

// MigrateUp applies every pending migration
func MigrateUp(db *DB, logger *logger.Logger) error {
	m, err := NewMigrator(db)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("database schema is up to date")
			return nil
		}
		return ierr.WithError(err).
			WithHint("Failed to apply migrations").
			Mark(ierr.ErrDatabase)
	}

	version, dirty, err := m.Version()
	if err == nil {
		logger.Infow("database migrated", "version", version, "dirty", dirty)
	}
	return nil
}
