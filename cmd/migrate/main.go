package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/flexprice/creditsync/internal/config"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/postgres"
	"github.com/flexprice/creditsync/internal/sentry"
	"github.com/golang-migrate/migrate/v4"
)

func main() {
	steps := flag.Int("steps", 1, "Number of migrations to roll back with the down command")
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logger.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	db, err := postgres.Open(cfg, logger, sentry.NewSentryService(cfg, logger))
	if err != nil {
		logger.Fatalw("Failed to connect to postgres", "error", err)
	}
	defer db.Close()

	switch command {
	case "up":
		if err := postgres.MigrateUp(db, logger); err != nil {
			logger.Fatalw("Failed to apply migrations", "error", err)
		}

	case "down":
		m, err := postgres.NewMigrator(db)
		if err != nil {
			logger.Fatalw("Failed to create migrator", "error", err)
		}
		if err := m.Steps(-*steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatalw("Failed to roll back migrations", "error", err, "steps", *steps)
		}
		logger.Infow("Rolled back migrations", "steps", *steps)

	case "status":
		m, err := postgres.NewMigrator(db)
		if err != nil {
			logger.Fatalw("Failed to create migrator", "error", err)
		}
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("No migrations applied yet")
			break
		}
		if err != nil {
			logger.Fatalw("Failed to read migration version", "error", err)
		}
		logger.Infow("Current migration version", "version", version, "dirty", dirty)

	default:
		printUsage()
		os.Exit(1)
	}

	fmt.Println("Migration process completed")
}

func printUsage() {
	fmt.Println("Usage: migrate [-steps N] [up|down|status]")
	fmt.Println("  up     - apply all pending migrations (default)")
	fmt.Println("  down   - roll back the last N migrations")
	fmt.Println("  status - print the current migration version")
}
