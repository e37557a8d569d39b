// Package main provides a CLI tool for running database migrations.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/aqi-agent/internal/config"
	"github.com/aqi-agent/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		steps  = flag.Int("steps", 1, "Number of migrations to roll back with -action down")
		path   = flag.String("path", "", "Migrations directory, overrides MIGRATIONS_PATH")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *path != "" {
		cfg.Database.MigrationsPath = *path
	}

	if err := run(&cfg.Database, *action, *steps); err != nil {
		log.Fatalf("Postgres migration failed: %v", err)
	}
}

func run(cfg *config.DatabaseConfig, action string, steps int) error {
	mg, err := storage.NewMigrator(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = mg.Close() // nolint:errcheck // cleanup in defer
	}()

	switch action {
	case "up":
		log.Println("Running Postgres migrations...")
		if err := mg.Up(); err != nil {
			return err
		}
		log.Println("Postgres migrations completed successfully")

	case "down":
		log.Printf("Rolling back %d Postgres migration(s)...", steps)
		if err := mg.Down(steps); err != nil {
			return err
		}
		log.Println("Postgres migration rolled back successfully")

	case "version":
		version, dirty, err := mg.Version()
		if err != nil {
			return err
		}
		log.Printf("Current Postgres migration version: %d (dirty: %v)", version, dirty)

	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	return nil
}
