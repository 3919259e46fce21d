package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/meridianretail/availability/internal/logger"
)

// usage: migrate [-database url] [-path dir] [up|down|version|force <n>]
func main() {
	databaseURL := flag.String("database", os.Getenv("DATABASE_URL"), "Postgres URL (defaults to DATABASE_URL)")
	migrationsPath := flag.String("path", "migrations", "migrations directory")
	flag.Parse()

	if *databaseURL == "" {
		logger.Fatal("no database URL; set -database or DATABASE_URL")
	}

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", *migrationsPath), *databaseURL)
	if err != nil {
		logger.Fatal("failed to open migration source", "error", err)
	}
	defer m.Close()

	switch command {
	case "up":
		switch err := m.Up(); {
		case errors.Is(err, migrate.ErrNoChange):
			logger.Info("schema already up to date")
		case err != nil:
			logger.Fatal("migration failed", "error", err)
		default:
			logger.Info("migrations applied")
		}

	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("rollback failed", "error", err)
		}
		logger.Info("rollback complete")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			logger.Fatal("failed to read schema version", "error", err)
		}
		logger.Info("schema version", "version", version, "dirty", dirty)

	case "force":
		if flag.NArg() < 2 {
			logger.Fatal("force needs a version number")
		}
		version, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			logger.Fatal("bad version number", "arg", flag.Arg(1), "error", err)
		}
		if err := m.Force(version); err != nil {
			logger.Fatal("failed to force version", "error", err)
		}
		logger.Info("schema version forced", "version", version)

	default:
		logger.Fatal("unknown command", "command", command)
	}
}
