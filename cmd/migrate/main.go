package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hackgods/hospital-booking/internal/config"
	"github.com/hackgods/hospital-booking/internal/db"
	"github.com/hackgods/hospital-booking/internal/logging"
)

const usage = "usage: migrate [up | down | force <version> | version]"

func main() {
	logger := logging.New(logging.Config{Level: "info", Pretty: true}).With("component", "migrate")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(err, "config load error")
	}
	if cfg.PostgresDSN == "" {
		logger.Fatal(nil, "POSTGRES_DSN is required")
	}

	cmd, args := "up", []string(nil)
	if len(os.Args) >= 2 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	mg, err := db.NewMigrator(cfg.PostgresDSN)
	if err != nil {
		logger.Fatal(err, "create migrator")
	}
	defer func() {
		if err := mg.Close(); err != nil {
			logger.Error(err, "close migrator")
		}
	}()

	if err := run(mg, cmd, args); err != nil {
		logger.Error(err, "migrate failed", "command", cmd)
		os.Exit(1)
	}

	version, dirty, err := mg.Version()
	if err != nil {
		logger.Error(err, "read schema version")
		os.Exit(1)
	}
	logger.Info("migrations complete", "command", cmd, "version", version, "dirty", dirty)
}

func run(mg *db.Migrator, cmd string, args []string) error {
	switch cmd {
	case "up":
		return mg.Up()
	case "down":
		return mg.Down()
	case "force":
		if len(args) < 1 {
			return fmt.Errorf("force needs a version\n%s", usage)
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		return mg.Force(version)
	case "version":
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}
