package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/hospital-booking/internal/booking"
	"github.com/hackgods/hospital-booking/internal/config"
	"github.com/hackgods/hospital-booking/internal/db"
	"github.com/hackgods/hospital-booking/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal(err, "config load error")
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.IsDev()}).
		With("component", "availability-worker")
	logger.Info("availability worker starting up",
		"env", cfg.Env,
		"interval", cfg.WorkerInterval.String(),
		"window_days", cfg.BookingWindowDays,
	)

	if cfg.StorageDriver != config.StorageDriverPostgres {
		logger.Fatal(nil, "availability worker requires STORAGE_DRIVER=postgres")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	cancelPg()
	if err != nil {
		logger.Fatal(err, "postgres connection error")
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// Generation never claims slots, so no lock is needed here.
	svc := booking.NewService(booking.NewPgStore(pgPool), nil, cfg, booking.WithLogger(logger))

	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping availability worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, logger *logging.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	start := time.Now()
	created, err := svc.EnsureRollingAvailability(runCtx)
	if err != nil {
		// Partial progress is committed per doctor, so still report what was created.
		logger.Error(err, "availability run error", "created", created)
		return
	}
	logger.Info("availability run complete",
		"created", created,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
