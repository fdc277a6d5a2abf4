package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/hospital-booking/internal/api"
	"github.com/hackgods/hospital-booking/internal/booking"
	"github.com/hackgods/hospital-booking/internal/config"
	"github.com/hackgods/hospital-booking/internal/db"
	"github.com/hackgods/hospital-booking/internal/logging"
	"github.com/hackgods/hospital-booking/internal/metrics"
	redisclient "github.com/hackgods/hospital-booking/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal(err, "config load error")
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.IsDev()})
	logger.Info("api-server starting up",
		"env", cfg.Env,
		"http_port", cfg.HTTPPort,
		"storage", cfg.StorageDriver,
		"redis_enabled", cfg.RedisEnabled,
		"window_days", cfg.BookingWindowDays,
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store booking.Store
		deps  []api.Dependency
	)
	switch cfg.StorageDriver {
	case config.StorageDriverPostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		cancelPg()
		if err != nil {
			logger.Fatal(err, "postgres connection error")
		}
		defer pgPool.Close()
		logger.Info("connected to Postgres")

		store = booking.NewPgStore(pgPool)
		deps = append(deps, api.Dependency{Name: "postgres", Required: true, Ping: pgPool.Ping})
	default:
		logger.Warn("using in-memory storage, data is lost on restart")
		store = booking.NewMemoryStore()
	}

	// A nil interface, not a nil *redisSlotLocker, disables locking.
	var locker redisclient.Locker
	if cfg.RedisEnabled {
		rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Fatal(err, "redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error(err, "error closing redis")
			}
		}()
		logger.Info("connected to Redis")

		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
		deps = append(deps, api.Dependency{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := booking.NewService(store, locker, cfg,
		booking.WithLogger(logger.With("component", "booking")),
		booking.WithMetrics(metrics.NewBookingMetrics(reg)),
	)

	router := api.NewRouter(api.RouterConfig{
		Service:      svc,
		Logger:       logger,
		HTTPMetrics:  metrics.NewHTTPMetrics(reg),
		Dependencies: deps,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down api-server", "timeout", cfg.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(err, "api-server stopped with error")
		return
	}
	logger.Info("api-server stopped")
}
