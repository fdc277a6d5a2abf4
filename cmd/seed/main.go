package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/hospital-booking/internal/booking"
	"github.com/hackgods/hospital-booking/internal/config"
	"github.com/hackgods/hospital-booking/internal/db"
	"github.com/hackgods/hospital-booking/internal/logging"
)

var specializations = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	logger := logging.New(logging.Config{Level: "info", Pretty: true}).With("component", "seed")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(err, "config load error")
	}
	if cfg.PostgresDSN == "" {
		logger.Fatal(nil, "POSTGRES_DSN is required")
	}

	doctorCount := getInt("SEED_DOCTORS", 50)
	patientCount := getInt("SEED_PATIENTS", 5000)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Fatal(err, "connect postgres")
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	doctors, err := seedDoctors(ctx, pool, faker, doctorCount, logger)
	if err != nil {
		logger.Fatal(err, "seed doctors")
	}
	if err := seedPatients(ctx, pool, faker, patientCount, logger); err != nil {
		logger.Fatal(err, "seed patients")
	}

	svc := booking.NewService(booking.NewPgStore(pool), nil, cfg, booking.WithLogger(logger))
	window := svc.Calendar().Window()

	total := 0
	for _, id := range doctors {
		n, err := svc.GenerateAvailability(ctx, id, window.Start, window.Days, nil)
		if err != nil {
			logger.Fatal(err, "generate availability", "doctor_id", id.String())
		}
		total += n
	}

	logger.Info("seed complete",
		"doctors", len(doctors),
		"patients", patientCount,
		"slots", total,
		"window_start", window.Start.String(),
	)
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger *logging.Logger) ([]uuid.UUID, error) {
	logger.Info("seeding doctors", "count", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for range count {
		id := uuid.New()
		name := "Dr. " + faker.LastName()
		spec := specializations[faker.Number(0, len(specializations)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialization, created_at)
			VALUES ($1, $2, $3, now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger *logging.Logger) error {
	logger.Info("seeding patients", "count", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for range end - offset {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at)
				VALUES ($1, $2, $3, now())
			`, uuid.New(), faker.Name(), faker.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info("patients seeded", "done", end, "total", count)
	}
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
