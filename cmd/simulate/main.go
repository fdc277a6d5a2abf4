package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/hospital-booking/internal/api"
	"github.com/hackgods/hospital-booking/internal/config"
	"github.com/hackgods/hospital-booking/internal/db"
	"github.com/hackgods/hospital-booking/internal/logging"
)

type SimConfig struct {
	APIBaseURL     string
	Workers        int
	Attempts       int
	Doctors        int
	PatientLimit   int
	RescheduleRate float64
	CancelRate     float64
	PostgresDSN    string
}

type DataPool struct {
	Patients []uuid.UUID
	Slots    []api.SlotResponse

	mu           sync.Mutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.IntN(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total    atomic.Int64
	Success  atomic.Int64
	Conflict atomic.Int64
	Error    atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	om.Total.Add(1)
	switch {
	case err == nil && status < 300:
		om.Success.Add(1)
	case err == nil && status == http.StatusConflict:
		om.Conflict.Add(1)
	default:
		om.Error.Add(1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	at := func(pct int) time.Duration {
		return latencies[min(len(latencies)*pct/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), at(50), at(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Book       OperationMetrics
	Reschedule OperationMetrics
	Cancel     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *logging.Logger
	metrics Metrics
}

func main() {
	logger := logging.New(logging.Config{Level: "info", Pretty: true}).With("component", "simulate")

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal(err, "invalid config")
	}
	logger.Info("simulator starting",
		"workers", cfg.Workers,
		"attempts", cfg.Attempts,
		"doctors", cfg.Doctors,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		logger.Fatal(err, "connect postgres")
	}
	defer pgPool.Close()

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.pool, err = sim.loadDataPool(ctx, pgPool)
	if err != nil {
		logger.Fatal(err, "load data pool")
	}
	logger.Info("data loaded", "patients", len(sim.pool.Patients), "slots", len(sim.pool.Slots))

	start := time.Now()
	if err := sim.Run(ctx); err != nil {
		logger.Fatal(err, "simulation aborted")
	}
	elapsed := time.Since(start)

	duplicates, err := countDuplicateBookings(ctx, pgPool)
	if err != nil {
		logger.Fatal(err, "verify bookings")
	}

	sim.PrintReport(elapsed, duplicates)
	if duplicates > 0 {
		os.Exit(1)
	}
}

func loadConfig() (SimConfig, error) {
	base, err := config.Load()
	if err != nil {
		return SimConfig{}, err
	}

	cfg := SimConfig{
		APIBaseURL:     strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Workers:        getInt("SIM_WORKERS", 50),
		Attempts:       getInt("SIM_ATTEMPTS", 2000),
		Doctors:        getInt("SIM_DOCTORS", 3),
		PatientLimit:   getInt("SIM_PATIENT_LIMIT", 2000),
		RescheduleRate: getFloat("SIM_RESCHEDULE_RATE", 0.1),
		CancelRate:     getFloat("SIM_CANCEL_RATE", 0.1),
		PostgresDSN:    base.PostgresDSN,
	}

	switch {
	case cfg.PostgresDSN == "":
		return cfg, fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	case cfg.Workers <= 0:
		return cfg, fmt.Errorf("SIM_WORKERS must be > 0")
	case cfg.Attempts <= 0:
		return cfg, fmt.Errorf("SIM_ATTEMPTS must be > 0")
	case cfg.Doctors <= 0:
		return cfg, fmt.Errorf("SIM_DOCTORS must be > 0")
	}
	return cfg, nil
}

// loadDataPool keeps the slot set small so that workers collide on the same slots.
func (s *Simulator) loadDataPool(ctx context.Context, pool *pgxpool.Pool) (*DataPool, error) {
	dp := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, s.config.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Patients = append(dp.Patients, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	rows, err = pool.Query(ctx, `SELECT id FROM doctors ORDER BY id LIMIT $1`, s.config.Doctors)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	var doctors []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		doctors = append(doctors, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}

	for _, id := range doctors {
		slots, err := s.freeSlots(ctx, id)
		if err != nil {
			return nil, err
		}
		dp.Slots = append(dp.Slots, slots...)
	}

	if len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}
	if len(dp.Slots) == 0 {
		return nil, fmt.Errorf("no free slots loaded")
	}
	return dp, nil
}

func (s *Simulator) freeSlots(ctx context.Context, doctorID uuid.UUID) ([]api.SlotResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/doctors/%s/slots", s.config.APIBaseURL, doctorID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list slots: unexpected status %d", resp.StatusCode)
	}
	var out api.SlotListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	return out.Slots, nil
}

func (s *Simulator) Run(ctx context.Context) error {
	var next atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for w := range s.config.Workers {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(w)))
			for next.Add(1) <= int64(s.config.Attempts) {
				if err := gctx.Err(); err != nil {
					return err
				}
				r := rng.Float64()
				switch {
				case r < s.config.CancelRate:
					s.doCancel(gctx, rng)
				case r < s.config.CancelRate+s.config.RescheduleRate:
					s.doReschedule(gctx, rng)
				default:
					s.doBook(gctx, rng)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("simulation complete", "attempts", s.config.Attempts)
	return nil
}

func (s *Simulator) doBook(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.IntN(len(s.pool.Slots))]
	patient := s.pool.Patients[rng.IntN(len(s.pool.Patients))]

	var appt api.AppointmentResponse
	latency, status, err := s.post(ctx, "/appointments", api.BookAppointmentRequest{
		PatientID: patient.String(),
		DoctorID:  slot.DoctorID.String(),
		Date:      slot.Date,
		Time:      slot.Time,
	}, &appt)
	if err == nil && status == http.StatusCreated {
		s.pool.AddAppointment(appt.ID)
	}
	s.metrics.Book.Record(latency, status, err)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	slot := s.pool.Slots[rng.IntN(len(s.pool.Slots))]

	latency, status, err := s.post(ctx, "/appointments/"+id.String()+"/reschedule",
		api.RescheduleAppointmentRequest{Date: slot.Date, Time: slot.Time}, nil)
	s.metrics.Reschedule.Record(latency, status, err)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	latency, status, err := s.post(ctx, "/appointments/"+id.String()+"/cancel", nil, nil)
	s.metrics.Cancel.Record(latency, status, err)
}

func (s *Simulator) post(ctx context.Context, path string, body, out any) (time.Duration, int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return latency, 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return latency, resp.StatusCode, err
		}
	}
	return latency, resp.StatusCode, nil
}

// countDuplicateBookings returns how many (doctor, date, time) tuples hold
// more than one active appointment. Anything above zero is a double booking.
func countDuplicateBookings(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT doctor_id, appt_date, appt_time
			FROM appointments
			WHERE status IN ('Booked', 'Completed')
			GROUP BY doctor_id, appt_date, appt_time
			HAVING count(*) > 1
		) dup
	`).Scan(&n)
	return n, err
}

func (s *Simulator) PrintReport(elapsed time.Duration, duplicates int) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Elapsed: %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Workers: %d  Slots under contention: %d\n", s.config.Workers, len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Book", &s.metrics.Book)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)

	if duplicates == 0 {
		fmt.Println("Double bookings: none")
	} else {
		fmt.Printf("Double bookings: %d tuples hold more than one active appointment\n", duplicates)
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := om.Total.Load()
	if total == 0 {
		return
	}
	success, conflict, failed := om.Success.Load(), om.Conflict.Load(), om.Error.Load()
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
