package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the subset of *pgxpool.Pool the store needs.
type PgxPool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgStore struct {
	pool PgxPool
	pgLedgers
}

func NewPgStore(pool PgxPool) *PgStore {
	if pool == nil {
		panic("booking: pgx pool required")
	}
	return &PgStore{pool: pool, pgLedgers: pgLedgers{q: pool}}
}

// InTx runs fn inside a single transaction. fn's ledgers share the transaction;
// returning an error rolls every write back, and so does a panic in fn.
func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context, l Ledgers) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err := fn(ctx, pgLedgers{q: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PgStore) ListDoctorIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM doctors ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type pgLedgers struct {
	q Querier
}

func (l pgLedgers) Slots() SlotLedger               { return &PgSlotLedger{q: l.q} }
func (l pgLedgers) Appointments() AppointmentLedger { return &PgAppointmentLedger{q: l.q} }
func (l pgLedgers) Events() EventRecorder           { return &pgEventRecorder{q: l.q} }

type pgEventRecorder struct {
	q Querier
}

func (r *pgEventRecorder) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// pgDate encodes a calendar date as UTC midnight, which pgx writes as a date.
func pgDate(d civil.Date) time.Time {
	return d.In(time.UTC)
}

func pgDates(dates []civil.Date) []time.Time {
	out := make([]time.Time, len(dates))
	for i, d := range dates {
		out[i] = pgDate(d)
	}
	return out
}

func timeStrings(times []TimeOfDay) []string {
	out := make([]string, len(times))
	for i, t := range times {
		out[i] = string(t)
	}
	return out
}
