package booking

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PgSlotLedger stores slots in doctor_availability.
type PgSlotLedger struct {
	q Querier
}

func NewPgSlotLedger(q Querier) *PgSlotLedger {
	return &PgSlotLedger{q: q}
}

const slotColumns = `id, doctor_id, slot_date, slot_time, is_booked`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var date time.Time
	var at string

	err := row.Scan(&s.ID, &s.DoctorID, &date, &at, &s.Booked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Date = civil.DateOf(date)
	s.Time = TimeOfDay(at)
	return &s, nil
}

func (l *PgSlotLedger) Generate(ctx context.Context, doctorID uuid.UUID, dates []civil.Date, times []TimeOfDay) (int, error) {
	if len(dates) == 0 || len(times) == 0 {
		return 0, nil
	}

	tag, err := l.q.Exec(ctx, `
		INSERT INTO doctor_availability (doctor_id, slot_date, slot_time, is_booked, created_at, updated_at)
		SELECT $1, d, t, false, now(), now()
		FROM unnest($2::date[]) AS d
		CROSS JOIN unnest($3::text[]) AS t
		ON CONFLICT (doctor_id, slot_date, slot_time) DO NOTHING
	`, doctorID, pgDates(dates), timeStrings(times))
	if err != nil {
		if fkErr := foreignKeyError(err); fkErr != nil {
			return 0, fkErr
		}
		return 0, fmt.Errorf("generate slots: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func (l *PgSlotLedger) Replace(ctx context.Context, doctorID uuid.UUID, dates []civil.Date, times []TimeOfDay) (int, error) {
	if len(dates) == 0 {
		return 0, nil
	}

	_, err := l.q.Exec(ctx, `
		DELETE FROM doctor_availability
		WHERE doctor_id = $1
		  AND slot_date = ANY($2::date[])
		  AND is_booked = false
	`, doctorID, pgDates(dates))
	if err != nil {
		return 0, fmt.Errorf("delete free slots: %w", err)
	}

	return l.Generate(ctx, doctorID, dates, times)
}

func (l *PgSlotLedger) ListFree(ctx context.Context, doctorID uuid.UUID, from, to civil.Date) iter.Seq2[Slot, error] {
	return func(yield func(Slot, error) bool) {
		rows, err := l.q.Query(ctx, `
			SELECT s.id, s.doctor_id, s.slot_date, s.slot_time, s.is_booked
			FROM doctor_availability s
			WHERE s.doctor_id = $1
			  AND s.slot_date BETWEEN $2 AND $3
			  AND s.is_booked = false
			  AND NOT EXISTS (
				SELECT 1 FROM appointments a
				WHERE a.doctor_id = s.doctor_id
				  AND a.appt_date = s.slot_date
				  AND a.appt_time = s.slot_time
				  AND a.status IN ('Booked', 'Completed')
			  )
			ORDER BY s.slot_date, s.slot_time
		`, doctorID, pgDate(from), pgDate(to))
		if err != nil {
			yield(Slot{}, fmt.Errorf("list free slots: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			s, err := scanSlot(rows)
			if err != nil {
				yield(Slot{}, err)
				return
			}
			if !yield(*s, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(Slot{}, err)
		}
	}
}

func (l *PgSlotLedger) Get(ctx context.Context, key SlotKey) (*Slot, error) {
	row := l.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM doctor_availability
		WHERE doctor_id = $1 AND slot_date = $2 AND slot_time = $3
	`, key.DoctorID, pgDate(key.Date), string(key.Time))
	return scanSlot(row)
}

// Claim flips a free slot to booked with a single conditional update, so two
// concurrent claims on the same row cannot both succeed.
func (l *PgSlotLedger) Claim(ctx context.Context, key SlotKey) error {
	tag, err := l.q.Exec(ctx, `
		UPDATE doctor_availability
		SET is_booked = true,
		    updated_at = now()
		WHERE doctor_id = $1
		  AND slot_date = $2
		  AND slot_time = $3
		  AND is_booked = false
	`, key.DoctorID, pgDate(key.Date), string(key.Time))
	if err != nil {
		return fmt.Errorf("claim slot: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := l.Get(ctx, key); err != nil {
		return err
	}
	return ErrSlotAlreadyBooked
}

func (l *PgSlotLedger) Release(ctx context.Context, key SlotKey) error {
	_, err := l.q.Exec(ctx, `
		UPDATE doctor_availability
		SET is_booked = false,
		    updated_at = now()
		WHERE doctor_id = $1
		  AND slot_date = $2
		  AND slot_time = $3
	`, key.DoctorID, pgDate(key.Date), string(key.Time))
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}
