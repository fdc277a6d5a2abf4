package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PgAppointmentLedger stores appointments. At most one active row per slot is
// enforced by the appointments_active_slot_uidx partial unique index.
type PgAppointmentLedger struct {
	q Querier
}

func NewPgAppointmentLedger(q Querier) *PgAppointmentLedger {
	return &PgAppointmentLedger{q: q}
}

const appointmentColumns = `id, patient_id, doctor_id, appt_date, appt_time, status,
	diagnosis, prescription, notes, recorded_by, completed_at,
	cancelled_by, cancelled_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var at string
	var diagnosis, prescription, notes *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&date,
		&at,
		&a.Status,
		&diagnosis,
		&prescription,
		&notes,
		&a.RecordedBy,
		&a.CompletedAt,
		&a.CancelledBy,
		&a.CancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	a.Date = civil.DateOf(date)
	a.Time = TimeOfDay(at)
	if diagnosis != nil || prescription != nil || notes != nil {
		a.Treatment = &Treatment{
			Diagnosis:    deref(diagnosis),
			Prescription: deref(prescription),
			Notes:        deref(notes),
		}
	}
	return &a, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (l *PgAppointmentLedger) Create(ctx context.Context, patientID uuid.UUID, key SlotKey) (*Appointment, error) {
	row := l.q.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appt_date, appt_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'Booked', now(), now())
		RETURNING `+appointmentColumns,
		uuid.New(), patientID, key.DoctorID, pgDate(key.Date), string(key.Time))

	a, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflictingAppointment
		}
		if fkErr := foreignKeyError(err); fkErr != nil {
			return nil, fkErr
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return a, nil
}

func (l *PgAppointmentLedger) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := l.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (l *PgAppointmentLedger) Lock(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := l.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (l *PgAppointmentLedger) FindActive(ctx context.Context, key SlotKey) (*Appointment, error) {
	row := l.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appt_date = $2
		  AND appt_time = $3
		  AND status IN ('Booked', 'Completed')
	`, key.DoctorID, pgDate(key.Date), string(key.Time))

	a, err := scanAppointment(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return a, err
}

func (l *PgAppointmentLedger) Complete(ctx context.Context, id uuid.UUID, t Treatment, recordedBy uuid.UUID) (*Appointment, error) {
	row := l.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'Completed',
		    diagnosis = $2,
		    prescription = $3,
		    notes = $4,
		    recorded_by = $5,
		    completed_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND status = 'Booked'
		RETURNING `+appointmentColumns,
		id, t.Diagnosis, t.Prescription, t.Notes, nullableUUID(recordedBy))

	return l.transitioned(ctx, id, row)
}

func (l *PgAppointmentLedger) Cancel(ctx context.Context, id uuid.UUID, cancelledBy uuid.UUID) (*Appointment, error) {
	row := l.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'Cancelled',
		    cancelled_by = $2,
		    cancelled_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND status = 'Booked'
		RETURNING `+appointmentColumns,
		id, nullableUUID(cancelledBy))

	return l.transitioned(ctx, id, row)
}

func (l *PgAppointmentLedger) Reschedule(ctx context.Context, id uuid.UUID, date civil.Date, at TimeOfDay) (*Appointment, error) {
	row := l.q.QueryRow(ctx, `
		UPDATE appointments
		SET appt_date = $2,
		    appt_time = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'Booked'
		RETURNING `+appointmentColumns,
		id, pgDate(date), string(at))

	a, err := l.transitioned(ctx, id, row)
	if err != nil && isUniqueViolation(err) {
		return nil, ErrConflictingAppointment
	}
	return a, err
}

// transitioned resolves a guarded UPDATE ... WHERE status = 'Booked'. No row means
// either the id is unknown or the appointment already left Booked.
func (l *PgAppointmentLedger) transitioned(ctx context.Context, id uuid.UUID, row pgx.Row) (*Appointment, error) {
	a, err := scanAppointment(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("update appointment %s: %w", id, err)
	}

	if _, getErr := l.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrInvalidTransition
}

func (l *PgAppointmentLedger) List(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	var where []string
	var args []any

	if filter.DoctorID != uuid.Nil {
		args = append(args, filter.DoctorID)
		where = append(where, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if filter.PatientID != uuid.Nil {
		args = append(args, filter.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY appt_date DESC, appt_time DESC, created_at DESC`

	rows, err := l.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (l *PgAppointmentLedger) CountByStatus(ctx context.Context) (Stats, error) {
	rows, err := l.q.Query(ctx, `SELECT status, count(*) FROM appointments GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("count appointments: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status AppointmentStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, err
		}
		switch status {
		case StatusBooked:
			stats.Booked = int(n)
		case StatusCompleted:
			stats.Completed = int(n)
		case StatusCancelled:
			stats.Cancelled = int(n)
		}
	}
	return stats, rows.Err()
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
