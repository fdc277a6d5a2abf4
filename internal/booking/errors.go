package booking

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound               = errors.New("appointment not found")
	ErrSlotNotFound           = errors.New("slot not found")
	ErrSlotAlreadyBooked      = errors.New("slot already booked")
	ErrConflictingAppointment = errors.New("an active appointment already exists for this slot")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrOutOfWindow            = errors.New("slot is outside the booking window")

	ErrPatientNotFound = errors.New("patient not found")
	ErrDoctorNotFound  = errors.New("doctor not found")
	ErrInvalidDate     = errors.New("invalid date, expected YYYY-MM-DD")
	ErrInvalidTime     = errors.New("invalid time, expected HH:MM")
	ErrInvalidStatus   = errors.New("invalid appointment status")
)

// ErrSlotBeingBooked means another request holds the slot lock. It matches ErrSlotAlreadyBooked.
var ErrSlotBeingBooked = fmt.Errorf("%w: slot is currently being booked", ErrSlotAlreadyBooked)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func pgErrorCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func isUniqueViolation(err error) bool {
	code, _ := pgErrorCode(err)
	return code == pgUniqueViolation
}

// foreignKeyError maps FK violations on appointment writes to the missing party.
func foreignKeyError(err error) error {
	code, constraint := pgErrorCode(err)
	if code != pgForeignKeyViolation {
		return nil
	}
	switch constraint {
	case "appointments_patient_id_fkey":
		return ErrPatientNotFound
	case "appointments_doctor_id_fkey", "doctor_availability_doctor_id_fkey":
		return ErrDoctorNotFound
	}
	return ErrPatientNotFound
}
