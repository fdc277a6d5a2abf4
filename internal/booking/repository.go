package booking

import (
	"context"
	"iter"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// SlotLedger is the source of truth for which slots exist and whether they are free.
type SlotLedger interface {
	// Generate inserts a free slot for every (date, time) pair that does not exist yet
	// and reports how many were created.
	Generate(ctx context.Context, doctorID uuid.UUID, dates []civil.Date, times []TimeOfDay) (int, error)
	// Replace drops the free slots on the given dates, then generates the new selection.
	Replace(ctx context.Context, doctorID uuid.UUID, dates []civil.Date, times []TimeOfDay) (int, error)
	// ListFree yields free slots in [from, to] ordered by date then time. Every range
	// over the result runs a fresh query.
	ListFree(ctx context.Context, doctorID uuid.UUID, from, to civil.Date) iter.Seq2[Slot, error]
	Get(ctx context.Context, key SlotKey) (*Slot, error)
	Claim(ctx context.Context, key SlotKey) error
	Release(ctx context.Context, key SlotKey) error
}

// AppointmentLedger is the source of truth for appointment rows and their status.
type AppointmentLedger interface {
	Create(ctx context.Context, patientID uuid.UUID, key SlotKey) (*Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Lock loads the appointment and holds it against concurrent writers until the
	// surrounding transaction ends.
	Lock(ctx context.Context, id uuid.UUID) (*Appointment, error)
	FindActive(ctx context.Context, key SlotKey) (*Appointment, error)

	Complete(ctx context.Context, id uuid.UUID, t Treatment, recordedBy uuid.UUID) (*Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, cancelledBy uuid.UUID) (*Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, date civil.Date, at TimeOfDay) (*Appointment, error)

	List(ctx context.Context, filter AppointmentFilter) ([]Appointment, error)
	CountByStatus(ctx context.Context) (Stats, error)
}

type EventRecorder interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Ledgers groups the stores a single unit of work operates on.
type Ledgers interface {
	Slots() SlotLedger
	Appointments() AppointmentLedger
	Events() EventRecorder
}

// Store hands out ledgers. Reads may use the embedded Ledgers directly; every
// mutation goes through InTx so that both ledgers commit or neither does.
type Store interface {
	Ledgers
	InTx(ctx context.Context, fn func(ctx context.Context, l Ledgers) error) error
	ListDoctorIDs(ctx context.Context) ([]uuid.UUID, error)
}
