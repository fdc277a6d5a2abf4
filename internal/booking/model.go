package booking

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusBooked    AppointmentStatus = "Booked"
	StatusCompleted AppointmentStatus = "Completed"
	StatusCancelled AppointmentStatus = "Cancelled"
)

// Active reports whether an appointment in this status occupies its slot.
func (s AppointmentStatus) Active() bool {
	return s == StatusBooked || s == StatusCompleted
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusBooked, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// SlotKey identifies one bookable unit of a doctor's calendar.
type SlotKey struct {
	DoctorID uuid.UUID
	Date     civil.Date
	Time     TimeOfDay
}

func (k SlotKey) String() string {
	return k.DoctorID.String() + "/" + k.Date.String() + "/" + string(k.Time)
}

type Slot struct {
	ID       int64
	DoctorID uuid.UUID
	Date     civil.Date
	Time     TimeOfDay
	Booked   bool
}

func (s Slot) Key() SlotKey {
	return SlotKey{DoctorID: s.DoctorID, Date: s.Date, Time: s.Time}
}

// Treatment is recorded by the doctor when an appointment is completed.
type Treatment struct {
	Diagnosis    string
	Prescription string
	Notes        string
}

type Appointment struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	Date        civil.Date
	Time        TimeOfDay
	Status      AppointmentStatus
	Treatment   *Treatment
	RecordedBy  *uuid.UUID
	CompletedAt *time.Time
	CancelledBy *uuid.UUID
	CancelledAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (a Appointment) Key() SlotKey {
	return SlotKey{DoctorID: a.DoctorID, Date: a.Date, Time: a.Time}
}

// AppointmentFilter narrows List. Zero fields are ignored.
type AppointmentFilter struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Status    AppointmentStatus
}

// Stats is the dashboard summary of appointment counts.
type Stats struct {
	Booked    int
	Completed int
	Cancelled int
}

func (s Stats) Total() int {
	return s.Booked + s.Completed + s.Cancelled
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
