package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-booking/internal/booking"
)

type BookAppointmentRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
	Date      string `json:"date"`
	Time      string `json:"time"`
}

type CancelAppointmentRequest struct {
	RequesterID string `json:"requester_id"`
}

type RescheduleAppointmentRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type CompleteAppointmentRequest struct {
	Diagnosis    string `json:"diagnosis"`
	Prescription string `json:"prescription"`
	Notes        string `json:"notes"`
	RecordedBy   string `json:"recorded_by"`
}

// GenerateAvailabilityRequest creates slots for days dates from start_date.
// Missing fields fall back to today, the booking window and the default times.
type GenerateAvailabilityRequest struct {
	StartDate string   `json:"start_date"`
	Days      int      `json:"days"`
	Times     []string `json:"times"`
}

type ReplaceAvailabilityRequest struct {
	Dates []string `json:"dates"`
	Times []string `json:"times"`
}

type AvailabilityResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Created  int       `json:"created"`
}

type SlotResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Time     string    `json:"time"`
}

type SlotListResponse struct {
	DoctorID uuid.UUID      `json:"doctor_id"`
	From     string         `json:"from"`
	To       string         `json:"to"`
	Slots    []SlotResponse `json:"slots"`
}

type TreatmentResponse struct {
	Diagnosis    string `json:"diagnosis"`
	Prescription string `json:"prescription,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID          uuid.UUID          `json:"id"`
	PatientID   uuid.UUID          `json:"patient_id"`
	DoctorID    uuid.UUID          `json:"doctor_id"`
	Date        string             `json:"date"`
	Time        string             `json:"time"`
	Status      string             `json:"status"`
	Treatment   *TreatmentResponse `json:"treatment,omitempty"`
	RecordedBy  *uuid.UUID         `json:"recorded_by,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	CancelledBy *uuid.UUID         `json:"cancelled_by,omitempty"`
	CancelledAt *time.Time         `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

type StatsResponse struct {
	Booked    int `json:"booked"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:          a.ID,
		PatientID:   a.PatientID,
		DoctorID:    a.DoctorID,
		Date:        a.Date.String(),
		Time:        a.Time.String(),
		Status:      string(a.Status),
		RecordedBy:  a.RecordedBy,
		CompletedAt: a.CompletedAt,
		CancelledBy: a.CancelledBy,
		CancelledAt: a.CancelledAt,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
	if a.Treatment != nil {
		resp.Treatment = &TreatmentResponse{
			Diagnosis:    a.Treatment.Diagnosis,
			Prescription: a.Treatment.Prescription,
			Notes:        a.Treatment.Notes,
		}
	}
	return resp
}

func toSlotResponse(s booking.Slot) SlotResponse {
	return SlotResponse{
		DoctorID: s.DoctorID,
		Date:     s.Date.String(),
		Time:     s.Time.String(),
	}
}
