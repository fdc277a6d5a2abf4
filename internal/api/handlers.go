package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/hospital-booking/internal/booking"
	"github.com/hackgods/hospital-booking/internal/logging"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	svc    *booking.Service
	logger *logging.Logger
}

func NewHandler(svc *booking.Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) GenerateAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID", "invalid_doctor_id")
	if !ok {
		return
	}

	var req GenerateAvailabilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var start civil.Date
	if req.StartDate != "" {
		d, err := booking.ParseDate(req.StartDate)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		start = d
	}
	days := req.Days
	if days == 0 {
		days = h.svc.Calendar().Window().Days
	}
	times, err := booking.ParseTimesOfDay(req.Times)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	created, err := h.svc.GenerateAvailability(r.Context(), doctorID, start, days, times)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, AvailabilityResponse{DoctorID: doctorID, Created: created})
}

func (h *Handler) ReplaceAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID", "invalid_doctor_id")
	if !ok {
		return
	}

	var req ReplaceAvailabilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	dates := make([]civil.Date, 0, len(req.Dates))
	for _, raw := range req.Dates {
		d, err := booking.ParseDate(raw)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		dates = append(dates, d)
	}
	times, err := booking.ParseTimesOfDay(req.Times)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	created, err := h.svc.ReplaceAvailability(r.Context(), doctorID, dates, times)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityResponse{DoctorID: doctorID, Created: created})
}

// ListFreeSlots accepts from/to, or a single date, and defaults to the rolling window.
func (h *Handler) ListFreeSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID", "invalid_doctor_id")
	if !ok {
		return
	}

	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if date := q.Get("date"); date != "" {
		from, to = date, date
	}

	window := h.svc.Calendar().Window()
	fromDate, toDate := window.Start, window.End()
	var err error
	if from != "" {
		if fromDate, err = booking.ParseDate(from); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}
	if to != "" {
		if toDate, err = booking.ParseDate(to); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}

	slots := make([]SlotResponse, 0)
	for slot, err := range h.svc.ListFreeSlots(r.Context(), doctorID, fromDate, toDate) {
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		slots = append(slots, toSlotResponse(slot))
	}

	writeJSON(w, http.StatusOK, SlotListResponse{
		DoctorID: doctorID,
		From:     fromDate.String(),
		To:       toDate.String(),
		Slots:    slots,
	})
}

func (h *Handler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
		return
	}
	date, at, err := parseSlot(req.Date, req.Time)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	appt, err := h.svc.Book(r.Context(), patientID, doctorID, date, at)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter booking.AppointmentFilter

	if v := q.Get("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		filter.DoctorID = id
	}
	if v := q.Get("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		filter.PatientID = id
	}
	filter.Status = booking.AppointmentStatus(q.Get("status"))

	appts, err := h.svc.ListAppointments(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := AppointmentListResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
	for i := range appts {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	var req CancelAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	requesterID, ok := optionalUUID(w, req.RequesterID, "requester_id")
	if !ok {
		return
	}

	if err := h.svc.Cancel(r.Context(), id, requesterID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) RescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	var req RescheduleAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, at, err := parseSlot(req.Date, req.Time)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	appt, err := h.svc.Reschedule(r.Context(), id, date, at)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) CompleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	var req CompleteAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	recordedBy, ok := optionalUUID(w, req.RecordedBy, "recorded_by")
	if !ok {
		return
	}

	appt, err := h.svc.Complete(r.Context(), id, booking.Treatment{
		Diagnosis:    req.Diagnosis,
		Prescription: req.Prescription,
		Notes:        req.Notes,
	}, recordedBy)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Booked:    stats.Booked,
		Completed: stats.Completed,
		Cancelled: stats.Cancelled,
		Total:     stats.Total(),
	})
}

// errorMappings is checked in order; ErrSlotBeingBooked must precede
// ErrSlotAlreadyBooked because it wraps it.
var errorMappings = []struct {
	err    error
	status int
	code   string
}{
	{booking.ErrSlotBeingBooked, http.StatusConflict, "slot_being_booked"},
	{booking.ErrSlotAlreadyBooked, http.StatusConflict, "slot_already_booked"},
	{booking.ErrConflictingAppointment, http.StatusConflict, "conflicting_appointment"},
	{booking.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{booking.ErrNotFound, http.StatusNotFound, "appointment_not_found"},
	{booking.ErrSlotNotFound, http.StatusNotFound, "slot_not_found"},
	{booking.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
	{booking.ErrDoctorNotFound, http.StatusNotFound, "doctor_not_found"},
	{booking.ErrOutOfWindow, http.StatusUnprocessableEntity, "out_of_window"},
	{booking.ErrInvalidDate, http.StatusBadRequest, "invalid_date"},
	{booking.ErrInvalidTime, http.StatusBadRequest, "invalid_time"},
	{booking.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}

	h.logger.Error(err, "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", GetRequestID(r.Context()),
	)
	writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error, see server logs")
}

func parseSlot(rawDate, rawTime string) (civil.Date, booking.TimeOfDay, error) {
	date, err := booking.ParseDate(rawDate)
	if err != nil {
		return civil.Date{}, "", err
	}
	at, err := booking.ParseTimeOfDay(rawTime)
	if err != nil {
		return civil.Date{}, "", err
	}
	return date, at, nil
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, fmt.Sprintf("%s must be a valid UUID", name))
		return uuid.Nil, false
	}
	return id, true
}

// optionalUUID parses an id that may be left empty.
func optionalUUID(w http.ResponseWriter, raw, field string) (uuid.UUID, bool) {
	if raw == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, fmt.Sprintf("%s must be a valid UUID", field))
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON tolerates an empty body so endpoints with all-optional fields work without one.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
