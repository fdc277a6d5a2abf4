package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/hospital-booking/internal/booking"
	"github.com/hackgods/hospital-booking/internal/config"
	"github.com/hackgods/hospital-booking/internal/logging"
	"github.com/hackgods/hospital-booking/internal/metrics"
)

type testServer struct {
	handler http.Handler
	doctor  uuid.UUID
}

func newTestServer(t *testing.T, deps ...Dependency) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.DailySlotTimes = []string{"09:00", "10:00"}
	clock := func() time.Time { return time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC) }
	svc := booking.NewService(booking.NewMemoryStore(), nil, cfg, booking.WithClock(clock))

	doctor := uuid.New()
	_, err := svc.GenerateAvailability(context.Background(), doctor, svc.Calendar().Today(), 7, nil)
	require.NoError(t, err)

	handler := NewRouter(RouterConfig{
		Service:      svc,
		Logger:       logging.Nop(),
		HTTPMetrics:  metrics.NewHTTPMetrics(prometheus.NewRegistry()),
		Dependencies: deps,
		Env:          "test",
		Version:      "v0.0.0",
	})
	return &testServer{handler: handler, doctor: doctor}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func (s *testServer) book(t *testing.T, patient uuid.UUID, date, at string) *httptest.ResponseRecorder {
	return s.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID: patient.String(),
		DoctorID:  s.doctor.String(),
		Date:      date,
		Time:      at,
	})
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	patient := uuid.New()

	rec := srv.book(t, patient, "2024-01-02", "09:00")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "Booked", appt.Status)
	assert.Equal(t, "2024-01-02", appt.Date)
	assert.Equal(t, "09:00", appt.Time)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = srv.book(t, uuid.New(), "2024-01-02", "9:00")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_already_booked", decode[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/reschedule",
		RescheduleAppointmentRequest{Date: "2024-01-03", Time: "10:00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "2024-01-03", moved.Date)
	assert.Equal(t, "10:00", moved.Time)

	rec = srv.do(t, http.MethodGet, "/doctors/"+srv.doctor.String()+"/slots?date=2024-01-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[SlotListResponse](t, rec)
	assert.Len(t, slots.Slots, 2)

	rec = srv.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/complete",
		CompleteAppointmentRequest{Diagnosis: "D", RecordedBy: srv.doctor.String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "Completed", done.Status)
	require.NotNil(t, done.Treatment)
	assert.Equal(t, "D", done.Treatment.Diagnosis)

	rec = srv.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel",
		CancelAppointmentRequest{RequesterID: patient.String()})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Completed", decode[AppointmentResponse](t, rec).Status)
}

func TestCancelOverHTTPFreesSlot(t *testing.T) {
	srv := newTestServer(t)
	patient := uuid.New()

	rec := srv.book(t, patient, "2024-01-04", "10:00")
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decode[AppointmentResponse](t, rec)

	rec = srv.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Cancelled", decode[AppointmentResponse](t, rec).Status)

	rec = srv.do(t, http.MethodGet, "/doctors/"+srv.doctor.String()+"/slots?from=2024-01-04&to=2024-01-04", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[SlotListResponse](t, rec)
	require.Len(t, slots.Slots, 2)
	assert.Equal(t, "10:00", slots.Slots[1].Time)

	rec = srv.do(t, http.MethodGet, "/appointments?patient_id="+patient.String()+"&status=Cancelled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[AppointmentListResponse](t, rec)
	require.Len(t, list.Appointments, 1)
	assert.Equal(t, appt.ID, list.Appointments[0].ID)

	rec = srv.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatsResponse{Cancelled: 1, Total: 1}, decode[StatsResponse](t, rec))
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad json", http.MethodPost, "/appointments", "not an object", http.StatusBadRequest, "invalid_request_body"},
		{"bad patient", http.MethodPost, "/appointments", BookAppointmentRequest{PatientID: "x"}, http.StatusBadRequest, "invalid_patient_id"},
		{"bad date", http.MethodPost, "/appointments",
			BookAppointmentRequest{PatientID: uuid.NewString(), DoctorID: srv.doctor.String(), Date: "01/02/2024", Time: "09:00"},
			http.StatusBadRequest, "invalid_date"},
		{"bad time", http.MethodPost, "/appointments",
			BookAppointmentRequest{PatientID: uuid.NewString(), DoctorID: srv.doctor.String(), Date: "2024-01-02", Time: "9am"},
			http.StatusBadRequest, "invalid_time"},
		{"out of window", http.MethodPost, "/appointments",
			BookAppointmentRequest{PatientID: uuid.NewString(), DoctorID: srv.doctor.String(), Date: "2024-01-09", Time: "09:00"},
			http.StatusUnprocessableEntity, "out_of_window"},
		{"missing slot", http.MethodPost, "/appointments",
			BookAppointmentRequest{PatientID: uuid.NewString(), DoctorID: srv.doctor.String(), Date: "2024-01-02", Time: "13:00"},
			http.StatusNotFound, "slot_not_found"},
		{"unknown appointment", http.MethodGet, "/appointments/" + uuid.NewString(), nil, http.StatusNotFound, "appointment_not_found"},
		{"bad appointment id", http.MethodGet, "/appointments/42", nil, http.StatusBadRequest, "invalid_appointment_id"},
		{"bad status filter", http.MethodGet, "/appointments?status=Pending", nil, http.StatusBadRequest, "invalid_status"},
		{"too many days", http.MethodPost, "/doctors/" + srv.doctor.String() + "/availability",
			GenerateAvailabilityRequest{Days: 365}, http.StatusUnprocessableEntity, "out_of_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestAvailabilityEndpoints(t *testing.T) {
	srv := newTestServer(t)
	other := uuid.New()

	rec := srv.do(t, http.MethodPost, "/doctors/"+other.String()+"/availability",
		GenerateAvailabilityRequest{StartDate: "2024-01-02", Days: 2, Times: []string{"14:00", "15:00"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 4, decode[AvailabilityResponse](t, rec).Created)

	rec = srv.do(t, http.MethodPut, "/doctors/"+other.String()+"/availability",
		ReplaceAvailabilityRequest{Dates: []string{"2024-01-02"}, Times: []string{"16:00"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[AvailabilityResponse](t, rec).Created)

	rec = srv.do(t, http.MethodGet, "/doctors/"+other.String()+"/slots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[SlotListResponse](t, rec)
	assert.Equal(t, "2024-01-01", slots.From)
	assert.Equal(t, "2024-01-07", slots.To)

	var got []string
	for _, s := range slots.Slots {
		got = append(got, s.Date+" "+s.Time)
	}
	assert.Equal(t, []string{"2024-01-02 16:00", "2024-01-03 14:00", "2024-01-03 15:00"}, got)
}

func TestHealthEndpoints(t *testing.T) {
	ok := Dependency{Name: "postgres", Required: true, Ping: func(context.Context) error { return nil }}
	down := Dependency{Name: "redis", Ping: func(context.Context) error { return errors.New("refused") }}

	srv := newTestServer(t, ok, down)
	rec := srv.do(t, http.MethodGet, "/health/live", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[LivenessResponse](t, rec).Status)

	rec = srv.do(t, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "down"}, ready.Dependencies)

	failing := Dependency{Name: "postgres", Required: true, Ping: func(context.Context) error { return errors.New("down") }}
	srv = newTestServer(t, failing)
	rec = srv.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.do(t, http.MethodGet, "/stats", nil)

	rec := srv.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/stats"`)
}
