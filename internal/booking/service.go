package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/hospital-booking/internal/config"
	"github.com/hackgods/hospital-booking/internal/logging"
	"github.com/hackgods/hospital-booking/internal/metrics"
	redisclient "github.com/hackgods/hospital-booking/internal/redis"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAvailabilityGenerated  = "AVAILABILITY_GENERATED"
	EventAvailabilityReplaced   = "AVAILABILITY_REPLACED"
)

// MaxGenerateDays caps a single availability generation request.
const MaxGenerateDays = 90

var bookingTracer = otel.Tracer("hospital.internal.booking")

// Service is the booking coordinator. It is the only writer that touches both
// ledgers, and always does so inside one unit of work.
type Service struct {
	store        Store
	locker       redisclient.Locker
	calendar     Calendar
	defaultTimes []TimeOfDay
	logger       *logging.Logger
	metrics      *metrics.BookingMetrics
}

type Option func(*Service)

// WithClock overrides the wall clock used for window checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.calendar.Now = now }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires the coordinator. locker may be nil, in which case bookings
// rely on the storage constraints alone.
func NewService(store Store, locker redisclient.Locker, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		store:    store,
		locker:   locker,
		calendar: NewCalendar(cfg.Location, cfg.BookingWindowDays),
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	times, err := ParseTimesOfDay(cfg.DailySlotTimes)
	if err != nil || len(times) == 0 {
		if err != nil {
			s.logger.Warn("ignoring configured slot times", "error", err.Error())
		}
		times = DefaultDailyTimes()
	}
	s.defaultTimes = times

	return s
}

func (s *Service) Calendar() Calendar {
	return s.calendar
}

// DefaultTimes returns the slot start times used when a caller supplies none.
func (s *Service) DefaultTimes() []TimeOfDay {
	return append([]TimeOfDay(nil), s.defaultTimes...)
}

// Book claims the slot and creates a Booked appointment for it. Losers of a
// concurrent race get ErrSlotAlreadyBooked or ErrConflictingAppointment and
// leave nothing behind.
func (s *Service) Book(ctx context.Context, patientID, doctorID uuid.UUID, date civil.Date, at TimeOfDay) (appt *Appointment, err error) {
	key := SlotKey{DoctorID: doctorID, Date: date, Time: at}
	ctx, done := s.start(ctx, "book", slotAttributes(key)...)
	defer done(&err)

	if err := s.checkBookable(key); err != nil {
		return nil, err
	}

	err = s.withSlotLock(ctx, key, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(ctx context.Context, l Ledgers) error {
			if err := l.Slots().Claim(ctx, key); err != nil {
				return err
			}

			existing, err := l.Appointments().FindActive(ctx, key)
			if err != nil {
				return fmt.Errorf("check active appointment: %w", err)
			}
			if existing != nil {
				return ErrConflictingAppointment
			}

			created, err := l.Appointments().Create(ctx, patientID, key)
			if err != nil {
				return err
			}
			appt = created

			return s.recordEvent(ctx, l, EventAppointmentBooked, &created.ID, map[string]any{
				"patient_id": patientID.String(),
				"doctor_id":  doctorID.String(),
				"date":       date.String(),
				"time":       at.String(),
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment booked",
		"appointment_id", appt.ID.String(),
		"patient_id", patientID.String(),
		"slot", key.String(),
	)
	return appt, nil
}

// Cancel moves a Booked appointment to Cancelled and frees its slot. A missing
// slot row does not block the cancellation.
func (s *Service) Cancel(ctx context.Context, id, requesterID uuid.UUID) (err error) {
	ctx, done := s.start(ctx, "cancel", attribute.String("appointment_id", id.String()))
	defer done(&err)

	var cancelled *Appointment
	err = s.store.InTx(ctx, func(ctx context.Context, l Ledgers) error {
		appt, err := l.Appointments().Cancel(ctx, id, requesterID)
		if err != nil {
			return err
		}
		cancelled = appt

		if err := l.Slots().Release(ctx, appt.Key()); err != nil {
			return fmt.Errorf("release slot: %w", err)
		}

		return s.recordEvent(ctx, l, EventAppointmentCancelled, &appt.ID, map[string]any{
			"requester_id": requesterID.String(),
			"slot":         appt.Key().String(),
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("appointment cancelled",
		"appointment_id", id.String(),
		"requester_id", requesterID.String(),
		"slot", cancelled.Key().String(),
	)
	return nil
}

// Reschedule moves a Booked appointment to a new slot. The new slot is claimed
// before the old one is released and all of it commits together, so the
// appointment always holds exactly one booked slot.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, date civil.Date, at TimeOfDay) (appt *Appointment, err error) {
	ctx, done := s.start(ctx, "reschedule",
		attribute.String("appointment_id", id.String()),
		attribute.String("date", date.String()),
		attribute.String("time", at.String()),
	)
	defer done(&err)

	// Doctor is not known until the appointment is loaded; validate the tuple first.
	if err := s.checkBookable(SlotKey{Date: date, Time: at}); err != nil {
		return nil, err
	}

	current, err := s.store.Appointments().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// Rechecked under FOR UPDATE below; this keeps the error kind stable when the lock is busy.
	if current.Status != StatusBooked {
		return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, current.Status)
	}
	newKey := SlotKey{DoctorID: current.DoctorID, Date: date, Time: at}

	var oldKey SlotKey
	err = s.withSlotLock(ctx, newKey, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(ctx context.Context, l Ledgers) error {
			locked, err := l.Appointments().Lock(ctx, id)
			if err != nil {
				return err
			}
			if locked.Status != StatusBooked {
				return fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, locked.Status)
			}
			oldKey = locked.Key()
			target := SlotKey{DoctorID: locked.DoctorID, Date: date, Time: at}

			if err := l.Slots().Claim(ctx, target); err != nil {
				return err
			}

			updated, err := l.Appointments().Reschedule(ctx, id, date, at)
			if err != nil {
				return err
			}
			appt = updated

			if err := l.Slots().Release(ctx, oldKey); err != nil {
				return fmt.Errorf("release old slot: %w", err)
			}

			return s.recordEvent(ctx, l, EventAppointmentRescheduled, &id, map[string]any{
				"from": oldKey.String(),
				"to":   target.String(),
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment rescheduled",
		"appointment_id", id.String(),
		"from", oldKey.String(),
		"to", appt.Key().String(),
	)
	return appt, nil
}

// Complete records the treatment and closes the appointment. The slot stays
// booked because a Completed appointment still occupies it.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, t Treatment, recordedBy uuid.UUID) (appt *Appointment, err error) {
	ctx, done := s.start(ctx, "complete", attribute.String("appointment_id", id.String()))
	defer done(&err)

	err = s.store.InTx(ctx, func(ctx context.Context, l Ledgers) error {
		updated, err := l.Appointments().Complete(ctx, id, t, recordedBy)
		if err != nil {
			return err
		}
		appt = updated

		return s.recordEvent(ctx, l, EventAppointmentCompleted, &id, map[string]any{
			"recorded_by": recordedBy.String(),
			"diagnosis":   t.Diagnosis,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment completed", "appointment_id", id.String())
	return appt, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (appt *Appointment, err error) {
	ctx, done := s.start(ctx, "get_appointment", attribute.String("appointment_id", id.String()))
	defer done(&err)

	return s.store.Appointments().Get(ctx, id)
}

// ListAppointments returns a doctor's schedule or a patient's history, newest first.
func (s *Service) ListAppointments(ctx context.Context, filter AppointmentFilter) (out []Appointment, err error) {
	ctx, done := s.start(ctx, "list_appointments")
	defer done(&err)

	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
	}
	out, err = s.store.Appointments().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return out, nil
}

func (s *Service) Stats(ctx context.Context) (stats Stats, err error) {
	ctx, done := s.start(ctx, "stats")
	defer done(&err)

	stats, err = s.store.Appointments().CountByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count appointments: %w", err)
	}
	return stats, nil
}

// GenerateAvailability creates free slots for days consecutive dates starting at
// start. A zero start means today; empty times fall back to the configured
// defaults. Existing slots are left alone, so repeating a call is harmless.
func (s *Service) GenerateAvailability(ctx context.Context, doctorID uuid.UUID, start civil.Date, days int, times []TimeOfDay) (created int, err error) {
	ctx, done := s.start(ctx, "generate_availability",
		attribute.String("doctor_id", doctorID.String()),
		attribute.Int("days", days),
	)
	defer done(&err)

	if days <= 0 || days > MaxGenerateDays {
		return 0, fmt.Errorf("%w: days must be between 1 and %d, got %d", ErrOutOfWindow, MaxGenerateDays, days)
	}
	if start.IsZero() {
		start = s.calendar.Today()
	}
	if !start.IsValid() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidDate, start)
	}
	times, err = s.slotTimes(times)
	if err != nil {
		return 0, err
	}
	dates := DatesFrom(start, days)

	err = s.store.InTx(ctx, func(ctx context.Context, l Ledgers) error {
		n, err := l.Slots().Generate(ctx, doctorID, dates, times)
		if err != nil {
			return err
		}
		created = n

		return s.recordEvent(ctx, l, EventAvailabilityGenerated, nil, map[string]any{
			"doctor_id":  doctorID.String(),
			"start_date": start.String(),
			"days":       days,
			"times":      times,
			"created":    n,
		})
	})
	if err != nil {
		return 0, err
	}

	s.metrics.AddSlotsGenerated(created)
	s.logger.Debug("availability generated",
		"doctor_id", doctorID.String(),
		"start_date", start.String(),
		"days", days,
		"created", created,
	)
	return created, nil
}

// ReplaceAvailability swaps the free slots on the given dates for a new time
// selection. Booked slots survive.
func (s *Service) ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, dates []civil.Date, times []TimeOfDay) (created int, err error) {
	ctx, done := s.start(ctx, "replace_availability",
		attribute.String("doctor_id", doctorID.String()),
		attribute.Int("dates", len(dates)),
	)
	defer done(&err)

	if len(dates) == 0 {
		return 0, fmt.Errorf("%w: at least one date is required", ErrInvalidDate)
	}
	for _, d := range dates {
		if !d.IsValid() {
			return 0, fmt.Errorf("%w: %s", ErrInvalidDate, d)
		}
	}
	times, err = s.slotTimes(times)
	if err != nil {
		return 0, err
	}

	err = s.store.InTx(ctx, func(ctx context.Context, l Ledgers) error {
		n, err := l.Slots().Replace(ctx, doctorID, dates, times)
		if err != nil {
			return err
		}
		created = n

		dateStrings := make([]string, len(dates))
		for i, d := range dates {
			dateStrings[i] = d.String()
		}
		return s.recordEvent(ctx, l, EventAvailabilityReplaced, nil, map[string]any{
			"doctor_id": doctorID.String(),
			"dates":     dateStrings,
			"times":     times,
			"created":   n,
		})
	})
	if err != nil {
		return 0, err
	}

	s.metrics.AddSlotsGenerated(created)
	return created, nil
}

// ListFreeSlots yields free slots for the doctor in [from, to]. Zero bounds
// default to the rolling window. Slots that have already started are skipped,
// since Book would reject them. Each range over the result queries afresh.
func (s *Service) ListFreeSlots(ctx context.Context, doctorID uuid.UUID, from, to civil.Date) iter.Seq2[Slot, error] {
	w := s.calendar.Window()
	if from.IsZero() {
		from = w.Start
	}
	if to.IsZero() {
		to = w.End()
	}
	if to.Before(from) {
		return func(func(Slot, error) bool) {}
	}
	free := s.store.Slots().ListFree(ctx, doctorID, from, to)
	return func(yield func(Slot, error) bool) {
		for slot, err := range free {
			if err == nil && s.calendar.Started(slot.Date, slot.Time) {
				continue
			}
			if !yield(slot, err) {
				return
			}
		}
	}
}

// EnsureRollingAvailability tops up every doctor's calendar with the default
// slots for the current window. Failures for one doctor do not stop the rest.
func (s *Service) EnsureRollingAvailability(ctx context.Context) (created int, err error) {
	ids, err := s.store.ListDoctorIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list doctors: %w", err)
	}

	w := s.calendar.Window()
	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		n, err := s.GenerateAvailability(ctx, id, w.Start, w.Days, nil)
		if err != nil {
			s.logger.Error(err, "rolling availability failed", "doctor_id", id.String())
			errs = append(errs, fmt.Errorf("doctor %s: %w", id, err))
			continue
		}
		created += n
	}

	s.logger.Info("rolling availability ensured",
		"doctors", len(ids),
		"created", created,
		"window_start", w.Start.String(),
	)
	return created, errors.Join(errs...)
}

func (s *Service) slotTimes(times []TimeOfDay) ([]TimeOfDay, error) {
	if len(times) == 0 {
		return s.DefaultTimes(), nil
	}
	raw := make([]string, len(times))
	for i, t := range times {
		raw[i] = string(t)
	}
	return ParseTimesOfDay(raw)
}

func (s *Service) checkBookable(key SlotKey) error {
	if !key.Date.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidDate, key.Date)
	}
	if key.Time.Minutes() < 0 {
		return fmt.Errorf("%w: %q", ErrInvalidTime, string(key.Time))
	}
	return s.calendar.CheckBookable(key.Date, key.Time)
}

// withSlotLock serializes bookers of one slot through Redis when a locker is
// configured. If Redis itself is unreachable the work still runs, since the
// database constraints decide the outcome either way.
func (s *Service) withSlotLock(ctx context.Context, key SlotKey, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}

	ran := false
	err := s.locker.WithSlotLock(ctx, key.String(), func(ctx context.Context) error {
		ran = true
		return fn(ctx)
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return ErrSlotBeingBooked
	case err != nil && !ran:
		s.logger.Warn("slot lock unavailable, continuing without it",
			"slot", key.String(),
			"error", err.Error(),
		)
		return fn(ctx)
	}
	return err
}

func (s *Service) recordEvent(ctx context.Context, l Ledgers, eventType string, appointmentID *uuid.UUID, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.calendar.now(),
	}
	if err := l.Events().InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("record %s event: %w", eventType, err)
	}
	return nil
}

// start opens a span for op and returns a func that closes it and records the
// outcome. Call it deferred with a pointer to the named error result.
func (s *Service) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := bookingTracer.Start(ctx, "booking."+op, trace.WithAttributes(attrs...))
	started := time.Now()

	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.ObserveOperation(op, Outcome(err), time.Since(started).Seconds())
		span.End()
	}
}

func slotAttributes(key SlotKey) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("doctor_id", key.DoctorID.String()),
		attribute.String("date", key.Date.String()),
		attribute.String("time", key.Time.String()),
	}
}

// Outcome turns an operation error into a short, stable label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSlotBeingBooked):
		return "slot_being_booked"
	case errors.Is(err, ErrSlotAlreadyBooked):
		return "slot_already_booked"
	case errors.Is(err, ErrSlotNotFound):
		return "slot_not_found"
	case errors.Is(err, ErrConflictingAppointment):
		return "conflicting_appointment"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrOutOfWindow):
		return "out_of_window"
	case errors.Is(err, ErrPatientNotFound):
		return "patient_not_found"
	case errors.Is(err, ErrDoctorNotFound):
		return "doctor_not_found"
	case errors.Is(err, ErrInvalidDate), errors.Is(err, ErrInvalidTime), errors.Is(err, ErrInvalidStatus):
		return "invalid_input"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
