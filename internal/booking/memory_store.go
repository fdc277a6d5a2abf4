package booking

import (
	"context"
	"iter"
	"slices"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// MemoryStore keeps both ledgers in process. Transactions run one at a time on a
// copy of the state that replaces the live state only when fn succeeds.
// It backs STORAGE_DRIVER=memory and the tests.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState(), now: time.Now}
}

type memState struct {
	slots      map[SlotKey]*Slot
	nextSlotID int64
	appts      map[uuid.UUID]*Appointment
	events     []EventLog
}

func newMemState() *memState {
	return &memState{
		slots: make(map[SlotKey]*Slot),
		appts: make(map[uuid.UUID]*Appointment),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		slots:      make(map[SlotKey]*Slot, len(s.slots)),
		nextSlotID: s.nextSlotID,
		appts:      make(map[uuid.UUID]*Appointment, len(s.appts)),
		events:     slices.Clone(s.events),
	}
	for k, v := range s.slots {
		cp := *v
		c.slots[k] = &cp
	}
	for k, v := range s.appts {
		cp := *v
		c.appts[k] = &cp
	}
	return c
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, l Ledgers) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := m.state.clone()
	if err := fn(ctx, memLedgers{st: work, now: m.now}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// ListDoctorIDs returns every doctor that owns at least one slot. The memory
// store has no doctors table, so a doctor with no slots is not listed and
// EnsureRollingAvailability never tops that doctor up.
func (m *MemoryStore) ListDoctorIDs(_ context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[uuid.UUID]struct{})
	for k := range m.state.slots {
		seen[k.DoctorID] = struct{}{}
	}
	ids := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// EventLog returns a copy of the recorded events.
func (m *MemoryStore) EventLog() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.state.events)
}

// Reads outside InTx take the lock for the duration of the call.

func (m *MemoryStore) Slots() SlotLedger {
	return &lockedSlots{m: m}
}

func (m *MemoryStore) Appointments() AppointmentLedger {
	return &lockedAppointments{m: m}
}

func (m *MemoryStore) Events() EventRecorder {
	return &lockedEvents{m: m}
}

func (m *MemoryStore) view() memLedgers {
	return memLedgers{st: m.state, now: m.now}
}

type memLedgers struct {
	st  *memState
	now func() time.Time
}

func (l memLedgers) Slots() SlotLedger               { return memSlots(l) }
func (l memLedgers) Appointments() AppointmentLedger { return memAppointments(l) }
func (l memLedgers) Events() EventRecorder           { return memEvents(l) }

type memEvents memLedgers

func (e memEvents) InsertEvent(_ context.Context, ev EventLog) error {
	ev.ID = int64(len(e.st.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = e.now()
	}
	e.st.events = append(e.st.events, ev)
	return nil
}

type memSlots memLedgers

func (l memSlots) Generate(_ context.Context, doctorID uuid.UUID, dates []civil.Date, times []TimeOfDay) (int, error) {
	created := 0
	for _, d := range dates {
		for _, t := range times {
			key := SlotKey{DoctorID: doctorID, Date: d, Time: t}
			if _, ok := l.st.slots[key]; ok {
				continue
			}
			l.st.nextSlotID++
			l.st.slots[key] = &Slot{ID: l.st.nextSlotID, DoctorID: doctorID, Date: d, Time: t}
			created++
		}
	}
	return created, nil
}

func (l memSlots) Replace(ctx context.Context, doctorID uuid.UUID, dates []civil.Date, times []TimeOfDay) (int, error) {
	if len(dates) == 0 {
		return 0, nil
	}
	for key, s := range l.st.slots {
		if key.DoctorID == doctorID && !s.Booked && slices.Contains(dates, key.Date) {
			delete(l.st.slots, key)
		}
	}
	return l.Generate(ctx, doctorID, dates, times)
}

func (l memSlots) free(doctorID uuid.UUID, from, to civil.Date) []Slot {
	var out []Slot
	for key, s := range l.st.slots {
		if key.DoctorID != doctorID || s.Booked || key.Date.Before(from) || key.Date.After(to) {
			continue
		}
		if memAppointments(l).active(key) != nil {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Time < out[j].Time
	})
	return out
}

func (l memSlots) ListFree(_ context.Context, doctorID uuid.UUID, from, to civil.Date) iter.Seq2[Slot, error] {
	return func(yield func(Slot, error) bool) {
		for _, s := range l.free(doctorID, from, to) {
			if !yield(s, nil) {
				return
			}
		}
	}
}

func (l memSlots) Get(_ context.Context, key SlotKey) (*Slot, error) {
	s, ok := l.st.slots[key]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (l memSlots) Claim(_ context.Context, key SlotKey) error {
	s, ok := l.st.slots[key]
	if !ok {
		return ErrSlotNotFound
	}
	if s.Booked {
		return ErrSlotAlreadyBooked
	}
	s.Booked = true
	return nil
}

func (l memSlots) Release(_ context.Context, key SlotKey) error {
	if s, ok := l.st.slots[key]; ok {
		s.Booked = false
	}
	return nil
}

type memAppointments memLedgers

func (l memAppointments) active(key SlotKey) *Appointment {
	for _, a := range l.st.appts {
		if a.Status.Active() && a.Key() == key {
			return a
		}
	}
	return nil
}

func (l memAppointments) Create(_ context.Context, patientID uuid.UUID, key SlotKey) (*Appointment, error) {
	if l.active(key) != nil {
		return nil, ErrConflictingAppointment
	}
	now := l.now()
	a := &Appointment{
		ID:        uuid.New(),
		PatientID: patientID,
		DoctorID:  key.DoctorID,
		Date:      key.Date,
		Time:      key.Time,
		Status:    StatusBooked,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.st.appts[a.ID] = a
	cp := *a
	return &cp, nil
}

func (l memAppointments) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := l.st.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (l memAppointments) Lock(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return l.Get(ctx, id)
}

func (l memAppointments) FindActive(_ context.Context, key SlotKey) (*Appointment, error) {
	a := l.active(key)
	if a == nil {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (l memAppointments) booked(id uuid.UUID) (*Appointment, error) {
	a, ok := l.st.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status != StatusBooked {
		return nil, ErrInvalidTransition
	}
	return a, nil
}

func (l memAppointments) Complete(_ context.Context, id uuid.UUID, t Treatment, recordedBy uuid.UUID) (*Appointment, error) {
	a, err := l.booked(id)
	if err != nil {
		return nil, err
	}
	now := l.now()
	a.Status = StatusCompleted
	a.Treatment = &t
	a.RecordedBy = nullableUUID(recordedBy)
	a.CompletedAt = &now
	a.UpdatedAt = now
	cp := *a
	return &cp, nil
}

func (l memAppointments) Cancel(_ context.Context, id uuid.UUID, cancelledBy uuid.UUID) (*Appointment, error) {
	a, err := l.booked(id)
	if err != nil {
		return nil, err
	}
	now := l.now()
	a.Status = StatusCancelled
	a.CancelledBy = nullableUUID(cancelledBy)
	a.CancelledAt = &now
	a.UpdatedAt = now
	cp := *a
	return &cp, nil
}

func (l memAppointments) Reschedule(_ context.Context, id uuid.UUID, date civil.Date, at TimeOfDay) (*Appointment, error) {
	a, err := l.booked(id)
	if err != nil {
		return nil, err
	}
	key := SlotKey{DoctorID: a.DoctorID, Date: date, Time: at}
	if other := l.active(key); other != nil && other.ID != id {
		return nil, ErrConflictingAppointment
	}
	a.Date = date
	a.Time = at
	a.UpdatedAt = l.now()
	cp := *a
	return &cp, nil
}

func (l memAppointments) List(_ context.Context, filter AppointmentFilter) ([]Appointment, error) {
	var out []Appointment
	for _, a := range l.st.appts {
		if filter.DoctorID != uuid.Nil && a.DoctorID != filter.DoctorID {
			continue
		}
		if filter.PatientID != uuid.Nil && a.PatientID != filter.PatientID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.After(out[j].Date)
		}
		if out[i].Time != out[j].Time {
			return out[i].Time > out[j].Time
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (l memAppointments) CountByStatus(_ context.Context) (Stats, error) {
	var stats Stats
	for _, a := range l.st.appts {
		switch a.Status {
		case StatusBooked:
			stats.Booked++
		case StatusCompleted:
			stats.Completed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

type lockedSlots struct{ m *MemoryStore }

func (s *lockedSlots) with(fn func(l memSlots)) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	fn(memSlots(s.m.view()))
}

func (s *lockedSlots) Generate(ctx context.Context, doctorID uuid.UUID, dates []civil.Date, times []TimeOfDay) (n int, err error) {
	s.with(func(l memSlots) { n, err = l.Generate(ctx, doctorID, dates, times) })
	return n, err
}

func (s *lockedSlots) Replace(ctx context.Context, doctorID uuid.UUID, dates []civil.Date, times []TimeOfDay) (n int, err error) {
	s.with(func(l memSlots) { n, err = l.Replace(ctx, doctorID, dates, times) })
	return n, err
}

func (s *lockedSlots) ListFree(_ context.Context, doctorID uuid.UUID, from, to civil.Date) iter.Seq2[Slot, error] {
	return func(yield func(Slot, error) bool) {
		var snapshot []Slot
		s.with(func(l memSlots) { snapshot = l.free(doctorID, from, to) })
		for _, slot := range snapshot {
			if !yield(slot, nil) {
				return
			}
		}
	}
}

func (s *lockedSlots) Get(ctx context.Context, key SlotKey) (slot *Slot, err error) {
	s.with(func(l memSlots) { slot, err = l.Get(ctx, key) })
	return slot, err
}

func (s *lockedSlots) Claim(ctx context.Context, key SlotKey) (err error) {
	s.with(func(l memSlots) { err = l.Claim(ctx, key) })
	return err
}

func (s *lockedSlots) Release(ctx context.Context, key SlotKey) (err error) {
	s.with(func(l memSlots) { err = l.Release(ctx, key) })
	return err
}

type lockedAppointments struct{ m *MemoryStore }

func (s *lockedAppointments) with(fn func(l memAppointments)) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	fn(memAppointments(s.m.view()))
}

func (s *lockedAppointments) Create(ctx context.Context, patientID uuid.UUID, key SlotKey) (a *Appointment, err error) {
	s.with(func(l memAppointments) { a, err = l.Create(ctx, patientID, key) })
	return a, err
}

func (s *lockedAppointments) Get(ctx context.Context, id uuid.UUID) (a *Appointment, err error) {
	s.with(func(l memAppointments) { a, err = l.Get(ctx, id) })
	return a, err
}

func (s *lockedAppointments) Lock(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.Get(ctx, id)
}

func (s *lockedAppointments) FindActive(ctx context.Context, key SlotKey) (a *Appointment, err error) {
	s.with(func(l memAppointments) { a, err = l.FindActive(ctx, key) })
	return a, err
}

func (s *lockedAppointments) Complete(ctx context.Context, id uuid.UUID, t Treatment, recordedBy uuid.UUID) (a *Appointment, err error) {
	s.with(func(l memAppointments) { a, err = l.Complete(ctx, id, t, recordedBy) })
	return a, err
}

func (s *lockedAppointments) Cancel(ctx context.Context, id uuid.UUID, cancelledBy uuid.UUID) (a *Appointment, err error) {
	s.with(func(l memAppointments) { a, err = l.Cancel(ctx, id, cancelledBy) })
	return a, err
}

func (s *lockedAppointments) Reschedule(ctx context.Context, id uuid.UUID, date civil.Date, at TimeOfDay) (a *Appointment, err error) {
	s.with(func(l memAppointments) { a, err = l.Reschedule(ctx, id, date, at) })
	return a, err
}

func (s *lockedAppointments) List(ctx context.Context, filter AppointmentFilter) (out []Appointment, err error) {
	s.with(func(l memAppointments) { out, err = l.List(ctx, filter) })
	return out, err
}

func (s *lockedAppointments) CountByStatus(ctx context.Context) (stats Stats, err error) {
	s.with(func(l memAppointments) { stats, err = l.CountByStatus(ctx) })
	return stats, err
}

type lockedEvents struct{ m *MemoryStore }

func (s *lockedEvents) InsertEvent(ctx context.Context, ev EventLog) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memEvents(s.m.view()).InsertEvent(ctx, ev)
}
