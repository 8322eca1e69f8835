package booking

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository. It enforces the same uniqueness rules
// as the Postgres schema so race tests exercise the constraint path.
type memRepo struct {
	mu            sync.Mutex
	practitioners map[uuid.UUID]*Practitioner
	windows       map[uuid.UUID]*Window
	reservations  map[uuid.UUID]*Reservation
	payments      map[uuid.UUID]*Payment
	reviews       map[uuid.UUID]*Review
	events        []EventLog

	// beforeInsert runs inside CreateReservation before the uniqueness
	// check, letting tests widen the race window.
	beforeInsert func()
	// beforeReschedule runs at the start of Reschedule, before the store is
	// locked.
	beforeReschedule func()
	// beforeWindowInsert runs at the start of CreateWindow, before the store
	// is locked.
	beforeWindowInsert func()

	scheduleMu sync.Mutex
}

func newMemRepo() *memRepo {
	return &memRepo{
		practitioners: make(map[uuid.UUID]*Practitioner),
		windows:       make(map[uuid.UUID]*Window),
		reservations:  make(map[uuid.UUID]*Reservation),
		payments:      make(map[uuid.UUID]*Payment),
		reviews:       make(map[uuid.UUID]*Review),
	}
}

func (m *memRepo) addPractitioner(p Practitioner) *Practitioner {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.practitioners[p.ID] = &p
	return &p
}

func (m *memRepo) addWindow(w Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	m.windows[w.ID] = &w
}

func (m *memRepo) activeCount(practitionerID uuid.UUID, d Date, t TimeOfDay) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.reservations {
		if r.PractitionerID == practitionerID && r.Date == d && r.Time == t && activeStatus(r.Status) {
			n++
		}
	}
	return n
}

func activeStatus(s Status) bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusInProgress
}

func (m *memRepo) GetPractitioner(_ context.Context, id uuid.UUID) (*Practitioner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.practitioners[id]
	if !ok {
		return nil, ErrPractitionerNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) ListPractitioners(_ context.Context, f PractitionerFilter) ([]Practitioner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Practitioner
	search := strings.ToLower(f.Search)
	for _, p := range m.practitioners {
		if f.Specialty != "" && p.Specialty != f.Specialty {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.FullName), search) &&
			!strings.Contains(string(p.Specialty), search) {
			continue
		}
		if f.BookableOnly && (!p.Verified || p.Status != PractitionerAvailable) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].FullName < out[j].FullName
	})
	return out, nil
}

func (m *memRepo) ListWindows(_ context.Context, practitionerID uuid.UUID) ([]Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Window
	for _, w := range m.windows {
		if w.PractitionerID == practitionerID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weekday != out[j].Weekday {
			return out[i].Weekday < out[j].Weekday
		}
		return out[i].Start < out[j].Start
	})
	return out, nil
}

func (m *memRepo) ListActiveWindows(ctx context.Context, practitionerID uuid.UUID, weekday int) ([]Window, error) {
	all, _ := m.ListWindows(ctx, practitionerID)
	var out []Window
	for _, w := range all {
		if w.Weekday == weekday && w.Active {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memRepo) GetWindow(_ context.Context, id uuid.UUID) (*Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[id]
	if !ok {
		return nil, ErrWindowNotFound
	}
	cp := *w
	return &cp, nil
}

// WithScheduleLock serializes on one mutex for every practitioner and weekday.
func (m *memRepo) WithScheduleLock(ctx context.Context, _ uuid.UUID, _ int, fn func(ctx context.Context) error) error {
	m.scheduleMu.Lock()
	defer m.scheduleMu.Unlock()
	return fn(ctx)
}

func (m *memRepo) CreateWindow(_ context.Context, w Window) (*Window, error) {
	if m.beforeWindowInsert != nil {
		m.beforeWindowInsert()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.windows {
		if o.PractitionerID == w.PractitionerID && o.Weekday == w.Weekday && o.Start == w.Start {
			return nil, errWindowExists
		}
	}
	cp := w
	m.windows[w.ID] = &cp
	return &w, nil
}

func (m *memRepo) SetWindowActive(_ context.Context, id uuid.UUID, active bool) (*Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[id]
	if !ok {
		return nil, ErrWindowNotFound
	}
	w.Active = active
	cp := *w
	return &cp, nil
}

func (m *memRepo) ReservedTimes(_ context.Context, practitionerID uuid.UUID, date Date, statuses []Status) ([]TimeOfDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TimeOfDay
	for _, r := range m.reservations {
		if r.PractitionerID == practitionerID && r.Date == date && containsStatus(statuses, r.Status) {
			out = append(out, r.Time)
		}
	}
	return out, nil
}

func (m *memRepo) ReservedSlotsBetween(_ context.Context, practitionerID uuid.UUID, from, to Date, statuses []Status) ([]ReservedSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ReservedSlot
	for _, r := range m.reservations {
		if r.PractitionerID != practitionerID || r.Date.Before(from) || r.Date.After(to) {
			continue
		}
		if containsStatus(statuses, r.Status) {
			out = append(out, ReservedSlot{Date: r.Date, Time: r.Time})
		}
	}
	return out, nil
}

func (m *memRepo) SlotTaken(_ context.Context, practitionerID uuid.UUID, date Date, t TimeOfDay, statuses []Status, exclude uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reservations {
		if r.ID == exclude {
			continue
		}
		if r.PractitionerID == practitionerID && r.Date == date && r.Time == t && containsStatus(statuses, r.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) CreateReservation(_ context.Context, r Reservation, p Payment) (*Reservation, error) {
	if m.beforeInsert != nil {
		m.beforeInsert()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.reservations {
		if o.PractitionerID == r.PractitionerID && o.Date == r.Date && o.Time == r.Time && activeStatus(o.Status) {
			return nil, errSlotTaken
		}
	}
	cp := r
	m.reservations[r.ID] = &cp
	pp := p
	m.payments[r.ID] = &pp
	return &r, nil
}

func (m *memRepo) GetReservation(_ context.Context, id uuid.UUID) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) ListReservations(_ context.Context, f ReservationFilter) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reservation
	for _, r := range m.reservations {
		if f.PatientID != nil && r.PatientID != *f.PatientID {
			continue
		}
		if f.PractitionerID != nil && r.PractitionerID != *f.PractitionerID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Date != nil && r.Date != *f.Date {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].Time > out[j].Time
	})
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memRepo) ApplyTransition(_ context.Context, t Transition) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[t.ReservationID]
	if !ok || r.Status != t.From {
		return nil, errStatusChanged
	}

	at := t.At
	r.Status = t.To
	r.UpdatedAt = at
	switch t.To {
	case StatusConfirmed:
		r.ConfirmedAt = &at
	case StatusCancelled:
		r.CancelledAt = &at
		by := t.ActorID
		r.CancelledBy = &by
	case StatusCompleted:
		r.CompletedAt = &at
		if p := m.payments[r.ID]; p != nil && p.Status != PaymentPaid {
			p.Status = PaymentPaid
			p.PaidAt = &at
		}
		if pr := m.practitioners[r.PractitionerID]; pr != nil {
			pr.CompletedVisits++
		}
	}
	if t.NoteLine != "" {
		r.OperatorNotes = appendNote(r.OperatorNotes, t.NoteLine)
	}

	cp := *r
	return &cp, nil
}

func (m *memRepo) AppendOperatorNotes(_ context.Context, id uuid.UUID, line string) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	r.OperatorNotes = appendNote(r.OperatorNotes, line)
	cp := *r
	return &cp, nil
}

func (m *memRepo) Reschedule(_ context.Context, id uuid.UUID, date Date, t TimeOfDay) (*Reservation, error) {
	if m.beforeReschedule != nil {
		m.beforeReschedule()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	if r.Status != StatusPending && r.Status != StatusConfirmed {
		return nil, errStatusChanged
	}
	for _, o := range m.reservations {
		if o.ID != id && o.PractitionerID == r.PractitionerID && o.Date == date && o.Time == t && activeStatus(o.Status) {
			return nil, errSlotTaken
		}
	}
	r.Date = date
	r.Time = t
	cp := *r
	return &cp, nil
}

func (m *memRepo) CountByStatus(_ context.Context) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[Status]int)
	for _, r := range m.reservations {
		counts[r.Status]++
	}
	return counts, nil
}

func (m *memRepo) CountBetween(_ context.Context, from, to Date) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.reservations {
		if !r.Date.Before(from) && !r.Date.After(to) {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) UpcomingPending(_ context.Context, from Date, limit int) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reservation
	for _, r := range m.reservations {
		if r.Status == StatusPending && !r.Date.Before(from) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Time < out[j].Time
	})
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) GetPayment(_ context.Context, reservationID uuid.UUID) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[reservationID]
	if !ok {
		return nil, ErrReservationNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) CreateReview(_ context.Context, rv Review) (*Review, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.reviews[rv.ReservationID]; dup {
		return nil, 0, errDuplicateReview
	}
	cp := rv
	m.reviews[rv.ReservationID] = &cp

	sum, n := 0, 0
	for _, o := range m.reviews {
		if o.PractitionerID == rv.PractitionerID {
			sum += o.Rating
			n++
		}
	}
	rating := math.Round(float64(sum)/float64(n)*100) / 100
	if p := m.practitioners[rv.PractitionerID]; p != nil {
		p.Rating = rating
	}
	return &rv, rating, nil
}

func (m *memRepo) GetReview(_ context.Context, reservationID uuid.UUID) (*Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rv, ok := m.reviews[reservationID]
	if !ok {
		return nil, errNoReview
	}
	cp := *rv
	return &cp, nil
}

func (m *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memRepo) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.EventType
	}
	return out
}
