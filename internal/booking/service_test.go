package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practitioner-booking/internal/config"
	redisclient "github.com/hackgods/practitioner-booking/internal/redis"
)

// Wednesday 2026-10-14 08:00 UTC.
var baseNow = time.Date(2026, time.October, 14, 8, 0, 0, 0, time.UTC)

var (
	today      = Date{Year: 2026, Month: time.October, Day: 14}
	nextMonday = Date{Year: 2026, Month: time.October, Day: 19}
)

type roleAuthz struct{}

func (roleAuthz) IsOperator(a Actor) bool { return a.Role == "operator" }

type countingRecorder struct {
	mu          sync.Mutex
	created     int
	rejections  map[string]int
	conflicts   map[string]int
	transitions map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		rejections:  make(map[string]int),
		conflicts:   make(map[string]int),
		transitions: make(map[string]int),
	}
}

func (r *countingRecorder) ReservationCreated(string) { r.mu.Lock(); r.created++; r.mu.Unlock() }
func (r *countingRecorder) BookingRejected(reason string) {
	r.mu.Lock()
	r.rejections[reason]++
	r.mu.Unlock()
}
func (r *countingRecorder) SlotConflict(source string) {
	r.mu.Lock()
	r.conflicts[source]++
	r.mu.Unlock()
}
func (r *countingRecorder) Transitioned(status string) {
	r.mu.Lock()
	r.transitions[status]++
	r.mu.Unlock()
}
func (r *countingRecorder) AvailabilityQueried() {}

type stubLocker struct{ err error }

func (l stubLocker) WithSlotLock(ctx context.Context, _ string, fn func(context.Context) error) error {
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

type fixture struct {
	t            *testing.T
	repo         *memRepo
	svc          *Service
	metrics      *countingRecorder
	now          time.Time
	practitioner *Practitioner
	patient      Actor
	operator     Actor
}

type fixtureOption func(*config.BookingConfig, *redisclient.Locker)

func pendingHidesSlot() fixtureOption {
	return func(c *config.BookingConfig, _ *redisclient.Locker) { c.PendingHidesSlot = true }
}

func withLocker(l redisclient.Locker) fixtureOption {
	return func(_ *config.BookingConfig, dst *redisclient.Locker) { *dst = l }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := config.BookingConfig{
		Location:        time.UTC,
		HorizonDays:     30,
		SlotStride:      30 * time.Minute,
		Duration:        30 * time.Minute,
		StartWindowLead: 10 * time.Minute,
	}
	var locker redisclient.Locker
	for _, opt := range opts {
		opt(&cfg, &locker)
	}

	f := &fixture{
		t:        t,
		repo:     newMemRepo(),
		metrics:  newCountingRecorder(),
		now:      baseNow,
		patient:  Actor{ID: uuid.New(), Role: "patient"},
		operator: Actor{ID: uuid.New(), Role: "operator"},
	}
	f.practitioner = f.repo.addPractitioner(Practitioner{
		FullName:  "Rajesh Sharma",
		Specialty: SpecialtyGeneral,
		FeeCents:  80000,
		Status:    PractitionerAvailable,
		Rating:    5,
		Verified:  true,
	})
	f.repo.addWindow(Window{PractitionerID: f.practitioner.ID, Weekday: 0, Start: NewTimeOfDay(9, 0), End: NewTimeOfDay(11, 0), Active: true})
	f.repo.addWindow(Window{PractitionerID: f.practitioner.ID, Weekday: 2, Start: NewTimeOfDay(9, 0), End: NewTimeOfDay(12, 0), Active: true})

	f.svc = NewService(f.repo, locker, roleAuthz{}, cfg, nil,
		WithClock(func() time.Time { return f.now }),
		WithRecorder(f.metrics),
	)
	return f
}

func (f *fixture) intake() Intake {
	return Intake{Age: 34, Gender: GenderFemale, ChiefComplaint: "persistent cough"}
}

func (f *fixture) book(actor Actor, d Date, tod TimeOfDay) (*Reservation, error) {
	return f.svc.CreateReservation(context.Background(), actor, CreateReservationRequest{
		PractitionerID: f.practitioner.ID,
		Date:           d,
		Time:           tod,
		Type:           TypeConsultation,
		Intake:         f.intake(),
	})
}

func (f *fixture) mustBook(actor Actor, d Date, tod TimeOfDay) *Reservation {
	f.t.Helper()
	res, err := f.book(actor, d, tod)
	if err != nil {
		f.t.Fatalf("book %s %s: %v", d, tod, err)
	}
	return res
}

func (f *fixture) slots(d Date) []string {
	f.t.Helper()
	slots, err := f.svc.ListAvailableSlots(context.Background(), f.practitioner.ID, d)
	if err != nil {
		f.t.Fatalf("ListAvailableSlots(%s): %v", d, err)
	}
	return times(slots)
}

func (f *fixture) transition(id uuid.UUID, to Status) *Reservation {
	f.t.Helper()
	res, err := f.svc.TransitionReservation(context.Background(), f.operator, id, to, "")
	if err != nil {
		f.t.Fatalf("transition to %s: %v", to, err)
	}
	return res
}

func assertReason(t *testing.T, err error, reason string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", reason)
	}
	if got := ReasonOf(err); got != reason {
		t.Fatalf("expected reason %s, got %q (%v)", reason, got, err)
	}
}

func TestMondayScenario(t *testing.T) {
	f := newFixture(t)

	if got, want := f.slots(nextMonday), []string{"09:00", "09:30", "10:00", "10:30"}; !equalStrings(got, want) {
		t.Fatalf("initial slots %v, want %v", got, want)
	}

	res := f.mustBook(f.patient, nextMonday, NewTimeOfDay(10, 0))
	if res.Status != StatusPending || res.FeeCents != 80000 || res.DurationMinutes != 30 {
		t.Fatalf("unexpected reservation %+v", res)
	}

	// Pending does not hide the slot under the default policy.
	if got := f.slots(nextMonday); len(got) != 4 {
		t.Fatalf("pending reservation should stay visible, got %v", got)
	}

	if _, err := f.svc.ConfirmPayment(context.Background(), f.patient, res.ID); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if got, want := f.slots(nextMonday), []string{"09:00", "09:30", "10:30"}; !equalStrings(got, want) {
		t.Fatalf("slots after confirm %v, want %v", got, want)
	}
}

func TestPendingHidesSlotWhenConfigured(t *testing.T) {
	f := newFixture(t, pendingHidesSlot())
	f.mustBook(f.patient, nextMonday, NewTimeOfDay(10, 0))

	if got, want := f.slots(nextMonday), []string{"09:00", "09:30", "10:30"}; !equalStrings(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCreateReservation_TemporalRules(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		date   Date
		time   TimeOfDay
		reason string
	}{
		{"yesterday", today.AddDays(-1), NewTimeOfDay(10, 0), ReasonDateInPast},
		{"day 31", today.AddDays(31), NewTimeOfDay(10, 0), ReasonBeyondHorizon},
		{"earlier today", today, NewTimeOfDay(7, 30), ReasonTimeInPast},
		{"exactly now", today, NewTimeOfDay(8, 0), ReasonTimeInPast},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.book(f.patient, tt.date, tt.time)
			assertReason(t, err, tt.reason)
		})
	}

	if _, err := f.book(f.patient, today.AddDays(30), NewTimeOfDay(10, 0)); err != nil {
		t.Errorf("day 30 must be accepted: %v", err)
	}
	if _, err := f.book(f.patient, today, NewTimeOfDay(8, 30)); err != nil {
		t.Errorf("later today must be accepted: %v", err)
	}
	if f.metrics.rejections[ReasonTimeInPast] != 2 {
		t.Errorf("expected 2 time_in_past rejections, got %d", f.metrics.rejections[ReasonTimeInPast])
	}
}

func TestCreateReservation_InputValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateReservation(ctx, f.patient, CreateReservationRequest{
		PractitionerID: uuid.New(), Date: nextMonday, Time: NewTimeOfDay(10, 0), Type: TypeConsultation, Intake: f.intake(),
	})
	if !errors.Is(err, ErrPractitionerNotFound) {
		t.Fatalf("expected practitioner_not_found, got %v", err)
	}

	_, err = f.svc.CreateReservation(ctx, f.patient, CreateReservationRequest{
		PractitionerID: f.practitioner.ID, Date: nextMonday, Time: NewTimeOfDay(10, 0), Type: "surgery", Intake: f.intake(),
	})
	assertReason(t, err, ReasonInvalidAppointmentType)

	_, err = f.svc.CreateReservation(ctx, f.patient, CreateReservationRequest{
		PractitionerID: f.practitioner.ID, Date: nextMonday, Time: NewTimeOfDay(10, 0), Type: TypeConsultation,
		Intake: Intake{Age: 0, Gender: "unknown", ChiefComplaint: "   "},
	})
	assertReason(t, err, ReasonInvalidIntake)
	for _, part := range []string{"age", "gender", "chief complaint"} {
		if !strings.Contains(err.Error(), part) {
			t.Errorf("intake error should mention %s: %v", part, err)
		}
	}
}

func TestCreateReservation_PrecheckBlocksPending(t *testing.T) {
	f := newFixture(t)
	f.mustBook(f.patient, nextMonday, NewTimeOfDay(10, 0))

	other := Actor{ID: uuid.New(), Role: "patient"}
	_, err := f.book(other, nextMonday, NewTimeOfDay(10, 0))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected slot_unavailable, got %v", err)
	}
	if f.metrics.conflicts["precheck"] != 1 {
		t.Errorf("expected a precheck conflict, got %v", f.metrics.conflicts)
	}
}

func TestCreateReservation_RaceHasOneWinner(t *testing.T) {
	f := newFixture(t)

	var arrived sync.WaitGroup
	arrived.Add(2)
	f.repo.beforeInsert = func() {
		arrived.Done()
		arrived.Wait()
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.book(Actor{ID: uuid.New(), Role: "patient"}, nextMonday, NewTimeOfDay(10, 0))
		}(i)
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrSlotUnavailable):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("expected 1 success and 1 conflict, got %d and %d", successes, conflicts)
	}
	if n := f.repo.activeCount(f.practitioner.ID, nextMonday, NewTimeOfDay(10, 0)); n != 1 {
		t.Fatalf("ledger holds %d active rows for the slot, want 1", n)
	}
	if f.metrics.conflicts["constraint"] != 1 {
		t.Errorf("expected the loser to hit the constraint, got %v", f.metrics.conflicts)
	}
}

func TestCreateReservation_LockOutcomes(t *testing.T) {
	held := newFixture(t, withLocker(stubLocker{err: redisclient.ErrLockNotAcquired}))
	_, err := held.book(held.patient, nextMonday, NewTimeOfDay(10, 0))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("held lock should read as slot_unavailable, got %v", err)
	}
	if held.metrics.conflicts["lock"] != 1 {
		t.Errorf("expected a lock conflict, got %v", held.metrics.conflicts)
	}

	down := newFixture(t, withLocker(stubLocker{err: fmt.Errorf("%w: dial tcp: refused", redisclient.ErrLockUnavailable)}))
	if _, err := down.book(down.patient, nextMonday, NewTimeOfDay(10, 0)); err != nil {
		t.Fatalf("booking should proceed when redis is down: %v", err)
	}
}

func TestFilterConsistency(t *testing.T) {
	f := newFixture(t)

	for offset := 0; offset <= 31; offset++ {
		d := today.AddDays(offset)
		slots := f.slots(d)
		if offset == 31 && len(slots) != 0 {
			t.Fatalf("no slots should be offered beyond the horizon, got %v", slots)
		}
		for _, s := range slots {
			tod, _ := ParseTimeOfDay(s)
			if _, err := f.book(Actor{ID: uuid.New(), Role: "patient"}, d, tod); err != nil {
				t.Fatalf("listed slot %s %s failed to book: %v", d, s, err)
			}
		}
	}
}

func TestCancelReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.mustBook(f.patient, nextMonday, NewTimeOfDay(10, 0))

	stranger := Actor{ID: uuid.New(), Role: "patient"}
	if _, err := f.svc.CancelReservation(ctx, stranger, res.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger cancel: expected forbidden, got %v", err)
	}

	cancelled, err := f.svc.CancelReservation(ctx, f.patient, res.ID)
	if err != nil {
		t.Fatalf("CancelReservation: %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.CancelledAt == nil || *cancelled.CancelledBy != f.patient.ID {
		t.Fatalf("unexpected cancelled reservation %+v", cancelled)
	}

	_, err = f.svc.CancelReservation(ctx, f.patient, res.ID)
	if !errors.Is(err, ErrAlreadyCancelled) {
		t.Fatalf("second cancel: expected already_cancelled, got %v", err)
	}

	// The slot is free again for a new booking.
	if _, err := f.book(stranger, nextMonday, NewTimeOfDay(10, 0)); err != nil {
		t.Fatalf("rebooking a cancelled slot: %v", err)
	}
}

func TestCancelReservation_AfterAppointmentTime(t *testing.T) {
	f := newFixture(t)
	res := f.mustBook(f.patient, today, NewTimeOfDay(9, 0))

	f.now = time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC)
	_, err := f.svc.CancelReservation(context.Background(), f.patient, res.ID)
	assertReason(t, err, ReasonNotCancellable)
}

func TestLifecycle_CompletionSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.mustBook(f.patient, nextMonday, NewTimeOfDay(10, 0))

	f.transition(res.ID, StatusConfirmed)

	_, err := f.svc.TransitionReservation(ctx, f.operator, res.ID, StatusInProgress, "")
	assertReason(t, err, ReasonOutsideStartWindow)

	f.now = time.Date(2026, time.October, 19, 9, 50, 0, 0, time.UTC)
	inProgress, err := f.svc.TransitionReservation(ctx, f.operator, res.ID, StatusInProgress, "patient checked in")
	if err != nil {
		t.Fatalf("start visit: %v", err)
	}
	if inProgress.OperatorNotes != "[Operator Update - 2026-10-19 09:50]: patient checked in" {
		t.Errorf("unexpected notes %q", inProgress.OperatorNotes)
	}

	completed := f.transition(res.ID, StatusCompleted)
	if completed.CompletedAt == nil {
		t.Error("completed_at should be set")
	}

	p, _ := f.repo.GetPayment(ctx, res.ID)
	if p.Status != PaymentPaid || p.PaidAt == nil {
		t.Errorf("payment should be paid after completion, got %+v", p)
	}
	pr, _ := f.repo.GetPractitioner(ctx, f.practitioner.ID)
	if pr.CompletedVisits != 1 {
		t.Errorf("completed visits = %d, want 1", pr.CompletedVisits)
	}

	_, err = f.svc.CancelReservation(ctx, f.patient, res.ID)
	assertReason(t, err, ReasonNotCancellable)

	if want := []string{"RESERVATION_CREATED", "RESERVATION_CONFIRMED", "RESERVATION_IN_PROGRESS", "RESERVATION_COMPLETED"}; !equalStrings(f.repo.eventTypes(), want) {
		t.Errorf("events %v, want %v", f.repo.eventTypes(), want)
	}
}

func TestTransitionReservation_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.mustBook(f.patient, nextMonday, NewTimeOfDay(10, 0))

	if _, err := f.svc.TransitionReservation(ctx, f.patient, res.ID, StatusConfirmed, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("patient transition: expected forbidden, got %v", err)
	}

	_, err := f.svc.TransitionReservation(ctx, f.operator, res.ID, StatusCompleted, "")
	assertReason(t, err, ReasonIllegalTransition)

	_, err = f.svc.TransitionReservation(ctx, f.operator, res.ID, "archived", "")
	assertReason(t, err, ReasonInvalidStatus)

	if _, err := f.svc.TransitionReservation(ctx, f.operator, uuid.New(), StatusConfirmed, ""); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("expected reservation_not_found, got %v", err)
	}

	f.transition(res.ID, StatusConfirmed)
	noShow := f.transition(res.ID, StatusNoShow)
	if !noShow.Status.Terminal() {
		t.Errorf("no_show should be terminal")
	}

	_, err = f.svc.TransitionReservation(ctx, f.operator, res.ID, StatusCancelled, "")
	assertReason(t, err, ReasonNotCancellable)
}

func TestConfirmPayment_OnlyPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.mustBook(f.patient, nextMonday, NewTimeOfDay(10, 0))

	confirmed, err := f.svc.ConfirmPayment(ctx, f.patient, res.ID)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if confirmed.ConfirmedAt == nil {
		t.Error("confirmed_at should be recorded")
	}

	_, err = f.svc.ConfirmPayment(ctx, f.patient, res.ID)
	assertReason(t, err, ReasonIllegalTransition)
}

func TestAppendNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.mustBook(f.patient, nextMonday, NewTimeOfDay(10, 0))

	if _, err := f.svc.AppendNotes(ctx, f.patient, res.ID, "hi"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	_, err := f.svc.AppendNotes(ctx, f.operator, res.ID, "  ")
	assertReason(t, err, ReasonInvalidNotes)

	f.svc.AppendNotes(ctx, f.operator, res.ID, "first")
	got, err := f.svc.AppendNotes(ctx, f.operator, res.ID, "second")
	if err != nil {
		t.Fatalf("AppendNotes: %v", err)
	}
	want := "[Operator Update - 2026-10-14 08:00]: first\n\n[Operator Update - 2026-10-14 08:00]: second"
	if got.OperatorNotes != want {
		t.Errorf("notes = %q, want %q", got.OperatorNotes, want)
	}
}

func TestRescheduleReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.mustBook(f.patient, nextMonday, NewTimeOfDay(10, 0))
	other := f.mustBook(Actor{ID: uuid.New(), Role: "patient"}, nextMonday, NewTimeOfDay(9, 0))

	_, err := f.svc.RescheduleReservation(ctx, f.patient, res.ID, nextMonday, NewTimeOfDay(9, 0))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected slot_unavailable onto a taken slot, got %v", err)
	}

	_, err = f.svc.RescheduleReservation(ctx, f.patient, res.ID, today.AddDays(-1), NewTimeOfDay(9, 0))
	assertReason(t, err, ReasonDateInPast)

	moved, err := f.svc.RescheduleReservation(ctx, f.patient, res.ID, nextMonday, NewTimeOfDay(10, 30))
	if err != nil {
		t.Fatalf("RescheduleReservation: %v", err)
	}
	if moved.Time != NewTimeOfDay(10, 30) {
		t.Errorf("time = %s, want 10:30", moved.Time)
	}
	if n := f.repo.activeCount(f.practitioner.ID, nextMonday, NewTimeOfDay(10, 0)); n != 0 {
		t.Errorf("old slot should be free, has %d active rows", n)
	}

	if _, err := f.svc.CancelReservation(ctx, f.operator, other.ID); err != nil {
		t.Fatalf("operator cancel: %v", err)
	}
	_, err = f.svc.RescheduleReservation(ctx, f.operator, other.ID, nextMonday, NewTimeOfDay(9, 30))
	assertReason(t, err, ReasonNotReschedulable)
}

func TestRescheduleReservation_CancelledMidway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.mustBook(f.patient, nextMonday, NewTimeOfDay(10, 0))

	// The operator cancels after the reschedule has loaded the row.
	f.repo.beforeReschedule = func() {
		f.repo.beforeReschedule = nil
		if _, err := f.svc.CancelReservation(ctx, f.operator, res.ID); err != nil {
			t.Errorf("concurrent cancel: %v", err)
		}
	}

	_, err := f.svc.RescheduleReservation(ctx, f.patient, res.ID, nextMonday, NewTimeOfDay(10, 30))
	assertReason(t, err, ReasonNotReschedulable)
	var domainErr *Error
	if !errors.As(err, &domainErr) || domainErr.Kind != KindConflict {
		t.Errorf("expected a conflict, got %v", err)
	}

	got, err := f.repo.GetReservation(ctx, res.ID)
	if err != nil {
		t.Fatalf("GetReservation: %v", err)
	}
	if got.Status != StatusCancelled || got.Date != nextMonday || got.Time != NewTimeOfDay(10, 0) {
		t.Errorf("cancelled reservation was modified: %s %s %s", got.Status, got.Date, got.Time)
	}
	if n := f.repo.activeCount(f.practitioner.ID, nextMonday, NewTimeOfDay(10, 30)); n != 0 {
		t.Errorf("target slot should stay free, has %d active rows", n)
	}
}

func TestSubmitReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.mustBook(f.patient, nextMonday, NewTimeOfDay(10, 0))

	_, err := f.svc.SubmitReview(ctx, f.patient, res.ID, ReviewInput{Rating: 4})
	assertReason(t, err, ReasonNotReviewable)

	f.transition(res.ID, StatusConfirmed)
	f.transition(res.ID, StatusCompleted)

	if _, err := f.svc.SubmitReview(ctx, f.operator, res.ID, ReviewInput{Rating: 4}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("only the owner may review, got %v", err)
	}
	_, err = f.svc.SubmitReview(ctx, f.patient, res.ID, ReviewInput{Rating: 6})
	assertReason(t, err, ReasonInvalidRating)

	out, err := f.svc.SubmitReview(ctx, f.patient, res.ID, ReviewInput{Rating: 4, Text: "thorough", WouldRecommend: true})
	if err != nil {
		t.Fatalf("SubmitReview: %v", err)
	}
	if out.PractitionerRating != 4 {
		t.Errorf("rating = %v, want 4", out.PractitionerRating)
	}

	_, err = f.svc.SubmitReview(ctx, f.patient, res.ID, ReviewInput{Rating: 5})
	if !errors.Is(err, ErrAlreadyReviewed) {
		t.Fatalf("expected already_reviewed, got %v", err)
	}

	detail, err := f.svc.GetReservation(ctx, f.patient, res.ID)
	if err != nil {
		t.Fatalf("GetReservation: %v", err)
	}
	if detail.Review == nil || detail.Review.Rating != 4 || detail.Review.Text != "thorough" || !detail.Review.WouldRecommend {
		t.Errorf("review missing from detail: %+v", detail.Review)
	}
	if detail.Payment == nil || detail.Payment.Status != PaymentPaid {
		t.Errorf("completed visit should carry a paid payment, got %+v", detail.Payment)
	}
}

func TestListUpcomingWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	all, err := f.svc.ListUpcomingWindow(ctx, f.practitioner.ID, 0)
	if err != nil {
		t.Fatalf("ListUpcomingWindow: %v", err)
	}
	// Wednesdays 10-14 .. 11-11 and Mondays 10-19 .. 11-09.
	if len(all) != 9 {
		t.Fatalf("expected 9 dates, got %d: %+v", len(all), all)
	}
	if all[0].Date != today || all[0].SlotCount != 6 {
		t.Errorf("first entry %+v, want today with 6 slots", all[0])
	}

	res := f.mustBook(f.patient, nextMonday, NewTimeOfDay(10, 0))
	f.transition(res.ID, StatusConfirmed)

	week, err := f.svc.ListUpcomingWindow(ctx, f.practitioner.ID, 7)
	if err != nil {
		t.Fatalf("ListUpcomingWindow: %v", err)
	}
	if len(week) != 3 {
		t.Fatalf("expected 3 dates in a week, got %+v", week)
	}
	if week[1].Date != nextMonday || week[1].SlotCount != 3 {
		t.Errorf("monday entry %+v, want 3 slots", week[1])
	}

	clamped, _ := f.svc.ListUpcomingWindow(ctx, f.practitioner.ID, 90)
	if got := clamped[len(clamped)-1].Date; got.After(today.AddDays(30)) {
		t.Errorf("last date %s is beyond the horizon", got)
	}

	if _, err := f.svc.ListUpcomingWindow(ctx, uuid.New(), 7); !errors.Is(err, ErrPractitionerNotFound) {
		t.Errorf("expected practitioner_not_found, got %v", err)
	}
}

func TestListPractitioners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.addPractitioner(Practitioner{FullName: "Unverified Doctor", Specialty: SpecialtyGeneral, Status: PractitionerAvailable})
	f.repo.addPractitioner(Practitioner{FullName: "Sunita Patel", Specialty: SpecialtyCardiology, Status: PractitionerAvailable, Verified: true})

	list, err := f.svc.ListPractitioners(ctx, SpecialtyGeneral, "")
	if err != nil {
		t.Fatalf("ListPractitioners: %v", err)
	}
	if len(list) != 1 || list[0].ID != f.practitioner.ID {
		t.Fatalf("expected only the verified general practitioner, got %+v", list)
	}
	if !list[0].AvailableToday || list[0].NextAvailable == nil || *list[0].NextAvailable != today {
		t.Errorf("expected availability today, got %+v", list[0])
	}

	f.now = time.Date(2026, time.October, 14, 11, 45, 0, 0, time.UTC)
	list, _ = f.svc.ListPractitioners(ctx, "", "sharma")
	if len(list) != 1 {
		t.Fatalf("search should match by name, got %+v", list)
	}
	if list[0].AvailableToday || list[0].NextAvailable == nil || *list[0].NextAvailable != nextMonday {
		t.Errorf("expected next availability on monday, got %+v", list[0])
	}

	cardio, _ := f.svc.ListPractitioners(ctx, SpecialtyCardiology, "")
	if len(cardio) != 1 || cardio[0].NextAvailable != nil {
		t.Errorf("practitioner without windows should have no next date, got %+v", cardio)
	}

	_, err = f.svc.ListPractitioners(ctx, "astrology", "")
	assertReason(t, err, ReasonInvalidSpecialty)
}

func TestWindows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := WindowInput{PractitionerID: f.practitioner.ID, Weekday: 0, Start: NewTimeOfDay(10, 30), End: NewTimeOfDay(12, 0)}

	if _, err := f.svc.CreateWindow(ctx, f.patient, in); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	_, err := f.svc.CreateWindow(ctx, f.operator, in)
	assertReason(t, err, ReasonWindowOverlap)

	bad := in
	bad.Start, bad.End = NewTimeOfDay(12, 0), NewTimeOfDay(12, 0)
	_, err = f.svc.CreateWindow(ctx, f.operator, bad)
	assertReason(t, err, ReasonInvalidWindow)

	bad = in
	bad.Weekday = 7
	_, err = f.svc.CreateWindow(ctx, f.operator, bad)
	assertReason(t, err, ReasonInvalidWindow)

	in.Start = NewTimeOfDay(11, 0)
	adjacent, err := f.svc.CreateWindow(ctx, f.operator, in)
	if err != nil {
		t.Fatalf("adjacent window should be accepted: %v", err)
	}
	if got := f.slots(nextMonday); len(got) != 6 {
		t.Errorf("expected 6 monday slots after extending, got %v", got)
	}

	windows, err := f.svc.ListWindows(ctx, f.practitioner.ID)
	if err != nil || len(windows) != 3 {
		t.Fatalf("ListWindows = %d windows, err %v", len(windows), err)
	}

	if _, err := f.svc.SetWindowActive(ctx, f.operator, adjacent.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if got := f.slots(nextMonday); len(got) != 4 {
		t.Errorf("inactive window should not produce slots, got %v", got)
	}

	_, err = f.svc.CreateWindow(ctx, f.operator, WindowInput{
		PractitionerID: f.practitioner.ID, Weekday: 0, Start: NewTimeOfDay(11, 30), End: NewTimeOfDay(13, 0),
	})
	if err != nil {
		t.Fatalf("window over an inactive one should be accepted: %v", err)
	}
	_, err = f.svc.SetWindowActive(ctx, f.operator, adjacent.ID, true)
	assertReason(t, err, ReasonWindowOverlap)

	if _, err := f.svc.SetWindowActive(ctx, f.operator, uuid.New(), true); !errors.Is(err, ErrWindowNotFound) {
		t.Errorf("expected window_not_found, got %v", err)
	}
}

func TestCreateWindow_ConcurrentOverlapHasOneWinner(t *testing.T) {
	f := newFixture(t)
	f.repo.beforeWindowInsert = func() { time.Sleep(2 * time.Millisecond) }

	const operators = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		overlaps int
	)
	for i := 0; i < operators; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := NewTimeOfDay(13, 10*i)
			_, err := f.svc.CreateWindow(context.Background(), f.operator, WindowInput{
				PractitionerID: f.practitioner.ID,
				Weekday:        1,
				Start:          start,
				End:            start.Add(2 * time.Hour),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case ReasonOf(err) == ReasonWindowOverlap:
				overlaps++
			default:
				t.Errorf("operator %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if created != 1 || overlaps != operators-1 {
		t.Fatalf("created=%d overlaps=%d, want 1 and %d", created, overlaps, operators-1)
	}
	windows, _ := f.repo.ListActiveWindows(context.Background(), f.practitioner.ID, 1)
	if len(windows) != 1 {
		t.Errorf("expected one tuesday window, got %+v", windows)
	}
}

func TestGetAndListReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.mustBook(f.patient, nextMonday, NewTimeOfDay(10, 0))
	stranger := Actor{ID: uuid.New(), Role: "patient"}
	f.mustBook(stranger, nextMonday, NewTimeOfDay(9, 0))

	detail, err := f.svc.GetReservation(ctx, f.patient, mine.ID)
	if err != nil {
		t.Fatalf("GetReservation: %v", err)
	}
	if detail.Payment == nil || detail.Payment.Status != PaymentPending || detail.Payment.AmountCents != 80000 {
		t.Errorf("unexpected payment %+v", detail.Payment)
	}
	if detail.Practitioner == nil || detail.Practitioner.ID != f.practitioner.ID {
		t.Errorf("practitioner missing from detail")
	}
	if detail.Review != nil {
		t.Errorf("unreviewed reservation should have no review, got %+v", detail.Review)
	}

	if _, err := f.svc.GetReservation(ctx, stranger, mine.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("stranger read: expected forbidden, got %v", err)
	}
	if _, err := f.svc.GetReservation(ctx, f.operator, mine.ID); err != nil {
		t.Errorf("operator read: %v", err)
	}

	own, err := f.svc.ListReservations(ctx, f.patient, ReservationFilter{})
	if err != nil || len(own) != 1 || own[0].ID != mine.ID {
		t.Fatalf("patient should only see own reservations, got %+v (%v)", own, err)
	}
	all, _ := f.svc.ListReservations(ctx, f.operator, ReservationFilter{})
	if len(all) != 2 {
		t.Errorf("operator should see all reservations, got %d", len(all))
	}

	walkIn := f.mustBook(Actor{ID: uuid.New(), Role: "patient"}, today, NewTimeOfDay(10, 0))

	stats, err := f.svc.ReservationStats(ctx, f.operator)
	if err != nil {
		t.Fatalf("ReservationStats: %v", err)
	}
	if stats.Total != 3 || stats.ByStatus[StatusPending] != 3 || stats.ByStatus[StatusCompleted] != 0 {
		t.Errorf("unexpected status counts %+v", stats)
	}
	// Today is Wednesday 2026-10-14; the monday bookings fall in next week.
	if stats.Today != 1 || stats.ThisWeek != 1 || stats.ThisMonth != 3 {
		t.Errorf("today=%d week=%d month=%d, want 1, 1, 3", stats.Today, stats.ThisWeek, stats.ThisMonth)
	}
	if len(stats.UpcomingPending) != 3 || stats.UpcomingPending[0].ID != walkIn.ID ||
		stats.UpcomingPending[1].Time != NewTimeOfDay(9, 0) || stats.UpcomingPending[2].ID != mine.ID {
		t.Errorf("upcoming pending not ordered soonest first: %+v", stats.UpcomingPending)
	}
	if _, err := f.svc.ReservationStats(ctx, f.patient); !errors.Is(err, ErrForbidden) {
		t.Errorf("patient stats: expected forbidden, got %v", err)
	}
}
