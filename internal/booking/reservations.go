package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	redisclient "github.com/hackgods/practitioner-booking/internal/redis"
)

type CreateReservationRequest struct {
	PractitionerID uuid.UUID
	Date           Date
	Time           TimeOfDay
	Type           AppointmentType
	Intake         Intake
}

type ReservationDetail struct {
	Reservation
	Payment      *Payment      `json:"payment,omitempty"`
	Review       *Review       `json:"review,omitempty"`
	Practitioner *Practitioner `json:"practitioner,omitempty"`
}

type ReviewInput struct {
	Rating         int
	Text           string
	WouldRecommend bool
}

type ReviewOutcome struct {
	Review             Review  `json:"review"`
	PractitionerRating float64 `json:"practitioner_rating"`
}

// ReservationStats is the operator dashboard view. Today, ThisWeek and
// ThisMonth count reservations by appointment date in the booking
// location; weeks run Monday to Sunday.
type ReservationStats struct {
	Total           int            `json:"total"`
	ByStatus        map[Status]int `json:"by_status"`
	Today           int            `json:"today"`
	ThisWeek        int            `json:"this_week"`
	ThisMonth       int            `json:"this_month"`
	UpcomingPending []Reservation  `json:"upcoming_pending"`
}

const upcomingPendingLimit = 5

func normalizeIntake(in Intake) (Intake, error) {
	in.ChiefComplaint = strings.TrimSpace(in.ChiefComplaint)
	in.Symptoms = strings.TrimSpace(in.Symptoms)
	in.MedicalHistory = strings.TrimSpace(in.MedicalHistory)
	in.CurrentMedications = strings.TrimSpace(in.CurrentMedications)
	in.Allergies = strings.TrimSpace(in.Allergies)

	var problems []string
	if in.Age < 1 || in.Age > 120 {
		problems = append(problems, "age must be between 1 and 120")
	}
	switch in.Gender {
	case GenderMale, GenderFemale, GenderOther:
	default:
		problems = append(problems, "gender must be male, female or other")
	}
	if in.ChiefComplaint == "" {
		problems = append(problems, "chief complaint is required")
	}

	if len(problems) > 0 {
		return in, newError(KindValidation, ReasonInvalidIntake, "%s", strings.Join(problems, "; "))
	}
	return in, nil
}

// CreateReservation is the only path that books a slot. Checks run in a
// fixed order and the first failure is returned.
func (s *Service) CreateReservation(ctx context.Context, actor Actor, req CreateReservationRequest) (res *Reservation, err error) {
	ctx, span := s.startSpan(ctx, "CreateReservation",
		attribute.String("practitioner_id", req.PractitionerID.String()),
		attribute.String("date", req.Date.String()),
		attribute.String("time", req.Time.String()))
	defer func() { endSpan(span, err) }()
	defer func() {
		if reason := ReasonOf(err); reason != "" {
			s.metrics.BookingRejected(reason)
		}
	}()

	p, err := s.loadPractitioner(ctx, req.PractitionerID)
	if err != nil {
		return nil, err
	}
	if !req.Type.Valid() {
		return nil, newError(KindValidation, ReasonInvalidAppointmentType, "unknown appointment type %q", req.Type)
	}
	intake, err := normalizeIntake(req.Intake)
	if err != nil {
		return nil, err
	}
	if !req.Time.Valid() {
		return nil, newError(KindValidation, ReasonInvalidTime, "time %d is outside the day", int(req.Time))
	}

	now := s.clock()
	if err := s.checkBookable(req.Date, req.Time, now); err != nil {
		return nil, err
	}

	createdAt := s.now()
	candidate := Reservation{
		ID:              uuid.New(),
		PractitionerID:  p.ID,
		PatientID:       actor.ID,
		Date:            req.Date,
		Time:            req.Time,
		DurationMinutes: int(s.cfg.Duration / time.Minute),
		Type:            req.Type,
		Status:          StatusPending,
		FeeCents:        p.FeeCents,
		Intake:          intake,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
	payment := Payment{
		ID:            uuid.New(),
		ReservationID: candidate.ID,
		AmountCents:   p.FeeCents,
		Method:        PaymentMethodCash,
		Status:        PaymentPending,
		CreatedAt:     createdAt,
	}

	var created *Reservation
	key := redisclient.SlotKey(p.ID, req.Date.String(), req.Time.String())

	err = s.withSlotLock(ctx, key, func(lockCtx context.Context) error {
		taken, err := s.repo.SlotTaken(lockCtx, p.ID, req.Date, req.Time, s.policy.WriteBlocking(), uuid.Nil)
		if err != nil {
			return fmt.Errorf("check slot: %w", err)
		}
		if taken {
			s.metrics.SlotConflict("precheck")
			return ErrSlotUnavailable
		}

		r, err := s.repo.CreateReservation(lockCtx, candidate, payment)
		if err != nil {
			if errors.Is(err, errSlotTaken) {
				s.metrics.SlotConflict("constraint")
				s.log.Info("booking lost race at insert",
					zap.String("key", key), zap.Stringer("patient_id", actor.ID))
				return ErrSlotUnavailable
			}
			return fmt.Errorf("create reservation: %w", err)
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ReservationCreated(string(created.Type))
	s.logEvent(ctx, created.ID, EventReservationCreated, map[string]any{
		"practitioner_id": created.PractitionerID.String(),
		"patient_id":      created.PatientID.String(),
		"date":            created.Date.String(),
		"time":            created.Time.String(),
	})
	s.log.Info("reservation created",
		zap.Stringer("reservation_id", created.ID),
		zap.Stringer("practitioner_id", created.PractitionerID),
		zap.String("slot", created.Date.String()+" "+created.Time.String()))

	return created, nil
}

// CancelReservation lets the owner or an operator cancel a pending or
// confirmed reservation whose time has not yet come.
func (s *Service) CancelReservation(ctx context.Context, actor Actor, id uuid.UUID) (res *Reservation, err error) {
	ctx, span := s.startSpan(ctx, "CancelReservation", attribute.String("reservation_id", id.String()))
	defer func() { endSpan(span, err) }()

	current, err := s.loadReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.ownedBy(actor) && !s.isOperator(actor) {
		return nil, ErrForbidden
	}
	return s.cancel(ctx, actor, current, "")
}

func (s *Service) cancel(ctx context.Context, actor Actor, current *Reservation, notes string) (*Reservation, error) {
	switch current.Status {
	case StatusCancelled:
		return nil, ErrAlreadyCancelled
	case StatusPending, StatusConfirmed:
	default:
		return nil, newError(KindValidation, ReasonNotCancellable, "a %s reservation cannot be cancelled", current.Status)
	}

	now := s.clock()
	if !current.scheduledAt(s.cfg.Location).After(now) {
		return nil, newError(KindValidation, ReasonNotCancellable, "the appointment time has already passed")
	}
	return s.apply(ctx, actor, current, StatusCancelled, notes, now)
}

// TransitionReservation applies an operator driven status change.
func (s *Service) TransitionReservation(ctx context.Context, actor Actor, id uuid.UUID, to Status, notes string) (res *Reservation, err error) {
	ctx, span := s.startSpan(ctx, "TransitionReservation",
		attribute.String("reservation_id", id.String()),
		attribute.String("to", string(to)))
	defer func() { endSpan(span, err) }()

	if !s.isOperator(actor) {
		return nil, ErrForbidden
	}
	if !to.Valid() {
		return nil, newError(KindValidation, ReasonInvalidStatus, "unknown status %q", to)
	}

	current, err := s.loadReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	notes = strings.TrimSpace(notes)

	if to == StatusCancelled {
		return s.cancel(ctx, actor, current, notes)
	}
	if !current.Status.CanTransitionTo(to) {
		return nil, newError(KindValidation, ReasonIllegalTransition, "cannot move a %s reservation to %s", current.Status, to)
	}

	now := s.clock()
	if current.Status == StatusConfirmed && to == StatusInProgress {
		scheduled := current.scheduledAt(s.cfg.Location)
		duration := time.Duration(current.DurationMinutes) * time.Minute
		if !withinStartWindow(scheduled, now, s.cfg.StartWindowLead, duration) {
			return nil, newError(KindValidation, ReasonOutsideStartWindow,
				"visit can start from %s until %s",
				scheduled.Add(-s.cfg.StartWindowLead).Format(operatorNoteLayout),
				scheduled.Add(duration).Format(operatorNoteLayout))
		}
	}

	return s.apply(ctx, actor, current, to, notes, now)
}

// ConfirmPayment is the patient side of pending -> confirmed.
func (s *Service) ConfirmPayment(ctx context.Context, actor Actor, id uuid.UUID) (res *Reservation, err error) {
	ctx, span := s.startSpan(ctx, "ConfirmPayment", attribute.String("reservation_id", id.String()))
	defer func() { endSpan(span, err) }()

	current, err := s.loadReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.ownedBy(actor) && !s.isOperator(actor) {
		return nil, ErrForbidden
	}
	if current.Status != StatusPending {
		return nil, newError(KindValidation, ReasonIllegalTransition, "only pending reservations can be confirmed, this one is %s", current.Status)
	}
	return s.apply(ctx, actor, current, StatusConfirmed, "", s.clock())
}

func (s *Service) apply(ctx context.Context, actor Actor, current *Reservation, to Status, notes string, now time.Time) (*Reservation, error) {
	t := Transition{
		ReservationID: current.ID,
		From:          current.Status,
		To:            to,
		At:            now,
		ActorID:       actor.ID,
	}
	if notes != "" {
		t.NoteLine = operatorNote(now, notes)
	}

	updated, err := s.repo.ApplyTransition(ctx, t)
	if err != nil {
		if errors.Is(err, errStatusChanged) {
			return nil, newError(KindConflict, ReasonIllegalTransition, "reservation changed status concurrently, reload and retry")
		}
		return nil, fmt.Errorf("apply transition %s->%s: %w", t.From, t.To, err)
	}

	s.metrics.Transitioned(string(to))
	s.logEvent(ctx, updated.ID, transitionEvent(to), map[string]any{
		"from":     string(t.From),
		"to":       string(t.To),
		"actor_id": actor.ID.String(),
	})
	s.log.Info("reservation transitioned",
		zap.Stringer("reservation_id", updated.ID),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)))

	return updated, nil
}

// AppendNotes adds a timestamped operator note in any state.
func (s *Service) AppendNotes(ctx context.Context, actor Actor, id uuid.UUID, text string) (*Reservation, error) {
	if !s.isOperator(actor) {
		return nil, ErrForbidden
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, newError(KindValidation, ReasonInvalidNotes, "notes must not be empty")
	}

	res, err := s.repo.AppendOperatorNotes(ctx, id, operatorNote(s.clock(), text))
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("append notes: %w", err)
	}
	return res, nil
}

// RescheduleReservation moves a pending or confirmed reservation to a new
// slot, re-running the booking checks against it.
func (s *Service) RescheduleReservation(ctx context.Context, actor Actor, id uuid.UUID, date Date, t TimeOfDay) (res *Reservation, err error) {
	ctx, span := s.startSpan(ctx, "RescheduleReservation",
		attribute.String("reservation_id", id.String()),
		attribute.String("date", date.String()),
		attribute.String("time", t.String()))
	defer func() { endSpan(span, err) }()
	defer func() {
		if reason := ReasonOf(err); reason != "" {
			s.metrics.BookingRejected(reason)
		}
	}()

	current, err := s.loadReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.ownedBy(actor) && !s.isOperator(actor) {
		return nil, ErrForbidden
	}
	if current.Status != StatusPending && current.Status != StatusConfirmed {
		return nil, newError(KindValidation, ReasonNotReschedulable, "a %s reservation cannot be rescheduled", current.Status)
	}

	now := s.clock()
	if !current.scheduledAt(s.cfg.Location).After(now) {
		return nil, newError(KindValidation, ReasonNotReschedulable, "the appointment time has already passed")
	}
	if !t.Valid() {
		return nil, newError(KindValidation, ReasonInvalidTime, "time %d is outside the day", int(t))
	}
	if date == current.Date && t == current.Time {
		return current, nil
	}
	if err := s.checkBookable(date, t, now); err != nil {
		return nil, err
	}

	var moved *Reservation
	key := redisclient.SlotKey(current.PractitionerID, date.String(), t.String())

	err = s.withSlotLock(ctx, key, func(lockCtx context.Context) error {
		taken, err := s.repo.SlotTaken(lockCtx, current.PractitionerID, date, t, s.policy.WriteBlocking(), current.ID)
		if err != nil {
			return fmt.Errorf("check slot: %w", err)
		}
		if taken {
			s.metrics.SlotConflict("precheck")
			return ErrSlotUnavailable
		}

		r, err := s.repo.Reschedule(lockCtx, current.ID, date, t)
		if err != nil {
			if errors.Is(err, errSlotTaken) {
				s.metrics.SlotConflict("constraint")
				return ErrSlotUnavailable
			}
			if errors.Is(err, errStatusChanged) {
				return newError(KindConflict, ReasonNotReschedulable, "reservation changed status concurrently, reload and retry")
			}
			return fmt.Errorf("reschedule reservation: %w", err)
		}
		moved = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, moved.ID, EventReservationRescheduled, map[string]any{
		"from": current.Date.String() + " " + current.Time.String(),
		"to":   moved.Date.String() + " " + moved.Time.String(),
	})
	return moved, nil
}

// SubmitReview records the owner's review of a completed visit and
// refreshes the practitioner rating.
func (s *Service) SubmitReview(ctx context.Context, actor Actor, id uuid.UUID, in ReviewInput) (*ReviewOutcome, error) {
	current, err := s.loadReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.ownedBy(actor) {
		return nil, ErrForbidden
	}
	if current.Status != StatusCompleted {
		return nil, newError(KindValidation, ReasonNotReviewable, "only completed reservations can be reviewed")
	}
	if in.Rating < 1 || in.Rating > 5 {
		return nil, newError(KindValidation, ReasonInvalidRating, "rating must be between 1 and 5")
	}

	rv := Review{
		ID:             uuid.New(),
		ReservationID:  current.ID,
		PractitionerID: current.PractitionerID,
		PatientID:      current.PatientID,
		Rating:         in.Rating,
		Text:           strings.TrimSpace(in.Text),
		WouldRecommend: in.WouldRecommend,
		CreatedAt:      s.now(),
	}

	created, rating, err := s.repo.CreateReview(ctx, rv)
	if err != nil {
		if errors.Is(err, errDuplicateReview) {
			return nil, ErrAlreadyReviewed
		}
		return nil, fmt.Errorf("create review: %w", err)
	}

	s.logEvent(ctx, current.ID, EventReservationReviewed, map[string]any{"rating": in.Rating})
	return &ReviewOutcome{Review: *created, PractitionerRating: rating}, nil
}

// GetReservation returns the reservation with its payment, review and
// practitioner.
func (s *Service) GetReservation(ctx context.Context, actor Actor, id uuid.UUID) (*ReservationDetail, error) {
	res, err := s.loadReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !res.ownedBy(actor) && !s.isOperator(actor) {
		return nil, ErrForbidden
	}

	detail := &ReservationDetail{Reservation: *res}

	payment, err := s.repo.GetPayment(ctx, id)
	switch {
	case err == nil:
		detail.Payment = payment
	case !errors.Is(err, ErrReservationNotFound):
		return nil, fmt.Errorf("load payment: %w", err)
	}

	review, err := s.repo.GetReview(ctx, id)
	switch {
	case err == nil:
		detail.Review = review
	case !errors.Is(err, errNoReview):
		return nil, fmt.Errorf("load review: %w", err)
	}

	p, err := s.loadPractitioner(ctx, res.PractitionerID)
	if err != nil {
		return nil, err
	}
	detail.Practitioner = p

	return detail, nil
}

// ListReservations lists the actor's own reservations. Operators may list
// everyone's and filter freely.
func (s *Service) ListReservations(ctx context.Context, actor Actor, f ReservationFilter) ([]Reservation, error) {
	if !s.isOperator(actor) {
		id := actor.ID
		f.PatientID = &id
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, newError(KindValidation, ReasonInvalidStatus, "unknown status %q", f.Status)
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	list, err := s.repo.ListReservations(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	if list == nil {
		list = []Reservation{}
	}
	return list, nil
}

func (s *Service) ReservationStats(ctx context.Context, actor Actor) (*ReservationStats, error) {
	if !s.isOperator(actor) {
		return nil, ErrForbidden
	}

	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count reservations: %w", err)
	}

	stats := &ReservationStats{ByStatus: make(map[Status]int, len(Statuses))}
	for _, st := range Statuses {
		stats.ByStatus[st] = counts[st]
		stats.Total += counts[st]
	}

	today := DateOf(s.clock())
	weekStart := today.AddDays(-today.Weekday())
	monthStart := Date{Year: today.Year, Month: today.Month, Day: 1}
	monthEnd := DateOf(monthStart.Time().AddDate(0, 1, -1))

	buckets := []struct {
		from, to Date
		into     *int
	}{
		{today, today, &stats.Today},
		{weekStart, weekStart.AddDays(6), &stats.ThisWeek},
		{monthStart, monthEnd, &stats.ThisMonth},
	}
	for _, b := range buckets {
		n, err := s.repo.CountBetween(ctx, b.from, b.to)
		if err != nil {
			return nil, fmt.Errorf("count reservations %s..%s: %w", b.from, b.to, err)
		}
		*b.into = n
	}

	pending, err := s.repo.UpcomingPending(ctx, today, upcomingPendingLimit)
	if err != nil {
		return nil, fmt.Errorf("list upcoming pending: %w", err)
	}
	if pending == nil {
		pending = []Reservation{}
	}
	stats.UpcomingPending = pending
	return stats, nil
}
