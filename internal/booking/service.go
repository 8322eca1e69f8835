package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-booking/internal/config"
	redisclient "github.com/hackgods/practitioner-booking/internal/redis"
)

const tracerName = "github.com/hackgods/practitioner-booking/internal/booking"

const (
	EventReservationCreated     = "RESERVATION_CREATED"
	EventReservationRescheduled = "RESERVATION_RESCHEDULED"
	EventReservationReviewed    = "RESERVATION_REVIEWED"
)

func transitionEvent(to Status) string {
	return "RESERVATION_" + strings.ToUpper(string(to))
}

// Authorizer decides whether an actor holds operator rights.
type Authorizer interface {
	IsOperator(actor Actor) bool
}

// Recorder receives domain measurements. metrics.Collector implements it.
type Recorder interface {
	ReservationCreated(appointmentType string)
	BookingRejected(reason string)
	SlotConflict(source string)
	Transitioned(status string)
	AvailabilityQueried()
}

type nopRecorder struct{}

func (nopRecorder) ReservationCreated(string) {}
func (nopRecorder) BookingRejected(string)    {}
func (nopRecorder) SlotConflict(string)       {}
func (nopRecorder) Transitioned(string)       {}
func (nopRecorder) AvailabilityQueried()      {}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	authz   Authorizer
	policy  BlockingPolicy
	cfg     config.BookingConfig
	log     *zap.Logger
	metrics Recorder
	tracer  trace.Tracer
	now     func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, authz Authorizer, cfg config.BookingConfig, log *zap.Logger, opts ...Option) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	if locker == nil {
		locker = redisclient.NewNoopLocker()
	}

	s := &Service{
		repo:    repo,
		locker:  locker,
		authz:   authz,
		policy:  NewBlockingPolicy(cfg.PendingHidesSlot),
		cfg:     cfg,
		log:     log.Named("booking"),
		metrics: nopRecorder{},
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() BlockingPolicy { return s.policy }

// clock returns now in the configured booking location.
func (s *Service) clock() time.Time {
	return s.now().In(s.cfg.Location)
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "booking."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if reason := ReasonOf(err); reason != "" {
			span.SetAttributes(attribute.String("booking.reason", reason))
		} else {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

func (s *Service) isOperator(actor Actor) bool {
	return s.authz != nil && s.authz.IsOperator(actor)
}

func (s *Service) loadPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	p, err := s.repo.GetPractitioner(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPractitionerNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load practitioner: %w", err)
	}
	return p, nil
}

func (s *Service) loadReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	res, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load reservation: %w", err)
	}
	return res, nil
}

// horizonEnd is the last bookable date when today is today.
func (s *Service) horizonEnd(today Date) Date {
	return today.AddDays(s.cfg.HorizonDays)
}

// checkBookable applies the temporal rules in order: the date is not
// before today, not beyond the horizon, and the instant is after now.
func (s *Service) checkBookable(date Date, t TimeOfDay, now time.Time) error {
	today := DateOf(now)
	if date.Before(today) {
		return newError(KindValidation, ReasonDateInPast, "date %s is in the past", date)
	}
	if date.After(s.horizonEnd(today)) {
		return newError(KindValidation, ReasonBeyondHorizon, "date %s is more than %d days ahead", date, s.cfg.HorizonDays)
	}
	if !date.At(t, s.cfg.Location).After(now) {
		return newError(KindValidation, ReasonTimeInPast, "%s %s has already passed", date, t)
	}
	return nil
}

// withSlotLock runs fn under the advisory slot lock. Losing the lock reads
// as slot_unavailable. When Redis itself fails fn runs unlocked and the
// unique index settles any race.
func (s *Service) withSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	err := s.locker.WithSlotLock(ctx, key, fn)
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.metrics.SlotConflict("lock")
		return ErrSlotUnavailable
	case errors.Is(err, redisclient.ErrLockUnavailable):
		s.log.Warn("slot lock unavailable, relying on unique index",
			zap.String("key", key), zap.Error(err))
		return fn(ctx)
	}
	return err
}

func (s *Service) logEvent(ctx context.Context, reservationID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		ReservationID: reservationID,
		Payload:       data,
		CreatedAt:     s.now(),
	}
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("insert reservation event",
			zap.String("event", eventType),
			zap.Stringer("reservation_id", reservationID),
			zap.Error(err))
	}
}

// Availability

// ListAvailableSlots returns the open slots for a practitioner on date.
// Dates outside today..today+horizon yield no slots so every returned slot
// passes the booking checks.
func (s *Service) ListAvailableSlots(ctx context.Context, practitionerID uuid.UUID, date Date) (slots []Slot, err error) {
	ctx, span := s.startSpan(ctx, "ListAvailableSlots",
		attribute.String("practitioner_id", practitionerID.String()),
		attribute.String("date", date.String()))
	defer func() { endSpan(span, err) }()

	if _, err := s.loadPractitioner(ctx, practitionerID); err != nil {
		return nil, err
	}
	s.metrics.AvailabilityQueried()

	return s.availableOn(ctx, practitionerID, date, s.clock())
}

func (s *Service) availableOn(ctx context.Context, practitionerID uuid.UUID, date Date, now time.Time) ([]Slot, error) {
	today := DateOf(now)
	if date.Before(today) || date.After(s.horizonEnd(today)) {
		return []Slot{}, nil
	}

	windows, err := s.repo.ListActiveWindows(ctx, practitionerID, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("load windows: %w", err)
	}
	candidates := GenerateSlots(windows, s.cfg.SlotStride)
	if len(candidates) == 0 {
		return []Slot{}, nil
	}

	times, err := s.repo.ReservedTimes(ctx, practitionerID, date, s.policy.ReadBlocking())
	if err != nil {
		return nil, fmt.Errorf("load reserved times: %w", err)
	}
	return FilterAvailable(candidates, takenSet(times), date, now, s.cfg.Location), nil
}

// ListUpcomingWindow counts open slots per date from today through
// today+days, clamped to the horizon. Dates without slots are omitted.
func (s *Service) ListUpcomingWindow(ctx context.Context, practitionerID uuid.UUID, days int) (out []DateAvailability, err error) {
	ctx, span := s.startSpan(ctx, "ListUpcomingWindow",
		attribute.String("practitioner_id", practitionerID.String()),
		attribute.Int("days", days))
	defer func() { endSpan(span, err) }()

	if days <= 0 {
		days = 30
	}
	if days > s.cfg.HorizonDays {
		days = s.cfg.HorizonDays
	}

	if _, err := s.loadPractitioner(ctx, practitionerID); err != nil {
		return nil, err
	}
	s.metrics.AvailabilityQueried()

	now := s.clock()
	today := DateOf(now)
	return s.upcoming(ctx, practitionerID, today, today.AddDays(days), now)
}

// upcoming loads windows and reservations once for the whole range.
func (s *Service) upcoming(ctx context.Context, practitionerID uuid.UUID, from, to Date, now time.Time) ([]DateAvailability, error) {
	windows, err := s.repo.ListWindows(ctx, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("load windows: %w", err)
	}

	reserved, err := s.repo.ReservedSlotsBetween(ctx, practitionerID, from, to, s.policy.ReadBlocking())
	if err != nil {
		return nil, fmt.Errorf("load reserved slots: %w", err)
	}
	taken := make(map[Date]map[TimeOfDay]struct{})
	for _, r := range reserved {
		if taken[r.Date] == nil {
			taken[r.Date] = make(map[TimeOfDay]struct{})
		}
		taken[r.Date][r.Time] = struct{}{}
	}

	out := []DateAvailability{}
	for d := from; !d.After(to); d = d.AddDays(1) {
		candidates := GenerateSlots(windowsForWeekday(windows, d.Weekday()), s.cfg.SlotStride)
		if len(candidates) == 0 {
			continue
		}
		if free := FilterAvailable(candidates, taken[d], d, now, s.cfg.Location); len(free) > 0 {
			out = append(out, DateAvailability{Date: d, SlotCount: len(free)})
		}
	}
	return out, nil
}

// Practitioners

const nextAvailableDays = 7

// ListPractitioners returns bookable practitioners with the first date that
// has an open slot in the coming week.
func (s *Service) ListPractitioners(ctx context.Context, specialty Specialty, search string) (out []PractitionerSummary, err error) {
	ctx, span := s.startSpan(ctx, "ListPractitioners", attribute.String("specialty", string(specialty)))
	defer func() { endSpan(span, err) }()

	if specialty != "" && !specialty.Valid() {
		return nil, newError(KindValidation, ReasonInvalidSpecialty, "unknown specialty %q", specialty)
	}

	list, err := s.repo.ListPractitioners(ctx, PractitionerFilter{
		Specialty:    specialty,
		Search:       strings.TrimSpace(search),
		BookableOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list practitioners: %w", err)
	}

	now := s.clock()
	today := DateOf(now)
	last := today.AddDays(nextAvailableDays - 1)
	if end := s.horizonEnd(today); last.After(end) {
		last = end
	}

	out = make([]PractitionerSummary, 0, len(list))
	for _, p := range list {
		summary := PractitionerSummary{Practitioner: p}

		dates, err := s.upcoming(ctx, p.ID, today, last, now)
		if err != nil {
			return nil, err
		}
		if len(dates) > 0 {
			next := dates[0].Date
			summary.NextAvailable = &next
			summary.AvailableToday = next == today
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *Service) GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	return s.loadPractitioner(ctx, id)
}
