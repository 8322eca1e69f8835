package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-booking/internal/booking"
	"github.com/hackgods/practitioner-booking/internal/config"
	"github.com/hackgods/practitioner-booking/internal/metrics"
)

// Service is the booking surface the HTTP layer needs. *booking.Service
// satisfies it.
type Service interface {
	ListPractitioners(ctx context.Context, specialty booking.Specialty, search string) ([]booking.PractitionerSummary, error)
	GetPractitioner(ctx context.Context, id uuid.UUID) (*booking.Practitioner, error)
	ListAvailableSlots(ctx context.Context, practitionerID uuid.UUID, date booking.Date) ([]booking.Slot, error)
	ListUpcomingWindow(ctx context.Context, practitionerID uuid.UUID, days int) ([]booking.DateAvailability, error)

	ListWindows(ctx context.Context, practitionerID uuid.UUID) ([]booking.Window, error)
	CreateWindow(ctx context.Context, actor booking.Actor, in booking.WindowInput) (*booking.Window, error)
	SetWindowActive(ctx context.Context, actor booking.Actor, id uuid.UUID, active bool) (*booking.Window, error)

	CreateReservation(ctx context.Context, actor booking.Actor, req booking.CreateReservationRequest) (*booking.Reservation, error)
	GetReservation(ctx context.Context, actor booking.Actor, id uuid.UUID) (*booking.ReservationDetail, error)
	ListReservations(ctx context.Context, actor booking.Actor, f booking.ReservationFilter) ([]booking.Reservation, error)
	CancelReservation(ctx context.Context, actor booking.Actor, id uuid.UUID) (*booking.Reservation, error)
	ConfirmPayment(ctx context.Context, actor booking.Actor, id uuid.UUID) (*booking.Reservation, error)
	TransitionReservation(ctx context.Context, actor booking.Actor, id uuid.UUID, to booking.Status, notes string) (*booking.Reservation, error)
	RescheduleReservation(ctx context.Context, actor booking.Actor, id uuid.UUID, date booking.Date, t booking.TimeOfDay) (*booking.Reservation, error)
	AppendNotes(ctx context.Context, actor booking.Actor, id uuid.UUID, text string) (*booking.Reservation, error)
	SubmitReview(ctx context.Context, actor booking.Actor, id uuid.UUID, in booking.ReviewInput) (*booking.ReviewOutcome, error)
	ReservationStats(ctx context.Context, actor booking.Actor) (*booking.ReservationStats, error)
}

// Authenticator turns a bearer token into an actor. auth.JWTManager
// satisfies it.
type Authenticator interface {
	Validate(token string) (booking.Actor, error)
}

type RouterConfig struct {
	Service Service
	Auth    Authenticator
	Health  *HealthHandler
	Metrics *metrics.Collector
	Logger  *zap.Logger
	Rate    config.RateLimitConfig
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &handlers{svc: cfg.Service, log: log.Named("http")}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(log))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	if cfg.Rate.RequestsPerSecond > 0 {
		r.Use(NewRateLimiter(cfg.Rate).Middleware)
	}

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	// Practitioner reads are public.
	r.Route("/practitioners", func(r chi.Router) {
		r.Get("/", h.listPractitioners)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getPractitioner)
			r.Get("/slots", h.listSlots)
			r.Get("/availability", h.listUpcoming)
			r.Get("/windows", h.listWindows)
			r.With(AuthMiddleware(cfg.Auth)).Post("/windows", h.createWindow)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Auth))

		r.Patch("/windows/{id}", h.patchWindow)

		r.Post("/reservations", h.createReservation)
		r.Get("/reservations", h.listReservations)
		r.Route("/reservations/{id}", func(r chi.Router) {
			r.Get("/", h.getReservation)
			r.Post("/cancel", h.cancelReservation)
			r.Post("/pay", h.confirmPayment)
			r.Post("/transition", h.transitionReservation)
			r.Post("/reschedule", h.rescheduleReservation)
			r.Post("/review", h.submitReview)
			r.Post("/notes", h.appendNotes)
		})

		r.Get("/admin/reservations/stats", h.reservationStats)
	})

	return r
}
