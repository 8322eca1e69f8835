package booking

import (
	"context"

	"github.com/google/uuid"
)

// ReservedSlot is an occupied (date, time) pair for one practitioner.
type ReservedSlot struct {
	Date Date
	Time TimeOfDay
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	ListPractitioners(ctx context.Context, f PractitionerFilter) ([]Practitioner, error)

	// Schedule store
	ListWindows(ctx context.Context, practitionerID uuid.UUID) ([]Window, error)
	ListActiveWindows(ctx context.Context, practitionerID uuid.UUID, weekday int) ([]Window, error)
	GetWindow(ctx context.Context, id uuid.UUID) (*Window, error)
	CreateWindow(ctx context.Context, w Window) (*Window, error)
	SetWindowActive(ctx context.Context, id uuid.UUID, active bool) (*Window, error)
	// WithScheduleLock runs fn while holding an exclusive lock on one
	// practitioner's weekday, so an overlap check and the write that
	// follows it see the same set of windows.
	WithScheduleLock(ctx context.Context, practitionerID uuid.UUID, weekday int, fn func(ctx context.Context) error) error

	// Ledger reads for availability and conflict checks
	ReservedTimes(ctx context.Context, practitionerID uuid.UUID, date Date, statuses []Status) ([]TimeOfDay, error)
	ReservedSlotsBetween(ctx context.Context, practitionerID uuid.UUID, from, to Date, statuses []Status) ([]ReservedSlot, error)
	SlotTaken(ctx context.Context, practitionerID uuid.UUID, date Date, t TimeOfDay, statuses []Status, exclude uuid.UUID) (bool, error)

	// CreateReservation inserts the reservation and its payment row in one
	// transaction. It returns errSlotTaken when the active-slot index rejects it.
	CreateReservation(ctx context.Context, r Reservation, p Payment) (*Reservation, error)
	GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)
	ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error)
	// ApplyTransition moves a reservation from t.From to t.To and returns
	// errStatusChanged if it is no longer in t.From. Completion also marks
	// the payment paid and bumps the practitioner's completed visit count.
	ApplyTransition(ctx context.Context, t Transition) (*Reservation, error)
	AppendOperatorNotes(ctx context.Context, id uuid.UUID, line string) (*Reservation, error)
	// Reschedule moves a pending or confirmed reservation. It returns
	// errStatusChanged if the row has left those states.
	Reschedule(ctx context.Context, id uuid.UUID, date Date, t TimeOfDay) (*Reservation, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	// CountBetween counts reservations dated from..to inclusive, any status.
	CountBetween(ctx context.Context, from, to Date) (int, error)
	// UpcomingPending lists pending reservations dated from onwards,
	// soonest first.
	UpcomingPending(ctx context.Context, from Date, limit int) ([]Reservation, error)

	GetPayment(ctx context.Context, reservationID uuid.UUID) (*Payment, error)

	// CreateReview stores the review and returns the practitioner's
	// recomputed rating.
	CreateReview(ctx context.Context, rv Review) (*Review, float64, error)
	// GetReview returns errNoReview when the reservation has not been reviewed.
	GetReview(ctx context.Context, reservationID uuid.UUID) (*Review, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
