package api

import (
	"github.com/google/uuid"

	"github.com/hackgods/practitioner-booking/internal/booking"
)

type CreateReservationRequest struct {
	PractitionerID  string            `json:"practitioner_id"`
	Date            booking.Date      `json:"date"`
	Time            booking.TimeOfDay `json:"time"`
	AppointmentType string            `json:"appointment_type"`
	Intake          booking.Intake    `json:"intake"`
}

type TransitionRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

type RescheduleRequest struct {
	Date booking.Date      `json:"date"`
	Time booking.TimeOfDay `json:"time"`
}

type ReviewRequest struct {
	Rating         int    `json:"rating"`
	ReviewText     string `json:"review_text,omitempty"`
	WouldRecommend bool   `json:"would_recommend"`
}

type NotesRequest struct {
	Notes string `json:"notes"`
}

type CreateWindowRequest struct {
	Weekday   int               `json:"weekday"`
	StartTime booking.TimeOfDay `json:"start_time"`
	EndTime   booking.TimeOfDay `json:"end_time"`
}

type UpdateWindowRequest struct {
	IsActive *bool `json:"is_active"`
}

type SlotsResponse struct {
	PractitionerID uuid.UUID      `json:"practitioner_id"`
	Date           booking.Date   `json:"date"`
	Slots          []booking.Slot `json:"slots"`
}

type AvailabilityResponse struct {
	PractitionerID uuid.UUID                  `json:"practitioner_id"`
	Dates          []booking.DateAvailability `json:"dates"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func listOf[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
