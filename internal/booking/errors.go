package booking

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindConflict
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	}
	return "unknown"
}

// Reason codes are stable and surface unchanged in API responses.
const (
	ReasonDateInPast             = "date_in_past"
	ReasonBeyondHorizon          = "beyond_horizon"
	ReasonTimeInPast             = "time_in_past"
	ReasonSlotUnavailable        = "slot_unavailable"
	ReasonIllegalTransition      = "illegal_transition"
	ReasonAlreadyCancelled       = "already_cancelled"
	ReasonNotCancellable         = "not_cancellable"
	ReasonNotReschedulable       = "not_reschedulable"
	ReasonOutsideStartWindow     = "outside_start_window"
	ReasonInvalidIntake          = "invalid_intake"
	ReasonInvalidAppointmentType = "invalid_appointment_type"
	ReasonInvalidTime            = "invalid_time"
	ReasonInvalidNotes           = "invalid_notes"
	ReasonInvalidWindow          = "invalid_window"
	ReasonWindowOverlap          = "window_overlap"
	ReasonAlreadyReviewed        = "already_reviewed"
	ReasonNotReviewable          = "not_reviewable"
	ReasonInvalidRating          = "invalid_rating"
	ReasonInvalidSpecialty       = "invalid_specialty"
	ReasonInvalidStatus          = "invalid_status"
	ReasonPractitionerNotFound   = "practitioner_not_found"
	ReasonReservationNotFound    = "reservation_not_found"
	ReasonWindowNotFound         = "window_not_found"
	ReasonForbidden              = "forbidden"
)

// Error is the single domain error type. Two Errors match under errors.Is
// when their reasons are equal, so callers compare against the sentinels
// below regardless of the message.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Reason
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

func newError(kind Kind, reason, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrSlotUnavailable      = &Error{Kind: KindConflict, Reason: ReasonSlotUnavailable, Message: "slot is no longer available"}
	ErrPractitionerNotFound = &Error{Kind: KindNotFound, Reason: ReasonPractitionerNotFound, Message: "practitioner not found"}
	ErrReservationNotFound  = &Error{Kind: KindNotFound, Reason: ReasonReservationNotFound, Message: "reservation not found"}
	ErrWindowNotFound       = &Error{Kind: KindNotFound, Reason: ReasonWindowNotFound, Message: "availability window not found"}
	ErrForbidden            = &Error{Kind: KindForbidden, Reason: ReasonForbidden, Message: "not allowed for this actor"}
	ErrAlreadyCancelled     = &Error{Kind: KindValidation, Reason: ReasonAlreadyCancelled, Message: "reservation is already cancelled"}
	ErrAlreadyReviewed      = &Error{Kind: KindConflict, Reason: ReasonAlreadyReviewed, Message: "reservation already has a review"}
)

// Storage-level outcomes the repositories report. The service translates
// them into domain errors.
var (
	errSlotTaken       = errors.New("active reservation already exists for slot")
	errWindowExists    = errors.New("window with the same start already exists")
	errDuplicateReview = errors.New("review already exists for reservation")
	errStatusChanged   = errors.New("reservation status changed concurrently")
	errNoReview        = errors.New("reservation has no review")
)

// ReasonOf returns the reason code of a domain error, or "" for anything else.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
