package booking

import (
	"time"

	"github.com/google/uuid"
)

type Specialty string

const (
	SpecialtyGeneral          Specialty = "general"
	SpecialtyCardiology       Specialty = "cardiology"
	SpecialtyDermatology      Specialty = "dermatology"
	SpecialtyPediatrics       Specialty = "pediatrics"
	SpecialtyGynecology       Specialty = "gynecology"
	SpecialtyOrthopedics      Specialty = "orthopedics"
	SpecialtyPsychiatry       Specialty = "psychiatry"
	SpecialtyNeurology        Specialty = "neurology"
	SpecialtyGastroenterology Specialty = "gastroenterology"
	SpecialtyEndocrinology    Specialty = "endocrinology"
)

var Specialties = []Specialty{
	SpecialtyGeneral, SpecialtyCardiology, SpecialtyDermatology, SpecialtyPediatrics,
	SpecialtyGynecology, SpecialtyOrthopedics, SpecialtyPsychiatry, SpecialtyNeurology,
	SpecialtyGastroenterology, SpecialtyEndocrinology,
}

func (s Specialty) Valid() bool {
	for _, v := range Specialties {
		if v == s {
			return true
		}
	}
	return false
}

type PractitionerStatus string

const (
	PractitionerAvailable PractitionerStatus = "available"
	PractitionerBusy      PractitionerStatus = "busy"
	PractitionerOnLeave   PractitionerStatus = "on_leave"
)

type AppointmentType string

const (
	TypeConsultation   AppointmentType = "consultation"
	TypeFollowUp       AppointmentType = "follow_up"
	TypeEmergency      AppointmentType = "emergency"
	TypeRoutineCheckup AppointmentType = "routine_checkup"
)

func (t AppointmentType) Valid() bool {
	switch t {
	case TypeConsultation, TypeFollowUp, TypeEmergency, TypeRoutineCheckup:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

var Statuses = []Status{
	StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow,
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

const PaymentMethodCash = "cash"

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID   uuid.UUID
	Role string
}

type Practitioner struct {
	ID              uuid.UUID          `json:"id"`
	FullName        string             `json:"full_name"`
	Specialty       Specialty          `json:"specialty"`
	FeeCents        int64              `json:"fee_cents"`
	Status          PractitionerStatus `json:"status"`
	Rating          float64            `json:"rating"`
	CompletedVisits int                `json:"completed_visits"`
	Verified        bool               `json:"is_verified"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Window is a recurring weekly interval [Start, End) on Weekday, 0 = Monday.
type Window struct {
	ID             uuid.UUID `json:"id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	Weekday        int       `json:"weekday"`
	Start          TimeOfDay `json:"start_time"`
	End            TimeOfDay `json:"end_time"`
	Active         bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

func (w Window) overlaps(o Window) bool {
	return w.Weekday == o.Weekday && w.Start < o.End && o.Start < w.End
}

type Intake struct {
	Age                int    `json:"age"`
	Gender             Gender `json:"gender"`
	ChiefComplaint     string `json:"chief_complaint"`
	Symptoms           string `json:"symptoms,omitempty"`
	MedicalHistory     string `json:"medical_history,omitempty"`
	CurrentMedications string `json:"current_medications,omitempty"`
	Allergies          string `json:"allergies,omitempty"`
}

type Reservation struct {
	ID                uuid.UUID       `json:"id"`
	PractitionerID    uuid.UUID       `json:"practitioner_id"`
	PatientID         uuid.UUID       `json:"patient_id"`
	Date              Date            `json:"date"`
	Time              TimeOfDay       `json:"time"`
	DurationMinutes   int             `json:"duration_minutes"`
	Type              AppointmentType `json:"appointment_type"`
	Status            Status          `json:"status"`
	FeeCents          int64           `json:"fee_cents"`
	Intake            Intake          `json:"intake"`
	OperatorNotes     string          `json:"operator_notes,omitempty"`
	Diagnosis         string          `json:"diagnosis,omitempty"`
	PrescriptionNotes string          `json:"prescription_notes,omitempty"`
	FollowUpRequired  bool            `json:"follow_up_required"`
	FollowUpDate      *Date           `json:"follow_up_date,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	ConfirmedAt       *time.Time      `json:"confirmed_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CancelledAt       *time.Time      `json:"cancelled_at,omitempty"`
	CancelledBy       *uuid.UUID      `json:"cancelled_by,omitempty"`
}

func (r *Reservation) scheduledAt(loc *time.Location) time.Time {
	return r.Date.At(r.Time, loc)
}

func (r *Reservation) ownedBy(actor Actor) bool {
	return r.PatientID == actor.ID
}

type Payment struct {
	ID            uuid.UUID     `json:"id"`
	ReservationID uuid.UUID     `json:"reservation_id"`
	AmountCents   int64         `json:"amount_cents"`
	Method        string        `json:"method"`
	Status        PaymentStatus `json:"status"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

type Review struct {
	ID             uuid.UUID `json:"id"`
	ReservationID  uuid.UUID `json:"reservation_id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	Rating         int       `json:"rating"`
	Text           string    `json:"review_text,omitempty"`
	WouldRecommend bool      `json:"would_recommend"`
	CreatedAt      time.Time `json:"created_at"`
}

// Slot is one bookable start time on a date.
type Slot struct {
	Time  TimeOfDay `json:"time"`
	Label string    `json:"label"`
}

type DateAvailability struct {
	Date      Date `json:"date"`
	SlotCount int  `json:"slot_count"`
}

type PractitionerSummary struct {
	Practitioner
	NextAvailable  *Date `json:"next_available,omitempty"`
	AvailableToday bool  `json:"available_today"`
}

type PractitionerFilter struct {
	Specialty Specialty
	Search    string
	// BookableOnly restricts to verified practitioners with status available.
	BookableOnly bool
}

type ReservationFilter struct {
	PatientID      *uuid.UUID
	PractitionerID *uuid.UUID
	Status         Status
	Date           *Date
	Limit          int
	Offset         int
}

type EventLog struct {
	ID            int64
	EventType     string
	ReservationID uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
