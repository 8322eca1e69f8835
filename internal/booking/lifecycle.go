package booking

import (
	"time"

	"github.com/google/uuid"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// withinStartWindow reports whether a confirmed visit may move to
// in_progress at now: from lead before the scheduled instant until the
// scheduled instant plus the visit duration, both ends inclusive.
func withinStartWindow(scheduled, now time.Time, lead, duration time.Duration) bool {
	return !now.Before(scheduled.Add(-lead)) && !now.After(scheduled.Add(duration))
}

// Transition is a status change as the repository applies it.
type Transition struct {
	ReservationID uuid.UUID
	From          Status
	To            Status
	At            time.Time
	ActorID       uuid.UUID
	// NoteLine is appended to the operator notes when non-empty.
	NoteLine string
}

const operatorNoteLayout = "2006-01-02 15:04"

func operatorNote(at time.Time, text string) string {
	return "[Operator Update - " + at.Format(operatorNoteLayout) + "]: " + text
}

func appendNote(existing, line string) string {
	if existing == "" {
		return line
	}
	return existing + "\n\n" + line
}
