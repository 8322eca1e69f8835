package booking

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	slotErr := &pgconn.PgError{Code: "23505", ConstraintName: activeSlotIndex}

	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"direct", slotErr, activeSlotIndex, true},
		{"wrapped", fmt.Errorf("insert reservation: %w", slotErr), activeSlotIndex, true},
		{"other constraint", slotErr, reviewReservationKey, false},
		{"other code", &pgconn.PgError{Code: "23503", ConstraintName: activeSlotIndex}, activeSlotIndex, false},
		{"plain error", errors.New("boom"), activeSlotIndex, false},
		{"nil", nil, activeSlotIndex, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Errorf("isUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPgTimeConversion(t *testing.T) {
	for _, tod := range []TimeOfDay{0, NewTimeOfDay(9, 30), NewTimeOfDay(23, 59)} {
		pt := pgTime(tod)
		if !pt.Valid {
			t.Fatalf("pgTime(%s) should be valid", tod)
		}
		if got := timeOfDayFromPg(pt); got != tod {
			t.Errorf("round trip %s -> %s", tod, got)
		}
	}

	if got := pgTime(NewTimeOfDay(10, 0)).Microseconds; got != int64(10*time.Hour/time.Microsecond) {
		t.Errorf("10:00 = %d microseconds", got)
	}
	// Seconds in the column are truncated to the minute.
	withSeconds := pgTime(NewTimeOfDay(10, 0))
	withSeconds.Microseconds += int64(45 * time.Second / time.Microsecond)
	if got := timeOfDayFromPg(withSeconds); got != NewTimeOfDay(10, 0) {
		t.Errorf("expected truncation to 10:00, got %s", got)
	}
}

func TestPgDateIsUTCMidnight(t *testing.T) {
	d := pgDate(Date{Year: 2026, Month: time.October, Day: 19})
	if !d.Valid || d.Time.Location() != time.UTC || d.Time.Hour() != 0 || d.Time.Day() != 19 {
		t.Errorf("unexpected pg date %+v", d)
	}
}

func TestStatusStrings(t *testing.T) {
	got := statusStrings(NewBlockingPolicy(true).ReadBlocking())
	if len(got) != 3 {
		t.Fatalf("expected three statuses, got %v", got)
	}
	for _, s := range got {
		if !Status(s).Valid() {
			t.Errorf("invalid status string %q", s)
		}
	}
}
