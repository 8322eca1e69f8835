package main

import (
	"context"
	"fmt"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/practitioner-booking/internal/booking"
	"github.com/hackgods/practitioner-booking/internal/db"
)

// seedNamespace makes named practitioner IDs stable across runs so seeding
// twice is a no-op.
var seedNamespace = uuid.MustParse("6f1d7d0e-3b7a-4c57-9a55-2f0a4c1b8e21")

type seedWindow struct {
	Weekday    int
	Start, End booking.TimeOfDay
}

type seedPractitioner struct {
	ID        uuid.UUID
	FullName  string
	Specialty booking.Specialty
	FeeCents  int64
	Windows   []seedWindow
}

func weekdays(days []int, start, end booking.TimeOfDay) []seedWindow {
	out := make([]seedWindow, 0, len(days))
	for _, d := range days {
		out = append(out, seedWindow{Weekday: d, Start: start, End: end})
	}
	return out
}

func named(fullName string, specialty booking.Specialty, feeCents int64, windows []seedWindow) seedPractitioner {
	return seedPractitioner{
		ID:        uuid.NewSHA1(seedNamespace, []byte(fullName)),
		FullName:  fullName,
		Specialty: specialty,
		FeeCents:  feeCents,
		Windows:   windows,
	}
}

func demoRoster() []seedPractitioner {
	t := booking.NewTimeOfDay
	return []seedPractitioner{
		named("Rajesh Sharma", booking.SpecialtyGeneral, 80000, weekdays([]int{0, 1, 2, 3, 4}, t(9, 0), t(17, 0))),
		named("Sunita Patel", booking.SpecialtyCardiology, 120000, weekdays([]int{1, 2, 3, 4, 5}, t(10, 0), t(18, 0))),
		named("Amit Thapa", booking.SpecialtyDermatology, 90000, append(
			weekdays([]int{0, 2, 4}, t(14, 0), t(20, 0)),
			seedWindow{Weekday: 6, Start: t(10, 0), End: t(16, 0)},
		)),
		named("Maya Gurung", booking.SpecialtyPediatrics, 70000, weekdays([]int{0, 1, 2, 3, 4, 5}, t(8, 0), t(13, 0))),
		named("Binod Shrestha", booking.SpecialtyOrthopedics, 100000, weekdays([]int{5, 6}, t(9, 0), t(17, 0))),
	}
}

// buildRoster returns the demo practitioners plus extra generated ones.
// Generated practitioners work a single block on two to five weekdays.
func buildRoster(seed uint64, extra int) []seedPractitioner {
	roster := demoRoster()
	if extra <= 0 {
		return roster
	}

	faker := gofakeit.New(seed)
	for i := 0; i < extra; i++ {
		startHour := faker.Number(7, 12)
		length := faker.Number(3, 8)

		var days []int
		for d := 0; d < 7 && len(days) < 5; d++ {
			if faker.Bool() {
				days = append(days, d)
			}
		}
		for d := 0; len(days) < 2; d++ {
			if !containsDay(days, d) {
				days = append(days, d)
			}
		}

		roster = append(roster, seedPractitioner{
			ID:        uuid.New(),
			FullName:  faker.FirstName() + " " + faker.LastName(),
			Specialty: booking.Specialties[faker.Number(0, len(booking.Specialties)-1)],
			FeeCents:  int64(faker.Number(5, 15)) * 10000,
			Windows:   weekdays(days, booking.NewTimeOfDay(startHour, 0), booking.NewTimeOfDay(startHour+length, 0)),
		})
	}
	return roster
}

func containsDay(days []int, d int) bool {
	for _, v := range days {
		if v == d {
			return true
		}
	}
	return false
}

// seedRoster inserts practitioners and windows in one transaction, skipping
// rows that already exist.
func seedRoster(ctx context.Context, pool *pgxpool.Pool, roster []seedPractitioner) (practitioners, windows int, err error) {
	err = db.WithTx(ctx, pool, func(ctx context.Context) error {
		q := db.Conn(ctx, pool)
		for _, p := range roster {
			tag, err := q.Exec(ctx, `
				INSERT INTO practitioners (id, full_name, specialty, fee_cents, status, is_verified)
				VALUES ($1, $2, $3, $4, 'available', true)
				ON CONFLICT (id) DO NOTHING
			`, p.ID, p.FullName, string(p.Specialty), p.FeeCents)
			if err != nil {
				return fmt.Errorf("insert practitioner %s: %w", p.FullName, err)
			}
			practitioners += int(tag.RowsAffected())

			for _, w := range p.Windows {
				tag, err := q.Exec(ctx, `
					INSERT INTO weekly_availability_windows (id, practitioner_id, weekday, start_time, end_time, is_active)
					VALUES ($1, $2, $3, $4::time, $5::time, true)
					ON CONFLICT ON CONSTRAINT windows_practitioner_weekday_start_key DO NOTHING
				`, uuid.New(), p.ID, w.Weekday, w.Start.String(), w.End.String())
				if err != nil {
					return fmt.Errorf("insert window for %s: %w", p.FullName, err)
				}
				windows += int(tag.RowsAffected())
			}
		}
		return nil
	})
	return practitioners, windows, err
}
