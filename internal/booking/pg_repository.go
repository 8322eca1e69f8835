package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/practitioner-booking/internal/db"
)

const uniqueViolation = "23505"

// Constraint names from the 001 schema migration.
const (
	activeSlotIndex      = "reservations_active_slot_uidx"
	windowStartKey       = "windows_practitioner_weekday_start_key"
	reviewReservationKey = "reviews_reservation_key"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}

// Helpers

func pgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func timeOfDayFromPg(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func pgDate(d Date) pgtype.Date {
	return pgtype.Date{Time: d.Time(), Valid: true}
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

const practitionerColumns = `id, full_name, specialty, fee_cents, status, rating::float8,
	completed_visits, is_verified, created_at, updated_at`

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner
	err := row.Scan(
		&p.ID,
		&p.FullName,
		&p.Specialty,
		&p.FeeCents,
		&p.Status,
		&p.Rating,
		&p.CompletedVisits,
		&p.Verified,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPractitionerNotFound
		}
		return nil, err
	}
	return &p, nil
}

const windowColumns = `id, practitioner_id, weekday, start_time, end_time, is_active, created_at`

func scanWindow(row pgx.Row) (*Window, error) {
	var w Window
	var start, end pgtype.Time
	err := row.Scan(
		&w.ID,
		&w.PractitionerID,
		&w.Weekday,
		&start,
		&end,
		&w.Active,
		&w.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, err
	}
	w.Start = timeOfDayFromPg(start)
	w.End = timeOfDayFromPg(end)
	return &w, nil
}

const reservationColumns = `id, practitioner_id, patient_id, date, time, duration_minutes,
	appointment_type, status, fee_cents,
	patient_age, patient_gender, chief_complaint, symptoms, medical_history, current_medications, allergies,
	operator_notes, diagnosis, prescription_notes, follow_up_required, follow_up_date,
	created_at, updated_at, confirmed_at, completed_at, cancelled_at, cancelled_by`

func scanReservation(row pgx.Row) (*Reservation, error) {
	var res Reservation
	var date, followUp pgtype.Date
	var tod pgtype.Time

	err := row.Scan(
		&res.ID,
		&res.PractitionerID,
		&res.PatientID,
		&date,
		&tod,
		&res.DurationMinutes,
		&res.Type,
		&res.Status,
		&res.FeeCents,
		&res.Intake.Age,
		&res.Intake.Gender,
		&res.Intake.ChiefComplaint,
		&res.Intake.Symptoms,
		&res.Intake.MedicalHistory,
		&res.Intake.CurrentMedications,
		&res.Intake.Allergies,
		&res.OperatorNotes,
		&res.Diagnosis,
		&res.PrescriptionNotes,
		&res.FollowUpRequired,
		&followUp,
		&res.CreatedAt,
		&res.UpdatedAt,
		&res.ConfirmedAt,
		&res.CompletedAt,
		&res.CancelledAt,
		&res.CancelledBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	res.Date = DateOf(date.Time)
	res.Time = timeOfDayFromPg(tod)
	if followUp.Valid {
		d := DateOf(followUp.Time)
		res.FollowUpDate = &d
	}
	return &res, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Practitioners

func (r *PgRepository) GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+practitionerColumns+`
		FROM practitioners
		WHERE id = $1
	`, id)
	return scanPractitioner(row)
}

func (r *PgRepository) ListPractitioners(ctx context.Context, f PractitionerFilter) ([]Practitioner, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+practitionerColumns+`
		FROM practitioners
		WHERE ($1::text = '' OR specialty = $1::text)
		  AND ($2::text = '' OR full_name ILIKE '%' || $2::text || '%' OR specialty ILIKE '%' || $2::text || '%')
		  AND (NOT $3::boolean OR (is_verified AND status = 'available'))
		ORDER BY rating DESC, full_name
	`, string(f.Specialty), f.Search, f.BookableOnly)
	if err != nil {
		return nil, fmt.Errorf("list practitioners: %w", err)
	}
	return collect(rows, scanPractitioner)
}

// Schedule store

func (r *PgRepository) ListWindows(ctx context.Context, practitionerID uuid.UUID) ([]Window, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+windowColumns+`
		FROM weekly_availability_windows
		WHERE practitioner_id = $1
		ORDER BY weekday, start_time
	`, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	return collect(rows, scanWindow)
}

func (r *PgRepository) ListActiveWindows(ctx context.Context, practitionerID uuid.UUID, weekday int) ([]Window, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+windowColumns+`
		FROM weekly_availability_windows
		WHERE practitioner_id = $1
		  AND weekday = $2
		  AND is_active
		ORDER BY start_time
	`, practitionerID, weekday)
	if err != nil {
		return nil, fmt.Errorf("list active windows: %w", err)
	}
	return collect(rows, scanWindow)
}

func (r *PgRepository) GetWindow(ctx context.Context, id uuid.UUID) (*Window, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+windowColumns+`
		FROM weekly_availability_windows
		WHERE id = $1
	`, id)
	return scanWindow(row)
}

func (r *PgRepository) CreateWindow(ctx context.Context, w Window) (*Window, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO weekly_availability_windows (id, practitioner_id, weekday, start_time, end_time, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+windowColumns,
		w.ID, w.PractitionerID, w.Weekday, pgTime(w.Start), pgTime(w.End), w.Active, w.CreatedAt,
	)
	created, err := scanWindow(row)
	if err != nil {
		if isUniqueViolation(err, windowStartKey) {
			return nil, errWindowExists
		}
		return nil, fmt.Errorf("insert window: %w", err)
	}
	return created, nil
}

func (r *PgRepository) SetWindowActive(ctx context.Context, id uuid.UUID, active bool) (*Window, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE weekly_availability_windows
		SET is_active = $2
		WHERE id = $1
		RETURNING `+windowColumns,
		id, active,
	)
	return scanWindow(row)
}

// Ledger reads

// WithScheduleLock takes a transaction-scoped advisory lock keyed on the
// practitioner and weekday. fn runs inside the same transaction.
func (r *PgRepository) WithScheduleLock(ctx context.Context, practitionerID uuid.UUID, weekday int, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1::text), $2::int)`,
			practitionerID.String(), weekday,
		); err != nil {
			return fmt.Errorf("lock schedule: %w", err)
		}
		return fn(ctx)
	})
}

func (r *PgRepository) ReservedTimes(ctx context.Context, practitionerID uuid.UUID, date Date, statuses []Status) ([]TimeOfDay, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT time
		FROM reservations
		WHERE practitioner_id = $1
		  AND date = $2
		  AND status = ANY($3)
	`, practitionerID, pgDate(date), statusStrings(statuses))
	if err != nil {
		return nil, fmt.Errorf("query reserved times: %w", err)
	}
	defer rows.Close()

	var out []TimeOfDay
	for rows.Next() {
		var t pgtype.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, timeOfDayFromPg(t))
	}
	return out, rows.Err()
}

func (r *PgRepository) ReservedSlotsBetween(ctx context.Context, practitionerID uuid.UUID, from, to Date, statuses []Status) ([]ReservedSlot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT date, time
		FROM reservations
		WHERE practitioner_id = $1
		  AND date BETWEEN $2 AND $3
		  AND status = ANY($4)
	`, practitionerID, pgDate(from), pgDate(to), statusStrings(statuses))
	if err != nil {
		return nil, fmt.Errorf("query reserved slots: %w", err)
	}
	defer rows.Close()

	var out []ReservedSlot
	for rows.Next() {
		var d pgtype.Date
		var t pgtype.Time
		if err := rows.Scan(&d, &t); err != nil {
			return nil, err
		}
		out = append(out, ReservedSlot{Date: DateOf(d.Time), Time: timeOfDayFromPg(t)})
	}
	return out, rows.Err()
}

func (r *PgRepository) SlotTaken(ctx context.Context, practitionerID uuid.UUID, date Date, t TimeOfDay, statuses []Status, exclude uuid.UUID) (bool, error) {
	var taken bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM reservations
			WHERE practitioner_id = $1
			  AND date = $2
			  AND time = $3
			  AND status = ANY($4)
			  AND id <> $5
		)
	`, practitionerID, pgDate(date), pgTime(t), statusStrings(statuses), exclude).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return taken, nil
}

// Ledger writes

func (r *PgRepository) CreateReservation(ctx context.Context, res Reservation, p Payment) (*Reservation, error) {
	var created *Reservation

	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)

		var followUp pgtype.Date
		if res.FollowUpDate != nil {
			followUp = pgDate(*res.FollowUpDate)
		}

		row := q.QueryRow(ctx, `
			INSERT INTO reservations (
				id, practitioner_id, patient_id, date, time, duration_minutes,
				appointment_type, status, fee_cents,
				patient_age, patient_gender, chief_complaint, symptoms, medical_history, current_medications, allergies,
				follow_up_required, follow_up_date, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $19)
			RETURNING `+reservationColumns,
			res.ID, res.PractitionerID, res.PatientID, pgDate(res.Date), pgTime(res.Time), res.DurationMinutes,
			string(res.Type), string(res.Status), res.FeeCents,
			res.Intake.Age, string(res.Intake.Gender), res.Intake.ChiefComplaint, res.Intake.Symptoms,
			res.Intake.MedicalHistory, res.Intake.CurrentMedications, res.Intake.Allergies,
			res.FollowUpRequired, followUp, res.CreatedAt,
		)

		inserted, err := scanReservation(row)
		if err != nil {
			if isUniqueViolation(err, activeSlotIndex) {
				return errSlotTaken
			}
			return fmt.Errorf("insert reservation: %w", err)
		}

		_, err = q.Exec(ctx, `
			INSERT INTO reservation_payments (id, reservation_id, amount_cents, method, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, p.ID, inserted.ID, p.AmountCents, p.Method, string(p.Status), p.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		created = inserted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
	`, id)
	return scanReservation(row)
}

func (r *PgRepository) ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.PractitionerID != nil {
		add("practitioner_id = $%d", *f.PractitionerID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Date != nil {
		add("date = $%d", pgDate(*f.Date))
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY date DESC, time DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return collect(rows, scanReservation)
}

func (r *PgRepository) ApplyTransition(ctx context.Context, t Transition) (*Reservation, error) {
	var updated *Reservation

	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)

		row := q.QueryRow(ctx, `
			UPDATE reservations
			SET status = $3::text,
			    updated_at = $4::timestamptz,
			    confirmed_at = CASE WHEN $3::text = 'confirmed' THEN $4::timestamptz ELSE confirmed_at END,
			    completed_at = CASE WHEN $3::text = 'completed' THEN $4::timestamptz ELSE completed_at END,
			    cancelled_at = CASE WHEN $3::text = 'cancelled' THEN $4::timestamptz ELSE cancelled_at END,
			    cancelled_by = CASE WHEN $3::text = 'cancelled' THEN $5::uuid ELSE cancelled_by END,
			    operator_notes = CASE
			        WHEN $6::text = '' THEN operator_notes
			        WHEN operator_notes = '' THEN $6::text
			        ELSE operator_notes || E'\n\n' || $6::text
			    END
			WHERE id = $1
			  AND status = $2
			RETURNING `+reservationColumns,
			t.ReservationID, string(t.From), string(t.To), t.At, t.ActorID, t.NoteLine,
		)

		res, err := scanReservation(row)
		if err != nil {
			if errors.Is(err, ErrReservationNotFound) {
				return errStatusChanged
			}
			return fmt.Errorf("update reservation status: %w", err)
		}

		if t.To == StatusCompleted {
			if _, err := q.Exec(ctx, `
				UPDATE reservation_payments
				SET status = 'paid', paid_at = $2
				WHERE reservation_id = $1
				  AND status <> 'paid'
			`, res.ID, t.At); err != nil {
				return fmt.Errorf("mark payment paid: %w", err)
			}

			if _, err := q.Exec(ctx, `
				UPDATE practitioners
				SET completed_visits = completed_visits + 1,
				    updated_at = $2
				WHERE id = $1
			`, res.PractitionerID, t.At); err != nil {
				return fmt.Errorf("increment completed visits: %w", err)
			}
		}

		updated = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) AppendOperatorNotes(ctx context.Context, id uuid.UUID, line string) (*Reservation, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE reservations
		SET operator_notes = CASE
		        WHEN operator_notes = '' THEN $2::text
		        ELSE operator_notes || E'\n\n' || $2::text
		    END,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+reservationColumns,
		id, line,
	)
	return scanReservation(row)
}

func (r *PgRepository) Reschedule(ctx context.Context, id uuid.UUID, date Date, t TimeOfDay) (*Reservation, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE reservations
		SET date = $2,
		    time = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'confirmed')
		RETURNING `+reservationColumns,
		id, pgDate(date), pgTime(t),
	)
	res, err := scanReservation(row)
	if err != nil {
		if isUniqueViolation(err, activeSlotIndex) {
			return nil, errSlotTaken
		}
		// The caller loaded the row already, so no match means its status moved.
		if errors.Is(err, ErrReservationNotFound) {
			return nil, errStatusChanged
		}
		return nil, fmt.Errorf("reschedule reservation: %w", err)
	}
	return res, nil
}

func (r *PgRepository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT status, count(*)
		FROM reservations
		GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count reservations: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[Status(s)] = n
	}
	return counts, rows.Err()
}

func (r *PgRepository) CountBetween(ctx context.Context, from, to Date) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT count(*)
		FROM reservations
		WHERE date BETWEEN $1 AND $2
	`, pgDate(from), pgDate(to)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count reservations between: %w", err)
	}
	return n, nil
}

func (r *PgRepository) UpcomingPending(ctx context.Context, from Date, limit int) ([]Reservation, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE status = 'pending'
		  AND date >= $1
		ORDER BY date, time
		LIMIT $2
	`, pgDate(from), limit)
	if err != nil {
		return nil, fmt.Errorf("list upcoming pending: %w", err)
	}
	return collect(rows, scanReservation)
}

func (r *PgRepository) GetPayment(ctx context.Context, reservationID uuid.UUID) (*Payment, error) {
	var p Payment
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, reservation_id, amount_cents, method, status, paid_at, created_at
		FROM reservation_payments
		WHERE reservation_id = $1
	`, reservationID).Scan(&p.ID, &p.ReservationID, &p.AmountCents, &p.Method, &p.Status, &p.PaidAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &p, nil
}

func (r *PgRepository) CreateReview(ctx context.Context, rv Review) (*Review, float64, error) {
	var rating float64

	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)

		_, err := q.Exec(ctx, `
			INSERT INTO reservation_reviews (id, reservation_id, practitioner_id, patient_id, rating, review_text, would_recommend, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, rv.ID, rv.ReservationID, rv.PractitionerID, rv.PatientID, rv.Rating, rv.Text, rv.WouldRecommend, rv.CreatedAt)
		if err != nil {
			if isUniqueViolation(err, reviewReservationKey) {
				return errDuplicateReview
			}
			return fmt.Errorf("insert review: %w", err)
		}

		err = q.QueryRow(ctx, `
			UPDATE practitioners
			SET rating = (
			        SELECT round(avg(rating)::numeric, 2)
			        FROM reservation_reviews
			        WHERE practitioner_id = $1
			    ),
			    updated_at = now()
			WHERE id = $1
			RETURNING rating::float8
		`, rv.PractitionerID).Scan(&rating)
		if err != nil {
			return fmt.Errorf("recompute rating: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return &rv, rating, nil
}

func (r *PgRepository) GetReview(ctx context.Context, reservationID uuid.UUID) (*Review, error) {
	var rv Review
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, reservation_id, practitioner_id, patient_id, rating, review_text, would_recommend, created_at
		FROM reservation_reviews
		WHERE reservation_id = $1
	`, reservationID).Scan(&rv.ID, &rv.ReservationID, &rv.PractitionerID, &rv.PatientID, &rv.Rating, &rv.Text, &rv.WouldRecommend, &rv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errNoReview
		}
		return nil, fmt.Errorf("get review: %w", err)
	}
	return &rv, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO reservation_events (event_type, reservation_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.ReservationID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert reservation event: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
