package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-booking/internal/auth"
	"github.com/hackgods/practitioner-booking/internal/booking"
	"github.com/hackgods/practitioner-booking/internal/config"
	"github.com/hackgods/practitioner-booking/internal/db"
	"github.com/hackgods/practitioner-booking/internal/logger"
)

type SimConfig struct {
	APIBaseURL        string
	Duration          time.Duration
	Workers           int
	Patients          int
	BookingRatio      float64
	CancelRatio       float64
	ReadRatio         float64
	PractitionerLimit int
	// DateSpread and HotSlots concentrate bookings on a few slots so
	// concurrent requests actually collide.
	DateSpread int
	HotSlots   int
}

type patient struct {
	ID    uuid.UUID
	Token string
}

type booked struct {
	ID    uuid.UUID
	Owner patient
}

// DataPool holds the practitioners under test and the reservations the
// simulator has created so far.
type DataPool struct {
	Practitioners []uuid.UUID
	Patients      []patient

	mu       sync.Mutex
	reserved []booked
}

func (dp *DataPool) AddReservation(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.reserved = append(dp.reserved, b)
}

// TakeReservation removes and returns a random reservation.
func (dp *DataPool) TakeReservation(rng *rand.Rand) (booked, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.reserved) == 0 {
		return booked{}, false
	}
	idx := rng.Intn(len(dp.reserved))
	b := dp.reserved[idx]
	dp.reserved[idx] = dp.reserved[len(dp.reserved)-1]
	dp.reserved = dp.reserved[:len(dp.reserved)-1]
	return b, true
}

type Simulator struct {
	config  SimConfig
	booking config.BookingConfig
	pool    *DataPool
	client  *http.Client
	log     *zap.Logger
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}
	zl, err := logger.New(baseCfg.Log)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		zl.Fatal("invalid config", zap.Error(err))
	}

	zl.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("read", cfg.ReadRatio))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, db.PoolOptions{MaxConns: 2, MinConns: 1})
	if err != nil {
		zl.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg, auth.NewJWTManager(baseCfg.JWT))
	if err != nil {
		zl.Fatal("load data pool", zap.Error(err))
	}
	zl.Info("data pool loaded",
		zap.Int("practitioners", len(dataPool.Practitioners)),
		zap.Int("patients", len(dataPool.Patients)))

	sim := &Simulator{
		config:  cfg,
		booking: baseCfg.Booking,
		pool:    dataPool,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     zl,
	}

	sim.Run()
	sim.PrintReport()

	duplicates, err := verifyLedger(context.Background(), pgPool)
	if err != nil {
		zl.Fatal("ledger verification failed", zap.Error(err))
	}
	if duplicates > 0 {
		zl.Error("ledger holds double-booked slots", zap.Int("slots", duplicates))
		os.Exit(1)
	}
	fmt.Println("Ledger check: no slot holds more than one active reservation")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:        getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:          getDuration("SIM_DURATION", 30*time.Second),
		Workers:           getInt("SIM_WORKERS", 10),
		Patients:          getInt("SIM_PATIENTS", 200),
		BookingRatio:      getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:       getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:         getFloat("SIM_READ_RATIO", 0.4),
		PractitionerLimit: getInt("SIM_PRACTITIONER_LIMIT", 20),
		DateSpread:        getInt("SIM_DATE_SPREAD", 3),
		HotSlots:          getInt("SIM_HOT_SLOTS", 3),
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	var errs []string
	if cfg.Workers <= 0 {
		errs = append(errs, "SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		errs = append(errs, "SIM_DURATION must be > 0")
	}
	if cfg.Patients <= 0 {
		errs = append(errs, "SIM_PATIENTS must be > 0")
	}
	if cfg.DateSpread <= 0 || cfg.HotSlots <= 0 {
		errs = append(errs, "SIM_DATE_SPREAD and SIM_HOT_SLOTS must be > 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig, jwt *auth.JWTManager) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id FROM practitioners
		WHERE is_verified AND status = 'available'
		ORDER BY full_name
		LIMIT $1
	`, cfg.PractitionerLimit)
	if err != nil {
		return nil, fmt.Errorf("load practitioners: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Practitioners = append(dataPool.Practitioners, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dataPool.Practitioners) == 0 {
		return nil, fmt.Errorf("no bookable practitioners, run bookingctl seed first")
	}

	for i := 0; i < cfg.Patients; i++ {
		p := patient{ID: uuid.New()}
		token, _, err := jwt.Issue(booking.Actor{ID: p.ID, Role: auth.RolePatient})
		if err != nil {
			return nil, fmt.Errorf("issue patient token: %w", err)
		}
		p.Token = token
		dataPool.Patients = append(dataPool.Patients, p)
	}

	return dataPool, nil
}

// verifyLedger counts slots that hold more than one active reservation.
func verifyLedger(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT practitioner_id, date, time
			FROM reservations
			WHERE status IN ('pending', 'confirmed', 'in_progress')
			GROUP BY practitioner_id, date, time
			HAVING count(*) > 1
		) dup
	`).Scan(&n)
	return n, err
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doListSlots(ctx, rng)
				case 1:
					s.doListOwn(ctx, rng)
				case 2:
					s.doUpcoming(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) randomPatient(rng *rand.Rand) patient {
	return s.pool.Patients[rng.Intn(len(s.pool.Patients))]
}

func (s *Simulator) randomPractitioner(rng *rand.Rand) uuid.UUID {
	return s.pool.Practitioners[rng.Intn(len(s.pool.Practitioners))]
}

func (s *Simulator) randomDate(rng *rand.Rand) booking.Date {
	today := booking.DateOf(time.Now().In(s.booking.Location))
	return today.AddDays(rng.Intn(s.config.DateSpread))
}

func (s *Simulator) request(ctx context.Context, method, path, token string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.client.Do(req)
}

func (s *Simulator) fetchSlots(ctx context.Context, practitionerID uuid.UUID, date booking.Date) ([]booking.Slot, error) {
	resp, err := s.request(ctx, http.MethodGet, fmt.Sprintf("/practitioners/%s/slots?date=%s", practitionerID, date), "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("slots: status %d", resp.StatusCode)
	}
	var body struct {
		Slots []booking.Slot `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Slots, nil
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	practitionerID := s.randomPractitioner(rng)
	date := s.randomDate(rng)

	slots, err := s.fetchSlots(ctx, practitionerID, date)
	if err != nil || len(slots) == 0 {
		return
	}
	hot := slots
	if len(hot) > s.config.HotSlots {
		hot = hot[:s.config.HotSlots]
	}
	slot := hot[rng.Intn(len(hot))]
	p := s.randomPatient(rng)

	start := time.Now()
	resp, err := s.request(ctx, http.MethodPost, "/reservations", p.Token, map[string]any{
		"practitioner_id":  practitionerID.String(),
		"date":             date.String(),
		"time":             slot.Time.String(),
		"appointment_type": string(booking.TypeConsultation),
		"intake": map[string]any{
			"age":             30 + rng.Intn(40),
			"gender":          string(booking.GenderOther),
			"chief_complaint": "load test visit",
		},
	})
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var created struct {
				ID uuid.UUID `json:"id"`
			}
			if json.NewDecoder(resp.Body).Decode(&created) == nil && created.ID != uuid.Nil {
				s.pool.AddReservation(booked{ID: created.ID, Owner: p})
			}
		case http.StatusConflict:
			conflict = true
		}
	}
	s.metrics.Book.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeReservation(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.request(ctx, http.MethodPost, "/reservations/"+b.ID.String()+"/cancel", b.Owner.Token, nil)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		// A slot whose time has passed is a business rejection, not a fault.
		conflict = resp.StatusCode == http.StatusUnprocessableEntity
	}
	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doListSlots(ctx context.Context, rng *rand.Rand) {
	start := time.Now()
	_, err := s.fetchSlots(ctx, s.randomPractitioner(rng), s.randomDate(rng))
	s.metrics.ListSlots.Record(time.Since(start), err == nil, false)
}

func (s *Simulator) doListOwn(ctx context.Context, rng *rand.Rand) {
	p := s.randomPatient(rng)

	start := time.Now()
	resp, err := s.request(ctx, http.MethodGet, "/reservations?limit=20", p.Token, nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	s.metrics.ListOwn.Record(latency, success, false)
}

func (s *Simulator) doUpcoming(ctx context.Context, rng *rand.Rand) {
	start := time.Now()
	resp, err := s.request(ctx, http.MethodGet, "/practitioners/"+s.randomPractitioner(rng).String()+"/availability?days=14", "", nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	s.metrics.Upcoming.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	w := os.Stdout
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
	fmt.Fprintln(w, "SIMULATION REPORT")
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "Duration: %s\n", s.config.Duration)
	fmt.Fprintf(w, "Workers: %d\n\n", s.config.Workers)

	printOperationReport(w, "Book", &s.metrics.Book)
	printOperationReport(w, "Cancel", &s.metrics.Cancel)
	printOperationReport(w, "List slots", &s.metrics.ListSlots)
	printOperationReport(w, "List own reservations", &s.metrics.ListOwn)
	printOperationReport(w, "Upcoming availability", &s.metrics.Upcoming)
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
