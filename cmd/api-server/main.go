package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-booking/internal/api"
	"github.com/hackgods/practitioner-booking/internal/auth"
	"github.com/hackgods/practitioner-booking/internal/booking"
	"github.com/hackgods/practitioner-booking/internal/config"
	"github.com/hackgods/practitioner-booking/internal/db"
	"github.com/hackgods/practitioner-booking/internal/logger"
	"github.com/hackgods/practitioner-booking/internal/metrics"
	redisclient "github.com/hackgods/practitioner-booking/internal/redis"
	"github.com/hackgods/practitioner-booking/internal/tracer"
)

const serviceName = "practitioner-booking"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("api-server exited", zap.Error(err))
	}
}

func run(cfg config.Config, zl *zap.Logger) error {
	zl.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("http_port", cfg.HTTPPort),
		zap.Stringer("timezone", cfg.Booking.Location))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracer.Init(rootCtx, serviceName, cfg.Version, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			zl.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.DefaultPoolOptions)
	cancelPg()
	if err != nil {
		return err
	}
	defer pgPool.Close()
	zl.Info("connected to Postgres")

	rdb, locker := connectLocker(rootCtx, cfg, zl)
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				zl.Warn("error closing redis", zap.Error(err))
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector("practitioner_booking", reg)

	svc := booking.NewService(
		booking.NewPgRepository(pgPool),
		locker,
		auth.RoleAuthorizer{},
		cfg.Booking,
		zl,
		booking.WithRecorder(collector),
	)

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		Auth:    auth.NewJWTManager(cfg.JWT),
		Health:  api.NewHealthHandler(pgPool, api.RedisPinger(rdb), cfg.Env, cfg.Version),
		Metrics: collector,
		Logger:  zl,
		Rate:    cfg.Rate,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	zl.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// connectLocker returns the Redis slot locker, or a no-op locker when Redis
// is disabled or unreachable. The unique index still guards the ledger.
func connectLocker(ctx context.Context, cfg config.Config, zl *zap.Logger) (*redis.Client, redisclient.Locker) {
	if !cfg.Lock.Enabled {
		zl.Info("slot lock disabled")
		return nil, redisclient.NewNoopLocker()
	}

	rdb, err := redisclient.NewRedisClient(ctx, redisclient.ClientOptions{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		zl.Warn("redis unavailable, booking without slot lock", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		return nil, redisclient.NewNoopLocker()
	}
	zl.Info("connected to Redis", zap.String("addr", cfg.RedisAddr), zap.Duration("lock_ttl", cfg.Lock.TTL))
	return rdb, redisclient.NewRedisSlotLocker(rdb, cfg.Lock.TTL)
}
