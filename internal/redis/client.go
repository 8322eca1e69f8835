package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientOptions is the subset of go-redis settings the booking service
// exposes. Zero values fall back to the defaults below.
type ClientOptions struct {
	Addr     string
	Username string
	Password string
	PoolSize int
	// OpTimeout bounds each read and write. Lock calls sit on the booking
	// path, so it is kept well under the HTTP write timeout.
	OpTimeout time.Duration
}

const (
	defaultPoolSize  = 10
	defaultOpTimeout = 500 * time.Millisecond
	pingTimeout      = 5 * time.Second
)

func (o ClientOptions) redisOptions() *redis.Options {
	poolSize := o.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	opTimeout := o.OpTimeout
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &redis.Options{
		Addr:         o.Addr,
		Username:     o.Username,
		Password:     o.Password,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
		PoolSize:     poolSize,
		MinIdleConns: 1,
	}
}

// NewRedisClient connects and pings. Callers treat a failure as "run
// without the advisory lock" rather than fatal.
func NewRedisClient(ctx context.Context, opts ClientOptions) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}
	rdb := redis.NewClient(opts.redisOptions())

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return rdb, nil
}
