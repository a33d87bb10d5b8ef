package storage

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	turnerrors "github.com/iamanmiglani/Image-to-text/v1/errors"
)

// DefaultRedisOpTimeout bounds every Redis round trip made by the turn stores.
const DefaultRedisOpTimeout = 5 * time.Second

// RedisErr maps deadline and closed-client failures onto the shared error
// classes. redis.Nil is returned untouched so callers can treat it as absence.
func RedisErr(err error) error {
	if err == nil {
		return nil
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return turnerrors.ErrTimeout
	}
	if stdErrors.Is(err, redis.ErrClosed) {
		return turnerrors.ErrConnectionClosed
	}
	return err
}

// RedisContext derives a bounded context for one Redis call. A context that
// already ended is reported through RedisErr before any I/O happens.
func RedisContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, RedisErr(err)
	}
	if timeout <= 0 {
		timeout = DefaultRedisOpTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	return cctx, cancel, nil
}

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// OpenRedis connects to Redis and pings it once so a bad address fails at
// startup instead of on the first turn request.
func OpenRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	cctx, cancel, err := RedisContext(ctx, DefaultRedisOpTimeout)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	defer cancel()
	if err := client.Ping(cctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, RedisErr(err))
	}
	return client, nil
}
