package activity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/iamanmiglani/Image-to-text/v1/storage"
)

// Redis implements Tracker on one Redis hash per scope, field = participant,
// value = unix milliseconds.
type Redis struct {
	client  *redis.Client
	key     string
	now     func() time.Time
	timeout time.Duration
}

// NewRedis returns a Redis-backed tracker.
func NewRedis(client *redis.Client, opts ...Option) *Redis {
	o := buildOptions(opts)
	return &Redis{
		client:  client,
		key:     "imagetext:turn:" + o.scope,
		now:     o.now,
		timeout: o.timeout,
	}
}

// Touch implements Tracker.Touch.
func (r *Redis) Touch(ctx context.Context, participant string) error {
	if participant == "" {
		return ErrEmptyParticipant
	}
	cctx, cancel, err := storage.RedisContext(ctx, r.timeout)
	if err != nil {
		return err
	}
	defer cancel()
	return storage.RedisErr(r.client.HSet(cctx, r.key, participant, r.now().UnixMilli()).Err())
}

// Last implements Tracker.Last.
func (r *Redis) Last(ctx context.Context, participant string) (time.Time, bool, error) {
	cctx, cancel, err := storage.RedisContext(ctx, r.timeout)
	if err != nil {
		return time.Time{}, false, err
	}
	defer cancel()
	v, err := r.client.HGet(cctx, r.key, participant).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, storage.RedisErr(err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse activity for %s: %w", participant, err)
	}
	return time.UnixMilli(ms), true, nil
}

// Forget implements Tracker.Forget.
func (r *Redis) Forget(ctx context.Context, participant string) error {
	cctx, cancel, err := storage.RedisContext(ctx, r.timeout)
	if err != nil {
		return err
	}
	defer cancel()
	return storage.RedisErr(r.client.HDel(cctx, r.key, participant).Err())
}

// All implements Tracker.All.
func (r *Redis) All(ctx context.Context) (map[string]time.Time, error) {
	cctx, cancel, err := storage.RedisContext(ctx, r.timeout)
	if err != nil {
		return nil, err
	}
	defer cancel()
	vals, err := r.client.HGetAll(cctx, r.key).Result()
	if err != nil {
		return nil, storage.RedisErr(err)
	}
	out := make(map[string]time.Time, len(vals))
	for p, v := range vals {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse activity for %s: %w", p, err)
		}
		out[p] = time.UnixMilli(ms)
	}
	return out, nil
}
