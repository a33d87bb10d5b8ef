package lease

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/iamanmiglani/Image-to-text/v1/storage"
)

const defaultRedisKey = "imagetext:turn:lease"

// acquireScript returns 0 (denied), 1 (granted) or 2 (renewed).
var acquireScript = redis.NewScript(`
local v = redis.call("HMGET", KEYS[1], "holder", "acquired_at", "ttl_ms")
local now = tonumber(ARGV[2])
if v[1] and now < tonumber(v[2]) + tonumber(v[3]) then
    if v[1] == ARGV[1] then
        redis.call("HSET", KEYS[1], "acquired_at", ARGV[2], "ttl_ms", ARGV[3])
        return 2
    end
    return 0
end
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], "holder", ARGV[1], "token", ARGV[4], "acquired_at", ARGV[2], "ttl_ms", ARGV[3])
return 1
`)

// releaseScript returns 1 when a valid lease was dropped, 0 otherwise. A
// lapsed lease of the caller is dropped too but still reported as 0.
var releaseScript = redis.NewScript(`
local v = redis.call("HMGET", KEYS[1], "holder", "acquired_at", "ttl_ms")
if v[1] ~= ARGV[1] then
    return 0
end
redis.call("DEL", KEYS[1])
if tonumber(ARGV[2]) < tonumber(v[2]) + tonumber(v[3]) then
    return 1
end
return 0
`)

var expireScript = redis.NewScript(`
local v = redis.call("HMGET", KEYS[1], "holder", "token", "acquired_at", "ttl_ms")
if not v[1] then
    return false
end
if tonumber(ARGV[1]) < tonumber(v[3]) + tonumber(v[4]) then
    return false
end
redis.call("DEL", KEYS[1])
return v
`)

// Redis implements Store on a Redis hash mutated only through Lua scripts.
type Redis struct {
	client  *redis.Client
	key     string
	now     func() time.Time
	timeout time.Duration
}

// NewRedis returns a Redis-backed lease store.
func NewRedis(client *redis.Client, opts ...Option) *Redis {
	o := buildOptions(defaultRedisKey, opts)
	return &Redis{client: client, key: o.key, now: o.now, timeout: o.timeout}
}

// TryAcquire implements Store.TryAcquire.
func (r *Redis) TryAcquire(ctx context.Context, participant string, ttl time.Duration) (Outcome, error) {
	if err := validate(participant, ttl); err != nil {
		return Denied, err
	}
	token, err := newToken()
	if err != nil {
		return Denied, err
	}
	cctx, cancel, err := storage.RedisContext(ctx, r.timeout)
	if err != nil {
		return Denied, err
	}
	defer cancel()
	res, err := acquireScript.Run(cctx, r.client, []string{r.key},
		participant, r.now().UnixMilli(), ttl.Milliseconds(), token).Int()
	if err != nil {
		return Denied, storage.RedisErr(err)
	}
	switch res {
	case 1:
		return Granted, nil
	case 2:
		return Renewed, nil
	default:
		return Denied, nil
	}
}

// Release implements Store.Release.
func (r *Redis) Release(ctx context.Context, participant string) error {
	cctx, cancel, err := storage.RedisContext(ctx, r.timeout)
	if err != nil {
		return err
	}
	defer cancel()
	res, err := releaseScript.Run(cctx, r.client, []string{r.key}, participant, r.now().UnixMilli()).Int()
	if err != nil {
		return storage.RedisErr(err)
	}
	if res != 1 {
		return ErrNotHolder
	}
	return nil
}

// Holder implements Store.Holder.
func (r *Redis) Holder(ctx context.Context) (string, bool, error) {
	l, ok, err := r.current(ctx)
	if err != nil || !ok || l.Expired(r.now()) {
		return "", false, err
	}
	return l.Holder, true, nil
}

// Expire implements Store.Expire.
func (r *Redis) Expire(ctx context.Context) (Lease, bool, error) {
	cctx, cancel, err := storage.RedisContext(ctx, r.timeout)
	if err != nil {
		return Lease{}, false, err
	}
	defer cancel()
	res, err := expireScript.Run(cctx, r.client, []string{r.key}, r.now().UnixMilli()).Slice()
	if err == redis.Nil {
		return Lease{}, false, nil
	}
	if err != nil {
		return Lease{}, false, storage.RedisErr(err)
	}
	fields := make([]string, len(res))
	for i, v := range res {
		fields[i], _ = v.(string)
	}
	l, err := parseLease(fields[0], fields[1], fields[2], fields[3])
	if err != nil {
		return Lease{}, false, err
	}
	return l, true, nil
}

func (r *Redis) current(ctx context.Context) (Lease, bool, error) {
	cctx, cancel, err := storage.RedisContext(ctx, r.timeout)
	if err != nil {
		return Lease{}, false, err
	}
	defer cancel()
	vals, err := r.client.HMGet(cctx, r.key, "holder", "token", "acquired_at", "ttl_ms").Result()
	if err != nil {
		return Lease{}, false, storage.RedisErr(err)
	}
	if vals[0] == nil {
		return Lease{}, false, nil
	}
	fields := make([]string, len(vals))
	for i, v := range vals {
		fields[i], _ = v.(string)
	}
	l, err := parseLease(fields[0], fields[1], fields[2], fields[3])
	if err != nil {
		return Lease{}, false, err
	}
	return l, true, nil
}

func parseLease(holder, token, acquired, ttl string) (Lease, error) {
	at, err := strconv.ParseInt(acquired, 10, 64)
	if err != nil {
		return Lease{}, fmt.Errorf("parse lease acquired_at: %w", err)
	}
	ms, err := strconv.ParseInt(ttl, 10, 64)
	if err != nil {
		return Lease{}, fmt.Errorf("parse lease ttl: %w", err)
	}
	return Lease{
		Holder:     holder,
		Token:      token,
		AcquiredAt: time.UnixMilli(at),
		TTL:        time.Duration(ms) * time.Millisecond,
	}, nil
}
