package queue

import (
	"context"

	redis "github.com/redis/go-redis/v9"

	"github.com/iamanmiglani/Image-to-text/v1/storage"
)

const defaultRedisKey = "imagetext:turn:queue"

// enqueueScript appends ARGV[1] to the list unless it is already present.
var enqueueScript = redis.NewScript(`
local entries = redis.call("LRANGE", KEYS[1], 0, -1)
for _, v in ipairs(entries) do
    if v == ARGV[1] then
        return 0
    end
end
redis.call("RPUSH", KEYS[1], ARGV[1])
return 1
`)

// Redis implements Queue on a Redis list.
type Redis struct {
	client *redis.Client
	opts   options
}

// NewRedis returns a Redis-backed queue.
func NewRedis(client *redis.Client, opts ...Option) *Redis {
	return &Redis{client: client, opts: buildOptions(defaultRedisKey, opts)}
}

// Enqueue implements Queue.Enqueue.
func (r *Redis) Enqueue(ctx context.Context, participant string) (bool, error) {
	if participant == "" {
		return false, ErrEmptyParticipant
	}
	cctx, cancel, err := storage.RedisContext(ctx, r.opts.timeout)
	if err != nil {
		return false, err
	}
	defer cancel()
	added, err := enqueueScript.Run(cctx, r.client, []string{r.opts.key}, participant).Int()
	if err != nil {
		return false, storage.RedisErr(err)
	}
	return added == 1, nil
}

// DequeueFront implements Queue.DequeueFront.
func (r *Redis) DequeueFront(ctx context.Context) (string, bool, error) {
	cctx, cancel, err := storage.RedisContext(ctx, r.opts.timeout)
	if err != nil {
		return "", false, err
	}
	defer cancel()
	head, err := r.client.LPop(cctx, r.opts.key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, storage.RedisErr(err)
	}
	return head, true, nil
}

// Position implements Queue.Position.
func (r *Redis) Position(ctx context.Context, participant string) (int, bool, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return 0, false, err
	}
	for i, p := range entries {
		if p == participant {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// Remove implements Queue.Remove.
func (r *Redis) Remove(ctx context.Context, participant string) error {
	cctx, cancel, err := storage.RedisContext(ctx, r.opts.timeout)
	if err != nil {
		return err
	}
	defer cancel()
	return storage.RedisErr(r.client.LRem(cctx, r.opts.key, 0, participant).Err())
}

// List implements Queue.List.
func (r *Redis) List(ctx context.Context) ([]string, error) {
	cctx, cancel, err := storage.RedisContext(ctx, r.opts.timeout)
	if err != nil {
		return nil, err
	}
	defer cancel()
	entries, err := r.client.LRange(cctx, r.opts.key, 0, -1).Result()
	if err != nil {
		return nil, storage.RedisErr(err)
	}
	return entries, nil
}
