package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// RedisConfig tunes the Redis locker.
type RedisConfig struct {
	TTL  time.Duration
	Wait time.Duration
	Poll time.Duration
}

// Redis is a Locker shared by every process connected to the same Redis.
// Keys expire after TTL so a crashed holder cannot block forever.
type Redis struct {
	client redis.UniversalClient
	cfg    RedisConfig
}

// NewRedis constructs a Redis locker.
func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = DefaultWait
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 10 * time.Millisecond
	}
	return &Redis{client: client, cfg: cfg}
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	token := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Wait)
	defer cancel()

	held := make([]string, 0, len(keys))
	release := func() {
		rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
		defer rcancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = releaseScript.Run(rctx, r.client, []string{held[i]}, token).Err()
		}
	}
	for _, key := range keys {
		if err := r.take(ctx, key, token); err != nil {
			release()
			return nil, err
		}
		held = append(held, key)
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (r *Redis) take(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(r.cfg.Poll)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.cfg.TTL).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("lock: redis setnx: %w", err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
