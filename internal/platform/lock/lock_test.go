package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

func TestNormalizeSortsAndDedupes(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, normalize([]string{"b", "", "a", "b"}))
}

func lockers(t *testing.T, wait time.Duration) map[string]Locker {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Locker{
		"local": NewLocal(wait),
		"redis": NewRedis(client, RedisConfig{Wait: wait, Poll: time.Millisecond}),
	}
}

func TestLockerMutualExclusion(t *testing.T) {
	for name, l := range lockers(t, 5*time.Second) {
		t.Run(name, func(t *testing.T) {
			var inside, maxInside int32
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					release, err := l.Acquire(context.Background(), "k")
					require.NoError(t, err)
					n := atomic.AddInt32(&inside, 1)
					for {
						m := atomic.LoadInt32(&maxInside)
						if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&inside, -1)
					release()
				}()
			}
			wg.Wait()
			require.Equal(t, int32(1), maxInside)
		})
	}
}

func TestLockerTimesOutAsConflict(t *testing.T) {
	for name, l := range lockers(t, 100*time.Millisecond) {
		t.Run(name, func(t *testing.T) {
			release, err := l.Acquire(context.Background(), "busy")
			require.NoError(t, err)
			defer release()

			_, err = l.Acquire(context.Background(), "busy")
			require.ErrorIs(t, err, ErrTimeout)
			require.ErrorIs(t, err, shared.ErrConflict)
		})
	}
}

func TestLockerReleaseAllowsReacquire(t *testing.T) {
	for name, l := range lockers(t, 100*time.Millisecond) {
		t.Run(name, func(t *testing.T) {
			release, err := l.Acquire(context.Background(), "x", "y")
			require.NoError(t, err)
			release()
			release()

			release, err = l.Acquire(context.Background(), "y")
			require.NoError(t, err)
			release()
		})
	}
}

func TestLockerPartialAcquireRollsBack(t *testing.T) {
	for name, l := range lockers(t, 100*time.Millisecond) {
		t.Run(name, func(t *testing.T) {
			hold, err := l.Acquire(context.Background(), "b")
			require.NoError(t, err)

			_, err = l.Acquire(context.Background(), "a", "b")
			require.ErrorIs(t, err, ErrTimeout)
			hold()

			release, err := l.Acquire(context.Background(), "a")
			require.NoError(t, err)
			release()
		})
	}
}

func TestRedisLockExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	l := NewRedis(client, RedisConfig{TTL: time.Second, Wait: 50 * time.Millisecond, Poll: time.Millisecond})

	_, err := l.Acquire(context.Background(), "stale")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	release, err := l.Acquire(context.Background(), "stale")
	require.NoError(t, err)
	release()
}
