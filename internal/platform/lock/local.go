package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

type entry struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process Locker.
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
	wait    time.Duration
}

// NewLocal constructs a Local locker with the given wait bound.
func NewLocal(wait time.Duration) *Local {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Local{entries: make(map[string]*entry), wait: wait}
}

func (l *Local) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Local) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	type heldKey struct {
		key string
		e   *entry
	}
	held := make([]heldKey, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].e.sem
			l.unref(held[i].key)
		}
	}
	for _, key := range keys {
		e := l.ref(key)
		select {
		case e.sem <- struct{}{}:
			held = append(held, heldKey{key: key, e: e})
		case <-ctx.Done():
			l.unref(key)
			release()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()
		}
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}
