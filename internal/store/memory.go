package store

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
)

type record struct {
	value   []byte
	version uint64
	deleted bool
}

// space holds one tenant's records. Tenants never share a space or its lock.
type space struct {
	mu      sync.RWMutex
	records map[string]*record
	clock   uint64
}

// Memory is an in-process Store using optimistic concurrency: reads record
// the version they saw and commit fails and retries when any of them moved.
type Memory struct {
	mu     sync.Mutex
	spaces map[string]*space
	opts   Options
}

// NewMemory constructs an empty in-memory store.
func NewMemory(opts Options) *Memory {
	return &Memory{spaces: make(map[string]*space), opts: opts.withDefaults()}
}

func (m *Memory) space(tenantID string) *space {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.spaces[tenantID]
	if !ok {
		sp = &space{records: make(map[string]*record)}
		m.spaces[tenantID] = sp
	}
	return sp
}

// Update runs fn in a read-write transaction, retrying on conflicting commits.
func (m *Memory) Update(ctx context.Context, tenantID string, fn func(Tx) error) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	sp := m.space(tenantID)
	return retry(ctx, m.opts, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := newMemTx(sp, false)
		if err := fn(tx); err != nil {
			return err
		}
		return tx.commit()
	})
}

// View runs fn in a read-only transaction.
func (m *Memory) View(ctx context.Context, tenantID string, fn func(Tx) error) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(newMemTx(m.space(tenantID), true))
}

type pending struct {
	value   []byte
	deleted bool
}

type memTx struct {
	sp       *space
	readOnly bool
	reads    map[string]uint64
	writes   map[string]pending
}

func newMemTx(sp *space, readOnly bool) *memTx {
	return &memTx{sp: sp, readOnly: readOnly, reads: make(map[string]uint64), writes: make(map[string]pending)}
}

func compositeKey(bucket, id string) string {
	return bucket + "\x00" + id
}

func clone(b []byte) []byte {
	return bytes.Clone(b)
}

func (tx *memTx) lookup(key string) ([]byte, bool) {
	if w, ok := tx.writes[key]; ok {
		if w.deleted {
			return nil, false
		}
		return clone(w.value), true
	}
	tx.sp.mu.RLock()
	rec, ok := tx.sp.records[key]
	var version uint64
	var value []byte
	live := false
	if ok {
		version = rec.version
		if !rec.deleted {
			value = clone(rec.value)
			live = true
		}
	}
	tx.sp.mu.RUnlock()
	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = version
	}
	return value, live
}

func (tx *memTx) Get(ctx context.Context, bucket, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, ok := tx.lookup(compositeKey(bucket, id))
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

func (tx *memTx) Put(ctx context.Context, bucket, id string, value []byte) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.writes[compositeKey(bucket, id)] = pending{value: clone(value)}
	return nil
}

func (tx *memTx) Insert(ctx context.Context, bucket, id string, value []byte) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	key := compositeKey(bucket, id)
	if _, ok := tx.lookup(key); ok {
		return ErrExists
	}
	tx.writes[key] = pending{value: clone(value)}
	return nil
}

func (tx *memTx) Delete(ctx context.Context, bucket, id string) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	key := compositeKey(bucket, id)
	// Read the key so a concurrent re-creation is detected at commit.
	tx.lookup(key)
	tx.writes[key] = pending{deleted: true}
	return nil
}

// Scan reads a snapshot of committed records merged with this transaction's
// own writes. Scanned keys are not part of the validated read set.
func (tx *memTx) Scan(ctx context.Context, bucket, prefix string, fn func(id string, value []byte) error) error {
	head := compositeKey(bucket, prefix)
	rows := make(map[string][]byte)
	tx.sp.mu.RLock()
	for key, rec := range tx.sp.records {
		if rec.deleted || !strings.HasPrefix(key, head) {
			continue
		}
		rows[key] = clone(rec.value)
	}
	tx.sp.mu.RUnlock()
	for key, w := range tx.writes {
		if !strings.HasPrefix(key, head) {
			continue
		}
		if w.deleted {
			delete(rows, key)
			continue
		}
		rows[key] = clone(w.value)
	}
	keys := make([]string, 0, len(rows))
	for key := range rows {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	trim := len(bucket) + 1
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(key[trim:], rows[key]); err != nil {
			return err
		}
	}
	return nil
}

func (tx *memTx) commit() error {
	if len(tx.writes) == 0 {
		return nil
	}
	tx.sp.mu.Lock()
	defer tx.sp.mu.Unlock()
	for key, seen := range tx.reads {
		var current uint64
		if rec, ok := tx.sp.records[key]; ok {
			current = rec.version
		}
		if current != seen {
			return errRetry
		}
	}
	for key, w := range tx.writes {
		tx.sp.clock++
		tx.sp.records[key] = &record{value: w.value, version: tx.sp.clock, deleted: w.deleted}
	}
	return nil
}
