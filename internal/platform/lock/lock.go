// Package lock provides bounded-wait critical sections keyed by string.
package lock

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ErrTimeout is returned when a key could not be acquired within the wait bound.
var ErrTimeout = fmt.Errorf("lock: wait exceeded: %w", shared.ErrConflict)

// DefaultWait bounds how long Acquire blocks when no wait is configured.
const DefaultWait = 5 * time.Second

// Locker acquires every key or none. The returned release is safe to call once.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// normalize sorts and de-duplicates keys so concurrent multi-key acquisitions
// always take locks in the same order.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
