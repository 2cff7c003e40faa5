// Package store provides the tenant-partitioned transactional keyed store
// underneath every domain component. Keys are (tenant, bucket, id); a
// transaction is always bound to exactly one tenant.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

var (
	// ErrNotFound is returned by Get when the key is absent in the tenant.
	ErrNotFound = fmt.Errorf("store: record %w", shared.ErrNotFound)
	// ErrExists is returned by Insert when the key is already present.
	ErrExists = fmt.Errorf("store: record exists: %w", shared.ErrConflict)
	// ErrReadOnly is returned by writes inside View.
	ErrReadOnly = errors.New("store: read-only transaction")
	// ErrTenantRequired is returned when no tenant scope is given.
	ErrTenantRequired = errors.New("store: tenant required")

	errRetry = errors.New("store: serialization conflict")
)

// Tx is a unit of work scoped to one tenant.
type Tx interface {
	Get(ctx context.Context, bucket, id string) ([]byte, error)
	Put(ctx context.Context, bucket, id string, value []byte) error
	Insert(ctx context.Context, bucket, id string, value []byte) error
	Delete(ctx context.Context, bucket, id string) error
	// Scan visits every record whose id starts with prefix, ordered by id.
	Scan(ctx context.Context, bucket, prefix string, fn func(id string, value []byte) error) error
}

// Store runs transactions against a tenant partition.
type Store interface {
	Update(ctx context.Context, tenantID string, fn func(Tx) error) error
	View(ctx context.Context, tenantID string, fn func(Tx) error) error
}

// Options tunes retry behaviour shared by the backends.
type Options struct {
	MaxRetries int
	Backoff    time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 50
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Millisecond
	}
	return o
}

// retry runs attempt until it stops reporting errRetry or the budget runs out.
func retry(ctx context.Context, opts Options, attempt func() error) error {
	for i := 0; ; i++ {
		err := attempt()
		if !errors.Is(err, errRetry) {
			return err
		}
		if i+1 >= opts.MaxRetries {
			return fmt.Errorf("%w: transaction retries exhausted", shared.ErrConflict)
		}
		wait := opts.Backoff * time.Duration(min(i+1, 10))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
