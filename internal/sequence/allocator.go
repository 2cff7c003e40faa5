// Package sequence hands out gap-free document numbers per
// (tenant, branch, document type, series).
package sequence

import (
	"context"
	"log/slog"
	"time"

	"github.com/odyssey-erp/backoffice/internal/platform/lock"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/tenant"
)

// Allocator owns the series counters.
type Allocator struct {
	guard  *tenant.Guard
	locker lock.Locker
	logger *slog.Logger
	clock  func() time.Time
}

// NewAllocator builds an Allocator.
func NewAllocator(guard *tenant.Guard, locker lock.Locker, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{guard: guard, locker: locker, logger: logger, clock: func() time.Time { return time.Now().UTC() }}
}

// LockKey returns the critical-section key guarding a series.
func LockKey(tenantID string, key Key) string {
	return shared.SeriesLockKey(tenantID, key.Normalize().ID())
}

// Next allocates the next number in its own transaction.
func (a *Allocator) Next(ctx context.Context, key Key) (Allocation, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return Allocation{}, err
	}
	tenantID, err := a.guard.Resolve(ctx)
	if err != nil {
		return Allocation{}, err
	}
	release, err := a.locker.Acquire(ctx, LockKey(tenantID, key))
	if err != nil {
		return Allocation{}, err
	}
	defer release()

	var alloc Allocation
	err = a.guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		alloc, err = a.NextInTx(ctx, tx, key)
		return err
	})
	if err != nil {
		return Allocation{}, err
	}
	a.logger.Debug("sequence allocated", slog.String("tenant_id", tenantID), slog.String("series", alloc.SeriesID), slog.Int64("number", alloc.Number))
	return alloc, nil
}

// NextInTx allocates inside the caller's transaction, so the number is only
// consumed if that transaction commits. Missing series start at 1.
func (a *Allocator) NextInTx(ctx context.Context, tx *tenant.Tx, key Key) (Allocation, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return Allocation{}, err
	}
	id := key.ID()
	series, ok, err := tenant.Lookup[Series](ctx, tx, seriesBucket, id)
	if err != nil {
		return Allocation{}, err
	}
	if !ok {
		series = Series{
			TenantID:   tx.TenantID(),
			ID:         id,
			BranchID:   key.BranchID,
			DocType:    key.DocType,
			Series:     key.Series,
			NextNumber: 1,
		}
	}
	number := series.NextNumber
	series.NextNumber++
	series.UpdatedAt = a.clock()
	if err := tx.Put(ctx, seriesBucket, id, series); err != nil {
		return Allocation{}, err
	}
	return Allocation{SeriesID: id, Number: number}, nil
}

// Peek returns the number the next allocation would receive.
func (a *Allocator) Peek(ctx context.Context, key Key) (int64, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return 0, err
	}
	next := int64(1)
	err := a.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		series, ok, err := tenant.Lookup[Series](ctx, tx, seriesBucket, key.ID())
		if err != nil {
			return err
		}
		if ok {
			next = series.NextNumber
		}
		return nil
	})
	return next, err
}

// List returns every series of the caller's tenant.
func (a *Allocator) List(ctx context.Context) ([]Series, error) {
	var out []Series
	err := a.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		return tenant.Scan(ctx, tx, seriesBucket, "", func(_ string, s Series) error {
			out = append(out, s)
			return nil
		})
	})
	return out, err
}
