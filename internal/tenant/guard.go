// Package tenant is the single choke point between domain code and the
// store. It resolves the calling tenant from the request identity and checks
// that every record read or written belongs to that tenant.
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/store"
)

// Owned is implemented by every record that belongs to a tenant.
type Owned interface {
	Owner() string
}

// AlertFunc is notified on every isolation violation.
type AlertFunc func(tenantID, bucket string)

// Guard wraps a Store with tenant resolution and ownership checks.
type Guard struct {
	store  store.Store
	dir    Directory
	logger *slog.Logger
	alert  AlertFunc
}

// NewGuard builds a Guard. dir and alert may be nil.
func NewGuard(st store.Store, dir Directory, logger *slog.Logger, alert AlertFunc) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: st, dir: dir, logger: logger, alert: alert}
}

// Resolve returns the active tenant id of the caller.
func (g *Guard) Resolve(ctx context.Context) (string, error) {
	id, ok := shared.IdentityFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("%w: missing tenant identity", shared.ErrUnauthorized)
	}
	if g.dir == nil {
		return id.TenantID, nil
	}
	t, err := g.dir.Tenant(ctx, id.TenantID)
	if err != nil {
		return "", err
	}
	switch t.Status {
	case StatusActive:
		return t.ID, nil
	case StatusSuspended:
		return "", fmt.Errorf("%w: tenant %s suspended", shared.ErrForbidden, t.ID)
	default:
		return "", fmt.Errorf("%w: tenant %s has status %q", shared.ErrForbidden, t.ID, t.Status)
	}
}

// Update runs fn in a read-write transaction scoped to the caller's tenant.
// fn may run more than once when the store retries a conflicting commit.
func (g *Guard) Update(ctx context.Context, fn func(context.Context, *Tx) error) error {
	tenantID, err := g.Resolve(ctx)
	if err != nil {
		return err
	}
	return g.store.Update(ctx, tenantID, func(raw store.Tx) error {
		return fn(ctx, &Tx{raw: raw, tenantID: tenantID, guard: g})
	})
}

// View runs fn in a read-only transaction scoped to the caller's tenant.
func (g *Guard) View(ctx context.Context, fn func(context.Context, *Tx) error) error {
	tenantID, err := g.Resolve(ctx)
	if err != nil {
		return err
	}
	return g.store.View(ctx, tenantID, func(raw store.Tx) error {
		return fn(ctx, &Tx{raw: raw, tenantID: tenantID, guard: g})
	})
}

func (g *Guard) violation(tenantID, bucket, id, owner string) error {
	g.logger.Error("tenant isolation violation",
		slog.String("tenant_id", tenantID),
		slog.String("bucket", bucket),
		slog.String("id", id),
		slog.String("owner", owner))
	if g.alert != nil {
		g.alert(tenantID, bucket)
	}
	return fmt.Errorf("%w: %s/%s", shared.ErrIsolationViolation, bucket, id)
}

// Tx is a tenant-scoped transaction handed to domain code.
type Tx struct {
	raw      store.Tx
	tenantID string
	guard    *Guard
}

// TenantID returns the tenant the transaction is bound to.
func (t *Tx) TenantID() string {
	return t.tenantID
}

// Verify checks that a record obtained outside the store belongs to the tenant.
func (t *Tx) Verify(bucket, id string, v Owned) error {
	if v.Owner() != t.tenantID {
		return t.guard.violation(t.tenantID, bucket, id, v.Owner())
	}
	return nil
}

// Put writes v, which must belong to the transaction's tenant.
func (t *Tx) Put(ctx context.Context, bucket, id string, v Owned) error {
	raw, err := t.encode(bucket, id, v)
	if err != nil {
		return err
	}
	return t.raw.Put(ctx, bucket, id, raw)
}

// Insert writes v only when id is unused; otherwise it fails with a conflict.
func (t *Tx) Insert(ctx context.Context, bucket, id string, v Owned) error {
	raw, err := t.encode(bucket, id, v)
	if err != nil {
		return err
	}
	return t.raw.Insert(ctx, bucket, id, raw)
}

// Delete removes a record.
func (t *Tx) Delete(ctx context.Context, bucket, id string) error {
	return t.raw.Delete(ctx, bucket, id)
}

func (t *Tx) encode(bucket, id string, v Owned) ([]byte, error) {
	if err := t.Verify(bucket, id, v); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("tenant: encode %s/%s: %w", bucket, id, err)
	}
	return raw, nil
}

// Get loads a record and checks its owner.
func Get[T Owned](ctx context.Context, tx *Tx, bucket, id string) (T, error) {
	var v T
	raw, err := tx.raw.Get(ctx, bucket, id)
	if err != nil {
		return v, err
	}
	return decode[T](tx, bucket, id, raw)
}

// Lookup is Get that reports absence as ok=false instead of an error.
func Lookup[T Owned](ctx context.Context, tx *Tx, bucket, id string) (T, bool, error) {
	v, err := Get[T](ctx, tx, bucket, id)
	if errors.Is(err, store.ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}

// Scan visits every record under prefix, checking each owner.
func Scan[T Owned](ctx context.Context, tx *Tx, bucket, prefix string, fn func(id string, v T) error) error {
	return tx.raw.Scan(ctx, bucket, prefix, func(id string, raw []byte) error {
		v, err := decode[T](tx, bucket, id, raw)
		if err != nil {
			return err
		}
		return fn(id, v)
	})
}

func decode[T Owned](tx *Tx, bucket, id string, raw []byte) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("tenant: decode %s/%s: %w", bucket, id, err)
	}
	if v.Owner() != tx.tenantID {
		var zero T
		return zero, tx.guard.violation(tx.tenantID, bucket, id, v.Owner())
	}
	return v, nil
}

// Marker is a bare ownership record used for uniqueness and idempotency keys.
type Marker struct {
	TenantID string `json:"tenant_id"`
	Ref      string `json:"ref"`
}

// Owner implements Owned.
func (m Marker) Owner() string { return m.TenantID }
