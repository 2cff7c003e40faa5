package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// TenantLister enumerates tenants a sweep visits.
type TenantLister interface {
	ActiveIDs(ctx context.Context) ([]string, error)
}

// sweepTenants runs fn once per active tenant under a system identity. A
// failing tenant does not stop the sweep; the joined error is returned.
func sweepTenants(ctx context.Context, tenants TenantLister, logger *slog.Logger, job string, fn func(ctx context.Context, tenantID string) error) error {
	ids, err := tenants.ActiveIDs(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		tenantCtx := shared.ContextWithIdentity(ctx, shared.Identity{TenantID: id, UserID: "system"})
		if err := fn(tenantCtx, id); err != nil {
			logger.Error("tenant sweep failed", slog.String("job", job), slog.String("tenant_id", id), slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
