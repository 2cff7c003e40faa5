package shared

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	page, meta := Paginate(items, 2, 2)
	require.Equal(t, []int{3, 4}, page)
	require.Equal(t, Pagination{Page: 2, PerPage: 2, Total: 5, TotalPages: 3}, meta)

	page, _ = Paginate(items, 3, 2)
	require.Equal(t, []int{5}, page)

	page, meta = Paginate(items, 9, 2)
	require.Empty(t, page)
	require.Equal(t, 9, meta.Page)

	_, meta = Paginate(items, 0, 0)
	require.Equal(t, 1, meta.Page)
	require.Equal(t, 20, meta.PerPage)
}

func TestUserSafeMessage(t *testing.T) {
	require.Equal(t, "", UserSafeMessage(nil))
	require.Equal(t, "not found", UserSafeMessage(ErrIsolationViolation))
	require.Contains(t, UserSafeMessage(Conflictf("series busy")), "series busy")
	require.Equal(t, "internal error", UserSafeMessage(errors.New("dial tcp: refused")))
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	require.False(t, ok)
	require.Equal(t, "system", ActorFromContext(context.Background()))

	ctx := ContextWithIdentity(context.Background(), Identity{TenantID: "acme", UserID: "u1"})
	id, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "acme", id.TenantID)
	require.Equal(t, "u1", ActorFromContext(ctx))

	_, ok = IdentityFromContext(ContextWithIdentity(context.Background(), Identity{UserID: "u1"}))
	require.False(t, ok)
}
