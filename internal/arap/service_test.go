package arap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/tenant"
	"github.com/odyssey-erp/backoffice/internal/testkit"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *testkit.Env) {
	env := testkit.New(t)
	svc := NewService(env.Guard, env.Locker, env.Audit, env.Logger)
	svc.clock = func() time.Time { return now }
	return svc, env
}

func openReceivable(t *testing.T, svc *Service, ctx context.Context, source, total string, due *time.Time) Document {
	t.Helper()
	doc, err := svc.Open(ctx, OpenInput{Kind: KindReceivable, SourceDocumentID: source, CounterpartyID: "cust", Total: testkit.D(total), DueDate: due})
	require.NoError(t, err)
	return doc
}

func TestDeriveStatus(t *testing.T) {
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	cases := []struct {
		name    string
		total   string
		balance string
		due     *time.Time
		want    Status
	}{
		{"untouched", "100", "100", &future, StatusPending},
		{"partial", "100", "40", &future, StatusPartial},
		{"settled", "100", "0", &past, StatusSettled},
		{"overdue beats partial", "100", "40", &past, StatusOverdue},
		{"no due date", "100", "100", nil, StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, deriveStatus(testkit.D(tc.total), testkit.D(tc.balance), tc.due, now))
		})
	}
}

func TestApplyPaymentSettlesAndRejectsOverpayment(t *testing.T) {
	svc, env := newService(t)
	ctx := testkit.Ctx(testkit.TenantA)
	doc := openReceivable(t, svc, ctx, "INV-1", "200", nil)
	require.Equal(t, StatusPending, doc.Status)

	_, err := svc.ApplyPayment(ctx, doc.ID, "tx-big", testkit.D("250"))
	require.ErrorIs(t, err, shared.ErrInsufficientBalance)
	after, err := svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, after.Balance.Equal(testkit.D("200")))

	app, err := svc.ApplyPayment(ctx, doc.ID, "tx-1", testkit.D("50"))
	require.NoError(t, err)
	require.Equal(t, StatusPartial, app.Document.Status)

	app, err = svc.ApplyPayment(ctx, doc.ID, "tx-2", testkit.D("150"))
	require.NoError(t, err)
	require.Equal(t, StatusSettled, app.Document.Status)
	require.True(t, app.Document.Balance.IsZero())
	require.True(t, app.Document.Paid.Equal(testkit.D("200")))

	payments, err := svc.Payments(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	require.Contains(t, env.Audit.Actions(), "arap.payment")
}

func TestApplyPaymentValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := testkit.Ctx(testkit.TenantA)
	doc := openReceivable(t, svc, ctx, "INV-1", "100", nil)

	_, err := svc.ApplyPayment(ctx, doc.ID, "tx", decimal.Zero)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.ApplyPayment(ctx, doc.ID, "tx", testkit.D("-5"))
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.ApplyPayment(ctx, doc.ID, "", testkit.D("5"))
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.ApplyPayment(ctx, "missing", "tx", testkit.D("5"))
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestApplyPaymentReplay(t *testing.T) {
	svc, _ := newService(t)
	ctx := testkit.Ctx(testkit.TenantA)
	doc := openReceivable(t, svc, ctx, "INV-1", "100", nil)

	first, err := svc.ApplyPayment(ctx, doc.ID, "tx-1", testkit.D("30"))
	require.NoError(t, err)
	require.False(t, first.Replayed)

	again, err := svc.ApplyPayment(ctx, doc.ID, "tx-1", testkit.D("30"))
	require.NoError(t, err)
	require.True(t, again.Replayed)
	require.True(t, again.Document.Balance.Equal(testkit.D("70")))

	_, err = svc.ApplyPayment(ctx, doc.ID, "tx-1", testkit.D("31"))
	require.ErrorIs(t, err, shared.ErrConflict)

	rec, err := svc.Reconcile(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, rec.Consistent)
	require.True(t, rec.Payments.Equal(testkit.D("30")))
}

func TestConcurrentPaymentsNeverOverdraw(t *testing.T) {
	svc, _ := newService(t)
	ctx := testkit.Ctx(testkit.TenantA)
	doc := openReceivable(t, svc, ctx, "INV-1", "100", nil)

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	applied, rejected := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.ApplyPayment(ctx, doc.ID, "tx-"+string(rune('a'+i)), testkit.D("30"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied++
			case errors.Is(err, shared.ErrInsufficientBalance):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 3, applied)
	require.Equal(t, n-3, rejected)

	got, err := svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, got.Balance.Equal(testkit.D("10")))
	rec, err := svc.Reconcile(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, rec.Consistent)
}

func TestOpenRejectsDuplicateSource(t *testing.T) {
	svc, _ := newService(t)
	ctx := testkit.Ctx(testkit.TenantA)
	openReceivable(t, svc, ctx, "INV-1", "100", nil)

	_, err := svc.Open(ctx, OpenInput{Kind: KindReceivable, SourceDocumentID: "INV-1", CounterpartyID: "cust", Total: testkit.D("100")})
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = svc.Open(ctx, OpenInput{Kind: KindReceivable, SourceDocumentID: "INV-2", CounterpartyID: "cust", Total: decimal.Zero})
	require.ErrorIs(t, err, shared.ErrValidation)

	// The same source id is independent in another tenant.
	openReceivable(t, svc, testkit.Ctx(testkit.TenantB), "INV-1", "100", nil)
}

func TestCancelOnlyWithoutPayments(t *testing.T) {
	svc, env := newService(t)
	ctx := testkit.Ctx(testkit.TenantA)
	unpaid := openReceivable(t, svc, ctx, "INV-1", "100", nil)
	paid := openReceivable(t, svc, ctx, "INV-2", "100", nil)
	_, err := svc.ApplyPayment(ctx, paid.ID, "tx-1", testkit.D("10"))
	require.NoError(t, err)

	err = env.Guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		_, err := svc.CancelInTx(ctx, tx, paid.ID, "void")
		return err
	})
	require.ErrorIs(t, err, shared.ErrConflict)

	err = env.Guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		doc, err := svc.CancelInTx(ctx, tx, unpaid.ID, "void")
		require.Equal(t, StatusCancelled, doc.Status)
		return err
	})
	require.NoError(t, err)

	_, err = svc.ApplyPayment(ctx, unpaid.ID, "tx-2", testkit.D("10"))
	require.ErrorIs(t, err, shared.ErrConflict)

	open, err := svc.OpenBalances(ctx, KindReceivable, "cust")
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, paid.ID, open[0].ID)
}

func TestOverdueAndAging(t *testing.T) {
	svc, _ := newService(t)
	ctx := testkit.Ctx(testkit.TenantA)
	days := func(n int) *time.Time {
		d := now.AddDate(0, 0, -n)
		return &d
	}
	openReceivable(t, svc, ctx, "INV-current", "10", nil)
	openReceivable(t, svc, ctx, "INV-future", "20", func() *time.Time { d := now.AddDate(0, 0, 5); return &d }())
	openReceivable(t, svc, ctx, "INV-15", "30", days(15))
	openReceivable(t, svc, ctx, "INV-45", "40", days(45))
	openReceivable(t, svc, ctx, "INV-75", "50", days(75))
	openReceivable(t, svc, ctx, "INV-200", "60", days(200))
	settled := openReceivable(t, svc, ctx, "INV-paid", "70", days(10))
	_, err := svc.ApplyPayment(ctx, settled.ID, "tx-1", testkit.D("70"))
	require.NoError(t, err)

	got, err := svc.Get(ctx, settled.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSettled, got.Status)

	bucket, err := svc.Aging(ctx, KindReceivable, now)
	require.NoError(t, err)
	require.True(t, bucket.Current.Equal(testkit.D("30")))
	require.True(t, bucket.Bucket30.Equal(testkit.D("30")))
	require.True(t, bucket.Bucket60.Equal(testkit.D("40")))
	require.True(t, bucket.Bucket90.Equal(testkit.D("50")))
	require.True(t, bucket.Bucket120.Equal(testkit.D("60")))
	require.True(t, bucket.Total().Equal(testkit.D("210")))

	payable, err := svc.Aging(ctx, KindPayable, now)
	require.NoError(t, err)
	require.True(t, payable.Total().IsZero())

	changed, err := svc.RefreshOverdue(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 4, changed)
	changed, err = svc.RefreshOverdue(ctx, now)
	require.NoError(t, err)
	require.Zero(t, changed)

	overdue, err := svc.List(ctx, KindReceivable, StatusOverdue)
	require.NoError(t, err)
	require.Len(t, overdue, 4)
}

func TestOpenPastDueStaysPendingUntilRefresh(t *testing.T) {
	svc, _ := newService(t)
	ctx := testkit.Ctx(testkit.TenantA)
	due := now.AddDate(0, 0, -3)

	doc := openReceivable(t, svc, ctx, "INV-late", "100", &due)
	require.Equal(t, StatusPending, doc.Status)

	got, err := svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOverdue, got.Status)

	changed, err := svc.RefreshOverdue(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, changed)
}

func TestDocumentsAreTenantScoped(t *testing.T) {
	svc, _ := newService(t)
	doc := openReceivable(t, svc, testkit.Ctx(testkit.TenantA), "INV-1", "100", nil)

	_, err := svc.Get(testkit.Ctx(testkit.TenantB), doc.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.ApplyPayment(testkit.Ctx(testkit.TenantB), doc.ID, "tx-1", testkit.D("10"))
	require.ErrorIs(t, err, shared.ErrNotFound)
}
