package documents

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/arap"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/sequence"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/testkit"
)

type fixture struct {
	env      *testkit.Env
	svc      *Service
	ledger   *inventory.Service
	seq      *sequence.Allocator
	balances *arap.Service
}

func newFixture(t *testing.T, enforceStock bool) *fixture {
	env := testkit.New(t)
	f := &fixture{
		env:      env,
		ledger:   inventory.NewService(env.Guard, env.Catalog, env.Audit, env.Logger, inventory.ServiceConfig{EnforceNonNegative: enforceStock}),
		seq:      sequence.NewAllocator(env.Guard, env.Locker, env.Logger),
		balances: arap.NewService(env.Guard, env.Locker, env.Audit, env.Logger),
	}
	f.svc = NewService(env.Guard, env.Catalog, f.seq, f.ledger, f.balances, env.Locker, env.Audit, env.Logger)
	return f
}

func widgets(qty string) LineInput {
	return LineInput{ProductID: "widget", Quantity: testkit.D(qty)}
}

func (f *fixture) draft(t *testing.T, ctx context.Context, kind Kind, terms Terms, lines ...LineInput) Document {
	t.Helper()
	cp := "cust"
	if kind == KindPurchase {
		cp = "supp"
	}
	doc, err := f.svc.CreateDraft(ctx, CreateInput{
		Kind: kind, Terms: terms, BranchID: "b1", WarehouseID: "main", CounterpartyID: cp, Lines: lines,
	})
	require.NoError(t, err)
	return doc
}

func (f *fixture) issued(t *testing.T, ctx context.Context, kind Kind, terms Terms, lines ...LineInput) Document {
	t.Helper()
	doc, err := f.svc.Issue(ctx, f.draft(t, ctx, kind, terms, lines...).ID)
	require.NoError(t, err)
	return doc
}

func (f *fixture) stock(t *testing.T, ctx context.Context) string {
	t.Helper()
	qty, err := f.ledger.StockOf(ctx, "widget", "main")
	require.NoError(t, err)
	return qty.String()
}

func TestCreditSaleIssue(t *testing.T) {
	f := newFixture(t, false)
	ctx := testkit.Ctx(testkit.TenantA)

	draft := f.draft(t, ctx, KindSales, TermsCredit, widgets("2"))
	require.Equal(t, StatusDraft, draft.Status)
	require.Zero(t, draft.Number)
	require.True(t, draft.Total.Equal(testkit.D("200")))

	doc, err := f.svc.Issue(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, StatusIssued, doc.Status)
	require.EqualValues(t, 1, doc.Number)
	require.Equal(t, "SALES-DEFAULT-000001", doc.DocNumber)
	require.Equal(t, "b1/SALES/DEFAULT", doc.SeriesID)
	require.NotNil(t, doc.IssuedAt)

	movements, err := f.ledger.Movements(ctx, inventory.MovementFilter{RefDocument: doc.ID})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, inventory.MoveSale, movements[0].Type)
	require.True(t, movements[0].Quantity.Equal(testkit.D("2")))
	require.Equal(t, "-2", f.stock(t, ctx))

	bal, err := f.balances.BySource(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, doc.BalanceID, bal.ID)
	require.Equal(t, arap.KindReceivable, bal.Kind)
	require.Equal(t, arap.StatusPending, bal.Status)
	require.True(t, bal.Balance.Equal(testkit.D("200")))
	require.Contains(t, f.env.Audit.Actions(), "documents.issue")
}

func TestLineTotals(t *testing.T) {
	f := newFixture(t, false)
	ctx := testkit.Ctx(testkit.TenantA)

	doc := f.draft(t, ctx, KindSales, TermsCash,
		LineInput{ProductID: "gadget", Quantity: testkit.D("3"), DiscountPct: testkit.D("10")},
		LineInput{ProductID: "widget", UoM: "box", Quantity: testkit.D("1")},
	)
	gadget, box := doc.Lines[0], doc.Lines[1]

	require.True(t, gadget.Discount.Equal(testkit.D("15")))
	require.True(t, gadget.Subtotal.Equal(testkit.D("135")))
	require.True(t, gadget.Tax.Equal(testkit.D("13.5")))
	require.True(t, gadget.LineTotal.Equal(testkit.D("148.5")))

	require.True(t, box.UnitPrice.Equal(testkit.D("1200")))
	require.True(t, box.BaseQuantity.Equal(testkit.D("12")))

	require.True(t, doc.Subtotal.Equal(testkit.D("1335")))
	require.True(t, doc.TaxTotal.Equal(testkit.D("13.5")))
	require.True(t, doc.Total.Equal(testkit.D("1348.5")))

	noTax := ""
	price := testkit.D("40")
	doc, err := f.svc.UpdateLine(ctx, doc.ID, gadget.ID, LineInput{ProductID: "gadget", Quantity: testkit.D("1"), UnitPrice: &price, TaxID: &noTax})
	require.NoError(t, err)
	require.Equal(t, gadget.ID, doc.Lines[0].ID)
	require.True(t, doc.Total.Equal(testkit.D("1240")))

	_, err = f.svc.AddLine(ctx, doc.ID, LineInput{ProductID: "widget", UoM: "crate", Quantity: testkit.D("1")})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.AddLine(ctx, doc.ID, LineInput{ProductID: "retired", Quantity: testkit.D("1")})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.AddLine(ctx, doc.ID, LineInput{ProductID: "widget", Quantity: testkit.D("0")})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestIssueValidation(t *testing.T) {
	f := newFixture(t, false)
	ctx := testkit.Ctx(testkit.TenantA)

	empty := f.draft(t, ctx, KindSales, TermsCash)
	_, err := f.svc.Issue(ctx, empty.ID)
	require.ErrorIs(t, err, shared.ErrValidation)

	noParty, err := f.svc.CreateDraft(ctx, CreateInput{Kind: KindSales, BranchID: "b1", WarehouseID: "main", Lines: []LineInput{widgets("1")}})
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, noParty.ID)
	require.ErrorIs(t, err, shared.ErrValidation)

	supplierOnSale, err := f.svc.CreateDraft(ctx, CreateInput{Kind: KindSales, BranchID: "b1", WarehouseID: "main", CounterpartyID: "supp", Lines: []LineInput{widgets("1")}})
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, supplierOnSale.ID)
	require.ErrorIs(t, err, shared.ErrValidation)

	closed, err := f.svc.CreateDraft(ctx, CreateInput{Kind: KindSales, BranchID: "b1", WarehouseID: "closed", CounterpartyID: "cust", Lines: []LineInput{widgets("1")}})
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, closed.ID)
	require.ErrorIs(t, err, shared.ErrValidation)

	got, err := f.svc.Get(ctx, empty.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
	next, err := f.seq.Peek(ctx, sequence.Key{BranchID: "b1", DocType: "SALES"})
	require.NoError(t, err)
	require.EqualValues(t, 1, next)
}

func TestConcurrentIssueIsGapFree(t *testing.T) {
	f := newFixture(t, false)
	ctx := testkit.Ctx(testkit.TenantA)

	const n = 12
	ids := make([]string, n)
	for i := range ids {
		ids[i] = f.draft(t, ctx, KindSales, TermsCash, widgets("1")).ID
	}
	numbers := make([]int64, n)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			doc, err := f.svc.Issue(ctx, id)
			if err != nil {
				t.Errorf("issue %s: %v", id, err)
				return
			}
			numbers[i] = doc.Number
		}(i, id)
	}
	wg.Wait()

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	for i, n := range numbers {
		require.EqualValues(t, i+1, n)
	}
	require.Equal(t, "-12", f.stock(t, ctx))
}

func TestIssueIsAllOrNothing(t *testing.T) {
	f := newFixture(t, true)
	ctx := testkit.Ctx(testkit.TenantA)

	sale := f.draft(t, ctx, KindSales, TermsCredit, widgets("2"))
	_, err := f.svc.Issue(ctx, sale.ID)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	got, err := f.svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
	require.Zero(t, got.Number)
	movements, err := f.ledger.Movements(ctx, inventory.MovementFilter{RefDocument: sale.ID})
	require.NoError(t, err)
	require.Empty(t, movements)
	_, err = f.balances.BySource(ctx, sale.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	next, err := f.seq.Peek(ctx, sequence.Key{BranchID: "b1", DocType: "SALES"})
	require.NoError(t, err)
	require.EqualValues(t, 1, next)

	f.issued(t, ctx, KindPurchase, TermsCash, widgets("5"))
	doc, err := f.svc.Issue(ctx, sale.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, doc.Number)
	require.Equal(t, "3", f.stock(t, ctx))
}

func TestVoidRestoresStock(t *testing.T) {
	f := newFixture(t, false)
	ctx := testkit.Ctx(testkit.TenantA)

	purchase := f.issued(t, ctx, KindPurchase, TermsCash, widgets("5"))
	require.Equal(t, "PURCHASE-DEFAULT-000001", purchase.DocNumber)
	sale := f.issued(t, ctx, KindSales, TermsCash, widgets("2"))
	require.Equal(t, "3", f.stock(t, ctx))
	original, err := f.ledger.Movements(ctx, inventory.MovementFilter{RefDocument: sale.ID})
	require.NoError(t, err)
	require.Len(t, original, 1)

	_, err = f.svc.Void(ctx, sale.ID, "  ")
	require.ErrorIs(t, err, shared.ErrValidation)

	voided, err := f.svc.Void(ctx, sale.ID, "customer cancelled")
	require.NoError(t, err)
	require.Equal(t, StatusVoided, voided.Status)
	require.Equal(t, "customer cancelled", voided.VoidReason)
	require.Equal(t, "user-acme", voided.VoidedBy)
	require.NotNil(t, voided.VoidedAt)
	require.EqualValues(t, 1, voided.Number)
	require.Equal(t, "5", f.stock(t, ctx))

	kept, err := f.ledger.Get(ctx, original[0].ID)
	require.NoError(t, err)
	require.Equal(t, inventory.MoveSale, kept.Type)
	require.True(t, kept.Quantity.Equal(testkit.D("2")))
	all, err := f.ledger.Movements(ctx, inventory.MovementFilter{RefDocument: sale.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = f.svc.Void(ctx, sale.ID, "again")
	require.ErrorIs(t, err, shared.ErrConflict)
	draft := f.draft(t, ctx, KindSales, TermsCash, widgets("1"))
	_, err = f.svc.Void(ctx, draft.ID, "nope")
	require.ErrorIs(t, err, shared.ErrConflict)

	// Voided numbers are never reused.
	next := f.issued(t, ctx, KindSales, TermsCash, widgets("1"))
	require.EqualValues(t, 2, next.Number)
}

func TestVoidCreditNeedsUnpaidBalance(t *testing.T) {
	f := newFixture(t, false)
	ctx := testkit.Ctx(testkit.TenantA)

	paid := f.issued(t, ctx, KindSales, TermsCredit, widgets("2"))
	_, err := f.balances.ApplyPayment(ctx, paid.BalanceID, "cash-1", testkit.D("50"))
	require.NoError(t, err)
	_, err = f.svc.Void(ctx, paid.ID, "mistake")
	require.ErrorIs(t, err, shared.ErrConflict)
	got, err := f.svc.Get(ctx, paid.ID)
	require.NoError(t, err)
	require.Equal(t, StatusIssued, got.Status)
	require.Equal(t, "-2", f.stock(t, ctx))

	unpaid := f.issued(t, ctx, KindSales, TermsCredit, widgets("1"))
	_, err = f.svc.Void(ctx, unpaid.ID, "mistake")
	require.NoError(t, err)
	bal, err := f.balances.Get(ctx, unpaid.BalanceID)
	require.NoError(t, err)
	require.Equal(t, arap.StatusCancelled, bal.Status)
	require.Equal(t, "-2", f.stock(t, ctx))
}

func TestCreditLimit(t *testing.T) {
	f := newFixture(t, false)
	ctx := testkit.Ctx(testkit.TenantA)
	capped := func(terms Terms, qty string) Document {
		doc, err := f.svc.CreateDraft(ctx, CreateInput{Kind: KindSales, Terms: terms, BranchID: "b1", WarehouseID: "main", CounterpartyID: "capped", Lines: []LineInput{widgets(qty)}})
		require.NoError(t, err)
		return doc
	}

	first, err := f.svc.Issue(ctx, capped(TermsCredit, "2").ID)
	require.NoError(t, err)

	_, err = f.svc.Issue(ctx, capped(TermsCredit, "2").ID)
	require.ErrorIs(t, err, ErrCreditLimitExceeded)
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.svc.Issue(ctx, capped(TermsCash, "2").ID)
	require.NoError(t, err)

	_, err = f.balances.ApplyPayment(ctx, first.BalanceID, "cash-1", testkit.D("100"))
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, capped(TermsCredit, "2").ID)
	require.NoError(t, err)
}

func TestCreditReturnsBecomeCreditNotes(t *testing.T) {
	f := newFixture(t, false)
	ctx := testkit.Ctx(testkit.TenantA)

	parent := f.issued(t, ctx, KindSales, TermsCredit, widgets("5"))
	require.Equal(t, "-5", f.stock(t, ctx))
	returnOf := func(qty string) Document {
		doc, err := f.svc.CreateDraft(ctx, CreateInput{Kind: KindSales, ReturnOf: parent.ID, Lines: []LineInput{widgets(qty)}})
		require.NoError(t, err)
		require.Equal(t, parent.CounterpartyID, doc.CounterpartyID)
		require.Equal(t, TermsCredit, doc.Terms)
		return doc
	}

	first, err := f.svc.Issue(ctx, returnOf("2").ID)
	require.NoError(t, err)
	require.Equal(t, "SALES_RETURN-DEFAULT-000001", first.DocNumber)
	require.True(t, first.CreditApplied.Equal(testkit.D("200")))
	require.Equal(t, "-3", f.stock(t, ctx))
	bal, err := f.balances.Get(ctx, parent.BalanceID)
	require.NoError(t, err)
	require.True(t, bal.Balance.Equal(testkit.D("300")))

	_, err = f.svc.Issue(ctx, returnOf("4").ID)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Issue(ctx, returnOf("3").ID)
	require.NoError(t, err)
	settled, err := f.svc.Get(ctx, parent.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, settled.Status)
	require.Equal(t, "0", f.stock(t, ctx))

	_, err = f.svc.Void(ctx, first.ID, "undo")
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = f.svc.Void(ctx, parent.ID, "undo")
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = f.svc.CreateDraft(ctx, CreateInput{Kind: KindSales, ReturnOf: first.ID, Lines: []LineInput{widgets("1")}})
	require.ErrorIs(t, err, shared.ErrValidation)

	returns, err := f.svc.Returns(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, returns, 3)
}

func TestCashPurchaseReturn(t *testing.T) {
	f := newFixture(t, false)
	ctx := testkit.Ctx(testkit.TenantA)

	parent := f.issued(t, ctx, KindPurchase, TermsCash, widgets("5"))
	ret, err := f.svc.CreateDraft(ctx, CreateInput{Kind: KindPurchase, ReturnOf: parent.ID, Lines: []LineInput{widgets("2")}})
	require.NoError(t, err)
	ret, err = f.svc.Issue(ctx, ret.ID)
	require.NoError(t, err)
	require.True(t, ret.CreditApplied.IsZero())
	require.Equal(t, "3", f.stock(t, ctx))

	_, err = f.svc.CreateDraft(ctx, CreateInput{Kind: KindSales, ReturnOf: parent.ID})
	require.ErrorIs(t, err, shared.ErrValidation)

	voided, err := f.svc.Void(ctx, ret.ID, "wrong items")
	require.NoError(t, err)
	require.Equal(t, StatusVoided, voided.Status)
	require.Equal(t, "5", f.stock(t, ctx))

	// Voided returns no longer count against the cap.
	again, err := f.svc.CreateDraft(ctx, CreateInput{Kind: KindPurchase, ReturnOf: parent.ID, Lines: []LineInput{widgets("5")}})
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, again.ID)
	require.NoError(t, err)
}

func TestDraftEditing(t *testing.T) {
	f := newFixture(t, false)
	ctx := testkit.Ctx(testkit.TenantA)

	doc := f.draft(t, ctx, KindSales, TermsCash)
	doc, err := f.svc.AddLine(ctx, doc.ID, widgets("1"))
	require.NoError(t, err)
	doc, err = f.svc.AddLine(ctx, doc.ID, LineInput{ProductID: "gadget", Quantity: testkit.D("2")})
	require.NoError(t, err)
	require.Len(t, doc.Lines, 2)
	require.True(t, doc.Total.Equal(testkit.D("210")))

	doc, err = f.svc.RemoveLine(ctx, doc.ID, doc.Lines[0].ID)
	require.NoError(t, err)
	require.Len(t, doc.Lines, 1)
	require.True(t, doc.Total.Equal(testkit.D("110")))
	_, err = f.svc.RemoveLine(ctx, doc.ID, "missing")
	require.ErrorIs(t, err, shared.ErrNotFound)

	series, note := "web", "rush"
	doc, err = f.svc.UpdateHeader(ctx, doc.ID, HeaderInput{Series: &series, Note: &note})
	require.NoError(t, err)
	require.Equal(t, "rush", doc.Note)

	issued, err := f.svc.Issue(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, "SALES-WEB-000001", issued.DocNumber)

	_, err = f.svc.AddLine(ctx, doc.ID, widgets("1"))
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = f.svc.Issue(ctx, doc.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.ErrorIs(t, f.svc.DeleteDraft(ctx, doc.ID), shared.ErrConflict)

	scratch := f.draft(t, ctx, KindSales, TermsCash, widgets("1"))
	require.NoError(t, f.svc.DeleteDraft(ctx, scratch.ID))
	_, err = f.svc.Get(ctx, scratch.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestMarkSettled(t *testing.T) {
	f := newFixture(t, false)
	ctx := testkit.Ctx(testkit.TenantA)

	sale := f.issued(t, ctx, KindSales, TermsCash, widgets("1"))
	settled, err := f.svc.MarkSettled(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, settled.Status)
	again, err := f.svc.MarkSettled(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, again.Status)

	purchase := f.issued(t, ctx, KindPurchase, TermsCash, widgets("1"))
	received, err := f.svc.MarkSettled(ctx, purchase.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, received.Status)

	credit := f.issued(t, ctx, KindSales, TermsCredit, widgets("1"))
	_, err = f.svc.MarkSettled(ctx, credit.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	voided, err := f.svc.Void(ctx, sale.ID, "refund")
	require.NoError(t, err)
	require.Equal(t, StatusVoided, voided.Status)
}

func TestDocumentsAreTenantScoped(t *testing.T) {
	f := newFixture(t, false)
	ctxA, ctxB := testkit.Ctx(testkit.TenantA), testkit.Ctx(testkit.TenantB)

	docA := f.issued(t, ctxA, KindSales, TermsCash, widgets("1"))
	docB := f.issued(t, ctxB, KindSales, TermsCash, widgets("1"))
	require.EqualValues(t, 1, docA.Number)
	require.EqualValues(t, 1, docB.Number)

	_, err := f.svc.Get(ctxB, docA.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.Void(ctxB, docA.ID, "steal")
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.CreateDraft(ctxB, CreateInput{Kind: KindSales, ReturnOf: docA.ID})
	require.ErrorIs(t, err, shared.ErrNotFound)

	listB, meta, err := f.svc.List(ctxB, ListFilter{Kind: KindSales})
	require.NoError(t, err)
	require.Len(t, listB, 1)
	require.Equal(t, docB.ID, listB[0].ID)
	require.Equal(t, 1, meta.Total)
	require.Empty(t, f.env.Violations())
}

func TestListPaginates(t *testing.T) {
	f := newFixture(t, false)
	ctx := testkit.Ctx(testkit.TenantA)
	for i := 0; i < 5; i++ {
		f.draft(t, ctx, KindSales, TermsCash, widgets("1"))
	}
	f.issued(t, ctx, KindPurchase, TermsCash, widgets("1"))

	page, meta, err := f.svc.List(ctx, ListFilter{Kind: KindSales, Status: StatusDraft, Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, 5, meta.Total)
	require.Equal(t, 3, meta.TotalPages)

	purchases, _, err := f.svc.List(ctx, ListFilter{Kind: KindPurchase})
	require.NoError(t, err)
	require.Len(t, purchases, 1)
}

func TestVoidReversesOnlyIssuedMovements(t *testing.T) {
	f := newFixture(t, false)
	ctx := testkit.Ctx(testkit.TenantA)

	sale := f.issued(t, ctx, KindSales, TermsCash, widgets("2"))
	require.Len(t, sale.MovementIDs, 1)
	_, err := f.ledger.Record(ctx, inventory.MovementInput{
		ProductID: "widget", Type: inventory.MoveAdjust, Quantity: testkit.D("5"),
		SourceWarehouse: "main", RefDocument: sale.ID, Note: "write-off",
	})
	require.NoError(t, err)
	require.Equal(t, "-7", f.stock(t, ctx))

	_, err = f.svc.Void(ctx, sale.ID, "customer cancelled")
	require.NoError(t, err)
	require.Equal(t, "-5", f.stock(t, ctx))
}

func TestVoidAfterManualReversal(t *testing.T) {
	f := newFixture(t, false)
	ctx := testkit.Ctx(testkit.TenantA)

	sale := f.issued(t, ctx, KindSales, TermsCash, widgets("2"))
	_, err := f.ledger.Reverse(ctx, sale.MovementIDs[0], "counted back")
	require.NoError(t, err)
	require.Equal(t, "0", f.stock(t, ctx))

	voided, err := f.svc.Void(ctx, sale.ID, "customer cancelled")
	require.NoError(t, err)
	require.Equal(t, StatusVoided, voided.Status)
	require.Equal(t, "0", f.stock(t, ctx))
}

func TestConcurrentCreditSalesRespectLimit(t *testing.T) {
	f := newFixture(t, false)
	ctx := testkit.Ctx(testkit.TenantA)

	var drafts []Document
	for _, series := range []string{"POS1", "POS2", "POS3"} {
		doc, err := f.svc.CreateDraft(ctx, CreateInput{
			Kind: KindSales, Terms: TermsCredit, BranchID: "b1", WarehouseID: "main",
			CounterpartyID: "capped", Series: series, Lines: []LineInput{widgets("2")},
		})
		require.NoError(t, err)
		drafts = append(drafts, doc)
	}

	keys, err := f.svc.issueLockKeys(ctx, testkit.TenantA, drafts[0].ID)
	require.NoError(t, err)
	require.Contains(t, keys, shared.CreditLockKey(testkit.TenantA, "capped"))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		issued  int
		refused int
	)
	for _, d := range drafts {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.Issue(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				issued++
			case errors.Is(err, ErrCreditLimitExceeded):
				refused++
			default:
				t.Errorf("issue %s: %v", id, err)
			}
		}(d.ID)
	}
	wg.Wait()
	require.Equal(t, 1, issued)
	require.Equal(t, 2, refused)

	open, err := f.balances.OpenBalances(ctx, arap.KindReceivable, "capped")
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.True(t, open[0].Balance.Equal(testkit.D("200")))
}

func TestCashSaleSkipsCreditLock(t *testing.T) {
	f := newFixture(t, false)
	ctx := testkit.Ctx(testkit.TenantA)
	doc := f.draft(t, ctx, KindSales, TermsCash, widgets("1"))

	keys, err := f.svc.issueLockKeys(ctx, testkit.TenantA, doc.ID)
	require.NoError(t, err)
	require.NotContains(t, keys, shared.CreditLockKey(testkit.TenantA, "cust"))
}
