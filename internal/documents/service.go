// Package documents implements the sales and purchase document engines:
// draft editing, issue with numbering, stock movements and balances in one
// transaction, settlement and void with compensating movements.
package documents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/arap"
	"github.com/odyssey-erp/backoffice/internal/catalog"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/platform/lock"
	"github.com/odyssey-erp/backoffice/internal/sequence"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/tenant"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog)
}

// LedgerPort is the slice of the inventory ledger documents write through.
type LedgerPort interface {
	RecordInTx(ctx context.Context, tx *tenant.Tx, in inventory.MovementInput) (inventory.Movement, error)
	ReverseInTx(ctx context.Context, tx *tenant.Tx, movementID, refDocument, note string) (inventory.Movement, error)
	ReversalInTx(ctx context.Context, tx *tenant.Tx, movementID string) (string, bool, error)
}

// SequencePort allocates document numbers.
type SequencePort interface {
	NextInTx(ctx context.Context, tx *tenant.Tx, key sequence.Key) (sequence.Allocation, error)
}

// BalancePort opens and adjusts receivables and payables.
type BalancePort interface {
	OpenInTx(ctx context.Context, tx *tenant.Tx, in arap.OpenInput) (arap.Document, error)
	ApplyPaymentInTx(ctx context.Context, tx *tenant.Tx, docID, cashTxID string, amount decimal.Decimal) (arap.Application, error)
	CancelInTx(ctx context.Context, tx *tenant.Tx, docID, reason string) (arap.Document, error)
	BySourceInTx(ctx context.Context, tx *tenant.Tx, sourceDocumentID string) (arap.Document, bool, error)
	OutstandingInTx(ctx context.Context, tx *tenant.Tx, kind arap.Kind, counterpartyID string) (decimal.Decimal, error)
}

// Service runs both document engines; Kind selects the behaviour.
type Service struct {
	guard     *tenant.Guard
	catalog   catalog.Provider
	sequences SequencePort
	ledger    LedgerPort
	balances  BalancePort
	locker    lock.Locker
	audit     AuditPort
	logger    *slog.Logger
	clock     func() time.Time
}

// NewService builds Service.
func NewService(guard *tenant.Guard, provider catalog.Provider, sequences SequencePort, ledger LedgerPort, balances BalancePort, locker lock.Locker, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		guard:     guard,
		catalog:   provider,
		sequences: sequences,
		ledger:    ledger,
		balances:  balances,
		locker:    locker,
		audit:     audit,
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateDraft stores a new DRAFT document. A return copies the parent's kind,
// counterparty and terms.
func (s *Service) CreateDraft(ctx context.Context, in CreateInput) (Document, error) {
	if !in.Kind.Valid() {
		return Document{}, shared.Validationf("documents: unknown kind %q", in.Kind)
	}
	if in.Terms == "" {
		in.Terms = TermsCash
	}
	if in.Terms != TermsCash && in.Terms != TermsCredit {
		return Document{}, shared.Validationf("documents: unknown terms %q", in.Terms)
	}
	var doc Document
	err := s.guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		now := s.clock()
		doc = Document{
			TenantID:       tx.TenantID(),
			ID:             uuid.Must(uuid.NewV7()).String(),
			Kind:           in.Kind,
			Status:         StatusDraft,
			Terms:          in.Terms,
			BranchID:       strings.TrimSpace(in.BranchID),
			WarehouseID:    strings.TrimSpace(in.WarehouseID),
			CounterpartyID: strings.TrimSpace(in.CounterpartyID),
			Series:         strings.TrimSpace(in.Series),
			DueDate:        in.DueDate,
			Note:           in.Note,
			Lines:          []Line{},
			CreatedBy:      shared.ActorFromContext(ctx),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if in.ReturnOf != "" {
			parent, err := tenant.Get[Document](ctx, tx, documentBucket, in.ReturnOf)
			if err != nil {
				return err
			}
			if err := checkReturnParent(parent, in.Kind); err != nil {
				return err
			}
			doc.ReturnOf = parent.ID
			doc.CounterpartyID = parent.CounterpartyID
			doc.Terms = parent.Terms
			doc.DueDate = nil
			if doc.BranchID == "" {
				doc.BranchID = parent.BranchID
			}
			if doc.WarehouseID == "" {
				doc.WarehouseID = parent.WarehouseID
			}
			if err := tx.Put(ctx, returnsBucket, parent.ID+"/"+doc.ID, tenant.Marker{TenantID: doc.TenantID, Ref: doc.ID}); err != nil {
				return err
			}
		}
		for _, li := range in.Lines {
			line, err := s.buildLine(ctx, tx, li)
			if err != nil {
				return err
			}
			doc.Lines = append(doc.Lines, line)
		}
		doc.recalculate()
		return tx.Insert(ctx, documentBucket, doc.ID, doc)
	})
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, "documents.create", doc, map[string]any{"kind": string(doc.Kind), "return_of": doc.ReturnOf})
	return doc, nil
}

func checkReturnParent(parent Document, kind Kind) error {
	if parent.Kind != kind {
		return shared.Validationf("documents: a %s return cannot reference a %s document", kind, parent.Kind)
	}
	if parent.IsReturn() {
		return shared.Validationf("documents: cannot return a return document")
	}
	switch parent.Status {
	case StatusIssued, StatusPaid, StatusReceived:
		return nil
	case StatusDraft, StatusVoided:
		return shared.Conflictf("documents: cannot return %s document %s", strings.ToLower(string(parent.Status)), parent.ID)
	default:
		return shared.Conflictf("documents: unknown status %q", parent.Status)
	}
}

// UpdateHeader edits a draft's header.
func (s *Service) UpdateHeader(ctx context.Context, id string, in HeaderInput) (Document, error) {
	return s.mutateDraft(ctx, id, "documents.update_header", func(ctx context.Context, tx *tenant.Tx, doc *Document) error {
		if doc.IsReturn() && (in.CounterpartyID != nil || in.Terms != nil) {
			return shared.Validationf("documents: a return keeps the counterparty and terms of its parent")
		}
		if in.Terms != nil {
			if *in.Terms != TermsCash && *in.Terms != TermsCredit {
				return shared.Validationf("documents: unknown terms %q", *in.Terms)
			}
			doc.Terms = *in.Terms
		}
		setString(&doc.BranchID, in.BranchID)
		setString(&doc.WarehouseID, in.WarehouseID)
		setString(&doc.CounterpartyID, in.CounterpartyID)
		setString(&doc.Series, in.Series)
		if in.Note != nil {
			doc.Note = *in.Note
		}
		if in.DueDate != nil {
			due := *in.DueDate
			doc.DueDate = &due
		}
		return nil
	})
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

// AddLine appends a line to a draft.
func (s *Service) AddLine(ctx context.Context, id string, in LineInput) (Document, error) {
	return s.mutateDraft(ctx, id, "documents.add_line", func(ctx context.Context, tx *tenant.Tx, doc *Document) error {
		line, err := s.buildLine(ctx, tx, in)
		if err != nil {
			return err
		}
		doc.Lines = append(doc.Lines, line)
		return nil
	})
}

// UpdateLine replaces a draft line, keeping its id.
func (s *Service) UpdateLine(ctx context.Context, id, lineID string, in LineInput) (Document, error) {
	return s.mutateDraft(ctx, id, "documents.update_line", func(ctx context.Context, tx *tenant.Tx, doc *Document) error {
		idx := lineIndex(doc.Lines, lineID)
		if idx < 0 {
			return shared.NotFoundf("documents: line %s", lineID)
		}
		line, err := s.buildLine(ctx, tx, in)
		if err != nil {
			return err
		}
		line.ID = lineID
		doc.Lines[idx] = line
		return nil
	})
}

// RemoveLine drops a draft line.
func (s *Service) RemoveLine(ctx context.Context, id, lineID string) (Document, error) {
	return s.mutateDraft(ctx, id, "documents.remove_line", func(_ context.Context, _ *tenant.Tx, doc *Document) error {
		idx := lineIndex(doc.Lines, lineID)
		if idx < 0 {
			return shared.NotFoundf("documents: line %s", lineID)
		}
		doc.Lines = append(doc.Lines[:idx], doc.Lines[idx+1:]...)
		return nil
	})
}

func lineIndex(lines []Line, id string) int {
	for i, l := range lines {
		if l.ID == id {
			return i
		}
	}
	return -1
}

// DeleteDraft removes a draft. Issued documents are never deleted.
func (s *Service) DeleteDraft(ctx context.Context, id string) error {
	tenantID, err := s.guard.Resolve(ctx)
	if err != nil {
		return err
	}
	release, err := s.locker.Acquire(ctx, shared.DocumentLockKey(tenantID, id))
	if err != nil {
		return err
	}
	defer release()

	var doc Document
	err = s.guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		doc, err = tenant.Get[Document](ctx, tx, documentBucket, id)
		if err != nil {
			return err
		}
		if doc.Status != StatusDraft {
			return transitionError(doc, "delete")
		}
		if doc.IsReturn() {
			if err := tx.Delete(ctx, returnsBucket, doc.ReturnOf+"/"+doc.ID); err != nil {
				return err
			}
		}
		return tx.Delete(ctx, documentBucket, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, "documents.delete", doc, nil)
	return nil
}

func (s *Service) mutateDraft(ctx context.Context, id, action string, fn func(context.Context, *tenant.Tx, *Document) error) (Document, error) {
	tenantID, err := s.guard.Resolve(ctx)
	if err != nil {
		return Document{}, err
	}
	release, err := s.locker.Acquire(ctx, shared.DocumentLockKey(tenantID, id))
	if err != nil {
		return Document{}, err
	}
	defer release()

	var doc Document
	err = s.guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		doc, err = tenant.Get[Document](ctx, tx, documentBucket, id)
		if err != nil {
			return err
		}
		if doc.Status != StatusDraft {
			return transitionError(doc, "edit")
		}
		if err := fn(ctx, tx, &doc); err != nil {
			return err
		}
		doc.recalculate()
		doc.UpdatedAt = s.clock()
		return tx.Put(ctx, documentBucket, doc.ID, doc)
	})
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, action, doc, nil)
	return doc, nil
}

// buildLine resolves catalog defaults and UoM conversion for a line.
func (s *Service) buildLine(ctx context.Context, tx *tenant.Tx, in LineInput) (Line, error) {
	if err := in.Validate(); err != nil {
		return Line{}, err
	}
	product, err := s.catalog.Product(ctx, tx.TenantID(), in.ProductID)
	if err != nil {
		return Line{}, err
	}
	if err := tx.Verify(productsEntity, in.ProductID, product); err != nil {
		return Line{}, err
	}
	if !product.Active {
		return Line{}, shared.Validationf("documents: product %s is inactive", product.ID)
	}
	uom := strings.TrimSpace(in.UoM)
	if uom == "" {
		uom = product.UoM
	}
	factor, ok := product.Factor(uom)
	if !ok || !factor.IsPositive() {
		return Line{}, shared.Validationf("documents: product %s has no unit %q", product.ID, uom)
	}
	line := Line{
		ID:          uuid.Must(uuid.NewV7()).String(),
		ProductID:   product.ID,
		UoM:         uom,
		Quantity:    in.Quantity,
		Factor:      factor,
		UnitPrice:   product.Price.Mul(factor),
		DiscountPct: in.DiscountPct,
		TaxID:       product.TaxID,
		TaxRate:     decimal.Zero,
	}
	if in.UnitPrice != nil {
		line.UnitPrice = *in.UnitPrice
	}
	if in.TaxID != nil {
		line.TaxID = strings.TrimSpace(*in.TaxID)
	}
	if line.TaxID != "" {
		tax, err := s.catalog.Tax(ctx, tx.TenantID(), line.TaxID)
		if err != nil {
			return Line{}, err
		}
		if err := tx.Verify(taxesEntity, line.TaxID, tax); err != nil {
			return Line{}, err
		}
		line.TaxRate = tax.Rate
	}
	return line, nil
}

// Issue assigns the number and writes movements and, on credit, the balance.
// Everything commits together or not at all.
func (s *Service) Issue(ctx context.Context, id string) (Document, error) {
	tenantID, err := s.guard.Resolve(ctx)
	if err != nil {
		return Document{}, err
	}
	keys, err := s.issueLockKeys(ctx, tenantID, id)
	if err != nil {
		return Document{}, err
	}
	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return Document{}, err
	}
	defer release()

	var doc Document
	err = s.guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		doc, err = s.issueInTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return Document{}, err
	}
	s.logger.Info("document issued",
		slog.String("tenant_id", doc.TenantID),
		slog.String("document_id", doc.ID),
		slog.String("doc_number", doc.DocNumber))
	s.record(ctx, "documents.issue", doc, map[string]any{
		"doc_number": doc.DocNumber,
		"total":      doc.Total.String(),
		"terms":      string(doc.Terms),
		"balance_id": doc.BalanceID,
	})
	return doc, nil
}

// issueLockKeys reads the draft to learn which series, counterparty credit
// and, for returns, which parent it touches.
func (s *Service) issueLockKeys(ctx context.Context, tenantID, id string) ([]string, error) {
	keys := []string{shared.DocumentLockKey(tenantID, id)}
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		doc, err := tenant.Get[Document](ctx, tx, documentBucket, id)
		if err != nil {
			return err
		}
		if doc.BranchID != "" {
			keys = append(keys, sequence.LockKey(tenantID, doc.seriesKey()))
		}
		if doc.Kind == KindSales && doc.Terms == TermsCredit && !doc.IsReturn() && doc.CounterpartyID != "" {
			keys = append(keys, shared.CreditLockKey(tenantID, doc.CounterpartyID))
		}
		if doc.IsReturn() {
			keys = append(keys, shared.DocumentLockKey(tenantID, doc.ReturnOf))
			parent, err := tenant.Get[Document](ctx, tx, documentBucket, doc.ReturnOf)
			if err != nil {
				return err
			}
			if parent.BalanceID != "" {
				keys = append(keys, arap.LockKey(tenantID, parent.BalanceID))
			}
		}
		return nil
	})
	return keys, err
}

func (d Document) seriesKey() sequence.Key {
	return sequence.Key{BranchID: d.BranchID, DocType: d.DocType(), Series: d.Series}.Normalize()
}

func (s *Service) issueInTx(ctx context.Context, tx *tenant.Tx, id string) (Document, error) {
	doc, err := tenant.Get[Document](ctx, tx, documentBucket, id)
	if err != nil {
		return Document{}, err
	}
	if doc.Status != StatusDraft {
		return Document{}, transitionError(doc, "issue")
	}
	if err := s.checkIssuable(ctx, tx, doc); err != nil {
		return Document{}, err
	}
	var parent Document
	if doc.IsReturn() {
		parent, err = tenant.Get[Document](ctx, tx, documentBucket, doc.ReturnOf)
		if err != nil {
			return Document{}, err
		}
		if err := checkReturnParent(parent, doc.Kind); err != nil {
			return Document{}, err
		}
		if err := s.checkReturnQuantities(ctx, tx, parent, doc); err != nil {
			return Document{}, err
		}
	} else if doc.Terms == TermsCredit {
		if err := s.checkCreditLimit(ctx, tx, doc); err != nil {
			return Document{}, err
		}
	}

	key := doc.seriesKey()
	alloc, err := s.sequences.NextInTx(ctx, tx, key)
	if err != nil {
		return Document{}, err
	}
	doc.MovementIDs = make([]string, 0, len(doc.Lines))
	for _, l := range doc.Lines {
		mv, err := s.ledger.RecordInTx(ctx, tx, doc.movementFor(l))
		if err != nil {
			return Document{}, fmt.Errorf("documents: line %s: %w", l.ID, err)
		}
		doc.MovementIDs = append(doc.MovementIDs, mv.ID)
	}

	now := s.clock()
	switch {
	case doc.IsReturn() && doc.Terms == TermsCredit:
		if err := s.applyCreditNote(ctx, tx, &doc, parent, now); err != nil {
			return Document{}, err
		}
	case doc.Terms == TermsCredit:
		bal, err := s.balances.OpenInTx(ctx, tx, arap.OpenInput{
			Kind:             doc.BalanceKind(),
			SourceDocumentID: doc.ID,
			CounterpartyID:   doc.CounterpartyID,
			Total:            doc.Total,
			DueDate:          doc.DueDate,
		})
		if err != nil {
			return Document{}, err
		}
		doc.BalanceID = bal.ID
	}

	actor := shared.ActorFromContext(ctx)
	doc.Status = StatusIssued
	doc.SeriesID = alloc.SeriesID
	doc.Number = alloc.Number
	doc.DocNumber = fmt.Sprintf("%s-%s-%06d", key.DocType, key.Series, alloc.Number)
	doc.IssuedAt = &now
	doc.IssuedBy = actor
	doc.UpdatedAt = now
	if err := tx.Put(ctx, documentBucket, doc.ID, doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *Service) checkIssuable(ctx context.Context, tx *tenant.Tx, doc Document) error {
	if len(doc.Lines) == 0 {
		return shared.Validationf("%v", errNoLines)
	}
	if doc.BranchID == "" || doc.CounterpartyID == "" || doc.WarehouseID == "" {
		return shared.Validationf("documents: branch, warehouse and counterparty required to issue")
	}
	if doc.Terms == TermsCredit && !doc.IsReturn() && !doc.Total.IsPositive() {
		return shared.Validationf("documents: credit documents need a positive total")
	}
	cp, err := s.catalog.Counterparty(ctx, tx.TenantID(), doc.CounterpartyID)
	if err != nil {
		return err
	}
	if err := tx.Verify(partiesEntity, cp.ID, cp); err != nil {
		return err
	}
	if !cp.Active {
		return shared.Validationf("documents: counterparty %s is inactive", cp.ID)
	}
	want := catalog.CounterpartyCustomer
	if doc.Kind == KindPurchase {
		want = catalog.CounterpartySupplier
	}
	if cp.Kind != want {
		return shared.Validationf("documents: counterparty %s is not a %s", cp.ID, strings.ToLower(string(want)))
	}
	wh, err := s.catalog.Warehouse(ctx, tx.TenantID(), doc.WarehouseID)
	if err != nil {
		return err
	}
	if err := tx.Verify(warehouseEnt, wh.ID, wh); err != nil {
		return err
	}
	if !wh.Active {
		return shared.Validationf("documents: warehouse %s is inactive", wh.ID)
	}
	if wh.BranchID != "" && wh.BranchID != doc.BranchID {
		return shared.Validationf("documents: warehouse %s belongs to branch %s", wh.ID, wh.BranchID)
	}
	return nil
}

// checkCreditLimit rejects a credit sale that would lift the customer's open
// receivables above a non-zero limit.
func (s *Service) checkCreditLimit(ctx context.Context, tx *tenant.Tx, doc Document) error {
	if doc.Kind != KindSales {
		return nil
	}
	cp, err := s.catalog.Counterparty(ctx, tx.TenantID(), doc.CounterpartyID)
	if err != nil {
		return err
	}
	if !cp.CreditLimit.IsPositive() {
		return nil
	}
	outstanding, err := s.balances.OutstandingInTx(ctx, tx, arap.KindReceivable, cp.ID)
	if err != nil {
		return err
	}
	if outstanding.Add(doc.Total).GreaterThan(cp.CreditLimit) {
		return fmt.Errorf("%w: %s outstanding %s plus %s over limit %s", ErrCreditLimitExceeded, cp.ID, outstanding, doc.Total, cp.CreditLimit)
	}
	return nil
}

// checkReturnQuantities caps returned base quantities per product at what
// the parent delivered minus earlier issued returns.
func (s *Service) checkReturnQuantities(ctx context.Context, tx *tenant.Tx, parent, doc Document) error {
	remaining := make(map[string]decimal.Decimal)
	for _, l := range parent.Lines {
		remaining[l.ProductID] = remaining[l.ProductID].Add(l.BaseQuantity)
	}
	siblings, err := s.returnsInTx(ctx, tx, parent.ID)
	if err != nil {
		return err
	}
	for _, r := range siblings {
		if r.ID == doc.ID || (r.Status != StatusIssued && r.Status != StatusPaid && r.Status != StatusReceived) {
			continue
		}
		for _, l := range r.Lines {
			remaining[l.ProductID] = remaining[l.ProductID].Sub(l.BaseQuantity)
		}
	}
	requested := make(map[string]decimal.Decimal)
	for _, l := range doc.Lines {
		requested[l.ProductID] = requested[l.ProductID].Add(l.BaseQuantity)
	}
	for productID, qty := range requested {
		left, ok := remaining[productID]
		if !ok {
			return shared.Validationf("documents: product %s is not on document %s", productID, parent.ID)
		}
		if qty.GreaterThan(left) {
			return shared.Validationf("documents: return of %s %s exceeds remaining %s", qty, productID, left)
		}
	}
	return nil
}

// applyCreditNote reduces the parent's open balance by the return total, up
// to what is still owed, and settles the parent when nothing is left.
func (s *Service) applyCreditNote(ctx context.Context, tx *tenant.Tx, doc *Document, parent Document, now time.Time) error {
	doc.CreditApplied = decimal.Zero
	bal, ok, err := s.balances.BySourceInTx(ctx, tx, parent.ID)
	if err != nil || !ok || !bal.Open() || !bal.Balance.IsPositive() || !doc.Total.IsPositive() {
		return err
	}
	amount := decimal.Min(doc.Total, bal.Balance)
	app, err := s.balances.ApplyPaymentInTx(ctx, tx, bal.ID, "return:"+doc.ID, amount)
	if err != nil {
		return err
	}
	doc.CreditApplied = amount
	if app.Document.Status == arap.StatusSettled && parent.Status == StatusIssued {
		parent.Status = parent.SettledStatus()
		parent.SettledAt = &now
		parent.UpdatedAt = now
		return tx.Put(ctx, documentBucket, parent.ID, parent)
	}
	return nil
}

// Void cancels an issued or settled document. Movements stay; compensating
// movements restore stock. Credit documents must be unpaid.
func (s *Service) Void(ctx context.Context, id, reason string) (Document, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Document{}, shared.Validationf("documents: void reason required")
	}
	tenantID, err := s.guard.Resolve(ctx)
	if err != nil {
		return Document{}, err
	}
	keys := []string{shared.DocumentLockKey(tenantID, id)}
	current, err := s.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if current.BalanceID != "" {
		keys = append(keys, arap.LockKey(tenantID, current.BalanceID))
	}
	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return Document{}, err
	}
	defer release()

	var doc Document
	err = s.guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		doc, err = s.voidInTx(ctx, tx, id, reason)
		return err
	})
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, "documents.void", doc, map[string]any{"reason": reason, "doc_number": doc.DocNumber})
	return doc, nil
}

func (s *Service) voidInTx(ctx context.Context, tx *tenant.Tx, id, reason string) (Document, error) {
	doc, err := tenant.Get[Document](ctx, tx, documentBucket, id)
	if err != nil {
		return Document{}, err
	}
	switch doc.Status {
	case StatusIssued, StatusPaid, StatusReceived:
	case StatusDraft, StatusVoided:
		return Document{}, transitionError(doc, "void")
	default:
		return Document{}, shared.Conflictf("documents: unknown status %q", doc.Status)
	}
	if doc.IsReturn() && doc.CreditApplied.IsPositive() {
		return Document{}, shared.Conflictf("documents: return %s already credited %s to its parent", doc.ID, doc.CreditApplied)
	}
	if !doc.IsReturn() {
		returns, err := s.returnsInTx(ctx, tx, doc.ID)
		if err != nil {
			return Document{}, err
		}
		for _, r := range returns {
			if r.Status != StatusDraft && r.Status != StatusVoided {
				return Document{}, shared.Conflictf("documents: void return %s first", r.ID)
			}
		}
	}
	if doc.BalanceID != "" {
		if _, err := s.balances.CancelInTx(ctx, tx, doc.BalanceID, reason); err != nil {
			return Document{}, err
		}
	}
	// Only the movements written at issue are compensated; one already
	// reversed by hand counts as compensated.
	for _, mvID := range doc.MovementIDs {
		_, reversed, err := s.ledger.ReversalInTx(ctx, tx, mvID)
		if err != nil {
			return Document{}, err
		}
		if reversed {
			continue
		}
		if _, err := s.ledger.ReverseInTx(ctx, tx, mvID, doc.ID, "void "+doc.DocNumber); err != nil {
			return Document{}, err
		}
	}
	now := s.clock()
	doc.Status = StatusVoided
	doc.VoidedAt = &now
	doc.VoidedBy = shared.ActorFromContext(ctx)
	doc.VoidReason = reason
	doc.UpdatedAt = now
	if err := tx.Put(ctx, documentBucket, doc.ID, doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// MarkSettled moves an ISSUED document to PAID or RECEIVED.
func (s *Service) MarkSettled(ctx context.Context, id string) (Document, error) {
	tenantID, err := s.guard.Resolve(ctx)
	if err != nil {
		return Document{}, err
	}
	release, err := s.locker.Acquire(ctx, shared.DocumentLockKey(tenantID, id))
	if err != nil {
		return Document{}, err
	}
	defer release()

	var doc Document
	err = s.guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		doc, err = s.MarkSettledInTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, "documents.settle", doc, map[string]any{"status": string(doc.Status)})
	return doc, nil
}

// MarkSettledInTx settles inside the caller's transaction. Credit documents
// settle only once their balance is SETTLED. Already settled documents are
// returned unchanged.
func (s *Service) MarkSettledInTx(ctx context.Context, tx *tenant.Tx, id string) (Document, error) {
	doc, err := tenant.Get[Document](ctx, tx, documentBucket, id)
	if err != nil {
		return Document{}, err
	}
	switch doc.Status {
	case StatusIssued:
	case StatusPaid, StatusReceived:
		return doc, nil
	case StatusDraft, StatusVoided:
		return Document{}, transitionError(doc, "settle")
	default:
		return Document{}, shared.Conflictf("documents: unknown status %q", doc.Status)
	}
	if doc.BalanceID != "" {
		bal, ok, err := s.balances.BySourceInTx(ctx, tx, doc.ID)
		if err != nil {
			return Document{}, err
		}
		if ok && bal.Status != arap.StatusSettled {
			return Document{}, shared.Conflictf("documents: balance of %s is %s", doc.ID, bal.Status)
		}
	}
	now := s.clock()
	doc.Status = doc.SettledStatus()
	doc.SettledAt = &now
	doc.UpdatedAt = now
	if err := tx.Put(ctx, documentBucket, doc.ID, doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Get returns one document.
func (s *Service) Get(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		doc, err = s.GetInTx(ctx, tx, id)
		return err
	})
	return doc, err
}

// GetInTx returns one document inside the caller's transaction.
func (s *Service) GetInTx(ctx context.Context, tx *tenant.Tx, id string) (Document, error) {
	return tenant.Get[Document](ctx, tx, documentBucket, id)
}

// Returns lists the return documents of a parent.
func (s *Service) Returns(ctx context.Context, parentID string) ([]Document, error) {
	var out []Document
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		if _, err := tenant.Get[Document](ctx, tx, documentBucket, parentID); err != nil {
			return err
		}
		var err error
		out, err = s.returnsInTx(ctx, tx, parentID)
		return err
	})
	return out, err
}

func (s *Service) returnsInTx(ctx context.Context, tx *tenant.Tx, parentID string) ([]Document, error) {
	var ids []string
	err := tenant.Scan(ctx, tx, returnsBucket, parentID+"/", func(_ string, m tenant.Marker) error {
		ids = append(ids, m.Ref)
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc, err := tenant.Get[Document](ctx, tx, documentBucket, id)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// List returns documents matching filter, newest first, one page at a time.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Document, shared.Pagination, error) {
	var all []Document
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		return tenant.Scan(ctx, tx, documentBucket, "", func(_ string, d Document) error {
			if filter.Kind != "" && d.Kind != filter.Kind {
				return nil
			}
			if filter.Status != "" && d.Status != filter.Status {
				return nil
			}
			if filter.CounterpartyID != "" && d.CounterpartyID != filter.CounterpartyID {
				return nil
			}
			all = append(all, d)
			return nil
		})
	})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	page, meta := shared.Paginate(all, filter.Page, filter.PerPage)
	return page, meta, nil
}

func (s *Service) record(ctx context.Context, action string, doc Document, meta map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, shared.AuditLog{
		TenantID: doc.TenantID,
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   strings.ToLower(string(doc.Kind)) + "_document",
		EntityID: doc.ID,
		Meta:     meta,
	})
}
