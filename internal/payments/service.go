// Package payments moves cash through an open register session into
// receivable and payable balances and settles the documents behind them.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/arap"
	"github.com/odyssey-erp/backoffice/internal/cash"
	"github.com/odyssey-erp/backoffice/internal/documents"
	"github.com/odyssey-erp/backoffice/internal/platform/lock"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/tenant"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog)
}

// CashPort appends register transactions.
type CashPort interface {
	RecordInTx(ctx context.Context, tx *tenant.Tx, in cash.TxInput) (cash.Transaction, error)
}

// BalancePort reads and reduces balances.
type BalancePort interface {
	GetInTx(ctx context.Context, tx *tenant.Tx, docID string) (arap.Document, error)
	OpenBalancesInTx(ctx context.Context, tx *tenant.Tx, kind arap.Kind, counterpartyID string) ([]arap.Document, error)
	ApplyPaymentInTx(ctx context.Context, tx *tenant.Tx, docID, cashTxID string, amount decimal.Decimal) (arap.Application, error)
}

// DocumentPort settles source documents.
type DocumentPort interface {
	GetInTx(ctx context.Context, tx *tenant.Tx, id string) (documents.Document, error)
	MarkSettledInTx(ctx context.Context, tx *tenant.Tx, id string) (documents.Document, error)
}

// Service orchestrates payments.
type Service struct {
	guard     *tenant.Guard
	cash      CashPort
	balances  BalancePort
	documents DocumentPort
	locker    lock.Locker
	audit     AuditPort
	logger    *slog.Logger
	policy    Policy
	clock     func() time.Time
}

// NewService builds Service.
func NewService(guard *tenant.Guard, cashPort CashPort, balances BalancePort, docs DocumentPort, locker lock.Locker, audit AuditPort, logger *slog.Logger, policy Policy) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = PolicyOldestFirst
	}
	return &Service{
		guard:     guard,
		cash:      cashPort,
		balances:  balances,
		documents: docs,
		locker:    locker,
		audit:     audit,
		logger:    logger,
		policy:    policy,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// Collect records the cash transaction and applies it to balances in one
// transaction. Replaying a reference returns the original receipt.
func (s *Service) Collect(ctx context.Context, in CollectInput) (Receipt, error) {
	if err := in.Validate(); err != nil {
		return Receipt{}, err
	}
	tenantID, err := s.guard.Resolve(ctx)
	if err != nil {
		return Receipt{}, err
	}
	keys, err := s.balanceLockKeys(ctx, tenantID, in)
	if err != nil {
		return Receipt{}, err
	}
	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	var rcpt Receipt
	err = s.guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		rcpt, err = s.collectInTx(ctx, tx, in, "")
		return err
	})
	if err != nil {
		return Receipt{}, err
	}
	s.record(ctx, "payments.collect", rcpt)
	return rcpt, nil
}

// balanceLockKeys lists the balances a collection may touch.
func (s *Service) balanceLockKeys(ctx context.Context, tenantID string, in CollectInput) ([]string, error) {
	if in.BalanceID != "" {
		return []string{arap.LockKey(tenantID, in.BalanceID)}, nil
	}
	var keys []string
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		open, err := s.balances.OpenBalancesInTx(ctx, tx, in.Kind, in.CounterpartyID)
		if err != nil {
			return err
		}
		for _, d := range open {
			keys = append(keys, arap.LockKey(tenantID, d.ID))
		}
		return nil
	})
	return keys, err
}

func cashKindFor(kind arap.Kind) cash.TxKind {
	if kind == arap.KindPayable {
		return cash.KindSupplierPayment
	}
	return cash.KindCustomerDeposit
}

func (s *Service) collectInTx(ctx context.Context, tx *tenant.Tx, in CollectInput, documentID string) (Receipt, error) {
	cashTx, err := s.cash.RecordInTx(ctx, tx, cash.TxInput{
		SessionID: in.SessionID,
		Kind:      cashKindFor(in.Kind),
		Amount:    in.Amount,
		Reference: in.Reference,
		Metadata:  map[string]string{"counterparty_id": in.CounterpartyID, "balance_id": in.BalanceID},
	})
	if err != nil {
		return Receipt{}, err
	}
	if cashTx.Replayed {
		return s.replay(ctx, tx, cashTx.ID)
	}

	var targets []arap.Document
	if in.BalanceID != "" {
		doc, err := s.balances.GetInTx(ctx, tx, in.BalanceID)
		if err != nil {
			return Receipt{}, err
		}
		if doc.Kind != in.Kind || (in.CounterpartyID != "" && doc.CounterpartyID != in.CounterpartyID) {
			return Receipt{}, shared.Validationf("payments: balance %s is not a %s of %s", doc.ID, in.Kind, in.CounterpartyID)
		}
		if in.Amount.GreaterThan(doc.Balance) {
			return Receipt{}, fmt.Errorf("%w: payment %s exceeds balance %s", shared.ErrInsufficientBalance, in.Amount, doc.Balance)
		}
		targets = []arap.Document{doc}
	} else {
		targets, err = s.balances.OpenBalancesInTx(ctx, tx, in.Kind, in.CounterpartyID)
		if err != nil {
			return Receipt{}, err
		}
		s.policy.order(targets)
	}

	rcpt := Receipt{
		TenantID:       tx.TenantID(),
		ID:             cashTx.ID,
		SessionID:      in.SessionID,
		Reference:      in.Reference,
		Kind:           in.Kind,
		CounterpartyID: in.CounterpartyID,
		DocumentID:     documentID,
		Amount:         in.Amount,
		Allocations:    []Allocation{},
		CreatedBy:      shared.ActorFromContext(ctx),
		CreatedAt:      s.clock(),
	}
	left := in.Amount
	for _, doc := range targets {
		if !left.IsPositive() {
			break
		}
		if !doc.Balance.IsPositive() {
			continue
		}
		part := decimal.Min(left, doc.Balance)
		app, err := s.balances.ApplyPaymentInTx(ctx, tx, doc.ID, cashTx.ID, part)
		if err != nil {
			return Receipt{}, err
		}
		left = left.Sub(part)
		rcpt.Allocations = append(rcpt.Allocations, Allocation{
			BalanceID:        doc.ID,
			SourceDocumentID: doc.SourceDocumentID,
			Amount:           part,
			BalanceAfter:     app.Document.Balance,
			Status:           app.Document.Status,
		})
		if app.Document.Status == arap.StatusSettled {
			if err := s.settleSource(ctx, tx, doc.SourceDocumentID); err != nil {
				return Receipt{}, err
			}
		}
	}
	if left.IsPositive() {
		return Receipt{}, fmt.Errorf("%w: %s left after settling every open balance", shared.ErrInsufficientBalance, left)
	}
	if err := tx.Insert(ctx, receiptBucket, rcpt.ID, rcpt); err != nil {
		return Receipt{}, err
	}
	return rcpt, nil
}

// settleSource marks the document behind a settled balance as PAID or
// RECEIVED. Balances opened without a document have nothing to settle.
func (s *Service) settleSource(ctx context.Context, tx *tenant.Tx, documentID string) error {
	if documentID == "" {
		return nil
	}
	_, err := s.documents.MarkSettledInTx(ctx, tx, documentID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) replay(ctx context.Context, tx *tenant.Tx, cashTxID string) (Receipt, error) {
	rcpt, ok, err := tenant.Lookup[Receipt](ctx, tx, receiptBucket, cashTxID)
	if err != nil {
		return Receipt{}, err
	}
	if !ok {
		return Receipt{}, shared.Conflictf("payments: reference already used by cash transaction %s", cashTxID)
	}
	rcpt.Replayed = true
	return rcpt, nil
}

// PayDocument pays an ISSUED document through a session. Cash documents are
// paid at their total; credit documents at their remaining balance. Either
// way the document ends PAID or RECEIVED.
func (s *Service) PayDocument(ctx context.Context, in PayDocumentInput) (Receipt, error) {
	if in.SessionID == "" || in.DocumentID == "" {
		return Receipt{}, shared.Validationf("payments: session and document required")
	}
	if in.Reference == "" {
		in.Reference = "document:" + in.DocumentID
	}
	tenantID, err := s.guard.Resolve(ctx)
	if err != nil {
		return Receipt{}, err
	}
	keys := []string{shared.DocumentLockKey(tenantID, in.DocumentID)}
	err = s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		doc, err := s.documents.GetInTx(ctx, tx, in.DocumentID)
		if err != nil {
			return err
		}
		if doc.BalanceID != "" {
			keys = append(keys, arap.LockKey(tenantID, doc.BalanceID))
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	var rcpt Receipt
	err = s.guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		rcpt, err = s.payDocumentInTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return Receipt{}, err
	}
	s.record(ctx, "payments.pay_document", rcpt)
	return rcpt, nil
}

func (s *Service) payDocumentInTx(ctx context.Context, tx *tenant.Tx, in PayDocumentInput) (Receipt, error) {
	doc, err := s.documents.GetInTx(ctx, tx, in.DocumentID)
	if err != nil {
		return Receipt{}, err
	}
	kind := doc.BalanceKind()
	if doc.Status != documents.StatusIssued {
		if rcpt, ok, err := s.receiptByReference(ctx, tx, in, kind, doc); err != nil || ok {
			return rcpt, err
		}
		return Receipt{}, shared.Conflictf("payments: document %s is %s", doc.ID, doc.Status)
	}
	if doc.IsReturn() {
		return Receipt{}, shared.Validationf("payments: returns are refunded, not paid")
	}
	if doc.BalanceID != "" {
		bal, err := s.balances.GetInTx(ctx, tx, doc.BalanceID)
		if err != nil {
			return Receipt{}, err
		}
		return s.collectInTx(ctx, tx, CollectInput{
			SessionID:      in.SessionID,
			Kind:           kind,
			CounterpartyID: doc.CounterpartyID,
			BalanceID:      bal.ID,
			Amount:         bal.Balance,
			Reference:      in.Reference,
		}, doc.ID)
	}

	cashKind := cash.KindSalePayment
	if doc.Kind == documents.KindPurchase {
		cashKind = cash.KindSupplierPayment
	}
	cashTx, err := s.cash.RecordInTx(ctx, tx, cash.TxInput{
		SessionID: in.SessionID,
		Kind:      cashKind,
		Amount:    doc.Total,
		Reference: in.Reference,
		Metadata:  map[string]string{"document_id": doc.ID, "doc_number": doc.DocNumber},
	})
	if err != nil {
		return Receipt{}, err
	}
	if cashTx.Replayed {
		return s.replay(ctx, tx, cashTx.ID)
	}
	if _, err := s.documents.MarkSettledInTx(ctx, tx, doc.ID); err != nil {
		return Receipt{}, err
	}
	rcpt := Receipt{
		TenantID:       tx.TenantID(),
		ID:             cashTx.ID,
		SessionID:      in.SessionID,
		Reference:      in.Reference,
		Kind:           kind,
		CounterpartyID: doc.CounterpartyID,
		DocumentID:     doc.ID,
		Amount:         doc.Total,
		Allocations:    []Allocation{},
		CreatedBy:      shared.ActorFromContext(ctx),
		CreatedAt:      s.clock(),
	}
	if err := tx.Insert(ctx, receiptBucket, rcpt.ID, rcpt); err != nil {
		return Receipt{}, err
	}
	return rcpt, nil
}

// receiptByReference finds the receipt of an earlier identical PayDocument
// call so retries after success are answered from the record.
func (s *Service) receiptByReference(ctx context.Context, tx *tenant.Tx, in PayDocumentInput, kind arap.Kind, doc documents.Document) (Receipt, bool, error) {
	var found Receipt
	ok := false
	err := tenant.Scan(ctx, tx, receiptBucket, "", func(_ string, r Receipt) error {
		if !ok && r.Reference == in.Reference && r.DocumentID == doc.ID && r.SessionID == in.SessionID && r.Kind == kind {
			found, ok = r, true
		}
		return nil
	})
	if err != nil || !ok {
		return Receipt{}, false, err
	}
	found.Replayed = true
	return found, true, nil
}

// Get returns a receipt by cash transaction id.
func (s *Service) Get(ctx context.Context, id string) (Receipt, error) {
	var rcpt Receipt
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		rcpt, err = tenant.Get[Receipt](ctx, tx, receiptBucket, id)
		return err
	})
	return rcpt, err
}

func (s *Service) record(ctx context.Context, action string, rcpt Receipt) {
	if rcpt.Replayed || s.audit == nil {
		return
	}
	s.audit.Record(ctx, shared.AuditLog{
		TenantID: rcpt.TenantID,
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "payment_receipt",
		EntityID: rcpt.ID,
		Meta: map[string]any{
			"amount":      rcpt.Amount.String(),
			"reference":   rcpt.Reference,
			"allocations": len(rcpt.Allocations),
			"document_id": rcpt.DocumentID,
		},
	})
}
