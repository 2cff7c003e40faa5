// Package arap tracks receivable and payable balances opened by issued
// credit documents and settled by cash payments.
package arap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/lock"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/store"
	"github.com/odyssey-erp/backoffice/internal/tenant"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog)
}

// Service manages receivable and payable documents.
type Service struct {
	guard  *tenant.Guard
	locker lock.Locker
	audit  AuditPort
	logger *slog.Logger
	clock  func() time.Time
}

// NewService builds Service.
func NewService(guard *tenant.Guard, locker lock.Locker, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{guard: guard, locker: locker, audit: audit, logger: logger, clock: func() time.Time { return time.Now().UTC() }}
}

// LockKey returns the lock guarding a document's balance.
func LockKey(tenantID, docID string) string {
	return shared.BalanceLockKey(tenantID, docID)
}

// Open creates a balance document in its own transaction.
func (s *Service) Open(ctx context.Context, in OpenInput) (Document, error) {
	var doc Document
	err := s.guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		doc, err = s.OpenInTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, "arap.open", doc, map[string]any{"kind": string(doc.Kind), "total": doc.Total.String(), "source": doc.SourceDocumentID})
	return doc, nil
}

// OpenInTx creates a PENDING balance document with Balance equal to Total. A
// source document can open at most one balance. A due date already in the past
// is reported as OVERDUE on read and persisted by RefreshOverdue.
func (s *Service) OpenInTx(ctx context.Context, tx *tenant.Tx, in OpenInput) (Document, error) {
	if !in.Kind.Valid() {
		return Document{}, shared.Validationf("arap: unknown kind %q", in.Kind)
	}
	if strings.TrimSpace(in.SourceDocumentID) == "" || strings.TrimSpace(in.CounterpartyID) == "" {
		return Document{}, shared.Validationf("arap: source document and counterparty required")
	}
	if !in.Total.IsPositive() {
		return Document{}, shared.Validationf("arap: total must be positive")
	}
	now := s.clock()
	doc := Document{
		TenantID:         tx.TenantID(),
		ID:               uuid.Must(uuid.NewV7()).String(),
		Kind:             in.Kind,
		SourceDocumentID: in.SourceDocumentID,
		CounterpartyID:   in.CounterpartyID,
		Total:            in.Total,
		Paid:             decimal.Zero,
		Balance:          in.Total,
		DueDate:          in.DueDate,
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := tx.Insert(ctx, bySourceBucket, in.SourceDocumentID, tenant.Marker{TenantID: doc.TenantID, Ref: doc.ID})
	if errors.Is(err, store.ErrExists) {
		return Document{}, shared.Conflictf("arap: source document %s already has a balance", in.SourceDocumentID)
	}
	if err != nil {
		return Document{}, err
	}
	if err := tx.Insert(ctx, documentBucket, doc.ID, doc); err != nil {
		return Document{}, err
	}
	marker := tenant.Marker{TenantID: doc.TenantID, Ref: doc.ID}
	if err := tx.Insert(ctx, byCounterpartyBucket, counterpartyKey(doc.Kind, doc.CounterpartyID, doc.ID), marker); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// ApplyPayment applies a cash payment under the document's balance lock.
func (s *Service) ApplyPayment(ctx context.Context, docID, cashTxID string, amount decimal.Decimal) (Application, error) {
	tenantID, err := s.guard.Resolve(ctx)
	if err != nil {
		return Application{}, err
	}
	release, err := s.locker.Acquire(ctx, LockKey(tenantID, docID))
	if err != nil {
		return Application{}, err
	}
	defer release()

	var app Application
	err = s.guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		app, err = s.ApplyPaymentInTx(ctx, tx, docID, cashTxID, amount)
		return err
	})
	if err != nil {
		return Application{}, err
	}
	if !app.Replayed {
		s.record(ctx, "arap.payment", app.Document, map[string]any{
			"amount":     amount.String(),
			"cash_tx_id": cashTxID,
			"balance":    app.Document.Balance.String(),
			"status":     string(app.Document.Status),
		})
	}
	return app, nil
}

// ApplyPaymentInTx reduces the balance by amount. Reapplying the same cash
// transaction with the same amount is a no-op that returns the current
// document; a different amount is a conflict.
func (s *Service) ApplyPaymentInTx(ctx context.Context, tx *tenant.Tx, docID, cashTxID string, amount decimal.Decimal) (Application, error) {
	if strings.TrimSpace(cashTxID) == "" {
		return Application{}, shared.Validationf("arap: cash transaction required")
	}
	if !amount.IsPositive() {
		return Application{}, shared.Validationf("arap: payment amount must be positive")
	}
	doc, err := tenant.Get[Document](ctx, tx, documentBucket, docID)
	if err != nil {
		return Application{}, err
	}
	now := s.clock()
	key := docID + "/" + cashTxID
	prior, ok, err := tenant.Lookup[Payment](ctx, tx, paymentBucket, key)
	if err != nil {
		return Application{}, err
	}
	if ok {
		if !prior.Amount.Equal(amount) {
			return Application{}, shared.Conflictf("arap: cash transaction %s already applied with amount %s", cashTxID, prior.Amount)
		}
		return Application{Document: doc.withStatusAt(now), Payment: prior, Replayed: true}, nil
	}
	if doc.Status == StatusCancelled {
		return Application{}, shared.Conflictf("arap: document %s is cancelled", doc.ID)
	}
	if amount.GreaterThan(doc.Balance) {
		return Application{}, fmt.Errorf("%w: payment %s exceeds balance %s", shared.ErrInsufficientBalance, amount, doc.Balance)
	}
	p := Payment{
		TenantID:          doc.TenantID,
		DocumentID:        doc.ID,
		CashTransactionID: cashTxID,
		Amount:            amount,
		AppliedBy:         shared.ActorFromContext(ctx),
		AppliedAt:         now,
	}
	if err := tx.Insert(ctx, paymentBucket, key, p); err != nil {
		return Application{}, err
	}
	doc.Paid = doc.Paid.Add(amount)
	doc.Balance = doc.Total.Sub(doc.Paid)
	doc.UpdatedAt = now
	doc = doc.withStatusAt(now)
	if err := tx.Put(ctx, documentBucket, doc.ID, doc); err != nil {
		return Application{}, err
	}
	return Application{Document: doc, Payment: p}, nil
}

// CancelInTx withdraws an unpaid balance. Documents with payments cannot be
// cancelled.
func (s *Service) CancelInTx(ctx context.Context, tx *tenant.Tx, docID, reason string) (Document, error) {
	doc, err := tenant.Get[Document](ctx, tx, documentBucket, docID)
	if err != nil {
		return Document{}, err
	}
	if doc.Status == StatusCancelled {
		return Document{}, shared.Conflictf("arap: document %s already cancelled", doc.ID)
	}
	if !doc.Paid.IsZero() {
		return Document{}, shared.Conflictf("arap: document %s has payments of %s", doc.ID, doc.Paid)
	}
	now := s.clock()
	doc.Status = StatusCancelled
	doc.CancelledAt = &now
	doc.CancelReason = reason
	doc.UpdatedAt = now
	if err := tx.Put(ctx, documentBucket, doc.ID, doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Get returns a document with its status derived as of now.
func (s *Service) Get(ctx context.Context, docID string) (Document, error) {
	var doc Document
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		doc, err = tenant.Get[Document](ctx, tx, documentBucket, docID)
		return err
	})
	if err != nil {
		return Document{}, err
	}
	return doc.withStatusAt(s.clock()), nil
}

// GetInTx returns a document inside the caller's transaction.
func (s *Service) GetInTx(ctx context.Context, tx *tenant.Tx, docID string) (Document, error) {
	doc, err := tenant.Get[Document](ctx, tx, documentBucket, docID)
	if err != nil {
		return Document{}, err
	}
	return doc.withStatusAt(s.clock()), nil
}

// BySourceInTx returns the balance opened by a source document, if any.
func (s *Service) BySourceInTx(ctx context.Context, tx *tenant.Tx, sourceDocumentID string) (Document, bool, error) {
	marker, ok, err := tenant.Lookup[tenant.Marker](ctx, tx, bySourceBucket, sourceDocumentID)
	if err != nil || !ok {
		return Document{}, false, err
	}
	doc, err := tenant.Get[Document](ctx, tx, documentBucket, marker.Ref)
	if err != nil {
		return Document{}, false, err
	}
	return doc.withStatusAt(s.clock()), true, nil
}

// BySource returns the balance opened by a source document.
func (s *Service) BySource(ctx context.Context, sourceDocumentID string) (Document, error) {
	var doc Document
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var (
			ok  bool
			err error
		)
		doc, ok, err = s.BySourceInTx(ctx, tx, sourceDocumentID)
		if err == nil && !ok {
			err = shared.NotFoundf("arap: no balance for document %s", sourceDocumentID)
		}
		return err
	})
	return doc, err
}

// Payments lists the payments applied to a document.
func (s *Service) Payments(ctx context.Context, docID string) ([]Payment, error) {
	var out []Payment
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		if _, err := tenant.Get[Document](ctx, tx, documentBucket, docID); err != nil {
			return err
		}
		return tenant.Scan(ctx, tx, paymentBucket, docID+"/", func(_ string, p Payment) error {
			out = append(out, p)
			return nil
		})
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].AppliedAt.Before(out[j].AppliedAt) })
	return out, err
}

// OpenBalances lists documents of a counterparty that still expect payment.
func (s *Service) OpenBalances(ctx context.Context, kind Kind, counterpartyID string) ([]Document, error) {
	var out []Document
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		out, err = s.OpenBalancesInTx(ctx, tx, kind, counterpartyID)
		return err
	})
	return out, err
}

// OpenBalancesInTx lists open documents of a counterparty ordered by
// creation time.
func (s *Service) OpenBalancesInTx(ctx context.Context, tx *tenant.Tx, kind Kind, counterpartyID string) ([]Document, error) {
	now := s.clock()
	var out []Document
	err := tenant.Scan(ctx, tx, byCounterpartyBucket, string(kind)+"/"+counterpartyID+"/", func(_ string, m tenant.Marker) error {
		doc, err := tenant.Get[Document](ctx, tx, documentBucket, m.Ref)
		if err != nil {
			return err
		}
		doc = doc.withStatusAt(now)
		if doc.Open() {
			out = append(out, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// OutstandingInTx sums the open balance of a counterparty.
func (s *Service) OutstandingInTx(ctx context.Context, tx *tenant.Tx, kind Kind, counterpartyID string) (decimal.Decimal, error) {
	docs, err := s.OpenBalancesInTx(ctx, tx, kind, counterpartyID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, d := range docs {
		total = total.Add(d.Balance)
	}
	return total, nil
}

// List returns every document of a kind, optionally restricted to a status
// derived at now.
func (s *Service) List(ctx context.Context, kind Kind, status Status) ([]Document, error) {
	now := s.clock()
	var out []Document
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		return tenant.Scan(ctx, tx, documentBucket, "", func(_ string, d Document) error {
			if kind != "" && d.Kind != kind {
				return nil
			}
			d = d.withStatusAt(now)
			if status != "" && d.Status != status {
				return nil
			}
			out = append(out, d)
			return nil
		})
	})
	return out, err
}

// RefreshOverdue persists OVERDUE on documents past their due date and
// returns how many changed.
func (s *Service) RefreshOverdue(ctx context.Context, asOf time.Time) (int, error) {
	changed := 0
	err := s.guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		changed = 0
		var stale []Document
		err := tenant.Scan(ctx, tx, documentBucket, "", func(_ string, d Document) error {
			if d.Status == StatusCancelled || d.Status == StatusOverdue {
				return nil
			}
			if next := d.withStatusAt(asOf); next.Status == StatusOverdue {
				next.UpdatedAt = asOf
				stale = append(stale, next)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, d := range stale {
			if err := tx.Put(ctx, documentBucket, d.ID, d); err != nil {
				return err
			}
		}
		changed = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		s.logger.Info("arap overdue refreshed", slog.Int("count", changed), slog.Time("as_of", asOf))
	}
	return changed, nil
}

// Aging groups open balances of a kind by days past due as of asOf.
// Documents without a due date are current.
func (s *Service) Aging(ctx context.Context, kind Kind, asOf time.Time) (AgingBucket, error) {
	bucket := AgingBucket{Current: decimal.Zero, Bucket30: decimal.Zero, Bucket60: decimal.Zero, Bucket90: decimal.Zero, Bucket120: decimal.Zero}
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		return tenant.Scan(ctx, tx, documentBucket, "", func(_ string, d Document) error {
			if d.Kind != kind || d.Status == StatusCancelled || !d.Balance.IsPositive() {
				return nil
			}
			if d.DueDate == nil {
				bucket.Current = bucket.Current.Add(d.Balance)
				return nil
			}
			daysOverdue := int(asOf.Sub(*d.DueDate).Hours() / 24)
			switch {
			case daysOverdue <= 0:
				bucket.Current = bucket.Current.Add(d.Balance)
			case daysOverdue <= 30:
				bucket.Bucket30 = bucket.Bucket30.Add(d.Balance)
			case daysOverdue <= 60:
				bucket.Bucket60 = bucket.Bucket60.Add(d.Balance)
			case daysOverdue <= 90:
				bucket.Bucket90 = bucket.Bucket90.Add(d.Balance)
			default:
				bucket.Bucket120 = bucket.Bucket120.Add(d.Balance)
			}
			return nil
		})
	})
	return bucket, err
}

// Reconciliation compares a document's balance with its payment history.
type Reconciliation struct {
	Document   Document        `json:"document"`
	Payments   decimal.Decimal `json:"payments"`
	Consistent bool            `json:"consistent"`
}

// Reconcile checks Balance == Total - sum(payments) for a document.
func (s *Service) Reconcile(ctx context.Context, docID string) (Reconciliation, error) {
	var rec Reconciliation
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		doc, err := tenant.Get[Document](ctx, tx, documentBucket, docID)
		if err != nil {
			return err
		}
		paid := decimal.Zero
		err = tenant.Scan(ctx, tx, paymentBucket, docID+"/", func(_ string, p Payment) error {
			paid = paid.Add(p.Amount)
			return nil
		})
		if err != nil {
			return err
		}
		rec = Reconciliation{
			Document:   doc,
			Payments:   paid,
			Consistent: doc.Balance.Equal(doc.Total.Sub(paid)) && doc.Paid.Equal(paid),
		}
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}
	if !rec.Consistent {
		s.logger.Error("arap balance drift",
			slog.String("tenant_id", rec.Document.TenantID),
			slog.String("document_id", docID),
			slog.String("balance", rec.Document.Balance.String()),
			slog.String("payments", rec.Payments.String()))
	}
	return rec, nil
}

func (s *Service) record(ctx context.Context, action string, doc Document, meta map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, shared.AuditLog{
		TenantID: doc.TenantID,
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "arap_document",
		EntityID: doc.ID,
		Meta:     meta,
	})
}
