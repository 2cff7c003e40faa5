package arap

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind distinguishes money owed to the tenant from money the tenant owes.
type Kind string

const (
	// KindReceivable is owed by a customer.
	KindReceivable Kind = "RECEIVABLE"
	// KindPayable is owed to a supplier.
	KindPayable Kind = "PAYABLE"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindReceivable || k == KindPayable
}

// Status is derived from balance, total and due date.
type Status string

const (
	// StatusPending has no payments applied.
	StatusPending Status = "PENDING"
	// StatusPartial has some payments applied.
	StatusPartial Status = "PARTIAL"
	// StatusSettled has a zero balance.
	StatusSettled Status = "SETTLED"
	// StatusOverdue is past its due date with a balance left.
	StatusOverdue Status = "OVERDUE"
	// StatusCancelled was withdrawn together with its voided source document.
	StatusCancelled Status = "CANCELLED"
)

const (
	documentBucket       = "arap_documents"
	bySourceBucket       = "arap_by_source"
	byCounterpartyBucket = "arap_by_counterparty"
	paymentBucket        = "arap_payments"
)

// Document is a receivable or payable balance. Balance always equals
// Total minus the sum of applied payments.
type Document struct {
	TenantID         string          `json:"tenant_id"`
	ID               string          `json:"id"`
	Kind             Kind            `json:"kind"`
	SourceDocumentID string          `json:"source_document_id"`
	CounterpartyID   string          `json:"counterparty_id"`
	Total            decimal.Decimal `json:"total"`
	Paid             decimal.Decimal `json:"paid"`
	Balance          decimal.Decimal `json:"balance"`
	DueDate          *time.Time      `json:"due_date,omitempty"`
	Status           Status          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason     string          `json:"cancel_reason,omitempty"`
}

// Owner implements tenant.Owned.
func (d Document) Owner() string { return d.TenantID }

// Open reports whether the document still expects payments.
func (d Document) Open() bool {
	return d.Status != StatusSettled && d.Status != StatusCancelled
}

// withStatusAt returns d with its status derived at now.
func (d Document) withStatusAt(now time.Time) Document {
	if d.Status == StatusCancelled {
		return d
	}
	d.Status = deriveStatus(d.Total, d.Balance, d.DueDate, now)
	return d
}

// Payment links a cash transaction to a document.
type Payment struct {
	TenantID          string          `json:"tenant_id"`
	DocumentID        string          `json:"document_id"`
	CashTransactionID string          `json:"cash_transaction_id"`
	Amount            decimal.Decimal `json:"amount"`
	AppliedBy         string          `json:"applied_by"`
	AppliedAt         time.Time       `json:"applied_at"`
}

// Owner implements tenant.Owned.
func (p Payment) Owner() string { return p.TenantID }

// OpenInput creates a balance for an issued source document.
type OpenInput struct {
	Kind             Kind            `json:"kind" validate:"required,oneof=RECEIVABLE PAYABLE"`
	SourceDocumentID string          `json:"source_document_id" validate:"required"`
	CounterpartyID   string          `json:"counterparty_id" validate:"required"`
	Total            decimal.Decimal `json:"total"`
	DueDate          *time.Time      `json:"due_date,omitempty"`
}

// Application is the result of applying a payment.
type Application struct {
	Document Document `json:"document"`
	Payment  Payment  `json:"payment"`
	Replayed bool     `json:"replayed"`
}

// AgingBucket summarises open balances by days past due.
type AgingBucket struct {
	Current   decimal.Decimal `json:"current"`
	Bucket30  decimal.Decimal `json:"bucket_30"`
	Bucket60  decimal.Decimal `json:"bucket_60"`
	Bucket90  decimal.Decimal `json:"bucket_90"`
	Bucket120 decimal.Decimal `json:"bucket_120"`
}

// Total sums every bucket.
func (b AgingBucket) Total() decimal.Decimal {
	return b.Current.Add(b.Bucket30).Add(b.Bucket60).Add(b.Bucket90).Add(b.Bucket120)
}

// deriveStatus maps a balance to its status. A zero balance is SETTLED even
// past due; OVERDUE wins over PARTIAL.
func deriveStatus(total, balance decimal.Decimal, due *time.Time, now time.Time) Status {
	switch {
	case balance.IsZero():
		return StatusSettled
	case due != nil && now.After(*due):
		return StatusOverdue
	case balance.LessThan(total):
		return StatusPartial
	default:
		return StatusPending
	}
}

func counterpartyKey(kind Kind, counterpartyID, docID string) string {
	return string(kind) + "/" + counterpartyID + "/" + docID
}
