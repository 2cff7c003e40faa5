package payments

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/arap"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Policy orders open balances when a payment names no target.
type Policy string

const (
	// PolicyOldestFirst settles the earliest opened balance first.
	PolicyOldestFirst Policy = "oldest"
	// PolicyDueDateFirst settles the earliest due balance first; balances
	// without a due date go last.
	PolicyDueDateFirst Policy = "due_date"
)

// ParsePolicy maps a config value to a Policy. Empty means oldest first.
func ParsePolicy(v string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(v))) {
	case "", PolicyOldestFirst:
		return PolicyOldestFirst, nil
	case PolicyDueDateFirst:
		return PolicyDueDateFirst, nil
	default:
		return "", shared.Validationf("payments: unknown allocation policy %q", v)
	}
}

// order sorts open balances in place for allocation.
func (p Policy) order(docs []arap.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if p == PolicyDueDateFirst {
			switch {
			case a.DueDate != nil && b.DueDate == nil:
				return true
			case a.DueDate == nil && b.DueDate != nil:
				return false
			case a.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
				return a.DueDate.Before(*b.DueDate)
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

const receiptBucket = "payment_receipts"

// Allocation is the part of a receipt applied to one balance.
type Allocation struct {
	BalanceID        string          `json:"balance_id"`
	SourceDocumentID string          `json:"source_document_id"`
	Amount           decimal.Decimal `json:"amount"`
	BalanceAfter     decimal.Decimal `json:"balance_after"`
	Status           arap.Status     `json:"status"`
}

// Receipt records one cash payment and where it went. Its id is the cash
// transaction id.
type Receipt struct {
	TenantID       string          `json:"tenant_id"`
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	Reference      string          `json:"reference"`
	Kind           arap.Kind       `json:"kind"`
	CounterpartyID string          `json:"counterparty_id,omitempty"`
	DocumentID     string          `json:"document_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Allocations    []Allocation    `json:"allocations"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`

	Replayed bool `json:"replayed"`
}

// Owner implements tenant.Owned.
func (r Receipt) Owner() string { return r.TenantID }

// CollectInput receives or pays cash against receivables or payables. When
// BalanceID is empty the amount is spread over the counterparty's open
// balances by the configured policy.
type CollectInput struct {
	SessionID      string          `json:"session_id" validate:"required"`
	Kind           arap.Kind       `json:"kind" validate:"required,oneof=RECEIVABLE PAYABLE"`
	CounterpartyID string          `json:"counterparty_id"`
	BalanceID      string          `json:"balance_id"`
	Amount         decimal.Decimal `json:"amount"`
	Reference      string          `json:"reference" validate:"required"`
}

// Validate checks the input before any write.
func (in CollectInput) Validate() error {
	if strings.TrimSpace(in.SessionID) == "" || strings.TrimSpace(in.Reference) == "" {
		return shared.Validationf("payments: session and reference required")
	}
	if !in.Kind.Valid() {
		return shared.Validationf("payments: unknown kind %q", in.Kind)
	}
	if in.BalanceID == "" && in.CounterpartyID == "" {
		return shared.Validationf("payments: balance or counterparty required")
	}
	if !in.Amount.IsPositive() {
		return shared.Validationf("payments: amount must be positive")
	}
	return nil
}

// PayDocumentInput pays an issued document in full through a session.
type PayDocumentInput struct {
	SessionID  string `json:"session_id" validate:"required"`
	DocumentID string `json:"document_id"`
	Reference  string `json:"reference"`
}
