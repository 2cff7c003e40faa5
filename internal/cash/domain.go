package cash

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus enumerates register session states.
type SessionStatus string

const (
	// SessionOpen accepts transactions.
	SessionOpen SessionStatus = "OPEN"
	// SessionClosed is terminal.
	SessionClosed SessionStatus = "CLOSED"
)

// TxKind classifies cash transactions.
type TxKind string

const (
	// KindOpening is the float counted into the drawer on open.
	KindOpening TxKind = "OPENING"
	// KindSalePayment is cash received for a sale.
	KindSalePayment TxKind = "SALE_PAYMENT"
	// KindCustomerDeposit is cash received against a receivable.
	KindCustomerDeposit TxKind = "CUSTOMER_DEPOSIT"
	// KindSupplierPayment is cash paid to a supplier.
	KindSupplierPayment TxKind = "SUPPLIER_PAYMENT"
	// KindExpense is cash paid out for an expense.
	KindExpense TxKind = "EXPENSE"
	// KindIncome is miscellaneous cash received.
	KindIncome TxKind = "INCOME"
	// KindClosingAdjust records the counted difference on close.
	KindClosingAdjust TxKind = "CLOSING_ADJUST"
)

const (
	sessionBucket  = "cash_sessions"
	openBucket     = "cash_register_open"
	txBucket       = "cash_transactions"
	txRefBucket    = "cash_tx_refs"
	metaDirection  = "direction"
	directionOver  = "over"
	directionShort = "short"
)

// Inflow reports whether the kind adds cash to the drawer. Closing
// adjustments carry their direction in metadata.
func (k TxKind) Inflow(meta map[string]string) bool {
	switch k {
	case KindOpening, KindSalePayment, KindCustomerDeposit, KindIncome:
		return true
	case KindSupplierPayment, KindExpense:
		return false
	case KindClosingAdjust:
		return meta[metaDirection] == directionOver
	default:
		return false
	}
}

// Valid reports whether k is a known kind.
func (k TxKind) Valid() bool {
	switch k {
	case KindOpening, KindSalePayment, KindCustomerDeposit, KindSupplierPayment, KindExpense, KindIncome, KindClosingAdjust:
		return true
	default:
		return false
	}
}

// Session is one open/close cycle of a register.
type Session struct {
	TenantID      string           `json:"tenant_id"`
	ID            string           `json:"id"`
	RegisterID    string           `json:"register_id"`
	OpenedBy      string           `json:"opened_by"`
	OpeningAmount decimal.Decimal  `json:"opening_amount"`
	Status        SessionStatus    `json:"status"`
	Inflow        decimal.Decimal  `json:"inflow"`
	Outflow       decimal.Decimal  `json:"outflow"`
	TxCount       int              `json:"tx_count"`
	OpenedAt      time.Time        `json:"opened_at"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
	ClosedBy      string           `json:"closed_by,omitempty"`
	CountedAmount *decimal.Decimal `json:"counted_amount,omitempty"`
	Discrepancy   *decimal.Decimal `json:"discrepancy,omitempty"`
}

// Owner implements tenant.Owned.
func (s Session) Owner() string { return s.TenantID }

// Expected is the cash that should be in the drawer.
func (s Session) Expected() decimal.Decimal {
	return s.Inflow.Sub(s.Outflow)
}

// Transaction is an immutable cash movement within a session.
type Transaction struct {
	TenantID   string            `json:"tenant_id"`
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	RegisterID string            `json:"register_id"`
	Kind       TxKind            `json:"kind"`
	Amount     decimal.Decimal   `json:"amount"`
	Reference  string            `json:"reference,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedBy  string            `json:"created_by"`
	CreatedAt  time.Time         `json:"created_at"`

	// Replayed is set when a transaction with the same reference already existed.
	Replayed bool `json:"-"`
}

// Owner implements tenant.Owned.
func (t Transaction) Owner() string { return t.TenantID }

// OpenInput opens a register.
type OpenInput struct {
	RegisterID    string          `json:"register_id" validate:"required"`
	OpeningAmount decimal.Decimal `json:"opening_amount"`
}

// TxInput records a cash transaction.
type TxInput struct {
	SessionID string            `json:"session_id" validate:"required"`
	Kind      TxKind            `json:"kind" validate:"required"`
	Amount    decimal.Decimal   `json:"amount"`
	Reference string            `json:"reference,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CloseInput closes a session with the counted drawer amount.
type CloseInput struct {
	SessionID     string          `json:"session_id" validate:"required"`
	CountedAmount decimal.Decimal `json:"counted_amount"`
}
