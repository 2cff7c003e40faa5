package documents

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/arap"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Kind selects the sales or purchase engine.
type Kind string

const (
	KindSales    Kind = "SALES"
	KindPurchase Kind = "PURCHASE"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindSales || k == KindPurchase
}

// Status is the document lifecycle state.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusIssued   Status = "ISSUED"
	StatusPaid     Status = "PAID"
	StatusReceived Status = "RECEIVED"
	StatusVoided   Status = "VOIDED"
)

// Terms decides whether issuing opens a receivable or payable.
type Terms string

const (
	TermsCash   Terms = "CASH"
	TermsCredit Terms = "CREDIT"
)

const (
	documentBucket = "documents"
	returnsBucket  = "document_returns"
	productsEntity = "products"
	partiesEntity  = "counterparties"
	warehouseEnt   = "warehouses"
	taxesEntity    = "taxes"
)

// ErrCreditLimitExceeded rejects a credit sale beyond the customer's limit.
var ErrCreditLimitExceeded = fmt.Errorf("%w: credit limit exceeded", shared.ErrConflict)

var hundred = decimal.NewFromInt(100)

// Line is a document line. Quantity is in UoM; BaseQuantity is what reaches
// the ledger.
type Line struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	UoM          string          `json:"uom"`
	Quantity     decimal.Decimal `json:"quantity"`
	Factor       decimal.Decimal `json:"uom_conversion_factor"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	DiscountPct  decimal.Decimal `json:"discount_pct"`
	TaxID        string          `json:"tax_id,omitempty"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	Discount     decimal.Decimal `json:"discount"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Tax          decimal.Decimal `json:"tax"`
	LineTotal    decimal.Decimal `json:"line_total"`
	BaseQuantity decimal.Decimal `json:"base_quantity"`
}

// Document is a sales or purchase document. Number and SeriesID are empty
// while DRAFT and assigned once on issue.
type Document struct {
	TenantID       string          `json:"tenant_id"`
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	Status         Status          `json:"status"`
	Terms          Terms           `json:"terms"`
	BranchID       string          `json:"branch_id,omitempty"`
	WarehouseID    string          `json:"warehouse_id,omitempty"`
	CounterpartyID string          `json:"counterparty_id,omitempty"`
	Series         string          `json:"series,omitempty"`
	SeriesID       string          `json:"series_id,omitempty"`
	Number         int64           `json:"number,omitempty"`
	DocNumber      string          `json:"doc_number,omitempty"`
	ReturnOf       string          `json:"return_of,omitempty"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
	Note           string          `json:"note,omitempty"`
	Lines          []Line          `json:"lines"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxTotal       decimal.Decimal `json:"tax_total"`
	Total          decimal.Decimal `json:"total"`
	BalanceID      string          `json:"balance_id,omitempty"`
	MovementIDs    []string        `json:"movement_ids,omitempty"`
	CreditApplied  decimal.Decimal `json:"credit_applied"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	IssuedBy       string          `json:"issued_by,omitempty"`
	IssuedAt       *time.Time      `json:"issued_at,omitempty"`
	SettledAt      *time.Time      `json:"settled_at,omitempty"`
	VoidedBy       string          `json:"voided_by,omitempty"`
	VoidedAt       *time.Time      `json:"voided_at,omitempty"`
	VoidReason     string          `json:"void_reason,omitempty"`
}

// Owner implements tenant.Owned.
func (d Document) Owner() string { return d.TenantID }

// IsReturn reports whether the document returns goods of a parent.
func (d Document) IsReturn() bool { return d.ReturnOf != "" }

// SettledStatus is PAID for sales and RECEIVED for purchases.
func (d Document) SettledStatus() Status {
	if d.Kind == KindPurchase {
		return StatusReceived
	}
	return StatusPaid
}

// DocType is the numbering document type.
func (d Document) DocType() string {
	if d.IsReturn() {
		return string(d.Kind) + "_RETURN"
	}
	return string(d.Kind)
}

// BalanceKind is the receivable/payable kind opened on credit.
func (d Document) BalanceKind() arap.Kind {
	if d.Kind == KindPurchase {
		return arap.KindPayable
	}
	return arap.KindReceivable
}

// movementFor builds the ledger movement of a line. Sales take stock out and
// purchases bring it in; returns run the other way as adjustments.
func (d Document) movementFor(l Line) inventory.MovementInput {
	in := inventory.MovementInput{
		ProductID:   l.ProductID,
		Quantity:    l.BaseQuantity,
		RefDocument: d.ID,
	}
	switch {
	case d.Kind == KindSales && !d.IsReturn():
		in.Type = inventory.MoveSale
		in.SourceWarehouse = d.WarehouseID
	case d.Kind == KindSales:
		in.Type = inventory.MoveAdjust
		in.DestWarehouse = d.WarehouseID
	case d.Kind == KindPurchase && !d.IsReturn():
		in.Type = inventory.MovePurchase
		in.DestWarehouse = d.WarehouseID
	default:
		in.Type = inventory.MoveAdjust
		in.SourceWarehouse = d.WarehouseID
	}
	return in
}

// recalculate recomputes line amounts and document totals.
func (d *Document) recalculate() {
	d.Subtotal, d.TaxTotal, d.Total = decimal.Zero, decimal.Zero, decimal.Zero
	for i := range d.Lines {
		l := &d.Lines[i]
		l.Discount, l.Tax, l.LineTotal = CalculateLineTotals(l.Quantity, l.UnitPrice, l.DiscountPct, l.TaxRate)
		l.Subtotal = l.LineTotal.Sub(l.Tax)
		l.BaseQuantity = l.Quantity.Mul(l.Factor)
		d.Subtotal = d.Subtotal.Add(l.Subtotal)
		d.TaxTotal = d.TaxTotal.Add(l.Tax)
		d.Total = d.Total.Add(l.LineTotal)
	}
}

// CalculateLineTotals returns the discount, tax and total of a line, each
// rounded to cents.
func CalculateLineTotals(quantity, unitPrice, discountPct, taxPct decimal.Decimal) (discount, tax, lineTotal decimal.Decimal) {
	gross := quantity.Mul(unitPrice).Round(2)
	discount = gross.Mul(discountPct).Div(hundred).Round(2)
	taxable := gross.Sub(discount)
	tax = taxable.Mul(taxPct).Div(hundred).Round(2)
	lineTotal = taxable.Add(tax)
	return discount, tax, lineTotal
}

// CreateInput opens a draft.
type CreateInput struct {
	Kind           Kind        `json:"kind" validate:"required,oneof=SALES PURCHASE"`
	Terms          Terms       `json:"terms" validate:"omitempty,oneof=CASH CREDIT"`
	BranchID       string      `json:"branch_id"`
	WarehouseID    string      `json:"warehouse_id"`
	CounterpartyID string      `json:"counterparty_id"`
	Series         string      `json:"series"`
	ReturnOf       string      `json:"return_of"`
	DueDate        *time.Time  `json:"due_date,omitempty"`
	Note           string      `json:"note"`
	Lines          []LineInput `json:"lines" validate:"dive"`
}

// HeaderInput changes draft header fields; nil fields are left unchanged.
type HeaderInput struct {
	Terms          *Terms     `json:"terms,omitempty" validate:"omitempty,oneof=CASH CREDIT"`
	BranchID       *string    `json:"branch_id,omitempty"`
	WarehouseID    *string    `json:"warehouse_id,omitempty"`
	CounterpartyID *string    `json:"counterparty_id,omitempty"`
	Series         *string    `json:"series,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	Note           *string    `json:"note,omitempty"`
}

// LineInput adds or replaces a line. UnitPrice and TaxID default from the
// catalog when nil; an empty TaxID means untaxed.
type LineInput struct {
	ProductID   string           `json:"product_id" validate:"required"`
	UoM         string           `json:"uom"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
	DiscountPct decimal.Decimal  `json:"discount_pct"`
	TaxID       *string          `json:"tax_id,omitempty"`
}

// Validate checks the numeric ranges of a line.
func (in LineInput) Validate() error {
	if strings.TrimSpace(in.ProductID) == "" {
		return shared.Validationf("documents: product required")
	}
	if !in.Quantity.IsPositive() {
		return shared.Validationf("documents: quantity must be positive")
	}
	if in.UnitPrice != nil && in.UnitPrice.IsNegative() {
		return shared.Validationf("documents: unit price must not be negative")
	}
	if in.DiscountPct.IsNegative() || in.DiscountPct.GreaterThan(hundred) {
		return shared.Validationf("documents: discount must be between 0 and 100")
	}
	return nil
}

// ListFilter narrows document listings.
type ListFilter struct {
	Kind           Kind
	Status         Status
	CounterpartyID string
	Page           int
	PerPage        int
}

// transitionError reports an illegal lifecycle move.
func transitionError(d Document, op string) error {
	return shared.Conflictf("documents: cannot %s %s document %s", op, strings.ToLower(string(d.Status)), d.ID)
}

var errNoLines = errors.New("documents: at least one line required")
