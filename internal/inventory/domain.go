package inventory

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// MoveType enumerates supported inventory movements.
type MoveType string

const (
	// MovePurchase brings stock into a destination warehouse.
	MovePurchase MoveType = "PURCHASE"
	// MoveSale takes stock out of a source warehouse.
	MoveSale MoveType = "SALE"
	// MoveAdjust adds to or removes from exactly one warehouse.
	MoveAdjust MoveType = "ADJUST"
	// MoveTransfer moves stock between two different warehouses.
	MoveTransfer MoveType = "TRANSFER"
)

const (
	movementBucket   = "movements"
	byProductBucket  = "movements_by_product"
	byRefBucket      = "movements_by_ref"
	stockBucket      = "stock"
	movementKeys     = "movement_keys"
	reversalsBucket  = "movement_reversals"
	productsEntity   = "products"
	warehousesEntity = "warehouses"
)

var (
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidWarehouses indicates a warehouse combination the move type forbids.
	ErrInvalidWarehouses = errors.New("inventory: invalid warehouse combination")
)

// Movement is an immutable ledger entry.
type Movement struct {
	TenantID        string          `json:"tenant_id"`
	ID              string          `json:"id"`
	ProductID       string          `json:"product_id"`
	Type            MoveType        `json:"type"`
	Quantity        decimal.Decimal `json:"quantity"`
	SourceWarehouse string          `json:"source_warehouse,omitempty"`
	DestWarehouse   string          `json:"dest_warehouse,omitempty"`
	RefDocument     string          `json:"ref_document,omitempty"`
	ReversalOf      string          `json:"reversal_of,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	Note            string          `json:"note,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Owner implements tenant.Owned.
func (m Movement) Owner() string { return m.TenantID }

// Delta returns the signed effect of the movement on one warehouse.
func (m Movement) Delta(warehouseID string) decimal.Decimal {
	delta := decimal.Zero
	if m.DestWarehouse == warehouseID {
		delta = delta.Add(m.Quantity)
	}
	if m.SourceWarehouse == warehouseID {
		delta = delta.Sub(m.Quantity)
	}
	return delta
}

// MovementInput describes a request to append a movement.
type MovementInput struct {
	ProductID       string          `json:"product_id" validate:"required"`
	Type            MoveType        `json:"type" validate:"required,oneof=PURCHASE SALE ADJUST TRANSFER"`
	Quantity        decimal.Decimal `json:"quantity"`
	SourceWarehouse string          `json:"source_warehouse,omitempty"`
	DestWarehouse   string          `json:"dest_warehouse,omitempty"`
	RefDocument     string          `json:"ref_document,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	Note            string          `json:"note,omitempty"`

	reversalOf string
}

// Validate checks quantity and the warehouse rule of the move type.
func (in MovementInput) Validate() error {
	if !in.Quantity.IsPositive() {
		return shared.Validationf("%v", ErrInvalidQuantity)
	}
	for _, id := range []string{in.ProductID, in.SourceWarehouse, in.DestWarehouse} {
		if strings.Contains(id, "/") {
			return shared.Validationf("inventory: identifiers may not contain '/'")
		}
	}
	if in.ProductID == "" {
		return shared.Validationf("inventory: product required")
	}
	src, dst := in.SourceWarehouse != "", in.DestWarehouse != ""
	var ok bool
	switch in.Type {
	case MovePurchase:
		ok = dst && !src
	case MoveSale:
		ok = src && !dst
	case MoveAdjust:
		ok = src != dst
	case MoveTransfer:
		ok = src && dst && in.SourceWarehouse != in.DestWarehouse
	default:
		return shared.Validationf("inventory: unknown move type %q", in.Type)
	}
	if !ok {
		return shared.Validationf("%v for %s", ErrInvalidWarehouses, in.Type)
	}
	return nil
}

// StockLevel is the projected quantity of a product in a warehouse.
type StockLevel struct {
	TenantID    string          `json:"tenant_id"`
	ProductID   string          `json:"product_id"`
	WarehouseID string          `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Owner implements tenant.Owned.
func (s StockLevel) Owner() string { return s.TenantID }

// MovementFilter narrows movement listings.
type MovementFilter struct {
	ProductID   string
	WarehouseID string
	RefDocument string
	Limit       int
}

// Discrepancy reports a projection that disagrees with the ledger.
type Discrepancy struct {
	ProductID   string          `json:"product_id"`
	WarehouseID string          `json:"warehouse_id"`
	Projected   decimal.Decimal `json:"projected"`
	Recomputed  decimal.Decimal `json:"recomputed"`
}

func stockID(productID, warehouseID string) string {
	return productID + "/" + warehouseID
}

// Fold recomputes stock of one product and warehouse from movements.
func Fold(movements []Movement, productID, warehouseID string) decimal.Decimal {
	total := decimal.Zero
	for _, m := range movements {
		if m.ProductID != productID {
			continue
		}
		total = total.Add(m.Delta(warehouseID))
	}
	return total
}

// opposite returns the input that undoes m.
func opposite(m Movement) MovementInput {
	in := MovementInput{
		ProductID:  m.ProductID,
		Quantity:   m.Quantity,
		reversalOf: m.ID,
	}
	switch m.Type {
	case MoveTransfer:
		in.Type = MoveTransfer
		in.SourceWarehouse, in.DestWarehouse = m.DestWarehouse, m.SourceWarehouse
	case MovePurchase, MoveSale, MoveAdjust:
		in.Type = MoveAdjust
		in.SourceWarehouse, in.DestWarehouse = m.DestWarehouse, m.SourceWarehouse
	}
	return in
}
