// Package catalog exposes the read-only product, counterparty, warehouse and
// tax records the transactional core consumes.
package catalog

import (
	"context"

	"github.com/shopspring/decimal"
)

// Unit converts an alternative unit of measure into the product's base unit.
type Unit struct {
	UoM    string          `json:"uom"`
	Factor decimal.Decimal `json:"factor"`
}

// Product is a sellable or purchasable item.
type Product struct {
	TenantID   string          `json:"tenant_id"`
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	UoM        string          `json:"uom"`
	Units      []Unit          `json:"units,omitempty"`
	Price      decimal.Decimal `json:"price"`
	TaxID      string          `json:"tax_id,omitempty"`
	CategoryID string          `json:"category_id,omitempty"`
	Active     bool            `json:"active"`
}

// Owner implements tenant.Owned.
func (p Product) Owner() string { return p.TenantID }

// Factor returns how many base units one uom represents.
func (p Product) Factor(uom string) (decimal.Decimal, bool) {
	if uom == "" || uom == p.UoM {
		return decimal.NewFromInt(1), true
	}
	for _, u := range p.Units {
		if u.UoM == uom {
			return u.Factor, true
		}
	}
	return decimal.Zero, false
}

// CounterpartyKind distinguishes customers from suppliers.
type CounterpartyKind string

const (
	// CounterpartyCustomer buys from the tenant.
	CounterpartyCustomer CounterpartyKind = "CUSTOMER"
	// CounterpartySupplier sells to the tenant.
	CounterpartySupplier CounterpartyKind = "SUPPLIER"
)

// Counterparty is a customer or supplier.
type Counterparty struct {
	TenantID    string           `json:"tenant_id"`
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Kind        CounterpartyKind `json:"kind"`
	CreditLimit decimal.Decimal  `json:"credit_limit"`
	Active      bool             `json:"active"`
}

// Owner implements tenant.Owned.
func (c Counterparty) Owner() string { return c.TenantID }

// Warehouse is a stock location belonging to a branch.
type Warehouse struct {
	TenantID string `json:"tenant_id" yaml:"-"`
	ID       string `json:"id" yaml:"id"`
	BranchID string `json:"branch_id" yaml:"branch_id"`
	Name     string `json:"name" yaml:"name"`
	Active   bool   `json:"active" yaml:"-"`
}

// Owner implements tenant.Owned.
func (w Warehouse) Owner() string { return w.TenantID }

// Tax is a rate expressed in percent.
type Tax struct {
	TenantID string          `json:"tenant_id"`
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Rate     decimal.Decimal `json:"rate"`
}

// Owner implements tenant.Owned.
func (t Tax) Owner() string { return t.TenantID }

// Provider is the read-only catalog lookup used by the core.
type Provider interface {
	Product(ctx context.Context, tenantID, id string) (Product, error)
	Counterparty(ctx context.Context, tenantID, id string) (Counterparty, error)
	Warehouse(ctx context.Context, tenantID, id string) (Warehouse, error)
	Tax(ctx context.Context, tenantID, id string) (Tax, error)
}
