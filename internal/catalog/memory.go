package catalog

import (
	"context"
	"sync"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

type key struct {
	tenant string
	id     string
}

// Memory is a Provider held in process memory.
type Memory struct {
	mu             sync.RWMutex
	products       map[key]Product
	counterparties map[key]Counterparty
	warehouses     map[key]Warehouse
	taxes          map[key]Tax
	categories     map[string]*Tree
}

// NewMemory returns an empty catalog.
func NewMemory() *Memory {
	return &Memory{
		products:       make(map[key]Product),
		counterparties: make(map[key]Counterparty),
		warehouses:     make(map[key]Warehouse),
		taxes:          make(map[key]Tax),
		categories:     make(map[string]*Tree),
	}
}

// PutProduct stores a product.
func (m *Memory) PutProduct(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[key{p.TenantID, p.ID}] = p
}

// PutCounterparty stores a counterparty.
func (m *Memory) PutCounterparty(c Counterparty) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counterparties[key{c.TenantID, c.ID}] = c
}

// PutWarehouse stores a warehouse.
func (m *Memory) PutWarehouse(w Warehouse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warehouses[key{w.TenantID, w.ID}] = w
}

// PutTax stores a tax.
func (m *Memory) PutTax(t Tax) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taxes[key{t.TenantID, t.ID}] = t
}

// Categories returns the category tree of a tenant, creating it on first use.
func (m *Memory) Categories(tenantID string) *Tree {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, ok := m.categories[tenantID]
	if !ok {
		tree = NewTree()
		m.categories[tenantID] = tree
	}
	return tree
}

// Product implements Provider.
func (m *Memory) Product(_ context.Context, tenantID, id string) (Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[key{tenantID, id}]
	if !ok {
		return Product{}, shared.NotFoundf("product %s", id)
	}
	return p, nil
}

// Counterparty implements Provider.
func (m *Memory) Counterparty(_ context.Context, tenantID, id string) (Counterparty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.counterparties[key{tenantID, id}]
	if !ok {
		return Counterparty{}, shared.NotFoundf("counterparty %s", id)
	}
	return c, nil
}

// Warehouse implements Provider.
func (m *Memory) Warehouse(_ context.Context, tenantID, id string) (Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.warehouses[key{tenantID, id}]
	if !ok {
		return Warehouse{}, shared.NotFoundf("warehouse %s", id)
	}
	return w, nil
}

// Tax implements Provider.
func (m *Memory) Tax(_ context.Context, tenantID, id string) (Tax, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.taxes[key{tenantID, id}]
	if !ok {
		return Tax{}, shared.NotFoundf("tax %s", id)
	}
	return t, nil
}
