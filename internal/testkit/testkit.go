// Package testkit assembles an in-memory environment for package tests.
package testkit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/audit"
	"github.com/odyssey-erp/backoffice/internal/catalog"
	"github.com/odyssey-erp/backoffice/internal/platform/lock"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/store"
	"github.com/odyssey-erp/backoffice/internal/tenant"
)

// Tenants used by the default seed.
const (
	TenantA = "acme"
	TenantB = "globex"
)

// Env is a seeded in-memory environment.
type Env struct {
	Store   *store.Memory
	Guard   *tenant.Guard
	Dir     *tenant.MemoryDirectory
	Catalog *catalog.Memory
	Locker  *lock.Local
	Audit   *audit.Memory
	Logger  *slog.Logger

	mu         sync.Mutex
	violations []string
}

// New builds an Env with two active tenants sharing identical catalog ids.
func New(t testing.TB) *Env {
	t.Helper()
	env := &Env{
		Store:   store.NewMemory(store.Options{}),
		Dir:     tenant.NewMemoryDirectory(tenant.Tenant{ID: TenantA, Name: "Acme"}, tenant.Tenant{ID: TenantB, Name: "Globex"}),
		Catalog: catalog.NewMemory(),
		Locker:  lock.NewLocal(5 * time.Second),
		Audit:   audit.NewMemory(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	env.Guard = tenant.NewGuard(env.Store, env.Dir, env.Logger, env.alert)
	for _, id := range []string{TenantA, TenantB} {
		seedCatalog(env.Catalog, id)
	}
	return env
}

func (e *Env) alert(tenantID, bucket string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.violations = append(e.violations, tenantID+":"+bucket)
}

// Violations lists isolation alerts raised so far.
func (e *Env) Violations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.violations...)
}

// Ctx returns a context carrying the tenant identity.
func Ctx(tenantID string) context.Context {
	return shared.ContextWithIdentity(context.Background(), shared.Identity{TenantID: tenantID, UserID: "user-" + tenantID})
}

// D parses a decimal literal.
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedCatalog(m *catalog.Memory, tenantID string) {
	m.PutTax(catalog.Tax{TenantID: tenantID, ID: "vat", Name: "VAT", Rate: D("10")})
	m.PutTax(catalog.Tax{TenantID: tenantID, ID: "zero", Name: "Zero", Rate: decimal.Zero})
	m.PutWarehouse(catalog.Warehouse{TenantID: tenantID, ID: "main", BranchID: "b1", Name: "Main", Active: true})
	m.PutWarehouse(catalog.Warehouse{TenantID: tenantID, ID: "back", BranchID: "b1", Name: "Back", Active: true})
	m.PutWarehouse(catalog.Warehouse{TenantID: tenantID, ID: "closed", BranchID: "b1", Name: "Closed"})
	m.PutProduct(catalog.Product{
		TenantID: tenantID, ID: "widget", Name: "Widget", UoM: "pcs",
		Units: []catalog.Unit{{UoM: "box", Factor: D("12")}},
		Price: D("100"), TaxID: "zero", Active: true,
	})
	m.PutProduct(catalog.Product{TenantID: tenantID, ID: "gadget", Name: "Gadget", UoM: "pcs", Price: D("50"), TaxID: "vat", Active: true})
	m.PutProduct(catalog.Product{TenantID: tenantID, ID: "retired", Name: "Retired", UoM: "pcs", Price: D("1")})
	m.PutCounterparty(catalog.Counterparty{TenantID: tenantID, ID: "cust", Name: "Customer", Kind: catalog.CounterpartyCustomer, Active: true})
	m.PutCounterparty(catalog.Counterparty{TenantID: tenantID, ID: "capped", Name: "Capped", Kind: catalog.CounterpartyCustomer, CreditLimit: D("300"), Active: true})
	m.PutCounterparty(catalog.Counterparty{TenantID: tenantID, ID: "supp", Name: "Supplier", Kind: catalog.CounterpartySupplier, Active: true})
	m.PutCounterparty(catalog.Counterparty{TenantID: tenantID, ID: "gone", Name: "Gone", Kind: catalog.CounterpartyCustomer})
}
