package tenant

import (
	"context"
	"sort"
	"sync"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Status enumerates tenant lifecycle states.
type Status string

const (
	// StatusActive tenants may operate.
	StatusActive Status = "ACTIVE"
	// StatusSuspended tenants are refused every operation.
	StatusSuspended Status = "SUSPENDED"
)

// Tenant is the root of isolation.
type Tenant struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Status Status `json:"status" yaml:"status"`
}

// Directory resolves tenants by id.
type Directory interface {
	Tenant(ctx context.Context, id string) (Tenant, error)
}

// MemoryDirectory is a Directory populated at startup.
type MemoryDirectory struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

// NewMemoryDirectory builds a directory from the given tenants.
func NewMemoryDirectory(tenants ...Tenant) *MemoryDirectory {
	d := &MemoryDirectory{tenants: make(map[string]Tenant, len(tenants))}
	for _, t := range tenants {
		d.Register(t)
	}
	return d
}

// Register adds or replaces a tenant.
func (d *MemoryDirectory) Register(t Tenant) {
	if t.Status == "" {
		t.Status = StatusActive
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[t.ID] = t
}

// Tenant implements Directory.
func (d *MemoryDirectory) Tenant(_ context.Context, id string) (Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tenants[id]
	if !ok {
		return Tenant{}, shared.NotFoundf("tenant %s", id)
	}
	return t, nil
}

// ActiveIDs lists active tenant ids in sorted order.
func (d *MemoryDirectory) ActiveIDs(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.tenants))
	for id, t := range d.tenants {
		if t.Status == StatusActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
