package catalog

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/backoffice/internal/tenant"
)

// Seed is the YAML document used to bootstrap tenants and their catalog.
type Seed struct {
	Tenants []tenant.Tenant `yaml:"tenants"`
	Entries []SeedTenant    `yaml:"catalog"`
}

// SeedTenant groups the catalog of one tenant.
type SeedTenant struct {
	TenantID       string             `yaml:"tenant_id"`
	Categories     []SeedCategory     `yaml:"categories"`
	Taxes          []SeedTax          `yaml:"taxes"`
	Warehouses     []Warehouse        `yaml:"warehouses"`
	Products       []SeedProduct      `yaml:"products"`
	Counterparties []SeedCounterparty `yaml:"counterparties"`
}

// SeedCategory is a category node in the seed file.
type SeedCategory struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Parent string `yaml:"parent"`
}

// SeedTax is a tax row in the seed file.
type SeedTax struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Rate string `yaml:"rate"`
}

// SeedUnit is an alternative unit in the seed file.
type SeedUnit struct {
	UoM    string `yaml:"uom"`
	Factor string `yaml:"factor"`
}

// SeedProduct is a product row in the seed file.
type SeedProduct struct {
	ID       string     `yaml:"id"`
	Name     string     `yaml:"name"`
	UoM      string     `yaml:"uom"`
	Units    []SeedUnit `yaml:"units"`
	Price    string     `yaml:"price"`
	TaxID    string     `yaml:"tax_id"`
	Category string     `yaml:"category"`
	Inactive bool       `yaml:"inactive"`
}

// SeedCounterparty is a customer or supplier row in the seed file.
type SeedCounterparty struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	Kind        CounterpartyKind `yaml:"kind"`
	CreditLimit string           `yaml:"credit_limit"`
	Inactive    bool             `yaml:"inactive"`
}

// LoadSeed reads a seed file from disk.
func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read seed: %w", err)
	}
	return ParseSeed(raw)
}

// ParseSeed decodes a seed document.
func ParseSeed(raw []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("catalog: parse seed: %w", err)
	}
	return &seed, nil
}

func parseAmount(field, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("catalog: %s %q: %w", field, value, err)
	}
	return d, nil
}

// Apply loads the seed into the catalog and the tenant directory.
func (s *Seed) Apply(m *Memory, dir *tenant.MemoryDirectory) error {
	for _, t := range s.Tenants {
		if dir != nil {
			dir.Register(t)
		}
	}
	for _, entry := range s.Entries {
		tenantID := entry.TenantID
		tree := m.Categories(tenantID)
		for _, c := range entry.Categories {
			if err := tree.Add(c.ID, c.Name, c.Parent); err != nil {
				return fmt.Errorf("catalog: category %s: %w", c.ID, err)
			}
		}
		for _, t := range entry.Taxes {
			rate, err := parseAmount("tax rate", t.Rate)
			if err != nil {
				return err
			}
			m.PutTax(Tax{TenantID: tenantID, ID: t.ID, Name: t.Name, Rate: rate})
		}
		for _, w := range entry.Warehouses {
			w.TenantID = tenantID
			w.Active = true
			m.PutWarehouse(w)
		}
		for _, p := range entry.Products {
			price, err := parseAmount("price", p.Price)
			if err != nil {
				return err
			}
			if p.Category != "" && !tree.Contains(p.Category) {
				return fmt.Errorf("catalog: product %s references unknown category %s", p.ID, p.Category)
			}
			units := make([]Unit, 0, len(p.Units))
			for _, u := range p.Units {
				factor, err := parseAmount("unit factor", u.Factor)
				if err != nil {
					return err
				}
				if !factor.IsPositive() {
					return fmt.Errorf("catalog: product %s unit %s factor must be positive", p.ID, u.UoM)
				}
				units = append(units, Unit{UoM: u.UoM, Factor: factor})
			}
			m.PutProduct(Product{
				TenantID:   tenantID,
				ID:         p.ID,
				Name:       p.Name,
				UoM:        p.UoM,
				Units:      units,
				Price:      price,
				TaxID:      p.TaxID,
				CategoryID: p.Category,
				Active:     !p.Inactive,
			})
		}
		for _, c := range entry.Counterparties {
			limit, err := parseAmount("credit limit", c.CreditLimit)
			if err != nil {
				return err
			}
			m.PutCounterparty(Counterparty{
				TenantID:    tenantID,
				ID:          c.ID,
				Name:        c.Name,
				Kind:        c.Kind,
				CreditLimit: limit,
				Active:      !c.Inactive,
			})
		}
	}
	return nil
}
