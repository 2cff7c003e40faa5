package sequence

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

const seriesBucket = "document_series"

var upper = cases.Upper(language.Und)

// Key identifies one numbering series within a tenant.
type Key struct {
	BranchID string `json:"branch_id" validate:"required"`
	DocType  string `json:"doc_type" validate:"required"`
	Series   string `json:"series"`
}

// Normalize trims the key and upper-cases the document type and series label
// so "inv/a" and "INV/A" address the same counter.
func (k Key) Normalize() Key {
	k.BranchID = strings.TrimSpace(k.BranchID)
	k.DocType = upper.String(strings.TrimSpace(k.DocType))
	k.Series = upper.String(strings.TrimSpace(k.Series))
	if k.Series == "" {
		k.Series = "DEFAULT"
	}
	return k
}

// Validate rejects incomplete keys.
func (k Key) Validate() error {
	if k.BranchID == "" || k.DocType == "" {
		return shared.Validationf("sequence: branch and document type required")
	}
	for _, part := range []string{k.BranchID, k.DocType, k.Series} {
		if strings.Contains(part, "/") {
			return shared.Validationf("sequence: key parts may not contain '/'")
		}
	}
	return nil
}

// ID is the storage id of the series.
func (k Key) ID() string {
	return k.BranchID + "/" + k.DocType + "/" + k.Series
}

// Series is the persisted counter. NextNumber only ever grows.
type Series struct {
	TenantID   string    `json:"tenant_id"`
	ID         string    `json:"id"`
	BranchID   string    `json:"branch_id"`
	DocType    string    `json:"doc_type"`
	Series     string    `json:"series"`
	NextNumber int64     `json:"next_number"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Owner implements tenant.Owned.
func (s Series) Owner() string { return s.TenantID }

// Allocation is a number handed out from a series.
type Allocation struct {
	SeriesID string `json:"series_id"`
	Number   int64  `json:"number"`
}
