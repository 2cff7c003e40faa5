package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

const auditSchemaSQL = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id          BIGSERIAL   PRIMARY KEY,
	tenant_id   TEXT        NOT NULL,
	actor_id    TEXT        NOT NULL,
	action      TEXT        NOT NULL,
	entity      TEXT        NOT NULL,
	entity_id   TEXT        NOT NULL,
	meta        JSONB       NOT NULL DEFAULT '{}'::jsonb,
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS audit_logs_tenant_at ON audit_logs (tenant_id, occurred_at DESC);
`

// Writer persists entries into audit_logs. It runs inside the worker.
type Writer struct {
	pool *pgxpool.Pool
}

// NewWriter returns a new Writer.
func NewWriter(pool *pgxpool.Pool) *Writer {
	return &Writer{pool: pool}
}

// Migrate creates the audit table.
func (w *Writer) Migrate(ctx context.Context) error {
	_, err := w.pool.Exec(ctx, auditSchemaSQL)
	return err
}

// Write persists the entry.
func (w *Writer) Write(ctx context.Context, entry shared.AuditLog) error {
	if w == nil || w.pool == nil {
		return errors.New("audit writer not initialised")
	}
	if entry.TenantID == "" || entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return errors.New("audit log requires tenant/action/entity/entity_id")
	}
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = w.pool.Exec(ctx, `INSERT INTO audit_logs (tenant_id, actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, entry.TenantID, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, metaJSON, at)
	return err
}

// PagingInfo describes the page returned by Timeline.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	NextPage int  `json:"next_page,omitempty"`
	PrevPage int  `json:"prev_page,omitempty"`
}

// TimelineFilters narrows a timeline query.
type TimelineFilters struct {
	Entity   string
	EntityID string
	Page     int
	PageSize int
}

// Timeline lists a tenant's entries, newest first.
func (w *Writer) Timeline(ctx context.Context, tenantID string, filters TimelineFilters) ([]shared.AuditLog, PagingInfo, error) {
	if w == nil || w.pool == nil {
		return nil, PagingInfo{}, errors.New("audit writer not initialised")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	rows, err := w.pool.Query(ctx, `SELECT tenant_id, actor_id, action, entity, entity_id, meta, occurred_at
FROM audit_logs
WHERE tenant_id = $1 AND ($2 = '' OR entity = $2) AND ($3 = '' OR entity_id = $3)
ORDER BY occurred_at DESC, id DESC
OFFSET $4 LIMIT $5`, tenantID, filters.Entity, filters.EntityID, (page-1)*pageSize, pageSize+1)
	if err != nil {
		return nil, PagingInfo{}, fmt.Errorf("audit: timeline: %w", err)
	}
	defer rows.Close()
	var out []shared.AuditLog
	for rows.Next() {
		var e shared.AuditLog
		var meta []byte
		if err := rows.Scan(&e.TenantID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &meta, &e.At); err != nil {
			return nil, PagingInfo{}, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Meta)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, PagingInfo{}, err
	}
	paging := PagingInfo{Page: page, PageSize: pageSize}
	if len(out) > pageSize {
		out = out[:pageSize]
		paging.HasNext = true
		paging.NextPage = page + 1
	}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	return out, paging, nil
}
