package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv_records (
	tenant_id  TEXT        NOT NULL,
	bucket     TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	value      JSONB       NOT NULL,
	version    BIGINT      NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (tenant_id, bucket, id)
);
ALTER TABLE kv_records ENABLE ROW LEVEL SECURITY;
ALTER TABLE kv_records FORCE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS kv_records_tenant ON kv_records;
CREATE POLICY kv_records_tenant ON kv_records
	USING (tenant_id = current_setting('app.tenant_id', true))
	WITH CHECK (tenant_id = current_setting('app.tenant_id', true));
`

// Postgres is a Store backed by a single kv_records table. Every statement
// filters on tenant_id and the row-level security policy enforces the same
// predicate through the app.tenant_id setting bound per transaction.
type Postgres struct {
	pool *pgxpool.Pool
	opts Options
}

// NewPostgres constructs the Postgres store.
func NewPostgres(pool *pgxpool.Pool, opts Options) *Postgres {
	return &Postgres{pool: pool, opts: opts.withDefaults()}
}

// Migrate creates the table and its tenant policy.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Update runs fn in a serializable transaction, retrying serialization failures.
func (p *Postgres) Update(ctx context.Context, tenantID string, fn func(Tx) error) error {
	return p.run(ctx, tenantID, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

// View runs fn in a read-only repeatable-read transaction.
func (p *Postgres) View(ctx context.Context, tenantID string, fn func(Tx) error) error {
	return p.run(ctx, tenantID, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (p *Postgres) run(ctx context.Context, tenantID string, opts pgx.TxOptions, fn func(Tx) error) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	return retry(ctx, p.opts, func() error {
		err := db.WithTenantTx(ctx, p.pool, tenantID, opts, func(tx pgx.Tx) error {
			return fn(&pgTx{tx: tx, tenantID: tenantID, readOnly: opts.AccessMode == pgx.ReadOnly})
		})
		if db.IsSerializationFailure(err) {
			return errRetry
		}
		return err
	})
}

type pgTx struct {
	tx       pgx.Tx
	tenantID string
	readOnly bool
}

func (t *pgTx) Get(ctx context.Context, bucket, id string) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRow(ctx, `SELECT value FROM kv_records WHERE tenant_id=$1 AND bucket=$2 AND id=$3`,
		t.tenantID, bucket, id).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

func (t *pgTx) Put(ctx context.Context, bucket, id string, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO kv_records (tenant_id, bucket, id, value) VALUES ($1, $2, $3, $4::jsonb)
ON CONFLICT (tenant_id, bucket, id) DO UPDATE SET value = EXCLUDED.value, version = kv_records.version + 1, updated_at = NOW()`,
		t.tenantID, bucket, id, string(value))
	return err
}

func (t *pgTx) Insert(ctx context.Context, bucket, id string, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	tag, err := t.tx.Exec(ctx, `INSERT INTO kv_records (tenant_id, bucket, id, value) VALUES ($1, $2, $3, $4::jsonb)
ON CONFLICT (tenant_id, bucket, id) DO NOTHING`, t.tenantID, bucket, id, string(value))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrExists
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExists
	}
	return nil
}

func (t *pgTx) Delete(ctx context.Context, bucket, id string) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM kv_records WHERE tenant_id=$1 AND bucket=$2 AND id=$3`, t.tenantID, bucket, id)
	return err
}

func (t *pgTx) Scan(ctx context.Context, bucket, prefix string, fn func(id string, value []byte) error) error {
	rows, err := t.tx.Query(ctx, `SELECT id, value FROM kv_records
WHERE tenant_id=$1 AND bucket=$2 AND starts_with(id, $3) ORDER BY id COLLATE "C"`, t.tenantID, bucket, prefix)
	if err != nil {
		return err
	}
	type row struct {
		id    string
		value []byte
	}
	var collected []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.value); err != nil {
			rows.Close()
			return err
		}
		collected = append(collected, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	// fn may issue further statements on the same connection, so rows are drained first.
	for _, r := range collected {
		if err := fn(r.id, r.value); err != nil {
			return err
		}
	}
	return nil
}
