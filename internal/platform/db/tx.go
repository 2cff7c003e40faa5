package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TenantSetting is the session variable row-level security policies compare against.
const TenantSetting = "app.tenant_id"

// WithTx runs fn inside a repeatable-read transaction.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return WithTxOptions(ctx, pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, fn)
}

// WithTxOptions runs fn inside a transaction opened with opts. The transaction
// is rolled back whenever fn or the commit fails.
func WithTxOptions(ctx context.Context, pool *pgxpool.Pool, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}
	return nil
}

// WithTenantTx is WithTxOptions with TenantSetting bound to tenantID for the
// lifetime of the transaction.
func WithTenantTx(ctx context.Context, pool *pgxpool.Pool, tenantID string, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	if tenantID == "" {
		return errors.New("platform/db: tenant id required")
	}
	return WithTxOptions(ctx, pool, opts, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT set_config($1, $2, true)`, TenantSetting, tenantID); err != nil {
			return fmt.Errorf("platform/db: bind tenant: %w", err)
		}
		return fn(tx)
	})
}

// IsSerializationFailure reports serialization and deadlock aborts, both of
// which are safe to retry from the start of the transaction.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// IsUniqueViolation reports a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
