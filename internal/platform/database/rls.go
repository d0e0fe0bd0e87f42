package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier abstracts pgx query methods so stores work with pools,
// connections and transactions alike.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TenantSetting is the session variable row-level security policies read.
const TenantSetting = "app.current_tenant_id"

var errNoTenant = errors.New("tenant id is required for a tenant connection")

// WithTenantConnection runs fn in a transaction whose RLS tenant is
// tenantID. The setting is transaction-local, so it is gone once the
// connection returns to the pool whether fn succeeds or not.
func WithTenantConnection(ctx context.Context, pool *pgxpool.Pool, tenantID string, fn func(ctx context.Context, q Querier) error) error {
	if tenantID == "" {
		return errNoTenant
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT set_config($1, $2, true)", TenantSetting, tenantID); err != nil {
			return fmt.Errorf("setting tenant context: %w", err)
		}
		return fn(ctx, tx)
	})
}
