package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/valinor-ai/gatehouse/internal/platform/database"
)

// PostgresStore keeps counters in the usage_counters table.
type PostgresStore struct {
	db database.Querier
}

func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Current(ctx context.Context, key CounterKey) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		`SELECT usage_count FROM usage_counters
		 WHERE subscription_id = $1 AND feature_code = $2 AND period_start = $3`,
		key.SubscriptionID, key.FeatureCode, key.Period.Start,
	).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading usage counter: %w", err)
	}
	return n, nil
}

// Increment is a single upsert so concurrent callers never lose an update.
func (s *PostgresStore) Increment(ctx context.Context, key CounterKey, amount int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO usage_counters (subscription_id, feature_code, period_start, period_end, usage_count)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (subscription_id, feature_code, period_start)
		 DO UPDATE SET usage_count = usage_counters.usage_count + EXCLUDED.usage_count, updated_at = now()
		 RETURNING usage_count`,
		key.SubscriptionID, key.FeatureCode, key.Period.Start, key.Period.End, amount,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("incrementing usage counter: %w", err)
	}
	return n, nil
}

// TryIncrement is the conditional form of Increment: no row is written when
// the result would exceed limit.
func (s *PostgresStore) TryIncrement(ctx context.Context, key CounterKey, amount, limit int64) (int64, bool, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO usage_counters (subscription_id, feature_code, period_start, period_end, usage_count)
		 SELECT $1::uuid, $2::text, $3::timestamptz, $4::timestamptz, $5::bigint
		 WHERE $5::bigint <= $6::bigint
		 ON CONFLICT (subscription_id, feature_code, period_start)
		 DO UPDATE SET usage_count = usage_counters.usage_count + EXCLUDED.usage_count, updated_at = now()
		 WHERE usage_counters.usage_count + EXCLUDED.usage_count <= $6::bigint
		 RETURNING usage_count`,
		key.SubscriptionID, key.FeatureCode, key.Period.Start, key.Period.End, amount, limit,
	).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			cur, curErr := s.Current(ctx, key)
			return cur, false, curErr
		}
		return 0, false, fmt.Errorf("conditionally incrementing usage counter: %w", err)
	}
	return n, true, nil
}
