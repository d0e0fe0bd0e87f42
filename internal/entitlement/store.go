package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/platform/database"
)

// Store reads features, subscriptions and plan entitlements from Postgres.
type Store struct {
	db database.Querier
}

// NewStore creates an entitlement store.
func NewStore(db database.Querier) *Store {
	return &Store{db: db}
}

var _ FeatureCatalog = (*Store)(nil)

// Feature returns the global record for code.
func (s *Store) Feature(ctx context.Context, code string) (access.Feature, error) {
	var f access.Feature
	err := s.db.QueryRow(ctx,
		`SELECT code, name, is_enabled FROM features WHERE code = $1`,
		code,
	).Scan(&f.Code, &f.Name, &f.IsEnabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return access.Feature{}, ErrFeatureNotFound
		}
		return access.Feature{}, fmt.Errorf("getting feature: %w", err)
	}
	return f, nil
}

// CurrentSubscription returns the tenant's live subscription, or its most
// recent one when none is live so callers can report why access is denied.
func (s *Store) CurrentSubscription(ctx context.Context, tenantID string) (access.Subscription, error) {
	var (
		sub    access.Subscription
		status string
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, plan_id, status, current_period_start, current_period_end
		 FROM subscriptions
		 WHERE tenant_id = $1
		 ORDER BY (status IN ('trial', 'active')) DESC, current_period_end DESC
		 LIMIT 1`,
		tenantID,
	).Scan(&sub.ID, &sub.TenantID, &sub.PlanID, &status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return access.Subscription{}, ErrNoSubscription
		}
		return access.Subscription{}, fmt.Errorf("getting subscription: %w", err)
	}
	sub.Status, err = access.ParseSubscriptionStatus(status)
	if err != nil {
		return access.Subscription{}, fmt.Errorf("subscription %s: %w", sub.ID, err)
	}
	return sub, nil
}

// PlanFeatures returns the plan's feature entitlements, enabled or not.
func (s *Store) PlanFeatures(ctx context.Context, planID string) ([]access.PlanFeature, error) {
	rows, err := s.db.Query(ctx,
		`SELECT feature_code, enabled, limits
		 FROM plan_features WHERE plan_id = $1
		 ORDER BY feature_code`,
		planID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing plan features: %w", err)
	}
	defer rows.Close()

	var out []access.PlanFeature
	for rows.Next() {
		var (
			pf  access.PlanFeature
			raw []byte
		)
		if err := rows.Scan(&pf.Code, &pf.Enabled, &raw); err != nil {
			return nil, fmt.Errorf("scanning plan feature: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &pf.Limits); err != nil {
				return nil, fmt.Errorf("plan feature %s: %w", pf.Code, err)
			}
		}
		out = append(out, pf)
	}
	return out, rows.Err()
}
