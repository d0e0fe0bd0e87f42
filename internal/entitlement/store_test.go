package entitlement_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/entitlement"
	"github.com/valinor-ai/gatehouse/internal/platform/database/dbtest"
)

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool := dbtest.Pool(t)
	ctx := context.Background()
	store := entitlement.NewStore(pool)

	var tenantID, planID string
	require.NoError(t, pool.QueryRow(ctx,
		"INSERT INTO tenants (name, slug) VALUES ('Acme', 'acme') RETURNING id").Scan(&tenantID))
	require.NoError(t, pool.QueryRow(ctx,
		"INSERT INTO plans (code, name) VALUES ('growth', 'Growth') RETURNING id").Scan(&planID))
	_, err := pool.Exec(ctx, `INSERT INTO features (code, name, is_enabled) VALUES
		('leads', 'Leads', true), ('campaigns', 'Campaigns', false), ('reports', 'Reports', true)`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO plan_features (plan_id, feature_code, enabled, limits) VALUES
		($1, 'leads', true, '{"max_leads": 2, "max_imports": null}'),
		($1, 'campaigns', true, '{"max_campaigns_month": -1}'),
		($1, 'reports', false, '{}')`, planID)
	require.NoError(t, err)

	t.Run("feature", func(t *testing.T) {
		f, err := store.Feature(ctx, "campaigns")
		require.NoError(t, err)
		assert.False(t, f.IsEnabled)

		_, err = store.Feature(ctx, "teleport")
		assert.ErrorIs(t, err, entitlement.ErrFeatureNotFound)
		assert.ErrorIs(t, err, access.ErrNotFound)
	})

	t.Run("plan features", func(t *testing.T) {
		pfs, err := store.PlanFeatures(ctx, planID)
		require.NoError(t, err)
		require.Len(t, pfs, 3)
		assert.Equal(t, "campaigns", pfs[0].Code)
		assert.Equal(t, "leads", pfs[1].Code)

		ceiling, bounded := pfs[1].Limits.Max("max_leads")
		assert.True(t, bounded)
		assert.Equal(t, int64(2), ceiling)
		_, bounded = pfs[1].Limits.Max("max_imports")
		assert.False(t, bounded)
		_, bounded = pfs[0].Limits.Max("max_campaigns_month")
		assert.False(t, bounded)
		assert.False(t, pfs[2].Enabled)
	})

	t.Run("no subscription", func(t *testing.T) {
		_, err := store.CurrentSubscription(ctx, tenantID)
		assert.ErrorIs(t, err, entitlement.ErrNoSubscription)
	})

	t.Run("live subscription preferred over history", func(t *testing.T) {
		_, err := pool.Exec(ctx, `INSERT INTO subscriptions (tenant_id, plan_id, status, current_period_start, current_period_end) VALUES
			($1, $2, 'cancelled', now() - interval '60 days', now() + interval '300 days'),
			($1, $2, 'active', now() - interval '1 day', now() + interval '29 days')`, tenantID, planID)
		require.NoError(t, err)

		sub, err := store.CurrentSubscription(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, access.StatusActive, sub.Status)
		assert.Equal(t, planID, sub.PlanID)
		assert.True(t, sub.Period().Contains(sub.CurrentPeriodStart))
	})
}
