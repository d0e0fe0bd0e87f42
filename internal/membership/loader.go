// Package membership resolves the authenticated user's actor, subscription
// and plan features once per request.
package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/entitlement"
	"github.com/valinor-ai/gatehouse/internal/platform/database"
)

// ErrUnknownUser is returned when a valid token names no stored user.
var ErrUnknownUser = fmt.Errorf("unknown user: %w", access.ErrUnauthorized)

// Loader reads membership and subscription state from Postgres.
type Loader struct {
	db   database.Querier
	subs *entitlement.Store
}

func NewLoader(db database.Querier) *Loader {
	return &Loader{db: db, subs: entitlement.NewStore(db)}
}

// LoadActor builds the actor for userID from its active memberships. When a
// user holds several, the owner membership wins.
func (l *Loader) LoadActor(ctx context.Context, userID string) (access.Actor, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return access.Actor{}, ErrUnknownUser
	}

	var superAdmin bool
	err := l.db.QueryRow(ctx, `SELECT is_super_admin FROM users WHERE id = $1`, userID).Scan(&superAdmin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return access.Actor{}, ErrUnknownUser
		}
		return access.Actor{}, fmt.Errorf("loading user: %w", err)
	}

	tenants, err := l.tenantMemberships(ctx, userID)
	if err != nil {
		return access.Actor{}, err
	}
	partners, err := l.partnerMemberships(ctx, userID)
	if err != nil {
		return access.Actor{}, err
	}

	return access.NewActor(userID, superAdmin,
		access.PickTenantMembership(tenants),
		access.PickPartnerMembership(partners),
	), nil
}

func (l *Loader) tenantMemberships(ctx context.Context, userID string) ([]access.TenantMembership, error) {
	rows, err := l.db.Query(ctx,
		`SELECT tu.tenant_id, COALESCE(t.partner_id::text, ''), tu.role, tu.permissions, tu.is_owner
		 FROM tenant_users tu
		 JOIN tenants t ON t.id = tu.tenant_id
		 WHERE tu.user_id = $1 AND tu.is_active
		 ORDER BY tu.is_owner DESC, tu.created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tenant memberships: %w", err)
	}
	defer rows.Close()

	var out []access.TenantMembership
	for rows.Next() {
		var (
			m    access.TenantMembership
			role string
		)
		if err := rows.Scan(&m.TenantID, &m.PartnerID, &role, &m.Permissions, &m.IsOwner); err != nil {
			return nil, fmt.Errorf("scanning tenant membership: %w", err)
		}
		if m.Role, err = access.ParseTenantRole(role); err != nil {
			return nil, fmt.Errorf("tenant membership %s: %w", m.TenantID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (l *Loader) partnerMemberships(ctx context.Context, userID string) ([]access.PartnerMembership, error) {
	rows, err := l.db.Query(ctx,
		`SELECT partner_id, role, is_owner
		 FROM partner_users
		 WHERE user_id = $1 AND is_active
		 ORDER BY is_owner DESC, created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing partner memberships: %w", err)
	}
	defer rows.Close()

	var out []access.PartnerMembership
	for rows.Next() {
		var (
			m    access.PartnerMembership
			role string
		)
		if err := rows.Scan(&m.PartnerID, &role, &m.IsOwner); err != nil {
			return nil, fmt.Errorf("scanning partner membership: %w", err)
		}
		if m.Role, err = access.ParsePartnerRole(role); err != nil {
			return nil, fmt.Errorf("partner membership %s: %w", m.PartnerID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LoadSubscription returns the tenant's current subscription with its plan
// features. A tenant without any subscription yields nil and no error.
func (l *Loader) LoadSubscription(ctx context.Context, tenantID string) (*access.Subscription, []access.PlanFeature, error) {
	sub, err := l.subs.CurrentSubscription(ctx, tenantID)
	if err != nil {
		if errors.Is(err, entitlement.ErrNoSubscription) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	features, err := l.subs.PlanFeatures(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, err
	}
	return &sub, features, nil
}
