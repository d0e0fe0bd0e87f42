// Package scope decides which tenant or partner boundary a request may act
// within and produces the filter downstream queries must apply.
package scope

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/audit"
)

// TenantHeader and TenantQueryParam switch the effective tenant for super admins.
const (
	TenantHeader     = "X-Tenant-Id"
	TenantQueryParam = "tenant_id"
)

// TenantRecord is the minimal tenant shape the enforcer needs.
type TenantRecord struct {
	ID        string `json:"id"`
	PartnerID string `json:"partner_id,omitempty"`
	Name      string `json:"name"`
}

// PartnerRecord is the minimal partner shape the enforcer needs.
type PartnerRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Directory looks up tenants and partners. Lookups of absent records return
// an error matching access.ErrNotFound.
type Directory interface {
	LookupTenant(ctx context.Context, id string) (TenantRecord, error)
	LookupPartner(ctx context.Context, id string) (PartnerRecord, error)
}

var errTenantNotFound = access.NotFound("tenant not found")

// SubscriptionSource loads the subscription a switched tenant context runs
// against. A tenant without one returns a nil subscription and no error.
type SubscriptionSource interface {
	LoadSubscription(ctx context.Context, tenantID string) (*access.Subscription, []access.PlanFeature, error)
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithSubscriptions makes an honored tenant switch also resolve the target
// tenant's subscription, so entitlement and usage gates act on that tenant.
func WithSubscriptions(src SubscriptionSource) Option {
	return func(e *Enforcer) { e.subs = src }
}

// Enforcer validates targets against the actor's memberships.
type Enforcer struct {
	dir   Directory
	audit audit.Recorder
	subs  SubscriptionSource
}

func NewEnforcer(dir Directory, rec audit.Recorder, opts ...Option) *Enforcer {
	if rec == nil {
		rec = audit.NopLogger{}
	}
	e := &Enforcer{dir: dir, audit: rec}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnforceTenantScope returns the tenant boundary for rc. Super admins get an
// unrestricted scope unless they switched tenant context for this request.
func EnforceTenantScope(rc access.RequestContext) (access.Scope, error) {
	actor := rc.Actor()
	if actor.IsSuperAdmin {
		if rc.Scope().IsOverride() {
			return rc.Scope(), nil
		}
		return access.Unrestricted(), nil
	}
	if id, ok := actor.TenantID(); ok {
		return access.RestrictedToTenant(id)
	}
	return access.Scope{}, access.Forbidden("tenant membership required")
}

// EnforcePartnerScope returns the partner boundary for rc.
func EnforcePartnerScope(rc access.RequestContext) (access.Scope, error) {
	actor := rc.Actor()
	if actor.IsSuperAdmin {
		if rc.Scope().IsOverride() {
			return rc.Scope(), nil
		}
		return access.Unrestricted(), nil
	}
	if id, ok := actor.PartnerID(); ok {
		return access.RestrictedToPartner(id)
	}
	return access.Scope{}, access.Forbidden("partner membership required")
}

// ValidateTenantOwnership resolves target if the actor may act on it.
// Partner actors get NotFound for tenants outside their partner so that
// other partners' tenant ids are not disclosed.
func (e *Enforcer) ValidateTenantOwnership(ctx context.Context, r *http.Request, rc access.RequestContext, targetID string) (TenantRecord, error) {
	actor := rc.Actor()

	if actor.IsSuperAdmin {
		t, err := e.lookupTenant(ctx, targetID)
		if err != nil {
			return TenantRecord{}, err
		}
		own, _ := actor.TenantID()
		if own != t.ID {
			e.recordCrossTenant(ctx, r, actor, "tenant", t.ID)
		}
		return t, nil
	}

	if own, ok := actor.TenantID(); ok && own == targetID {
		return e.lookupTenant(ctx, targetID)
	}

	if pid, ok := actor.PartnerID(); ok {
		t, err := e.lookupTenant(ctx, targetID)
		if err != nil {
			return TenantRecord{}, err
		}
		if t.PartnerID == "" || t.PartnerID != pid {
			return TenantRecord{}, errTenantNotFound
		}
		return t, nil
	}

	if _, ok := actor.TenantID(); ok {
		return TenantRecord{}, access.Forbidden("access to this tenant is not permitted")
	}
	return TenantRecord{}, access.Forbidden("tenant membership required")
}

// ValidatePartnerAccess resolves target if the actor may act on it.
func (e *Enforcer) ValidatePartnerAccess(ctx context.Context, r *http.Request, rc access.RequestContext, targetID string) (PartnerRecord, error) {
	actor := rc.Actor()

	if actor.IsSuperAdmin {
		p, err := e.lookupPartner(ctx, targetID)
		if err != nil {
			return PartnerRecord{}, err
		}
		if own, _ := actor.PartnerID(); own != p.ID {
			e.recordCrossTenant(ctx, r, actor, "partner", p.ID)
		}
		return p, nil
	}

	pid, ok := actor.PartnerID()
	if !ok {
		return PartnerRecord{}, access.Forbidden("partner membership required")
	}
	if pid != targetID {
		return PartnerRecord{}, access.Forbidden("access to this partner is not permitted")
	}
	return e.lookupPartner(ctx, targetID)
}

// SetTenantContext applies an X-Tenant-Id header or tenant_id query switch.
// It is honored only for super admins; for everyone else the request is
// returned unchanged. An honored switch is audited and, with a subscription
// source configured, resolved against the target tenant's subscription.
func (e *Enforcer) SetTenantContext(ctx context.Context, r *http.Request, rc access.RequestContext) (access.RequestContext, error) {
	target := requestedTenant(r)
	if target == "" || !rc.IsSuperAdmin() {
		return rc, nil
	}

	t, err := e.lookupTenant(ctx, target)
	if err != nil {
		return rc, err
	}
	s, err := access.OverrideTenant(t.ID)
	if err != nil {
		return rc, err
	}

	evt := audit.NewEvent(r, rc.Actor(), audit.ActionScopeOverride)
	evt.TenantID = t.ID
	evt.PartnerID = t.PartnerID
	evt.ResourceType = "tenant"
	evt.ResourceID = t.ID
	e.audit.Record(ctx, evt)

	rc = rc.WithScope(s)
	if e.subs != nil {
		sub, features, err := e.subs.LoadSubscription(ctx, t.ID)
		if err != nil {
			return rc, fmt.Errorf("loading subscription for tenant %s: %w", t.ID, err)
		}
		rc = rc.WithSubscription(sub, features)
	}
	return rc, nil
}

func requestedTenant(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(TenantHeader)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get(TenantQueryParam))
}

func (e *Enforcer) lookupTenant(ctx context.Context, id string) (TenantRecord, error) {
	if id == "" {
		return TenantRecord{}, errTenantNotFound
	}
	t, err := e.dir.LookupTenant(ctx, id)
	if errors.Is(err, access.ErrNotFound) {
		return TenantRecord{}, errTenantNotFound
	}
	return t, err
}

func (e *Enforcer) lookupPartner(ctx context.Context, id string) (PartnerRecord, error) {
	if id == "" {
		return PartnerRecord{}, access.NotFound("partner not found")
	}
	p, err := e.dir.LookupPartner(ctx, id)
	if errors.Is(err, access.ErrNotFound) {
		return PartnerRecord{}, access.NotFound("partner not found")
	}
	return p, err
}

func (e *Enforcer) recordCrossTenant(ctx context.Context, r *http.Request, actor access.Actor, resourceType, id string) {
	evt := audit.NewEvent(r, actor, audit.ActionScopeCrossTenant)
	evt.ResourceType = resourceType
	evt.ResourceID = id
	if resourceType == "tenant" {
		evt.TenantID = id
	} else {
		evt.PartnerID = id
	}
	e.audit.Record(ctx, evt)
}
