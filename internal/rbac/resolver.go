package rbac

import (
	"strings"

	"github.com/valinor-ai/gatehouse/internal/access"
)

// TenantRef identifies the tenant a check is evaluated against.
type TenantRef struct {
	ID        string
	PartnerID string
}

// Option binds additional context to a resolution.
type Option func(*RoleFacts)

// InTenant evaluates tenant requirements against a specific tenant.
// Without it, tenant requirements are answered from the actor's own
// memberships and the tenant boundary is left to the scope enforcer.
func InTenant(t TenantRef) Option {
	return func(f *RoleFacts) {
		f.tenant = &t
	}
}

// RoleFacts answers role queries for one actor. It is a pure value over
// already-loaded memberships.
type RoleFacts struct {
	actor  access.Actor
	tenant *TenantRef
}

// Resolve computes the role facts for actor.
func Resolve(actor access.Actor, opts ...Option) RoleFacts {
	f := RoleFacts{actor: actor}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// Actor returns the actor the facts were resolved for.
func (f RoleFacts) Actor() access.Actor { return f.actor }

// Roles lists the actor's derived roles, highest tier first.
func (f RoleFacts) Roles() []access.Role { return f.actor.Roles() }

func (f RoleFacts) IsSuperAdmin() bool {
	return f.Check(SuperAdmin()).Allowed
}

func (f RoleFacts) HasPartnerRoleAtLeast(level access.PartnerRole) bool {
	return f.Check(PartnerRoleAtLeast(level)).Allowed
}

func (f RoleFacts) HasTenantRoleAtLeast(level access.TenantRole) bool {
	return f.Check(TenantRoleAtLeast(level)).Allowed
}

func (f RoleFacts) HasPermission(code string) bool {
	return f.Check(Permission(code)).Allowed
}

// Require returns a Forbidden error when req is not satisfied.
func (f RoleFacts) Require(req Requirement) error {
	return f.Check(req).Err()
}

// Check evaluates req against the rule list. The first rule that grants
// wins; when none does the requirement is denied.
func (f RoleFacts) Check(req Requirement) Decision {
	for _, r := range rules {
		if r.grants(f, req) {
			return Decision{Allowed: true, Rule: r.name}
		}
	}
	return Decision{Allowed: false, Reason: req.String() + " required"}
}

type rule struct {
	name   string
	grants func(f RoleFacts, req Requirement) bool
}

const (
	RuleSuperAdmin        = "super_admin"
	RulePartnerMembership = "partner_membership"
	RulePartnerOverTenant = "partner_over_tenant"
	RuleTenantMembership  = "tenant_membership"
)

// rules is the single precedence order used by every gate.
var rules = []rule{
	{name: RuleSuperAdmin, grants: func(f RoleFacts, _ Requirement) bool {
		return f.actor.IsSuperAdmin
	}},
	{name: RulePartnerMembership, grants: func(f RoleFacts, req Requirement) bool {
		return req.kind == requirePartnerRole && f.actor.Partner != nil &&
			f.actor.Partner.Role.AtLeast(req.partner)
	}},
	{name: RulePartnerOverTenant, grants: func(f RoleFacts, req Requirement) bool {
		if req.kind != requireTenantRole && req.kind != requirePermission {
			return false
		}
		pm := f.actor.Partner
		if pm == nil || !pm.Role.AtLeast(access.PartnerRoleManager) {
			return false
		}
		if req.kind == requireTenantRole && !req.tenant.Valid() {
			return false
		}
		if f.tenant != nil {
			return f.tenant.PartnerID != "" && f.tenant.PartnerID == pm.PartnerID
		}
		// Unbound requests fall back to the actor's own tenant, which the
		// scope gate selects; it must belong to the same partner.
		if tm := f.actor.Tenant; tm != nil {
			return tm.PartnerID != "" && tm.PartnerID == pm.PartnerID
		}
		return true
	}},
	{name: RuleTenantMembership, grants: func(f RoleFacts, req Requirement) bool {
		tm := f.actor.Tenant
		if tm == nil {
			return false
		}
		if f.tenant != nil && f.tenant.ID != tm.TenantID {
			return false
		}
		switch req.kind {
		case requireTenantRole:
			return tm.Role.AtLeast(req.tenant)
		case requirePermission:
			return tm.Role == access.TenantRoleAdmin || matchPermission(tm.Permissions, req.permission)
		default:
			return false
		}
	}},
}

// matchPermission reports whether any held permission satisfies want.
// "*" satisfies everything; "res:admin" and "res:*" satisfy any "res:..." code.
func matchPermission(held []string, want string) bool {
	if want == "" {
		return false
	}
	resource, _, _ := strings.Cut(want, ":")
	for _, p := range held {
		switch {
		case p == "*", p == want:
			return true
		case p == resource+":admin", p == resource+":*":
			return true
		}
	}
	return false
}
