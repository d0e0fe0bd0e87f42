package access

import "slices"

// TenantMembership is an actor's membership in one tenant.
type TenantMembership struct {
	TenantID string
	// PartnerID is the partner owning the tenant, empty for direct tenants.
	PartnerID   string
	Role        TenantRole
	Permissions []string
	IsOwner     bool
}

// PartnerMembership is an actor's membership in one partner organisation.
type PartnerMembership struct {
	PartnerID string
	Role      PartnerRole
	IsOwner   bool
}

// Actor is the authenticated identity for a single request. Build it with
// NewActor; it is never mutated after construction.
type Actor struct {
	UserID       string
	IsSuperAdmin bool
	Tenant       *TenantMembership
	Partner      *PartnerMembership
}

// NewActor copies the given memberships so later changes by the caller do
// not leak into the actor.
func NewActor(userID string, superAdmin bool, tm *TenantMembership, pm *PartnerMembership) Actor {
	a := Actor{UserID: userID, IsSuperAdmin: superAdmin}
	if tm != nil {
		cp := *tm
		cp.Permissions = slices.Clone(tm.Permissions)
		a.Tenant = &cp
	}
	if pm != nil {
		cp := *pm
		a.Partner = &cp
	}
	return a
}

// TenantID returns the actor's own tenant, if any.
func (a Actor) TenantID() (string, bool) {
	if a.Tenant == nil || a.Tenant.TenantID == "" {
		return "", false
	}
	return a.Tenant.TenantID, true
}

// PartnerID returns the actor's own partner, if any.
func (a Actor) PartnerID() (string, bool) {
	if a.Partner == nil || a.Partner.PartnerID == "" {
		return "", false
	}
	return a.Partner.PartnerID, true
}

// Roles lists the actor's effective role facts, highest tier first.
func (a Actor) Roles() []Role {
	var roles []Role
	if a.IsSuperAdmin {
		roles = append(roles, SuperAdmin())
	}
	if a.Partner != nil && a.Partner.Role.Valid() {
		roles = append(roles, PartnerRoleOf(a.Partner.Role))
	}
	if a.Tenant != nil && a.Tenant.Role.Valid() {
		roles = append(roles, TenantRoleOf(a.Tenant.Role))
	}
	return roles
}

// PickTenantMembership selects the single active membership for a request.
// Owner memberships win; otherwise the first row is used.
func PickTenantMembership(ms []TenantMembership) *TenantMembership {
	if len(ms) == 0 {
		return nil
	}
	for i := range ms {
		if ms[i].IsOwner {
			return &ms[i]
		}
	}
	return &ms[0]
}

// PickPartnerMembership is PickTenantMembership for partner memberships.
func PickPartnerMembership(ms []PartnerMembership) *PartnerMembership {
	if len(ms) == 0 {
		return nil
	}
	for i := range ms {
		if ms[i].IsOwner {
			return &ms[i]
		}
	}
	return &ms[0]
}
