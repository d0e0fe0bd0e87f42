package access

import (
	"fmt"
	"strings"
)

// TenantRole is a tenant membership role. Values are ordered: user < manager < admin.
type TenantRole int

const (
	TenantRoleUser TenantRole = iota + 1
	TenantRoleManager
	TenantRoleAdmin
)

// ParseTenantRole converts a stored role name.
func ParseTenantRole(s string) (TenantRole, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return TenantRoleUser, nil
	case "manager":
		return TenantRoleManager, nil
	case "admin":
		return TenantRoleAdmin, nil
	default:
		return 0, fmt.Errorf("unknown tenant role %q", s)
	}
}

func (r TenantRole) String() string {
	switch r {
	case TenantRoleUser:
		return "user"
	case TenantRoleManager:
		return "manager"
	case TenantRoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Valid reports whether r is one of the declared roles.
func (r TenantRole) Valid() bool {
	return r >= TenantRoleUser && r <= TenantRoleAdmin
}

// AtLeast reports whether r satisfies a requirement of level.
func (r TenantRole) AtLeast(level TenantRole) bool {
	return r.Valid() && level.Valid() && r >= level
}

// PartnerRole is a partner membership role. Values are ordered: viewer < manager < admin.
type PartnerRole int

const (
	PartnerRoleViewer PartnerRole = iota + 1
	PartnerRoleManager
	PartnerRoleAdmin
)

// ParsePartnerRole converts a stored role name.
func ParsePartnerRole(s string) (PartnerRole, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "viewer":
		return PartnerRoleViewer, nil
	case "manager":
		return PartnerRoleManager, nil
	case "admin":
		return PartnerRoleAdmin, nil
	default:
		return 0, fmt.Errorf("unknown partner role %q", s)
	}
}

func (r PartnerRole) String() string {
	switch r {
	case PartnerRoleViewer:
		return "viewer"
	case PartnerRoleManager:
		return "manager"
	case PartnerRoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

func (r PartnerRole) Valid() bool {
	return r >= PartnerRoleViewer && r <= PartnerRoleAdmin
}

func (r PartnerRole) AtLeast(level PartnerRole) bool {
	return r.Valid() && level.Valid() && r >= level
}

// Tier identifies which level of the platform → partner → tenant hierarchy a Role belongs to.
type Tier int

const (
	TierPlatform Tier = iota + 1
	TierPartner
	TierTenant
)

func (t Tier) String() string {
	switch t {
	case TierPlatform:
		return "platform"
	case TierPartner:
		return "partner"
	case TierTenant:
		return "tenant"
	default:
		return "unknown"
	}
}

// Role is a derived role fact. Exactly one of the tier-specific fields is
// meaningful, selected by Tier.
type Role struct {
	Tier    Tier
	Partner PartnerRole
	Tenant  TenantRole
}

// SuperAdmin is the platform operator role.
func SuperAdmin() Role { return Role{Tier: TierPlatform} }

// PartnerRoleOf wraps a partner role.
func PartnerRoleOf(r PartnerRole) Role { return Role{Tier: TierPartner, Partner: r} }

// TenantRoleOf wraps a tenant role.
func TenantRoleOf(r TenantRole) Role { return Role{Tier: TierTenant, Tenant: r} }

func (r Role) String() string {
	switch r.Tier {
	case TierPlatform:
		return "super_admin"
	case TierPartner:
		return "partner_" + r.Partner.String()
	case TierTenant:
		return "tenant_" + r.Tenant.String()
	default:
		return "unknown"
	}
}
