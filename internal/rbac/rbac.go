// Package rbac resolves an actor's position in the platform → partner →
// tenant hierarchy and answers role and permission requirements against it.
package rbac

import (
	"fmt"

	"github.com/valinor-ai/gatehouse/internal/access"
)

type requirementKind int

const (
	requireSuperAdmin requirementKind = iota + 1
	requirePartnerRole
	requireTenantRole
	requirePermission
)

// Requirement is a single condition a route places on its caller.
type Requirement struct {
	kind       requirementKind
	partner    access.PartnerRole
	tenant     access.TenantRole
	permission string
}

// SuperAdmin requires the platform operator.
func SuperAdmin() Requirement { return Requirement{kind: requireSuperAdmin} }

// PartnerRoleAtLeast requires a partner membership of at least level.
func PartnerRoleAtLeast(level access.PartnerRole) Requirement {
	return Requirement{kind: requirePartnerRole, partner: level}
}

// TenantRoleAtLeast requires tenant rights of at least level.
func TenantRoleAtLeast(level access.TenantRole) Requirement {
	return Requirement{kind: requireTenantRole, tenant: level}
}

// Permission requires a permission code such as "leads:write".
func Permission(code string) Requirement {
	return Requirement{kind: requirePermission, permission: code}
}

func (r Requirement) String() string {
	switch r.kind {
	case requireSuperAdmin:
		return "super admin"
	case requirePartnerRole:
		return fmt.Sprintf("partner %s role", r.partner)
	case requireTenantRole:
		return fmt.Sprintf("tenant %s role", r.tenant)
	case requirePermission:
		return fmt.Sprintf("permission %q", r.permission)
	default:
		return "unknown requirement"
	}
}

// Decision represents the result of an authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Rule    string `json:"rule,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Err converts a denial into a Forbidden error naming the unmet requirement.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return access.Forbidden("%s", d.Reason)
}
