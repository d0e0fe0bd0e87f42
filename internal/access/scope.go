package access

import (
	"errors"
	"fmt"
)

// ErrEmptyScope is returned when a restricted scope has no boundary. It marks
// a programming error, never a valid state.
var ErrEmptyScope = errors.New("scope has no boundary")

type scopeKind int

const (
	scopeInvalid scopeKind = iota
	scopeUnrestricted
	scopeTenant
	scopePartner
)

// Scope is the tenant or partner boundary a request is constrained to.
// The zero value is invalid: a restricted actor can only obtain a Scope
// through RestrictedToTenant or RestrictedToPartner.
type Scope struct {
	kind      scopeKind
	tenantID  string
	partnerID string
	override  bool
}

// Unrestricted is the super-admin scope with no automatic restriction.
func Unrestricted() Scope { return Scope{kind: scopeUnrestricted} }

// RestrictedToTenant limits a request to one tenant.
func RestrictedToTenant(tenantID string) (Scope, error) {
	if tenantID == "" {
		return Scope{}, fmt.Errorf("%w: tenant id", ErrEmptyScope)
	}
	return Scope{kind: scopeTenant, tenantID: tenantID}, nil
}

// RestrictedToPartner limits a request to one partner's tenants.
func RestrictedToPartner(partnerID string) (Scope, error) {
	if partnerID == "" {
		return Scope{}, fmt.Errorf("%w: partner id", ErrEmptyScope)
	}
	return Scope{kind: scopePartner, partnerID: partnerID}, nil
}

// OverrideTenant is the explicit, auditable tenant switch of a super admin.
func OverrideTenant(tenantID string) (Scope, error) {
	s, err := RestrictedToTenant(tenantID)
	if err != nil {
		return Scope{}, err
	}
	s.override = true
	return s, nil
}

func (s Scope) Valid() bool { return s.kind != scopeInvalid }
func (s Scope) IsUnrestricted() bool { return s.kind == scopeUnrestricted }

// IsOverride reports whether the scope came from a super-admin context switch.
func (s Scope) IsOverride() bool { return s.override }

func (s Scope) TenantID() (string, bool) {
	return s.tenantID, s.kind == scopeTenant
}

func (s Scope) PartnerID() (string, bool) {
	return s.partnerID, s.kind == scopePartner
}

func (s Scope) String() string {
	switch s.kind {
	case scopeUnrestricted:
		return "unrestricted"
	case scopeTenant:
		if s.override {
			return "tenant:" + s.tenantID + " (override)"
		}
		return "tenant:" + s.tenantID
	case scopePartner:
		return "partner:" + s.partnerID
	default:
		return "invalid"
	}
}

// Filter is the predicate downstream data queries must merge in.
// An empty Filter only ever comes from an unrestricted scope.
type Filter struct {
	TenantID  string `json:"tenant_id,omitempty"`
	PartnerID string `json:"partner_id,omitempty"`
}

// Empty reports whether the filter imposes no restriction.
func (f Filter) Empty() bool { return f.TenantID == "" && f.PartnerID == "" }

// Filter returns the query filter for s. An invalid scope yields ErrEmptyScope.
func (s Scope) Filter() (Filter, error) {
	switch s.kind {
	case scopeUnrestricted:
		return Filter{}, nil
	case scopeTenant:
		return Filter{TenantID: s.tenantID}, nil
	case scopePartner:
		return Filter{PartnerID: s.partnerID}, nil
	default:
		return Filter{}, ErrEmptyScope
	}
}

// Predicate renders the filter as a SQL condition using positional
// placeholders starting at argN. An empty filter renders as "".
func (f Filter) Predicate(argN int) (string, []any) {
	switch {
	case f.TenantID != "" && f.PartnerID != "":
		return fmt.Sprintf("tenant_id = $%d AND partner_id = $%d", argN, argN+1), []any{f.TenantID, f.PartnerID}
	case f.TenantID != "":
		return fmt.Sprintf("tenant_id = $%d", argN), []any{f.TenantID}
	case f.PartnerID != "":
		return fmt.Sprintf("partner_id = $%d", argN), []any{f.PartnerID}
	default:
		return "", nil
	}
}
