package scope

import (
	"errors"
	"net/http"

	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/audit"
	"github.com/valinor-ai/gatehouse/internal/metrics"
)

// TenantScope applies the super-admin tenant switch, then binds the actor's
// tenant scope to the request context.
func (e *Enforcer) TenantScope(next http.Handler) http.Handler {
	return e.gate(next, func(r *http.Request, rc access.RequestContext) (access.RequestContext, error) {
		rc, err := e.SetTenantContext(r.Context(), r, rc)
		if err != nil {
			return rc, err
		}
		s, err := EnforceTenantScope(rc)
		if err != nil {
			return rc, err
		}
		return rc.WithScope(s), nil
	})
}

// PartnerScope binds the actor's partner scope to the request context.
func (e *Enforcer) PartnerScope(next http.Handler) http.Handler {
	return e.gate(next, func(r *http.Request, rc access.RequestContext) (access.RequestContext, error) {
		rc, err := e.SetTenantContext(r.Context(), r, rc)
		if err != nil {
			return rc, err
		}
		s, err := EnforcePartnerScope(rc)
		if err != nil {
			return rc, err
		}
		return rc.WithScope(s), nil
	})
}

// TenantOwnership validates the tenant named by the path value param and
// restricts the request to it.
func (e *Enforcer) TenantOwnership(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return e.gate(next, func(r *http.Request, rc access.RequestContext) (access.RequestContext, error) {
			t, err := e.ValidateTenantOwnership(r.Context(), r, rc, r.PathValue(param))
			if err != nil {
				return rc, err
			}
			var s access.Scope
			if rc.IsSuperAdmin() {
				s, err = access.OverrideTenant(t.ID)
			} else {
				s, err = access.RestrictedToTenant(t.ID)
			}
			if err != nil {
				return rc, err
			}
			return rc.WithScope(s), nil
		})
	}
}

// PartnerAccess validates the partner named by the path value param and
// restricts the request to it.
func (e *Enforcer) PartnerAccess(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return e.gate(next, func(r *http.Request, rc access.RequestContext) (access.RequestContext, error) {
			p, err := e.ValidatePartnerAccess(r.Context(), r, rc, r.PathValue(param))
			if err != nil {
				return rc, err
			}
			s, err := access.RestrictedToPartner(p.ID)
			if err != nil {
				return rc, err
			}
			return rc.WithScope(s), nil
		})
	}
}

func (e *Enforcer) gate(next http.Handler, apply func(*http.Request, access.RequestContext) (access.RequestContext, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, ok := access.FromContext(r.Context())
		if !ok {
			metrics.ObserveDecision(metrics.GateScope, metrics.OutcomeUnauthorized)
			access.WriteError(w, access.Unauthorized("authentication required"))
			return
		}

		rc, err := apply(r, rc)
		if err != nil {
			metrics.ObserveError(metrics.GateScope, err)
			if errors.Is(err, access.ErrForbidden) || errors.Is(err, access.ErrNotFound) {
				evt := audit.NewEvent(r, rc.Actor(), audit.ActionAccessDenied)
				evt.ResourceType = "route"
				evt.ResourceID = r.Pattern
				evt.Changes = map[string]any{
					audit.MetadataGate:   metrics.GateScope,
					audit.MetadataReason: access.Reason(err),
				}
				e.audit.Record(r.Context(), evt)
			}
			access.WriteError(w, err)
			return
		}

		outcome := metrics.OutcomeAllowed
		if rc.Scope().IsUnrestricted() || rc.Scope().IsOverride() {
			outcome = metrics.OutcomeBypass
		}
		metrics.ObserveDecision(metrics.GateScope, outcome)
		next.ServeHTTP(w, r.WithContext(access.WithRequestContext(r.Context(), rc)))
	})
}
