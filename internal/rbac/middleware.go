package rbac

import (
	"net/http"

	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/audit"
	"github.com/valinor-ai/gatehouse/internal/metrics"
)

// MiddlewareOption configures RBAC middleware behavior.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	audit      audit.Recorder
	tenantFrom func(*http.Request) (TenantRef, bool)
}

// WithAuditRecorder attaches a recorder for RBAC denials.
func WithAuditRecorder(rec audit.Recorder) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.audit = rec
	}
}

// WithTenantFrom binds tenant requirements to the tenant extracted from the
// request, typically a path value resolved to its owning partner.
func WithTenantFrom(fn func(*http.Request) (TenantRef, bool)) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.tenantFrom = fn
	}
}

// RequireSuperAdmin admits only the platform operator.
func RequireSuperAdmin(opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return Require(SuperAdmin(), opts...)
}

// RequirePartnerRole admits partner members at or above level.
func RequirePartnerRole(level access.PartnerRole, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return Require(PartnerRoleAtLeast(level), opts...)
}

// RequireTenantRole admits actors holding tenant rights at or above level.
func RequireTenantRole(level access.TenantRole, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return Require(TenantRoleAtLeast(level), opts...)
}

// RequirePermission returns middleware that checks if the authenticated
// actor holds the specified permission.
func RequirePermission(permission string, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return Require(Permission(permission), opts...)
}

// Require returns middleware enforcing req against the request's actor.
func Require(req Requirement, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	var mc middlewareConfig
	for _, opt := range opts {
		opt(&mc)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, ok := access.FromContext(r.Context())
			if !ok {
				metrics.ObserveDecision(metrics.GateRole, metrics.OutcomeUnauthorized)
				access.WriteError(w, access.Unauthorized("authentication required"))
				return
			}

			var resolveOpts []Option
			if mc.tenantFrom != nil {
				if ref, ok := mc.tenantFrom(r); ok {
					resolveOpts = append(resolveOpts, InTenant(ref))
				}
			}

			decision := Resolve(rc.Actor(), resolveOpts...).Check(req)
			if !decision.Allowed {
				metrics.ObserveDecision(metrics.GateRole, metrics.OutcomeForbidden)
				if mc.audit != nil {
					evt := audit.NewEvent(r, rc.Actor(), audit.ActionAccessDenied)
					evt.ResourceType = "route"
					evt.ResourceID = r.Pattern
					evt.Changes = map[string]any{
						audit.MetadataGate:        metrics.GateRole,
						audit.MetadataRequirement: req.String(),
						audit.MetadataReason:      decision.Reason,
					}
					mc.audit.Record(r.Context(), evt)
				}
				access.WriteError(w, decision.Err())
				return
			}

			outcome := metrics.OutcomeAllowed
			if decision.Rule == RuleSuperAdmin {
				outcome = metrics.OutcomeBypass
			}
			metrics.ObserveDecision(metrics.GateRole, outcome)
			next.ServeHTTP(w, r)
		})
	}
}
