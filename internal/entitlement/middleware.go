package entitlement

import (
	"errors"
	"net/http"

	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/audit"
	"github.com/valinor-ai/gatehouse/internal/metrics"
)

// Feature returns middleware that requires feature code and attaches its
// limits to the request context.
func (e *Evaluator) Feature(code string) func(http.Handler) http.Handler {
	return e.FeatureFrom(func(*http.Request) string { return code })
}

// FeatureFrom is Feature with the code resolved per request, e.g. from a
// path value.
func (e *Evaluator) FeatureFrom(codeOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, ok := access.FromContext(r.Context())
			if !ok {
				metrics.ObserveDecision(metrics.GateEntitlement, metrics.OutcomeUnauthorized)
				access.WriteError(w, access.Unauthorized("authentication required"))
				return
			}

			code := codeOf(r)
			enriched, err := e.RequireFeature(r.Context(), rc, code)
			if err != nil {
				e.deny(r, rc, audit.ActionFeatureDenied, code, err)
				access.WriteError(w, err)
				return
			}

			e.allow(rc)
			next.ServeHTTP(w, r.WithContext(access.WithRequestContext(r.Context(), enriched)))
		})
	}
}

// ActiveSubscription returns middleware that requires a live subscription.
func (e *Evaluator) ActiveSubscription(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, ok := access.FromContext(r.Context())
		if !ok {
			metrics.ObserveDecision(metrics.GateEntitlement, metrics.OutcomeUnauthorized)
			access.WriteError(w, access.Unauthorized("authentication required"))
			return
		}

		if err := e.RequireActiveSubscription(rc); err != nil {
			e.deny(r, rc, audit.ActionSubscriptionDenied, "", err)
			access.WriteError(w, err)
			return
		}

		e.allow(rc)
		next.ServeHTTP(w, r)
	})
}

func (e *Evaluator) allow(rc access.RequestContext) {
	if rc.IsSuperAdmin() {
		metrics.ObserveDecision(metrics.GateEntitlement, metrics.OutcomeBypass)
		return
	}
	metrics.ObserveDecision(metrics.GateEntitlement, metrics.OutcomeAllowed)
}

func (e *Evaluator) deny(r *http.Request, rc access.RequestContext, action, feature string, err error) {
	metrics.ObserveError(metrics.GateEntitlement, err)
	if !errors.Is(err, access.ErrForbidden) {
		return
	}
	evt := audit.NewEvent(r, rc.Actor(), action)
	if feature != "" {
		evt.ResourceType = "feature"
		evt.ResourceID = feature
	} else if sub, ok := rc.Subscription(); ok {
		evt.ResourceType = "subscription"
		evt.ResourceID = sub.ID
	}
	evt.Changes = map[string]any{
		audit.MetadataGate:   metrics.GateEntitlement,
		audit.MetadataReason: access.Reason(err),
	}
	if feature != "" {
		evt.Changes[audit.MetadataFeature] = feature
	}
	e.audit.Record(r.Context(), evt)
}
