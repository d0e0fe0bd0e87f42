package access

import (
	"context"
	"maps"
	"slices"
	"strings"
)

// RequestContext carries the facts resolved for one request. It is a value:
// gates never mutate it, they return an enriched copy via the With methods.
type RequestContext struct {
	actor        Actor
	scope        Scope
	subscription *Subscription
	planFeatures map[string]PlanFeature
	limits       map[string]Limits
	remaining    map[string]int64
}

// NewRequestContext builds the context for an authenticated actor. The
// enabled plan features are indexed once here so gates never re-query them.
func NewRequestContext(actor Actor, sub *Subscription, features []PlanFeature) RequestContext {
	rc := RequestContext{
		actor:        NewActor(actor.UserID, actor.IsSuperAdmin, actor.Tenant, actor.Partner),
		planFeatures: make(map[string]PlanFeature, len(features)),
	}
	if sub != nil {
		cp := *sub
		rc.subscription = &cp
	}
	for _, f := range features {
		if !f.Enabled {
			continue
		}
		f.Limits = maps.Clone(f.Limits)
		rc.planFeatures[f.Code] = f
	}
	return rc
}

func (rc RequestContext) Actor() Actor { return rc.actor }

// IsSuperAdmin is shorthand for the universal bypass check every gate runs first.
func (rc RequestContext) IsSuperAdmin() bool { return rc.actor.IsSuperAdmin }

func (rc RequestContext) Scope() Scope { return rc.scope }

func (rc RequestContext) Subscription() (Subscription, bool) {
	if rc.subscription == nil {
		return Subscription{}, false
	}
	return *rc.subscription, true
}

// PlanFeature returns the enabled plan feature for code.
func (rc RequestContext) PlanFeature(code string) (PlanFeature, bool) {
	f, ok := rc.planFeatures[code]
	return f, ok
}

// PlanFeatures lists enabled plan features ordered by code.
func (rc RequestContext) PlanFeatures() []PlanFeature {
	out := make([]PlanFeature, 0, len(rc.planFeatures))
	for _, f := range rc.planFeatures {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b PlanFeature) int { return strings.Compare(a.Code, b.Code) })
	return out
}

// Limits returns the limits attached by the feature gate for code.
func (rc RequestContext) Limits(code string) (Limits, bool) {
	l, ok := rc.limits[code]
	return l, ok
}

// Remaining returns the quota left for feature/limitKey as computed by the usage gate.
func (rc RequestContext) Remaining(feature, limitKey string) (int64, bool) {
	n, ok := rc.remaining[remainingKey(feature, limitKey)]
	return n, ok
}

// WithSubscription returns a copy resolved against another tenant's
// subscription. Limits and remaining quota computed for the previous
// subscription are discarded.
func (rc RequestContext) WithSubscription(sub *Subscription, features []PlanFeature) RequestContext {
	next := NewRequestContext(rc.actor, sub, features)
	next.scope = rc.scope
	return next
}

// WithScope returns a copy constrained to s.
func (rc RequestContext) WithScope(s Scope) RequestContext {
	rc.scope = s
	return rc
}

// WithLimits returns a copy with the feature's limits attached.
func (rc RequestContext) WithLimits(feature string, l Limits) RequestContext {
	next := maps.Clone(rc.limits)
	if next == nil {
		next = make(map[string]Limits)
	}
	next[feature] = maps.Clone(l)
	rc.limits = next
	return rc
}

// WithRemaining returns a copy recording the remaining quota for feature/limitKey.
func (rc RequestContext) WithRemaining(feature, limitKey string, n int64) RequestContext {
	next := maps.Clone(rc.remaining)
	if next == nil {
		next = make(map[string]int64)
	}
	next[remainingKey(feature, limitKey)] = n
	rc.remaining = next
	return rc
}

// FeatureCodes lists the codes of enabled plan features.
func (rc RequestContext) FeatureCodes() []string {
	codes := slices.Collect(maps.Keys(rc.planFeatures))
	slices.Sort(codes)
	return codes
}

func remainingKey(feature, limitKey string) string {
	return feature + "/" + limitKey
}

type requestContextKey struct{}

// WithRequestContext stores rc in ctx.
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// FromContext retrieves the request context set by the membership middleware.
func FromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(RequestContext)
	return rc, ok
}
