// Package entitlement gates features on the tenant's subscription plan.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/audit"
)

var (
	ErrFeatureNotFound = fmt.Errorf("feature %w", access.ErrNotFound)
	ErrNoSubscription  = fmt.Errorf("subscription %w", access.ErrNotFound)
)

// FeatureCatalog reads platform-wide feature records.
type FeatureCatalog interface {
	Feature(ctx context.Context, code string) (access.Feature, error)
}

// Option configures the Evaluator.
type Option func(*Evaluator)

// WithClock overrides the time source used for period checks.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		e.now = now
	}
}

// WithAuditRecorder records feature and subscription denials.
func WithAuditRecorder(rec audit.Recorder) Option {
	return func(e *Evaluator) {
		e.audit = rec
	}
}

// Evaluator decides feature entitlement for a resolved request context.
type Evaluator struct {
	catalog FeatureCatalog
	audit   audit.Recorder
	now     func() time.Time
}

func NewEvaluator(catalog FeatureCatalog, opts ...Option) *Evaluator {
	e := &Evaluator{catalog: catalog, audit: audit.NopLogger{}, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RequireFeature allows code when it is globally enabled and included in the
// subscription's plan. The returned context carries the feature's limits.
// Super admins are allowed with no limits attached.
func (e *Evaluator) RequireFeature(ctx context.Context, rc access.RequestContext, code string) (access.RequestContext, error) {
	if rc.IsSuperAdmin() {
		return rc.WithLimits(code, access.Limits{}), nil
	}

	f, err := e.catalog.Feature(ctx, code)
	switch {
	case errors.Is(err, access.ErrNotFound):
		return rc, access.Forbidden("feature %q is currently unavailable", code)
	case err != nil:
		return rc, fmt.Errorf("loading feature %s: %w", code, err)
	case !f.IsEnabled:
		return rc, access.Forbidden("feature %q is currently unavailable", code)
	}

	pf, ok := rc.PlanFeature(code)
	if !ok {
		return rc, access.Forbidden("feature %q is not included in subscription", code)
	}
	return rc.WithLimits(code, pf.Limits), nil
}

// RequireActiveSubscription allows a live subscription whose current period
// has not ended. Each failure names its cause.
func (e *Evaluator) RequireActiveSubscription(rc access.RequestContext) error {
	if rc.IsSuperAdmin() {
		return nil
	}
	sub, ok := rc.Subscription()
	if !ok {
		return access.Forbidden("no subscription found for this tenant")
	}
	if !sub.Status.Live() {
		return access.Forbidden("subscription is %s", sub.Status)
	}
	if !e.now().Before(sub.CurrentPeriodEnd) {
		return access.Forbidden("subscription period expired on %s", sub.CurrentPeriodEnd.UTC().Format(time.DateOnly))
	}
	return nil
}
