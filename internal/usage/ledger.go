// Package usage accounts feature consumption per subscription and billing
// period and enforces plan quotas.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/audit"
	"github.com/valinor-ai/gatehouse/internal/metrics"
	"github.com/valinor-ai/gatehouse/internal/platform/sideeffect"
)

// Allowance is the outcome of a successful limit check.
type Allowance struct {
	Limit     int64 `json:"limit"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

// Unlimited reports whether no ceiling applies.
func (a Allowance) Unlimited() bool { return a.Limit == access.Unlimited }

var unlimited = Allowance{Limit: access.Unlimited, Remaining: access.Unlimited}

// Option configures a Ledger.
type Option func(*Ledger)

// WithQueue runs increments on q instead of inline.
func WithQueue(q *sideeffect.Queue) Option {
	return func(l *Ledger) { l.queue = q }
}

// WithLogger sets the logger for swallowed increment failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithStrict switches the gate to conditional increments that reserve quota
// before the operation runs.
func WithStrict(strict bool) Option {
	return func(l *Ledger) { l.strict = strict }
}

// WithAuditRecorder records quota denials.
func WithAuditRecorder(rec audit.Recorder) Option {
	return func(l *Ledger) { l.audit = rec }
}

// Ledger checks and records usage against plan limits.
type Ledger struct {
	store  Store
	queue  *sideeffect.Queue
	logger *slog.Logger
	audit  audit.Recorder
	now    func() time.Time
	strict bool
}

func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: slog.Default(),
		audit:  audit.NopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Strict reports whether the ledger reserves quota before operations.
func (l *Ledger) Strict() bool { return l.strict }

// CheckUsageLimit reports how much of limitKey remains for feature in the
// subscription's current period. It never writes.
func (l *Ledger) CheckUsageLimit(ctx context.Context, rc access.RequestContext, feature, limitKey string) (Allowance, error) {
	if rc.IsSuperAdmin() {
		return unlimited, nil
	}

	ceiling, bounded, err := limitFor(rc, feature, limitKey)
	if err != nil {
		return Allowance{}, err
	}
	if !bounded {
		return unlimited, nil
	}

	sub, ok := rc.Subscription()
	if !ok {
		return Allowance{}, access.Forbidden("no subscription found for this tenant")
	}

	var used int64
	// A period that does not contain now has no live counter.
	if sub.Period().Contains(l.now()) {
		used, err = l.store.Current(ctx, counterKey(sub, feature))
		if err != nil {
			return Allowance{}, fmt.Errorf("checking usage for %s: %w", feature, err)
		}
	}

	if used >= ceiling {
		return Allowance{}, limitReached(limitKey, ceiling)
	}
	return Allowance{Limit: ceiling, Used: used, Remaining: ceiling - used}, nil
}

// IncrementUsage records amount against feature after the gated operation
// succeeded. It never fails the caller: errors are logged and counted.
func (l *Ledger) IncrementUsage(ctx context.Context, rc access.RequestContext, feature string, amount int64) {
	sub, ok := rc.Subscription()
	if !ok || amount <= 0 {
		return
	}
	l.record(ctx, counterKey(sub, feature), amount)
}

// record applies amount to key off the request path when a queue is
// configured. A negative amount returns reserved quota.
func (l *Ledger) record(ctx context.Context, key CounterKey, amount int64) {
	task := func(ctx context.Context) error {
		if _, err := l.store.Increment(ctx, key, amount); err != nil {
			metrics.UsageIncrementFailuresTotal.Inc()
			return fmt.Errorf("incrementing %s for subscription %s: %w", key.FeatureCode, key.SubscriptionID, err)
		}
		if amount > 0 {
			metrics.UsageIncrementsTotal.WithLabelValues(key.FeatureCode).Add(float64(amount))
		}
		return nil
	}

	if l.queue != nil {
		l.queue.Submit(task)
		return
	}
	if err := task(context.WithoutCancel(ctx)); err != nil {
		l.logger.Warn("usage increment failed", "error", err)
	}
}

// Reservation is quota taken ahead of an operation by a strict ledger.
type Reservation struct {
	ledger *Ledger
	key    CounterKey
	amount int64
	Allowance
}

// Release returns the reserved quota. Used when the operation failed.
func (r *Reservation) Release(ctx context.Context) {
	if r == nil || r.amount == 0 {
		return
	}
	r.ledger.record(ctx, r.key, -r.amount)
	r.amount = 0
}

// Reserve atomically takes amount of limitKey for feature, failing when the
// result would exceed the limit. Unlimited and super-admin requests get an
// empty reservation and are counted on commit like loose increments.
func (l *Ledger) Reserve(ctx context.Context, rc access.RequestContext, feature, limitKey string, amount int64) (*Reservation, error) {
	if rc.IsSuperAdmin() {
		return &Reservation{ledger: l, Allowance: unlimited}, nil
	}
	ceiling, bounded, err := limitFor(rc, feature, limitKey)
	if err != nil {
		return nil, err
	}
	if !bounded {
		return &Reservation{ledger: l, Allowance: unlimited}, nil
	}
	sub, ok := rc.Subscription()
	if !ok {
		return nil, access.Forbidden("no subscription found for this tenant")
	}

	key := counterKey(sub, feature)
	count, applied, err := l.store.TryIncrement(ctx, key, amount, ceiling)
	if err != nil {
		return nil, fmt.Errorf("reserving usage for %s: %w", feature, err)
	}
	if !applied {
		return nil, limitReached(limitKey, ceiling)
	}
	return &Reservation{
		ledger:    l,
		key:       key,
		amount:    amount,
		Allowance: Allowance{Limit: ceiling, Used: count, Remaining: ceiling - count},
	}, nil
}

// Usage returns the current-period count for feature without enforcing limits.
func (l *Ledger) Usage(ctx context.Context, rc access.RequestContext, feature string) (int64, access.Period, error) {
	sub, ok := rc.Subscription()
	if !ok {
		return 0, access.Period{}, access.NotFound("no subscription found for this tenant")
	}
	n, err := l.store.Current(ctx, counterKey(sub, feature))
	if err != nil {
		return 0, access.Period{}, fmt.Errorf("reading usage for %s: %w", feature, err)
	}
	return n, sub.Period(), nil
}

func counterKey(sub access.Subscription, feature string) CounterKey {
	return CounterKey{SubscriptionID: sub.ID, FeatureCode: feature, Period: sub.Period()}
}

// limitFor resolves the ceiling for limitKey from the limits attached by the
// feature gate, falling back to the plan feature itself.
func limitFor(rc access.RequestContext, feature, limitKey string) (int64, bool, error) {
	limits, ok := rc.Limits(feature)
	if !ok {
		pf, ok := rc.PlanFeature(feature)
		if !ok {
			return 0, false, access.Forbidden("feature %q is not included in subscription", feature)
		}
		limits = pf.Limits
	}
	ceiling, bounded := limits.Max(limitKey)
	return ceiling, bounded, nil
}

func limitReached(limitKey string, ceiling int64) error {
	return access.Forbidden("usage limit reached: %s is %d for the current billing period; upgrade your plan to increase it", limitKey, ceiling)
}
