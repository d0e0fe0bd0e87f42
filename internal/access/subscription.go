package access

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// SubscriptionStatus is the lifecycle state of a tenant subscription.
type SubscriptionStatus int

const (
	StatusTrial SubscriptionStatus = iota + 1
	StatusActive
	StatusPastDue
	StatusSuspended
	StatusCancelled
	StatusExpired
)

func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trial":
		return StatusTrial, nil
	case "active":
		return StatusActive, nil
	case "past_due":
		return StatusPastDue, nil
	case "suspended":
		return StatusSuspended, nil
	case "cancelled":
		return StatusCancelled, nil
	case "expired":
		return StatusExpired, nil
	default:
		return 0, fmt.Errorf("unknown subscription status %q", s)
	}
}

func (s SubscriptionStatus) String() string {
	switch s {
	case StatusTrial:
		return "trial"
	case StatusActive:
		return "active"
	case StatusPastDue:
		return "past_due"
	case StatusSuspended:
		return "suspended"
	case StatusCancelled:
		return "cancelled"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Live reports whether the status grants access (trial or active).
func (s SubscriptionStatus) Live() bool {
	return s == StatusTrial || s == StatusActive
}

func (s SubscriptionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Period is a billing window [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the half-open window.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Subscription is the tenant's subscription resolved for the current request.
type Subscription struct {
	ID                 string             `json:"id"`
	TenantID           string             `json:"tenant_id"`
	PlanID             string             `json:"plan_id"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
}

// Period returns the subscription's current billing period.
func (s Subscription) Period() Period {
	return Period{Start: s.CurrentPeriodStart, End: s.CurrentPeriodEnd}
}

// Feature is the platform-wide record of a feature. IsEnabled is a global kill switch.
type Feature struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	IsEnabled bool   `json:"is_enabled"`
}

// Unlimited marks a limit without a ceiling.
const Unlimited int64 = -1

// Limits maps named quotas (e.g. max_leads) to their ceilings. A missing key,
// a JSON null or a negative value means unlimited.
type Limits map[string]int64

// Max returns the ceiling for key and whether it is bounded.
func (l Limits) Max(key string) (int64, bool) {
	v, ok := l[key]
	if !ok || v < 0 {
		return 0, false
	}
	return v, true
}

func (l *Limits) UnmarshalJSON(data []byte) error {
	var raw map[string]*json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding limits: %w", err)
	}
	out := make(Limits, len(raw))
	for k, v := range raw {
		if v == nil {
			out[k] = Unlimited
			continue
		}
		n, err := v.Int64()
		if err != nil {
			// Integral floats such as 2.0 or 1e3 are accepted.
			f, ferr := v.Float64()
			if ferr != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
				return fmt.Errorf("limit %q must be a whole number within int64 range, got %s", k, v.String())
			}
			n = int64(f)
		}
		out[k] = n
	}
	*l = out
	return nil
}

// PlanFeature is one feature entitlement of a plan.
type PlanFeature struct {
	Code    string `json:"code"`
	Enabled bool   `json:"enabled"`
	Limits  Limits `json:"limits"`
}
