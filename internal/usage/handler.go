package usage

import (
	"net/http"

	"github.com/valinor-ai/gatehouse/internal/access"
)

// Report is the usage view of one feature for the current billing period.
type Report struct {
	Feature   string           `json:"feature"`
	Used      int64            `json:"used"`
	Period    access.Period    `json:"period"`
	Limits    access.Limits    `json:"limits"`
	Remaining map[string]int64 `json:"remaining"`
}

// HandleGetUsage reports current-period consumption of a plan feature.
// GET /api/v1/usage/{feature}
func (l *Ledger) HandleGetUsage(w http.ResponseWriter, r *http.Request) {
	rc, ok := access.FromContext(r.Context())
	if !ok {
		access.WriteError(w, access.Unauthorized("authentication required"))
		return
	}
	feature := r.PathValue("feature")
	pf, ok := rc.PlanFeature(feature)
	if !ok && !rc.IsSuperAdmin() {
		access.WriteError(w, access.Forbidden("feature %q is not included in subscription", feature))
		return
	}

	// Super admins outside any tenant context have no counter to read.
	var (
		used   int64
		period access.Period
	)
	if _, hasSub := rc.Subscription(); hasSub || !rc.IsSuperAdmin() {
		var err error
		used, period, err = l.Usage(r.Context(), rc, feature)
		if err != nil {
			access.WriteError(w, err)
			return
		}
		if !period.Contains(l.now()) {
			used = 0
		}
	}

	report := Report{
		Feature:   feature,
		Used:      used,
		Period:    period,
		Limits:    pf.Limits,
		Remaining: make(map[string]int64, len(pf.Limits)),
	}
	if report.Limits == nil {
		report.Limits = access.Limits{}
	}
	for key := range pf.Limits {
		ceiling, bounded := pf.Limits.Max(key)
		if !bounded {
			report.Remaining[key] = access.Unlimited
			continue
		}
		report.Remaining[key] = max(ceiling-used, 0)
	}
	access.WriteJSON(w, http.StatusOK, report)
}

type decision struct {
	Feature   string `json:"feature"`
	LimitKey  string `json:"limit_key"`
	Allowed   bool   `json:"allowed"`
	Limit     int64  `json:"limit"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
}

// HandleCheck reports whether one more unit of a limit is available without
// consuming it. Denials are returned as 403 with the limit in the reason.
// GET /api/v1/features/{feature}/limits/{limitKey}
func (l *Ledger) HandleCheck(w http.ResponseWriter, r *http.Request) {
	rc, ok := access.FromContext(r.Context())
	if !ok {
		access.WriteError(w, access.Unauthorized("authentication required"))
		return
	}
	feature, limitKey := r.PathValue("feature"), r.PathValue("limitKey")

	a, err := l.CheckUsageLimit(r.Context(), rc, feature, limitKey)
	if err != nil {
		access.WriteError(w, err)
		return
	}
	access.WriteJSON(w, http.StatusOK, decision{
		Feature: feature, LimitKey: limitKey, Allowed: true,
		Limit: a.Limit, Used: a.Used, Remaining: a.Remaining,
	})
}

// HandleConsume acknowledges one unit admitted by the usage gate, which
// commits it once this handler succeeds.
// POST /api/v1/features/{feature}/limits/{limitKey}/consume
func (l *Ledger) HandleConsume(w http.ResponseWriter, r *http.Request) {
	rc, ok := access.FromContext(r.Context())
	if !ok {
		access.WriteError(w, access.Unauthorized("authentication required"))
		return
	}
	feature, limitKey := r.PathValue("feature"), r.PathValue("limitKey")

	out := decision{Feature: feature, LimitKey: limitKey, Allowed: true, Limit: access.Unlimited, Remaining: access.Unlimited}
	if n, ok := rc.Remaining(feature, limitKey); ok {
		out.Remaining = n
		if ceiling, bounded, err := limitFor(rc, feature, limitKey); err == nil && bounded {
			out.Limit = ceiling
			out.Used = ceiling - n
		}
	}
	access.WriteJSON(w, http.StatusOK, out)
}

// PathTarget resolves the gate target from the {feature} and {limitKey}
// path values.
func PathTarget(r *http.Request) (string, string) {
	return r.PathValue("feature"), r.PathValue("limitKey")
}
