package membership

import (
	"net/http"

	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/rbac"
	"github.com/valinor-ai/gatehouse/internal/scope"
	"github.com/valinor-ai/gatehouse/internal/usage"
)

// Handler serves the caller's own access summary.
type Handler struct {
	ledger *usage.Ledger
}

func NewHandler(ledger *usage.Ledger) *Handler {
	return &Handler{ledger: ledger}
}

type featureSummary struct {
	Code   string        `json:"code"`
	Limits access.Limits `json:"limits"`
	Used   int64         `json:"used"`
}

type accessSummary struct {
	UserID       string               `json:"user_id"`
	IsSuperAdmin bool                 `json:"is_super_admin"`
	Roles        []string             `json:"roles"`
	TenantID     string               `json:"tenant_id,omitempty"`
	PartnerID    string               `json:"partner_id,omitempty"`
	Scope        string               `json:"scope"`
	Subscription *access.Subscription `json:"subscription"`
	Features     []featureSummary     `json:"features"`
}

// HandleGetAccess reports role facts, effective scope, subscription and
// enabled features with current-period usage.
// GET /api/v1/me/access
func (h *Handler) HandleGetAccess(w http.ResponseWriter, r *http.Request) {
	rc, ok := access.FromContext(r.Context())
	if !ok {
		access.WriteError(w, access.Unauthorized("authentication required"))
		return
	}
	actor := rc.Actor()
	facts := rbac.Resolve(actor)

	out := accessSummary{
		UserID:       actor.UserID,
		IsSuperAdmin: facts.IsSuperAdmin(),
		Roles:        []string{},
		Scope:        "none",
		Features:     []featureSummary{},
	}
	for _, role := range facts.Roles() {
		out.Roles = append(out.Roles, role.String())
	}
	out.TenantID, _ = actor.TenantID()
	out.PartnerID, _ = actor.PartnerID()

	if s := rc.Scope(); s.Valid() {
		out.Scope = s.String()
	} else if s, err := scope.EnforceTenantScope(rc); err == nil {
		out.Scope = s.String()
	} else if s, err := scope.EnforcePartnerScope(rc); err == nil {
		out.Scope = s.String()
	}

	if sub, ok := rc.Subscription(); ok {
		out.Subscription = &sub
	}

	for _, pf := range rc.PlanFeatures() {
		fs := featureSummary{Code: pf.Code, Limits: pf.Limits}
		if fs.Limits == nil {
			fs.Limits = access.Limits{}
		}
		if h.ledger != nil && out.Subscription != nil {
			used, _, err := h.ledger.Usage(r.Context(), rc, pf.Code)
			if err != nil {
				access.WriteError(w, err)
				return
			}
			fs.Used = used
		}
		out.Features = append(out.Features, fs)
	}

	access.WriteJSON(w, http.StatusOK, out)
}
