package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/valinor-ai/gatehouse/internal/access"
)

// Reader is the subset of Store the handlers depend on.
type Reader interface {
	Create(ctx context.Context, name, slug, partnerID string) (Tenant, error)
	GetByID(ctx context.Context, id string) (Tenant, error)
	List(ctx context.Context, f access.Filter) ([]Tenant, error)
}

// Handler handles tenant HTTP endpoints. Every route runs behind the scope
// gates, so handlers only apply the resolved scope.
type Handler struct {
	store Reader
}

// NewHandler creates a new tenant handler.
func NewHandler(store Reader) *Handler {
	return &Handler{store: store}
}

// HandleCreate creates a new tenant. Super admin only.
// POST /api/v1/tenants
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req struct {
		Name      string `json:"name"`
		Slug      string `json:"slug"`
		PartnerID string `json:"partner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		access.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name == "" || req.Slug == "" {
		access.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "name and slug are required"})
		return
	}

	t, err := h.store.Create(r.Context(), req.Name, req.Slug, req.PartnerID)
	if err != nil {
		if errors.Is(err, ErrInvalidSlug) {
			access.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		access.WriteError(w, err)
		return
	}

	access.WriteJSON(w, http.StatusCreated, t)
}

// HandleGet returns the tenant the ownership gate validated.
// GET /api/v1/tenants/{tenantID}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.GetByID(r.Context(), r.PathValue("tenantID"))
	if err != nil {
		access.WriteError(w, err)
		return
	}
	access.WriteJSON(w, http.StatusOK, t)
}

// HandleList returns the tenants inside the request's scope.
// GET /api/v1/tenants and GET /api/v1/partners/{partnerID}/tenants
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	rc, ok := access.FromContext(r.Context())
	if !ok {
		access.WriteError(w, access.Unauthorized("authentication required"))
		return
	}
	filter, err := rc.Scope().Filter()
	if err != nil {
		access.WriteError(w, access.Forbidden("no tenant scope resolved for this request"))
		return
	}

	tenants, err := h.store.List(r.Context(), filter)
	if err != nil {
		access.WriteError(w, err)
		return
	}
	if tenants == nil {
		tenants = []Tenant{}
	}
	access.WriteJSON(w, http.StatusOK, tenants)
}
