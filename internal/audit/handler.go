package audit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/platform/database"
)

// Handler serves audit query endpoints.
type Handler struct {
	pool  *database.Pool
	store *Store
}

// NewHandler creates an audit query handler.
func NewHandler(pool *database.Pool, store *Store) *Handler {
	if store == nil {
		store = NewStore()
	}
	return &Handler{pool: pool, store: store}
}

// HandleListEvents returns audit events inside the request's scope.
// GET /api/v1/audit/events?limit=50&after=<rfc3339>&before=<rfc3339>&action=&resource_type=&actor_id=
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
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

	q := r.URL.Query()
	params := ListEventsParams{Scope: filter, Limit: 50}

	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			params.Limit = n
		}
	}
	for key, dst := range map[string]**time.Time{"after": &params.After, "before": &params.Before} {
		if raw := q.Get(key); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				access.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + key + " timestamp"})
				return
			}
			*dst = &t
		}
	}
	if v := q.Get("action"); v != "" {
		params.Action = &v
	}
	if v := q.Get("resource_type"); v != "" {
		params.ResourceType = &v
	}
	if v := q.Get("actor_id"); v != "" {
		if _, err := uuid.Parse(v); err != nil {
			access.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid actor_id"})
			return
		}
		params.ActorID = &v
	}

	if h.pool == nil {
		access.WriteJSON(w, http.StatusOK, map[string]any{"events": []any{}, "count": 0})
		return
	}

	var events []EventRecord
	if filter.TenantID != "" {
		// Tenant-restricted reads also go through row-level security.
		err = database.WithTenantConnection(r.Context(), h.pool, filter.TenantID, func(ctx context.Context, q database.Querier) error {
			var listErr error
			events, listErr = h.store.List(ctx, q, params)
			return listErr
		})
	} else {
		events, err = h.store.List(r.Context(), h.pool, params)
	}
	if err != nil {
		access.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if events == nil {
		events = []EventRecord{}
	}

	access.WriteJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}
