package entitlement_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/audit"
	"github.com/valinor-ai/gatehouse/internal/entitlement"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Record(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func serve(h http.Handler, rc access.RequestContext) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/leads", nil)
	r = r.WithContext(access.WithRequestContext(r.Context(), rc))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestFeatureMiddleware_PassesLimitsDownstream(t *testing.T) {
	eval := newEvaluator(catalog)
	rc := tenantContext(subscription(access.StatusActive),
		access.PlanFeature{Code: "leads", Enabled: true, Limits: access.Limits{"max_leads": 100}})

	var got access.Limits
	h := eval.Feature("leads")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, _ := access.FromContext(r.Context())
		got, _ = rc.Limits("leads")
		w.WriteHeader(http.StatusCreated)
	}))

	w := serve(h, rc)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, int64(100), got["max_leads"])
}

func TestFeatureMiddleware_DeniedIsAudited(t *testing.T) {
	rec := &recordingAudit{}
	eval := entitlement.NewEvaluator(catalog, entitlement.WithAuditRecorder(rec))

	h := eval.Feature("campaigns")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := serve(h, tenantContext(subscription(access.StatusActive), access.PlanFeature{Code: "campaigns", Enabled: true}))
	assert.Equal(t, http.StatusForbidden, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["reason"], "currently unavailable")

	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.ActionFeatureDenied, rec.events[0].Action)
	assert.Equal(t, "campaigns", rec.events[0].ResourceID)
}

func TestActiveSubscriptionMiddleware(t *testing.T) {
	rec := &recordingAudit{}
	eval := entitlement.NewEvaluator(catalog, entitlement.WithAuditRecorder(rec))
	h := eval.ActiveSubscription(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	assert.Equal(t, http.StatusForbidden, serve(h, tenantContext(subscription(access.StatusSuspended))).Code)
	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.ActionSubscriptionDenied, rec.events[0].Action)
	assert.Equal(t, "sub-1", rec.events[0].ResourceID)
}

func TestFeatureMiddleware_NoRequestContext(t *testing.T) {
	h := newEvaluator(catalog).Feature("leads")(http.NotFoundHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
