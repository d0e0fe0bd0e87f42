package membership_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/auth"
	"github.com/valinor-ai/gatehouse/internal/membership"
	"github.com/valinor-ai/gatehouse/internal/usage"
)

type fakeSource struct {
	actors   map[string]access.Actor
	subs     map[string]*access.Subscription
	features map[string][]access.PlanFeature
	err      error
}

func (f *fakeSource) LoadActor(_ context.Context, userID string) (access.Actor, error) {
	if f.err != nil {
		return access.Actor{}, f.err
	}
	a, ok := f.actors[userID]
	if !ok {
		return access.Actor{}, membership.ErrUnknownUser
	}
	return a, nil
}

func (f *fakeSource) LoadSubscription(_ context.Context, tenantID string) (*access.Subscription, []access.PlanFeature, error) {
	return f.subs[tenantID], f.features[tenantID], nil
}

var period = access.Period{
	Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
}

func newSource() *fakeSource {
	return &fakeSource{
		actors: map[string]access.Actor{
			"u1": access.NewActor("u1", false,
				&access.TenantMembership{TenantID: "t1", Role: access.TenantRoleManager}, nil),
			"p1-admin": access.NewActor("p1-admin", false, nil,
				&access.PartnerMembership{PartnerID: "p1", Role: access.PartnerRoleAdmin}),
			"root": access.NewActor("root", true, nil, nil),
		},
		subs: map[string]*access.Subscription{
			"t1": {ID: "sub-1", TenantID: "t1", PlanID: "plan-1", Status: access.StatusActive,
				CurrentPeriodStart: period.Start, CurrentPeriodEnd: period.End},
		},
		features: map[string][]access.PlanFeature{
			"t1": {
				{Code: "leads", Enabled: true, Limits: access.Limits{"max_leads": 10}},
				{Code: "reports", Enabled: false},
			},
		},
	}
}

func serveAs(h http.Handler, userID string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/me/access", nil)
	if userID != "" {
		r = r.WithContext(auth.WithIdentity(r.Context(), &auth.Identity{UserID: userID}))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_BuildsRequestContext(t *testing.T) {
	var rc access.RequestContext
	h := membership.Middleware(newSource(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, _ = access.FromContext(r.Context())
	}))

	w := serveAs(h, "u1")
	require.Equal(t, http.StatusOK, w.Code)

	tenantID, ok := rc.Actor().TenantID()
	require.True(t, ok)
	assert.Equal(t, "t1", tenantID)
	sub, ok := rc.Subscription()
	require.True(t, ok)
	assert.Equal(t, "sub-1", sub.ID)
	assert.Equal(t, []string{"leads"}, rc.FeatureCodes())
}

func TestMiddleware_PartnerHasNoSubscription(t *testing.T) {
	var rc access.RequestContext
	h := membership.Middleware(newSource(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, _ = access.FromContext(r.Context())
	}))

	serveAs(h, "p1-admin")
	_, ok := rc.Subscription()
	assert.False(t, ok)
	partnerID, _ := rc.Actor().PartnerID()
	assert.Equal(t, "p1", partnerID)
}

func TestMiddleware_Failures(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	assert.Equal(t, http.StatusUnauthorized, serveAs(membership.Middleware(newSource(), nil)(next), "").Code)
	assert.Equal(t, http.StatusUnauthorized, serveAs(membership.Middleware(newSource(), nil)(next), "ghost").Code)

	broken := newSource()
	broken.err = errors.New("connection reset")
	assert.Equal(t, http.StatusInternalServerError, serveAs(membership.Middleware(broken, nil)(next), "u1").Code)
}

func TestHandleGetAccess(t *testing.T) {
	src := newSource()
	ledger := usage.NewLedger(usage.NewMemoryStore(), usage.WithClock(func() time.Time { return period.Start.Add(time.Hour) }))

	rc, err := membership.Resolve(context.Background(), src, "u1")
	require.NoError(t, err)
	ledger.IncrementUsage(context.Background(), rc, "leads", 4)

	h := membership.Middleware(src, nil)(http.HandlerFunc(membership.NewHandler(ledger).HandleGetAccess))
	w := serveAs(h, "u1")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		UserID       string   `json:"user_id"`
		IsSuperAdmin bool     `json:"is_super_admin"`
		Roles        []string `json:"roles"`
		Scope        string   `json:"scope"`
		Subscription *struct {
			Status string `json:"status"`
		} `json:"subscription"`
		Features []struct {
			Code   string           `json:"code"`
			Limits map[string]int64 `json:"limits"`
			Used   int64            `json:"used"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "u1", body.UserID)
	assert.False(t, body.IsSuperAdmin)
	assert.Equal(t, []string{"tenant_manager"}, body.Roles)
	assert.Equal(t, "tenant:t1", body.Scope)
	require.NotNil(t, body.Subscription)
	assert.Equal(t, "active", body.Subscription.Status)
	require.Len(t, body.Features, 1)
	assert.Equal(t, "leads", body.Features[0].Code)
	assert.Equal(t, int64(10), body.Features[0].Limits["max_leads"])
	assert.Equal(t, int64(4), body.Features[0].Used)
}

func TestHandleGetAccess_SuperAdmin(t *testing.T) {
	h := membership.Middleware(newSource(), nil)(http.HandlerFunc(membership.NewHandler(nil).HandleGetAccess))
	w := serveAs(h, "root")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["is_super_admin"])
	assert.Equal(t, "unrestricted", body["scope"])
	assert.Nil(t, body["subscription"])
}
