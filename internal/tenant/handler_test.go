package tenant_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/tenant"
)

type fakeStore struct {
	tenants []tenant.Tenant
}

func (f *fakeStore) Create(_ context.Context, name, slug, partnerID string) (tenant.Tenant, error) {
	if err := tenant.ValidateSlug(slug); err != nil {
		return tenant.Tenant{}, err
	}
	for _, t := range f.tenants {
		if t.Slug == slug {
			return tenant.Tenant{}, tenant.ErrSlugTaken
		}
	}
	t := tenant.Tenant{ID: "t-new", Name: name, Slug: slug, PartnerID: partnerID, Status: "active"}
	f.tenants = append(f.tenants, t)
	return t, nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (tenant.Tenant, error) {
	for _, t := range f.tenants {
		if t.ID == id {
			return t, nil
		}
	}
	return tenant.Tenant{}, tenant.ErrTenantNotFound
}

func (f *fakeStore) List(_ context.Context, filter access.Filter) ([]tenant.Tenant, error) {
	var out []tenant.Tenant
	for _, t := range f.tenants {
		if filter.TenantID != "" && t.ID != filter.TenantID {
			continue
		}
		if filter.PartnerID != "" && t.PartnerID != filter.PartnerID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func newFakeStore() *fakeStore {
	return &fakeStore{tenants: []tenant.Tenant{
		{ID: "t1", PartnerID: "p1", Name: "Acme", Slug: "acme"},
		{ID: "t2", PartnerID: "p1", Name: "Globex", Slug: "globex"},
		{ID: "t3", Name: "Initech", Slug: "initech"},
	}}
}

func withScope(r *http.Request, s access.Scope) *http.Request {
	rc := access.NewRequestContext(access.NewActor("u1", false, nil, nil), nil, nil).WithScope(s)
	return r.WithContext(access.WithRequestContext(r.Context(), rc))
}

func listIDs(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code)
	var tenants []tenant.Tenant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tenants))
	ids := make([]string, 0, len(tenants))
	for _, tn := range tenants {
		ids = append(ids, tn.ID)
	}
	return ids
}

func TestHandleList_AppliesScope(t *testing.T) {
	h := tenant.NewHandler(newFakeStore())

	partner, err := access.RestrictedToPartner("p1")
	require.NoError(t, err)
	own, err := access.RestrictedToTenant("t3")
	require.NoError(t, err)

	tests := []struct {
		name  string
		scope access.Scope
		want  []string
	}{
		{"unrestricted", access.Unrestricted(), []string{"t1", "t2", "t3"}},
		{"partner", partner, []string{"t1", "t2"}},
		{"tenant", own, []string{"t3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.HandleList(w, withScope(httptest.NewRequest(http.MethodGet, "/api/v1/tenants", nil), tt.scope))
			assert.Equal(t, tt.want, listIDs(t, w))
		})
	}
}

func TestHandleList_RequiresScope(t *testing.T) {
	h := tenant.NewHandler(newFakeStore())

	w := httptest.NewRecorder()
	h.HandleList(w, httptest.NewRequest(http.MethodGet, "/api/v1/tenants", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	h.HandleList(w, withScope(httptest.NewRequest(http.MethodGet, "/api/v1/tenants", nil), access.Scope{}))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleGet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/tenants/{tenantID}", tenant.NewHandler(newFakeStore()).HandleGet)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tenants/t2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got tenant.Tenant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Globex", got.Name)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tenants/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "tenant not found")
}

func TestHandleCreate(t *testing.T) {
	h := tenant.NewHandler(newFakeStore())

	tests := []struct {
		name string
		body string
		want int
	}{
		{"created", `{"name": "Hooli", "slug": "hooli", "partner_id": "p1"}`, http.StatusCreated},
		{"bad json", `{`, http.StatusBadRequest},
		{"missing fields", `{"name": "Hooli"}`, http.StatusBadRequest},
		{"invalid slug", `{"name": "X", "slug": "A!"}`, http.StatusBadRequest},
		{"reserved slug", `{"name": "X", "slug": "admin"}`, http.StatusBadRequest},
		{"duplicate slug", `{"name": "Acme 2", "slug": "acme"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.HandleCreate(w, req)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}
