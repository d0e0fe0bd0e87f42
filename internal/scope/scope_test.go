package scope_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/audit"
	"github.com/valinor-ai/gatehouse/internal/scope"
)

type fakeDirectory struct {
	tenants  map[string]scope.TenantRecord
	partners map[string]scope.PartnerRecord
}

func (d fakeDirectory) LookupTenant(_ context.Context, id string) (scope.TenantRecord, error) {
	t, ok := d.tenants[id]
	if !ok {
		return scope.TenantRecord{}, access.NotFound("tenant not found")
	}
	return t, nil
}

func (d fakeDirectory) LookupPartner(_ context.Context, id string) (scope.PartnerRecord, error) {
	p, ok := d.partners[id]
	if !ok {
		return scope.PartnerRecord{}, access.NotFound("partner not found")
	}
	return p, nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Record(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

var dir = fakeDirectory{
	tenants: map[string]scope.TenantRecord{
		"t1": {ID: "t1", PartnerID: "p1", Name: "Acme"},
		"t2": {ID: "t2", PartnerID: "p1", Name: "Globex"},
		"t3": {ID: "t3", PartnerID: "p2", Name: "Initech"},
		"t4": {ID: "t4", Name: "Direct Co"},
	},
	partners: map[string]scope.PartnerRecord{
		"p1": {ID: "p1", Name: "Northwind"},
		"p2": {ID: "p2", Name: "Contoso"},
	},
}

func superAdmin() access.RequestContext {
	return access.NewRequestContext(access.NewActor("root", true, nil, nil), nil, nil)
}

func tenantUser(tenantID string) access.RequestContext {
	return access.NewRequestContext(access.NewActor("u1", false,
		&access.TenantMembership{TenantID: tenantID, Role: access.TenantRoleUser}, nil), nil, nil)
}

func partnerAdmin(partnerID string) access.RequestContext {
	return access.NewRequestContext(access.NewActor("u2", false, nil,
		&access.PartnerMembership{PartnerID: partnerID, Role: access.PartnerRoleAdmin}), nil, nil)
}

func req() *http.Request { return httptest.NewRequest(http.MethodGet, "/", nil) }

func TestEnforceTenantScope(t *testing.T) {
	s, err := scope.EnforceTenantScope(superAdmin())
	require.NoError(t, err)
	assert.True(t, s.IsUnrestricted())
	f, err := s.Filter()
	require.NoError(t, err)
	assert.True(t, f.Empty())

	s, err = scope.EnforceTenantScope(tenantUser("t1"))
	require.NoError(t, err)
	f, err = s.Filter()
	require.NoError(t, err)
	assert.Equal(t, access.Filter{TenantID: "t1"}, f)

	_, err = scope.EnforceTenantScope(partnerAdmin("p1"))
	assert.ErrorIs(t, err, access.ErrForbidden)
}

func TestEnforcePartnerScope(t *testing.T) {
	s, err := scope.EnforcePartnerScope(partnerAdmin("p1"))
	require.NoError(t, err)
	f, err := s.Filter()
	require.NoError(t, err)
	assert.Equal(t, access.Filter{PartnerID: "p1"}, f)

	s, err = scope.EnforcePartnerScope(superAdmin())
	require.NoError(t, err)
	assert.True(t, s.IsUnrestricted())

	_, err = scope.EnforcePartnerScope(tenantUser("t1"))
	assert.ErrorIs(t, err, access.ErrForbidden)
}

func TestValidateTenantOwnership_TenantActor(t *testing.T) {
	enf := scope.NewEnforcer(dir, nil)

	got, err := enf.ValidateTenantOwnership(context.Background(), req(), tenantUser("t1"), "t1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)

	for _, other := range []string{"t2", "t3", "missing"} {
		_, err = enf.ValidateTenantOwnership(context.Background(), req(), tenantUser("t1"), other)
		assert.ErrorIs(t, err, access.ErrForbidden, other)
	}
}

func TestValidateTenantOwnership_PartnerActor(t *testing.T) {
	enf := scope.NewEnforcer(dir, nil)
	rc := partnerAdmin("p1")

	for _, own := range []string{"t1", "t2"} {
		got, err := enf.ValidateTenantOwnership(context.Background(), req(), rc, own)
		require.NoError(t, err)
		assert.Equal(t, own, got.ID)
	}

	for _, hidden := range []string{"t3", "t4", "missing"} {
		_, err := enf.ValidateTenantOwnership(context.Background(), req(), rc, hidden)
		require.Error(t, err)
		assert.ErrorIs(t, err, access.ErrNotFound, hidden)
		assert.Equal(t, "tenant not found", access.Reason(err))
	}
}

func TestValidateTenantOwnership_SuperAdmin(t *testing.T) {
	rec := &recordingAudit{}
	enf := scope.NewEnforcer(dir, rec)

	got, err := enf.ValidateTenantOwnership(context.Background(), req(), superAdmin(), "t3")
	require.NoError(t, err)
	assert.Equal(t, "p2", got.PartnerID)
	assert.Equal(t, []string{audit.ActionScopeCrossTenant}, rec.actions())

	_, err = enf.ValidateTenantOwnership(context.Background(), req(), superAdmin(), "missing")
	assert.ErrorIs(t, err, access.ErrNotFound)
}

func TestValidateTenantOwnership_NoMembership(t *testing.T) {
	enf := scope.NewEnforcer(dir, nil)
	rc := access.NewRequestContext(access.NewActor("ghost", false, nil, nil), nil, nil)

	_, err := enf.ValidateTenantOwnership(context.Background(), req(), rc, "t1")
	assert.ErrorIs(t, err, access.ErrForbidden)
}

func TestValidatePartnerAccess(t *testing.T) {
	rec := &recordingAudit{}
	enf := scope.NewEnforcer(dir, rec)

	p, err := enf.ValidatePartnerAccess(context.Background(), req(), partnerAdmin("p1"), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Northwind", p.Name)

	_, err = enf.ValidatePartnerAccess(context.Background(), req(), partnerAdmin("p1"), "p2")
	assert.ErrorIs(t, err, access.ErrForbidden)

	_, err = enf.ValidatePartnerAccess(context.Background(), req(), tenantUser("t1"), "p1")
	assert.ErrorIs(t, err, access.ErrForbidden)

	_, err = enf.ValidatePartnerAccess(context.Background(), req(), superAdmin(), "p2")
	require.NoError(t, err)
	_, err = enf.ValidatePartnerAccess(context.Background(), req(), superAdmin(), "p9")
	assert.ErrorIs(t, err, access.ErrNotFound)

	assert.Equal(t, []string{audit.ActionScopeCrossTenant}, rec.actions())
}

func TestSetTenantContext_IgnoredForNonSuperAdmin(t *testing.T) {
	rec := &recordingAudit{}
	enf := scope.NewEnforcer(dir, rec)
	r := req()
	r.Header.Set(scope.TenantHeader, "t3")

	for _, rc := range []access.RequestContext{tenantUser("t1"), partnerAdmin("p1")} {
		got, err := enf.SetTenantContext(context.Background(), r, rc)
		require.NoError(t, err)
		assert.False(t, got.Scope().IsOverride())
	}
	assert.Empty(t, rec.events)
}

func TestSetTenantContext_SuperAdminHeader(t *testing.T) {
	rec := &recordingAudit{}
	enf := scope.NewEnforcer(dir, rec)
	r := req()
	r.Header.Set(scope.TenantHeader, "t3")

	got, err := enf.SetTenantContext(context.Background(), r, superAdmin())
	require.NoError(t, err)
	assert.True(t, got.Scope().IsOverride())
	id, ok := got.Scope().TenantID()
	assert.True(t, ok)
	assert.Equal(t, "t3", id)

	s, err := scope.EnforceTenantScope(got)
	require.NoError(t, err)
	f, err := s.Filter()
	require.NoError(t, err)
	assert.Equal(t, "t3", f.TenantID)

	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.ActionScopeOverride, rec.events[0].Action)
	assert.Equal(t, "t3", rec.events[0].TenantID)
	assert.Equal(t, "root", rec.events[0].ActorID)
}

func TestSetTenantContext_SuperAdminQueryParam(t *testing.T) {
	enf := scope.NewEnforcer(dir, nil)
	r := httptest.NewRequest(http.MethodGet, "/api/v1/usage/leads?tenant_id=t2", nil)

	got, err := enf.SetTenantContext(context.Background(), r, superAdmin())
	require.NoError(t, err)
	id, _ := got.Scope().TenantID()
	assert.Equal(t, "t2", id)
}

func TestSetTenantContext_UnknownTenant(t *testing.T) {
	enf := scope.NewEnforcer(dir, nil)
	r := req()
	r.Header.Set(scope.TenantHeader, "nope")

	_, err := enf.SetTenantContext(context.Background(), r, superAdmin())
	assert.ErrorIs(t, err, access.ErrNotFound)
}

func TestSetTenantContext_LookupFailurePropagates(t *testing.T) {
	enf := scope.NewEnforcer(failingDirectory{}, nil)
	r := req()
	r.Header.Set(scope.TenantHeader, "t1")

	_, err := enf.SetTenantContext(context.Background(), r, superAdmin())
	require.Error(t, err)
	assert.False(t, errors.Is(err, access.ErrNotFound))
}

type failingDirectory struct{}

func (failingDirectory) LookupTenant(context.Context, string) (scope.TenantRecord, error) {
	return scope.TenantRecord{}, errors.New("connection refused")
}

func (failingDirectory) LookupPartner(context.Context, string) (scope.PartnerRecord, error) {
	return scope.PartnerRecord{}, errors.New("connection refused")
}

type subscriptionsByTenant map[string]*access.Subscription

func (s subscriptionsByTenant) LoadSubscription(_ context.Context, tenantID string) (*access.Subscription, []access.PlanFeature, error) {
	sub, ok := s[tenantID]
	if !ok {
		return nil, nil, errors.New("connection refused")
	}
	return sub, []access.PlanFeature{{Code: "leads", Enabled: true, Limits: access.Limits{"max_leads": 10}}}, nil
}

func TestSetTenantContext_LoadsSwitchedSubscription(t *testing.T) {
	subs := subscriptionsByTenant{"t3": {ID: "sub-t3", TenantID: "t3", Status: access.StatusActive}}
	enf := scope.NewEnforcer(dir, nil, scope.WithSubscriptions(subs))
	r := req()
	r.Header.Set(scope.TenantHeader, "t3")

	got, err := enf.SetTenantContext(context.Background(), r, superAdmin())
	require.NoError(t, err)
	sub, ok := got.Subscription()
	require.True(t, ok)
	assert.Equal(t, "sub-t3", sub.ID)
	pf, ok := got.PlanFeature("leads")
	require.True(t, ok)
	assert.Equal(t, int64(10), pf.Limits["max_leads"])
	assert.True(t, got.Scope().IsOverride())

	// No switch requested: nothing is loaded.
	got, err = enf.SetTenantContext(context.Background(), req(), superAdmin())
	require.NoError(t, err)
	_, ok = got.Subscription()
	assert.False(t, ok)
}

func TestSetTenantContext_SubscriptionFailurePropagates(t *testing.T) {
	enf := scope.NewEnforcer(dir, nil, scope.WithSubscriptions(subscriptionsByTenant{}))
	r := req()
	r.Header.Set(scope.TenantHeader, "t1")

	_, err := enf.SetTenantContext(context.Background(), r, superAdmin())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading subscription for tenant t1")
}
