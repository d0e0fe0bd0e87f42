// Package server wires the authorization gates into the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/audit"
	"github.com/valinor-ai/gatehouse/internal/auth"
	"github.com/valinor-ai/gatehouse/internal/entitlement"
	"github.com/valinor-ai/gatehouse/internal/membership"
	"github.com/valinor-ai/gatehouse/internal/metrics"
	"github.com/valinor-ai/gatehouse/internal/platform/database"
	"github.com/valinor-ai/gatehouse/internal/platform/middleware"
	"github.com/valinor-ai/gatehouse/internal/rbac"
	"github.com/valinor-ai/gatehouse/internal/scope"
	"github.com/valinor-ai/gatehouse/internal/tenant"
	"github.com/valinor-ai/gatehouse/internal/usage"
)

// AuditReadPermission grants tenant members access to the audit trail.
const AuditReadPermission = "audit:read"

// Dependencies holds all injected dependencies for the server.
type Dependencies struct {
	Pool         *pgxpool.Pool
	Auth         *auth.TokenService
	DevMode      bool
	DevIdentity  *auth.Identity
	Membership   membership.Source
	Scope        *scope.Enforcer
	Entitlements *entitlement.Evaluator
	Ledger       *usage.Ledger
	Audit        audit.Recorder

	TenantHandler *tenant.Handler
	AccessHandler *membership.Handler
	AuditHandler  *audit.Handler

	Logger             *slog.Logger
	CORSAllowedOrigins []string
	// MetricsPath serves Prometheus metrics when set.
	MetricsPath     string
	ShutdownTimeout time.Duration
}

type Server struct {
	httpServer      *http.Server
	pool            *pgxpool.Pool
	handler         http.Handler
	shutdownTimeout time.Duration
	protect         func(http.Handler) http.Handler
}

func New(addr string, deps Dependencies) *Server {
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		pool:            deps.Pool,
		shutdownTimeout: deps.ShutdownTimeout,
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 10 * time.Second
	}
	s.protect = protection(deps)

	mux := http.NewServeMux()

	// Public routes (no auth required)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReadiness)
	if deps.MetricsPath != "" {
		mux.Handle("GET "+deps.MetricsPath, metrics.Handler())
	}

	if s.protect != nil {
		s.registerRoutes(mux, deps)
	}

	// Wrap the mux with observability middleware
	var handler http.Handler = metrics.Middleware(mux)
	if deps.Logger != nil {
		handler = middleware.Logging(deps.Logger)(handler)
	}
	handler = middleware.RequestID(handler)
	if len(deps.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(deps.CORSAllowedOrigins)(handler)
	}

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

// protection authenticates the bearer token and resolves the request
// context. Without a token service no protected route is served.
func protection(deps Dependencies) func(http.Handler) http.Handler {
	if deps.Auth == nil || deps.Membership == nil {
		return nil
	}
	authenticate := auth.Middleware(deps.Auth)
	if deps.DevMode && deps.DevIdentity != nil {
		authenticate = auth.MiddlewareWithDevMode(deps.Auth, deps.DevIdentity)
	}
	resolve := membership.Middleware(deps.Membership, deps.Logger)
	return func(h http.Handler) http.Handler {
		return authenticate(resolve(h))
	}
}

// chain applies gates outermost first.
func chain(h http.Handler, gates ...func(http.Handler) http.Handler) http.Handler {
	for i := len(gates) - 1; i >= 0; i-- {
		h = gates[i](h)
	}
	return h
}

func featurePath(r *http.Request) string { return r.PathValue("feature") }

// registerRoutes binds every protected route to its gate chain in the fixed
// order role, scope, entitlement, usage.
func (s *Server) registerRoutes(mux *http.ServeMux, deps Dependencies) {
	var rbacOpts []rbac.MiddlewareOption
	if deps.Audit != nil {
		rbacOpts = append(rbacOpts, rbac.WithAuditRecorder(deps.Audit))
	}
	anyTenantMember := rbac.RequireTenantRole(access.TenantRoleUser, rbacOpts...)

	handle := func(pattern string, h http.HandlerFunc, gates ...func(http.Handler) http.Handler) {
		mux.Handle(pattern, s.protect(chain(h, gates...)))
	}

	if deps.AccessHandler != nil {
		handle("GET /api/v1/me/access", deps.AccessHandler.HandleGetAccess)
	}

	if deps.TenantHandler != nil && deps.Scope != nil {
		handle("POST /api/v1/tenants", deps.TenantHandler.HandleCreate,
			rbac.RequireSuperAdmin(rbacOpts...))
		handle("GET /api/v1/tenants", deps.TenantHandler.HandleList,
			anyTenantMember, deps.Scope.TenantScope)
		handle("GET /api/v1/tenants/{tenantID}", deps.TenantHandler.HandleGet,
			anyTenantMember, deps.Scope.TenantOwnership("tenantID"))
		handle("GET /api/v1/partners/{partnerID}/tenants", deps.TenantHandler.HandleList,
			rbac.RequirePartnerRole(access.PartnerRoleViewer, rbacOpts...), deps.Scope.PartnerAccess("partnerID"))
	}

	if deps.Ledger != nil && deps.Entitlements != nil && deps.Scope != nil {
		entitled := []func(http.Handler) http.Handler{
			anyTenantMember,
			deps.Scope.TenantScope,
			deps.Entitlements.ActiveSubscription,
			deps.Entitlements.FeatureFrom(featurePath),
		}
		handle("GET /api/v1/usage/{feature}", deps.Ledger.HandleGetUsage, entitled...)
		handle("GET /api/v1/features/{feature}/limits/{limitKey}", deps.Ledger.HandleCheck, entitled...)
		handle("POST /api/v1/features/{feature}/limits/{limitKey}/consume", deps.Ledger.HandleConsume,
			append(entitled, deps.Ledger.GateFrom(usage.PathTarget))...)
	}

	if deps.AuditHandler != nil && deps.Scope != nil {
		handle("GET /api/v1/audit/events", deps.AuditHandler.HandleListEvents,
			rbac.RequirePermission(AuditReadPermission, rbacOpts...), deps.Scope.TenantScope)
	}
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	access.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		access.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database not connected",
		})
		return
	}

	if err := database.Ready(r.Context(), s.pool, 2*time.Second); err != nil {
		access.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database ping failed",
		})
		return
	}

	access.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
