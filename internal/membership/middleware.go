package membership

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/auth"
)

// Source supplies the persisted facts a request context is built from.
type Source interface {
	LoadActor(ctx context.Context, userID string) (access.Actor, error)
	LoadSubscription(ctx context.Context, tenantID string) (*access.Subscription, []access.PlanFeature, error)
}

// Middleware resolves the authenticated identity into an access.RequestContext.
// It must run after auth.Middleware.
func Middleware(src Source, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.GetIdentity(r.Context())
			if identity == nil {
				access.WriteError(w, access.Unauthorized("authentication required"))
				return
			}

			rc, err := Resolve(r.Context(), src, identity.UserID)
			if err != nil {
				if errors.Is(err, access.ErrUnauthorized) {
					access.WriteError(w, access.Unauthorized("unknown user"))
					return
				}
				logger.Error("resolving request context", "error", err, "user_id", identity.UserID)
				access.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(access.WithRequestContext(r.Context(), rc)))
		})
	}
}

// Resolve loads the actor for userID and, when it belongs to a tenant, the
// tenant's subscription.
func Resolve(ctx context.Context, src Source, userID string) (access.RequestContext, error) {
	actor, err := src.LoadActor(ctx, userID)
	if err != nil {
		return access.RequestContext{}, err
	}

	var (
		sub      *access.Subscription
		features []access.PlanFeature
	)
	if tenantID, ok := actor.TenantID(); ok {
		sub, features, err = src.LoadSubscription(ctx, tenantID)
		if err != nil {
			return access.RequestContext{}, err
		}
	}
	return access.NewRequestContext(actor, sub, features), nil
}
