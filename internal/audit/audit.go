package audit

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/platform/middleware"
)

// Event is one immutable trail entry.
type Event struct {
	ActorID      string
	TenantID     string
	PartnerID    string
	Action       string // e.g. "access.denied", "scope.override"
	ResourceType string // e.g. "tenant", "feature"
	ResourceID   string
	Changes      map[string]any
	Request      RequestMetadata
}

// RequestMetadata describes the inbound request that produced an event.
type RequestMetadata struct {
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

const (
	ActionAccessDenied       = "access.denied"
	ActionScopeOverride      = "scope.override"
	ActionScopeCrossTenant   = "scope.cross_tenant"
	ActionFeatureDenied      = "feature.denied"
	ActionSubscriptionDenied = "subscription.denied"
	ActionUsageLimitReached  = "usage.limit_reached"
)

const (
	MetadataGate        = "gate"
	MetadataRequirement = "requirement"
	MetadataReason      = "reason"
	MetadataFeature     = "feature"
	MetadataLimitKey    = "limit_key"
	MetadataLimit       = "limit"
)

// Recorder is the sink gates write to. Record is best-effort: it never
// blocks on storage and never reports failure to the caller.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// Logger is a Recorder with a lifecycle.
type Logger interface {
	Recorder
	Close() error
}

// NopLogger discards events. Used in tests and when no database is configured.
type NopLogger struct{}

func (NopLogger) Record(context.Context, Event) {}
func (NopLogger) Close() error                  { return nil }

// NewEvent starts an event for actor acting through r.
func NewEvent(r *http.Request, actor access.Actor, action string) Event {
	e := Event{ActorID: actor.UserID, Action: action, Request: MetadataFromRequest(r)}
	if id, ok := actor.TenantID(); ok {
		e.TenantID = id
	}
	if id, ok := actor.PartnerID(); ok {
		e.PartnerID = id
	}
	return e
}

// MetadataFromRequest captures request details for an audit entry.
func MetadataFromRequest(r *http.Request) RequestMetadata {
	return RequestMetadata{
		RequestID: middleware.GetRequestID(r.Context()),
		Method:    r.Method,
		Path:      r.URL.Path,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
