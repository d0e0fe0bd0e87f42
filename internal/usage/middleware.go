package usage

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/audit"
	"github.com/valinor-ai/gatehouse/internal/metrics"
)

// RemainingHeader reports the quota left after the gate admitted a request.
const RemainingHeader = "X-Usage-Remaining"

// commitWriter captures the status written by the wrapped handler.
type commitWriter struct {
	http.ResponseWriter
	status int
}

func (w *commitWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *commitWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *commitWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *commitWriter) succeeded() bool {
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	return status >= 200 && status < 300
}

// Gate returns middleware that admits a request only while limitKey of
// feature has quota left, and counts one unit when the handler succeeds.
// A strict ledger reserves the unit up front and releases it on failure.
func (l *Ledger) Gate(feature, limitKey string) func(http.Handler) http.Handler {
	return l.GateFrom(func(*http.Request) (string, string) { return feature, limitKey })
}

// GateFrom is Gate with the feature and limit key resolved per request.
func (l *Ledger) GateFrom(target func(*http.Request) (feature, limitKey string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			feature, limitKey := target(r)
			rc, ok := access.FromContext(r.Context())
			if !ok {
				metrics.ObserveDecision(metrics.GateUsage, metrics.OutcomeUnauthorized)
				access.WriteError(w, access.Unauthorized("authentication required"))
				return
			}

			var (
				allowance   Allowance
				reservation *Reservation
				err         error
			)
			if l.strict {
				reservation, err = l.Reserve(r.Context(), rc, feature, limitKey, 1)
				if reservation != nil {
					allowance = reservation.Allowance
				}
			} else {
				allowance, err = l.CheckUsageLimit(r.Context(), rc, feature, limitKey)
			}
			if err != nil {
				l.deny(r, rc, feature, limitKey, err)
				access.WriteError(w, err)
				return
			}

			if rc.IsSuperAdmin() {
				metrics.ObserveDecision(metrics.GateUsage, metrics.OutcomeBypass)
			} else {
				metrics.ObserveDecision(metrics.GateUsage, metrics.OutcomeAllowed)
			}
			if !allowance.Unlimited() {
				// Quota left once this request's unit is counted. A
				// reservation already includes it.
				remaining := allowance.Remaining
				if reservation == nil {
					remaining--
				}
				rc = rc.WithRemaining(feature, limitKey, remaining)
				w.Header().Set(RemainingHeader, strconv.FormatInt(remaining, 10))
			}

			cw := &commitWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r.WithContext(access.WithRequestContext(r.Context(), rc)))

			switch {
			case reservation != nil && reservation.amount > 0:
				if !cw.succeeded() {
					reservation.Release(r.Context())
				}
			case cw.succeeded():
				l.IncrementUsage(r.Context(), rc, feature, 1)
			}
		})
	}
}

func (l *Ledger) deny(r *http.Request, rc access.RequestContext, feature, limitKey string, err error) {
	metrics.ObserveError(metrics.GateUsage, err)
	if !errors.Is(err, access.ErrForbidden) {
		return
	}
	evt := audit.NewEvent(r, rc.Actor(), audit.ActionUsageLimitReached)
	evt.ResourceType = "feature"
	evt.ResourceID = feature
	evt.Changes = map[string]any{
		audit.MetadataGate:     metrics.GateUsage,
		audit.MetadataReason:   access.Reason(err),
		audit.MetadataFeature:  feature,
		audit.MetadataLimitKey: limitKey,
	}
	if ceiling, bounded, lerr := limitFor(rc, feature, limitKey); lerr == nil && bounded {
		evt.Changes[audit.MetadataLimit] = ceiling
	}
	l.audit.Record(r.Context(), evt)
}
