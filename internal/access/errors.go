package access

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Decision error kinds. Every gate failure unwraps to exactly one of these.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// Error is a gate decision failure with a user-facing message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

// Unauthorized reports a missing or invalid identity.
func Unauthorized(message string) error {
	return &Error{Kind: ErrUnauthorized, Message: message}
}

// Forbidden reports an authenticated actor lacking a role, scope, entitlement or quota.
func Forbidden(format string, args ...any) error {
	return &Error{Kind: ErrForbidden, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing or undisclosed target. The message must stay generic.
func NotFound(message string) error {
	return &Error{Kind: ErrNotFound, Message: message}
}

// Conflict reports a write that clashes with existing state.
func Conflict(message string) error {
	return &Error{Kind: ErrConflict, Message: message}
}

// Reason returns the user-facing message carried by err.
func Reason(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return ""
}

// StatusCode maps a decision error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as a JSON error body. Errors that are not decision
// errors are reported as a generic internal failure.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	body := map[string]string{}
	var ae *Error
	if errors.As(err, &ae) {
		body["error"] = ae.Kind.Error()
		if ae.Message != "" {
			body["reason"] = ae.Message
		}
	} else {
		body["error"] = "authorization check failed"
	}
	WriteJSON(w, status, body)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
