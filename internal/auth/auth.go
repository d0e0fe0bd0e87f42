// Package auth authenticates bearer tokens into an Identity. What the
// identity may do is decided downstream from stored memberships.
package auth

import (
	"errors"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Identity is who a token says the caller is.
type Identity struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	TokenType string `json:"token_type"`
	TokenID   string `json:"token_id,omitempty"`
}

// Service issues and validates tokens.
type Service interface {
	CreateAccessToken(identity *Identity) (string, error)
	CreateRefreshToken(identity *Identity) (string, error)
	ValidateToken(tokenString string) (*Identity, error)
}
