package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// claims identify the user through the registered subject claim. Roles and
// the super-admin flag are not carried; they are loaded per request.
type claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email,omitempty"`
	TokenType string `json:"typ"`
}

// TokenService issues and validates HS256 bearer tokens.
type TokenService struct {
	signingKey    []byte
	issuer        string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	parser        *jwt.Parser
}

var _ Service = (*TokenService)(nil)

func NewTokenService(signingKey, issuer string, expiryHours, refreshExpiryHours int) *TokenService {
	return &TokenService{
		signingKey:    []byte(signingKey),
		issuer:        issuer,
		accessExpiry:  time.Duration(expiryHours) * time.Hour,
		refreshExpiry: time.Duration(refreshExpiryHours) * time.Hour,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}
}

func (s *TokenService) CreateAccessToken(identity *Identity) (string, error) {
	return s.sign(identity, TokenTypeAccess, s.accessExpiry)
}

func (s *TokenService) CreateRefreshToken(identity *Identity) (string, error) {
	return s.sign(identity, TokenTypeRefresh, s.refreshExpiry)
}

func (s *TokenService) sign(identity *Identity, tokenType string, ttl time.Duration) (string, error) {
	if identity == nil || identity.UserID == "" {
		return "", fmt.Errorf("%w: identity has no user id", ErrTokenInvalid)
	}
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:     identity.Email,
		TokenType: tokenType,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.signingKey)
}

func (s *TokenService) ValidateToken(tokenString string) (*Identity, error) {
	var c claims
	token, err := s.parser.ParseWithClaims(tokenString, &c, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || c.Subject == "" {
		return nil, ErrTokenInvalid
	}
	switch c.TokenType {
	case TokenTypeAccess, TokenTypeRefresh:
	default:
		return nil, fmt.Errorf("%w: unknown token type %q", ErrTokenInvalid, c.TokenType)
	}

	return &Identity{
		UserID:    c.Subject,
		Email:     c.Email,
		TokenType: c.TokenType,
		TokenID:   c.ID,
	}, nil
}
