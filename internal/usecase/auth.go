package usecase

import (
	"errors"
	"strings"
	"time"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/infra/security"
)

var (
	// ErrInvalidAccessToken indicates the provided access token is malformed or signature validation failed.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrExpiredAccessToken indicates the provided access token has expired.
	ErrExpiredAccessToken = errors.New("access token expired")
)

// AccessTokenVerifier validates a raw bearer token.
type AccessTokenVerifier interface {
	Verify(token string) (*security.AccessTokenClaims, error)
}

// AuthService turns bearer tokens issued by the identity provider into principals.
// Issuance lives elsewhere; this service only verifies.
type AuthService struct {
	verifier AccessTokenVerifier
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(verifier AccessTokenVerifier) *AuthService {
	return &AuthService{verifier: verifier}
}

// ParseAccessToken validates the access token and returns the caller it identifies.
func (s *AuthService) ParseAccessToken(token string) (domain.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" || s.verifier == nil {
		return domain.Principal{}, ErrInvalidAccessToken
	}

	claims, err := s.verifier.Verify(token)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return domain.Principal{}, ErrExpiredAccessToken
		}
		return domain.Principal{}, ErrInvalidAccessToken
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return domain.Principal{
		UserID:    claims.UserID,
		Role:      domain.PortalRole(strings.ToLower(strings.TrimSpace(claims.Role))),
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}
