package security

import (
	"context"
	"strings"
)

// StaticToken is a TokenProvider that always returns the same credential.
// The zero value represents an unauthenticated caller.
type StaticToken string

// Token implements port.TokenProvider.
func (t StaticToken) Token(context.Context) (string, error) {
	return strings.TrimSpace(string(t)), nil
}

type bearerTokenKey struct{}

// WithBearerToken stores the caller's bearer token in ctx.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerTokenKey{}, token)
}

// BearerTokenFromContext returns the token stored by WithBearerToken.
func BearerTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(bearerTokenKey{}).(string)
	return token
}

// ContextToken is a TokenProvider that reads the bearer token from the call context.
type ContextToken struct{}

// Token implements port.TokenProvider.
func (ContextToken) Token(ctx context.Context) (string, error) {
	return strings.TrimSpace(BearerTokenFromContext(ctx)), nil
}
