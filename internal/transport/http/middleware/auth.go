package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/infra/security"
	"github.com/arklim/portal-realtime/internal/usecase"
)

const (
	principalKey = "principal"
	// AccessTokenQueryParam carries the bearer token for clients that cannot set headers (browser websockets).
	AccessTokenQueryParam = "access_token"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// AuthOptions tunes RequireAuth.
type AuthOptions struct {
	// AllowQueryToken accepts ?access_token= when no Authorization header is present.
	AllowQueryToken bool
}

// RequireAuth validates the bearer token and stores the principal on the request.
func RequireAuth(authService *usecase.AuthService, opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, msg := bearerToken(c, opts)
		if msg != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, msg))
			return
		}

		principal, err := authService.ParseAccessToken(token)
		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrExpiredAccessToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "access token expired"))
			case errors.Is(err, usecase.ErrInvalidAccessToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "invalid access token"))
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					newErrorResponse(c, "authentication failed"))
			}
			return
		}

		c.Set(UserIDKey, principal.UserID)
		c.Set(principalKey, principal)
		c.Request = c.Request.WithContext(security.WithBearerToken(c.Request.Context(), principal.Token))

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = principal.UserID
		}

		c.Next()
	}
}

func bearerToken(c *gin.Context, opts AuthOptions) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if opts.AllowQueryToken {
			if token := strings.TrimSpace(c.Query(AccessTokenQueryParam)); token != "" {
				return token, ""
			}
		}
		return "", "missing authorization header"
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok {
		return "", "invalid authorization format: expected 'Bearer <token>'"
	}
	if !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization format: must start with 'Bearer'"
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", "missing access token"
	}
	return token, ""
}

// GetPrincipal returns the caller stored by RequireAuth.
func GetPrincipal(c *gin.Context) (domain.Principal, bool) {
	val, exists := c.Get(principalKey)
	if !exists {
		return domain.Principal{}, false
	}
	principal, ok := val.(domain.Principal)
	return principal, ok
}

// GetAuthenticatedUserID retrieves the user ID from context (helper for handlers)
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}

	if id, ok := userID.(string); ok && id != "" {
		return id, true
	}

	return "", false
}
