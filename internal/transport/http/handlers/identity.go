package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/core/port"
	"github.com/arklim/portal-realtime/internal/infra/security"
	"github.com/arklim/portal-realtime/internal/transport/http/middleware"
)

// IdentityReader serves cached identity lookups.
type IdentityReader interface {
	CurrentProfile(ctx context.Context, userID string, tokens port.TokenProvider) (*domain.UserProfile, error)
	RefreshProfile(ctx context.Context, userID string, tokens port.TokenProvider) (*domain.UserProfile, error)
	UserSummary(ctx context.Context, userID string, tokens port.TokenProvider) (*domain.UserSummary, error)
	InvalidateUser(userID string)
}

// IdentityHandler exposes the current user's profile and summaries of other users.
type IdentityHandler struct {
	identity IdentityReader
}

// NewIdentityHandler constructs an identity handler.
func NewIdentityHandler(identity IdentityReader) *IdentityHandler {
	return &IdentityHandler{identity: identity}
}

// Me godoc
// @Summary Current user profile
// @Tags Identity
// @Security BearerAuth
// @Produce json
// @Success 200 {object} domain.UserProfile
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /api/v1/me [get]
func (h *IdentityHandler) Me(c *gin.Context) {
	h.profile(c, h.identity.CurrentProfile)
}

// RefreshMe godoc
// @Summary Reload the current user profile
// @Description Bypasses the cached profile; concurrent reloads share one backend request.
// @Tags Identity
// @Security BearerAuth
// @Produce json
// @Success 200 {object} domain.UserProfile
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/me/refresh [post]
func (h *IdentityHandler) RefreshMe(c *gin.Context) {
	h.profile(c, h.identity.RefreshProfile)
}

// InvalidateMe godoc
// @Summary Drop cached identity data for the current user
// @Tags Identity
// @Security BearerAuth
// @Success 204
// @Router /api/v1/me/cache [delete]
func (h *IdentityHandler) InvalidateMe(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}
	h.identity.InvalidateUser(userID)
	c.Status(http.StatusNoContent)
}

// Summary godoc
// @Summary Summary of another user
// @Tags Identity
// @Security BearerAuth
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} domain.UserSummary
// @Failure 404 {object} ErrorResponse
// @Failure 504 {object} ErrorResponse
// @Router /api/v1/users/{id}/summary [get]
func (h *IdentityHandler) Summary(c *gin.Context) {
	targetID := strings.TrimSpace(c.Param("id"))
	if targetID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "user id is required"))
		return
	}

	summary, err := h.identity.UserSummary(c.Request.Context(), targetID, security.ContextToken{})
	if err != nil {
		RespondWithMappedError(c, err, upstreamErrorCases, http.StatusBadGateway, "failed to load user summary")
		return
	}
	if summary == nil {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "user not found"))
		return
	}
	c.JSON(http.StatusOK, summary)
}

type profileLoader func(ctx context.Context, userID string, tokens port.TokenProvider) (*domain.UserProfile, error)

func (h *IdentityHandler) profile(c *gin.Context, load profileLoader) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	profile, err := load(c.Request.Context(), userID, security.ContextToken{})
	if err != nil {
		RespondWithMappedError(c, err, upstreamErrorCases, http.StatusBadGateway, "failed to load profile")
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "profile not found"))
		return
	}
	c.JSON(http.StatusOK, profile)
}
