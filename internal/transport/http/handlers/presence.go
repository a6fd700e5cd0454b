package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/portal-realtime/internal/core/domain"
)

// PresenceReader aggregates the live sessions of a user.
type PresenceReader interface {
	UserPresence(ctx context.Context, userID string) (domain.UserPresence, error)
}

// PresenceHandler serves presence badges.
type PresenceHandler struct {
	presence PresenceReader
}

// NewPresenceHandler constructs a presence handler.
func NewPresenceHandler(presence PresenceReader) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// Get godoc
// @Summary Presence of a user
// @Description Online if any session is online, idle if any session is live, offline otherwise.
// @Tags Presence
// @Security BearerAuth
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} PresenceResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/presence/{id} [get]
func (h *PresenceHandler) Get(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "user id is required"))
		return
	}

	presence, err := h.presence.UserPresence(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to load presence"))
		return
	}
	c.JSON(http.StatusOK, presenceResponse(presence))
}
