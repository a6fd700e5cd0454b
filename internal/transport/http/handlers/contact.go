package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/repository"
	"github.com/arklim/portal-realtime/internal/transport/http/middleware"
	"github.com/arklim/portal-realtime/internal/usecase"
)

// ContactSubmitter stores contact-form submissions.
type ContactSubmitter interface {
	Submit(ctx context.Context, input usecase.ContactInput) (domain.ContactSubmission, error)
}

// ContactHandler accepts the public contact form.
type ContactHandler struct {
	contacts ContactSubmitter
}

// NewContactHandler constructs a contact handler. A nil submitter answers 503.
func NewContactHandler(contacts ContactSubmitter) *ContactHandler {
	return &ContactHandler{contacts: contacts}
}

var contactErrorCases = ErrorCases{
	{Err: usecase.ErrInvalidContact, Status: http.StatusBadRequest, Message: "invalid contact submission"},
	{Err: repository.ErrConflict, Status: http.StatusConflict, Message: "submission already recorded"},
}

// Submit godoc
// @Summary Submit the contact form
// @Tags Contact
// @Accept json
// @Produce json
// @Param request body ContactRequest true "Contact form"
// @Success 201 {object} ContactResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} middleware.RateLimitedResponse
// @Router /api/v1/contact [post]
func (h *ContactHandler) Submit(c *gin.Context) {
	if h.contacts == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "contact form unavailable"))
		return
	}

	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "name, email and message are required"))
		return
	}

	submission, err := h.contacts.Submit(c.Request.Context(), usecase.ContactInput{
		Name:      req.Name,
		Email:     req.Email,
		Company:   req.Company,
		Topic:     req.Topic,
		Message:   req.Message,
		ClientIP:  middleware.ClientIdentity(c),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		RespondWithMappedError(c, err, contactErrorCases, http.StatusInternalServerError, "failed to store contact submission")
		return
	}

	c.JSON(http.StatusCreated, ContactResponse{
		ID:          submission.ID,
		Topic:       submission.Topic,
		SubmittedAt: submission.SubmittedAt,
	})
}
