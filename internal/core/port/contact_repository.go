package port

import (
	"context"

	"github.com/arklim/portal-realtime/internal/core/domain"
)

// ContactRepository persists contact-form submissions.
type ContactRepository interface {
	Create(ctx context.Context, submission domain.ContactSubmission) error
}
