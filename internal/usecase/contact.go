package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/core/port"
	"github.com/arklim/portal-realtime/internal/infra/logger"
)

const (
	maxContactNameLength    = 120
	maxContactCompanyLength = 160
	maxContactMessageLength = 5000
	defaultContactTopic     = "general"
)

var contactTopics = map[string]struct{}{
	"general":     {},
	"sales":       {},
	"support":     {},
	"partnership": {},
	"press":       {},
}

// ErrInvalidContact indicates a contact submission failed validation.
var ErrInvalidContact = errors.New("invalid contact submission")

// ContactInput is the raw contact-form payload.
type ContactInput struct {
	Name      string
	Email     string
	Company   string
	Topic     string
	Message   string
	ClientIP  string
	UserAgent string
}

// ContactService accepts anonymous contact-form submissions.
type ContactService struct {
	repo   port.ContactRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewContactService constructs a ContactService.
func NewContactService(repo port.ContactRepository, logger *zap.Logger) *ContactService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContactService{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *ContactService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Submit validates and stores a submission.
func (s *ContactService) Submit(ctx context.Context, input ContactInput) (domain.ContactSubmission, error) {
	submission, err := s.normalize(input)
	if err != nil {
		return domain.ContactSubmission{}, err
	}
	if s.repo == nil {
		return domain.ContactSubmission{}, fmt.Errorf("contact repository not configured")
	}

	if err := s.repo.Create(ctx, submission); err != nil {
		return domain.ContactSubmission{}, fmt.Errorf("store contact submission: %w", err)
	}

	s.logger.Info("contact submission received",
		zap.String("submission_id", submission.ID),
		zap.String("topic", submission.Topic),
		zap.String("email", logger.MaskEmail(submission.Email)),
		zap.String("client_ip", logger.MaskIP(submission.ClientIP)),
	)

	return submission, nil
}

func (s *ContactService) normalize(input ContactInput) (domain.ContactSubmission, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return domain.ContactSubmission{}, fmt.Errorf("%w: name is required", ErrInvalidContact)
	}
	if utf8.RuneCountInString(name) > maxContactNameLength {
		return domain.ContactSubmission{}, fmt.Errorf("%w: name is too long", ErrInvalidContact)
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return domain.ContactSubmission{}, fmt.Errorf("%w: email is required", ErrInvalidContact)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return domain.ContactSubmission{}, fmt.Errorf("%w: email is invalid", ErrInvalidContact)
	}

	message := strings.TrimSpace(input.Message)
	if message == "" {
		return domain.ContactSubmission{}, fmt.Errorf("%w: message is required", ErrInvalidContact)
	}
	if utf8.RuneCountInString(message) > maxContactMessageLength {
		return domain.ContactSubmission{}, fmt.Errorf("%w: message is too long", ErrInvalidContact)
	}

	topic := strings.ToLower(strings.TrimSpace(input.Topic))
	if topic == "" {
		topic = defaultContactTopic
	}
	if _, ok := contactTopics[topic]; !ok {
		return domain.ContactSubmission{}, fmt.Errorf("%w: unknown topic %q", ErrInvalidContact, topic)
	}

	submission := domain.ContactSubmission{
		ID:          uuid.NewString(),
		Name:        name,
		Email:       email,
		Topic:       topic,
		Message:     message,
		ClientIP:    strings.TrimSpace(input.ClientIP),
		SubmittedAt: s.now(),
	}

	if company := strings.TrimSpace(input.Company); company != "" {
		if utf8.RuneCountInString(company) > maxContactCompanyLength {
			return domain.ContactSubmission{}, fmt.Errorf("%w: company is too long", ErrInvalidContact)
		}
		submission.Company = &company
	}
	if ua := strings.TrimSpace(input.UserAgent); ua != "" {
		submission.UserAgent = &ua
	}

	return submission, nil
}
