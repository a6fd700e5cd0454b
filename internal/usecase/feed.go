package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/core/port"
)

// ErrInvalidSurface indicates a subscription that cannot be served.
var ErrInvalidSurface = errors.New("invalid surface subscription")

// FeedPaths holds the backend paths each surface reads from. "{id}" is replaced by the thread id.
type FeedPaths struct {
	Conversations  string
	ThreadMessages string
	Notifications  string
}

// DefaultFeedPaths mirrors the REST layout of the chat and notification services.
func DefaultFeedPaths() FeedPaths {
	return FeedPaths{
		Conversations:  "/api/chat/conversations",
		ThreadMessages: "/api/chat/conversations/{id}/messages",
		Notifications:  "/api/notifications?status=unread",
	}
}

// FeedService pulls the current payload behind a surface from the backend.
type FeedService struct {
	backend port.BackendClient
	paths   FeedPaths
}

// NewFeedService constructs a FeedService. Empty paths fall back to DefaultFeedPaths.
func NewFeedService(backend port.BackendClient, paths FeedPaths) *FeedService {
	defaults := DefaultFeedPaths()
	if paths.Conversations == "" {
		paths.Conversations = defaults.Conversations
	}
	if paths.ThreadMessages == "" {
		paths.ThreadMessages = defaults.ThreadMessages
	}
	if paths.Notifications == "" {
		paths.Notifications = defaults.Notifications
	}
	return &FeedService{backend: backend, paths: paths}
}

// Validate checks that a subscription names a known surface with the scope it needs.
func (s *FeedService) Validate(sub domain.Subscription) error {
	if _, ok := sub.Surface.Channel(); !ok {
		return fmt.Errorf("%w: unknown surface %q", ErrInvalidSurface, sub.Surface)
	}
	if sub.Surface == domain.SurfaceThreadPanel && strings.TrimSpace(sub.ThreadID) == "" {
		return fmt.Errorf("%w: thread panel requires a thread id", ErrInvalidSurface)
	}
	return nil
}

// Load fetches the surface payload. A nil payload means there is nothing to show,
// including when the caller is not authenticated.
func (s *FeedService) Load(ctx context.Context, tokens port.TokenProvider, sub domain.Subscription) (json.RawMessage, error) {
	if err := s.Validate(sub); err != nil {
		return nil, err
	}

	path := s.pathFor(sub)

	var payload json.RawMessage
	found, err := s.backend.GetJSON(ctx, tokens, path, &payload)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", sub.Surface, err)
	}
	if !found {
		return nil, nil
	}
	return payload, nil
}

func (s *FeedService) pathFor(sub domain.Subscription) string {
	switch sub.Surface {
	case domain.SurfaceThreadPanel:
		return strings.ReplaceAll(s.paths.ThreadMessages, "{id}", url.PathEscape(sub.ThreadID))
	case domain.SurfaceNotificationBell:
		return s.paths.Notifications
	default:
		return s.paths.Conversations
	}
}
