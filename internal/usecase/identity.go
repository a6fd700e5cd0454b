package usecase

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/core/port"
)

const (
	profileCacheName = "current_user_profile"
	summaryCacheName = "user_summary"

	defaultProfilePath = "/api/users/me"
	defaultSummaryPath = "/api/users/{id}/summary"
)

// IdentityPaths holds the backend paths for identity lookups.
type IdentityPaths struct {
	Profile string
	Summary string
}

// IdentityService serves frequently requested identity data through single-flight caches.
type IdentityService struct {
	backend   port.BackendClient
	paths     IdentityPaths
	profiles  *SingleFlight[domain.UserProfile]
	summaries *SingleFlight[domain.UserSummary]
}

// NewIdentityService constructs the service. observer may be nil.
func NewIdentityService(backend port.BackendClient, paths IdentityPaths, observer CacheObserver) *IdentityService {
	if paths.Profile == "" {
		paths.Profile = defaultProfilePath
	}
	if paths.Summary == "" {
		paths.Summary = defaultSummaryPath
	}

	return &IdentityService{
		backend:   backend,
		paths:     paths,
		profiles:  NewSingleFlight[domain.UserProfile](profileCacheName, WithCacheObserver(observer)),
		summaries: NewSingleFlight[domain.UserSummary](summaryCacheName, WithCacheObserver(observer)),
	}
}

// CurrentProfile returns the caller's own profile, loading it once per user until invalidated.
// A nil profile means the caller is unauthenticated or unknown to the users service.
func (s *IdentityService) CurrentProfile(ctx context.Context, userID string, tokens port.TokenProvider) (*domain.UserProfile, error) {
	return s.profile(ctx, userID, tokens)
}

// RefreshProfile bypasses the cached profile and reloads it.
func (s *IdentityService) RefreshProfile(ctx context.Context, userID string, tokens port.TokenProvider) (*domain.UserProfile, error) {
	return s.profile(ctx, userID, tokens, WithForce())
}

// UserSummary returns the public summary of another user.
func (s *IdentityService) UserSummary(ctx context.Context, userID string, tokens port.TokenProvider) (*domain.UserSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	path := strings.ReplaceAll(s.paths.Summary, "{id}", url.PathEscape(userID))
	return s.summaries.Get(ctx, userID, func(ctx context.Context) (*domain.UserSummary, error) {
		var summary domain.UserSummary
		found, err := s.backend.GetJSON(ctx, tokens, path, &summary)
		if err != nil {
			return nil, fmt.Errorf("fetch user summary: %w", err)
		}
		if !found {
			return nil, nil
		}
		return &summary, nil
	})
}

// InvalidateUser drops everything cached about userID, e.g. on logout.
func (s *IdentityService) InvalidateUser(userID string) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}
	s.profiles.Invalidate(userID)
	s.summaries.Invalidate(userID)
}

func (s *IdentityService) profile(ctx context.Context, userID string, tokens port.TokenProvider, opts ...GetOption) (*domain.UserProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	return s.profiles.Get(ctx, userID, func(ctx context.Context) (*domain.UserProfile, error) {
		var profile domain.UserProfile
		found, err := s.backend.GetJSON(ctx, tokens, s.paths.Profile, &profile)
		if err != nil {
			return nil, fmt.Errorf("fetch current profile: %w", err)
		}
		if !found {
			return nil, nil
		}
		return &profile, nil
	}, opts...)
}
