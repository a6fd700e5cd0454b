package domain

import "time"

// PortalRole distinguishes the two authenticated portals.
type PortalRole string

const (
	RoleRecruiter PortalRole = "recruiter"
	RoleCandidate PortalRole = "candidate"
)

// UserProfile is the current user's own profile as served by the users service.
type UserProfile struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	Role        PortalRole `json:"role"`
	CompanyID   string     `json:"company_id,omitempty"`
	CompanyName string     `json:"company_name,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// UserSummary is the minimal view of another user rendered next to messages and badges.
type UserSummary struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	Role        PortalRole `json:"role"`
	Headline    string     `json:"headline,omitempty"`
}

// Principal is the authenticated caller extracted from a bearer token.
type Principal struct {
	UserID    string
	Role      PortalRole
	Token     string
	ExpiresAt time.Time
}
