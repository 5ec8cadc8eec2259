package orgs

import (
	"time"

	"github.com/google/uuid"
)

// Organization represents a tenant
type Organization struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Description string         `json:"description,omitempty"`
	OwnerID     string         `json:"owner_id"`
	Settings    map[string]any `json:"settings,omitempty"`
	IsActive    bool           `json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Member is a user's membership in an organization. Role names a built-in
// or organization-scoped RBAC role.
type Member struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Email          string    `json:"email,omitempty"`
	Role           string    `json:"role"`
	InvitedBy      *string   `json:"invited_by,omitempty"`
	JoinedAt       time.Time `json:"joined_at"`
}

// InvitationStatus is derived from an invitation's timestamps
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRevoked  InvitationStatus = "revoked"
	InvitationExpired  InvitationStatus = "expired"
)

// Invitation represents an invitation to join an organization
type Invitation struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	Email          string     `json:"email"`
	Role           string     `json:"role"`
	Token          string     `json:"token,omitempty"`
	InvitedBy      string     `json:"invited_by"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy     *string    `json:"accepted_by,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Status returns the invitation's state at the given time
func (i *Invitation) Status(now time.Time) InvitationStatus {
	switch {
	case i.AcceptedAt != nil:
		return InvitationAccepted
	case i.RevokedAt != nil:
		return InvitationRevoked
	case !now.Before(i.ExpiresAt):
		return InvitationExpired
	default:
		return InvitationPending
	}
}

// CreateOrgRequest represents request to create an organization
type CreateOrgRequest struct {
	Name        string         `json:"name"`
	Slug        string         `json:"slug,omitempty"`
	Description string         `json:"description,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
}

// UpdateOrgRequest represents request to update an organization
type UpdateOrgRequest struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
}

// AddMemberRequest represents request to add a member directly
type AddMemberRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
}

// InviteMemberRequest represents request to invite a member
type InviteMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// UpdateMemberRequest represents request to update a member's role
type UpdateMemberRequest struct {
	Role string `json:"role"`
}
