package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/restoreassist/pkg/contextkeys"
)

// Scope represents an API key scope
type Scope string

const (
	ScopeAll               Scope = "*" // All scopes
	ScopeIntegrationsRead  Scope = "integrations:read"
	ScopeIntegrationsWrite Scope = "integrations:write"
	ScopeFilesRead         Scope = "files:read"
	ScopeFilesWrite        Scope = "files:write"
	ScopeOrgsRead          Scope = "orgs:read"
	ScopeOrgsWrite         Scope = "orgs:write"
)

var validScopes = map[Scope]bool{
	ScopeAll:               true,
	ScopeIntegrationsRead:  true,
	ScopeIntegrationsWrite: true,
	ScopeFilesRead:         true,
	ScopeFilesWrite:        true,
	ScopeOrgsRead:          true,
	ScopeOrgsWrite:         true,
}

// IsValidScope reports whether s is a known scope
func IsValidScope(s Scope) bool {
	return validScopes[s]
}

// APIKey represents a stored API key. The plaintext is never kept.
type APIKey struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	UserID         string     `json:"user_id"`
	Name           string     `json:"name"`
	KeyPrefix      string     `json:"key_prefix"`
	KeyHash        string     `json:"-"`
	Scopes         []Scope    `json:"scopes"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	RotatedFrom    *uuid.UUID `json:"rotated_from,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IsRevoked reports whether the key has been revoked
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// IsExpired reports whether the key is past its expiry at the given time
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// CreateKeyRequest describes a new API key
type CreateKeyRequest struct {
	OrganizationID uuid.UUID
	UserID         string
	Name           string
	Scopes         []Scope
	// ExpiresIn of zero means the key never expires
	ExpiresIn time.Duration
}

// CreatedKey is returned once on creation or rotation and carries the plaintext
type CreatedKey struct {
	APIKey *APIKey `json:"api_key"`
	Key    string  `json:"key"`
}

// UsageRecord is a single authenticated request made with an API key
type UsageRecord struct {
	APIKeyID   uuid.UUID `json:"api_key_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	StatusCode int       `json:"status_code"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuthContext represents the authenticated caller of a request
type AuthContext struct {
	UserID         string
	OrganizationID uuid.UUID
	APIKey         *APIKey
	Scopes         []Scope
}

// HasScope checks if the caller has the given scope
func (ac *AuthContext) HasScope(scope Scope) bool {
	if ac == nil {
		return false
	}
	for _, s := range ac.Scopes {
		if s == ScopeAll || s == scope {
			return true
		}
	}
	return false
}

// WithAuthContext stores the auth context and the caller's user ID in ctx
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	ctx = contextkeys.WithAuth(ctx, ac)
	return contextkeys.WithUserID(ctx, ac.UserID)
}

// FromContext returns the auth context stored in ctx, or nil
func FromContext(ctx context.Context) *AuthContext {
	ac, _ := ctx.Value(contextkeys.AuthKey).(*AuthContext)
	return ac
}
