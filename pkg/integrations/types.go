package integrations

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ProviderGoogleDrive is the provider name stored on Google Drive integrations
const ProviderGoogleDrive = "google_drive"

// Integration is a connected OAuth account owned by an organization.
// Token columns hold tokencrypt values and never leave the service.
type Integration struct {
	ID                uuid.UUID  `json:"id"`
	OrganizationID    uuid.UUID  `json:"organization_id"`
	ConnectedBy       string     `json:"connected_by"`
	Provider          string     `json:"provider"`
	ProviderAccountID string     `json:"provider_account_id"`
	AccountEmail      string     `json:"account_email"`
	TokenExpiresAt    time.Time  `json:"token_expires_at"`
	Scopes            []string   `json:"scopes"`
	StorageQuotaLimit int64      `json:"storage_quota_limit"`
	StorageQuotaUsage int64      `json:"storage_quota_usage"`
	IsActive          bool       `json:"is_active"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
	LastRefreshedAt   *time.Time `json:"last_refreshed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	AccessTokenEncrypted  string `json:"-"`
	AccessTokenIV         string `json:"-"`
	RefreshTokenEncrypted string `json:"-"`
	RefreshTokenIV        string `json:"-"`
}

// PendingAuthorization is the server-side record behind an OAuth state token
type PendingAuthorization struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	UserID         string    `json:"user_id"`
	ReturnURL      string    `json:"return_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuthorizationRequest is returned when a flow starts; the client sends the
// user to URL
type AuthorizationRequest struct {
	URL       string    `json:"authorization_url"`
	State     string    `json:"state"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CallbackParams are the query parameters of the provider redirect
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResult is the outcome of a completed authorization
type CallbackResult struct {
	Integration *Integration `json:"integration"`
	ReturnURL   string       `json:"return_url,omitempty"`
}

// AuthenticatedClient is an HTTP client authorized as an integration's account
type AuthenticatedClient struct {
	Integration *Integration
	Token       *oauth2.Token
	HTTPClient  *http.Client
}

// AccountInfo identifies the connected provider account
type AccountInfo struct {
	ID    string
	Email string
}

// StorageQuota is the remote storage usage in bytes. A zero limit means unlimited.
type StorageQuota struct {
	Limit int64 `json:"limit"`
	Usage int64 `json:"usage"`
}

// Available returns the remaining bytes, or -1 when unlimited
func (q StorageQuota) Available() int64 {
	if q.Limit <= 0 {
		return -1
	}
	if q.Usage >= q.Limit {
		return 0
	}
	return q.Limit - q.Usage
}

// Allows reports whether size more bytes fit in the quota
func (q StorageQuota) Allows(size int64) bool {
	return q.Limit <= 0 || q.Usage+size <= q.Limit
}
