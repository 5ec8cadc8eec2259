package integrations

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	// DefaultGoogleRevokeURL is Google's token revocation endpoint
	DefaultGoogleRevokeURL = "https://oauth2.googleapis.com/revoke"

	googleIssuer = "https://accounts.google.com"
)

// Provider is the OAuth provider side of an integration
type Provider interface {
	Name() string
	// Scopes are the scopes requested and required on every grant
	Scopes() []string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	// VerifyIDToken checks an id_token returned with the grant
	VerifyIDToken(ctx context.Context, rawIDToken string) error
	Client(ctx context.Context, token *oauth2.Token) *http.Client
	Account(ctx context.Context, client *http.Client) (*AccountInfo, error)
	Quota(ctx context.Context, client *http.Client) (*StorageQuota, error)
	Revoke(ctx context.Context, token string) error
}

// IDTokenVerifier verifies OpenID Connect ID tokens.
// *oidc.IDTokenVerifier implements it.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// NewGoogleIDTokenVerifier discovers Google's OIDC configuration and returns
// a verifier for tokens issued to clientID
func NewGoogleIDTokenVerifier(ctx context.Context, clientID string) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	return provider.Verifier(&oidc.Config{ClientID: clientID}), nil
}

// GoogleDriveConfig configures the Google Drive provider. Endpoint,
// RevokeURL and DriveEndpoint default to Google's production endpoints.
type GoogleDriveConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	Endpoint      oauth2.Endpoint
	RevokeURL     string
	DriveEndpoint string

	HTTPClient *http.Client
	Verifier   IDTokenVerifier
}

// GoogleDriveProvider implements Provider for Google Drive
type GoogleDriveProvider struct {
	oauth2Config  *oauth2.Config
	revokeURL     string
	driveEndpoint string
	httpClient    *http.Client
	verifier      IDTokenVerifier
}

// NewGoogleDriveProvider creates a Google Drive provider
func NewGoogleDriveProvider(cfg GoogleDriveConfig) (*GoogleDriveProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client_id and client_secret are required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect_url is required")
	}
	if len(cfg.Scopes) == 0 {
		return nil, fmt.Errorf("at least one scope is required")
	}

	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	revokeURL := cfg.RevokeURL
	if revokeURL == "" {
		revokeURL = DefaultGoogleRevokeURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &GoogleDriveProvider{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
		revokeURL:     revokeURL,
		driveEndpoint: cfg.DriveEndpoint,
		httpClient:    httpClient,
		verifier:      cfg.Verifier,
	}, nil
}

// Name returns the provider name
func (p *GoogleDriveProvider) Name() string {
	return ProviderGoogleDrive
}

// Scopes returns the configured scopes
func (p *GoogleDriveProvider) Scopes() []string {
	return append([]string(nil), p.oauth2Config.Scopes...)
}

// AuthCodeURL builds the consent URL. Offline access and forced consent make
// Google return a refresh token on every grant.
func (p *GoogleDriveProvider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

func (p *GoogleDriveProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// Exchange trades an authorization code for tokens
func (p *GoogleDriveProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.oauth2Config.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	return token, nil
}

// Refresh runs the refresh grant
func (p *GoogleDriveProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := p.oauth2Config.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return token, nil
}

// VerifyIDToken verifies the token when a verifier is configured
func (p *GoogleDriveProvider) VerifyIDToken(ctx context.Context, rawIDToken string) error {
	if p.verifier == nil {
		return nil
	}
	if _, err := p.verifier.Verify(ctx, rawIDToken); err != nil {
		return fmt.Errorf("failed to verify ID token: %w", err)
	}
	return nil
}

// Client returns an HTTP client that sends token. It never refreshes on its
// own; refreshes go through the service so they are persisted.
func (p *GoogleDriveProvider) Client(ctx context.Context, token *oauth2.Token) *http.Client {
	return oauth2.NewClient(p.clientContext(ctx), oauth2.StaticTokenSource(token))
}

// DriveService builds a Drive v3 client on top of an authorized HTTP client
func (p *GoogleDriveProvider) DriveService(ctx context.Context, client *http.Client) (*drive.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.driveEndpoint != "" {
		opts = append(opts, option.WithEndpoint(p.driveEndpoint))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return svc, nil
}

// Account returns the Drive user's permission ID and email
func (p *GoogleDriveProvider) Account(ctx context.Context, client *http.Client) (*AccountInfo, error) {
	svc, err := p.DriveService(ctx, client)
	if err != nil {
		return nil, err
	}

	about, err := svc.About.Get().Fields("user(permissionId,emailAddress)").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}
	if about.User == nil || about.User.PermissionId == "" {
		return nil, fmt.Errorf("provider returned no account id")
	}

	return &AccountInfo{ID: about.User.PermissionId, Email: about.User.EmailAddress}, nil
}

// Quota returns the Drive storage quota
func (p *GoogleDriveProvider) Quota(ctx context.Context, client *http.Client) (*StorageQuota, error) {
	svc, err := p.DriveService(ctx, client)
	if err != nil {
		return nil, err
	}

	about, err := svc.About.Get().Fields("storageQuota(limit,usage)").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch storage quota: %w", err)
	}
	if about.StorageQuota == nil {
		return &StorageQuota{}, nil
	}

	return &StorageQuota{Limit: about.StorageQuota.Limit, Usage: about.StorageQuota.Usage}, nil
}

// Revoke asks Google to revoke token
func (p *GoogleDriveProvider) Revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("revoke request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// GrantedScopes returns the scopes on a token response. A response without
// a scope field grants exactly what was requested (RFC 6749 section 5.1).
func GrantedScopes(token *oauth2.Token, requested []string) []string {
	raw, _ := token.Extra("scope").(string)
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), requested...)
	}
	return strings.Fields(raw)
}

// MissingScopes returns the required scopes absent from granted
func MissingScopes(required, granted []string) []string {
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
	}

	var missing []string
	for _, s := range required {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	return missing
}
