package integrations

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/restoreassist/pkg/apierrors"
	"github.com/platinummonkey/restoreassist/pkg/audit"
	"github.com/platinummonkey/restoreassist/pkg/contextkeys"
	"github.com/platinummonkey/restoreassist/pkg/observability"
	"github.com/platinummonkey/restoreassist/pkg/orgs"
	"github.com/platinummonkey/restoreassist/pkg/tokencrypt"
)

const (
	// DefaultStateTTL is how long an authorization may stay pending
	DefaultStateTTL = 10 * time.Minute
	// DefaultRefreshBuffer is how early before expiry a token is refreshed
	DefaultRefreshBuffer = 5 * time.Minute
)

// Refresh triggers recorded in metrics
const (
	triggerLazy   = "lazy"
	triggerManual = "manual"
)

// Membership resolves organizations and their members.
// *orgs.PostgresService implements it.
type Membership interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*orgs.Organization, error)
	IsMember(ctx context.Context, orgID uuid.UUID, userID string) (bool, error)
}

// Service runs the OAuth token lifecycle of provider integrations
type Service struct {
	store         Store
	states        StateStore
	provider      Provider
	encryptor     *tokencrypt.Encryptor
	membership    Membership
	audit         audit.Logger
	metrics       *observability.Metrics
	stateTTL      time.Duration
	refreshBuffer time.Duration
	returnHosts   map[string]bool
	now           func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithAuditLogger records connect, refresh and revoke events
func WithAuditLogger(logger audit.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.audit = logger
		}
	}
}

// WithMetrics records OAuth flow, refresh and revocation outcomes
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithStateTTL sets how long a started authorization stays valid
func WithStateTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.stateTTL = ttl
		}
	}
}

// WithRefreshBuffer sets how early before expiry tokens are refreshed
func WithRefreshBuffer(buffer time.Duration) Option {
	return func(s *Service) {
		if buffer >= 0 {
			s.refreshBuffer = buffer
		}
	}
}

// WithReturnURLHosts restricts absolute return URLs to the given hosts.
// Relative return paths are always accepted.
func WithReturnURLHosts(hosts []string) Option {
	return func(s *Service) {
		s.returnHosts = make(map[string]bool, len(hosts))
		for _, h := range hosts {
			if u, err := url.Parse(h); err == nil && u.Host != "" {
				h = u.Host
			}
			s.returnHosts[strings.ToLower(h)] = true
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates an integration service
func NewService(store Store, states StateStore, provider Provider, encryptor *tokencrypt.Encryptor, membership Membership, opts ...Option) *Service {
	s := &Service{
		store:         store,
		states:        states,
		provider:      provider,
		encryptor:     encryptor,
		membership:    membership,
		audit:         audit.NoOpLogger{},
		stateTTL:      DefaultStateTTL,
		refreshBuffer: DefaultRefreshBuffer,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provider returns the configured provider
func (s *Service) Provider() Provider {
	return s.provider
}

// InitiateAuthorization starts an authorization flow for a member of orgID
func (s *Service) InitiateAuthorization(ctx context.Context, orgID uuid.UUID, userID, returnURL string) (*AuthorizationRequest, error) {
	if userID == "" {
		return nil, apierrors.Unauthorized("authentication required")
	}
	if _, err := s.membership.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}

	isMember, err := s.membership.IsMember(ctx, orgID, userID)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	if !isMember {
		return nil, apierrors.Forbidden("user is not a member of the organization")
	}

	if err := s.validateReturnURL(returnURL); err != nil {
		return nil, err
	}

	state, err := GenerateState()
	if err != nil {
		return nil, apierrors.Internal(err)
	}

	now := s.now().UTC()
	pending := PendingAuthorization{
		OrganizationID: orgID,
		UserID:         userID,
		ReturnURL:      returnURL,
		CreatedAt:      now,
	}
	if err := s.states.Save(ctx, state, pending, s.stateTTL); err != nil {
		return nil, apierrors.Internal(err)
	}

	s.metrics.RecordOAuthFlow(s.provider.Name(), "initiate", "success")
	return &AuthorizationRequest{
		URL:       s.provider.AuthCodeURL(state),
		State:     state,
		ExpiresAt: now.Add(s.stateTTL),
	}, nil
}

func (s *Service) validateReturnURL(raw string) error {
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return apierrors.BadRequest("invalid return_url")
	}
	if u.Scheme == "" && u.Host == "" {
		if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
			return apierrors.BadRequest("return_url must be an absolute path or an http(s) URL")
		}
		return nil
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apierrors.BadRequest("return_url must be an absolute path or an http(s) URL")
	}
	if s.returnHosts != nil && !s.returnHosts[strings.ToLower(u.Host)] {
		return apierrors.BadRequest("return_url host is not allowed")
	}
	return nil
}

// HandleCallback completes an authorization flow. The state is consumed on
// every path, so a callback can never be replayed.
func (s *Service) HandleCallback(ctx context.Context, params CallbackParams) (*CallbackResult, error) {
	provider := s.provider.Name()
	logger := observability.FromContext(ctx).WithField("provider", provider)

	if params.Error != "" {
		if params.State != "" {
			_, _ = s.states.Consume(ctx, params.State)
		}
		s.metrics.RecordOAuthFlow(provider, "callback", "provider_error")
		return nil, apierrors.OAuthProviderError(params.Error, params.ErrorDescription)
	}

	if params.State == "" {
		s.metrics.RecordOAuthFlow(provider, "callback", "invalid_state")
		return nil, apierrors.InvalidState()
	}
	pending, err := s.states.Consume(ctx, params.State)
	if errors.Is(err, ErrStateNotFound) {
		s.metrics.RecordOAuthFlow(provider, "callback", "invalid_state")
		return nil, apierrors.InvalidState()
	}
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	if params.Code == "" {
		s.metrics.RecordOAuthFlow(provider, "callback", "exchange_failed")
		return nil, apierrors.TokenExchangeFailed("missing authorization code", nil)
	}

	token, err := s.exchange(ctx, params.Code)
	if err != nil {
		logger.WithError(err).Warn("token exchange failed")
		s.metrics.RecordOAuthFlow(provider, "callback", "exchange_failed")
		return nil, err
	}

	required := s.provider.Scopes()
	granted := GrantedScopes(token, required)
	if missing := MissingScopes(required, granted); len(missing) > 0 {
		s.metrics.RecordOAuthFlow(provider, "callback", "scope_validation_failed")
		return nil, apierrors.ScopeValidationFailed(missing)
	}

	account, quota, err := s.fetchAccount(ctx, token)
	if err != nil {
		logger.WithError(err).Warn("failed to fetch account details")
		s.metrics.RecordOAuthFlow(provider, "callback", "exchange_failed")
		return nil, apierrors.TokenExchangeFailed("failed to fetch account details", err)
	}

	accessValue, accessIV, err := s.encryptor.EncryptToStrings(token.AccessToken)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	refreshValue, refreshIV, err := s.encryptor.EncryptToStrings(token.RefreshToken)
	if err != nil {
		return nil, apierrors.Internal(err)
	}

	now := s.now().UTC()
	expiresAt := token.Expiry.UTC()
	if token.Expiry.IsZero() {
		// Unknown lifetime: treat as expiring so the first use refreshes
		expiresAt = now
	}

	integ := &Integration{
		OrganizationID:        pending.OrganizationID,
		ConnectedBy:           pending.UserID,
		Provider:              provider,
		ProviderAccountID:     account.ID,
		AccountEmail:          account.Email,
		TokenExpiresAt:        expiresAt,
		Scopes:                granted,
		StorageQuotaLimit:     quota.Limit,
		StorageQuotaUsage:     quota.Usage,
		UpdatedAt:             now,
		AccessTokenEncrypted:  accessValue,
		AccessTokenIV:         accessIV,
		RefreshTokenEncrypted: refreshValue,
		RefreshTokenIV:        refreshIV,
	}
	if err := s.store.Upsert(ctx, integ); err != nil {
		return nil, apierrors.Internal(err)
	}

	audit.Record(ctx, s.audit, audit.NewEvent(integ.OrganizationID, pending.UserID,
		audit.EventTypeIntegrationConnect, audit.ResourceTypeIntegration, integ.ID.String()).
		WithDetail("provider", provider).
		WithDetail("account_email", account.Email))
	s.metrics.RecordOAuthFlow(provider, "callback", "success")

	logger.WithFields(map[string]interface{}{
		"organization_id": integ.OrganizationID.String(),
		"integration_id":  integ.ID.String(),
	}).Info("integration connected")

	return &CallbackResult{Integration: integ, ReturnURL: pending.ReturnURL}, nil
}

func (s *Service) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return nil, apierrors.TokenExchangeFailed("provider rejected the authorization code", err)
	}
	if token.AccessToken == "" {
		return nil, apierrors.TokenExchangeFailed("no access token returned", nil)
	}
	if token.RefreshToken == "" {
		return nil, apierrors.TokenExchangeFailed("no refresh token returned", nil)
	}

	if raw, ok := token.Extra("id_token").(string); ok && raw != "" {
		if err := s.provider.VerifyIDToken(ctx, raw); err != nil {
			return nil, apierrors.TokenExchangeFailed("id token verification failed", err)
		}
	}
	return token, nil
}

// fetchAccount loads the account identity and storage quota concurrently
func (s *Service) fetchAccount(ctx context.Context, token *oauth2.Token) (*AccountInfo, *StorageQuota, error) {
	client := s.provider.Client(ctx, token)

	var (
		account *AccountInfo
		quota   *StorageQuota
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		account, err = s.provider.Account(gctx, client)
		return err
	})
	g.Go(func() error {
		var err error
		quota, err = s.provider.Quota(gctx, client)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return account, quota, nil
}

// Get returns an integration
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Integration, error) {
	integ, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrIntegrationNotFound) {
		return nil, apierrors.NotFound("integration")
	}
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return integ, nil
}

// GetForOrganization returns an integration only if it belongs to orgID.
// Integrations of other organizations are reported as not found.
func (s *Service) GetForOrganization(ctx context.Context, orgID, id uuid.UUID) (*Integration, error) {
	integ, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if integ.OrganizationID != orgID {
		return nil, apierrors.NotFound("integration")
	}
	return integ, nil
}

// ListForOrganization returns an organization's integrations
func (s *Service) ListForOrganization(ctx context.Context, orgID uuid.UUID) ([]*Integration, error) {
	integrations, err := s.store.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return integrations, nil
}

// GetAuthenticatedClient returns a client for an active integration,
// refreshing the access token first when it is within the refresh buffer
// of its expiry
func (s *Service) GetAuthenticatedClient(ctx context.Context, integrationID uuid.UUID) (*AuthenticatedClient, error) {
	integ, err := s.Get(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if !integ.IsActive {
		return nil, apierrors.IntegrationInactive(integ.ID.String())
	}

	var token *oauth2.Token
	if integ.TokenExpiresAt.Before(s.now().Add(s.refreshBuffer)) {
		token, err = s.refresh(ctx, integ, triggerLazy)
	} else {
		token, err = s.accessToken(ctx, integ)
	}
	if err != nil {
		return nil, err
	}

	return &AuthenticatedClient{
		Integration: integ,
		Token:       token,
		HTTPClient:  s.provider.Client(ctx, token),
	}, nil
}

// Refresh refreshes the access token regardless of its expiry
func (s *Service) Refresh(ctx context.Context, integrationID uuid.UUID) (*Integration, error) {
	integ, err := s.Get(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if !integ.IsActive {
		return nil, apierrors.IntegrationInactive(integ.ID.String())
	}

	if _, err := s.refresh(ctx, integ, triggerManual); err != nil {
		return nil, err
	}

	audit.Record(ctx, s.audit, audit.NewEvent(integ.OrganizationID, actor(ctx),
		audit.EventTypeIntegrationRefresh, audit.ResourceTypeIntegration, integ.ID.String()))
	return integ, nil
}

func (s *Service) accessToken(ctx context.Context, integ *Integration) (*oauth2.Token, error) {
	access, err := s.decrypt(ctx, integ, "access", integ.AccessTokenEncrypted, integ.AccessTokenIV)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: access,
		TokenType:   "Bearer",
		Expiry:      integ.TokenExpiresAt,
	}, nil
}

// refresh runs the refresh grant and persists the new access token. It
// updates integ in place. The stored refresh token is never rewritten and a
// failure leaves the integration active.
func (s *Service) refresh(ctx context.Context, integ *Integration, trigger string) (*oauth2.Token, error) {
	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"integration_id": integ.ID.String(),
		"trigger":        trigger,
	})

	refreshToken, err := s.decrypt(ctx, integ, "refresh", integ.RefreshTokenEncrypted, integ.RefreshTokenIV)
	if err != nil {
		return nil, err
	}

	token, err := s.provider.Refresh(ctx, refreshToken)
	if err == nil && token.AccessToken == "" {
		err = fmt.Errorf("provider returned no access token")
	}
	if err != nil {
		logger.WithError(err).Warn("token refresh failed")
		s.metrics.RecordTokenRefresh(s.provider.Name(), trigger, "failure")
		return nil, apierrors.TokenRefreshFailed(err)
	}

	value, iv, err := s.encryptor.EncryptToStrings(token.AccessToken)
	if err != nil {
		return nil, apierrors.Internal(err)
	}

	now := s.now().UTC()
	expiresAt := token.Expiry.UTC()
	if token.Expiry.IsZero() {
		expiresAt = now
	}
	if err := s.store.UpdateAccessToken(ctx, integ.ID, value, iv, expiresAt, now); err != nil {
		return nil, apierrors.Internal(err)
	}

	integ.AccessTokenEncrypted = value
	integ.AccessTokenIV = iv
	integ.TokenExpiresAt = expiresAt
	integ.LastRefreshedAt = &now
	integ.UpdatedAt = now

	s.metrics.RecordTokenRefresh(s.provider.Name(), trigger, "success")
	logger.Debug("access token refreshed")

	return &oauth2.Token{
		AccessToken: token.AccessToken,
		TokenType:   "Bearer",
		Expiry:      expiresAt,
	}, nil
}

func (s *Service) decrypt(ctx context.Context, integ *Integration, field, value, iv string) (string, error) {
	plaintext, err := s.encryptor.DecryptStrings(value, iv)
	if err != nil {
		observability.FromContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"integration_id": integ.ID.String(),
			"field":          field,
		}).Error("failed to decrypt stored token")
		return "", apierrors.EncryptionConfig(err)
	}
	return plaintext, nil
}

// Revoke disconnects an integration. The provider is asked to revoke the
// access token first; a failure there is logged and does not stop the
// local revocation.
func (s *Service) Revoke(ctx context.Context, integrationID uuid.UUID) (*Integration, error) {
	integ, err := s.Get(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if !integ.IsActive {
		return nil, apierrors.IntegrationInactive(integ.ID.String())
	}

	logger := observability.FromContext(ctx).WithField("integration_id", integ.ID.String())
	upstream := "ok"
	access, err := s.encryptor.DecryptStrings(integ.AccessTokenEncrypted, integ.AccessTokenIV)
	if err != nil {
		upstream = "skipped"
		logger.WithError(err).Error("failed to decrypt access token, skipping provider revocation")
	} else if err := s.provider.Revoke(ctx, access); err != nil {
		upstream = "failed"
		logger.WithError(err).Warn("provider token revocation failed")
	}
	s.metrics.RecordRevocation(s.provider.Name(), upstream)

	now := s.now().UTC()
	if err := s.store.Deactivate(ctx, integ.ID, now); err != nil {
		return nil, apierrors.Internal(err)
	}
	integ.IsActive = false
	integ.RevokedAt = &now
	integ.UpdatedAt = now

	audit.Record(ctx, s.audit, audit.NewEvent(integ.OrganizationID, actor(ctx),
		audit.EventTypeIntegrationRevoke, audit.ResourceTypeIntegration, integ.ID.String()).
		WithDetail("provider_revocation", upstream))

	return integ, nil
}

// Quota fetches the live storage quota and stores it on the integration
func (s *Service) Quota(ctx context.Context, integrationID uuid.UUID) (*StorageQuota, error) {
	client, err := s.GetAuthenticatedClient(ctx, integrationID)
	if err != nil {
		return nil, err
	}

	quota, err := s.provider.Quota(ctx, client.HTTPClient)
	if err != nil {
		return nil, apierrors.ProviderRequestFailed("storage quota", err)
	}

	now := s.now().UTC()
	if err := s.store.UpdateQuota(ctx, integrationID, *quota, now); err != nil {
		return nil, apierrors.Internal(err)
	}
	client.Integration.StorageQuotaLimit = quota.Limit
	client.Integration.StorageQuotaUsage = quota.Usage
	client.Integration.UpdatedAt = now

	return quota, nil
}

func actor(ctx context.Context) string {
	return contextkeys.GetUserID(ctx)
}
