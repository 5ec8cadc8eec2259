package integrations

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/restoreassist/pkg/apierrors"
	"github.com/platinummonkey/restoreassist/pkg/audit"
	"github.com/platinummonkey/restoreassist/pkg/orgs"
	"github.com/platinummonkey/restoreassist/pkg/tokencrypt"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var testNow = time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

// memoryStore is a Store with the same upsert semantics as the SQL table
type memoryStore struct {
	mu            sync.Mutex
	rows          map[uuid.UUID]*Integration
	tokenUpdates  int
	upserts int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: map[uuid.UUID]*Integration{}}
}

func (m *memoryStore) Upsert(_ context.Context, integ *Integration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.rows {
		if row.OrganizationID == integ.OrganizationID && row.ProviderAccountID == integ.ProviderAccountID {
			integ.ID = row.ID
			integ.CreatedAt = row.CreatedAt
			integ.IsActive = true
			integ.RevokedAt = nil
			cp := *integ
			m.rows[row.ID] = &cp
			m.upserts++
			return nil
		}
	}

	if integ.ID == uuid.Nil {
		integ.ID = uuid.New()
	}
	integ.CreatedAt = integ.UpdatedAt
	integ.IsActive = true
	cp := *integ
	m.rows[integ.ID] = &cp
	m.upserts++
	return nil
}

func (m *memoryStore) Get(_ context.Context, id uuid.UUID) (*Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, ErrIntegrationNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *memoryStore) ListByOrganization(_ context.Context, orgID uuid.UUID) ([]*Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Integration{}
	for _, row := range m.rows {
		if row.OrganizationID == orgID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryStore) UpdateAccessToken(_ context.Context, id uuid.UUID, encrypted, iv string, expiresAt, refreshedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return ErrIntegrationNotFound
	}
	row.AccessTokenEncrypted = encrypted
	row.AccessTokenIV = iv
	row.TokenExpiresAt = expiresAt
	row.LastRefreshedAt = &refreshedAt
	m.tokenUpdates++
	return nil
}

func (m *memoryStore) UpdateQuota(_ context.Context, id uuid.UUID, quota StorageQuota, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return ErrIntegrationNotFound
	}
	row.StorageQuotaLimit = quota.Limit
	row.StorageQuotaUsage = quota.Usage
	return nil
}

func (m *memoryStore) Deactivate(_ context.Context, id uuid.UUID, revokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return ErrIntegrationNotFound
	}
	row.IsActive = false
	row.RevokedAt = &revokedAt
	return nil
}

// fakeProvider counts every call that would reach the network
type fakeProvider struct {
	mu           sync.Mutex
	scopes       []string
	exchange     *oauth2.Token
	exchangeErr  error
	refresh      *oauth2.Token
	refreshErr   error
	account      *AccountInfo
	quota        *StorageQuota
	verifyErr    error
	revokeErr    error
	calls        map[string]int
	revoked      []string
	refreshedRTs []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		scopes: []string{"drive", "openid"},
		exchange: (&oauth2.Token{
			AccessToken:  "at-1",
			RefreshToken: "rt-1",
			TokenType:    "Bearer",
			Expiry:       testNow.Add(time.Hour),
		}).WithExtra(map[string]interface{}{"scope": "drive openid"}),
		refresh: &oauth2.Token{
			AccessToken:  "at-2",
			RefreshToken: "rt-rotated",
			TokenType:    "Bearer",
			Expiry:       testNow.Add(2 * time.Hour),
		},
		account: &AccountInfo{ID: "perm-42", Email: "ops@example.com"},
		quota:   &StorageQuota{Limit: 1000, Usage: 100},
		calls:   map[string]int{},
	}
}

func (f *fakeProvider) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeProvider) networkCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *fakeProvider) Name() string                { return ProviderGoogleDrive }
func (f *fakeProvider) Scopes() []string            { return append([]string(nil), f.scopes...) }
func (f *fakeProvider) AuthCodeURL(s string) string { return "https://accounts.example.com/auth?state=" + s }

func (f *fakeProvider) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	f.record("exchange")
	return f.exchange, f.exchangeErr
}

func (f *fakeProvider) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	f.record("refresh")
	f.mu.Lock()
	f.refreshedRTs = append(f.refreshedRTs, refreshToken)
	f.mu.Unlock()
	return f.refresh, f.refreshErr
}

func (f *fakeProvider) VerifyIDToken(context.Context, string) error {
	return f.verifyErr
}

func (f *fakeProvider) Client(context.Context, *oauth2.Token) *http.Client {
	return &http.Client{}
}

func (f *fakeProvider) Account(context.Context, *http.Client) (*AccountInfo, error) {
	f.record("account")
	return f.account, nil
}

func (f *fakeProvider) Quota(context.Context, *http.Client) (*StorageQuota, error) {
	f.record("quota")
	return f.quota, nil
}

func (f *fakeProvider) Revoke(_ context.Context, token string) error {
	f.record("revoke")
	f.mu.Lock()
	f.revoked = append(f.revoked, token)
	f.mu.Unlock()
	return f.revokeErr
}

type fakeMembership struct {
	orgs    map[uuid.UUID]bool
	members map[string]bool
}

func (f *fakeMembership) GetOrganization(_ context.Context, id uuid.UUID) (*orgs.Organization, error) {
	if !f.orgs[id] {
		return nil, apierrors.NotFound("organization")
	}
	return &orgs.Organization{ID: id}, nil
}

func (f *fakeMembership) IsMember(_ context.Context, orgID uuid.UUID, userID string) (bool, error) {
	return f.members[orgID.String()+":"+userID], nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *recordingAudit) Log(_ context.Context, e *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type fixture struct {
	svc       *Service
	store     *memoryStore
	states    *MemoryStateStore
	provider  *fakeProvider
	encryptor *tokencrypt.Encryptor
	audit     *recordingAudit
	orgID     uuid.UUID
	now       time.Time
}

func setupService(t *testing.T) *fixture {
	t.Helper()
	encryptor, err := tokencrypt.NewEncryptorFromHex(testKeyHex)
	require.NoError(t, err)

	f := &fixture{
		store:     newMemoryStore(),
		states:    NewMemoryStateStore(100, time.Hour),
		provider:  newFakeProvider(),
		encryptor: encryptor,
		audit:     &recordingAudit{},
		orgID:     uuid.New(),
		now:       testNow,
	}
	f.states.now = func() time.Time { return f.now }
	membership := &fakeMembership{
		orgs:    map[uuid.UUID]bool{f.orgID: true},
		members: map[string]bool{f.orgID.String() + ":user-1": true},
	}

	f.svc = NewService(f.store, f.states, f.provider, encryptor, membership,
		WithAuditLogger(f.audit),
		WithClock(func() time.Time { return f.now }),
		WithReturnURLHosts([]string{"https://app.example.com"}),
	)
	return f
}

// connect runs a full authorization and returns the stored integration
func (f *fixture) connect(t *testing.T) *Integration {
	t.Helper()
	req, err := f.svc.InitiateAuthorization(context.Background(), f.orgID, "user-1", "")
	require.NoError(t, err)
	result, err := f.svc.HandleCallback(context.Background(), CallbackParams{Code: "code", State: req.State})
	require.NoError(t, err)
	return result.Integration
}

func TestInitiateAuthorization(t *testing.T) {
	t.Run("member", func(t *testing.T) {
		f := setupService(t)
		req, err := f.svc.InitiateAuthorization(context.Background(), f.orgID, "user-1", "/settings")
		require.NoError(t, err)

		assert.Contains(t, req.URL, req.State)
		assert.Equal(t, testNow.Add(DefaultStateTTL), req.ExpiresAt)

		pending, err := f.states.Consume(context.Background(), req.State)
		require.NoError(t, err)
		assert.Equal(t, "/settings", pending.ReturnURL)
		assert.Equal(t, f.orgID, pending.OrganizationID)
	})

	tests := []struct {
		name      string
		orgID     func(f *fixture) uuid.UUID
		userID    string
		returnURL string
		code      apierrors.Code
	}{
		{"unknown organization", func(*fixture) uuid.UUID { return uuid.New() }, "user-1", "", apierrors.CodeNotFound},
		{"non-member", func(f *fixture) uuid.UUID { return f.orgID }, "outsider", "", apierrors.CodeForbidden},
		{"unauthenticated", func(f *fixture) uuid.UUID { return f.orgID }, "", "", apierrors.CodeUnauthorized},
		{"protocol-relative return url", func(f *fixture) uuid.UUID { return f.orgID }, "user-1", "//evil.example.net/x", apierrors.CodeBadRequest},
		{"foreign return host", func(f *fixture) uuid.UUID { return f.orgID }, "user-1", "https://evil.example.net/", apierrors.CodeBadRequest},
		{"non-http return url", func(f *fixture) uuid.UUID { return f.orgID }, "user-1", "javascript:alert(1)", apierrors.CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupService(t)
			_, err := f.svc.InitiateAuthorization(context.Background(), tt.orgID(f), tt.userID, tt.returnURL)
			assert.True(t, apierrors.HasCode(err, tt.code), "got %v", err)
			assert.Equal(t, 0, f.states.entries.Len())
		})
	}

	t.Run("allowed return host", func(t *testing.T) {
		f := setupService(t)
		_, err := f.svc.InitiateAuthorization(context.Background(), f.orgID, "user-1", "https://app.example.com/done")
		assert.NoError(t, err)
	})
}

func TestHandleCallback_Connects(t *testing.T) {
	f := setupService(t)
	req, err := f.svc.InitiateAuthorization(context.Background(), f.orgID, "user-1", "/settings")
	require.NoError(t, err)

	result, err := f.svc.HandleCallback(context.Background(), CallbackParams{Code: "code", State: req.State})
	require.NoError(t, err)

	integ := result.Integration
	assert.Equal(t, "/settings", result.ReturnURL)
	assert.Equal(t, f.orgID, integ.OrganizationID)
	assert.Equal(t, "user-1", integ.ConnectedBy)
	assert.Equal(t, "perm-42", integ.ProviderAccountID)
	assert.Equal(t, int64(1000), integ.StorageQuotaLimit)
	assert.True(t, integ.IsActive)
	assert.Equal(t, 1, f.provider.calls["account"])
	assert.Equal(t, 1, f.provider.calls["quota"])

	stored, err := f.store.Get(context.Background(), integ.ID)
	require.NoError(t, err)
	assert.NotEqual(t, stored.AccessTokenIV, stored.RefreshTokenIV, "each token has its own IV")
	access, err := f.encryptor.DecryptStrings(stored.AccessTokenEncrypted, stored.AccessTokenIV)
	require.NoError(t, err)
	assert.Equal(t, "at-1", access)
	refresh, err := f.encryptor.DecryptStrings(stored.RefreshTokenEncrypted, stored.RefreshTokenIV)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", refresh)

	require.Len(t, f.audit.events, 1)
	assert.Equal(t, audit.EventTypeIntegrationConnect, f.audit.events[0].Action)
}

func TestHandleCallback_StateIsSingleUse(t *testing.T) {
	f := setupService(t)
	req, err := f.svc.InitiateAuthorization(context.Background(), f.orgID, "user-1", "")
	require.NoError(t, err)

	_, err = f.svc.HandleCallback(context.Background(), CallbackParams{Code: "code", State: req.State})
	require.NoError(t, err)

	_, err = f.svc.HandleCallback(context.Background(), CallbackParams{Code: "code", State: req.State})
	assert.True(t, apierrors.HasCode(err, apierrors.CodeInvalidState))
	assert.Equal(t, 1, f.provider.calls["exchange"])
}

func TestHandleCallback_ExpiredStateMatchesUnknownState(t *testing.T) {
	f := setupService(t)
	req, err := f.svc.InitiateAuthorization(context.Background(), f.orgID, "user-1", "")
	require.NoError(t, err)
	f.now = f.now.Add(DefaultStateTTL)

	_, expiredErr := f.svc.HandleCallback(context.Background(), CallbackParams{Code: "code", State: req.State})
	_, unknownErr := f.svc.HandleCallback(context.Background(), CallbackParams{Code: "code", State: "never-issued"})

	assert.Equal(t, apierrors.From(unknownErr).Code, apierrors.From(expiredErr).Code)
	assert.Equal(t, apierrors.From(unknownErr).Message, apierrors.From(expiredErr).Message)
	assert.True(t, apierrors.HasCode(expiredErr, apierrors.CodeInvalidState))
	assert.Equal(t, 0, f.provider.networkCalls())
}

func TestHandleCallback_ProviderErrorConsumesState(t *testing.T) {
	f := setupService(t)
	req, err := f.svc.InitiateAuthorization(context.Background(), f.orgID, "user-1", "")
	require.NoError(t, err)

	_, err = f.svc.HandleCallback(context.Background(), CallbackParams{
		State: req.State, Error: "access_denied", ErrorDescription: "user declined",
	})
	apiErr := apierrors.From(err)
	assert.Equal(t, apierrors.CodeOAuthProviderError, apiErr.Code)
	assert.Equal(t, "access_denied", apiErr.Details["provider_error"])

	_, err = f.states.Consume(context.Background(), req.State)
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestHandleCallback_ExchangeFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *fakeProvider)
		code   string
	}{
		{"exchange error", func(p *fakeProvider) { p.exchangeErr = errors.New("invalid_grant") }, "code"},
		{"no refresh token", func(p *fakeProvider) { p.exchange = &oauth2.Token{AccessToken: "at"} }, "code"},
		{"no access token", func(p *fakeProvider) { p.exchange = &oauth2.Token{RefreshToken: "rt"} }, "code"},
		{"id token rejected", func(p *fakeProvider) {
			p.exchange = (&oauth2.Token{AccessToken: "at", RefreshToken: "rt"}).
				WithExtra(map[string]interface{}{"id_token": "bad.jwt.sig"})
			p.verifyErr = errors.New("signature mismatch")
		}, "code"},
		{"missing code", func(*fakeProvider) {}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupService(t)
			tt.mutate(f.provider)
			req, err := f.svc.InitiateAuthorization(context.Background(), f.orgID, "user-1", "")
			require.NoError(t, err)

			_, err = f.svc.HandleCallback(context.Background(), CallbackParams{Code: tt.code, State: req.State})
			assert.True(t, apierrors.HasCode(err, apierrors.CodeTokenExchangeFailed), "got %v", err)
			assert.Empty(t, f.store.rows)
		})
	}
}

func TestHandleCallback_ScopeValidationNamesMissingScopes(t *testing.T) {
	f := setupService(t)
	f.provider.scopes = []string{"drive", "openid", "email"}
	f.provider.exchange = f.provider.exchange.WithExtra(map[string]interface{}{"scope": "openid"})

	req, err := f.svc.InitiateAuthorization(context.Background(), f.orgID, "user-1", "")
	require.NoError(t, err)

	_, err = f.svc.HandleCallback(context.Background(), CallbackParams{Code: "code", State: req.State})
	apiErr := apierrors.From(err)
	require.Equal(t, apierrors.CodeScopeValidationFailed, apiErr.Code)
	assert.Equal(t, []string{"drive", "email"}, apiErr.Details["missing_scopes"])
	assert.Empty(t, f.store.rows)
}

func TestHandleCallback_ReconnectUpdatesExistingRow(t *testing.T) {
	f := setupService(t)
	first := f.connect(t)

	_, err := f.svc.Revoke(context.Background(), first.ID)
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	second := f.connect(t)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.store.rows, 1)

	stored, err := f.store.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.Nil(t, stored.RevokedAt)
}

func TestGetAuthenticatedClient_FreshToken(t *testing.T) {
	f := setupService(t)
	integ := f.connect(t)

	client, err := f.svc.GetAuthenticatedClient(context.Background(), integ.ID)
	require.NoError(t, err)
	assert.Equal(t, "at-1", client.Token.AccessToken)
	assert.NotNil(t, client.HTTPClient)
	assert.Equal(t, 0, f.provider.calls["refresh"])
}

func TestGetAuthenticatedClient_ExpiringTokenRefreshesOnce(t *testing.T) {
	f := setupService(t)
	integ := f.connect(t)

	// 4 minutes left is inside the 5 minute buffer
	f.now = testNow.Add(56 * time.Minute)
	client, err := f.svc.GetAuthenticatedClient(context.Background(), integ.ID)
	require.NoError(t, err)
	assert.Equal(t, "at-2", client.Token.AccessToken)
	assert.Equal(t, 1, f.provider.calls["refresh"])
	assert.Equal(t, []string{"rt-1"}, f.provider.refreshedRTs)

	// The refreshed token is good for another 2 hours
	_, err = f.svc.GetAuthenticatedClient(context.Background(), integ.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.provider.calls["refresh"])
	assert.Equal(t, 1, f.store.tokenUpdates)
}

func TestRefresh_NeverWritesRefreshToken(t *testing.T) {
	f := setupService(t)
	integ := f.connect(t)
	before, err := f.store.Get(context.Background(), integ.ID)
	require.NoError(t, err)
	writes := f.store.upserts

	refreshed, err := f.svc.Refresh(context.Background(), integ.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(2*time.Hour), refreshed.TokenExpiresAt)
	require.NotNil(t, refreshed.LastRefreshedAt)

	after, err := f.store.Get(context.Background(), integ.ID)
	require.NoError(t, err)
	assert.Equal(t, writes, f.store.upserts)
	assert.Equal(t, before.RefreshTokenEncrypted, after.RefreshTokenEncrypted)
	assert.Equal(t, before.RefreshTokenIV, after.RefreshTokenIV)
	assert.NotEqual(t, before.AccessTokenIV, after.AccessTokenIV, "new access token gets a fresh IV")

	rt, err := f.encryptor.DecryptStrings(after.RefreshTokenEncrypted, after.RefreshTokenIV)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", rt, "a rotated refresh token from the provider is ignored")
}

func TestRefresh_FailureLeavesIntegrationActive(t *testing.T) {
	f := setupService(t)
	integ := f.connect(t)
	f.provider.refreshErr = errors.New("invalid_grant")

	_, err := f.svc.Refresh(context.Background(), integ.ID)
	assert.True(t, apierrors.HasCode(err, apierrors.CodeTokenRefreshFailed))

	stored, err := f.store.Get(context.Background(), integ.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.Equal(t, 0, f.store.tokenUpdates)
}

func TestRevokedIntegration_MakesNoNetworkCalls(t *testing.T) {
	f := setupService(t)
	integ := f.connect(t)

	revoked, err := f.svc.Revoke(context.Background(), integ.ID)
	require.NoError(t, err)
	assert.False(t, revoked.IsActive)
	assert.Equal(t, []string{"at-1"}, f.provider.revoked)

	calls := f.provider.networkCalls()

	_, err = f.svc.GetAuthenticatedClient(context.Background(), integ.ID)
	assert.True(t, apierrors.HasCode(err, apierrors.CodeIntegrationInactive))
	_, err = f.svc.Refresh(context.Background(), integ.ID)
	assert.True(t, apierrors.HasCode(err, apierrors.CodeIntegrationInactive))
	_, err = f.svc.Revoke(context.Background(), integ.ID)
	assert.True(t, apierrors.HasCode(err, apierrors.CodeIntegrationInactive))
	_, err = f.svc.Quota(context.Background(), integ.ID)
	assert.True(t, apierrors.HasCode(err, apierrors.CodeIntegrationInactive))

	assert.Equal(t, calls, f.provider.networkCalls())
}

func TestRevoke_ProviderFailureIsNotFatal(t *testing.T) {
	f := setupService(t)
	integ := f.connect(t)
	f.provider.revokeErr = errors.New("503 from provider")

	revoked, err := f.svc.Revoke(context.Background(), integ.ID)
	require.NoError(t, err)
	assert.False(t, revoked.IsActive)
	require.NotNil(t, revoked.RevokedAt)
	assert.Equal(t, testNow, *revoked.RevokedAt)

	last := f.audit.events[len(f.audit.events)-1]
	assert.Equal(t, audit.EventTypeIntegrationRevoke, last.Action)
	assert.Equal(t, "failed", last.Details["provider_revocation"])
}

func TestGetAuthenticatedClient_WrongKeyFailsClosed(t *testing.T) {
	f := setupService(t)
	integ := f.connect(t)

	other, err := tokencrypt.NewEncryptorFromHex("ff0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	f.svc.encryptor = other

	_, err = f.svc.GetAuthenticatedClient(context.Background(), integ.ID)
	assert.True(t, apierrors.HasCode(err, apierrors.CodeEncryptionConfig))
}

func TestGetForOrganization(t *testing.T) {
	f := setupService(t)
	integ := f.connect(t)

	got, err := f.svc.GetForOrganization(context.Background(), f.orgID, integ.ID)
	require.NoError(t, err)
	assert.Equal(t, integ.ID, got.ID)

	_, err = f.svc.GetForOrganization(context.Background(), uuid.New(), integ.ID)
	assert.True(t, apierrors.HasCode(err, apierrors.CodeNotFound))

	_, err = f.svc.Get(context.Background(), uuid.New())
	assert.True(t, apierrors.HasCode(err, apierrors.CodeNotFound))
}

func TestQuota_PersistsLatestValue(t *testing.T) {
	f := setupService(t)
	integ := f.connect(t)
	f.provider.quota = &StorageQuota{Limit: 5000, Usage: 4000}

	quota, err := f.svc.Quota(context.Background(), integ.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), quota.Limit)

	stored, err := f.store.Get(context.Background(), integ.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), stored.StorageQuotaUsage)
}

func TestListForOrganization(t *testing.T) {
	f := setupService(t)
	f.connect(t)

	list, err := f.svc.ListForOrganization(context.Background(), f.orgID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = f.svc.ListForOrganization(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, list)
}
