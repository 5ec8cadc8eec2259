// Package integrations connects organizations to OAuth storage providers and
// manages the lifetime of the resulting tokens.
//
// # Overview
//
// An integration moves through these states:
//
//	absent -> pending -> active -> active-expiring -> active (refreshed) -> inactive
//
// InitiateAuthorization creates a pending authorization keyed by a random
// state token. HandleCallback consumes that state, exchanges the code,
// checks the granted scopes and stores the encrypted tokens. From then on
// GetAuthenticatedClient hands out HTTP clients, refreshing the access token
// when it is within the refresh buffer of its expiry. Revoke is terminal;
// only a new authorization of the same account can reactivate the row.
//
// # State Tokens
//
// States are 32 random bytes, base64url encoded, and single-use. Consume
// removes the entry whether or not it is still valid, so an expired state
// and an unknown state fail the same way with INVALID_STATE.
//
//	states := integrations.NewRedisStateStore(redisClient, "oauth:state")
//	// or, without Redis:
//	states := integrations.NewMemoryStateStore(10000, integrations.DefaultStateTTL)
//
// # Token Storage
//
// Access and refresh tokens are sealed separately with tokencrypt, each with
// its own IV. A refresh rewrites the access token and expiry only. Tokens are
// never serialized in API responses.
//
// # Usage
//
//	provider, _ := integrations.NewGoogleDriveProvider(integrations.GoogleDriveConfig{
//		ClientID:     cfg.OAuth.ClientID,
//		ClientSecret: cfg.OAuth.ClientSecret,
//		RedirectURL:  cfg.OAuth.RedirectURI,
//		Scopes:       cfg.OAuth.Scopes,
//	})
//	svc := integrations.NewService(integrations.NewPostgresStore(db), states, provider, encryptor, orgService)
//
//	req, err := svc.InitiateAuthorization(ctx, orgID, userID, "/settings/integrations")
//	// redirect the user to req.URL; the provider redirects back to the callback
//	client, err := svc.GetAuthenticatedClient(ctx, integrationID)
//	resp, err := client.HTTPClient.Get(...)
//
// # Related Packages
//
//   - pkg/tokencrypt: token encryption at rest
//   - pkg/files: file operations through authenticated clients
package integrations
