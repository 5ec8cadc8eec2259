// Package auth issues and validates organization API keys.
//
// # Key Format
//
// Keys are "ra_" followed by 32 random bytes in unpadded base64url. Only the
// SHA256 hex digest is stored; the first 11 characters are kept as a display
// prefix so users can tell keys apart.
//
//	created, err := service.Create(ctx, auth.CreateKeyRequest{
//		OrganizationID: orgID,
//		UserID:         userID,
//		Name:           "backup agent",
//		Scopes:         []auth.Scope{auth.ScopeFilesRead, auth.ScopeFilesWrite},
//		ExpiresIn:      90 * 24 * time.Hour,
//	})
//	// created.Key is shown once and never stored
//
// # Scopes
//
// A key carries a list of scopes. "*" grants every scope. Scopes bound what a
// key may do on top of the RBAC role of the user who owns it.
//
// # Lifecycle
//
// Validate rejects malformed, unknown, revoked and expired keys with
// UNAUTHORIZED. Rotate issues a replacement with the same owner, name and
// scopes and revokes the old key in one transaction. Every authenticated
// request is recorded in api_key_logs through LogUsage, which never fails the
// request.
//
// # Request Context
//
// The API key middleware stores an *AuthContext on the request context:
//
//	ac := auth.FromContext(r.Context())
//	if !ac.HasScope(auth.ScopeFilesWrite) {
//		// reject
//	}
package auth
