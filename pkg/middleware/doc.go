// Package middleware provides HTTP middleware for authentication, authorization, and rate limiting.
//
// # Overview
//
// Every /api/v1 route except the OAuth callback runs behind APIKeyAuth. The
// key identifies a user; organization access is then decided by RBAC
// membership in the {orgID} of the route, and the key's scopes bound what
// the key may do on the user's behalf.
//
// # Middleware Components
//
// APIKeyAuth: Bearer API key authentication with usage logging
//
//	router.Use(middleware.APIKeyAuth(apiKeyService))
//
// Guard: scope check followed by an RBAC permission check
//
//	guard := middleware.NewGuard(rbac.NewPermissionMiddleware(checker))
//	r.Handle("/organizations/{orgID}/files", guard.Require(auth.ScopeFilesRead, rbac.ResourceFiles, rbac.ActionRead)(h))
//
// OrgContext: loads the {orgID} organization into the request context
//
// RateLimit: fixed-window limiting per user, or per IP before authentication
//
//	limiter := middleware.NewRedisRateLimiter(redisClient, cfg, "ratelimit")
//	router.Use(middleware.RateLimit(limiter, metrics))
//
// # Rate Limiting
//
// Defaults to 600 requests per minute. Redis errors fail open. Without Redis,
// MemoryRateLimiter keeps per-instance counters.
package middleware
