// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so that key
// usage is discoverable and typed helpers stay in one place.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithAuth(ctx, authCtx)
//	authCtx, _ := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *auth.AuthContext
	// Set by: middleware.APIKeyAuth
	// Required by: all /api/v1 handlers except the OAuth callback
	AuthKey Key = "auth_context"

	// OrgKey contains *orgs.Organization
	// Set by: middleware.OrgContext for routes with an {orgID} variable
	OrgKey Key = "organization"

	// RequestIDKey contains the request ID string
	// Set by: httputil.RequestIDMiddleware
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID string
	// Set by: middleware.APIKeyAuth
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	LoggerKey Key = "logger"
)

// WithAuth adds authentication context to the context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithOrg adds organization to the context
func WithOrg(ctx context.Context, org interface{}) context.Context {
	return context.WithValue(ctx, OrgKey, org)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
