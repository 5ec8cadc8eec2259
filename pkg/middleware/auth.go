package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/restoreassist/pkg/apierrors"
	"github.com/platinummonkey/restoreassist/pkg/async"
	"github.com/platinummonkey/restoreassist/pkg/audit"
	"github.com/platinummonkey/restoreassist/pkg/auth"
	"github.com/platinummonkey/restoreassist/pkg/httputil"
	"github.com/platinummonkey/restoreassist/pkg/rbac"
)

// KeyValidator validates API keys and records their usage.
// *auth.APIKeyService implements it.
type KeyValidator interface {
	Validate(ctx context.Context, plaintext string) (*auth.APIKey, error)
	LogUsage(ctx context.Context, record auth.UsageRecord)
}

// usageLogTimeout bounds the background write of one usage record
const usageLogTimeout = 5 * time.Second

// APIKeyAuth authenticates requests with an "Authorization: Bearer <key>"
// header. Every authenticated request is written to the key's usage log in
// the background once the handler returns.
func APIKeyAuth(keys KeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				httputil.WriteAPIError(w, apierrors.Unauthorized("missing bearer token"))
				return
			}

			key, err := keys.Validate(r.Context(), token)
			if err != nil {
				httputil.WriteAPIError(w, err)
				return
			}

			ip := getClientIP(r)
			ctx := auth.WithAuthContext(r.Context(), &auth.AuthContext{
				UserID:         key.UserID,
				OrganizationID: key.OrganizationID,
				APIKey:         key,
				Scopes:         key.Scopes,
			})
			ctx = audit.WithClientIP(ctx, ip)

			rw := httputil.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			record := auth.UsageRecord{
				APIKeyID:   key.ID,
				Method:     r.Method,
				Path:       r.URL.Path,
				StatusCode: rw.StatusCode,
				IPAddress:  ip,
				UserAgent:  r.UserAgent(),
			}
			async.SafeGo(ctx, nil, usageLogTimeout, "api key usage", func(ctx context.Context) error {
				keys.LogUsage(ctx, record)
				return nil
			})
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// Guard combines API key scope checks with RBAC permission checks
type Guard struct {
	permissions *rbac.PermissionMiddleware
}

// NewGuard creates a guard backed by the RBAC permission middleware
func NewGuard(permissions *rbac.PermissionMiddleware) *Guard {
	return &Guard{permissions: permissions}
}

// Require checks that the API key carries scope and that its user holds
// resource:action in the organization named by the {orgID} route variable
func (g *Guard) Require(scope auth.Scope, resource rbac.Resource, action rbac.Action) func(http.Handler) http.Handler {
	permission := g.permissions.RequirePermission(resource, action)
	return func(next http.Handler) http.Handler {
		return RequireScope(scope)(permission(next))
	}
}

// RequireScope checks that the API key carries scope. It does not consult RBAC.
func RequireScope(scope auth.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := auth.FromContext(r.Context())
			if ac == nil {
				httputil.WriteAPIError(w, apierrors.Unauthorized("authentication required"))
				return
			}
			if !ac.HasScope(scope) {
				httputil.WriteAPIError(w, apierrors.PermissionDenied("API key is missing scope "+string(scope)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth only checks that the request is authenticated
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.FromContext(r.Context()) == nil {
			httputil.WriteAPIError(w, apierrors.Unauthorized("authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getClientIP returns the caller address without its port. The server runs
// behind handlers.ProxyHeaders, which already rewrites RemoteAddr from
// X-Forwarded-For.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
