package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/restoreassist/pkg/contextkeys"
	"github.com/platinummonkey/restoreassist/pkg/httputil"
	"github.com/platinummonkey/restoreassist/pkg/orgs"
)

// OrganizationLoader loads an organization by ID.
// *orgs.PostgresService implements it.
type OrganizationLoader interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*orgs.Organization, error)
}

// OrgContext loads the organization named by the {orgID} route variable into
// the request context. Routes without the variable pass through untouched.
func OrgContext(loader OrganizationLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := httputil.ParsePathString(r, "orgID"); err != nil {
				next.ServeHTTP(w, r)
				return
			}

			orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
			if !ok {
				return
			}

			org, err := loader.GetOrganization(r.Context(), orgID)
			if err != nil {
				httputil.WriteAPIError(w, err)
				return
			}

			ctx := contextkeys.WithOrg(r.Context(), org)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OrganizationFromContext returns the organization loaded by OrgContext
func OrganizationFromContext(ctx context.Context) *orgs.Organization {
	org, _ := ctx.Value(contextkeys.OrgKey).(*orgs.Organization)
	return org
}
