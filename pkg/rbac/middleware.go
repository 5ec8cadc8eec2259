package rbac

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/restoreassist/pkg/apierrors"
	"github.com/platinummonkey/restoreassist/pkg/contextkeys"
	"github.com/platinummonkey/restoreassist/pkg/httputil"
	"github.com/platinummonkey/restoreassist/pkg/observability"
)

// PermissionMiddleware guards organization routes with permission checks
type PermissionMiddleware struct {
	checker *PermissionChecker
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker *PermissionChecker) *PermissionMiddleware {
	return &PermissionMiddleware{checker: checker}
}

// RequirePermission requires the authenticated user to hold resource:action in
// the organization named by the {orgID} route variable
func (pm *PermissionMiddleware) RequirePermission(resource Resource, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := contextkeys.GetUserID(r.Context())
			if userID == "" {
				httputil.WriteAPIError(w, apierrors.Unauthorized("authentication required"))
				return
			}

			orgID, err := uuid.Parse(mux.Vars(r)["orgID"])
			if err != nil {
				httputil.WriteBadRequest(w, "invalid organization id")
				return
			}

			result, err := pm.checker.CheckPermission(r.Context(), PermissionCheck{
				OrganizationID: orgID,
				UserID:         userID,
				Resource:       resource,
				Action:         action,
			})
			if err != nil {
				httputil.WriteAPIError(w, err)
				return
			}

			if !result.Allowed {
				observability.FromContext(r.Context()).WithFields(map[string]interface{}{
					"organization_id": orgID.String(),
					"permission":      Permission{Resource: resource, Action: action}.String(),
					"reason":          result.Reason,
				}).Info("permission denied")
				httputil.WriteAPIError(w, apierrors.PermissionDenied(
					"missing permission "+Permission{Resource: resource, Action: action}.String()))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
