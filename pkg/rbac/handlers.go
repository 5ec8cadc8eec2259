package rbac

import (
	"net/http"

	"github.com/platinummonkey/restoreassist/pkg/audit"
	"github.com/platinummonkey/restoreassist/pkg/contextkeys"
	"github.com/platinummonkey/restoreassist/pkg/httputil"
)

// Handlers provides HTTP handlers for role management
type Handlers struct {
	store   *Store
	checker *PermissionChecker
	audit   audit.Logger
}

// NewHandlers creates new RBAC handlers
func NewHandlers(store *Store, checker *PermissionChecker, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &Handlers{
		store:   store,
		checker: checker,
		audit:   auditLogger,
	}
}

// ListRoles handles GET /organizations/{orgID}/roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}

	roles, err := h.store.ListRoles(r.Context(), orgID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	if roles == nil {
		roles = []*Role{}
	}

	httputil.WriteSuccess(w, roles)
}

// CreateRole handles POST /organizations/{orgID}/roles
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}

	var req CreateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.store.CreateRole(r.Context(), orgID, req)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	audit.Record(r.Context(), h.audit, audit.NewEvent(orgID, contextkeys.GetUserID(r.Context()),
		audit.EventTypeRoleCreate, audit.ResourceTypeRole, role.ID.String()).
		WithDetail("name", role.Name).
		WithDetail("permissions", role.Permissions.Strings()))

	httputil.WriteCreated(w, role)
}

// DeleteRole handles DELETE /organizations/{orgID}/roles/{roleName}
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "roleName")
	if !ok {
		return
	}

	if err := h.store.DeleteRole(r.Context(), orgID, name); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	h.checker.InvalidateOrganization(orgID)

	audit.Record(r.Context(), h.audit, audit.NewEvent(orgID, contextkeys.GetUserID(r.Context()),
		audit.EventTypeRoleDelete, audit.ResourceTypeRole, name))

	httputil.WriteNoContent(w)
}

// MyPermissions handles GET /organizations/{orgID}/permissions/me
func (h *Handlers) MyPermissions(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}
	userID := contextkeys.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	access, err := h.checker.GetMemberAccess(r.Context(), orgID, userID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	if !access.IsMember {
		httputil.WriteNotFoundError(w, "organization")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"role":        access.Role,
		"permissions": access.Permissions.Strings(),
	})
}
