package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/restoreassist/pkg/audit"
	"github.com/platinummonkey/restoreassist/pkg/auth"
	"github.com/platinummonkey/restoreassist/pkg/files"
	"github.com/platinummonkey/restoreassist/pkg/httputil"
	"github.com/platinummonkey/restoreassist/pkg/integrations"
	"github.com/platinummonkey/restoreassist/pkg/middleware"
	"github.com/platinummonkey/restoreassist/pkg/orgs"
	"github.com/platinummonkey/restoreassist/pkg/rbac"
)

// APIPrefix is the path prefix of every API route
const APIPrefix = "/api/v1"

// guarded is one route that needs an API key scope and an RBAC permission
// in the {orgID} organization
type guarded struct {
	method   string
	path     string
	scope    auth.Scope
	resource rbac.Resource
	action   rbac.Action
	handler  http.HandlerFunc
}

func (s *Server) routes() {
	d := s.deps

	integrationHandlers := integrations.NewHandlers(d.Integrations)
	limit := middleware.RateLimit(d.Limiter, d.Metrics)

	// The OAuth callback authenticates through its state token alone, so it
	// sits outside the API key middleware.
	s.router.Handle(APIPrefix+"/integrations/google-drive/callback",
		limit(http.HandlerFunc(integrationHandlers.Callback))).Methods("GET")

	api := s.router.PathPrefix(APIPrefix).Subrouter()
	api.Use(middleware.APIKeyAuth(d.Keys), limit)

	orgHandlers := orgs.NewHandlers(d.Orgs)
	keyHandlers := auth.NewHandlers(d.APIKeys)
	roleHandlers := rbac.NewHandlers(d.Roles, d.Permissions, d.Audit)
	fileHandlers := files.NewHandlers(d.Files)

	// Routes not bound to one organization
	api.Handle("/organizations", middleware.RequireScope(auth.ScopeOrgsWrite)(http.HandlerFunc(orgHandlers.CreateOrganization))).Methods("POST")
	api.Handle("/organizations", middleware.RequireScope(auth.ScopeOrgsRead)(http.HandlerFunc(orgHandlers.ListOrganizations))).Methods("GET")
	api.Handle("/invitations/{token}/accept", middleware.RequireAuth(http.HandlerFunc(orgHandlers.AcceptInvitation))).Methods("POST")

	org := "/organizations/{orgID}"
	integration := org + "/integrations/{integrationID}"

	upload := http.HandlerFunc(fileHandlers.Upload)
	if d.MaxUploadBytes > 0 {
		upload = httputil.MaxBytesMiddleware(d.MaxUploadBytes+uploadOverhead)(upload).ServeHTTP
	}

	routes := []guarded{
		// Organizations
		{"GET", org, auth.ScopeOrgsRead, rbac.ResourceOrganization, rbac.ActionRead, orgHandlers.GetOrganization},
		{"PATCH", org, auth.ScopeOrgsWrite, rbac.ResourceOrganization, rbac.ActionUpdate, orgHandlers.UpdateOrganization},
		{"DELETE", org, auth.ScopeOrgsWrite, rbac.ResourceOrganization, rbac.ActionDelete, orgHandlers.DeleteOrganization},

		// Members
		{"GET", org + "/members", auth.ScopeOrgsRead, rbac.ResourceMembers, rbac.ActionRead, orgHandlers.ListMembers},
		{"POST", org + "/members", auth.ScopeOrgsWrite, rbac.ResourceMembers, rbac.ActionCreate, orgHandlers.AddMember},
		{"PUT", org + "/members/{userID}", auth.ScopeOrgsWrite, rbac.ResourceMembers, rbac.ActionUpdate, orgHandlers.UpdateMember},
		{"DELETE", org + "/members/{userID}", auth.ScopeOrgsWrite, rbac.ResourceMembers, rbac.ActionDelete, orgHandlers.RemoveMember},

		// Invitations
		{"GET", org + "/invitations", auth.ScopeOrgsRead, rbac.ResourceInvitations, rbac.ActionRead, orgHandlers.ListInvitations},
		{"POST", org + "/invitations", auth.ScopeOrgsWrite, rbac.ResourceInvitations, rbac.ActionCreate, orgHandlers.CreateInvitation},
		{"DELETE", org + "/invitations/{invitationID}", auth.ScopeOrgsWrite, rbac.ResourceInvitations, rbac.ActionDelete, orgHandlers.RevokeInvitation},

		// Roles and permissions
		{"GET", org + "/roles", auth.ScopeOrgsRead, rbac.ResourceRoles, rbac.ActionRead, roleHandlers.ListRoles},
		{"POST", org + "/roles", auth.ScopeOrgsWrite, rbac.ResourceRoles, rbac.ActionCreate, roleHandlers.CreateRole},
		{"DELETE", org + "/roles/{roleName}", auth.ScopeOrgsWrite, rbac.ResourceRoles, rbac.ActionDelete, roleHandlers.DeleteRole},

		// API keys
		{"GET", org + "/api-keys", auth.ScopeOrgsRead, rbac.ResourceAPIKeys, rbac.ActionRead, keyHandlers.ListKeys},
		{"POST", org + "/api-keys", auth.ScopeOrgsWrite, rbac.ResourceAPIKeys, rbac.ActionCreate, keyHandlers.CreateKey},
		{"POST", org + "/api-keys/{keyID}/rotate", auth.ScopeOrgsWrite, rbac.ResourceAPIKeys, rbac.ActionUpdate, keyHandlers.RotateKey},
		{"DELETE", org + "/api-keys/{keyID}", auth.ScopeOrgsWrite, rbac.ResourceAPIKeys, rbac.ActionDelete, keyHandlers.RevokeKey},
		{"GET", org + "/api-keys/{keyID}/usage", auth.ScopeOrgsRead, rbac.ResourceAPIKeys, rbac.ActionRead, keyHandlers.KeyUsage},

		// Integrations
		{"POST", org + "/integrations/google-drive/authorize", auth.ScopeIntegrationsWrite, rbac.ResourceIntegrations, rbac.ActionCreate, integrationHandlers.Authorize},
		{"GET", org + "/integrations", auth.ScopeIntegrationsRead, rbac.ResourceIntegrations, rbac.ActionRead, integrationHandlers.List},
		{"GET", integration, auth.ScopeIntegrationsRead, rbac.ResourceIntegrations, rbac.ActionRead, integrationHandlers.Get},
		{"POST", integration + "/refresh", auth.ScopeIntegrationsWrite, rbac.ResourceIntegrations, rbac.ActionUpdate, integrationHandlers.Refresh},
		{"POST", integration + "/revoke", auth.ScopeIntegrationsWrite, rbac.ResourceIntegrations, rbac.ActionDelete, integrationHandlers.Revoke},
		{"GET", integration + "/quota", auth.ScopeIntegrationsRead, rbac.ResourceIntegrations, rbac.ActionRead, integrationHandlers.Quota},

		// Files
		{"GET", integration + "/files", auth.ScopeFilesRead, rbac.ResourceFiles, rbac.ActionRead, fileHandlers.List},
		{"POST", integration + "/files", auth.ScopeFilesWrite, rbac.ResourceFiles, rbac.ActionCreate, upload},
		{"GET", integration + "/files/{fileID}", auth.ScopeFilesRead, rbac.ResourceFiles, rbac.ActionRead, fileHandlers.Get},
		{"GET", integration + "/files/{fileID}/content", auth.ScopeFilesRead, rbac.ResourceFiles, rbac.ActionRead, fileHandlers.Download},
		{"POST", integration + "/files/{fileID}/share", auth.ScopeFilesWrite, rbac.ResourceFiles, rbac.ActionUpdate, fileHandlers.Share},
		{"GET", integration + "/sync-logs", auth.ScopeFilesRead, rbac.ResourceFiles, rbac.ActionRead, fileHandlers.SyncLogs},
		{"GET", integration + "/cache", auth.ScopeFilesRead, rbac.ResourceFiles, rbac.ActionRead, fileHandlers.CacheStats},
		{"DELETE", integration + "/cache", auth.ScopeFilesWrite, rbac.ResourceFiles, rbac.ActionDelete, fileHandlers.ClearCache},
	}

	if d.AuditEvents != nil {
		auditHandlers := audit.NewHandlers(d.AuditEvents)
		routes = append(routes, guarded{"GET", org + "/audit-events", auth.ScopeOrgsRead, rbac.ResourceOrganization, rbac.ActionRead, auditHandlers.ListEvents})
	}

	s.register(api, routes)

	// Membership alone is enough to read your own permissions
	api.Handle(org+"/permissions/me", middleware.RequireAuth(http.HandlerFunc(roleHandlers.MyPermissions))).Methods("GET")
}

// register mounts routes behind the scope and permission guard. The
// organization is loaded only after the caller is known to be allowed in
// it, so non-members cannot tell missing organizations from forbidden ones.
func (s *Server) register(r *mux.Router, routes []guarded) {
	guard := middleware.NewGuard(rbac.NewPermissionMiddleware(s.deps.Permissions))
	orgContext := middleware.OrgContext(s.deps.Orgs)

	for _, rt := range routes {
		h := guard.Require(rt.scope, rt.resource, rt.action)(orgContext(rt.handler))
		r.Handle(rt.path, h).Methods(rt.method)
	}
}
