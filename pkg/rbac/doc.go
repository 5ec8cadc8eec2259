// Package rbac implements role-based access control for organizations.
//
// Every member of an organization holds exactly one role. Four roles are
// built in and seeded by migration:
//
//	owner   *:*
//	admin   *:read plus write access to everything except organization:delete
//	member  *:read, integrations:create, files:create, files:update
//	viewer  *:read
//
// Organizations may define custom roles from the same resource:action
// vocabulary. Resources are organization, members, invitations, roles,
// api_keys, integrations and files; actions are read, create, update and
// delete. Either side may be the wildcard "*".
//
// # Checking permissions
//
// PermissionChecker resolves a member's permission set through the Store and
// keeps it in a TTL-bounded LRU keyed by organization and user. Callers that
// change membership or roles must call InvalidateUser or
// InvalidateOrganization:
//
//	allowed, err := checker.HasPermission(ctx, orgID, userID, rbac.ResourceFiles, rbac.ActionCreate)
//
// HTTP routes use PermissionMiddleware.RequirePermission, which reads the
// {orgID} route variable and answers PERMISSION_DENIED when the check fails.
package rbac
