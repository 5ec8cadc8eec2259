package rbac

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Resource represents a resource type in the system
type Resource string

const (
	ResourceAll          Resource = "*"
	ResourceOrganization Resource = "organization"
	ResourceMembers      Resource = "members"
	ResourceInvitations  Resource = "invitations"
	ResourceRoles        Resource = "roles"
	ResourceAPIKeys      Resource = "api_keys"
	ResourceIntegrations Resource = "integrations"
	ResourceFiles        Resource = "files"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionAll    Action = "*"
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

var (
	validResources = map[Resource]bool{
		ResourceAll: true, ResourceOrganization: true, ResourceMembers: true, ResourceInvitations: true,
		ResourceRoles: true, ResourceAPIKeys: true, ResourceIntegrations: true, ResourceFiles: true,
	}
	validActions = map[Action]bool{
		ActionAll: true, ActionRead: true, ActionCreate: true, ActionUpdate: true, ActionDelete: true,
	}
)

// Built-in role names
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

// IsBuiltInRole reports whether name is one of the seeded roles
func IsBuiltInRole(name string) bool {
	switch name {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// Permission represents a specific permission (resource + action)
type Permission struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// String returns the resource:action form
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// Matches reports whether p grants action on resource, honouring wildcards
func (p Permission) Matches(resource Resource, action Action) bool {
	return (p.Resource == ResourceAll || p.Resource == resource) &&
		(p.Action == ActionAll || p.Action == action)
}

// ParsePermission parses and validates a resource:action string
func ParsePermission(s string) (Permission, error) {
	resource, action, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Permission{}, fmt.Errorf("invalid permission %q: expected resource:action", s)
	}
	p := Permission{Resource: Resource(resource), Action: Action(action)}
	if !validResources[p.Resource] {
		return Permission{}, fmt.Errorf("invalid permission %q: unknown resource %q", s, resource)
	}
	if !validActions[p.Action] {
		return Permission{}, fmt.Errorf("invalid permission %q: unknown action %q", s, action)
	}
	return p, nil
}

// PermissionSet is the effective permission set of a member
type PermissionSet []Permission

// Allows reports whether any permission in the set grants action on resource
func (s PermissionSet) Allows(resource Resource, action Action) bool {
	for _, p := range s {
		if p.Matches(resource, action) {
			return true
		}
	}
	return false
}

// Strings returns the permissions in resource:action form
func (s PermissionSet) Strings() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = p.String()
	}
	return out
}

// Role represents a named set of permissions. Built-in roles have no organization.
type Role struct {
	ID             uuid.UUID     `json:"id"`
	OrganizationID *uuid.UUID    `json:"organization_id,omitempty"`
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	IsBuiltIn      bool          `json:"is_built_in"`
	Permissions    PermissionSet `json:"permissions"`
	CreatedAt      time.Time     `json:"created_at"`
}

// CreateRoleRequest is the body for creating a custom role
type CreateRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// MemberAccess is the resolved role and permission set of a user in an organization
type MemberAccess struct {
	IsMember    bool          `json:"is_member"`
	Role        string        `json:"role,omitempty"`
	Permissions PermissionSet `json:"permissions"`
}

// PermissionCheck represents a permission check request
type PermissionCheck struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Resource       Resource  `json:"resource"`
	Action         Action    `json:"action"`
}

// PermissionCheckResult represents the result of a permission check
type PermissionCheckResult struct {
	Allowed   bool      `json:"allowed"`
	Role      string    `json:"role,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}
