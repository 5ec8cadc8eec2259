package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/restoreassist/pkg/apierrors"
)

// PermissionStore resolves a member's role and permissions
type PermissionStore interface {
	GetMemberAccess(ctx context.Context, orgID uuid.UUID, userID string) (*MemberAccess, error)
}

// Store persists roles and permissions
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListRoles returns the built-in roles followed by the organization's custom roles
func (s *Store) ListRoles(ctx context.Context, orgID uuid.UUID) ([]*Role, error) {
	query := `
		SELECT r.id, r.organization_id, r.name, r.description, r.is_built_in, r.created_at,
		       p.resource, p.action
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE r.organization_id IS NULL OR r.organization_id = $1
		ORDER BY r.is_built_in DESC, r.name, p.resource, p.action
	`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	return scanRoles(rows)
}

// GetRoleByName returns a built-in role or a custom role of orgID
func (s *Store) GetRoleByName(ctx context.Context, orgID uuid.UUID, name string) (*Role, error) {
	query := `
		SELECT r.id, r.organization_id, r.name, r.description, r.is_built_in, r.created_at,
		       p.resource, p.action
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE r.name = $1 AND (r.organization_id IS NULL OR r.organization_id = $2)
		ORDER BY p.resource, p.action
	`

	rows, err := s.db.QueryContext(ctx, query, name, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	defer rows.Close()

	roles, err := scanRoles(rows)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, apierrors.NotFound("role")
	}
	return roles[0], nil
}

// RoleExists reports whether name resolves to a role usable in orgID
func (s *Store) RoleExists(ctx context.Context, orgID uuid.UUID, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM roles WHERE name = $1 AND (organization_id IS NULL OR organization_id = $2)`,
		name, orgID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check role: %w", err)
	}
	return count > 0, nil
}

// CreateRole creates a custom role for an organization
func (s *Store) CreateRole(ctx context.Context, orgID uuid.UUID, req CreateRoleRequest) (*Role, error) {
	if req.Name == "" {
		return nil, apierrors.BadRequest("role name is required")
	}
	if IsBuiltInRole(req.Name) {
		return nil, apierrors.Conflict(fmt.Sprintf("role %q is a built-in role", req.Name))
	}
	if len(req.Permissions) == 0 {
		return nil, apierrors.BadRequest("at least one permission is required")
	}

	perms := make(PermissionSet, 0, len(req.Permissions))
	seen := make(map[string]bool)
	for _, raw := range req.Permissions {
		p, err := ParsePermission(raw)
		if err != nil {
			return nil, apierrors.BadRequest(err.Error())
		}
		if !seen[p.String()] {
			seen[p.String()] = true
			perms = append(perms, p)
		}
	}

	exists, err := s.RoleExists(ctx, orgID, req.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apierrors.Conflict(fmt.Sprintf("role %q already exists", req.Name))
	}

	role := &Role{
		ID:             uuid.New(),
		OrganizationID: &orgID,
		Name:           req.Name,
		Description:    req.Description,
		Permissions:    perms,
		CreatedAt:      time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO roles (id, organization_id, name, description, is_built_in, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		role.ID, orgID, role.Name, role.Description, false, role.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert role: %w", err)
	}

	for _, p := range perms {
		permID, err := ensurePermission(ctx, tx, p)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`,
			role.ID, permID,
		); err != nil {
			return nil, fmt.Errorf("failed to grant %s: %w", p, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit role: %w", err)
	}
	return role, nil
}

// DeleteRole deletes a custom role. Built-in roles and roles still assigned
// to members cannot be deleted.
func (s *Store) DeleteRole(ctx context.Context, orgID uuid.UUID, name string) error {
	if IsBuiltInRole(name) {
		return apierrors.Forbidden("built-in roles cannot be deleted")
	}

	var inUse int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM organization_members WHERE organization_id = $1 AND role = $2`,
		orgID, name,
	).Scan(&inUse); err != nil {
		return fmt.Errorf("failed to check role usage: %w", err)
	}
	if inUse > 0 {
		return apierrors.Conflict(fmt.Sprintf("role %q is assigned to %d member(s)", name, inUse))
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM roles WHERE organization_id = $1 AND name = $2`,
		orgID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apierrors.NotFound("role")
	}
	return nil
}

// GetMemberAccess resolves the member's role and its permissions
func (s *Store) GetMemberAccess(ctx context.Context, orgID uuid.UUID, userID string) (*MemberAccess, error) {
	query := `
		SELECT m.role, p.resource, p.action
		FROM organization_members m
		JOIN organizations o ON o.id = m.organization_id
		LEFT JOIN roles r ON r.name = m.role
		     AND (r.organization_id IS NULL OR r.organization_id = m.organization_id)
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE m.organization_id = $1 AND m.user_id = $2 AND o.deleted_at IS NULL
	`

	rows, err := s.db.QueryContext(ctx, query, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get member permissions: %w", err)
	}
	defer rows.Close()

	access := &MemberAccess{Permissions: PermissionSet{}}
	for rows.Next() {
		var role string
		var resource, action sql.NullString
		if err := rows.Scan(&role, &resource, &action); err != nil {
			return nil, fmt.Errorf("failed to scan member permission: %w", err)
		}
		access.IsMember = true
		access.Role = role
		if resource.Valid && action.Valid {
			access.Permissions = append(access.Permissions, Permission{
				Resource: Resource(resource.String),
				Action:   Action(action.String),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate member permissions: %w", err)
	}

	sort.Slice(access.Permissions, func(i, j int) bool {
		return access.Permissions[i].String() < access.Permissions[j].String()
	})
	return access, nil
}

// ensurePermission returns the id of p, inserting it when missing
func ensurePermission(ctx context.Context, tx *sql.Tx, p Permission) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM permissions WHERE resource = $1 AND action = $2`,
		p.Resource, p.Action,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("failed to look up permission %s: %w", p, err)
	}

	id = uuid.New()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO permissions (id, resource, action, description) VALUES ($1, $2, $3, $4)`,
		id, p.Resource, p.Action, "",
	); err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert permission %s: %w", p, err)
	}
	return id, nil
}

// scanRoles folds role x permission rows into roles, preserving row order
func scanRoles(rows *sql.Rows) ([]*Role, error) {
	var roles []*Role
	byID := make(map[uuid.UUID]*Role)

	for rows.Next() {
		var (
			id               uuid.UUID
			orgID            *uuid.UUID
			name, desc       string
			builtIn          bool
			createdAt        time.Time
			resource, action sql.NullString
		)
		if err := rows.Scan(&id, &orgID, &name, &desc, &builtIn, &createdAt, &resource, &action); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}

		role, ok := byID[id]
		if !ok {
			role = &Role{
				ID:             id,
				OrganizationID: orgID,
				Name:           name,
				Description:    desc,
				IsBuiltIn:      builtIn,
				Permissions:    PermissionSet{},
				CreatedAt:      createdAt,
			}
			byID[id] = role
			roles = append(roles, role)
		}
		if resource.Valid && action.Valid {
			role.Permissions = append(role.Permissions, Permission{
				Resource: Resource(resource.String),
				Action:   Action(action.String),
			})
		}
	}

	return roles, rows.Err()
}
