package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/restoreassist/pkg/apierrors"
	"github.com/platinummonkey/restoreassist/pkg/audit"
	"github.com/platinummonkey/restoreassist/pkg/contextkeys"
	"github.com/platinummonkey/restoreassist/pkg/rbac"
	"github.com/platinummonkey/restoreassist/pkg/storage/postgres"
)

const memberColumns = `id, organization_id, user_id, email, role, invited_by, joined_at`

// validateAssignableRole checks that role can be given to a member. The
// owner role is only assigned at creation.
func (s *PostgresService) validateAssignableRole(ctx context.Context, orgID uuid.UUID, role string) error {
	if role == "" {
		return apierrors.BadRequest("role is required")
	}
	if role == rbac.RoleOwner {
		return apierrors.BadRequest("ownership transfer is not supported")
	}
	if rbac.IsBuiltInRole(role) {
		return nil
	}
	if s.roles == nil {
		return apierrors.BadRequest(fmt.Sprintf("unknown role %q", role))
	}
	exists, err := s.roles.RoleExists(ctx, orgID, role)
	if err != nil {
		return fmt.Errorf("failed to check role: %w", err)
	}
	if !exists {
		return apierrors.BadRequest(fmt.Sprintf("unknown role %q", role))
	}
	return nil
}

// ListMembers retrieves all members of an organization
func (s *PostgresService) ListMembers(ctx context.Context, orgID uuid.UUID) ([]*Member, error) {
	query := `SELECT ` + memberColumns + ` FROM organization_members
		WHERE organization_id = $1 ORDER BY joined_at ASC`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []*Member{}
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// GetMember retrieves a specific member
func (s *PostgresService) GetMember(ctx context.Context, orgID uuid.UUID, userID string) (*Member, error) {
	query := `SELECT ` + memberColumns + ` FROM organization_members
		WHERE organization_id = $1 AND user_id = $2`

	member, err := scanMember(s.db.QueryRowContext(ctx, query, orgID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierrors.NotFound("member")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

// IsMember reports whether userID belongs to a live organization
func (s *PostgresService) IsMember(ctx context.Context, orgID uuid.UUID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM organization_members om
			JOIN organizations o ON o.id = om.organization_id
			WHERE om.organization_id = $1 AND om.user_id = $2 AND o.deleted_at IS NULL
		)
	`, orgID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

// AddMember adds a user to an organization directly
func (s *PostgresService) AddMember(ctx context.Context, orgID uuid.UUID, req AddMemberRequest, invitedBy string) (*Member, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, apierrors.BadRequest("user_id is required")
	}
	if err := s.validateAssignableRole(ctx, orgID, req.Role); err != nil {
		return nil, err
	}
	if _, err := s.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}

	member := &Member{
		ID:             uuid.New(),
		OrganizationID: orgID,
		UserID:         req.UserID,
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		Role:           req.Role,
		JoinedAt:       s.now().UTC(),
	}
	if invitedBy != "" {
		member.InvitedBy = &invitedBy
	}

	if err := insertMember(ctx, s.db, member); err != nil {
		return nil, err
	}

	s.invalidator.InvalidateUser(orgID, member.UserID)
	audit.Record(ctx, s.audit, audit.NewEvent(orgID, invitedBy,
		audit.EventTypeMemberAdd, audit.ResourceTypeMember, member.UserID).
		WithDetail("role", member.Role))

	return member, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertMember(ctx context.Context, e execer, m *Member) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO organization_members (id, organization_id, user_id, email, role, invited_by, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.OrganizationID, m.UserID, m.Email, m.Role, m.InvitedBy, m.JoinedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return apierrors.Conflict("user is already a member")
		}
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// UpdateMemberRole changes a member's role. The owner's role is immutable.
func (s *PostgresService) UpdateMemberRole(ctx context.Context, orgID uuid.UUID, userID, role string) (*Member, error) {
	if err := s.validateAssignableRole(ctx, orgID, role); err != nil {
		return nil, err
	}

	member, err := s.GetMember(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if member.Role == rbac.RoleOwner {
		return nil, apierrors.Forbidden("the owner's role cannot be changed")
	}
	if member.Role == role {
		return member, nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE organization_members SET role = $1 WHERE organization_id = $2 AND user_id = $3`,
		role, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update member role: %w", err)
	}

	s.invalidator.InvalidateUser(orgID, userID)
	audit.Record(ctx, s.audit, audit.NewEvent(orgID, contextkeys.GetUserID(ctx),
		audit.EventTypeMemberRoleChange, audit.ResourceTypeMember, userID).
		WithDetail("old_role", member.Role).
		WithDetail("new_role", role))

	member.Role = role
	return member, nil
}

// RemoveMember removes a member. The owner cannot be removed.
func (s *PostgresService) RemoveMember(ctx context.Context, orgID uuid.UUID, userID string) error {
	member, err := s.GetMember(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if member.Role == rbac.RoleOwner {
		return apierrors.Forbidden("the owner cannot be removed")
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM organization_members WHERE organization_id = $1 AND user_id = $2`,
		orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}

	s.invalidator.InvalidateUser(orgID, userID)
	audit.Record(ctx, s.audit, audit.NewEvent(orgID, contextkeys.GetUserID(ctx),
		audit.EventTypeMemberRemove, audit.ResourceTypeMember, userID))

	return nil
}

// CreateInvitation invites email to join the organization with role
func (s *PostgresService) CreateInvitation(ctx context.Context, orgID uuid.UUID, email, role, invitedBy string) (*Invitation, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") || len(email) > maxNameLength {
		return nil, apierrors.BadRequest("a valid email is required")
	}
	if err := s.validateAssignableRole(ctx, orgID, role); err != nil {
		return nil, err
	}
	if _, err := s.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}

	now := s.now().UTC()
	inv := &Invitation{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Email:          email,
		Role:           role,
		Token:          token,
		InvitedBy:      invitedBy,
		ExpiresAt:      now.Add(s.invitationTTL),
		CreatedAt:      now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO organization_invitations (id, organization_id, email, role, token, invited_by, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, inv.ID, inv.OrganizationID, inv.Email, inv.Role, inv.Token, inv.InvitedBy, inv.ExpiresAt, inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	audit.Record(ctx, s.audit, audit.NewEvent(orgID, invitedBy,
		audit.EventTypeInvitationCreate, audit.ResourceTypeInvitation, inv.ID.String()).
		WithDetail("email", inv.Email).
		WithDetail("role", inv.Role))

	return inv, nil
}

// ListInvitations lists pending invitations. Tokens are not returned.
func (s *PostgresService) ListInvitations(ctx context.Context, orgID uuid.UUID) ([]*Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, email, role, invited_by, expires_at, created_at
		FROM organization_invitations
		WHERE organization_id = $1 AND accepted_at IS NULL AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC
	`, orgID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	invitations := []*Invitation{}
	for rows.Next() {
		inv := &Invitation{}
		if err := rows.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role,
			&inv.InvitedBy, &inv.ExpiresAt, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// RevokeInvitation revokes a pending invitation
func (s *PostgresService) RevokeInvitation(ctx context.Context, orgID, invitationID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE organization_invitations SET revoked_at = $1
		WHERE id = $2 AND organization_id = $3 AND accepted_at IS NULL AND revoked_at IS NULL
	`, s.now().UTC(), invitationID, orgID)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apierrors.NotFound("invitation")
	}

	audit.Record(ctx, s.audit, audit.NewEvent(orgID, contextkeys.GetUserID(ctx),
		audit.EventTypeInvitationRevoke, audit.ResourceTypeInvitation, invitationID.String()))

	return nil
}

// AcceptInvitation adds userID to the invitation's organization in one transaction
func (s *PostgresService) AcceptInvitation(ctx context.Context, token, userID string) (*Member, error) {
	if token == "" {
		return nil, apierrors.NotFound("invitation")
	}
	if userID == "" {
		return nil, apierrors.Unauthorized("authentication required")
	}

	var (
		member *Member
		inv    Invitation
	)

	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var acceptedAt, revokedAt sql.NullTime
		err := tx.QueryRowContext(ctx, `
			SELECT i.id, i.organization_id, i.email, i.role, i.invited_by, i.expires_at, i.accepted_at, i.revoked_at
			FROM organization_invitations i
			JOIN organizations o ON o.id = i.organization_id
			WHERE i.token = $1 AND o.deleted_at IS NULL
			FOR UPDATE OF i
		`, token).Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role, &inv.InvitedBy,
			&inv.ExpiresAt, &acceptedAt, &revokedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return apierrors.NotFound("invitation")
		}
		if err != nil {
			return fmt.Errorf("failed to get invitation: %w", err)
		}
		if acceptedAt.Valid {
			inv.AcceptedAt = &acceptedAt.Time
		}
		if revokedAt.Valid {
			inv.RevokedAt = &revokedAt.Time
		}

		now := s.now().UTC()
		switch inv.Status(now) {
		case InvitationAccepted:
			return apierrors.Conflict("invitation has already been accepted")
		case InvitationRevoked:
			return apierrors.NotFound("invitation")
		case InvitationExpired:
			return apierrors.InvitationExpired()
		}

		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM organization_members WHERE organization_id = $1 AND user_id = $2)`,
			inv.OrganizationID, userID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		}
		if exists {
			return apierrors.Conflict("user is already a member")
		}

		invitedBy := inv.InvitedBy
		member = &Member{
			ID:             uuid.New(),
			OrganizationID: inv.OrganizationID,
			UserID:         userID,
			Email:          inv.Email,
			Role:           inv.Role,
			InvitedBy:      &invitedBy,
			JoinedAt:       now,
		}
		if err := insertMember(ctx, tx, member); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE organization_invitations SET accepted_at = $1, accepted_by = $2 WHERE id = $3`,
			now, userID, inv.ID); err != nil {
			return fmt.Errorf("failed to update invitation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidator.InvalidateUser(member.OrganizationID, userID)
	audit.Record(ctx, s.audit, audit.NewEvent(member.OrganizationID, userID,
		audit.EventTypeInvitationAccept, audit.ResourceTypeInvitation, inv.ID.String()).
		WithDetail("role", member.Role))

	return member, nil
}

func scanMember(row rowScanner) (*Member, error) {
	member := &Member{}
	var invitedBy sql.NullString
	if err := row.Scan(&member.ID, &member.OrganizationID, &member.UserID, &member.Email,
		&member.Role, &invitedBy, &member.JoinedAt); err != nil {
		return nil, err
	}
	if invitedBy.Valid {
		member.InvitedBy = &invitedBy.String
	}
	return member, nil
}

