package orgs

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/restoreassist/pkg/apierrors"
	"github.com/platinummonkey/restoreassist/pkg/audit"
	"github.com/platinummonkey/restoreassist/pkg/contextkeys"
	"github.com/platinummonkey/restoreassist/pkg/rbac"
	"github.com/platinummonkey/restoreassist/pkg/storage/postgres"
)

// DefaultInvitationTTL is how long an invitation stays valid
const DefaultInvitationTTL = 7 * 24 * time.Hour

const (
	maxNameLength = 255
	maxSlugLength = 100
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

const orgColumns = `id, name, slug, description, owner_id, settings, is_active, created_at, updated_at`

// Invalidator drops cached permissions after membership changes.
// *rbac.PermissionChecker implements it.
type Invalidator interface {
	InvalidateUser(orgID uuid.UUID, userID string)
	InvalidateOrganization(orgID uuid.UUID)
}

// RoleValidator resolves organization-scoped custom roles. *rbac.Store implements it.
type RoleValidator interface {
	RoleExists(ctx context.Context, orgID uuid.UUID, name string) (bool, error)
}

type noopInvalidator struct{}

func (noopInvalidator) InvalidateUser(uuid.UUID, string)   {}
func (noopInvalidator) InvalidateOrganization(uuid.UUID) {}

// PostgresService implements organization management using PostgreSQL
type PostgresService struct {
	db            *sql.DB
	invalidator   Invalidator
	roles         RoleValidator
	audit         audit.Logger
	invitationTTL time.Duration
	now           func() time.Time
}

// Option configures a PostgresService
type Option func(*PostgresService)

// WithInvalidator sets the permission cache invalidator
func WithInvalidator(inv Invalidator) Option {
	return func(s *PostgresService) {
		if inv != nil {
			s.invalidator = inv
		}
	}
}

// WithRoleValidator allows custom roles to be assigned. Without it only
// built-in roles are accepted.
func WithRoleValidator(v RoleValidator) Option {
	return func(s *PostgresService) {
		s.roles = v
	}
}

// WithAuditLogger records organization events
func WithAuditLogger(logger audit.Logger) Option {
	return func(s *PostgresService) {
		if logger != nil {
			s.audit = logger
		}
	}
}

// WithInvitationTTL sets how long new invitations stay valid
func WithInvitationTTL(ttl time.Duration) Option {
	return func(s *PostgresService) {
		if ttl > 0 {
			s.invitationTTL = ttl
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *PostgresService) {
		s.now = now
	}
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB, opts ...Option) *PostgresService {
	s := &PostgresService{
		db:            db,
		invalidator:   noopInvalidator{},
		audit:         audit.NoOpLogger{},
		invitationTTL: DefaultInvitationTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrganization creates an organization and makes ownerID its owner
func (s *PostgresService) CreateOrganization(ctx context.Context, req CreateOrgRequest, ownerID string) (*Organization, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, apierrors.BadRequest("name is required")
	}
	if len(req.Name) > maxNameLength {
		return nil, apierrors.BadRequest("name must be at most 255 characters")
	}
	if ownerID == "" {
		return nil, apierrors.Unauthorized("authentication required")
	}

	slug := req.Slug
	if slug == "" {
		slug = generateSlug(req.Name)
	}
	if err := validateSlug(slug); err != nil {
		return nil, err
	}

	settings := req.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, apierrors.BadRequest("settings must be a JSON object")
	}

	now := s.now().UTC()
	org := &Organization{
		ID:          uuid.New(),
		Name:        req.Name,
		Slug:        slug,
		Description: req.Description,
		OwnerID:     ownerID,
		Settings:    settings,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO organizations (id, name, slug, description, owner_id, settings, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, org.ID, org.Name, org.Slug, org.Description, org.OwnerID, settingsJSON, org.IsActive, org.CreatedAt, org.UpdatedAt)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return apierrors.Conflict(fmt.Sprintf("organization slug %q already exists", org.Slug))
			}
			return fmt.Errorf("failed to create organization: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO organization_members (id, organization_id, user_id, email, role, invited_by, joined_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New(), org.ID, ownerID, "", rbac.RoleOwner, nil, now)
		if err != nil {
			return fmt.Errorf("failed to add owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.Record(ctx, s.audit, audit.NewEvent(org.ID, ownerID,
		audit.EventTypeOrgCreate, audit.ResourceTypeOrganization, org.ID.String()).
		WithDetail("slug", org.Slug))

	return org, nil
}

// GetOrganization retrieves an organization by ID
func (s *PostgresService) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE id = $1 AND deleted_at IS NULL`
	return s.getOrganization(ctx, query, id)
}

// GetOrganizationBySlug retrieves an organization by slug
func (s *PostgresService) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE slug = $1 AND deleted_at IS NULL`
	return s.getOrganization(ctx, query, slug)
}

func (s *PostgresService) getOrganization(ctx context.Context, query string, arg interface{}) (*Organization, error) {
	org, err := scanOrganization(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierrors.NotFound("organization")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// ListUserOrganizations lists the organizations a user belongs to
func (s *PostgresService) ListUserOrganizations(ctx context.Context, userID string) ([]*Organization, error) {
	query := `
		SELECT o.id, o.name, o.slug, o.description, o.owner_id, o.settings, o.is_active, o.created_at, o.updated_at
		FROM organizations o
		JOIN organization_members om ON o.id = om.organization_id
		WHERE om.user_id = $1 AND o.deleted_at IS NULL
		ORDER BY o.created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	orgs := []*Organization{}
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// UpdateOrganization applies the non-nil fields of updates
func (s *PostgresService) UpdateOrganization(ctx context.Context, id uuid.UUID, updates UpdateOrgRequest) (*Organization, error) {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if updates.Name != nil {
		name := strings.TrimSpace(*updates.Name)
		if name == "" || len(name) > maxNameLength {
			return nil, apierrors.BadRequest("name must be between 1 and 255 characters")
		}
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, name)
		argPos++
	}
	if updates.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", argPos))
		args = append(args, *updates.Description)
		argPos++
	}
	if updates.Settings != nil {
		settingsJSON, err := json.Marshal(updates.Settings)
		if err != nil {
			return nil, apierrors.BadRequest("settings must be a JSON object")
		}
		setClauses = append(setClauses, fmt.Sprintf("settings = $%d", argPos))
		args = append(args, settingsJSON)
		argPos++
	}

	if len(setClauses) == 0 {
		return s.GetOrganization(ctx, id)
	}

	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, s.now().UTC())
	argPos++

	args = append(args, id)
	query := fmt.Sprintf("UPDATE organizations SET %s WHERE id = $%d AND deleted_at IS NULL",
		strings.Join(setClauses, ", "), argPos)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update organization: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, apierrors.NotFound("organization")
	}

	audit.Record(ctx, s.audit, audit.NewEvent(id, contextkeys.GetUserID(ctx),
		audit.EventTypeOrgUpdate, audit.ResourceTypeOrganization, id.String()))

	return s.GetOrganization(ctx, id)
}

// DeleteOrganization soft deletes an organization
func (s *PostgresService) DeleteOrganization(ctx context.Context, id uuid.UUID) error {
	now := s.now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE organizations SET deleted_at = $1, is_active = false, updated_at = $1
		WHERE id = $2 AND deleted_at IS NULL
	`, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apierrors.NotFound("organization")
	}

	s.invalidator.InvalidateOrganization(id)
	audit.Record(ctx, s.audit, audit.NewEvent(id, contextkeys.GetUserID(ctx),
		audit.EventTypeOrgDelete, audit.ResourceTypeOrganization, id.String()))

	return nil
}

// CleanupExpiredInvitations deletes invitations that expired without being accepted
func (s *PostgresService) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM organization_invitations WHERE expires_at < $1 AND accepted_at IS NULL`,
		s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired invitations: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrganization(row rowScanner) (*Organization, error) {
	org := &Organization{}
	var settingsJSON []byte
	if err := row.Scan(
		&org.ID, &org.Name, &org.Slug, &org.Description, &org.OwnerID,
		&settingsJSON, &org.IsActive, &org.CreatedAt, &org.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &org.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}
	return org, nil
}

// generateSlug derives a URL-safe slug from name
func generateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Map(func(r rune) rune {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			return r
		case r == ' ' || r == '-' || r == '_' || r == '.':
			return '-'
		}
		return -1
	}, slug)
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return slug
}

func validateSlug(slug string) error {
	if slug == "" {
		return apierrors.BadRequest("slug must contain at least one letter or digit")
	}
	if len(slug) > maxSlugLength {
		return apierrors.BadRequest("slug must be at most 100 characters")
	}
	if !slugPattern.MatchString(slug) {
		return apierrors.BadRequest("slug may only contain lowercase letters, digits and single dashes")
	}
	return nil
}

// generateToken generates a random invitation token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
