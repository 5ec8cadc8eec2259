package integrations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrIntegrationNotFound is returned by Store lookups for unknown IDs
var ErrIntegrationNotFound = errors.New("integration not found")

// Store persists integrations
type Store interface {
	// Upsert inserts integ or, when the organization already has the
	// provider account, updates and reactivates that row. ID and CreatedAt
	// are set from the persisted row.
	Upsert(ctx context.Context, integ *Integration) error
	Get(ctx context.Context, id uuid.UUID) (*Integration, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*Integration, error)
	// UpdateAccessToken rewrites the access token and its expiry. The
	// refresh token is never touched.
	UpdateAccessToken(ctx context.Context, id uuid.UUID, encrypted, iv string, expiresAt, refreshedAt time.Time) error
	UpdateQuota(ctx context.Context, id uuid.UUID, quota StorageQuota, updatedAt time.Time) error
	Deactivate(ctx context.Context, id uuid.UUID, revokedAt time.Time) error
}

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new integration store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const integrationColumns = `id, organization_id, connected_by, provider, provider_account_id, account_email,
	access_token_encrypted, access_token_iv, refresh_token_encrypted, refresh_token_iv,
	token_expires_at, scopes, storage_quota_limit, storage_quota_usage,
	is_active, revoked_at, last_refreshed_at, created_at, updated_at`

// Upsert inserts or reconnects an integration
func (s *PostgresStore) Upsert(ctx context.Context, integ *Integration) error {
	if integ.ID == uuid.Nil {
		integ.ID = uuid.New()
	}
	scopes, err := json.Marshal(integ.Scopes)
	if err != nil {
		return fmt.Errorf("failed to encode scopes: %w", err)
	}

	query := `
		INSERT INTO oauth_integrations (` + integrationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, TRUE, NULL, NULL, $15, $15)
		ON CONFLICT (organization_id, provider_account_id) DO UPDATE SET
			connected_by = EXCLUDED.connected_by,
			provider = EXCLUDED.provider,
			account_email = EXCLUDED.account_email,
			access_token_encrypted = EXCLUDED.access_token_encrypted,
			access_token_iv = EXCLUDED.access_token_iv,
			refresh_token_encrypted = EXCLUDED.refresh_token_encrypted,
			refresh_token_iv = EXCLUDED.refresh_token_iv,
			token_expires_at = EXCLUDED.token_expires_at,
			scopes = EXCLUDED.scopes,
			storage_quota_limit = EXCLUDED.storage_quota_limit,
			storage_quota_usage = EXCLUDED.storage_quota_usage,
			is_active = TRUE,
			revoked_at = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err = s.db.QueryRowContext(ctx, query,
		integ.ID, integ.OrganizationID, integ.ConnectedBy, integ.Provider, integ.ProviderAccountID, integ.AccountEmail,
		integ.AccessTokenEncrypted, integ.AccessTokenIV, integ.RefreshTokenEncrypted, integ.RefreshTokenIV,
		integ.TokenExpiresAt, scopes, integ.StorageQuotaLimit, integ.StorageQuotaUsage,
		integ.UpdatedAt,
	).Scan(&integ.ID, &integ.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert integration: %w", err)
	}

	integ.IsActive = true
	integ.RevokedAt = nil
	return nil
}

// Get returns one integration
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM oauth_integrations WHERE id = $1`

	integ, err := scanIntegration(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrIntegrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	return integ, nil
}

// ListByOrganization returns an organization's integrations, newest first
func (s *PostgresStore) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM oauth_integrations
		WHERE organization_id = $1 ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	integrations := []*Integration{}
	for rows.Next() {
		integ, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}
		integrations = append(integrations, integ)
	}
	return integrations, rows.Err()
}

// UpdateAccessToken stores a refreshed access token
func (s *PostgresStore) UpdateAccessToken(ctx context.Context, id uuid.UUID, encrypted, iv string, expiresAt, refreshedAt time.Time) error {
	query := `
		UPDATE oauth_integrations
		SET access_token_encrypted = $1, access_token_iv = $2, token_expires_at = $3,
			last_refreshed_at = $4, updated_at = $4
		WHERE id = $5
	`
	return s.execOne(ctx, "update access token", query, encrypted, iv, expiresAt, refreshedAt, id)
}

// UpdateQuota stores the latest storage quota
func (s *PostgresStore) UpdateQuota(ctx context.Context, id uuid.UUID, quota StorageQuota, updatedAt time.Time) error {
	query := `
		UPDATE oauth_integrations
		SET storage_quota_limit = $1, storage_quota_usage = $2, updated_at = $3
		WHERE id = $4
	`
	return s.execOne(ctx, "update quota", query, quota.Limit, quota.Usage, updatedAt, id)
}

// Deactivate marks an integration revoked
func (s *PostgresStore) Deactivate(ctx context.Context, id uuid.UUID, revokedAt time.Time) error {
	query := `
		UPDATE oauth_integrations
		SET is_active = FALSE, revoked_at = $1, updated_at = $1
		WHERE id = $2
	`
	return s.execOne(ctx, "deactivate integration", query, revokedAt, id)
}

func (s *PostgresStore) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return ErrIntegrationNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntegration(row rowScanner) (*Integration, error) {
	var (
		integ       Integration
		scopes      []byte
		revokedAt   sql.NullTime
		refreshedAt sql.NullTime
	)

	err := row.Scan(
		&integ.ID, &integ.OrganizationID, &integ.ConnectedBy, &integ.Provider, &integ.ProviderAccountID, &integ.AccountEmail,
		&integ.AccessTokenEncrypted, &integ.AccessTokenIV, &integ.RefreshTokenEncrypted, &integ.RefreshTokenIV,
		&integ.TokenExpiresAt, &scopes, &integ.StorageQuotaLimit, &integ.StorageQuotaUsage,
		&integ.IsActive, &revokedAt, &refreshedAt, &integ.CreatedAt, &integ.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(scopes) > 0 {
		if err := json.Unmarshal(scopes, &integ.Scopes); err != nil {
			return nil, fmt.Errorf("failed to decode scopes: %w", err)
		}
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		integ.RevokedAt = &t
	}
	if refreshedAt.Valid {
		t := refreshedAt.Time
		integ.LastRefreshedAt = &t
	}
	return &integ, nil
}
