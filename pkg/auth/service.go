package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/restoreassist/pkg/apierrors"
	"github.com/platinummonkey/restoreassist/pkg/audit"
	"github.com/platinummonkey/restoreassist/pkg/contextkeys"
	"github.com/platinummonkey/restoreassist/pkg/observability"
	"github.com/platinummonkey/restoreassist/pkg/storage/postgres"
)

const (
	// DefaultUsageLimit is the number of usage rows returned when no limit is given
	DefaultUsageLimit = 50
	// MaxUsageLimit caps a single usage listing
	MaxUsageLimit = 500

	maxKeyNameLength = 255
)

// Validation results recorded in metrics
const (
	validationValid         = "valid"
	validationInvalidFormat = "invalid_format"
	validationNotFound      = "not_found"
	validationRevoked       = "revoked"
	validationExpired       = "expired"
	validationError         = "error"
)

const keyColumns = `id, organization_id, user_id, name, key_prefix, key_hash, scopes,
		expires_at, last_used_at, revoked_at, rotated_from, created_at`

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// APIKeyService manages the API key lifecycle
type APIKeyService struct {
	db        *sql.DB
	generator *KeyGenerator
	audit     audit.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// ServiceOption configures an APIKeyService
type ServiceOption func(*APIKeyService)

// WithAuditLogger records key lifecycle events
func WithAuditLogger(logger audit.Logger) ServiceOption {
	return func(s *APIKeyService) {
		if logger != nil {
			s.audit = logger
		}
	}
}

// WithMetrics records validation outcomes
func WithMetrics(metrics *observability.Metrics) ServiceOption {
	return func(s *APIKeyService) {
		s.metrics = metrics
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) ServiceOption {
	return func(s *APIKeyService) {
		s.now = now
	}
}

// NewAPIKeyService creates a new API key service
func NewAPIKeyService(db *sql.DB, opts ...ServiceOption) *APIKeyService {
	s := &APIKeyService{
		db:        db,
		generator: NewKeyGenerator(),
		audit:     audit.NoOpLogger{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateCreateRequest(req *CreateKeyRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if req.OrganizationID == uuid.Nil {
		return apierrors.BadRequest("organization id is required")
	}
	if req.UserID == "" {
		return apierrors.BadRequest("user id is required")
	}
	if req.Name == "" {
		return apierrors.BadRequest("name is required")
	}
	if len(req.Name) > maxKeyNameLength {
		return apierrors.BadRequest("name must be at most 255 characters")
	}
	if len(req.Scopes) == 0 {
		return apierrors.BadRequest("at least one scope is required")
	}
	for _, scope := range req.Scopes {
		if !IsValidScope(scope) {
			return apierrors.BadRequest(fmt.Sprintf("unknown scope %q", scope))
		}
	}
	if req.ExpiresIn < 0 {
		return apierrors.BadRequest("expiry must not be negative")
	}
	return nil
}

// Create issues a new API key. The plaintext is only available in the result.
func (s *APIKeyService) Create(ctx context.Context, req CreateKeyRequest) (*CreatedKey, error) {
	if err := validateCreateRequest(&req); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	key := &APIKey{
		ID:             uuid.New(),
		OrganizationID: req.OrganizationID,
		UserID:         req.UserID,
		Name:           req.Name,
		Scopes:         req.Scopes,
		CreatedAt:      now,
	}
	if req.ExpiresIn > 0 {
		expiresAt := now.Add(req.ExpiresIn)
		key.ExpiresAt = &expiresAt
	}

	plaintext, err := s.insertKey(ctx, s.db, key)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return nil, apierrors.NotFound("organization")
		}
		return nil, err
	}

	audit.Record(ctx, s.audit, audit.NewEvent(key.OrganizationID, req.UserID,
		audit.EventTypeAPIKeyCreate, audit.ResourceTypeAPIKey, key.ID.String()).
		WithDetail("name", key.Name).
		WithDetail("key_prefix", key.KeyPrefix))

	return &CreatedKey{APIKey: key, Key: plaintext}, nil
}

// insertKey generates key material for key and stores it
func (s *APIKeyService) insertKey(ctx context.Context, q queryer, key *APIKey) (string, error) {
	plaintext, hash, prefix, err := s.generator.Generate()
	if err != nil {
		return "", err
	}
	key.KeyHash = hash
	key.KeyPrefix = prefix

	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return "", fmt.Errorf("failed to marshal scopes: %w", err)
	}

	query := `
		INSERT INTO api_keys (
			id, organization_id, user_id, name, key_prefix, key_hash,
			scopes, expires_at, rotated_from, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = q.ExecContext(ctx, query,
		key.ID, key.OrganizationID, key.UserID, key.Name, key.KeyPrefix, key.KeyHash,
		scopes, key.ExpiresAt, key.RotatedFrom, key.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert api key: %w", err)
	}
	return plaintext, nil
}

// Validate resolves a plaintext key to its stored record. Unknown, revoked
// and expired keys are UNAUTHORIZED.
func (s *APIKeyService) Validate(ctx context.Context, plaintext string) (*APIKey, error) {
	if err := s.generator.ValidateFormat(plaintext); err != nil {
		s.recordValidation(validationInvalidFormat)
		return nil, apierrors.Unauthorized("invalid API key")
	}

	query := `SELECT ` + keyColumns + ` FROM api_keys WHERE key_hash = $1`
	key, err := scanKey(s.db.QueryRowContext(ctx, query, s.generator.Hash(plaintext)))
	if errors.Is(err, sql.ErrNoRows) {
		s.recordValidation(validationNotFound)
		return nil, apierrors.Unauthorized("invalid API key")
	}
	if err != nil {
		s.recordValidation(validationError)
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}

	now := s.now().UTC()
	if key.IsRevoked() {
		s.recordValidation(validationRevoked)
		return nil, apierrors.Unauthorized("API key has been revoked")
	}
	if key.IsExpired(now) {
		s.recordValidation(validationExpired)
		return nil, apierrors.Unauthorized("API key has expired")
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, now, key.ID); err != nil {
		observability.FromContext(ctx).WithError(err).
			WithField("api_key_id", key.ID.String()).
			Warn("failed to update api key last_used_at")
	} else {
		key.LastUsedAt = &now
	}

	s.recordValidation(validationValid)
	return key, nil
}

func (s *APIKeyService) recordValidation(result string) {
	s.metrics.RecordAPIKeyValidation(result)
}

// Rotate replaces a key with a new one carrying the same owner, name and
// scopes, and revokes the old key in the same transaction. A key with an
// expiry keeps its original lifetime, counted from the rotation. Revoked and
// expired keys cannot be rotated.
func (s *APIKeyService) Rotate(ctx context.Context, orgID, keyID uuid.UUID) (*CreatedKey, error) {
	var (
		created *CreatedKey
		oldKey  *APIKey
	)

	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		query := `SELECT ` + keyColumns + ` FROM api_keys
			WHERE id = $1 AND organization_id = $2 FOR UPDATE`
		var err error
		oldKey, err = scanKey(tx.QueryRowContext(ctx, query, keyID, orgID))
		if errors.Is(err, sql.ErrNoRows) {
			return apierrors.NotFound("api key")
		}
		if err != nil {
			return fmt.Errorf("failed to load api key: %w", err)
		}
		if oldKey.IsRevoked() {
			return apierrors.Conflict("API key has already been revoked")
		}
		now := s.now().UTC()
		if oldKey.IsExpired(now) {
			return apierrors.Conflict("API key has expired")
		}

		rotatedFrom := oldKey.ID
		newKey := &APIKey{
			ID:             uuid.New(),
			OrganizationID: oldKey.OrganizationID,
			UserID:         oldKey.UserID,
			Name:           oldKey.Name,
			Scopes:         oldKey.Scopes,
			RotatedFrom:    &rotatedFrom,
			CreatedAt:      now,
		}
		if oldKey.ExpiresAt != nil {
			expiresAt := now.Add(oldKey.ExpiresAt.Sub(oldKey.CreatedAt))
			newKey.ExpiresAt = &expiresAt
		}

		plaintext, err := s.insertKey(ctx, tx, newKey)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE api_keys SET revoked_at = $1 WHERE id = $2`, now, oldKey.ID); err != nil {
			return fmt.Errorf("failed to revoke rotated api key: %w", err)
		}

		created = &CreatedKey{APIKey: newKey, Key: plaintext}
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.Record(ctx, s.audit, audit.NewEvent(orgID, contextkeys.GetUserID(ctx),
		audit.EventTypeAPIKeyRotate, audit.ResourceTypeAPIKey, created.APIKey.ID.String()).
		WithDetail("rotated_from", oldKey.ID.String()))

	return created, nil
}

// Revoke revokes a key of the organization
func (s *APIKeyService) Revoke(ctx context.Context, orgID, keyID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = $1
		WHERE id = $2 AND organization_id = $3 AND revoked_at IS NULL
	`, s.now().UTC(), keyID, orgID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.Get(ctx, orgID, keyID); err != nil {
			return err
		}
		return apierrors.Conflict("API key has already been revoked")
	}

	audit.Record(ctx, s.audit, audit.NewEvent(orgID, contextkeys.GetUserID(ctx),
		audit.EventTypeAPIKeyRevoke, audit.ResourceTypeAPIKey, keyID.String()))

	return nil
}

// Get returns a key of the organization
func (s *APIKeyService) Get(ctx context.Context, orgID, keyID uuid.UUID) (*APIKey, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys WHERE id = $1 AND organization_id = $2`
	key, err := scanKey(s.db.QueryRowContext(ctx, query, keyID, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierrors.NotFound("api key")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return key, nil
}

// List returns the organization's keys, newest first. Revoked keys are included.
func (s *APIKeyService) List(ctx context.Context, orgID uuid.UUID) ([]*APIKey, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys
		WHERE organization_id = $1 ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	keys := []*APIKey{}
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// LogUsage records a request made with a key. Failures are logged and never returned.
func (s *APIKeyService) LogUsage(ctx context.Context, record UsageRecord) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_key_logs (
			id, api_key_id, method, path, status_code, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New(), record.APIKeyID, record.Method, record.Path, record.StatusCode,
		record.IPAddress, record.UserAgent, record.CreatedAt)
	if err != nil {
		observability.FromContext(ctx).WithError(err).
			WithField("api_key_id", record.APIKeyID.String()).
			Warn("failed to record api key usage")
	}
}

// ListUsage returns the most recent usage records of a key
func (s *APIKeyService) ListUsage(ctx context.Context, keyID uuid.UUID, limit int) ([]*UsageRecord, error) {
	if limit <= 0 {
		limit = DefaultUsageLimit
	}
	if limit > MaxUsageLimit {
		limit = MaxUsageLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT api_key_id, method, path, status_code, ip_address, user_agent, created_at
		FROM api_key_logs
		WHERE api_key_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, keyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list api key usage: %w", err)
	}
	defer rows.Close()

	records := []*UsageRecord{}
	for rows.Next() {
		r := &UsageRecord{}
		if err := rows.Scan(&r.APIKeyID, &r.Method, &r.Path, &r.StatusCode,
			&r.IPAddress, &r.UserAgent, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api key usage: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CleanupUsageLogs deletes usage records older than olderThan
func (s *APIKeyService) CleanupUsageLogs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_key_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up api key usage: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanKey(row rowScanner) (*APIKey, error) {
	var (
		key         APIKey
		scopes      []byte
		expiresAt   sql.NullTime
		lastUsedAt  sql.NullTime
		revokedAt   sql.NullTime
		rotatedFrom uuid.NullUUID
	)

	err := row.Scan(&key.ID, &key.OrganizationID, &key.UserID, &key.Name, &key.KeyPrefix,
		&key.KeyHash, &scopes, &expiresAt, &lastUsedAt, &revokedAt, &rotatedFrom, &key.CreatedAt)
	if err != nil {
		return nil, err
	}

	if len(scopes) > 0 {
		if err := json.Unmarshal(scopes, &key.Scopes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
		}
	}
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		key.LastUsedAt = &lastUsedAt.Time
	}
	if revokedAt.Valid {
		key.RevokedAt = &revokedAt.Time
	}
	if rotatedFrom.Valid {
		key.RotatedFrom = &rotatedFrom.UUID
	}
	return &key, nil
}
