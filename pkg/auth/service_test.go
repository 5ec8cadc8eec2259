package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/restoreassist/pkg/apierrors"
	"github.com/platinummonkey/restoreassist/pkg/observability"
)

var keyCols = []string{
	"id", "organization_id", "user_id", "name", "key_prefix", "key_hash", "scopes",
	"expires_at", "last_used_at", "revoked_at", "rotated_from", "created_at",
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupService(t *testing.T, opts ...ServiceOption) (*APIKeyService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	opts = append([]ServiceOption{WithClock(func() time.Time { return testNow })}, opts...)
	return NewAPIKeyService(db, opts...), mock
}

type keyRow struct {
	id        uuid.UUID
	orgID     uuid.UUID
	scopes    string
	createdAt time.Time
	expiresAt interface{}
	revokedAt interface{}
}

func (k keyRow) rows() *sqlmock.Rows {
	scopes := k.scopes
	if scopes == "" {
		scopes = `["files:read"]`
	}
	createdAt := k.createdAt
	if createdAt.IsZero() {
		createdAt = testNow.Add(-24 * time.Hour)
	}
	return sqlmock.NewRows(keyCols).AddRow(
		k.id.String(), k.orgID.String(), "user-1", "ci", "ra_abcdefgh", strings.Repeat("a", 64),
		[]byte(scopes), k.expiresAt, nil, k.revokedAt, nil, createdAt,
	)
}

func TestAPIKeyService_Create(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc, mock := setupService(t)
		orgID := uuid.New()

		mock.ExpectExec("INSERT INTO api_keys").
			WithArgs(sqlmock.AnyArg(), orgID, "user-1", "ci", sqlmock.AnyArg(), sqlmock.AnyArg(),
				[]byte(`["files:read","files:write"]`), testNow.Add(30*24*time.Hour), nil, testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		created, err := svc.Create(context.Background(), CreateKeyRequest{
			OrganizationID: orgID,
			UserID:         "user-1",
			Name:           "  ci  ",
			Scopes:         []Scope{ScopeFilesRead, ScopeFilesWrite},
			ExpiresIn:      30 * 24 * time.Hour,
		})
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(created.Key, KeyPrefix))
		assert.Equal(t, "ci", created.APIKey.Name)
		assert.Equal(t, created.Key[:DisplayPrefixLength], created.APIKey.KeyPrefix)
		assert.Equal(t, svc.generator.Hash(created.Key), created.APIKey.KeyHash)
		require.NotNil(t, created.APIKey.ExpiresAt)
		assert.Equal(t, testNow.Add(30*24*time.Hour), *created.APIKey.ExpiresAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("never expires", func(t *testing.T) {
		svc, mock := setupService(t)
		orgID := uuid.New()

		mock.ExpectExec("INSERT INTO api_keys").
			WithArgs(sqlmock.AnyArg(), orgID, "user-1", "ci", sqlmock.AnyArg(), sqlmock.AnyArg(),
				[]byte(`["*"]`), nil, nil, testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		created, err := svc.Create(context.Background(), CreateKeyRequest{
			OrganizationID: orgID, UserID: "user-1", Name: "ci", Scopes: []Scope{ScopeAll},
		})
		require.NoError(t, err)
		assert.Nil(t, created.APIKey.ExpiresAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown organization", func(t *testing.T) {
		svc, mock := setupService(t)

		mock.ExpectExec("INSERT INTO api_keys").
			WillReturnError(&pq.Error{Code: "23503"})

		_, err := svc.Create(context.Background(), CreateKeyRequest{
			OrganizationID: uuid.New(), UserID: "user-1", Name: "ci", Scopes: []Scope{ScopeAll},
		})
		assert.True(t, apierrors.HasCode(err, apierrors.CodeNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	validationTests := []struct {
		name    string
		req     CreateKeyRequest
		wantMsg string
	}{
		{"missing org", CreateKeyRequest{UserID: "u", Name: "n", Scopes: []Scope{ScopeAll}}, "organization id"},
		{"missing user", CreateKeyRequest{OrganizationID: uuid.New(), Name: "n", Scopes: []Scope{ScopeAll}}, "user id"},
		{"blank name", CreateKeyRequest{OrganizationID: uuid.New(), UserID: "u", Name: "  ", Scopes: []Scope{ScopeAll}}, "name is required"},
		{"long name", CreateKeyRequest{OrganizationID: uuid.New(), UserID: "u", Name: strings.Repeat("x", 256), Scopes: []Scope{ScopeAll}}, "at most 255"},
		{"no scopes", CreateKeyRequest{OrganizationID: uuid.New(), UserID: "u", Name: "n"}, "at least one scope"},
		{"unknown scope", CreateKeyRequest{OrganizationID: uuid.New(), UserID: "u", Name: "n", Scopes: []Scope{"admin"}}, "unknown scope"},
		{"negative expiry", CreateKeyRequest{OrganizationID: uuid.New(), UserID: "u", Name: "n", Scopes: []Scope{ScopeAll}, ExpiresIn: -time.Hour}, "must not be negative"},
	}
	for _, tt := range validationTests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mock := setupService(t)
			_, err := svc.Create(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apierrors.HasCode(err, apierrors.CodeBadRequest))
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAPIKeyService_Validate(t *testing.T) {
	generator := NewKeyGenerator()
	plaintext, hash, _, err := generator.Generate()
	require.NoError(t, err)

	t.Run("valid key", func(t *testing.T) {
		metrics := observability.NewMetrics(observability.NewRegistry())
		svc, mock := setupService(t, WithMetrics(metrics))
		row := keyRow{id: uuid.New(), orgID: uuid.New(), expiresAt: testNow.Add(time.Hour)}

		mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE key_hash = \\$1").
			WithArgs(hash).
			WillReturnRows(row.rows())
		mock.ExpectExec("UPDATE api_keys SET last_used_at").
			WithArgs(testNow, row.id).
			WillReturnResult(sqlmock.NewResult(0, 1))

		key, err := svc.Validate(context.Background(), plaintext)
		require.NoError(t, err)
		assert.Equal(t, row.id, key.ID)
		assert.Equal(t, row.orgID, key.OrganizationID)
		assert.Equal(t, []Scope{ScopeFilesRead}, key.Scopes)
		require.NotNil(t, key.LastUsedAt)
		assert.Equal(t, testNow, *key.LastUsedAt)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.APIKeyValidationsTotal.WithLabelValues("valid")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("last_used update failure is not fatal", func(t *testing.T) {
		svc, mock := setupService(t)
		row := keyRow{id: uuid.New(), orgID: uuid.New()}

		mock.ExpectQuery("SELECT (.+) FROM api_keys").WithArgs(hash).WillReturnRows(row.rows())
		mock.ExpectExec("UPDATE api_keys SET last_used_at").WillReturnError(errors.New("db down"))

		key, err := svc.Validate(context.Background(), plaintext)
		require.NoError(t, err)
		assert.Nil(t, key.LastUsedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed key never reaches the database", func(t *testing.T) {
		svc, mock := setupService(t)
		_, err := svc.Validate(context.Background(), "not-a-key")
		assert.True(t, apierrors.HasCode(err, apierrors.CodeUnauthorized))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown key", func(t *testing.T) {
		svc, mock := setupService(t)
		mock.ExpectQuery("SELECT (.+) FROM api_keys").WithArgs(hash).WillReturnError(sql.ErrNoRows)

		_, err := svc.Validate(context.Background(), plaintext)
		assert.True(t, apierrors.HasCode(err, apierrors.CodeUnauthorized))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("revoked key", func(t *testing.T) {
		svc, mock := setupService(t)
		row := keyRow{id: uuid.New(), orgID: uuid.New(), revokedAt: testNow.Add(-time.Minute)}
		mock.ExpectQuery("SELECT (.+) FROM api_keys").WithArgs(hash).WillReturnRows(row.rows())

		_, err := svc.Validate(context.Background(), plaintext)
		assert.True(t, apierrors.HasCode(err, apierrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "revoked")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired key", func(t *testing.T) {
		svc, mock := setupService(t)
		row := keyRow{id: uuid.New(), orgID: uuid.New(), expiresAt: testNow.Add(-time.Second)}
		mock.ExpectQuery("SELECT (.+) FROM api_keys").WithArgs(hash).WillReturnRows(row.rows())

		_, err := svc.Validate(context.Background(), plaintext)
		assert.True(t, apierrors.HasCode(err, apierrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "expired")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		svc, mock := setupService(t)
		mock.ExpectQuery("SELECT (.+) FROM api_keys").WillReturnError(errors.New("connection refused"))

		_, err := svc.Validate(context.Background(), plaintext)
		require.Error(t, err)
		assert.False(t, apierrors.HasCode(err, apierrors.CodeUnauthorized))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAPIKeyService_Rotate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc, mock := setupService(t)
		orgID, keyID := uuid.New(), uuid.New()
		createdAt := testNow.Add(-10 * 24 * time.Hour)
		row := keyRow{id: keyID, orgID: orgID, createdAt: createdAt, expiresAt: createdAt.Add(90 * 24 * time.Hour)}

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM api_keys (.+) FOR UPDATE").
			WithArgs(keyID, orgID).
			WillReturnRows(row.rows())
		mock.ExpectExec("INSERT INTO api_keys").
			WithArgs(sqlmock.AnyArg(), orgID, "user-1", "ci", sqlmock.AnyArg(), sqlmock.AnyArg(),
				[]byte(`["files:read"]`), testNow.Add(90*24*time.Hour), keyID, testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE api_keys SET revoked_at").
			WithArgs(testNow, keyID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		created, err := svc.Rotate(context.Background(), orgID, keyID)
		require.NoError(t, err)
		assert.NotEqual(t, keyID, created.APIKey.ID)
		require.NotNil(t, created.APIKey.RotatedFrom)
		assert.Equal(t, keyID, *created.APIKey.RotatedFrom)
		assert.Equal(t, "user-1", created.APIKey.UserID)
		assert.Equal(t, []Scope{ScopeFilesRead}, created.APIKey.Scopes)
		assert.True(t, strings.HasPrefix(created.Key, KeyPrefix))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		svc, mock := setupService(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM api_keys").WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := svc.Rotate(context.Background(), uuid.New(), uuid.New())
		assert.True(t, apierrors.HasCode(err, apierrors.CodeNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("revoked key", func(t *testing.T) {
		svc, mock := setupService(t)
		row := keyRow{id: uuid.New(), orgID: uuid.New(), revokedAt: testNow}
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM api_keys").WillReturnRows(row.rows())
		mock.ExpectRollback()

		_, err := svc.Rotate(context.Background(), row.orgID, row.id)
		assert.True(t, apierrors.HasCode(err, apierrors.CodeConflict))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired key", func(t *testing.T) {
		svc, mock := setupService(t)
		createdAt := testNow.Add(-40 * 24 * time.Hour)
		row := keyRow{id: uuid.New(), orgID: uuid.New(), createdAt: createdAt, expiresAt: createdAt.Add(30 * 24 * time.Hour)}
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM api_keys").WillReturnRows(row.rows())
		mock.ExpectRollback()

		created, err := svc.Rotate(context.Background(), row.orgID, row.id)
		assert.Nil(t, created)
		assert.True(t, apierrors.HasCode(err, apierrors.CodeConflict))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		svc, mock := setupService(t)
		row := keyRow{id: uuid.New(), orgID: uuid.New()}
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM api_keys").WillReturnRows(row.rows())
		mock.ExpectExec("INSERT INTO api_keys").WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		_, err := svc.Rotate(context.Background(), row.orgID, row.id)
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAPIKeyService_Revoke(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc, mock := setupService(t)
		orgID, keyID := uuid.New(), uuid.New()

		mock.ExpectExec("UPDATE api_keys SET revoked_at").
			WithArgs(testNow, keyID, orgID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, svc.Revoke(context.Background(), orgID, keyID))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		svc, mock := setupService(t)
		mock.ExpectExec("UPDATE api_keys SET revoked_at").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT (.+) FROM api_keys").WillReturnError(sql.ErrNoRows)

		err := svc.Revoke(context.Background(), uuid.New(), uuid.New())
		assert.True(t, apierrors.HasCode(err, apierrors.CodeNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already revoked", func(t *testing.T) {
		svc, mock := setupService(t)
		row := keyRow{id: uuid.New(), orgID: uuid.New(), revokedAt: testNow}
		mock.ExpectExec("UPDATE api_keys SET revoked_at").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT (.+) FROM api_keys").WithArgs(row.id, row.orgID).WillReturnRows(row.rows())

		err := svc.Revoke(context.Background(), row.orgID, row.id)
		assert.True(t, apierrors.HasCode(err, apierrors.CodeConflict))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAPIKeyService_List(t *testing.T) {
	svc, mock := setupService(t)
	orgID := uuid.New()

	rows := sqlmock.NewRows(keyCols).
		AddRow(uuid.New().String(), orgID.String(), "user-1", "new", "ra_11111111", strings.Repeat("b", 64),
			[]byte(`["*"]`), nil, nil, nil, nil, testNow).
		AddRow(uuid.New().String(), orgID.String(), "user-1", "old", "ra_22222222", strings.Repeat("c", 64),
			[]byte(`["orgs:read"]`), nil, testNow, testNow, uuid.New().String(), testNow.Add(-time.Hour))
	mock.ExpectQuery("SELECT (.+) FROM api_keys (.+) ORDER BY created_at DESC").
		WithArgs(orgID).
		WillReturnRows(rows)

	keys, err := svc.List(context.Background(), orgID)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "new", keys[0].Name)
	assert.False(t, keys[0].IsRevoked())
	assert.True(t, keys[1].IsRevoked())
	assert.NotNil(t, keys[1].RotatedFrom)
	assert.NotNil(t, keys[1].LastUsedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyService_Usage(t *testing.T) {
	t.Run("log usage", func(t *testing.T) {
		svc, mock := setupService(t)
		keyID := uuid.New()

		mock.ExpectExec("INSERT INTO api_key_logs").
			WithArgs(sqlmock.AnyArg(), keyID, "GET", "/api/v1/organizations", 200, "10.0.0.1", "curl/8", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		svc.LogUsage(context.Background(), UsageRecord{
			APIKeyID: keyID, Method: "GET", Path: "/api/v1/organizations",
			StatusCode: 200, IPAddress: "10.0.0.1", UserAgent: "curl/8",
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("log usage swallows errors", func(t *testing.T) {
		svc, mock := setupService(t)
		mock.ExpectExec("INSERT INTO api_key_logs").WillReturnError(errors.New("db down"))

		assert.NotPanics(t, func() {
			svc.LogUsage(context.Background(), UsageRecord{APIKeyID: uuid.New(), Method: "GET", Path: "/"})
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list usage clamps limit", func(t *testing.T) {
		svc, mock := setupService(t)
		keyID := uuid.New()

		rows := sqlmock.NewRows([]string{"api_key_id", "method", "path", "status_code", "ip_address", "user_agent", "created_at"}).
			AddRow(keyID.String(), "POST", "/x", 201, "", "", testNow)
		mock.ExpectQuery("SELECT (.+) FROM api_key_logs").
			WithArgs(keyID, MaxUsageLimit).
			WillReturnRows(rows)

		records, err := svc.ListUsage(context.Background(), keyID, 10000)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 201, records[0].StatusCode)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list usage default limit", func(t *testing.T) {
		svc, mock := setupService(t)
		keyID := uuid.New()
		mock.ExpectQuery("SELECT (.+) FROM api_key_logs").
			WithArgs(keyID, DefaultUsageLimit).
			WillReturnRows(sqlmock.NewRows([]string{"api_key_id"}))

		records, err := svc.ListUsage(context.Background(), keyID, 0)
		require.NoError(t, err)
		assert.Empty(t, records)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cleanup", func(t *testing.T) {
		svc, mock := setupService(t)
		mock.ExpectExec("DELETE FROM api_key_logs WHERE created_at < \\$1").
			WithArgs(testNow.Add(-90 * 24 * time.Hour)).
			WillReturnResult(sqlmock.NewResult(0, 42))

		removed, err := svc.CleanupUsageLogs(context.Background(), 90*24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(42), removed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
