package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func TestNewDBLogger(t *testing.T) {
	t.Run("nil database", func(t *testing.T) {
		logger, err := NewDBLogger(nil)
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "database connection is required")
	})

	t.Run("success", func(t *testing.T) {
		db, _ := setupMockDB(t)
		defer db.Close()

		logger, err := NewDBLogger(db)
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})
}

func TestDBLogger_Log(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		logger := &DBLogger{db: db}
		orgID := uuid.New()
		ctx := WithClientIP(context.Background(), "203.0.113.7")

		mock.ExpectExec("INSERT INTO audit_events").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "user-1", EventTypeIntegrationConnect, ResourceTypeIntegration,
				"int-1", EventStatusSuccess, []byte(`{"provider":"google_drive"}`), "203.0.113.7", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		event := NewEvent(orgID, "user-1", EventTypeIntegrationConnect, ResourceTypeIntegration, "int-1").
			WithDetail("provider", "google_drive")
		err := logger.Log(ctx, event)

		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.False(t, event.Timestamp.IsZero())
		assert.Equal(t, "203.0.113.7", event.IPAddress)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		logger := &DBLogger{db: db}
		mock.ExpectExec("INSERT INTO audit_events").WillReturnError(errors.New("connection reset"))

		err := logger.Log(context.Background(), NewEvent(uuid.Nil, "user-1", EventTypeOrgCreate, ResourceTypeOrganization, "x"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert audit event")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDBLogger_Search(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	logger := &DBLogger{db: db}
	orgID := uuid.New()
	eventID := uuid.New()
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "organization_id", "user_id", "action", "resource_type",
		"resource_id", "status", "details", "ip_address", "created_at",
	}).AddRow(eventID.String(), orgID.String(), "user-1", "member.add", "member", "user-2", "success", []byte(`{"role":"admin"}`), "", now)

	mock.ExpectQuery("SELECT (.+) FROM audit_events WHERE organization_id = \\$1 AND user_id = \\$2").
		WithArgs(orgID, "user-1", 50, 0).
		WillReturnRows(rows)

	events, err := logger.Search(context.Background(), SearchFilter{
		OrganizationID: orgID,
		UserID:         "user-1",
		Limit:          50,
	})

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, eventID, events[0].ID)
	require.NotNil(t, events[0].OrganizationID)
	assert.Equal(t, orgID, *events[0].OrganizationID)
	assert.Equal(t, EventTypeMemberAdd, events[0].Action)
	assert.Equal(t, "admin", events[0].Details["role"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
