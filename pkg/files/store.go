package files

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists synced file metadata and the sync log
type Store interface {
	UpsertFile(ctx context.Context, orgID, integrationID uuid.UUID, file *File, syncedAt time.Time) error
	InsertSyncLog(ctx context.Context, entry *SyncLog) error
	ListSyncLogs(ctx context.Context, integrationID uuid.UUID, limit int) ([]*SyncLog, error)
}

// PostgresStore implements Store on the remote_files and sync_logs tables
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a file store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// UpsertFile records the latest metadata of a remote file
func (s *PostgresStore) UpsertFile(ctx context.Context, orgID, integrationID uuid.UUID, file *File, syncedAt time.Time) error {
	parents, err := json.Marshal(nonNil(file.Parents))
	if err != nil {
		return fmt.Errorf("failed to marshal parents: %w", err)
	}

	var modifiedAt interface{}
	if !file.ModifiedTime.IsZero() {
		modifiedAt = file.ModifiedTime
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO remote_files (id, organization_id, integration_id, provider_file_id, name, mime_type,
		                          size_bytes, parents, web_view_link, modified_at, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (integration_id, provider_file_id) DO UPDATE SET
			name = EXCLUDED.name,
			mime_type = EXCLUDED.mime_type,
			size_bytes = EXCLUDED.size_bytes,
			parents = EXCLUDED.parents,
			web_view_link = EXCLUDED.web_view_link,
			modified_at = EXCLUDED.modified_at,
			synced_at = EXCLUDED.synced_at
	`, uuid.New(), orgID, integrationID, file.ID, file.Name, file.MimeType,
		file.Size, parents, file.WebViewLink, modifiedAt, syncedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert remote file: %w", err)
	}
	return nil
}

// InsertSyncLog appends a sync log entry
func (s *PostgresStore) InsertSyncLog(ctx context.Context, entry *SyncLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_logs (id, organization_id, integration_id, operation, file_id, file_name,
		                       status, bytes, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.OrganizationID, entry.IntegrationID, entry.Operation, entry.FileID, entry.FileName,
		entry.Status, entry.Bytes, entry.ErrorMessage, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert sync log: %w", err)
	}
	return nil
}

// ListSyncLogs returns the newest entries of an integration first
func (s *PostgresStore) ListSyncLogs(ctx context.Context, integrationID uuid.UUID, limit int) ([]*SyncLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, integration_id, operation, file_id, file_name,
		       status, bytes, error_message, created_at
		FROM sync_logs
		WHERE integration_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, integrationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	logs := []*SyncLog{}
	for rows.Next() {
		var entry SyncLog
		if err := rows.Scan(&entry.ID, &entry.OrganizationID, &entry.IntegrationID, &entry.Operation,
			&entry.FileID, &entry.FileName, &entry.Status, &entry.Bytes, &entry.ErrorMessage, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
