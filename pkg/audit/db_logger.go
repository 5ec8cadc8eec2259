package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// DBLogger stores audit events in the audit_events table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-backed audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log inserts an audit event
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	prepare(ctx, event)

	details := []byte("{}")
	if len(event.Details) > 0 {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (
			id, organization_id, user_id, action, resource_type,
			resource_id, status, details, ip_address, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := l.db.ExecContext(ctx, query,
		event.ID, event.OrganizationID, event.UserID, event.Action, event.ResourceType,
		event.ResourceID, event.Status, details, event.IPAddress, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search lists events for an organization, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	conditions := []string{"organization_id = $1"}
	args := []interface{}{filter.OrganizationID}

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		args = append(args, pq.Array(actions))
		conditions = append(conditions, fmt.Sprintf("action = ANY($%d)", len(args)))
	}
	if filter.StartTime != nil {
		args = append(args, *filter.StartTime)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.EndTime != nil {
		args = append(args, *filter.EndTime)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(`
		SELECT id, organization_id, user_id, action, resource_type,
		       resource_id, status, details, ip_address, created_at
		FROM audit_events
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(conditions, " AND "), len(args)-1, len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var details []byte
		if err := rows.Scan(
			&event.ID, &event.OrganizationID, &event.UserID, &event.Action, &event.ResourceType,
			&event.ResourceID, &event.Status, &details, &event.IPAddress, &event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}
		events = append(events, event)
	}

	return events, rows.Err()
}
