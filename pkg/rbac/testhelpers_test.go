package rbac

import (
	"database/sql"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB opens an in-memory SQLite database with the RBAC tables and
// the built-in roles seeded
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// A single connection keeps every query on the same in-memory database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE organizations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			deleted_at TIMESTAMP
		);

		CREATE TABLE organization_members (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			UNIQUE (organization_id, user_id)
		);

		CREATE TABLE permissions (
			id TEXT PRIMARY KEY,
			resource TEXT NOT NULL,
			action TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			UNIQUE (resource, action)
		);

		CREATE TABLE roles (
			id TEXT PRIMARY KEY,
			organization_id TEXT,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			is_built_in BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE role_permissions (
			role_id TEXT NOT NULL,
			permission_id TEXT NOT NULL,
			PRIMARY KEY (role_id, permission_id)
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create tables: %v", err)
	}

	seed := map[string][]string{
		RoleOwner:  {"*:*"},
		RoleAdmin:  {"*:read", "organization:update", "members:*", "invitations:*", "roles:*", "api_keys:*", "integrations:*", "files:*"},
		RoleMember: {"*:read", "integrations:create", "files:create", "files:update"},
		RoleViewer: {"*:read"},
	}
	permIDs := make(map[string]string)
	for role, perms := range seed {
		roleID := uuid.NewString()
		mustExec(t, db, `INSERT INTO roles (id, organization_id, name, is_built_in) VALUES ($1, NULL, $2, 1)`, roleID, role)
		for _, raw := range perms {
			p, err := ParsePermission(raw)
			if err != nil {
				t.Fatalf("bad seed permission %s: %v", raw, err)
			}
			permID, ok := permIDs[raw]
			if !ok {
				permID = uuid.NewString()
				permIDs[raw] = permID
				mustExec(t, db, `INSERT INTO permissions (id, resource, action) VALUES ($1, $2, $3)`, permID, string(p.Resource), string(p.Action))
			}
			mustExec(t, db, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleID, permID)
		}
	}

	return db
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func createOrg(t *testing.T, db *sql.DB) uuid.UUID {
	t.Helper()
	id := uuid.New()
	mustExec(t, db, `INSERT INTO organizations (id, name) VALUES ($1, $2)`, id.String(), "Acme Restoration")
	return id
}

func addMember(t *testing.T, db *sql.DB, orgID uuid.UUID, userID, role string) {
	t.Helper()
	mustExec(t, db, `INSERT INTO organization_members (id, organization_id, user_id, role) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), orgID.String(), userID, role)
}
