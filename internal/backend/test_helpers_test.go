package backend

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the backend schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			role TEXT NOT NULL CHECK (role IN ('ADMIN', 'TENANT')),
			connection_id TEXT REFERENCES ha_connections(id),
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		);
		CREATE TABLE ha_connections (
			id TEXT PRIMARY KEY,
			base_url TEXT NOT NULL,
			cloud_url TEXT,
			username TEXT,
			password TEXT,
			long_lived_token TEXT NOT NULL,
			owner_id TEXT REFERENCES users(id),
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		);
		CREATE TABLE access_rules (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			area TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			UNIQUE (user_id, area)
		);
		CREATE TABLE device_overrides (
			id TEXT PRIMARY KEY,
			connection_id TEXT NOT NULL REFERENCES ha_connections(id) ON DELETE CASCADE,
			entity_id TEXT NOT NULL,
			name TEXT,
			area TEXT,
			label TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			UNIQUE (connection_id, entity_id)
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// testEnv bundles the repositories and resolver over one test database.
type testEnv struct {
	db       *sql.DB
	users    *SQLiteUserRepository
	conns    *SQLiteConnectionRepository
	rules    *SQLiteAccessRuleRepository
	resolver *Resolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	users := NewUserRepository(db)
	conns := NewConnectionRepository(db)
	rules := NewAccessRuleRepository(db)
	return &testEnv{
		db:       db,
		users:    users,
		conns:    conns,
		rules:    rules,
		resolver: NewResolver(users, conns, rules),
	}
}

// mustCreateUser creates a user or fails the test.
func (e *testEnv) mustCreateUser(t *testing.T, username string, role Role) *User {
	t.Helper()
	user := &User{Username: username, Role: role}
	if err := e.users.Create(context.Background(), user); err != nil {
		t.Fatalf("creating user %s: %v", username, err)
	}
	return user
}

// mustCreateConnection creates a connection or fails the test.
func (e *testEnv) mustCreateConnection(t *testing.T, ownerID string) *HAConnection {
	t.Helper()
	conn := &HAConnection{
		BaseURL:        "http://homeassistant.local:8123",
		CloudURL:       "https://relay.example.com",
		LongLivedToken: "test-token",
	}
	if ownerID != "" {
		conn.OwnerID = &ownerID
	}
	if err := e.conns.Create(context.Background(), conn); err != nil {
		t.Fatalf("creating connection: %v", err)
	}
	return conn
}
