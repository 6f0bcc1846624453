package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserRepository defines the interface for user account persistence.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)

	// FirstAdmin returns the oldest admin account by creation order.
	// Tenant connection resolution is pinned to this account.
	FirstAdmin(ctx context.Context) (*User, error)

	// SetConnectionID updates only the explicit connection binding.
	SetConnectionID(ctx context.Context, userID, connectionID string) error

	// List returns every account in creation order.
	List(ctx context.Context) ([]*User, error)

	Count(ctx context.Context) (int, error)
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

// Create inserts a new user account. The ID is generated if empty.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, role, connection_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, string(user.Role), nullString(user.ConnectionID),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("creating user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by their unique ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx,
		"SELECT id, username, role, connection_id, created_at, updated_at FROM users WHERE id = ?", id)
}

// GetByUsername retrieves a user by their username.
func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getUser(ctx,
		"SELECT id, username, role, connection_id, created_at, updated_at FROM users WHERE username = ?", username)
}

// FirstAdmin returns the oldest admin account, or ErrUserNotFound if the
// database has no admin.
func (r *SQLiteUserRepository) FirstAdmin(ctx context.Context) (*User, error) {
	return r.getUser(ctx,
		"SELECT id, username, role, connection_id, created_at, updated_at FROM users WHERE role = ? ORDER BY created_at ASC, id ASC LIMIT 1",
		string(RoleAdmin))
}

// SetConnectionID updates the explicit connection binding for a user.
func (r *SQLiteUserRepository) SetConnectionID(ctx context.Context, userID, connectionID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET connection_id = ?, updated_at = ? WHERE id = ?",
		connectionID, now, userID,
	)
	if err != nil {
		return fmt.Errorf("setting user connection: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// List returns all user accounts in creation order.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]*User, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, username, role, connection_id, created_at, updated_at FROM users ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var result []*User
	for rows.Next() {
		var (
			user         User
			role         string
			connectionID sql.NullString
			createdAt    string
			updatedAt    string
		)
		if scanErr := rows.Scan(&user.ID, &user.Username, &role, &connectionID, &createdAt, &updatedAt); scanErr != nil {
			return nil, fmt.Errorf("scanning user: %w", scanErr)
		}
		user.Role = Role(role)
		if connectionID.Valid {
			user.ConnectionID = &connectionID.String
		}
		user.CreatedAt = parseTime(createdAt)
		user.UpdatedAt = parseTime(updatedAt)
		result = append(result, &user)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterating users: %w", rowsErr)
	}
	return result, nil
}

// Count returns the number of user accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// getUser runs a single-row user query and scans the result.
func (r *SQLiteUserRepository) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	var (
		user         User
		role         string
		connectionID sql.NullString
		createdAt    string
		updatedAt    string
	)

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID, &user.Username, &role, &connectionID, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.Role = Role(role)
	if connectionID.Valid {
		user.ConnectionID = &connectionID.String
	}
	user.CreatedAt = parseTime(createdAt)
	user.UpdatedAt = parseTime(updatedAt)

	return &user, nil
}

// nullString converts an optional string to its SQL representation.
func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// parseTime parses an RFC3339 timestamp, returning the zero time on failure.
// Timestamps are written by this package so the format is controlled.
func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // format is controlled
	return t
}

// isUniqueViolation checks if an error is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
