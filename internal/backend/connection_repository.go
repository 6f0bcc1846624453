package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConnectionRepository defines the interface for automation-connection
// persistence.
type ConnectionRepository interface {
	Create(ctx context.Context, conn *HAConnection) error
	GetByID(ctx context.Context, id string) (*HAConnection, error)

	// GetByOwner returns the connection owned by the given user, or
	// ErrConnectionNotFound if the user owns none.
	GetByOwner(ctx context.Context, ownerID string) (*HAConnection, error)

	// Update modifies the settings of an existing connection.
	Update(ctx context.Context, conn *HAConnection) error
}

const connectionColumns = "id, base_url, cloud_url, username, password, long_lived_token, owner_id, created_at, updated_at"

// SQLiteConnectionRepository implements ConnectionRepository using SQLite.
type SQLiteConnectionRepository struct {
	db *sql.DB
}

// NewConnectionRepository creates a SQLite-backed connection repository.
func NewConnectionRepository(db *sql.DB) *SQLiteConnectionRepository {
	return &SQLiteConnectionRepository{db: db}
}

// Create inserts a new automation connection. The ID is generated if empty.
func (r *SQLiteConnectionRepository) Create(ctx context.Context, conn *HAConnection) error {
	if conn.ID == "" {
		conn.ID = "conn-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ha_connections (id, base_url, cloud_url, username, password, long_lived_token, owner_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.BaseURL, emptyAsNull(conn.CloudURL), emptyAsNull(conn.Username),
		emptyAsNull(conn.Password), conn.LongLivedToken, nullString(conn.OwnerID),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating connection: %w", err)
	}
	return nil
}

// GetByID retrieves a connection by its unique ID.
func (r *SQLiteConnectionRepository) GetByID(ctx context.Context, id string) (*HAConnection, error) {
	return r.getConnection(ctx,
		"SELECT "+connectionColumns+" FROM ha_connections WHERE id = ?", id)
}

// GetByOwner retrieves the connection owned by a user. If a user somehow
// owns several, the oldest wins for determinism.
func (r *SQLiteConnectionRepository) GetByOwner(ctx context.Context, ownerID string) (*HAConnection, error) {
	return r.getConnection(ctx,
		"SELECT "+connectionColumns+" FROM ha_connections WHERE owner_id = ? ORDER BY created_at ASC, id ASC LIMIT 1", ownerID)
}

// Update modifies the settings of an existing connection.
func (r *SQLiteConnectionRepository) Update(ctx context.Context, conn *HAConnection) error {
	now := time.Now().UTC()
	conn.UpdatedAt = now

	res, err := r.db.ExecContext(ctx,
		`UPDATE ha_connections
		 SET base_url = ?, cloud_url = ?, username = ?, password = ?, long_lived_token = ?, owner_id = ?, updated_at = ?
		 WHERE id = ?`,
		conn.BaseURL, emptyAsNull(conn.CloudURL), emptyAsNull(conn.Username),
		emptyAsNull(conn.Password), conn.LongLivedToken, nullString(conn.OwnerID),
		now.Format(time.RFC3339), conn.ID,
	)
	if err != nil {
		return fmt.Errorf("updating connection: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

// getConnection runs a single-row connection query and scans the result.
func (r *SQLiteConnectionRepository) getConnection(ctx context.Context, query string, args ...any) (*HAConnection, error) {
	var (
		conn      HAConnection
		cloudURL  sql.NullString
		username  sql.NullString
		password  sql.NullString
		ownerID   sql.NullString
		createdAt string
		updatedAt string
	)

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&conn.ID, &conn.BaseURL, &cloudURL, &username, &password,
		&conn.LongLivedToken, &ownerID, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying connection: %w", err)
	}

	conn.CloudURL = cloudURL.String
	conn.Username = username.String
	conn.Password = password.String
	if ownerID.Valid {
		conn.OwnerID = &ownerID.String
	}
	conn.CreatedAt = parseTime(createdAt)
	conn.UpdatedAt = parseTime(updatedAt)

	return &conn, nil
}

// emptyAsNull stores empty strings as NULL so "unset" is unambiguous.
func emptyAsNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
