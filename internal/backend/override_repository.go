package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OverrideRepository defines the interface for device-override persistence.
type OverrideRepository interface {
	// Upsert creates or updates the override for (connection, entity).
	// This is the administrative edit path; overrides are never created
	// implicitly by device fetches.
	Upsert(ctx context.Context, override *DeviceOverride) error

	// GetByEntity returns the override for one entity, or
	// ErrOverrideNotFound.
	GetByEntity(ctx context.Context, connectionID, entityID string) (*DeviceOverride, error)

	// ListByConnection returns all overrides for a connection.
	ListByConnection(ctx context.Context, connectionID string) ([]DeviceOverride, error)

	Delete(ctx context.Context, id string) error
}

const overrideColumns = "id, connection_id, entity_id, name, area, label, created_at, updated_at"

// SQLiteOverrideRepository implements OverrideRepository using SQLite.
type SQLiteOverrideRepository struct {
	db *sql.DB
}

// NewOverrideRepository creates a SQLite-backed override repository.
func NewOverrideRepository(db *sql.DB) *SQLiteOverrideRepository {
	return &SQLiteOverrideRepository{db: db}
}

// Upsert creates or updates the override for (connection, entity).
func (r *SQLiteOverrideRepository) Upsert(ctx context.Context, override *DeviceOverride) error {
	if override.ID == "" {
		override.ID = "ovr-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC()
	if override.CreatedAt.IsZero() {
		override.CreatedAt = now
	}
	override.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_overrides (id, connection_id, entity_id, name, area, label, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(connection_id, entity_id) DO UPDATE SET
			name = excluded.name,
			area = excluded.area,
			label = excluded.label,
			updated_at = excluded.updated_at`,
		override.ID, override.ConnectionID, override.EntityID,
		nullString(override.Name), nullString(override.Area), nullString(override.Label),
		override.CreatedAt.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting override: %w", err)
	}
	return nil
}

// GetByEntity returns the override for one entity of a connection.
func (r *SQLiteOverrideRepository) GetByEntity(ctx context.Context, connectionID, entityID string) (*DeviceOverride, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+overrideColumns+" FROM device_overrides WHERE connection_id = ? AND entity_id = ?",
		connectionID, entityID)

	override, err := scanOverride(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOverrideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying override: %w", err)
	}
	return override, nil
}

// ListByConnection returns all overrides for a connection, ordered by
// entity id.
func (r *SQLiteOverrideRepository) ListByConnection(ctx context.Context, connectionID string) ([]DeviceOverride, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+overrideColumns+" FROM device_overrides WHERE connection_id = ? ORDER BY entity_id ASC",
		connectionID)
	if err != nil {
		return nil, fmt.Errorf("listing overrides: %w", err)
	}
	defer rows.Close()

	var overrides []DeviceOverride
	for rows.Next() {
		override, err := scanOverride(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning override: %w", err)
		}
		overrides = append(overrides, *override)
	}
	return overrides, rows.Err()
}

// Delete removes an override by ID.
func (r *SQLiteOverrideRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM device_overrides WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting override: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrOverrideNotFound
	}
	return nil
}

// scanOverride scans one device_overrides row.
func scanOverride(scan func(dest ...any) error) (*DeviceOverride, error) {
	var (
		override  DeviceOverride
		name      sql.NullString
		area      sql.NullString
		label     sql.NullString
		createdAt string
		updatedAt string
	)

	if err := scan(
		&override.ID, &override.ConnectionID, &override.EntityID,
		&name, &area, &label, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if name.Valid {
		override.Name = &name.String
	}
	if area.Valid {
		override.Area = &area.String
	}
	if label.Valid {
		override.Label = &label.String
	}
	override.CreatedAt = parseTime(createdAt)
	override.UpdatedAt = parseTime(updatedAt)

	return &override, nil
}
