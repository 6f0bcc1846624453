package backend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccessRuleRepository defines the interface for tenant area-grant
// persistence.
type AccessRuleRepository interface {
	Create(ctx context.Context, rule *AccessRule) error
	ListByUser(ctx context.Context, userID string) ([]AccessRule, error)
	Delete(ctx context.Context, id string) error
}

// SQLiteAccessRuleRepository implements AccessRuleRepository using SQLite.
type SQLiteAccessRuleRepository struct {
	db *sql.DB
}

// NewAccessRuleRepository creates a SQLite-backed access rule repository.
func NewAccessRuleRepository(db *sql.DB) *SQLiteAccessRuleRepository {
	return &SQLiteAccessRuleRepository{db: db}
}

// Create inserts a new access rule. The ID is generated if empty.
// Duplicate (user, area) pairs are ignored; the grant already exists.
func (r *SQLiteAccessRuleRepository) Create(ctx context.Context, rule *AccessRule) error {
	if rule.ID == "" {
		rule.ID = "rule-" + uuid.NewString()[:8]
	}
	rule.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO access_rules (id, user_id, area, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, area) DO NOTHING`,
		rule.ID, rule.UserID, rule.Area, rule.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating access rule: %w", err)
	}
	return nil
}

// ListByUser returns all area grants for a user, ordered by area name.
func (r *SQLiteAccessRuleRepository) ListByUser(ctx context.Context, userID string) ([]AccessRule, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, user_id, area, created_at FROM access_rules WHERE user_id = ? ORDER BY area ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("listing access rules: %w", err)
	}
	defer rows.Close()

	var rules []AccessRule
	for rows.Next() {
		var (
			rule      AccessRule
			createdAt string
		)
		if err := rows.Scan(&rule.ID, &rule.UserID, &rule.Area, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning access rule: %w", err)
		}
		rule.CreatedAt = parseTime(createdAt)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Delete removes an access rule by ID. Deleting a missing rule is not an
// error; the grant is gone either way.
func (r *SQLiteAccessRuleRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM access_rules WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting access rule: %w", err)
	}
	return nil
}
