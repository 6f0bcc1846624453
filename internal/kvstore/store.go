package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store is durable per-key JSON blob storage.
//
// The contract is deliberately explicit about failure: every operation
// returns an error, and it is the caller's decision to treat failures as
// cache miss / no-op. The synchronization cache does exactly that so a
// broken local store never blocks a UI-visible operation.
type Store interface {
	// Save marshals value as JSON and writes it under key.
	// The last completed write for a key wins; there is no ordering
	// guarantee between concurrent writes beyond that.
	Save(ctx context.Context, key string, value any) error

	// Load reads the blob stored under key into dest.
	// Returns (false, nil) when the key does not exist.
	Load(ctx context.Context, key string, dest any) (bool, error)

	// Remove deletes the blob stored under key. Removing a missing key
	// is not an error.
	Remove(ctx context.Context, key string) error
}

// SQLiteStore implements Store on the kv_store table of the local database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed key-value store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save marshals value as JSON and upserts it under key.
func (s *SQLiteStore) Save(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling value for key %q: %w", key, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), now,
	)
	if err != nil {
		return fmt.Errorf("saving key %q: %w", key, err)
	}
	return nil
}

// Load reads and unmarshals the blob stored under key.
func (s *SQLiteStore) Load(ctx context.Context, key string, dest any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv_store WHERE key = ?", key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading key %q: %w", key, err)
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("unmarshaling key %q: %w", key, err)
	}
	return true, nil
}

// Remove deletes the blob stored under key.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_store WHERE key = ?", key); err != nil {
		return fmt.Errorf("removing key %q: %w", key, err)
	}
	return nil
}
