package backend

import (
	"context"
	"fmt"
)

// SeedConfig describes the demo fixture created on an empty database.
type SeedConfig struct {
	AdminUsername  string
	BaseURL        string
	CloudURL       string
	LongLivedToken string
}

// Seed creates a demo admin account and automation connection when the
// database has no users. Used by the daemon so a fresh install has
// something to sync against. Does nothing when any user already exists.
func Seed(ctx context.Context, users UserRepository, conns ConnectionRepository, cfg SeedConfig) error {
	count, err := users.Count(ctx)
	if err != nil {
		return fmt.Errorf("checking for existing users: %w", err)
	}
	if count > 0 {
		return nil
	}

	admin := &User{
		Username: cfg.AdminUsername,
		Role:     RoleAdmin,
	}
	if err := users.Create(ctx, admin); err != nil {
		return fmt.Errorf("creating seed admin: %w", err)
	}

	conn := &HAConnection{
		BaseURL:        cfg.BaseURL,
		CloudURL:       cfg.CloudURL,
		LongLivedToken: cfg.LongLivedToken,
		OwnerID:        &admin.ID,
	}
	if err := conns.Create(ctx, conn); err != nil {
		return fmt.Errorf("creating seed connection: %w", err)
	}

	if err := users.SetConnectionID(ctx, admin.ID, conn.ID); err != nil {
		return fmt.Errorf("binding seed admin to connection: %w", err)
	}

	return nil
}
