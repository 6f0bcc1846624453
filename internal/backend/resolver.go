package backend

import (
	"context"
	"errors"
	"fmt"
)

// Resolution is the result of resolving a user's automation connection.
type Resolution struct {
	User       *User
	Connection *HAConnection
	Rules      []AccessRule
}

// Resolver resolves the automation connection for a user.
//
// Households have one meaningful connection, owned by the first admin
// account. Tenants are pinned to that connection even when they carry a
// stale explicit binding of their own, so the resolver always re-resolves
// tenants through the admin.
type Resolver struct {
	users UserRepository
	conns ConnectionRepository
	rules AccessRuleRepository
}

// NewResolver creates a connection resolver over the given repositories.
func NewResolver(users UserRepository, conns ConnectionRepository, rules AccessRuleRepository) *Resolver {
	return &Resolver{users: users, conns: conns, rules: rules}
}

// Resolve returns the user, their automation connection, and their access
// rules.
//
// The fallback chain:
//  1. Explicit connection id on the user record, if it still exists.
//  2. For admins: a connection the admin owns.
//  3. For tenants: always the first admin's connection, backfilling the
//     admin's explicit id from an owned connection if needed, then pinning
//     the tenant's explicit id to it. This overrides anything found in
//     steps 1-2 so tenants can never drift onto a stale connection.
//
// Returns ErrConnectionNotConfigured when no path yields a connection.
// Repeated resolution for the same tenant converges: once ids are
// backfilled, no further writes happen.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*Resolution, error) {
	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolving user %s: %w", userID, err)
	}

	rules, err := r.rules.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading access rules for %s: %w", userID, err)
	}

	var conn *HAConnection

	if user.ConnectionID != nil {
		conn, err = r.conns.GetByID(ctx, *user.ConnectionID)
		if err != nil && !errors.Is(err, ErrConnectionNotFound) {
			return nil, err
		}
		// A dangling explicit id falls through to the remaining paths.
	}

	if conn == nil && user.IsAdmin() {
		conn, err = r.conns.GetByOwner(ctx, user.ID)
		if err != nil && !errors.Is(err, ErrConnectionNotFound) {
			return nil, err
		}
	}

	if !user.IsAdmin() {
		conn, err = r.resolveTenantConnection(ctx, user)
		if err != nil {
			return nil, err
		}
	}

	if conn == nil {
		return nil, ErrConnectionNotConfigured
	}

	return &Resolution{User: user, Connection: conn, Rules: rules}, nil
}

// resolveTenantConnection pins a tenant to the first admin's connection.
//
// The admin's own explicit id is backfilled from an owned connection when
// missing, then the tenant's explicit id is updated to match. Both writes
// are skipped when the ids already agree, which makes repeated resolution
// side-effect free.
func (r *Resolver) resolveTenantConnection(ctx context.Context, tenant *User) (*HAConnection, error) {
	admin, err := r.users.FirstAdmin(ctx)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrConnectionNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("finding admin account: %w", err)
	}

	if admin.ConnectionID == nil {
		owned, err := r.conns.GetByOwner(ctx, admin.ID)
		if errors.Is(err, ErrConnectionNotFound) {
			return nil, ErrConnectionNotConfigured
		}
		if err != nil {
			return nil, err
		}

		if err := r.users.SetConnectionID(ctx, admin.ID, owned.ID); err != nil {
			return nil, fmt.Errorf("backfilling admin connection id: %w", err)
		}
		admin.ConnectionID = &owned.ID
	}

	if tenant.ConnectionID == nil || *tenant.ConnectionID != *admin.ConnectionID {
		if err := r.users.SetConnectionID(ctx, tenant.ID, *admin.ConnectionID); err != nil {
			return nil, fmt.Errorf("pinning tenant connection id: %w", err)
		}
		tenant.ConnectionID = admin.ConnectionID
	}

	conn, err := r.conns.GetByID(ctx, *admin.ConnectionID)
	if errors.Is(err, ErrConnectionNotFound) {
		return nil, ErrConnectionNotConfigured
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}
