package backend

import (
	"context"
	"errors"
	"testing"
)

func TestResolve_ExplicitConnectionID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin := env.mustCreateUser(t, "admin", RoleAdmin)
	conn := env.mustCreateConnection(t, admin.ID)
	if err := env.users.SetConnectionID(ctx, admin.ID, conn.ID); err != nil {
		t.Fatalf("SetConnectionID() error = %v", err)
	}

	res, err := env.resolver.Resolve(ctx, admin.ID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Connection.ID != conn.ID {
		t.Errorf("Connection.ID = %s, want %s", res.Connection.ID, conn.ID)
	}
}

func TestResolve_AdminOwnedConnection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Admin without explicit connection id, but owning a connection.
	admin := env.mustCreateUser(t, "admin", RoleAdmin)
	conn := env.mustCreateConnection(t, admin.ID)

	res, err := env.resolver.Resolve(ctx, admin.ID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Connection.ID != conn.ID {
		t.Errorf("Connection.ID = %s, want %s", res.Connection.ID, conn.ID)
	}
}

func TestResolve_NoConnectionConfigured(t *testing.T) {
	env := newTestEnv(t)

	admin := env.mustCreateUser(t, "admin", RoleAdmin)

	_, err := env.resolver.Resolve(context.Background(), admin.ID)
	if !errors.Is(err, ErrConnectionNotConfigured) {
		t.Errorf("Resolve() error = %v, want ErrConnectionNotConfigured", err)
	}
}

func TestResolve_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.resolver.Resolve(context.Background(), "usr-nope")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Resolve() error = %v, want ErrUserNotFound", err)
	}
}

func TestResolve_TenantPinnedToAdminConnection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin := env.mustCreateUser(t, "admin", RoleAdmin)
	conn := env.mustCreateConnection(t, admin.ID)
	tenant := env.mustCreateUser(t, "tenant", RoleTenant)

	res, err := env.resolver.Resolve(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Connection.ID != conn.ID {
		t.Errorf("tenant Connection.ID = %s, want admin's %s", res.Connection.ID, conn.ID)
	}

	// The admin's explicit id must have been backfilled.
	adminAfter, err := env.users.GetByID(ctx, admin.ID)
	if err != nil {
		t.Fatalf("GetByID(admin) error = %v", err)
	}
	if adminAfter.ConnectionID == nil || *adminAfter.ConnectionID != conn.ID {
		t.Error("admin connection id was not backfilled")
	}

	// The tenant's explicit id must now point at the admin's connection.
	tenantAfter, err := env.users.GetByID(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("GetByID(tenant) error = %v", err)
	}
	if tenantAfter.ConnectionID == nil || *tenantAfter.ConnectionID != conn.ID {
		t.Error("tenant connection id was not pinned")
	}
}

func TestResolve_TenantOverridesStaleExplicitID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin := env.mustCreateUser(t, "admin", RoleAdmin)
	adminConn := env.mustCreateConnection(t, admin.ID)

	// The tenant carries an explicit binding to a different connection.
	staleConn := env.mustCreateConnection(t, "")
	tenant := env.mustCreateUser(t, "tenant", RoleTenant)
	if err := env.users.SetConnectionID(ctx, tenant.ID, staleConn.ID); err != nil {
		t.Fatalf("SetConnectionID() error = %v", err)
	}

	res, err := env.resolver.Resolve(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Connection.ID != adminConn.ID {
		t.Errorf("tenant resolved to %s, want admin's %s (stale id must not win)",
			res.Connection.ID, adminConn.ID)
	}
}

func TestResolve_TenantWithoutAdminFails(t *testing.T) {
	env := newTestEnv(t)

	tenant := env.mustCreateUser(t, "tenant", RoleTenant)

	_, err := env.resolver.Resolve(context.Background(), tenant.ID)
	if !errors.Is(err, ErrConnectionNotConfigured) {
		t.Errorf("Resolve() error = %v, want ErrConnectionNotConfigured", err)
	}
}

func TestResolve_TenantResolutionIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin := env.mustCreateUser(t, "admin", RoleAdmin)
	env.mustCreateConnection(t, admin.ID)
	tenant := env.mustCreateUser(t, "tenant", RoleTenant)

	first, err := env.resolver.Resolve(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}

	tenantAfterFirst, _ := env.users.GetByID(ctx, tenant.ID)

	second, err := env.resolver.Resolve(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}

	if first.Connection.ID != second.Connection.ID {
		t.Error("repeated resolution returned different connections")
	}

	// No further writes: updated_at is unchanged on the second pass.
	tenantAfterSecond, _ := env.users.GetByID(ctx, tenant.ID)
	if !tenantAfterFirst.UpdatedAt.Equal(tenantAfterSecond.UpdatedAt) {
		t.Error("second resolution caused an additional write to the tenant record")
	}
}

func TestResolve_FirstAdminWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Two admins each owning a connection: tenants pin to the first by
	// creation order.
	admin1 := env.mustCreateUser(t, "admin1", RoleAdmin)
	conn1 := env.mustCreateConnection(t, admin1.ID)
	admin2 := env.mustCreateUser(t, "admin2", RoleAdmin)
	env.mustCreateConnection(t, admin2.ID)

	tenant := env.mustCreateUser(t, "tenant", RoleTenant)

	res, err := env.resolver.Resolve(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Connection.ID != conn1.ID {
		t.Errorf("tenant resolved to %s, want first admin's %s", res.Connection.ID, conn1.ID)
	}
}

func TestResolve_IncludesAccessRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin := env.mustCreateUser(t, "admin", RoleAdmin)
	env.mustCreateConnection(t, admin.ID)
	tenant := env.mustCreateUser(t, "tenant", RoleTenant)

	for _, area := range []string{"Living Room", "Kitchen"} {
		if err := env.rules.Create(ctx, &AccessRule{UserID: tenant.ID, Area: area}); err != nil {
			t.Fatalf("creating rule: %v", err)
		}
	}

	res, err := env.resolver.Resolve(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(res.Rules) != 2 {
		t.Fatalf("len(Rules) = %d, want 2", len(res.Rules))
	}
	if res.Rules[0].Area != "Kitchen" || res.Rules[1].Area != "Living Room" {
		t.Errorf("Rules not ordered by area: %+v", res.Rules)
	}
}
