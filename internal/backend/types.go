package backend

import (
	"errors"
	"time"
)

// Role represents an account tier in the Dinodia backend.
type Role string

const (
	// RoleAdmin owns the household's automation connection and sees every
	// device the gateway reports.
	RoleAdmin Role = "ADMIN"

	// RoleTenant is a household member whose visible devices are limited
	// to areas granted through access rules.
	RoleTenant Role = "TENANT"
)

// IsValidRole returns true if the role is recognised.
func IsValidRole(r Role) bool {
	return r == RoleAdmin || r == RoleTenant
}

// User represents a dashboard account.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`

	// ConnectionID is the explicit automation-connection binding. Nil for
	// accounts that have never resolved a connection; tenants get this
	// backfilled to the admin's connection on first resolution.
	ConnectionID *string `json:"connection_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdmin returns true if the user bypasses area-based visibility rules.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HAConnection binds a household to a home-automation server.
type HAConnection struct {
	ID string `json:"id"`

	// BaseURL is the LAN address of the automation server ("home" mode).
	BaseURL string `json:"base_url"`

	// CloudURL is the remote relay address ("cloud" mode). Empty when the
	// household has no cloud relay configured.
	CloudURL string `json:"cloud_url,omitempty"`

	Username       string `json:"username,omitempty"`
	Password       string `json:"-"` // never serialised
	LongLivedToken string `json:"-"` // never serialised

	// OwnerID is the admin account that created this connection.
	OwnerID *string `json:"owner_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccessRule grants a tenant visibility of one area.
// A tenant's visible device set is the union of its rules; zero rules
// means zero devices.
type AccessRule struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Area      string    `json:"area"`
	CreatedAt time.Time `json:"created_at"`
}

// DeviceOverride is an admin customization of one device's display
// metadata. Absent fields mean "use the gateway-reported value".
// Overrides are keyed by (connection, entity) and are never created
// implicitly.
type DeviceOverride struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	EntityID     string    `json:"entity_id"`
	Name         *string   `json:"name,omitempty"`
	Area         *string   `json:"area,omitempty"`
	Label        *string   `json:"label,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Sentinel errors for backend operations.
var (
	ErrUserNotFound       = errors.New("backend: user not found")
	ErrUserExists         = errors.New("backend: username already exists")
	ErrConnectionNotFound = errors.New("backend: connection not found")
	ErrOverrideNotFound   = errors.New("backend: override not found")

	// ErrConnectionNotConfigured is returned when no automation connection
	// can be resolved for a user by any fallback path.
	ErrConnectionNotConfigured = errors.New("backend: connection not configured")
)
