package device

import "strings"

// Mode selects which network path reaches the automation server.
type Mode string

const (
	// ModeHome uses the connection's LAN base URL.
	ModeHome Mode = "home"

	// ModeCloud uses the connection's remote relay URL.
	ModeCloud Mode = "cloud"
)

// AllModes returns all valid modes.
func AllModes() []Mode {
	return []Mode{ModeHome, ModeCloud}
}

// IsValidMode returns true if the mode is recognised.
func IsValidMode(m Mode) bool {
	return m == ModeHome || m == ModeCloud
}

// Snapshot is the normalized, UI-ready representation of one
// automation-server entity, merged with backend overrides.
//
// EntityID is globally unique within a connection. Domain is always the
// substring before the first "." in EntityID. Snapshots have no lifecycle
// of their own; each successful fetch replaces the whole list.
type Snapshot struct {
	EntityID string `json:"entityId"`
	Name     string `json:"name"`

	// State is free-form: "on", "21.5", "playing", "unavailable", ...
	State string `json:"state"`

	// Area and AreaName locate the entity; nil when unassigned.
	Area     *string `json:"area,omitempty"`
	AreaName *string `json:"areaName,omitempty"`

	// Label is the display label; LabelCategory classifies the entity for
	// grouping and icon choice. Both nil/empty when nothing matched.
	Label         *string  `json:"label,omitempty"`
	LabelCategory Category `json:"labelCategory,omitempty"`

	// Labels is the ordered label set reported by the server.
	Labels []string `json:"labels,omitempty"`

	// Domain is derived from EntityID ("light.kitchen" -> "light").
	Domain string `json:"domain"`

	// DeviceID groups sibling entities of one physical device, e.g. a
	// camera and its motion sensor. Nil when the server reports none.
	DeviceID *string `json:"deviceId,omitempty"`

	// Attributes is the open, domain-specific key-value bag.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// DomainOf returns the entity domain: the substring before the first "."
// in the entity id. An id without a separator is its own domain.
func DomainOf(entityID string) string {
	if i := strings.Index(entityID, "."); i >= 0 {
		return entityID[:i]
	}
	return entityID
}
