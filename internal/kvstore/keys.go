package kvstore

import "fmt"

// Persisted key layout. Keys are namespaced so several Dinodia components
// can share one kv_store table without collisions.
const (
	// devicesKeyFormat holds a cached device snapshot per (user, mode).
	devicesKeyFormat = "%s_devices_%s_%s"

	// sessionKeyFormat holds the current session (user + connection).
	sessionKeyFormat = "%s_session"

	// selectedAreaKeyFormat holds a tenant's last selected area, a UI
	// preference the dashboard restores on next launch.
	selectedAreaKeyFormat = "tenant_selected_area_%s"
)

// DevicesKey returns the storage key for a (user, mode) device snapshot.
func DevicesKey(namespace, userID, mode string) string {
	return fmt.Sprintf(devicesKeyFormat, namespace, userID, mode)
}

// SessionKey returns the storage key for the current session record.
func SessionKey(namespace string) string {
	return fmt.Sprintf(sessionKeyFormat, namespace)
}

// SelectedAreaKey returns the storage key for a tenant's area preference.
func SelectedAreaKey(userID string) string {
	return fmt.Sprintf(selectedAreaKeyFormat, userID)
}
