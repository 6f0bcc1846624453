// Package statestream listens to Home Assistant's MQTT statestream and
// nudges the synchronization cache between polls.
//
// The statestream integration mirrors every entity state change onto
// MQTT under <prefix>/<domain>/<object_id>/state. The listener
// subscribes to that tree, coalesces bursts of changes, and invokes a
// single callback so observed device lists refresh promptly instead of
// waiting for the next poll tick.
//
// The listener is optional. When the broker is unreachable or the
// integration is disabled, the cache falls back to polling alone.
package statestream
