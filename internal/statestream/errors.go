package statestream

import "errors"

// Domain-specific errors for statestream operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a
	// disconnected listener.
	ErrNotConnected = errors.New("statestream: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt
	// fails.
	ErrConnectionFailed = errors.New("statestream: connection failed")

	// ErrSubscribeFailed is returned when subscribing to the statestream
	// topic tree fails.
	ErrSubscribeFailed = errors.New("statestream: subscribe failed")
)
