package device

import "errors"

// Domain errors for the device package.
var (
	// ErrHomeUnreachable is returned when the automation server does not
	// answer on the local network.
	ErrHomeUnreachable = errors.New("device: cannot reach automation server on local network")

	// ErrCloudUnreachable is returned when the automation server does not
	// answer via the cloud relay.
	ErrCloudUnreachable = errors.New("device: cannot reach automation server via cloud")

	// ErrInvalidMode is returned for modes other than home or cloud.
	ErrInvalidMode = errors.New("device: invalid mode")
)
