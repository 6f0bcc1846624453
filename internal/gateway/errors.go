package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Sentinel errors for gateway operations.
var (
	// ErrUnreachable indicates the automation server did not answer at the
	// transport level.
	ErrUnreachable = errors.New("gateway: server unreachable")
)

// HTTPError is a non-2xx response from the automation server.
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("gateway: %s: HTTP %d %s", e.Op, e.StatusCode, e.Status)
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}
	return msg
}

// annotateNetworkError wraps a transport-level failure with remediation
// hints for the two failure classes mobile users hit most: mDNS hostnames
// that don't resolve off the home network, and plain-HTTP targets that
// mobile platforms block. The hint is a usability aid; the wrapped error
// still matches ErrUnreachable.
func annotateNetworkError(op, baseURL string, err error) error {
	wrapped := fmt.Errorf("%w: %s %s: %w", ErrUnreachable, op, baseURL, err)

	var hints []string
	if u, parseErr := url.Parse(baseURL); parseErr == nil {
		if strings.HasSuffix(u.Hostname(), ".local") {
			hints = append(hints, "hostnames ending in .local often cannot be resolved from mobile networks; try the server's IP address")
		}
		if u.Scheme == "http" {
			hints = append(hints, "the connection is unencrypted (http); some networks block plain HTTP")
		}
	}

	if len(hints) == 0 {
		return wrapped
	}
	return fmt.Errorf("%w (%s)", wrapped, strings.Join(hints, "; "))
}
