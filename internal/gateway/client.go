package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dinodia/dinodia-core/internal/infrastructure/config"
)

// Target identifies one reachable automation server endpoint. The same
// connection yields different targets depending on mode (LAN base URL vs
// cloud relay URL); the token is shared.
type Target struct {
	BaseURL string
	Token   string
}

// EntityState is one entity as reported by GET /api/states.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastUpdated string         `json:"last_updated,omitempty"`
}

// EntityMeta is the server-computed metadata for one entity: its area
// name, grouping labels, and owning device id. Produced by the template
// query, all fields may be empty.
type EntityMeta struct {
	EntityID string   `json:"entity_id"`
	Area     string   `json:"area"`
	Labels   []string `json:"labels"`
	DeviceID string   `json:"device_id"`
}

// Client issues authenticated HTTP calls to a home-automation server.
//
// Every call is bounded by a context timeout; expiry aborts the underlying
// connection attempt rather than racing a timer. Network failures pass
// through an annotation step that appends remediation hints for the
// failure classes mobile users actually hit (mDNS hostnames, plain HTTP).
//
// All methods are safe for concurrent use.
type Client struct {
	http           *resty.Client
	requestTimeout time.Duration
}

// New creates a gateway client with the configured timeouts.
func New(cfg config.GatewayConfig) *Client {
	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:           client,
		requestTimeout: cfg.GetRequestTimeout(),
	}
}

// ListStates fetches all entity states from the automation server.
func (c *Client) ListStates(ctx context.Context, target Target) ([]EntityState, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var states []EntityState
	resp, err := c.http.R().
		SetContext(callCtx).
		SetAuthToken(target.Token).
		SetResult(&states).
		Get(target.BaseURL + "/api/states")
	if err != nil {
		return nil, annotateNetworkError("fetching states", target.BaseURL, err)
	}
	if resp.IsError() {
		return nil, newHTTPError("fetching states", resp)
	}

	return states, nil
}

// GetState fetches the current state of a single entity. Used by the
// command dispatcher to decide toggle direction from the live remote
// state rather than a cached one.
func (c *Client) GetState(ctx context.Context, target Target, entityID string) (*EntityState, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var state EntityState
	resp, err := c.http.R().
		SetContext(callCtx).
		SetAuthToken(target.Token).
		SetResult(&state).
		Get(target.BaseURL + "/api/states/" + entityID)
	if err != nil {
		return nil, annotateNetworkError("fetching entity state", target.BaseURL, err)
	}
	if resp.IsError() {
		return nil, newHTTPError(fmt.Sprintf("fetching state of %s", entityID), resp)
	}

	return &state, nil
}

// CallService invokes a service on the automation server, e.g.
// ("light", "turn_on", {"entity_id": "light.kitchen", "brightness_pct": 50}).
// A non-2xx response is an error carrying the status and body.
func (c *Client) CallService(ctx context.Context, target Target, domain, service string, payload map[string]any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(callCtx).
		SetAuthToken(target.Token).
		SetBody(payload).
		Post(fmt.Sprintf("%s/api/services/%s/%s", target.BaseURL, domain, service))
	if err != nil {
		return annotateNetworkError(fmt.Sprintf("calling %s.%s", domain, service), target.BaseURL, err)
	}
	if resp.IsError() {
		return newHTTPError(fmt.Sprintf("calling %s.%s", domain, service), resp)
	}

	return nil
}

// Probe checks whether the automation server answers HTTP at all.
//
// Any HTTP response counts as reachable, including error statuses: an
// auth failure still proves the server is there. Only transport-level
// failures (DNS, connection refused, timeout) count as unreachable.
func (c *Client) Probe(ctx context.Context, target Target, timeout time.Duration) bool {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := c.http.R().
		SetContext(probeCtx).
		SetAuthToken(target.Token).
		Get(target.BaseURL + "/api/")
	return err == nil
}

// newHTTPError builds an error for a non-2xx gateway response.
func newHTTPError(op string, resp *resty.Response) error {
	return &HTTPError{
		Op:         op,
		StatusCode: resp.StatusCode(),
		Status:     http.StatusText(resp.StatusCode()),
		Body:       string(resp.Body()),
	}
}
