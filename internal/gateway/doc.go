// Package gateway is the HTTP client for the home-automation server's
// REST API: entity states, template-computed metadata, service calls, and
// reachability probes, all bearer-token authenticated.
//
// Probes treat any HTTP response as "reachable" and only transport-level
// failures as "unreachable". Timeouts cancel the underlying connection
// through the request context.
package gateway
