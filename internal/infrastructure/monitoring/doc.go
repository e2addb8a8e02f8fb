// Package monitoring provides Prometheus metrics for the service:
// HTTP request metrics via a Gin middleware, shell session and command
// execution metrics, environment-tracking counters, and WebSocket
// connection gauges. Collectors register with the default registry and
// are served by the /metrics endpoint.
package monitoring
