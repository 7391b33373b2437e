// Package monitoring provides Prometheus metrics for HTTP traffic,
// session lifecycle, transport connectivity, and the event bridge.
package monitoring
