// Package main is the entry point for the console backend server.
//
// The server multiplexes interactive command sessions against one remote
// device console:
//
//	Front-end → REST + /ws bridge → console service → per-session
//	websocket transports → remote device
//
// The server provides:
//   - REST API for session lifecycle and command submission
//   - WebSocket bridge streaming per-session transport events
//   - Debounced layout snapshots restored on boot
//   - Rate limiting and Prometheus metrics
//
// Configuration is environment variables (12-factor) with development
// defaults; see internal/infrastructure/config.
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown (drains HTTP, flushes snapshot)
package main
