// Package transport provides the reconnecting console link between one
// session and the remote device.
//
// Each session exclusively owns one Conn; connections are never shared or
// pooled, so one session's reconnection churn cannot starve another's.
//
// State machine:
//
//	Disconnected --Connect--> Connecting --success--> Connected
//	Connecting --retries exhausted--> Disconnected (terminal error)
//	Connected --server close--> Disconnected --fixed delay--> Connecting (once)
//
// Concurrent Connect calls join the same in-flight attempt; exactly one
// underlying dial sequence runs at a time. Submit never opens a connection:
// it either sends, waits a bounded time for an in-flight connect, or fails
// with ErrNotConnected.
//
// Frames (JSON over websocket):
//   - client -> device: {"type":"command","command":...}, {"type":"ping"}
//   - device -> client: hello (handshake, may assign a session id), output,
//     error, executing, history, pong
//
// Events from one connection are delivered in arrival order from a single
// read loop goroutine. Cross-connection ordering is not defined.
package transport
