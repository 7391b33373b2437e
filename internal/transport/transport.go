package transport

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// State represents the connection state
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

var (
	// ErrClosed is returned after the connection has been destroyed by the
	// owning session's teardown; the object is no longer usable.
	ErrClosed = errors.New("transport closed")

	// ErrNotConnected is returned by Submit when no connection exists and
	// none is being attempted. Submission never opens a connection itself;
	// the caller must Connect explicitly.
	ErrNotConnected = errors.New("transport not connected")

	// ErrConnectFailed is the terminal error after the retry budget is
	// exhausted. A new explicit Connect call resets the budget.
	ErrConnectFailed = errors.New("connection attempts exhausted")

	// ErrSubmitTimeout is returned when a submission waited out the
	// configured window for an in-flight connect. The connect attempt
	// itself keeps running; a later Submit may succeed.
	ErrSubmitTimeout = errors.New("timed out waiting for connection")
)

// ReasonClientClose is the disconnect reason reported when the close was
// requested locally rather than by the server.
const ReasonClientClose = "closed by client"

// Defaults for Settings; also surfaced to the front-end via /config.
const (
	DefaultMaxRetries        = 5
	DefaultInitialRetryDelay = 1 * time.Second
	DefaultMaxRetryDelay     = 5 * time.Second
	DefaultSubmitTimeout     = 5 * time.Second
	DefaultResumeDelay       = 2 * time.Second
)

// Settings configures a connection
type Settings struct {
	// URL is the websocket endpoint of the remote device console
	URL string
	// MaxRetries is the number of consecutive dial failures before a
	// Connect call fails terminally
	MaxRetries int
	// InitialRetryDelay is the delay before the first retry; it doubles
	// per attempt up to MaxRetryDelay
	InitialRetryDelay time.Duration
	// MaxRetryDelay caps the growing retry delay
	MaxRetryDelay time.Duration
	// SubmitTimeout bounds how long Submit waits for an in-flight connect
	SubmitTimeout time.Duration
	// ResumeDelay is the fixed delay before the single automatic
	// reconnect after an unexpected server-side close
	ResumeDelay time.Duration
	// Dialer opens the underlying link; defaults to a gorilla/websocket
	// dialer
	Dialer Dialer
	// Logger defaults to a no-op logger
	Logger *zap.Logger
}

func (s *Settings) withDefaults() {
	if s.MaxRetries <= 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if s.InitialRetryDelay <= 0 {
		s.InitialRetryDelay = DefaultInitialRetryDelay
	}
	if s.MaxRetryDelay <= 0 {
		s.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if s.SubmitTimeout <= 0 {
		s.SubmitTimeout = DefaultSubmitTimeout
	}
	if s.ResumeDelay <= 0 {
		s.ResumeDelay = DefaultResumeDelay
	}
	if s.Dialer == nil {
		s.Dialer = NewDialer()
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
}
