package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// serverMessage is a frame received from the remote device
type serverMessage struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id,omitempty"`
	Data      string   `json:"data,omitempty"`
	Message   string   `json:"message,omitempty"`
	Command   string   `json:"command,omitempty"`
	History   []string `json:"history,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// clientFrame is a frame sent to the remote device
type clientFrame struct {
	Type    string `json:"type"`
	Command string `json:"command,omitempty"`
}

// attempt is one in-flight connect. Concurrent Connect and Submit calls
// join the same attempt instead of opening a second link.
type attempt struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Conn is a reconnecting console link to the remote device, exclusively
// owned by one session.
//
// State machine: Disconnected -> Connecting -> Connected, with an
// unexpected server-side close going Connected -> Disconnected and then,
// after a fixed delay, one automatic Connecting attempt. Client-initiated
// Connect retries with a growing delay up to a bounded attempt count; the
// two retry paths are distinct on purpose.
type Conn struct {
	settings Settings
	log      *zap.Logger
	subs     *subscribers

	mu          sync.Mutex
	state       State
	link        Link
	linkGen     int // increments per established link; guards stale read loops
	remoteID    string
	attempt     *attempt
	resumeTimer *time.Timer
	closed      bool
	expectClose bool
}

// New creates a connection in the Disconnected state. It does not dial;
// call Connect.
func New(settings Settings) *Conn {
	settings.withDefaults()
	return &Conn{
		settings: settings,
		log:      settings.Logger,
		subs:     newSubscribers(),
	}
}

// State returns the current connection state
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RemoteSessionID returns the identity the remote endpoint assigned during
// the handshake, or empty when none has been assigned. It survives
// ordinary reconnects; only discarding the whole connection loses it.
func (c *Conn) RemoteSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteID
}

// Connect establishes the link. Connected connections resolve immediately;
// a call during an in-flight attempt joins it. Dial failures retry with a
// delay growing from InitialRetryDelay toward MaxRetryDelay; after
// MaxRetries consecutive failures the call fails with ErrConnectFailed.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if a := c.attempt; a != nil {
		c.mu.Unlock()
		return c.await(ctx, a)
	}

	a := c.startAttempt()
	c.mu.Unlock()

	go c.dial(a)
	return c.await(ctx, a)
}

// Submit sends a command over the link. When a connect is in flight the
// call waits up to SubmitTimeout for it, then sends; when disconnected
// with nothing in flight it fails immediately with ErrNotConnected rather
// than reconnecting on the caller's behalf.
func (c *Conn) Submit(ctx context.Context, command string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	switch c.state {
	case StateConnected:
		link := c.link
		c.mu.Unlock()
		return c.send(link, command)

	case StateConnecting:
		a := c.attempt
		c.mu.Unlock()
		if a == nil {
			return ErrNotConnected
		}

		timer := time.NewTimer(c.settings.SubmitTimeout)
		defer timer.Stop()
		select {
		case <-a.done:
			if a.err != nil {
				return fmt.Errorf("submit failed: %w", a.err)
			}
		case <-timer.C:
			return ErrSubmitTimeout
		case <-ctx.Done():
			return ctx.Err()
		}

		c.mu.Lock()
		if c.state != StateConnected {
			c.mu.Unlock()
			return ErrNotConnected
		}
		link := c.link
		c.mu.Unlock()
		return c.send(link, command)

	default:
		c.mu.Unlock()
		return ErrNotConnected
	}
}

// Ping sends a keepalive frame; the reply surfaces as a pong event
func (c *Conn) Ping() error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	link := c.link
	c.mu.Unlock()

	return link.WriteJSON(clientFrame{Type: "ping"})
}

// Disconnect closes the link if open and cancels any in-flight attempt.
// The connection stays usable: a subsequent Connect is valid. Remote
// session identity is kept.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.stopResumeLocked()
	if c.attempt != nil {
		c.attempt.cancel()
	}
	if c.link != nil {
		c.expectClose = true
		c.link.Close()
		c.link = nil
	}
	c.state = StateDisconnected
	return nil
}

// Close destroys the connection: link closed, timers stopped, subscribers
// dropped. Every later call fails with ErrClosed. This is the
// registry-level teardown, distinct from Disconnect.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopResumeLocked()
	if c.attempt != nil {
		c.attempt.cancel()
	}
	if c.link != nil {
		c.expectClose = true
		c.link.Close()
		c.link = nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	c.subs.clear()
	return nil
}

// Event subscriptions. Each registration returns a disposer; multiple
// independent subscribers are supported.

func (c *Conn) OnOutput(fn func(OutputEvent)) Disposer {
	return add(c.subs, c.subs.output, fn)
}

func (c *Conn) OnError(fn func(ErrorEvent)) Disposer {
	return add(c.subs, c.subs.errs, fn)
}

func (c *Conn) OnExecuting(fn func(ExecutingEvent)) Disposer {
	return add(c.subs, c.subs.executing, fn)
}

func (c *Conn) OnConnect(fn func(ConnectEvent)) Disposer {
	return add(c.subs, c.subs.connect, fn)
}

func (c *Conn) OnDisconnect(fn func(DisconnectEvent)) Disposer {
	return add(c.subs, c.subs.disconnect, fn)
}

func (c *Conn) OnHistory(fn func(HistoryEvent)) Disposer {
	return add(c.subs, c.subs.history, fn)
}

func (c *Conn) OnPong(fn func(PongEvent)) Disposer {
	return add(c.subs, c.subs.pong, fn)
}

// startAttempt transitions to Connecting; callers hold the lock
func (c *Conn) startAttempt() *attempt {
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	c.attempt = a
	c.state = StateConnecting
	return a
}

// await blocks until the attempt settles or the caller's context expires.
// An expired context abandons the wait, not the attempt.
func (c *Conn) await(ctx context.Context, a *attempt) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dial runs the bounded retry loop for one attempt
func (c *Conn) dial(a *attempt) {
	delay := c.settings.InitialRetryDelay

	for try := 1; ; try++ {
		link, err := c.settings.Dialer.Dial(a.ctx, c.settings.URL)
		if err == nil {
			c.finishAttempt(a, link)
			return
		}
		if a.ctx.Err() != nil {
			c.failAttempt(a, fmt.Errorf("connect aborted: %w", a.ctx.Err()))
			return
		}

		c.log.Warn("dial failed",
			zap.String("url", c.settings.URL),
			zap.Int("attempt", try),
			zap.Error(err),
		)

		if try >= c.settings.MaxRetries {
			c.failAttempt(a, fmt.Errorf("%w: %d attempts, last: %v", ErrConnectFailed, try, err))
			return
		}

		select {
		case <-time.After(delay):
		case <-a.ctx.Done():
			c.failAttempt(a, fmt.Errorf("connect aborted: %w", a.ctx.Err()))
			return
		}
		delay *= 2
		if delay > c.settings.MaxRetryDelay {
			delay = c.settings.MaxRetryDelay
		}
	}
}

// finishAttempt installs the established link and wakes all waiters
func (c *Conn) finishAttempt(a *attempt, link Link) {
	c.mu.Lock()
	if c.attempt != a || c.closed {
		// Attempt was cancelled while the dial was in flight
		c.mu.Unlock()
		link.Close()
		a.err = fmt.Errorf("connect aborted: %w", context.Canceled)
		close(a.done)
		return
	}
	c.attempt = nil
	c.link = link
	c.state = StateConnected
	c.expectClose = false
	c.linkGen++
	gen := c.linkGen
	remoteID := c.remoteID
	c.mu.Unlock()

	close(a.done)
	go c.readLoop(link, gen)

	emit(c.subs, c.subs.connect, ConnectEvent{
		RemoteSessionID: remoteID,
		Timestamp:       time.Now(),
	})
}

func (c *Conn) failAttempt(a *attempt, err error) {
	c.mu.Lock()
	if c.attempt == a {
		c.attempt = nil
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	a.err = err
	close(a.done)
}

func (c *Conn) send(link Link, command string) error {
	if err := link.WriteJSON(clientFrame{Type: "command", Command: command}); err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}
	return nil
}

// readLoop delivers frames from one established link in arrival order. It
// exits when the link dies; gen detects loops that outlived their link.
func (c *Conn) readLoop(link Link, gen int) {
	for {
		data, err := link.ReadMessage()
		if err != nil {
			c.handleReadError(gen, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Conn) dispatch(data []byte) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Debug("dropping malformed frame", zap.Error(err))
		return
	}

	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.UnixMilli(msg.Timestamp)
	}

	switch msg.Type {
	case "hello":
		// Handshake: store whatever identity the server supplies. A
		// reconnect carrying a different id silently replaces the old one.
		if msg.SessionID != "" {
			c.mu.Lock()
			c.remoteID = msg.SessionID
			c.mu.Unlock()
		}
	case "output":
		emit(c.subs, c.subs.output, OutputEvent{Data: msg.Data, Timestamp: ts})
	case "error":
		emit(c.subs, c.subs.errs, ErrorEvent{Message: msg.Message, Timestamp: ts})
	case "executing":
		emit(c.subs, c.subs.executing, ExecutingEvent{Command: msg.Command, Timestamp: ts})
	case "history":
		emit(c.subs, c.subs.history, HistoryEvent{Commands: msg.History, Timestamp: ts})
	case "pong":
		emit(c.subs, c.subs.pong, PongEvent{Timestamp: ts})
	default:
		c.log.Debug("unknown frame type", zap.String("type", msg.Type))
	}
}

// handleReadError runs when a link dies. A client-initiated close just
// reports the disconnect; a server-initiated one additionally schedules
// exactly one deferred reconnect, so a device restart does not require the
// front-end to notice and reconnect by hand.
func (c *Conn) handleReadError(gen int, err error) {
	c.mu.Lock()
	if gen != c.linkGen || c.closed {
		c.mu.Unlock()
		return
	}
	expected := c.expectClose
	c.expectClose = false
	c.link = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	reason := ReasonClientClose
	if !expected {
		reason = err.Error()
	}
	emit(c.subs, c.subs.disconnect, DisconnectEvent{Reason: reason, Timestamp: time.Now()})

	if !expected {
		c.log.Info("server closed connection, scheduling reconnect",
			zap.Duration("delay", c.settings.ResumeDelay),
			zap.Error(err),
		)
		c.scheduleResume()
	}
}

func (c *Conn) scheduleResume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.resumeTimer != nil {
		return
	}
	c.resumeTimer = time.AfterFunc(c.settings.ResumeDelay, c.resume)
}

// resume is the single deferred reconnect after a server-initiated close:
// one dial, no retry loop. Failure surfaces as an error event instead of
// further automatic attempts.
func (c *Conn) resume() {
	c.mu.Lock()
	c.resumeTimer = nil
	if c.closed || c.state != StateDisconnected || c.attempt != nil {
		c.mu.Unlock()
		return
	}
	a := c.startAttempt()
	c.mu.Unlock()

	link, err := c.settings.Dialer.Dial(a.ctx, c.settings.URL)
	if err != nil {
		c.failAttempt(a, fmt.Errorf("automatic reconnect failed: %w", err))
		emit(c.subs, c.subs.errs, ErrorEvent{
			Message:   fmt.Sprintf("automatic reconnect failed: %v", err),
			Timestamp: time.Now(),
		})
		return
	}
	c.finishAttempt(a, link)
}

// stopResumeLocked cancels a pending deferred reconnect; callers hold the lock
func (c *Conn) stopResumeLocked() {
	if c.resumeTimer != nil {
		c.resumeTimer.Stop()
		c.resumeTimer = nil
	}
}
