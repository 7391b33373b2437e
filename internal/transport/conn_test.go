package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeLink is an in-memory Link fed by the test acting as the remote device
type fakeLink struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	frames []clientFrame
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (l *fakeLink) ReadMessage() ([]byte, error) {
	select {
	case data := <-l.in:
		return data, nil
	case <-l.closed:
		return nil, errors.New("link closed")
	}
}

func (l *fakeLink) WriteJSON(v interface{}) error {
	select {
	case <-l.closed:
		return errors.New("link closed")
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var f clientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}

	l.mu.Lock()
	l.frames = append(l.frames, f)
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

// serve delivers a frame as if the remote device sent it
func (l *fakeLink) serve(msg serverMessage) {
	data, _ := json.Marshal(msg)
	l.in <- data
}

func (l *fakeLink) sent() []clientFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]clientFrame, len(l.frames))
	copy(out, l.frames)
	return out
}

// fakeDialer scripts dial outcomes and counts attempts
type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	failN   int           // first failN dials are refused
	failAll bool          // every dial is refused
	gate    chan struct{} // when set, dials block until the gate closes
	links   []*fakeLink
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Link, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll || n <= d.failN {
		return nil, errors.New("connection refused")
	}
	l := newFakeLink()
	d.links = append(d.links, l)
	return l, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) link(i int) *fakeLink {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.links) {
		return nil
	}
	return d.links[i]
}

func newTestConn(d Dialer, mutate func(*Settings)) *Conn {
	s := Settings{
		URL:               "ws://device.test/console",
		MaxRetries:        5,
		InitialRetryDelay: time.Millisecond,
		MaxRetryDelay:     4 * time.Millisecond,
		SubmitTimeout:     100 * time.Millisecond,
		ResumeDelay:       10 * time.Millisecond,
		Dialer:            d,
	}
	if mutate != nil {
		mutate(&s)
	}
	return New(s)
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectSuccess(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(d, nil)

	connected := make(chan ConnectEvent, 1)
	c.OnConnect(func(ev ConnectEvent) { connected <- ev })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if c.State() != StateConnected {
		t.Errorf("Expected Connected, got %s", c.State())
	}

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("Expected a connect event")
	}
}

func TestConnectIdempotentWhenConnected(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(d, nil)

	c.Connect(context.Background())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Second Connect should resolve immediately: %v", err)
	}
	if d.count() != 1 {
		t.Errorf("Expected 1 dial, got %d", d.count())
	}
}

func TestConnectDeduplicatesInFlightAttempts(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDialer{gate: gate}
	c := newTestConn(d, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Connect(context.Background())
		}(i)
	}

	waitFor(t, "first dial to start", func() bool { return d.count() == 1 })
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Connect %d failed: %v", i, err)
		}
	}
	if d.count() != 1 {
		t.Errorf("Concurrent connects must share one attempt, got %d dials", d.count())
	}
}

func TestConnectRetriesExhausted(t *testing.T) {
	d := &fakeDialer{failAll: true}
	c := newTestConn(d, nil)

	err := c.Connect(context.Background())
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Expected ErrConnectFailed, got %v", err)
	}
	if d.count() != 5 {
		t.Errorf("Expected exactly 5 dial attempts, got %d", d.count())
	}
	if c.State() != StateDisconnected {
		t.Errorf("Expected Disconnected after terminal failure, got %s", c.State())
	}

	// No sixth attempt sneaks in afterwards.
	time.Sleep(20 * time.Millisecond)
	if d.count() != 5 {
		t.Errorf("No further attempts expected, got %d", d.count())
	}
}

func TestConnectRecoversWithinBudget(t *testing.T) {
	d := &fakeDialer{failN: 3}
	c := newTestConn(d, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect should succeed on the 4th try: %v", err)
	}
	if d.count() != 4 {
		t.Errorf("Expected 4 dials, got %d", d.count())
	}
}

func TestSubmitWhenDisconnected(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(d, nil)

	err := c.Submit(context.Background(), "/system resource print")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected, got %v", err)
	}
	if d.count() != 0 {
		t.Error("Submit must not trigger a connect")
	}
}

func TestSubmitWaitsForInFlightConnect(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDialer{gate: gate}
	c := newTestConn(d, nil)

	go c.Connect(context.Background())
	waitFor(t, "connecting state", func() bool { return c.State() == StateConnecting })

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background(), "/interface print") }()

	time.Sleep(10 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Submit resolved before the connection: %v", err)
	default:
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Submit should succeed once connected: %v", err)
	}

	frames := d.link(0).sent()
	if len(frames) != 1 || frames[0].Command != "/interface print" {
		t.Errorf("Expected the command to be sent, got %+v", frames)
	}
}

func TestSubmitTimesOut(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	d := &fakeDialer{gate: gate}
	c := newTestConn(d, func(s *Settings) { s.SubmitTimeout = 20 * time.Millisecond })

	go c.Connect(context.Background())
	waitFor(t, "connecting state", func() bool { return c.State() == StateConnecting })

	err := c.Submit(context.Background(), "/ip address print")
	if !errors.Is(err, ErrSubmitTimeout) {
		t.Fatalf("Expected ErrSubmitTimeout, got %v", err)
	}
}

func TestServerCloseTriggersSingleResume(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(d, nil)

	disconnects := make(chan DisconnectEvent, 1)
	c.OnDisconnect(func(ev DisconnectEvent) { disconnects <- ev })

	c.Connect(context.Background())

	// Server-initiated close.
	d.link(0).Close()

	select {
	case <-disconnects:
	case <-time.After(time.Second):
		t.Fatal("Expected a disconnect event")
	}

	waitFor(t, "automatic reconnect", func() bool {
		return c.State() == StateConnected && d.count() == 2
	})

	// Exactly one deferred attempt, not a retry storm.
	time.Sleep(50 * time.Millisecond)
	if d.count() != 2 {
		t.Errorf("Expected exactly 2 dials, got %d", d.count())
	}
}

func TestResumeFailureEscalates(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(d, nil)

	errv := make(chan ErrorEvent, 1)
	c.OnError(func(ev ErrorEvent) { errv <- ev })

	c.Connect(context.Background())

	d.mu.Lock()
	d.failAll = true
	d.mu.Unlock()
	d.link(0).Close()

	select {
	case <-errv:
	case <-time.After(time.Second):
		t.Fatal("Expected an error event when the automatic reconnect fails")
	}

	// Only the single deferred attempt ran.
	time.Sleep(50 * time.Millisecond)
	if d.count() != 2 {
		t.Errorf("Expected exactly 2 dials, got %d", d.count())
	}
	if c.State() != StateDisconnected {
		t.Errorf("Expected Disconnected, got %s", c.State())
	}
}

func TestDisconnectIsQuietAndReusable(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(d, nil)

	disconnects := make(chan DisconnectEvent, 1)
	c.OnDisconnect(func(ev DisconnectEvent) { disconnects <- ev })

	c.Connect(context.Background())
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	select {
	case ev := <-disconnects:
		if ev.Reason != "closed by client" {
			t.Errorf("Unexpected reason %q", ev.Reason)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected a disconnect event")
	}

	// No automatic reconnect after a client-initiated disconnect.
	time.Sleep(50 * time.Millisecond)
	if d.count() != 1 {
		t.Errorf("Expected no reconnect, got %d dials", d.count())
	}

	// The object stays reusable.
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Reconnect after Disconnect failed: %v", err)
	}
	if c.State() != StateConnected {
		t.Errorf("Expected Connected, got %s", c.State())
	}
}

func TestRemoteSessionIdentity(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(d, nil)

	c.Connect(context.Background())
	d.link(0).serve(serverMessage{Type: "hello", SessionID: "remote-1"})
	waitFor(t, "handshake", func() bool { return c.RemoteSessionID() == "remote-1" })

	// Reconnect without a fresh hello keeps the identity.
	d.link(0).Close()
	waitFor(t, "reconnect", func() bool { return c.State() == StateConnected && d.count() == 2 })
	if got := c.RemoteSessionID(); got != "remote-1" {
		t.Errorf("Identity should survive reconnection, got %q", got)
	}

	// A hello carrying a different id silently replaces it.
	d.link(1).serve(serverMessage{Type: "hello", SessionID: "remote-2"})
	waitFor(t, "replacement handshake", func() bool { return c.RemoteSessionID() == "remote-2" })
}

func TestEventOrderingAndHistory(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(d, nil)

	var mu sync.Mutex
	var outputs []string
	history := make(chan HistoryEvent, 1)

	c.OnOutput(func(ev OutputEvent) {
		mu.Lock()
		outputs = append(outputs, ev.Data)
		mu.Unlock()
	})
	c.OnHistory(func(ev HistoryEvent) { history <- ev })

	c.Connect(context.Background())
	link := d.link(0)

	for i := 0; i < 10; i++ {
		link.serve(serverMessage{Type: "output", Data: fmt.Sprintf("line-%d", i)})
	}
	link.serve(serverMessage{Type: "history", History: []string{"/export", "/system reboot"}})

	select {
	case ev := <-history:
		if len(ev.Commands) != 2 {
			t.Errorf("Expected 2 history entries, got %d", len(ev.Commands))
		}
	case <-time.After(time.Second):
		t.Fatal("Expected a history event")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(outputs) != 10 {
		t.Fatalf("Expected 10 output events, got %d", len(outputs))
	}
	for i, got := range outputs {
		if want := fmt.Sprintf("line-%d", i); got != want {
			t.Errorf("Output %d out of order: want %q, got %q", i, want, got)
		}
	}
}

func TestDisposerRemovesSubscriber(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(d, nil)

	events := make(chan OutputEvent, 4)
	dispose := c.OnOutput(func(ev OutputEvent) { events <- ev })
	kept := make(chan OutputEvent, 4)
	c.OnOutput(func(ev OutputEvent) { kept <- ev })

	c.Connect(context.Background())
	dispose()

	d.link(0).serve(serverMessage{Type: "output", Data: "after dispose"})

	select {
	case <-kept:
	case <-time.After(time.Second):
		t.Fatal("Remaining subscriber should still receive events")
	}
	select {
	case <-events:
		t.Error("Disposed subscriber should not receive events")
	default:
	}
}

func TestPing(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(d, nil)

	pongs := make(chan PongEvent, 1)
	c.OnPong(func(ev PongEvent) { pongs <- ev })

	c.Connect(context.Background())
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	link := d.link(0)
	frames := link.sent()
	if len(frames) != 1 || frames[0].Type != "ping" {
		t.Fatalf("Expected a ping frame, got %+v", frames)
	}

	link.serve(serverMessage{Type: "pong"})
	select {
	case <-pongs:
	case <-time.After(time.Second):
		t.Fatal("Expected a pong event")
	}
}

func TestCloseIsTerminal(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(d, nil)

	c.Connect(context.Background())
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close should fail with ErrClosed, got %v", err)
	}
	if err := c.Submit(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close should fail with ErrClosed, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
