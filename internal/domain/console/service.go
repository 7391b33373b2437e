package console

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/termdeck/backend/internal/domain/registry"
	"github.com/termdeck/backend/internal/infrastructure/monitoring"
	"github.com/termdeck/backend/internal/persistence"
	"github.com/termdeck/backend/internal/shared/types"
	"github.com/termdeck/backend/internal/transport"
)

// Transport is the per-session device link the service drives. It is
// satisfied by *transport.Conn and by test fakes.
type Transport interface {
	Connect(ctx context.Context) error
	Submit(ctx context.Context, command string) error
	Ping() error
	Disconnect() error
	Close() error
	State() transport.State
	RemoteSessionID() string

	OnOutput(fn func(transport.OutputEvent)) transport.Disposer
	OnError(fn func(transport.ErrorEvent)) transport.Disposer
	OnExecuting(fn func(transport.ExecutingEvent)) transport.Disposer
	OnConnect(fn func(transport.ConnectEvent)) transport.Disposer
	OnDisconnect(fn func(transport.DisconnectEvent)) transport.Disposer
	OnHistory(fn func(transport.HistoryEvent)) transport.Disposer
	OnPong(fn func(transport.PongEvent)) transport.Disposer
}

// TransportFactory builds the device link for a session. Called once per
// session create, duplicate, restore, and reset.
type TransportFactory func(sessionID string) Transport

// Event is a session-tagged transport event, the unit forwarded to the
// front-end bridge. Per session, events arrive in transport order; there
// is no ordering across sessions.
type Event struct {
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Data      string    `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	Command   string    `json:"command,omitempty"`
	History   []string  `json:"history,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event type values.
const (
	EventOutput     = "output"
	EventError      = "error"
	EventExecuting  = "executing"
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventHistory    = "history"
	EventPong       = "pong"
)

// binding ties a session to its transport and the subscriptions the
// service holds on it.
type binding struct {
	t         Transport
	disposers []transport.Disposer
}

// Options configures a Service.
type Options struct {
	Store   persistence.Store
	Factory TransportFactory
	// Debounce delays snapshot writes after a mutation; defaults to
	// persistence.DefaultDebounce.
	Debounce time.Duration
	// MaxSessions overrides the registry capacity; non-positive keeps
	// registry.MaxSessions.
	MaxSessions int
	Metrics  *monitoring.Metrics
	Logger   *zap.Logger
	// Clock and IDGenerator override the registry's time and id sources
	// in tests.
	Clock       func() time.Time
	IDGenerator func() string
}

// Service owns the session registry, one transport per session, and the
// snapshot adapter. Every command is serialized through one mutex, so
// registry invariants hold between commands and transport effects execute
// exactly once per applied command. Transport Connect/Submit block only
// their caller, never the service.
type Service struct {
	mu       sync.Mutex
	reg      *registry.Registry
	bindings map[string]*binding
	factory  TransportFactory
	adapter  *persistence.Adapter
	metrics  *monitoring.Metrics
	log      *zap.Logger
	closed   bool

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// New constructs the service, restores sessions from the snapshot store,
// and bootstraps one default session when no snapshot exists.
func New(opts Options) (*Service, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	reg := registry.New().WithCapacity(opts.MaxSessions)
	if opts.Clock != nil {
		reg.WithClock(opts.Clock)
	}
	if opts.IDGenerator != nil {
		reg.WithIDGenerator(opts.IDGenerator)
	}

	s := &Service{
		reg:      reg,
		bindings: make(map[string]*binding),
		factory:  opts.Factory,
		metrics:  opts.Metrics,
		log:      log,
		subs:     make(map[int]func(Event)),
	}
	s.adapter = persistence.NewAdapter(opts.Store, s.snapshot, opts.Debounce, log)

	records, err := s.adapter.Load()
	if err != nil {
		return nil, err
	}

	if len(records) > 0 {
		sessions := make([]types.Session, 0, len(records))
		for _, r := range records {
			sessions = append(sessions, types.Session{
				ID:          r.ID,
				Name:        r.Name,
				Position:    r.Position,
				Size:        r.Size,
				IsMinimized: r.IsMinimized,
				CreatedAt:   r.CreatedAt,
			})
		}
		reg.Load(sessions)
		for _, sess := range reg.List() {
			s.attach(sess.ID, false)
		}
		s.metrics.AddSessionsRestored(len(records))
		log.Info("sessions restored from snapshot", zap.Int("count", len(records)))
	} else {
		sess, err := reg.Create("", nil)
		if err != nil {
			return nil, err
		}
		s.attach(sess.ID, true)
		s.adapter.MarkDirty()
		log.Info("bootstrapped default session", zap.String("session_id", sess.ID))
	}

	s.metrics.SetSessionsOpen(reg.Len())
	return s, nil
}

// Close flushes pending snapshot state and tears down all transports.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	bindings := s.bindings
	s.bindings = make(map[string]*binding)
	s.mu.Unlock()

	for _, b := range bindings {
		teardown(b)
	}
	return s.adapter.Close()
}

// CreateSession opens a new session and starts its device connection in
// the background.
func (s *Service) CreateSession(name string, pos *types.Position) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.reg.Create(name, pos)
	if err != nil {
		return nil, err
	}
	s.attach(sess.ID, true)
	s.afterMutation()
	return s.decorate(sess), nil
}

// CloseSession closes a session, tearing down its transport. Closing the
// last session synthesizes a fresh default one, reported as Replacement.
func (s *Service) CloseSession(sessionID string) (*registry.CloseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.reg.Close(sessionID)
	if err != nil {
		return nil, err
	}
	s.applyCloseResult(res)
	s.afterMutation()
	return res, nil
}

// CloseAllSessions closes every session and bootstraps a fresh default.
func (s *Service) CloseAllSessions() *registry.CloseResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.reg.CloseAll()
	s.applyCloseResult(res)
	s.afterMutation()
	return res
}

// RenameSession gives a session a new unique name.
func (s *Service) RenameSession(sessionID, name string) (*types.Session, error) {
	return s.mutate(func() (*types.Session, error) { return s.reg.Rename(sessionID, name) })
}

// MinimizeSession hides a session; an active session hands focus to the
// oldest remaining visible one.
func (s *Service) MinimizeSession(sessionID string) (*types.Session, error) {
	return s.mutate(func() (*types.Session, error) { return s.reg.Minimize(sessionID) })
}

// FocusSession restores a minimized session if needed and makes it the
// single active session.
func (s *Service) FocusSession(sessionID string) (*types.Session, error) {
	return s.mutate(func() (*types.Session, error) { return s.reg.Focus(sessionID) })
}

// DeactivateAll clears focus from every session.
func (s *Service) DeactivateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reg.DeactivateAll()
	s.afterMutation()
}

// MoveSession repositions a session window.
func (s *Service) MoveSession(sessionID string, pos types.Position) (*types.Session, error) {
	return s.mutate(func() (*types.Session, error) { return s.reg.Move(sessionID, pos) })
}

// ResizeSession changes a session window's geometry.
func (s *Service) ResizeSession(sessionID string, size types.Size) (*types.Session, error) {
	return s.mutate(func() (*types.Session, error) { return s.reg.Resize(sessionID, size) })
}

// DuplicateSession copies a session's name and geometry into a new
// session with its own fresh connection.
func (s *Service) DuplicateSession(sessionID string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.reg.Duplicate(sessionID)
	if err != nil {
		return nil, err
	}
	s.attach(sess.ID, true)
	s.afterMutation()
	return s.decorate(sess), nil
}

// ResetSession discards a session's device link and remote identity and
// opens a brand-new connection under the same window.
func (s *Service) ResetSession(sessionID string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.reg.Reset(sessionID)
	if err != nil {
		return nil, err
	}
	if b, ok := s.bindings[sessionID]; ok {
		teardown(b)
		delete(s.bindings, sessionID)
	}
	s.attach(sessionID, true)
	s.afterMutation()
	return s.decorate(sess), nil
}

// Submit sends a command over the session's device link. It blocks the
// caller, not the service, while an in-flight connect settles.
func (s *Service) Submit(ctx context.Context, sessionID, command string) error {
	s.mu.Lock()
	b, ok := s.bindings[sessionID]
	s.mu.Unlock()
	if !ok {
		s.metrics.RecordCommand("unknown_session")
		return registry.ErrNotFound
	}

	err := b.t.Submit(ctx, command)
	if err != nil {
		s.metrics.RecordCommand("failed")
		return err
	}
	s.metrics.RecordCommand("ok")
	return nil
}

// ConnectSession explicitly (re)connects a session's device link,
// blocking through the retry budget.
func (s *Service) ConnectSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	b, ok := s.bindings[sessionID]
	s.mu.Unlock()
	if !ok {
		return registry.ErrNotFound
	}

	err := b.t.Connect(ctx)
	if err != nil {
		s.metrics.RecordConnect("failed")
		return err
	}
	s.metrics.RecordConnect("ok")
	return nil
}

// DisconnectSession closes a session's device link without closing the
// session; a later ConnectSession reopens it.
func (s *Service) DisconnectSession(sessionID string) error {
	s.mu.Lock()
	b, ok := s.bindings[sessionID]
	s.mu.Unlock()
	if !ok {
		return registry.ErrNotFound
	}
	return b.t.Disconnect()
}

// Get returns a copy of one session.
func (s *Service) Get(sessionID string) (*types.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.reg.Get(sessionID)
	if !ok {
		return nil, false
	}
	return s.decorate(sess), true
}

// List returns copies of all sessions, oldest first.
func (s *Service) List() []*types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := s.reg.List()
	for i, sess := range sessions {
		sessions[i] = s.decorate(sess)
	}
	return sessions
}

// Stats summarizes the collection.
func (s *Service) Stats() types.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.Stats()
}

// TransportState reports the link state for one session.
func (s *Service) TransportState(sessionID string) (transport.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[sessionID]
	if !ok {
		return transport.StateDisconnected, false
	}
	return b.t.State(), true
}

// OnEvent subscribes to all session-tagged transport events. The
// subscription survives session resets; dispose to stop delivery.
func (s *Service) OnEvent(fn func(Event)) transport.Disposer {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

// mutate runs a single-session registry command under the service lock.
func (s *Service) mutate(op func() (*types.Session, error)) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := op()
	if err != nil {
		return nil, err
	}
	s.afterMutation()
	return s.decorate(sess), nil
}

// afterMutation schedules a snapshot write and refreshes gauges. Called
// with the service lock held.
func (s *Service) afterMutation() {
	s.adapter.MarkDirty()
	s.metrics.SetSessionsOpen(s.reg.Len())
}

// attach creates and wires a transport for a session. Called with the
// service lock held (or from New before the service is shared).
func (s *Service) attach(sessionID string, connect bool) {
	t := s.factory(sessionID)
	b := &binding{t: t}
	b.disposers = []transport.Disposer{
		t.OnOutput(func(e transport.OutputEvent) {
			s.publish(Event{SessionID: sessionID, Type: EventOutput, Data: e.Data, Timestamp: e.Timestamp})
		}),
		t.OnError(func(e transport.ErrorEvent) {
			s.publish(Event{SessionID: sessionID, Type: EventError, Message: e.Message, Timestamp: e.Timestamp})
		}),
		t.OnExecuting(func(e transport.ExecutingEvent) {
			s.publish(Event{SessionID: sessionID, Type: EventExecuting, Command: e.Command, Timestamp: e.Timestamp})
		}),
		t.OnConnect(func(e transport.ConnectEvent) {
			s.publish(Event{SessionID: sessionID, Type: EventConnect, Data: e.RemoteSessionID, Timestamp: e.Timestamp})
		}),
		t.OnDisconnect(func(e transport.DisconnectEvent) {
			// an unexpected server close always schedules one resume
			if e.Reason != transport.ReasonClientClose {
				s.metrics.IncReconnects()
			}
			s.publish(Event{SessionID: sessionID, Type: EventDisconnect, Reason: e.Reason, Timestamp: e.Timestamp})
		}),
		t.OnHistory(func(e transport.HistoryEvent) {
			s.publish(Event{SessionID: sessionID, Type: EventHistory, History: e.Commands, Timestamp: e.Timestamp})
		}),
		t.OnPong(func(e transport.PongEvent) {
			s.publish(Event{SessionID: sessionID, Type: EventPong, Timestamp: e.Timestamp})
		}),
	}
	s.bindings[sessionID] = b

	if connect {
		go func() {
			if err := t.Connect(context.Background()); err != nil {
				s.metrics.RecordConnect("failed")
				s.log.Warn("background connect failed",
					zap.String("session_id", sessionID), zap.Error(err))
				return
			}
			s.metrics.RecordConnect("ok")
		}()
	}
}

// applyCloseResult tears down transports for closed sessions and attaches
// one for the synthesized replacement, if any. Called with the lock held.
func (s *Service) applyCloseResult(res *registry.CloseResult) {
	for _, closed := range res.Closed {
		if b, ok := s.bindings[closed.ID]; ok {
			teardown(b)
			delete(s.bindings, closed.ID)
		}
	}
	if res.Replacement != nil {
		s.attach(res.Replacement.ID, true)
	}
}

// decorate merges live transport identity into a session copy. Called
// with the lock held.
func (s *Service) decorate(sess *types.Session) *types.Session {
	if b, ok := s.bindings[sess.ID]; ok {
		if remote := b.t.RemoteSessionID(); remote != "" {
			sess.RemoteSessionID = &remote
		}
	}
	return sess
}

func (s *Service) publish(ev Event) {
	s.subMu.Lock()
	handlers := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		handlers = append(handlers, fn)
	}
	s.subMu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

// snapshot is the adapter's view of durable session state. It runs on the
// adapter's flush goroutine.
func (s *Service) snapshot() []persistence.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := s.reg.List()
	records := make([]persistence.Record, 0, len(sessions))
	for _, sess := range sessions {
		records = append(records, persistence.Record{
			ID:          sess.ID,
			Name:        sess.Name,
			Position:    sess.Position,
			Size:        sess.Size,
			IsMinimized: sess.IsMinimized,
			CreatedAt:   sess.CreatedAt,
		})
	}
	s.metrics.IncSnapshotsSaved()
	return records
}

func teardown(b *binding) {
	for _, dispose := range b.disposers {
		dispose()
	}
	_ = b.t.Close()
}
