package transport

import (
	"sort"
	"sync"
	"time"
)

// OutputEvent carries console output from the remote device
type OutputEvent struct {
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent carries an error reported by the remote device or the link
type ErrorEvent struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutingEvent echoes a command the remote device started executing
type ExecutingEvent struct {
	Command   string    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectEvent signals an established link
type ConnectEvent struct {
	RemoteSessionID string    `json:"remote_session_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// DisconnectEvent signals a closed link
type DisconnectEvent struct {
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryEvent carries the remote session's prior command history
type HistoryEvent struct {
	Commands  []string  `json:"commands"`
	Timestamp time.Time `json:"timestamp"`
}

// PongEvent signals a keepalive reply
type PongEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// Disposer removes an event subscription. Subscribers that never dispose
// stay registered until the connection itself is destroyed.
type Disposer func()

// subscribers fans events out to registered handlers. Handlers for one
// connection are always invoked from the single read loop goroutine, so
// delivery order matches arrival order.
type subscribers struct {
	mu     sync.Mutex
	nextID int

	output     map[int]func(OutputEvent)
	errs       map[int]func(ErrorEvent)
	executing  map[int]func(ExecutingEvent)
	connect    map[int]func(ConnectEvent)
	disconnect map[int]func(DisconnectEvent)
	history    map[int]func(HistoryEvent)
	pong       map[int]func(PongEvent)
}

func newSubscribers() *subscribers {
	return &subscribers{
		output:     make(map[int]func(OutputEvent)),
		errs:       make(map[int]func(ErrorEvent)),
		executing:  make(map[int]func(ExecutingEvent)),
		connect:    make(map[int]func(ConnectEvent)),
		disconnect: make(map[int]func(DisconnectEvent)),
		history:    make(map[int]func(HistoryEvent)),
		pong:       make(map[int]func(PongEvent)),
	}
}

func (s *subscribers) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = make(map[int]func(OutputEvent))
	s.errs = make(map[int]func(ErrorEvent))
	s.executing = make(map[int]func(ExecutingEvent))
	s.connect = make(map[int]func(ConnectEvent))
	s.disconnect = make(map[int]func(DisconnectEvent))
	s.history = make(map[int]func(HistoryEvent))
	s.pong = make(map[int]func(PongEvent))
}

// add registers fn in reg and returns a disposer removing it again
func add[E any](s *subscribers, reg map[int]func(E), fn func(E)) Disposer {
	s.mu.Lock()
	s.nextID++
	sid := s.nextID
	reg[sid] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(reg, sid)
		s.mu.Unlock()
	}
}

// emit invokes the registered handlers outside the lock, in stable
// registration order
func emit[E any](s *subscribers, reg map[int]func(E), ev E) {
	s.mu.Lock()
	ids := make([]int, 0, len(reg))
	for sid := range reg {
		ids = append(ids, sid)
	}
	sort.Ints(ids)
	fns := make([]func(E), 0, len(ids))
	for _, sid := range ids {
		fns = append(fns, reg[sid])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
