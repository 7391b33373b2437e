package persistence

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDebounce coalesces bursts of registry changes into one write
const DefaultDebounce = 500 * time.Millisecond

// Adapter schedules debounced snapshot writes. The registry stays pure:
// callers mark the adapter dirty after each successful mutation and the
// adapter owns the flush timer. A burst of moves or resizes therefore
// produces one write, not N.
//
// All writes happen on a single goroutine owned by the adapter, started at
// construction and stopped by Close.
type Adapter struct {
	store    Store
	snapshot func() []Record
	debounce time.Duration
	log      *zap.Logger

	kick    chan struct{}
	flushes chan chan struct{}
	quit    chan struct{}
	done    chan struct{}

	closeOnce sync.Once
}

// NewAdapter wraps store with a debounced writer. snapshot is invoked at
// flush time to pull the durable state; it must be safe to call from the
// adapter's goroutine. The adapter owns the store and closes it on Close.
func NewAdapter(store Store, snapshot func() []Record, debounce time.Duration, log *zap.Logger) *Adapter {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}

	a := &Adapter{
		store:    store,
		snapshot: snapshot,
		debounce: debounce,
		log:      log,
		kick:     make(chan struct{}, 1),
		flushes:  make(chan chan struct{}),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

// Load reads the persisted snapshot
func (a *Adapter) Load() ([]Record, error) {
	return a.store.Load()
}

// MarkDirty schedules a flush after the debounce window. Further calls
// within the window restart it.
func (a *Adapter) MarkDirty() {
	select {
	case a.kick <- struct{}{}:
	case <-a.quit:
	default:
		// A kick is already pending; the window restarts when the run
		// loop consumes it.
	}
}

// Flush writes pending changes immediately and waits for the write
func (a *Adapter) Flush() {
	ack := make(chan struct{})
	select {
	case a.flushes <- ack:
		<-ack
	case <-a.quit:
	}
}

// Close flushes pending changes, stops the goroutine, and closes the store
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.quit)
		<-a.done
	})
	return a.store.Close()
}

func (a *Adapter) run() {
	defer close(a.done)

	var timer *time.Timer
	var timerC <-chan time.Time
	dirty := false

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-a.kick:
			dirty = true
			if timer == nil {
				timer = time.NewTimer(a.debounce)
				timerC = timer.C
			} else if timer.Stop() {
				timer.Reset(a.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			dirty = false
			a.write()

		case ack := <-a.flushes:
			stopTimer()
			if dirty {
				dirty = false
				a.write()
			}
			close(ack)

		case <-a.quit:
			stopTimer()
			// Consume a kick that raced with shutdown.
			select {
			case <-a.kick:
				dirty = true
			default:
			}
			if dirty {
				a.write()
			}
			return
		}
	}
}

func (a *Adapter) write() {
	records := a.snapshot()
	if err := a.store.Save(records); err != nil {
		a.log.Error("failed to persist session snapshot", zap.Error(err))
		return
	}
	a.log.Debug("session snapshot persisted", zap.Int("sessions", len(records)))
}
