package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type names an auth event.
type Type string

const (
	SignInCompleted Type = "signInCompleted"
	SignUpCompleted Type = "signUpCompleted"
	SignedOut       Type = "signedOut"
	SessionChanged  Type = "sessionChanged"
)

// Event is one auth state transition.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New stamps an event with a fresh id and the current time.
func New(t Type, sessionID, userID string) Event {
	return Event{
		ID:        uuid.New(),
		Type:      t,
		SessionID: sessionID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
}

// Config controls dispatcher buffering.
type Config struct {
	BufferSize           int
	SubscriberBufferSize int
}

type subscriber struct {
	ch chan Event
}

// Dispatcher asynchronously forwards events to subscribers.
type Dispatcher struct {
	cfg  Config
	ch   chan Event
	done chan struct{}
	wg   sync.WaitGroup

	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64

	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.SubscriberBufferSize <= 0 {
		cfg.SubscriberBufferSize = 1
	}

	d := &Dispatcher{
		cfg:  cfg,
		ch:   make(chan Event, cfg.BufferSize),
		done: make(chan struct{}),
		subs: make(map[uint64]*subscriber),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subs {
		select {
		case sub.ch <- event:
		default:
			d.dropped.Add(1)
		}
	}
}

// Emit queues event. When the queue is full the event is dropped.
func (d *Dispatcher) Emit(event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- event:
	case <-d.done:
	default:
		d.dropped.Add(1)
	}
}

// Subscribe returns a channel receiving future events and a function that
// unsubscribes and closes it. The channel is closed when the Dispatcher
// closes.
func (d *Dispatcher) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, d.cfg.SubscriberBufferSize)

	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := d.nextID
	d.nextID++
	d.subs[id] = &subscriber{ch: ch}
	d.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			sub, ok := d.subs[id]
			delete(d.subs, id)
			d.mu.Unlock()
			if ok {
				close(sub.ch)
			}
		})
	}
}

// Close drains queued events, closes every subscriber channel and stops the
// dispatcher.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()

		d.mu.Lock()
		for id, sub := range d.subs {
			close(sub.ch)
			delete(d.subs, id)
		}
		d.mu.Unlock()
	})
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
