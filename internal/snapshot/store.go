package snapshot

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goIdentity/model"
)

// Change describes one replacement of the held snapshot.
type Change struct {
	Prev *model.Client
	Next *model.Client

	// SessionChanged is set when the active session id differs between Prev
	// and Next, including transitions to or from no active session.
	SessionChanged bool
	// SessionUpdated is set when the active session id is unchanged but its
	// update timestamp moved.
	SessionUpdated bool
	// Cleared is set when the snapshot was dropped entirely.
	Cleared bool
}

// Listener observes changes. Listeners run after the write completes, in
// write order, and must not write to the Store.
type Listener func(Change)

// Store is the single mutable cell holding the latest client snapshot.
//
// Writes are serialized; reads load a fully replaced value and never observe
// a partially applied snapshot.
type Store struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	current  atomic.Pointer[model.Client]
	// floor is the update timestamp of the last cleared snapshot. Guarded by mu.
	floor time.Time

	listenersMu sync.RWMutex
	listeners   map[uint64]Listener
	nextID      uint64
}

func New() *Store {
	return &Store{listeners: make(map[uint64]Listener)}
}

// Current returns a copy of the held snapshot, or nil.
func (s *Store) Current() *model.Client {
	return s.current.Load().Clone()
}

// UpdatedAt returns the held snapshot's update timestamp in unix nanoseconds,
// or 0 when empty.
func (s *Store) UpdatedAt() int64 {
	c := s.current.Load()
	if c == nil {
		return 0
	}
	return c.UpdatedAt.UnixNano()
}

// ActiveSession returns a copy of the active session, or nil.
func (s *Store) ActiveSession() *model.Session {
	return s.current.Load().ActiveSession().Clone()
}

// SignIn returns a copy of the held sign-in attempt, or nil.
func (s *Store) SignIn() *model.SignIn {
	c := s.current.Load()
	if c == nil {
		return nil
	}
	return c.SignIn.Clone()
}

// SignUp returns a copy of the held sign-up attempt, or nil.
func (s *Store) SignUp() *model.SignUp {
	c := s.current.Load()
	if c == nil {
		return nil
	}
	return c.SignUp.Clone()
}

// Apply replaces the held snapshot with next. A snapshot older than the held
// one, or than the last cleared one when the store is empty, is dropped and
// Apply reports false. A nil next is ignored.
func (s *Store) Apply(next *model.Client) bool {
	if next == nil {
		return false
	}
	next = next.Clone()

	s.mu.Lock()
	prev := s.current.Load()
	bound := s.floor
	if prev != nil {
		bound = prev.UpdatedAt
	}
	if next.UpdatedAt.Before(bound) {
		s.mu.Unlock()
		return false
	}
	s.swapLocked(prev, next, false)
	return true
}

// Clear drops the held snapshot. Snapshots older than the dropped one are
// still refused afterwards.
func (s *Store) Clear() {
	s.mu.Lock()
	prev := s.current.Load()
	if prev != nil && prev.UpdatedAt.After(s.floor) {
		s.floor = prev.UpdatedAt
	}
	s.swapLocked(prev, nil, true)
}

// ReplaceSignIn swaps in a copy of the held snapshot whose sign-in attempt is
// si. It is used when an endpoint returned an attempt without a snapshot.
func (s *Store) ReplaceSignIn(si *model.SignIn) {
	s.mutate(func(c *model.Client) { c.SignIn = si.Clone() })
}

// ReplaceSignUp is the sign-up counterpart of ReplaceSignIn.
func (s *Store) ReplaceSignUp(su *model.SignUp) {
	s.mutate(func(c *model.Client) { c.SignUp = su.Clone() })
}

// RemoveSession drops sessionID from the held snapshot and clears the active
// session when it pointed at sessionID. It reports whether anything changed.
func (s *Store) RemoveSession(sessionID string) bool {
	removed := false
	s.mutate(func(c *model.Client) {
		kept := c.Sessions[:0]
		for _, sess := range c.Sessions {
			if sess.ID == sessionID {
				removed = true
				continue
			}
			kept = append(kept, sess)
		}
		c.Sessions = kept
		if c.LastActiveSessionID == sessionID {
			c.LastActiveSessionID = ""
			removed = true
		}
	})
	return removed
}

// Subscribe registers fn for change notifications and returns a function that
// removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

func (s *Store) mutate(fn func(*model.Client)) {
	s.mu.Lock()
	prev := s.current.Load()
	next := prev.Clone()
	if next == nil {
		next = &model.Client{}
	}
	fn(next)
	s.swapLocked(prev, next, false)
}

// swapLocked must be called with s.mu held and releases it.
func (s *Store) swapLocked(prev, next *model.Client, cleared bool) {
	s.current.Store(next)

	change := Change{
		Prev:    prev.Clone(),
		Next:    next.Clone(),
		Cleared: cleared,
	}
	prevSession, nextSession := prev.ActiveSession(), next.ActiveSession()
	change.SessionChanged = prev.ActiveSessionID() != next.ActiveSessionID()
	if !change.SessionChanged && prevSession != nil && nextSession != nil {
		change.SessionUpdated = !prevSession.UpdatedAt.Equal(nextSession.UpdatedAt)
	}

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	s.listenersMu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(change)
	}
}
