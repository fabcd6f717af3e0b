package limiters

import (
	"sync"
	"time"
)

const defaultPrepareCooldown = 30 * time.Second

// CooldownKey identifies one code delivery: the attempt, the strategy and
// the email address or phone number id the code was sent to.
type CooldownKey struct {
	AttemptID string
	Strategy  string
	Target    string
}

// Cooldown remembers recent prepare calls so a code is not re-sent inside
// its window.
type Cooldown struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[CooldownKey]time.Time
}

// NewCooldown creates a guard. A zero window falls back to 30s; a negative
// window disables the guard.
func NewCooldown(window time.Duration, now func() time.Time) *Cooldown {
	if window == 0 {
		window = defaultPrepareCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Cooldown{window: window, now: now, entries: make(map[CooldownKey]time.Time)}
}

// Active reports whether key was marked less than one window ago.
func (c *Cooldown) Active(key CooldownKey) bool {
	if c == nil || c.window < 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.entries[key]
	return ok && c.now().Sub(at) < c.window
}

// Mark records a delivery for key at the current time.
func (c *Cooldown) Mark(key CooldownKey) {
	if c == nil || c.window < 0 {
		return
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, at := range c.entries {
		if now.Sub(at) >= c.window {
			delete(c.entries, k)
		}
	}
	c.entries[key] = now
}

// Forget drops key so the next prepare goes to the network.
func (c *Cooldown) Forget(key CooldownKey) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Reset drops every key belonging to attemptID, or all keys when it is
// empty.
func (c *Cooldown) Reset(attemptID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if attemptID == "" || k.AttemptID == attemptID {
			delete(c.entries, k)
		}
	}
}
