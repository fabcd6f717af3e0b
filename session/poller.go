package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// PollerConfig configures a Poller.
type PollerConfig struct {
	Interval time.Duration
	// Tick refreshes sessionID. It receives a context canceled by Stop.
	Tick func(ctx context.Context, sessionID string) error
	// IsTerminal reports whether a tick failure ends polling.
	IsTerminal func(error) bool
	// OnTerminal runs on the polling goroutine after a terminal failure.
	// It may call Stop or Start.
	OnTerminal func(sessionID string, err error)
	// OnTransient runs after a failure that keeps polling alive.
	OnTransient func(sessionID string, err error)
}

// Poller runs Tick for one session at a fixed interval. It is started and
// stopped as the active session or app lifecycle changes.
type Poller struct {
	config PollerConfig

	mu        sync.Mutex
	cancel    context.CancelFunc
	sessionID string
	runID     uint64
	closed    bool
	wg        sync.WaitGroup

	ticks atomic.Uint64
}

func NewPoller(cfg PollerConfig) *Poller {
	if cfg.IsTerminal == nil {
		cfg.IsTerminal = func(error) bool { return false }
	}
	return &Poller{config: cfg}
}

// Start begins polling sessionID. Polling an already-running session is a
// no-op; a different session replaces the running loop; an empty id stops.
func (p *Poller) Start(sessionID string) {
	if sessionID == "" {
		p.Stop()
		return
	}
	if p.config.Tick == nil || p.config.Interval <= 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.cancel != nil && p.sessionID == sessionID {
		return
	}
	p.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	p.runID++
	p.cancel = cancel
	p.sessionID = sessionID

	p.wg.Add(1)
	go p.run(ctx, sessionID, p.runID)
}

// Stop cancels the running loop without waiting for it. An in-flight tick
// observes cancellation through its context.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Close stops polling and waits for the loop to exit. The Poller cannot be
// restarted afterwards.
func (p *Poller) Close() {
	p.mu.Lock()
	p.closed = true
	p.stopLocked()
	p.mu.Unlock()
	p.wg.Wait()
}

// Running returns the polled session id and whether a loop is active.
func (p *Poller) Running() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID, p.cancel != nil
}

// Ticks returns the number of completed ticks across all runs.
func (p *Poller) Ticks() uint64 {
	return p.ticks.Load()
}

func (p *Poller) stopLocked() {
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = nil
	p.sessionID = ""
}

func (p *Poller) run(ctx context.Context, sessionID string, runID uint64) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		if !p.tick(ctx, sessionID, runID) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// tick reports whether the loop should continue.
func (p *Poller) tick(ctx context.Context, sessionID string, runID uint64) bool {
	err := p.config.Tick(ctx, sessionID)
	if ctx.Err() != nil {
		return false
	}
	p.ticks.Add(1)
	if err == nil {
		return true
	}
	if p.config.IsTerminal(err) {
		p.mu.Lock()
		if p.runID == runID {
			p.stopLocked()
		}
		p.mu.Unlock()
		if p.config.OnTerminal != nil {
			p.config.OnTerminal(sessionID, err)
		}
		return false
	}
	if p.config.OnTransient != nil {
		p.config.OnTransient(sessionID, err)
	}
	return true
}
