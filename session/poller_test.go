package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errRevoked = errors.New("revoked")

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPollerTicksUntilStopped(t *testing.T) {
	var ticks atomic.Int64
	p := NewPoller(PollerConfig{
		Interval: 5 * time.Millisecond,
		Tick: func(context.Context, string) error {
			ticks.Add(1)
			return nil
		},
	})
	defer p.Close()

	p.Start("sess_1")
	waitFor(t, func() bool { return ticks.Load() >= 3 })

	p.Stop()
	if _, running := p.Running(); running {
		t.Fatal("expected poller to be stopped")
	}
	time.Sleep(15 * time.Millisecond)
	stopped := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	if ticks.Load() != stopped {
		t.Fatal("poller kept ticking after Stop")
	}
}

func TestPollerTransientFailureKeepsPolling(t *testing.T) {
	var ticks, transient atomic.Int64
	p := NewPoller(PollerConfig{
		Interval: 5 * time.Millisecond,
		Tick: func(context.Context, string) error {
			ticks.Add(1)
			return errors.New("503")
		},
		IsTerminal:  func(err error) bool { return errors.Is(err, errRevoked) },
		OnTransient: func(string, error) { transient.Add(1) },
	})
	defer p.Close()

	p.Start("sess_1")
	waitFor(t, func() bool { return transient.Load() >= 3 })
	if _, running := p.Running(); !running {
		t.Fatal("transient failures must not stop polling")
	}
}

func TestPollerTerminalFailureStops(t *testing.T) {
	var mu sync.Mutex
	var terminated []string
	p := NewPoller(PollerConfig{
		Interval:   5 * time.Millisecond,
		Tick:       func(context.Context, string) error { return errRevoked },
		IsTerminal: func(err error) bool { return errors.Is(err, errRevoked) },
		OnTerminal: func(sessionID string, err error) {
			mu.Lock()
			terminated = append(terminated, sessionID)
			mu.Unlock()
		},
	})
	defer p.Close()

	p.Start("sess_1")
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(terminated) == 1
	})
	waitFor(t, func() bool {
		_, running := p.Running()
		return !running
	})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(terminated) != 1 || terminated[0] != "sess_1" {
		t.Fatalf("unexpected terminal callbacks %v", terminated)
	}
}

func TestPollerStartSwitchesSession(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	p := NewPoller(PollerConfig{
		Interval: 5 * time.Millisecond,
		Tick: func(_ context.Context, sessionID string) error {
			mu.Lock()
			seen[sessionID]++
			mu.Unlock()
			return nil
		},
	})
	defer p.Close()

	p.Start("sess_1")
	p.Start("sess_1")
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["sess_1"] >= 1
	})
	p.Start("sess_2")
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["sess_2"] >= 1
	})
	if id, running := p.Running(); !running || id != "sess_2" {
		t.Fatalf("Running() = %q, %v", id, running)
	}
	p.Start("")
	if _, running := p.Running(); running {
		t.Fatal("empty session id should stop polling")
	}
}

func TestPollerCloseDoesNotWaitOnBlockedTick(t *testing.T) {
	entered := make(chan struct{})
	p := NewPoller(PollerConfig{
		Interval: time.Hour,
		Tick: func(ctx context.Context, _ string) error {
			close(entered)
			<-ctx.Done()
			return ctx.Err()
		},
	})

	p.Start("sess_1")
	<-entered

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on an in-flight tick")
	}

	p.Start("sess_2")
	if _, running := p.Running(); running {
		t.Fatal("closed poller must not restart")
	}
}
