package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sequenceFetcher struct {
	calls  atomic.Int64
	tokens []string
}

func (f *sequenceFetcher) Fetch(context.Context, Key) (string, error) {
	n := f.calls.Add(1)
	return f.tokens[int(n-1)%len(f.tokens)], nil
}

func TestTokenCacheTTLScenario(t *testing.T) {
	clock := newFakeClock()
	fetcher := &sequenceFetcher{tokens: []string{"A", "B"}}
	cache := NewTokenCache(CacheConfig{TTL: 60 * time.Second, Now: clock.Now}, fetcher.Fetch)
	key := Key{SessionID: "sess_1"}

	got, err := cache.Get(context.Background(), key)
	if err != nil || got != "A" {
		t.Fatalf("t=0: Get() = %q, %v", got, err)
	}

	clock.Advance(30 * time.Second)
	got, err = cache.Get(context.Background(), key)
	if err != nil || got != "A" {
		t.Fatalf("t=30s: Get() = %q, %v", got, err)
	}
	if n := fetcher.calls.Load(); n != 1 {
		t.Fatalf("expected 1 fetch within TTL, got %d", n)
	}

	clock.Advance(31 * time.Second)
	got, err = cache.Get(context.Background(), key)
	if err != nil || got != "B" {
		t.Fatalf("t=61s: Get() = %q, %v", got, err)
	}
	if n := fetcher.calls.Load(); n != 2 {
		t.Fatalf("expected 2 fetches after TTL, got %d", n)
	}
}

func TestTokenCacheKeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	fetcher := &sequenceFetcher{tokens: []string{"A", "B", "C"}}
	cache := NewTokenCache(CacheConfig{TTL: time.Minute, Now: clock.Now}, fetcher.Fetch)

	a, _ := cache.Get(context.Background(), Key{SessionID: "sess_1"})
	b, _ := cache.Get(context.Background(), Key{SessionID: "sess_1", Template: "supabase"})
	c, _ := cache.Get(context.Background(), Key{SessionID: "sess_1", OrganizationID: "org_1"})
	if a == b || b == c || a == c {
		t.Fatalf("expected distinct tokens per key, got %q %q %q", a, b, c)
	}
	if cache.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", cache.Len())
	}
}

func TestTokenCacheAtMostOneInflightPerKey(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	cache := NewTokenCache(CacheConfig{TTL: time.Minute}, func(ctx context.Context, key Key) (string, error) {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return "shared", nil
	})

	const n = 32
	var wg sync.WaitGroup
	results := make(chan string, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			token, err := cache.Get(context.Background(), Key{SessionID: "sess_1"})
			if err != nil {
				t.Errorf("Get() error: %v", err)
				return
			}
			results <- token
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly one underlying fetch, got %d", got)
	}
	for token := range results {
		if token != "shared" {
			t.Fatalf("unexpected token %q", token)
		}
	}
}

func TestTokenCacheFailureIsNotCached(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int64
	cache := NewTokenCache(CacheConfig{TTL: time.Minute}, func(context.Context, Key) (string, error) {
		if calls.Add(1) == 1 {
			return "", boom
		}
		return "ok", nil
	})
	key := Key{SessionID: "sess_1"}

	if _, err := cache.Get(context.Background(), key); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got, err := cache.Get(context.Background(), key); err != nil || got != "ok" {
		t.Fatalf("Get() after failure = %q, %v", got, err)
	}
}

func TestTokenCacheInvalidateDropsInflightResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int64
	cache := NewTokenCache(CacheConfig{TTL: time.Minute}, func(context.Context, Key) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return "stale", nil
		}
		return "fresh", nil
	})
	key := Key{SessionID: "sess_1"}

	done := make(chan string)
	go func() {
		token, _ := cache.Get(context.Background(), key)
		done <- token
	}()
	<-started
	cache.Invalidate()
	close(release)

	if got := <-done; got != "stale" {
		t.Fatalf("in-flight caller got %q, want stale", got)
	}
	if got, _ := cache.Get(context.Background(), key); got != "fresh" {
		t.Fatalf("expected refetch after invalidation, got %q", got)
	}
}

func TestTokenCacheRefreshBypassesFreshEntry(t *testing.T) {
	fetcher := &sequenceFetcher{tokens: []string{"A", "B"}}
	cache := NewTokenCache(CacheConfig{TTL: time.Minute}, fetcher.Fetch)
	key := Key{SessionID: "sess_1"}

	if got, _ := cache.Get(context.Background(), key); got != "A" {
		t.Fatalf("Get() = %q", got)
	}
	if got, _ := cache.Refresh(context.Background(), key); got != "B" {
		t.Fatalf("Refresh() = %q", got)
	}
	if got, _ := cache.Get(context.Background(), key); got != "B" {
		t.Fatalf("Get() after refresh = %q", got)
	}
}

func TestTokenCacheSeedOnlyWhenAbsent(t *testing.T) {
	fetcher := &sequenceFetcher{tokens: []string{"fetched"}}
	cache := NewTokenCache(CacheConfig{TTL: time.Minute}, fetcher.Fetch)
	key := Key{SessionID: "sess_1"}

	if !cache.Seed(key, "seeded") {
		t.Fatal("expected seed into empty cache")
	}
	if cache.Seed(key, "other") {
		t.Fatal("expected seed to keep the existing entry")
	}
	if got, _ := cache.Get(context.Background(), key); got != "seeded" {
		t.Fatalf("Get() = %q, want seeded", got)
	}
	if fetcher.calls.Load() != 0 {
		t.Fatal("expected no fetch for seeded key")
	}
}

func TestTokenCacheInvalidateSession(t *testing.T) {
	cache := NewTokenCache(CacheConfig{TTL: time.Minute}, (&sequenceFetcher{tokens: []string{"x"}}).Fetch)
	cache.Seed(Key{SessionID: "sess_1"}, "a")
	cache.Seed(Key{SessionID: "sess_1", Template: "t"}, "b")
	cache.Seed(Key{SessionID: "sess_2"}, "c")

	cache.InvalidateSession("sess_1")
	if cache.Len() != 1 {
		t.Fatalf("expected only sess_2 entry to remain, got %d", cache.Len())
	}
}

func TestTokenCacheCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	cache := NewTokenCache(CacheConfig{TTL: time.Minute}, func(context.Context, Key) (string, error) {
		<-release
		return "late", nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := cache.Get(ctx, Key{SessionID: "sess_1"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTokenCacheSharedFetchOutlivesStarterCancellation(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int64
	cache := NewTokenCache(CacheConfig{TTL: time.Minute}, func(ctx context.Context, key Key) (string, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return "shared", nil
	})
	key := Key{SessionID: "sess_1"}

	starterCtx, cancelStarter := context.WithCancel(context.Background())
	starterErr := make(chan error, 1)
	go func() {
		_, err := cache.Get(starterCtx, key)
		starterErr <- err
	}()
	<-entered

	type result struct {
		token string
		err   error
	}
	waiter := make(chan result, 1)
	go func() {
		token, err := cache.Refresh(context.Background(), key)
		waiter <- result{token, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelStarter()
	if err := <-starterErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("starter error = %v, want context.Canceled", err)
	}

	close(release)
	got := <-waiter
	if got.err != nil {
		t.Fatalf("waiter inherited the starter's cancellation: %v", got.err)
	}
	if got.token != "shared" {
		t.Fatalf("waiter token = %q", got.token)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected one fetch, got %d", n)
	}

	token, err := cache.Get(context.Background(), key)
	if err != nil || token != "shared" {
		t.Fatalf("completed fetch should be cached, got %q, %v", token, err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("cached read fetched again, calls = %d", n)
	}
}
