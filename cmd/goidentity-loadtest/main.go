package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/internal/mockapi"
	"github.com/MrEthical07/goIdentity/storage"
	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const (
	loadEmail    = "load@example.com"
	loadPassword = "load-test-password"
)

func main() {
	var (
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase (token + sign-in)")
		templates   = flag.Int("templates", 8, "distinct token templates requested")
		latency     = flag.Duration("latency", 2*time.Millisecond, "simulated service latency")
		redisAddr   = flag.String("redis-addr", "", "redis address for snapshot storage; if empty, REDIS_ADDR env or miniredis is used")
		envFile     = flag.String("env-file", ".env", "dotenv file with GOIDENTITY_* overrides")
		verbose     = flag.Bool("v", false, "log engine warnings")
	)
	flag.Parse()

	if *concurrency <= 0 || *ops <= 0 || *templates <= 0 {
		fmt.Fprintln(os.Stderr, "concurrency, ops, and templates must be > 0")
		os.Exit(2)
	}

	if err := godotenv.Load(*envFile); err != nil {
		_ = godotenv.Load()
	}
	cfg, err := goIdentity.LoadConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	level := slog.LevelError
	if *verbose {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	sealKey := make([]byte, 32)
	if _, err := rand.Read(sealKey); err != nil {
		fmt.Fprintf(os.Stderr, "seal key: %v\n", err)
		os.Exit(1)
	}
	secure, err := storage.NewSealed(storage.NewRedis(client, "goidentity-load", time.Hour), sealKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage: %v\n", err)
		os.Exit(1)
	}

	server, err := mockapi.New(mockapi.Config{Latency: *latency})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mock service: %v\n", err)
		os.Exit(1)
	}
	server.AddAccount(mockapi.Account{Email: loadEmail, Password: loadPassword})

	engine, err := goIdentity.New().
		WithConfig(cfg).
		WithTransport(server).
		WithCeremonies(server.Ceremonies()).
		WithStorage(secure).
		WithLogger(logger).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx := context.Background()
	if _, err := signIn(ctx, engine); err != nil {
		fmt.Fprintf(os.Stderr, "initial sign-in: %v\n", err)
		os.Exit(1)
	}

	tokenStats := runTokenPhase(ctx, engine, *ops, *concurrency, *templates)
	signInStats := runSignInPhase(ctx, engine, *ops/100+1, *concurrency)

	fmt.Println("---- results ----")
	printStats("token", tokenStats)
	printStats("sign-in", signInStats)
	fmt.Printf("token fetches=%d requests=%d\n", server.TokenIssues(), server.Requests())

	snap := engine.MetricsSnapshot()
	fmt.Printf("cache hits=%d misses=%d snapshots applied=%d stale=%d persist coalesced=%d events dropped=%d\n",
		snap.Counters[goIdentity.MetricTokenCacheHit],
		snap.Counters[goIdentity.MetricTokenCacheMiss],
		snap.Counters[goIdentity.MetricSnapshotApplied],
		snap.Counters[goIdentity.MetricSnapshotStale],
		snap.Counters[goIdentity.MetricSnapshotPersistCoalesced],
		engine.EventsDropped(),
	)
}

func signIn(ctx context.Context, engine *goIdentity.Engine) (string, error) {
	si, err := engine.CreateSignIn(ctx, goIdentity.SignInCreateParams{
		Identifier: loadEmail,
		Password:   loadPassword,
	})
	if err != nil {
		return "", err
	}
	if !si.IsComplete() {
		return "", fmt.Errorf("sign-in ended in status %s", si.Status)
	}
	return si.CreatedSessionID, nil
}

func runTokenPhase(ctx context.Context, engine *goIdentity.Engine, ops, concurrency, templates int) phaseStats {
	names := make([]string, templates)
	for i := range names {
		names[i] = fmt.Sprintf("tpl-%d", i)
	}
	return runPhase(ops, concurrency, func(i int) error {
		_, err := engine.GetToken(ctx, goIdentity.GetTokenOptions{Template: names[i%len(names)]})
		return err
	})
}

func runSignInPhase(ctx context.Context, engine *goIdentity.Engine, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, func(int) error {
		_, err := signIn(ctx, engine)
		return err
	})
}

func runPhase(ops, concurrency int, op func(i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
