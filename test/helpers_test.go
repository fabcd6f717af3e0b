//go:build integration
// +build integration

package test

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/internal/mockapi"
	"github.com/MrEthical07/goIdentity/storage"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	integrationEmail    = "alice@example.com"
	integrationPassword = "correct horse"
	integrationPrefix   = "gid-it"
)

var sealKey = bytes.Repeat([]byte{0x42}, 32)

// redisMode describes which Redis backend the persistence suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the set of Redis backends to test.
// miniredis is always available.
// Real Redis standalone is used when REDIS_ADDR is set (e.g. "127.0.0.1:6379").
// Redis Cluster is used when REDIS_CLUSTER_ADDRS is a comma separated seed list.
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				pingOrSkip(t, rdb)
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	if addrs := os.Getenv("REDIS_CLUSTER_ADDRS"); addrs != "" {
		modes = append(modes, redisMode{
			name: "cluster",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClusterClient(&redis.ClusterOptions{Addrs: splitAddrs(addrs)})
				pingOrSkip(t, rdb)
				return rdb, func() {
					_ = rdb.Del(context.Background(), integrationPrefix+":"+goIdentity.DefaultConfig().Storage.Key).Err()
					_ = rdb.Close()
				}
			},
		})
	}

	return modes
}

func pingOrSkip(t *testing.T, rdb redis.UniversalClient) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("cannot connect to Redis: %v", err)
	}
}

func splitAddrs(s string) []string {
	var addrs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// sealedStore returns the encrypted Redis store the engines under test share.
func sealedStore(t *testing.T, rdb redis.UniversalClient) storage.SecureStorage {
	t.Helper()
	sealed, err := storage.NewSealed(storage.NewRedis(rdb, integrationPrefix, time.Hour), sealKey)
	if err != nil {
		t.Fatalf("sealed store: %v", err)
	}
	return sealed
}

func newIntegrationServer(t *testing.T) *mockapi.Server {
	t.Helper()
	server, err := mockapi.New(mockapi.Config{})
	if err != nil {
		t.Fatalf("mock server: %v", err)
	}
	server.AddAccount(mockapi.Account{Email: integrationEmail, Password: integrationPassword})
	return server
}

func newIntegrationEngine(t *testing.T, server *mockapi.Server, store storage.SecureStorage) *goIdentity.Engine {
	t.Helper()
	cfg := goIdentity.DefaultConfig()
	cfg.Polling.Enabled = false
	engine, err := goIdentity.New().
		WithConfig(cfg).
		WithTransport(server).
		WithCeremonies(server.Ceremonies()).
		WithStorage(store).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	return engine
}
