package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// saveIfNewerLua writes a versioned record unless a newer one is stored.
// KEYS[1] = record key
// ARGV[1] = version, zero-padded to 20 digits so string order is numeric order
// ARGV[2] = value
// ARGV[3] = ttl in milliseconds, 0 for none
//
// Returns 1 on write, or error string "stale".
var saveIfNewerLua = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'v')
if current and current > ARGV[1] then
  return {err='stale'}
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'd', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
else
  redis.call('PERSIST', KEYS[1])
end
return 1
`)

// Redis is a SecureStorage backed by Redis hashes.
type Redis struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis returns a store namespaced under prefix. A positive ttl expires
// records that are not rewritten in time.
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "gid"
	}
	return &Redis{redis: client, prefix: prefix, ttl: ttl}
}

func (s *Redis) key(key string) string {
	return s.prefix + ":" + key
}

func (s *Redis) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.redis.HGet(ctx, s.key(key), "d").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, nil
}

func (s *Redis) Save(ctx context.Context, key string, version int64, value []byte) error {
	if version < 0 {
		version = 0
	}
	err := saveIfNewerLua.Run(ctx, s.redis,
		[]string{s.key(key)},
		fmt.Sprintf("%020d", version),
		value,
		s.ttl.Milliseconds(),
	).Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "stale") {
		return ErrStale
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
