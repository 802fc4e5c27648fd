package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bobbiedigital/bobbiedigital-web/internal/xerrors"
)

// DefaultRedisPrefix namespaces rate-limit keys in a shared Redis.
const DefaultRedisPrefix = "bdweb:rl:"

// incrScript opens a new window when none exists or the current one has
// passed, then counts the request. The key expires with its window, which
// is why RedisStore.Sweep has nothing to do.
var incrScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local raw = redis.call('HGET', key, 'reset_ms')
local reset = raw and tonumber(raw)
if (not reset) or now > reset then
  reset = now + window
  redis.call('HSET', key, 'count', 0, 'reset_ms', reset)
  redis.call('PEXPIRE', key, window)
end
local count = redis.call('HINCRBY', key, 'count', 1)
return {count, reset}
`)

// RedisStore shares records between instances through Redis hashes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	vals, err := s.client.HMGet(ctx, s.prefix+key, "count", "reset_ms").Result()
	if err != nil {
		return Record{}, false, xerrors.Wrap(err, "redis hmget")
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return Record{}, false, nil
	}
	count, err1 := strconv.ParseInt(toString(vals[0]), 10, 64)
	reset, err2 := strconv.ParseInt(toString(vals[1]), 10, 64)
	if err1 != nil || err2 != nil {
		return Record{}, false, xerrors.Newf("malformed rate limit record %q", s.prefix+key)
	}
	return Record{Count: count, ResetAt: time.UnixMilli(reset)}, true, nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (Record, error) {
	res, err := incrScript.Run(ctx, s.client, []string{s.prefix + key}, now.UnixMilli(), window.Milliseconds()).Result()
	if err != nil {
		return Record{}, xerrors.Wrap(err, "redis increment")
	}
	items, ok := res.([]interface{})
	if !ok || len(items) != 2 {
		return Record{}, xerrors.Newf("unexpected increment reply %v", res)
	}
	count, ok1 := items[0].(int64)
	reset, ok2 := items[1].(int64)
	if !ok1 || !ok2 {
		return Record{}, xerrors.Newf("unexpected increment reply %v", res)
	}
	return Record{Count: count, ResetAt: time.UnixMilli(reset)}, nil
}

// Sweep is a no-op; keys expire with their window.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) { return 0, nil }

// Ping checks connectivity, for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
