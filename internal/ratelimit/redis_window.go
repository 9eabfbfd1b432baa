package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// countScript prunes the window then reports hour count, minute count and
// the oldest surviving timestamp in one round trip. Scores are unix
// milliseconds: exact under Redis' float64 score representation.
var countScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local hour = redis.call('ZCARD', KEYS[1])
local minute = redis.call('ZCOUNT', KEYS[1], ARGV[2], '+inf')
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local score = '0'
if oldest[2] then score = oldest[2] end
return {hour, minute, score}
`)

// RedisWindow keeps sliding windows in Redis sorted sets, sharing state
// across replicas.
type RedisWindow struct {
	client *redis.Client
	prefix string
}

// NewRedisWindow constructs a store over the given client.
func NewRedisWindow(client *redis.Client) *RedisWindow {
	return &RedisWindow{client: client, prefix: "rl:window:"}
}

func (r *RedisWindow) key(k string) string { return r.prefix + k }

// Count runs the prune-and-tally script.
func (r *RedisWindow) Count(ctx context.Context, key string, now time.Time) (Tally, error) {
	cutoff := now.Add(-windowSpan).UnixMilli()
	burstCutoff := now.Add(-burstSpan).UnixMilli()
	res, err := countScript.Run(ctx, r.client, []string{r.key(key)},
		strconv.FormatInt(cutoff, 10), strconv.FormatInt(burstCutoff, 10)).Slice()
	if err != nil {
		return Tally{}, fmt.Errorf("op=ratelimit.redis.Count: %w", err)
	}
	if len(res) != 3 {
		return Tally{}, fmt.Errorf("op=ratelimit.redis.Count: unexpected reply length %d", len(res))
	}
	t := Tally{
		HourCount:   int(toInt64(res[0])),
		MinuteCount: int(toInt64(res[1])),
	}
	if oldest := toInt64(res[2]); oldest > 0 {
		t.Oldest = time.UnixMilli(oldest).UTC()
	}
	return t, nil
}

// Record appends a timestamp and refreshes the key TTL. Members carry the
// full nanosecond timestamp so rapid requests stay distinct.
func (r *RedisWindow) Record(ctx context.Context, key string, now time.Time) error {
	member := strconv.FormatInt(now.UnixNano(), 10)
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, r.key(key), redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.Expire(ctx, r.key(key), windowSpan+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=ratelimit.redis.Record: %w", err)
	}
	return nil
}

// Sweep is a no-op: Redis expires idle keys through their TTL.
func (r *RedisWindow) Sweep(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case string:
		if n, err := strconv.ParseInt(x, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return int64(f)
		}
		return 0
	default:
		return 0
	}
}
