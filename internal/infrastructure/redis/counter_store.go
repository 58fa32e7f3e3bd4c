package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
)

const (
	fieldCount       = "count"
	fieldPeriodStart = "period_start"
)

// TTL is only applied on creation so later hits never extend a window.
var incrementScript = redis.NewScript(`
local current = redis.call("HINCRBY", KEYS[1], "count", ARGV[1])
if tonumber(ARGV[2]) > 0 and redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return current
`)

var incrementExistingScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return false
end
return redis.call("HINCRBY", KEYS[1], "count", ARGV[1])
`)

var putIfAbsentScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return redis.call("HMGET", KEYS[1], "count", "period_start")
end
redis.call("HSET", KEYS[1], "count", ARGV[1], "period_start", ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
return {ARGV[1], ARGV[2]}
`)

// CounterStore implements ports.CounterStore with one Redis hash per key
// (fields count and period_start). All mutations are single Lua scripts, so they are
// atomic across every process sharing the Redis instance.
type CounterStore struct {
	r redis.Cmdable
}

// NewCounterStore creates a Redis-backed counter store.
func NewCounterStore(r redis.Cmdable) *CounterStore {
	return &CounterStore{r: r}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %w", admission.ErrStoreUnavailable, op, err)
}

func (s *CounterStore) Get(ctx context.Context, key string) (quota.CounterRecord, bool, error) {
	pipe := s.r.Pipeline()
	fields := pipe.HGetAll(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return quota.CounterRecord{}, false, storeErr("get", err)
	}
	vals := fields.Val()
	if len(vals) == 0 {
		return quota.CounterRecord{}, false, nil
	}
	count, err := parseInt(vals[fieldCount])
	if err != nil {
		return quota.CounterRecord{}, false, storeErr("get", err)
	}
	start, err := parseInt(vals[fieldPeriodStart])
	if err != nil {
		return quota.CounterRecord{}, false, storeErr("get", err)
	}
	rec := quota.CounterRecord{Key: key, Count: count, PeriodStart: fromUnix(start)}
	if d := ttl.Val(); d > 0 {
		rec.ExpiresAt = time.Now().Add(d)
	}
	return rec, true, nil
}

func (s *CounterStore) Put(ctx context.Context, key string, rec quota.CounterRecord, ttl time.Duration) error {
	pipe := s.r.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fieldCount, rec.Count, fieldPeriodStart, toUnix(rec.PeriodStart))
	if ttl > 0 {
		pipe.PExpire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("put", err)
	}
	return nil
}

func (s *CounterStore) PutIfAbsent(ctx context.Context, key string, rec quota.CounterRecord, ttl time.Duration) (quota.CounterRecord, error) {
	res, err := putIfAbsentScript.Run(ctx, s.r, []string{key}, rec.Count, toUnix(rec.PeriodStart), ttl.Milliseconds()).Result()
	if err != nil {
		return quota.CounterRecord{}, storeErr("put_if_absent", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return quota.CounterRecord{}, storeErr("put_if_absent", fmt.Errorf("unexpected reply %T", res))
	}
	count, err := replyInt(vals[0])
	if err != nil {
		return quota.CounterRecord{}, storeErr("put_if_absent", err)
	}
	start, err := replyInt(vals[1])
	if err != nil {
		return quota.CounterRecord{}, storeErr("put_if_absent", err)
	}
	return quota.CounterRecord{Key: key, Count: count, PeriodStart: fromUnix(start)}, nil
}

func (s *CounterStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	res, err := incrementScript.Run(ctx, s.r, []string{key}, delta, ttl.Milliseconds()).Result()
	if err != nil {
		return 0, storeErr("increment", err)
	}
	n, err := replyInt(res)
	if err != nil {
		return 0, storeErr("increment", err)
	}
	return n, nil
}

func (s *CounterStore) IncrementExisting(ctx context.Context, key string, delta int64) (int64, bool, error) {
	res, err := incrementExistingScript.Run(ctx, s.r, []string{key}, delta).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeErr("increment_existing", err)
	}
	n, err := replyInt(res)
	if err != nil {
		return 0, false, storeErr("increment_existing", err)
	}
	return n, true, nil
}

func (s *CounterStore) Ping(ctx context.Context) error {
	if err := s.r.Ping(ctx).Err(); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func replyInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case string:
		return parseInt(n)
	default:
		return 0, fmt.Errorf("unexpected reply type %T", v)
	}
}
