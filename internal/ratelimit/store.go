package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heraerp/heraerp-prd-sub016/internal/cache"
)

// slideScript prunes, counts and conditionally admits in one server-side
// round trip. A two-step check-then-write would let two concurrent requests
// both take the last slot.
//
// KEYS[1] window key; ARGV[1] now (ms); ARGV[2] window (ms); ARGV[3] limit;
// ARGV[4] unique member for this request.
// Returns {admitted, count, oldest_ms}.
const slideScript = `
local cutoff = tonumber(ARGV[1]) - tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, cutoff)
local count = redis.call('ZCARD', KEYS[1])
if count < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return {1, count + 1, 0}
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local oldestScore = 0
if oldest[2] then
  oldestScore = tonumber(oldest[2])
end
return {0, count, oldestScore}
`

// ScriptStore runs the sliding-window update as an atomic script against the
// shared cache.
type ScriptStore struct {
	cache cache.Client
}

// NewScriptStore creates a Store over the shared cache client.
func NewScriptStore(client cache.Client) *ScriptStore {
	return &ScriptStore{cache: client}
}

func (s *ScriptStore) Slide(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (SlideResult, error) {
	member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.New().String())
	raw, err := s.cache.Eval(ctx, slideScript, []string{key},
		now.UnixMilli(), window.Milliseconds(), limit, member)
	if err != nil {
		return SlideResult{}, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return SlideResult{}, fmt.Errorf("unexpected script reply %T", raw)
	}
	admitted, err := toInt64(values[0])
	if err != nil {
		return SlideResult{}, err
	}
	count, err := toInt64(values[1])
	if err != nil {
		return SlideResult{}, err
	}
	oldest, err := toInt64(values[2])
	if err != nil {
		return SlideResult{}, err
	}

	return SlideResult{Allowed: admitted == 1, Count: int(count), OldestMs: oldest}, nil
}

func toInt64(v interface{}) (int64, error) {
	switch value := v.(type) {
	case int64:
		return value, nil
	case int:
		return int64(value), nil
	default:
		return 0, fmt.Errorf("unexpected script reply element %T", v)
	}
}

// MemoryStore keeps windows in process memory. Atomicity holds only within
// one instance; it serves single-node deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]int64
}

// NewMemoryStore creates an empty in-process Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]int64)}
}

func (s *MemoryStore) Slide(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (SlideResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.UnixMilli() - window.Milliseconds()
	entries := s.windows[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}

	if len(kept) < limit {
		kept = append(kept, now.UnixMilli())
		s.windows[key] = kept
		return SlideResult{Allowed: true, Count: len(kept)}, nil
	}

	s.windows[key] = kept
	oldest := int64(0)
	if len(kept) > 0 {
		oldest = kept[0]
	}
	return SlideResult{Allowed: false, Count: len(kept), OldestMs: oldest}, nil
}
