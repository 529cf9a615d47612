// Package ratelimit implements sliding-window request limiting keyed by
// (organization, actor, endpoint), backed by the shared store's atomic
// scripting. The subsystem fails open when the store is unavailable.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/heraerp/heraerp-prd-sub016/internal/logging"
	"github.com/heraerp/heraerp-prd-sub016/internal/metrics"
)

// Rule bounds one key to MaxRequests per Window.
type Rule struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// Result is one admission decision plus the header values it implies.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// SetHeaders writes the rate-limit response headers. They are emitted for
// every response regardless of admission outcome; Retry-After only on
// rejection.
func (r Result) SetHeaders(w http.ResponseWriter) {
	used := r.Limit - r.Remaining
	if used < 0 {
		used = r.Limit
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(r.Reset.Unix(), 10))
	w.Header().Set("X-RateLimit-Used", strconv.Itoa(used))
	if !r.Allowed {
		seconds := int(r.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
}

// SlideResult is one atomic window update outcome.
type SlideResult struct {
	Allowed  bool
	Count    int   // entries in the window after the update
	OldestMs int64 // unix millis of the oldest surviving entry; 0 when admitted
}

// Store updates one sliding window atomically: prune entries older than the
// window, count the rest, admit and record now if below limit.
type Store interface {
	Slide(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (SlideResult, error)
}

// Limiter applies rules and role multipliers on top of a Store.
type Limiter struct {
	store  Store
	logger *logging.Logger

	mu    sync.RWMutex
	rules Rules
}

// NewLimiter creates a limiter over store with the given rules.
func NewLimiter(store Store, rules Rules, logger *logging.Logger) *Limiter {
	rules.normalize()
	return &Limiter{store: store, rules: rules, logger: logger}
}

// SetRules swaps the rule set, for hot reload.
func (l *Limiter) SetRules(rules Rules) {
	rules.normalize()
	l.mu.Lock()
	l.rules = rules
	l.mu.Unlock()
}

// Check runs one admission decision for (orgID, actorID, endpoint). On store
// failure the limiter fails open: the request is admitted and a warning is
// logged.
func (l *Limiter) Check(ctx context.Context, actorID, orgID, endpoint, role string) Result {
	l.mu.RLock()
	rule := l.rules.ruleFor(endpoint)
	multiplier := l.rules.multiplierFor(role)
	l.mu.RUnlock()

	limit := int(float64(rule.MaxRequests) * multiplier)
	if limit < 1 {
		limit = 1
	}

	now := time.Now()
	key := fmt.Sprintf("hera:ratelimit:%s:%s:%s", orgID, actorID, endpoint)

	slide, err := l.store.Slide(ctx, key, limit, rule.Window, now)
	if err != nil {
		metrics.RecordRateLimitStoreError()
		if l.logger != nil {
			l.logger.WithContext(ctx).WithError(err).Warn("rate limit store unavailable, failing open")
		}
		return Result{Allowed: true, Limit: limit, Remaining: limit, Reset: now.Add(rule.Window)}
	}

	if slide.Allowed {
		remaining := limit - slide.Count
		if remaining < 0 {
			remaining = 0
		}
		return Result{Allowed: true, Limit: limit, Remaining: remaining, Reset: now.Add(rule.Window)}
	}

	metrics.RecordRateLimitRejection(endpoint)
	retryAfter := time.Duration(0)
	reset := now.Add(rule.Window)
	if slide.OldestMs > 0 {
		oldest := time.UnixMilli(slide.OldestMs)
		reset = oldest.Add(rule.Window)
		retryAfter = time.Until(reset)
		if retryAfter < 0 {
			retryAfter = 0
		}
	}
	if l.logger != nil {
		l.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"endpoint": endpoint,
			"limit":    limit,
		}).Warn("rate limit exceeded")
	}
	return Result{Allowed: false, Limit: limit, Remaining: 0, Reset: reset, RetryAfter: retryAfter}
}
