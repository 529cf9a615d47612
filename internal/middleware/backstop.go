package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/heraerp/heraerp-prd-sub016/internal/logging"
)

// Backstop applies a coarse in-process limiter to the unauthenticated
// endpoints, keyed by remote address. The keyed sliding-window limiter does
// not cover them because they carry no actor or organization.
type Backstop struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	logger   *logging.Logger
}

// NewBackstop creates a backstop allowing requestsPerSecond with the given burst.
func NewBackstop(requestsPerSecond, burst int, logger *logging.Logger) *Backstop {
	return &Backstop{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		logger:   logger,
	}
}

func (b *Backstop) getLimiter(key string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	limiter, exists := b.limiters[key]
	if !exists {
		if len(b.limiters) > 10000 {
			b.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(b.rate, b.burst)
		b.limiters[key] = limiter
	}
	return limiter
}

// Handler returns the backstop middleware handler.
func (b *Backstop) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.getLimiter(r.RemoteAddr).Allow() {
			b.logger.LogSecurityEvent(r.Context(), "public_endpoint_backstop", map[string]interface{}{
				"remote_addr": r.RemoteAddr,
				"path":        r.URL.Path,
			})
			w.Header().Set("Retry-After", "1")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartCleanup periodically resets the limiter map to bound its size.
func (b *Backstop) StartCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			b.mu.Lock()
			if len(b.limiters) > 10000 {
				b.limiters = make(map[string]*rate.Limiter)
			}
			b.mu.Unlock()
		}
	}()
}
