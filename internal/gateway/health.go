package gateway

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/heraerp/heraerp-prd-sub016/internal/metrics"
)

type componentHealth struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// handleHealth reports per-component health. The rate limiter and
// idempotency handler share the cache's health since both ride on it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	cacheHealth := probe(ctx, s.deps.Cache.Ping)
	backendHealth := probe(ctx, s.deps.Invoker.Ping)
	metrics.SetCacheUp(cacheHealth.Status == "healthy")

	status := "healthy"
	httpStatus := http.StatusOK
	if backendHealth.Status != "healthy" {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else if cacheHealth.Status != "healthy" {
		// Cache-backed components fail open, so the gateway keeps serving.
		status = "degraded"
	}

	writeJSON(w, httpStatus, map[string]interface{}{
		"status":    status,
		"service":   "hera-gateway",
		"uptime_s":  int64(time.Since(s.started).Seconds()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"components": map[string]componentHealth{
			"gateway":     {Status: "healthy"},
			"cache":       cacheHealth,
			"ratelimit":   cacheHealth,
			"idempotency": cacheHealth,
			"backend":     backendHealth,
		},
		"process": processStats(),
	})
}

func probe(ctx context.Context, ping func(context.Context) error) componentHealth {
	start := time.Now()
	if err := ping(ctx); err != nil {
		return componentHealth{Status: "unhealthy", LatencyMs: time.Since(start).Milliseconds(), Error: err.Error()}
	}
	return componentHealth{Status: "healthy", LatencyMs: time.Since(start).Milliseconds()}
}

func processStats() map[string]interface{} {
	stats := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return stats
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats["rss_bytes"] = mem.RSS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats["cpu_percent"] = cpu
	}
	return stats
}
