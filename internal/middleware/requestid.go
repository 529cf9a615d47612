// Package middleware provides HTTP middleware for the gateway.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/heraerp/heraerp-prd-sub016/internal/logging"
	"github.com/heraerp/heraerp-prd-sub016/internal/metrics"
)

// RequestIDMiddleware binds a request id to every request: an inbound
// X-Request-ID is honored, otherwise one is generated. The id is echoed back
// and attached to the logging context, and the completed request is logged
// and measured.
type RequestIDMiddleware struct {
	logger *logging.Logger
}

// NewRequestIDMiddleware creates a new request-id middleware.
func NewRequestIDMiddleware(logger *logging.Logger) *RequestIDMiddleware {
	return &RequestIDMiddleware{logger: logger}
}

// Handler returns the middleware handler.
func (m *RequestIDMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = logging.NewRequestID()
		}

		ctx := logging.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		metrics.IncrementInFlight()
		defer metrics.DecrementInFlight()

		next.ServeHTTP(rw, r.WithContext(ctx))

		duration := time.Since(start)
		m.logger.LogRequest(ctx, r.Method, r.URL.Path, rw.statusCode, duration)
		metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode), duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}
